// Package tmpl implements the placeholder substitution used for campaign
// templates. It is intentionally not a template language, a template is plain
// text or html where every {{key}} is replaced by the value bound to key.
package tmpl

import (
	"strings"

	"github.com/modfin/henry/mapz"
)

// Render replaces every occurrence of {{key}} in template with vars[key].
// Placeholders without a bound value are left verbatim, rendering is repeatable
// on its own output as long as no value itself produces a placeholder.
func Render(template string, vars map[string]string) string {
	if len(template) == 0 {
		return ""
	}
	out := template
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{{"+key+"}}", value)
	}
	return out
}

// Merge lays overrides over defaults without mutating either. A nil overrides
// map yields a copy of defaults.
func Merge(defaults, overrides map[string]string) map[string]string {
	if defaults == nil && overrides == nil {
		return nil
	}
	merged := mapz.Clone(defaults)
	if merged == nil {
		merged = make(map[string]string, len(overrides))
	}
	for key, value := range overrides {
		merged[key] = value
	}
	return merged
}
