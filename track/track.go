// Package track rewrites outbound html so that opens and link clicks pass
// through the tracking endpoints. The rewrite is pattern based on purpose,
// campaign html is frequently malformed and a strict parser would reject
// mail that renders fine in clients.
package track

import (
	"net/url"
	"regexp"
	"strings"
)

var hrefRe = regexp.MustCompile(`(?i)<a\s[^>]*?href="([^"]*)"`)
var bodyCloseRe = regexp.MustCompile(`(?i)</body>`)

const linkPath = "/track-link"
const openPath = "/track-open"

// Inject routes every anchor in html through base/track-link and appends an
// invisible open beacon for base/track-open. Anchors that are mailto links,
// fragment references or already point at the tracking path are left alone.
// The beacon goes immediately before the closing body tag when there is one,
// otherwise at the end of the document.
func Inject(html, email, base string) string {
	base = strings.TrimRight(base, "/")
	escEmail := url.QueryEscape(email)

	out := hrefRe.ReplaceAllStringFunc(html, func(anchor string) string {
		m := hrefRe.FindStringSubmatch(anchor)
		href := m[1]
		if skipHref(href) {
			return anchor
		}
		tracked := base + linkPath + "?email=" + escEmail + "&url=" + url.QueryEscape(href)
		return strings.Replace(anchor, `href="`+href+`"`, `href="`+tracked+`"`, 1)
	})

	beacon := `<img src="` + base + openPath + `?email=` + escEmail +
		`" width="1" height="1" style="position:absolute;left:-9999px;" alt="" />`

	if loc := bodyCloseRe.FindStringIndex(out); loc != nil {
		return out[:loc[0]] + beacon + out[loc[0]:]
	}
	return out + beacon
}

func skipHref(href string) bool {
	return strings.HasPrefix(href, "#") ||
		strings.HasPrefix(strings.ToLower(href), "mailto:") ||
		strings.Contains(href, linkPath)
}
