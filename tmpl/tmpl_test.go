package tmpl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	type testCase struct {
		name     string
		template string
		vars     map[string]string
		want     string
	}

	for _, tc := range []testCase{
		{
			name:     "single placeholder",
			template: "Hello {{name}}!",
			vars:     map[string]string{"name": "Jane"},
			want:     "Hello Jane!",
		},
		{
			name:     "repeated placeholder",
			template: "{{name}} and {{name}} again",
			vars:     map[string]string{"name": "Jane"},
			want:     "Jane and Jane again",
		},
		{
			name:     "unknown placeholder stays verbatim",
			template: "Hello {{name}}, from {{company}}",
			vars:     map[string]string{"name": "Jane"},
			want:     "Hello Jane, from {{company}}",
		},
		{
			name:     "empty template",
			template: "",
			vars:     map[string]string{"name": "Jane"},
			want:     "",
		},
		{
			name:     "no placeholders",
			template: "static content",
			vars:     map[string]string{"name": "Jane"},
			want:     "static content",
		},
		{
			name:     "nil vars",
			template: "Hello {{name}}",
			vars:     nil,
			want:     "Hello {{name}}",
		},
		{
			name:     "empty value",
			template: "Hello {{name}}!",
			vars:     map[string]string{"name": ""},
			want:     "Hello !",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Render(tc.template, tc.vars))
		})
	}
}

func TestRenderIdempotent(t *testing.T) {
	vars := map[string]string{"name": "Jane", "company": "Acme"}
	templates := []string{
		"Hi {{name}} at {{company}}",
		"Hi {{name}} at {{missing}}",
		"no placeholders at all",
		"",
	}
	for _, template := range templates {
		once := Render(template, vars)
		assert.Equal(t, once, Render(once, vars), "template %q", template)
	}
}

func TestMerge(t *testing.T) {
	defaults := map[string]string{"name": "friend", "company": "Acme"}
	overrides := map[string]string{"name": "Jane"}

	merged := Merge(defaults, overrides)
	assert.Equal(t, map[string]string{"name": "Jane", "company": "Acme"}, merged)

	// inputs untouched
	assert.Equal(t, "friend", defaults["name"])

	assert.Nil(t, Merge(nil, nil))
	assert.Equal(t, map[string]string{"a": "1"}, Merge(nil, map[string]string{"a": "1"}))
	assert.Equal(t, map[string]string{"a": "1"}, Merge(map[string]string{"a": "1"}, nil))
}
