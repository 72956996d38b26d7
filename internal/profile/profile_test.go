package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProfiles = `
profiles:
  - sender: news@example.com
    host: smtp.example.com
    port: 465
    username: news@example.com
    password: hunter2
    tracking_base_url: https://t.example.com
  - sender: support@example.com
    host: relay.example.com
    reply_to: helpdesk@example.com
`

func TestParse(t *testing.T) {
	reg, err := Parse([]byte(testProfiles))
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())

	p, err := reg.Get("news@example.com")
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:465", p.Addr())
	assert.Equal(t, "hunter2", p.Auth().Password)
	assert.Equal(t, "https://t.example.com", p.TrackingBaseURL)

	p, err = reg.Get("support@example.com")
	require.NoError(t, err)
	assert.Equal(t, "relay.example.com:465", p.Addr(), "port defaults to 465")
	assert.True(t, p.Auth().Empty())
	assert.Equal(t, "helpdesk@example.com", p.ReplyTo)
}

func TestParseUnknownSender(t *testing.T) {
	reg, err := Parse([]byte(testProfiles))
	require.NoError(t, err)

	_, err = reg.Get("nobody@example.com")
	assert.ErrorIs(t, err, ErrUnknownProfile)
}

func TestParseRejectsBadRegistries(t *testing.T) {
	type testCase struct {
		name string
		yaml string
	}
	for _, tc := range []testCase{
		{name: "missing sender", yaml: "profiles:\n  - host: smtp.example.com\n"},
		{name: "missing host", yaml: "profiles:\n  - sender: a@example.com\n"},
		{
			name: "duplicate sender",
			yaml: "profiles:\n  - sender: a@example.com\n    host: h1\n  - sender: a@example.com\n    host: h2\n",
		},
		{name: "not yaml", yaml: "{{{"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}
