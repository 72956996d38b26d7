// Package profile resolves a sender identity to its delivery settings. The
// old per-sender if-chains on the from address become one lookup done once
// per campaign.
package profile

import (
	"fmt"
	"os"

	"github.com/modfin/utskick/smtpx"
	"gopkg.in/yaml.v3"
)

var ErrUnknownProfile = fmt.Errorf("no profile registered for sender")

// A Profile holds everything that used to vary between the duplicated send
// paths: relay credentials, tracking base and default templates.
type Profile struct {
	Sender   string `yaml:"sender"` // from address the profile is keyed on
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ReplyTo  string `yaml:"reply_to"`

	// TrackingBaseURL overrides the global tracking base for this sender.
	TrackingBaseURL string `yaml:"tracking_base_url"`

	// Default templates used when a campaign carries none.
	HTMLTemplate string `yaml:"html_template"`
	TextTemplate string `yaml:"text_template"`
}

func (p Profile) Addr() string {
	port := p.Port
	if port == 0 {
		port = 465
	}
	return fmt.Sprintf("%s:%d", p.Host, port)
}

func (p Profile) Auth() smtpx.Auth {
	return smtpx.Auth{Username: p.Username, Password: p.Password}
}

type Registry struct {
	profiles map[string]Profile
}

type registryFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// Load reads the profile registry from a yaml file.
func Load(path string) (*Registry, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read profiles file %s: %w", path, err)
	}
	return Parse(buf)
}

func Parse(buf []byte) (*Registry, error) {
	var file registryFile
	err := yaml.Unmarshal(buf, &file)
	if err != nil {
		return nil, fmt.Errorf("could not parse profiles: %w", err)
	}

	reg := &Registry{profiles: map[string]Profile{}}
	for _, p := range file.Profiles {
		if len(p.Sender) == 0 {
			return nil, fmt.Errorf("profile without sender address")
		}
		if len(p.Host) == 0 {
			return nil, fmt.Errorf("profile %s has no relay host", p.Sender)
		}
		if _, exists := reg.profiles[p.Sender]; exists {
			return nil, fmt.Errorf("duplicate profile for sender %s", p.Sender)
		}
		reg.profiles[p.Sender] = p
	}
	return reg, nil
}

func (r *Registry) Get(sender string) (Profile, error) {
	p, ok := r.profiles[sender]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrUnknownProfile, sender)
	}
	return p, nil
}

func (r *Registry) Len() int {
	return len(r.profiles)
}
