// Package profile loads the business profile that anchors relevance
// judgments: company context, purpose, and the communities to watch.
package profile

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Profile describes the business the pipeline finds leads for.
type Profile struct {
	Company     string   `yaml:"company"`
	Purpose     string   `yaml:"purpose"`
	Context     string   `yaml:"context"`
	Communities []string `yaml:"communities"`
}

// Load reads and validates a profile from a YAML file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "profile: read %s", path)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrapf(err, "profile: parse %s", path)
	}

	if strings.TrimSpace(p.Context) == "" {
		return nil, eris.New("profile: context is required")
	}
	if len(p.Communities) == 0 {
		return nil, eris.New("profile: at least one community is required")
	}
	return &p, nil
}

// ContextText returns the company context block handed to the model,
// including the purpose when one is set.
func (p *Profile) ContextText() string {
	var b strings.Builder
	b.WriteString(p.Context)
	if p.Purpose != "" {
		b.WriteString("\n\nPURPOSE\n")
		b.WriteString(p.Purpose)
	}
	return b.String()
}
