package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TargetProfile describes one named upstream in the target profiles file.
type TargetProfile struct {
	// BaseURL is the upstream API base URL.
	BaseURL string `yaml:"base_url"`
	// APIKey is the credential for this upstream (optional).
	APIKey string `yaml:"api_key"`
}

// TargetProfiles is the parsed target profiles file. Requests can select a
// profile by name via the x-target-profile header.
type TargetProfiles struct {
	Profiles map[string]TargetProfile `yaml:"profiles"`
}

// LoadTargetProfiles loads named upstream targets from a YAML file.
func LoadTargetProfiles(path string) (*TargetProfiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read target profiles file: %w", err)
	}

	var profiles TargetProfiles
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse target profiles file: %w", err)
	}

	for name, p := range profiles.Profiles {
		if p.BaseURL == "" {
			return nil, fmt.Errorf("target profile %q is missing base_url", name)
		}
	}

	return &profiles, nil
}

// Get returns the profile with the given name, if one is configured.
func (p *TargetProfiles) Get(name string) (TargetProfile, bool) {
	if p == nil || name == "" {
		return TargetProfile{}, false
	}
	profile, ok := p.Profiles[name]
	return profile, ok
}
