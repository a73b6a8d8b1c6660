package config

import (
	"fmt"
)

type Config struct {
	DefaultProfile string             `yaml:"default-profile,omitempty"`
	Profiles       map[string]Profile `yaml:"profiles,omitempty"`
}

func (config *Config) SetProfile(name string, profile Profile) {
	config.Profiles[name] = profile

	if config.DefaultProfile == "" {
		config.DefaultProfile = name
	}
}

func (config *Config) RetrieveProfile(name string) (Profile, bool) {
	profile, ok := config.Profiles[name]

	return profile, ok
}

func (config *Config) RetrieveDefaultProfile() (Profile, bool) {
	if config.DefaultProfile == "" {
		return Profile{}, false
	}

	return config.RetrieveProfile(config.DefaultProfile)
}

func (config *Config) DeleteProfile(name string) error {
	_, exists := config.Profiles[name]
	if !exists {
		return fmt.Errorf("%w: no such profile: %q", ErrConfigConflict, name)
	}

	delete(config.Profiles, name)

	if config.DefaultProfile == name {
		config.DefaultProfile = ""

		for name := range config.Profiles {
			config.DefaultProfile = name
			break
		}
	}

	return nil
}
