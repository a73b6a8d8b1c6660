package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/lucid-fabrics/proxmac/internal/proxmachome"
)

const configName = "proxmac.yml"

type Handle struct {
	configPath string
}

func NewHandle() (*Handle, error) {
	proxmacHomeDir, err := proxmachome.Path()
	if err != nil {
		return nil, err
	}

	return &Handle{
		configPath: filepath.Join(proxmacHomeDir, configName),
	}, nil
}

func (handle *Handle) Config() (*Config, error) {
	config := Config{
		Profiles: map[string]Profile{},
	}

	configBytes, err := os.ReadFile(handle.configPath)
	if err != nil {
		// Handle a case where the config file is not created yet
		if errors.Is(err, os.ErrNotExist) {
			return &Config{
				Profiles: map[string]Profile{},
			}, nil
		}

		return nil, fmt.Errorf("%w: %v", ErrConfigReadFailed, err)
	}

	if err := yaml.Unmarshal(configBytes, &config); err != nil {
		return nil, fmt.Errorf("%w: invalid YAML: %v", ErrConfigReadFailed, err)
	}

	return &config, nil
}

func (handle *Handle) SetConfig(config *Config) error {
	configBytes, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal YAML: %v", ErrConfigWriteFailed, err)
	}

	if err := os.WriteFile(handle.configPath, configBytes, 0600); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigWriteFailed, err)
	}

	return nil
}

func (handle *Handle) CreateProfile(name string, profile Profile, force bool) error {
	unlock, err := handle.Lock()
	if err != nil {
		return err
	}
	defer unlock()

	config, err := handle.Config()
	if err != nil {
		return err
	}

	_, exists := config.RetrieveProfile(name)
	if exists && !force {
		return fmt.Errorf("%w: profile %q already exists", ErrConfigConflict, name)
	}

	config.SetProfile(name, profile)

	return handle.SetConfig(config)
}

// UpdateProfile applies a mutation to an existing profile under the
// configuration lock, e.g. to persist a freshly generated hardware
// identity.
func (handle *Handle) UpdateProfile(name string, update func(*Profile)) error {
	unlock, err := handle.Lock()
	if err != nil {
		return err
	}
	defer unlock()

	config, err := handle.Config()
	if err != nil {
		return err
	}

	profile, exists := config.RetrieveProfile(name)
	if !exists {
		return fmt.Errorf("%w: no such profile: %q", ErrConfigConflict, name)
	}

	update(&profile)
	config.SetProfile(name, profile)

	return handle.SetConfig(config)
}

// Profile returns the named profile, or the default one when name is
// empty.
func (handle *Handle) Profile(name string) (Profile, error) {
	unlock, err := handle.Lock()
	if err != nil {
		return Profile{}, err
	}
	defer unlock()

	config, err := handle.Config()
	if err != nil {
		return Profile{}, err
	}

	if name == "" {
		profile, ok := config.RetrieveDefaultProfile()
		if !ok {
			return Profile{}, fmt.Errorf("%w: no profiles configured yet", ErrConfigConflict)
		}

		return profile, nil
	}

	profile, ok := config.RetrieveProfile(name)
	if !ok {
		return Profile{}, fmt.Errorf("%w: no such profile: %q", ErrConfigConflict, name)
	}

	return profile, nil
}

func (handle *Handle) SetDefaultProfile(name string) error {
	unlock, err := handle.Lock()
	if err != nil {
		return err
	}
	defer unlock()

	config, err := handle.Config()
	if err != nil {
		return err
	}

	_, ok := config.RetrieveProfile(name)
	if !ok {
		return fmt.Errorf("%w: no such profile: %q", ErrConfigConflict, name)
	}

	config.DefaultProfile = name

	return handle.SetConfig(config)
}

func (handle *Handle) DeleteProfile(name string) error {
	unlock, err := handle.Lock()
	if err != nil {
		return err
	}
	defer unlock()

	config, err := handle.Config()
	if err != nil {
		return err
	}

	if err := config.DeleteProfile(name); err != nil {
		return err
	}

	return handle.SetConfig(config)
}
