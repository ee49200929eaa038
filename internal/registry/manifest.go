package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Role values accepted in a manifest
const (
	RoleActivity = "activity"
	RoleDecider  = "decider"
)

// Worker is one manifest entry: a registration plus how many agents poll it
type Worker struct {
	Name         string `yaml:"name" mapstructure:"name"`
	Role         string `yaml:"role" mapstructure:"role"`
	Registration `yaml:",inline" mapstructure:",squash"`
	Instances    int `yaml:"instances" mapstructure:"instances"`
}

// Validate checks a single manifest entry
func (w Worker) Validate() error {
	if w.Role != RoleActivity && w.Role != RoleDecider {
		return fmt.Errorf("worker %q: unknown role %q", w.Name, w.Role)
	}
	if w.Instances < 0 {
		return fmt.Errorf("worker %q: negative instances", w.Name)
	}
	if err := w.Registration.Validate(); err != nil {
		return fmt.Errorf("worker %q: %w", w.Name, err)
	}
	return nil
}

// Manifest lists the workers a process runs
type Manifest struct {
	Workers []Worker `yaml:"workers"`
}

// ParseManifest decodes and validates a YAML manifest. Instances defaults to 1.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	for i := range m.Workers {
		if m.Workers[i].Instances == 0 {
			m.Workers[i].Instances = 1
		}
		if err := m.Workers[i].Validate(); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// LoadManifest reads a worker manifest from disk
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return ParseManifest(data)
}
