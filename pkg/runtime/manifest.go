package runtime

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/core-tools/hsu-control/pkg/errors"

	"gopkg.in/yaml.v3"
)

const defaultUnitVersion = "0.0.0"

// Manifest is the descriptor carried by every deployable unit
type Manifest struct {
	Name            string            `yaml:"name"`
	Version         string            `yaml:"version,omitempty"`
	Fragment        bool              `yaml:"fragment,omitempty"`  // fragments attach to other units and are never activated
	Activator       string            `yaml:"activator,omitempty"` // name in the ActivatorRegistry
	Autostart       bool              `yaml:"autostart,omitempty"`
	StartLevel      int               `yaml:"start_level,omitempty"`
	ActivationDelay time.Duration     `yaml:"activation_delay,omitempty"`
	Properties      map[string]string `yaml:"properties,omitempty"`
}

// Identity is the name/version pair that must be unique within a runtime
func (m *Manifest) Identity() string {
	return m.Name + "@" + m.Version
}

// ParseManifest decodes and validates a unit descriptor. Unknown fields are rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.NewValidationError("unit descriptor is empty", nil)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var manifest Manifest
	if err := decoder.Decode(&manifest); err != nil {
		return nil, errors.NewValidationError("failed to parse unit descriptor", err)
	}

	if manifest.Version == "" {
		manifest.Version = defaultUnitVersion
	}

	if err := ValidateManifest(&manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// Marshal encodes the manifest in its YAML wire form
func (m *Manifest) Marshal() ([]byte, error) {
	return yaml.Marshal(m)
}

// ValidateManifest checks the constraints a runtime relies on
func ValidateManifest(manifest *Manifest) error {
	if manifest.Name == "" {
		return errors.NewValidationError("unit name cannot be empty", nil)
	}
	if len(manifest.Name) > 128 {
		return errors.NewValidationError("unit name cannot exceed 128 characters", nil)
	}
	for _, char := range manifest.Name {
		if !isValidNameChar(char) {
			return errors.NewValidationError("unit name contains invalid characters: only letters, numbers, dots, hyphens, and underscores are allowed", nil).
				WithContext(errors.ContextKeyName, manifest.Name)
		}
	}
	if manifest.Fragment && manifest.Activator != "" {
		return errors.NewValidationError("fragment units cannot declare an activator", nil).WithContext(errors.ContextKeyName, manifest.Name)
	}
	if manifest.Fragment && manifest.Autostart {
		return errors.NewValidationError("fragment units cannot be autostarted", nil).WithContext(errors.ContextKeyName, manifest.Name)
	}
	if manifest.StartLevel < 0 {
		return errors.NewValidationError("start level cannot be negative", nil).WithContext(errors.ContextKeyName, manifest.Name)
	}
	if manifest.ActivationDelay < 0 {
		return errors.NewValidationError("activation delay cannot be negative", nil).WithContext(errors.ContextKeyName, manifest.Name)
	}
	return nil
}

func isValidNameChar(char rune) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '-' || char == '_' || char == '.'
}

// ReadLocation loads unit content from a file path or file: URL.
func ReadLocation(location string) ([]byte, error) {
	path, err := locationPath(location)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIOError("failed to read unit location", err).WithContext("location", location)
	}
	return data, nil
}

func locationPath(location string) (string, error) {
	if location == "" {
		return "", errors.NewValidationError("unit location cannot be empty", nil)
	}
	if !strings.Contains(location, ":") || isWindowsDrivePath(location) {
		return location, nil
	}
	parsed, err := url.Parse(location)
	if err != nil {
		return "", errors.NewValidationError("invalid unit location", err).WithContext("location", location)
	}
	if parsed.Scheme != "file" {
		return "", errors.NewValidationError(fmt.Sprintf("unsupported location scheme: %s", parsed.Scheme), nil).
			WithContext("location", location)
	}
	if parsed.Path != "" {
		return parsed.Path, nil
	}
	// file:relative/path
	return parsed.Opaque, nil
}

func isWindowsDrivePath(location string) bool {
	return len(location) >= 3 && location[1] == ':' && (location[2] == '\\' || location[2] == '/')
}
