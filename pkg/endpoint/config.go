package endpoint

import (
	"fmt"
	"os"
	"time"

	"github.com/core-tools/hsu-control/pkg/errors"
	"github.com/core-tools/hsu-control/pkg/logging"
	"github.com/core-tools/hsu-control/pkg/registry"

	"gopkg.in/yaml.v3"
)

// DefaultEndpointName is the name an endpoint binds under unless configured otherwise
const DefaultEndpointName = "hsu-control"

// Config represents the top-level endpoint server configuration file
type Config struct {
	Endpoint     EndpointConfig     `yaml:"endpoint"`
	Registry     RegistryConfig     `yaml:"registry"`
	Registration RegistrationConfig `yaml:"registration"`
	Runtime      RuntimeConfig      `yaml:"runtime"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Logging      *logging.ZapConfig `yaml:"logging,omitempty"`
}

type EndpointConfig struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	// Port 0 exports on an ephemeral port
	Port                 int           `yaml:"port"`
	PollInterval         time.Duration `yaml:"poll_interval,omitempty"`
	ForceShutdownTimeout time.Duration `yaml:"force_shutdown_timeout,omitempty"`
}

type RegistryConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Embedded hosts the registry inside the endpoint server process
	Embedded bool `yaml:"embedded,omitempty"`
}

type RegistrationConfig struct {
	RetryInterval time.Duration `yaml:"retry_interval,omitempty"`
	MaxAttempts   uint          `yaml:"max_attempts,omitempty"`
}

type RuntimeConfig struct {
	StartLevel        int          `yaml:"start_level,omitempty"`
	DisableStartLevel bool         `yaml:"disable_start_level,omitempty"`
	Units             []UnitConfig `yaml:"units,omitempty"`
}

// UnitConfig is a unit installed when the server starts
type UnitConfig struct {
	Location string `yaml:"location"`
	Start    bool   `yaml:"start,omitempty"`
}

type MetricsConfig struct {
	// Address serves /metrics when set, e.g. ":9090"
	Address string `yaml:"address,omitempty"`
}

// LoadConfigFromFile loads endpoint server configuration from a YAML file
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration and applies defaults
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err)
	}
	SetConfigDefaults(&config)
	return &config, nil
}

// DefaultConfig returns a configuration with every default applied
func DefaultConfig() *Config {
	var config Config
	SetConfigDefaults(&config)
	return &config
}

// SetConfigDefaults applies default values to configuration
func SetConfigDefaults(config *Config) {
	if config.Endpoint.Name == "" {
		config.Endpoint.Name = DefaultEndpointName
	}
	if config.Endpoint.Host == "" {
		config.Endpoint.Host = "127.0.0.1"
	}
	if config.Endpoint.PollInterval == 0 {
		config.Endpoint.PollInterval = DefaultPollInterval
	}
	if config.Endpoint.ForceShutdownTimeout == 0 {
		config.Endpoint.ForceShutdownTimeout = 10 * time.Second
	}

	if config.Registry.Host == "" {
		config.Registry.Host = "127.0.0.1"
	}
	if config.Registry.Port == 0 {
		config.Registry.Port = registry.DefaultPort
	}

	if config.Registration.RetryInterval == 0 {
		config.Registration.RetryInterval = DefaultRetryInterval
	}
	if config.Registration.MaxAttempts == 0 {
		config.Registration.MaxAttempts = DefaultMaxAttempts
	}

	if config.Runtime.StartLevel == 0 {
		config.Runtime.StartLevel = 1
	}
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := ValidateEndpointName(config.Endpoint.Name); err != nil {
		return errors.NewValidationError("invalid endpoint name", err)
	}
	if config.Endpoint.Port != 0 {
		if err := ValidatePort(config.Endpoint.Port); err != nil {
			return errors.NewValidationError("invalid endpoint port", err)
		}
	}
	if err := ValidateTimeout(config.Endpoint.PollInterval, "poll interval"); err != nil {
		return err
	}
	if err := ValidateTimeout(config.Endpoint.ForceShutdownTimeout, "force shutdown"); err != nil {
		return err
	}

	if err := ValidatePort(config.Registry.Port); err != nil {
		return errors.NewValidationError("invalid registry port", err)
	}
	if config.Registry.Embedded && config.Endpoint.Port != 0 && config.Endpoint.Port == config.Registry.Port {
		return errors.NewValidationError(
			fmt.Sprintf("endpoint and embedded registry cannot share port %d", config.Endpoint.Port),
			nil,
		)
	}

	if err := ValidateTimeout(config.Registration.RetryInterval, "registration retry"); err != nil {
		return err
	}

	if config.Runtime.StartLevel < 1 {
		return errors.NewValidationError(fmt.Sprintf("invalid runtime start level: %d", config.Runtime.StartLevel), nil)
	}
	for i, unit := range config.Runtime.Units {
		if unit.Location == "" {
			return errors.NewValidationError(fmt.Sprintf("unit location at index %d cannot be empty", i), nil)
		}
	}

	if config.Metrics.Address != "" {
		if err := ValidateListenAddress(config.Metrics.Address); err != nil {
			return errors.NewValidationError("invalid metrics address", err)
		}
	}

	return nil
}
