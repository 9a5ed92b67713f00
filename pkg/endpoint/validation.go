package endpoint

import (
	"net"
	"strconv"
	"time"

	"github.com/core-tools/hsu-control/pkg/errors"
)

// ValidateEndpointName validates the name an endpoint is bound under
func ValidateEndpointName(name string) error {
	if name == "" {
		return errors.NewValidationError("endpoint name cannot be empty", nil)
	}

	if len(name) > 128 {
		return errors.NewValidationError("endpoint name cannot exceed 128 characters", nil)
	}

	for _, char := range name {
		if !isValidNameChar(char) {
			return errors.NewValidationError("endpoint name contains invalid characters: only letters, numbers, hyphens, underscores, dots and slashes are allowed", nil)
		}
	}

	return nil
}

// ValidatePort validates port number
func ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return errors.NewValidationError("port must be between 1 and 65535", nil)
	}
	return nil
}

// ValidateNetworkAddress validates a host:port address
func ValidateNetworkAddress(address string) error {
	host, port, err := splitAddress(address)
	if err != nil {
		return err
	}
	if host == "" {
		return errors.NewValidationError("host cannot be empty in address: "+address, nil)
	}
	return ValidatePort(port)
}

// ValidateListenAddress validates a listen address; the host may be empty
func ValidateListenAddress(address string) error {
	_, port, err := splitAddress(address)
	if err != nil {
		return err
	}
	if err := ValidatePort(port); err != nil {
		return errors.NewValidationError("invalid port in address: "+address, err)
	}
	return nil
}

func splitAddress(address string) (string, int, error) {
	if address == "" {
		return "", 0, errors.NewValidationError("network address cannot be empty", nil)
	}

	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, errors.NewValidationError("invalid network address format: "+address, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, errors.NewValidationError("invalid port in address: "+address, err)
	}

	return host, port, nil
}

// ValidateTimeout validates timeout duration
func ValidateTimeout(timeout time.Duration, name string) error {
	if timeout < 0 {
		return errors.NewValidationError(name+" timeout cannot be negative", nil)
	}

	if timeout == 0 {
		return errors.NewValidationError(name+" timeout cannot be zero", nil)
	}

	return nil
}

func isValidNameChar(char rune) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '-' || char == '_' || char == '.' || char == '/'
}
