package config

import (
	"errors"
	"strings"
)

// ErrConfiguration matches every *ConfigurationError via errors.Is.
var ErrConfiguration = errors.New("invalid supabase logger configuration")

// ConfigurationError reports missing credentials or unusable settings.
type ConfigurationError struct {
	Reason  string
	Missing []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return "missing required configuration: " + strings.Join(e.Missing, ", ")
	}
	return "invalid configuration: " + e.Reason
}

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
