package commands

import (
	"github.com/mosaicnetworks/notarium/src/config"
)

// CLIConfig contains configuration for the Run command
type CLIConfig struct {
	Notarium config.Config `mapstructure:",squash"`
}

// NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Notarium: *config.NewDefaultConfig(),
	}
}
