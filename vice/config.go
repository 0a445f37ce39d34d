package vice

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the command line settings of the bridge tools.
type Config struct {
	EmulatorBinary, Host     string
	Port, AutostartPort      int
	Visible, Warp            bool
	VirtualDisplay           int
	Timeout                  time.Duration
	Mock                     bool
	StorageDir, TimingsChart string
	ExtraArgs                []string
	Display                  DisplayConfig
	// Custom flags support - all stored as strings for ease of use
	CustomFlags map[string]string
}

// Validate checks the settings that can not be defaulted.
func (c *Config) Validate() error {
	if c.EmulatorBinary == "" && !c.Mock {
		return errors.New("no emulator binary, set -vice or VICE_BINARY")
	} else if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid monitor port %d", c.Port)
	} else if c.AutostartPort < 0 || c.AutostartPort > 65535 {
		return fmt.Errorf("invalid autostart monitor port %d", c.AutostartPort)
	} else if c.AutostartPort != 0 && c.AutostartPort == c.Port {
		return errors.New("-port and -port2 must differ")
	} else if c.Timeout < 0 {
		return fmt.Errorf("invalid timeout %v", c.Timeout)
	}
	return nil
}

// Emulator returns the supervisor configuration for an emulator listening on port.
func (c *Config) Emulator(port int) EmulatorConfig {
	return EmulatorConfig{
		Binary:               c.EmulatorBinary,
		Host:                 c.Host,
		Port:                 port,
		ExtraArgs:            c.ExtraArgs,
		Visible:              c.Visible,
		NoWarp:               !c.Warp,
		Display:              c.Display,
		VirtualDisplayNumber: c.VirtualDisplay,
		StartTimeout:         c.Timeout,
	}
}
