package cmd

import (
	"flag"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c64bridge/vicebridge/vice"
)

func withArgs(t *testing.T, args ...string) {
	t.Helper()

	oldArgs := os.Args
	oldFlags := flag.CommandLine
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	os.Args = append([]string{os.Args[0]}, args...)
	t.Cleanup(func() {
		os.Args = oldArgs
		flag.CommandLine = oldFlags
	})
}

func TestParseFlags(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		withArgs(t)
		t.Setenv("VICE_BINARY", "")
		t.Setenv("VICE_XVFB", "")
		t.Setenv("CI", "")
		t.Setenv("DISPLAY", ":0")

		cfg, err := ParseFlags(nil)
		require.NoError(t, err)

		assert.Equal(t, vice.DefaultEmulatorBinary, cfg.EmulatorBinary)
		assert.Equal(t, vice.DefaultHost, cfg.Host)
		assert.Equal(t, 6502, cfg.Port)
		assert.Equal(t, 6510, cfg.AutostartPort)
		assert.True(t, cfg.Warp)
		assert.False(t, cfg.Mock)
		assert.Equal(t, 10*time.Second, cfg.Timeout)
		assert.Equal(t, vice.DisplayConfig{Display: ":0"}, cfg.Display)
		assert.Empty(t, cfg.ExtraArgs)
	})

	t.Run("explicit", func(t *testing.T) {
		withArgs(t, "-vice", "/opt/vice/x64sc", "-port", "7000", "-port2", "0", "-warp=false", "-visible",
			"-args", "-ntsc  -model c64c", "-timeout", "3s", "-storage", "/tmp/snaps")
		t.Setenv("VICE_XVFB", "1")

		cfg, err := ParseFlags(nil)
		require.NoError(t, err)

		assert.Equal(t, "/opt/vice/x64sc", cfg.EmulatorBinary)
		assert.Equal(t, 7000, cfg.Port)
		assert.Zero(t, cfg.AutostartPort)
		assert.False(t, cfg.Warp)
		assert.True(t, cfg.Visible)
		assert.Equal(t, []string{"-ntsc", "-model", "c64c"}, cfg.ExtraArgs)
		assert.Equal(t, 3*time.Second, cfg.Timeout)
		assert.Equal(t, "/tmp/snaps", cfg.StorageDir)
		assert.Equal(t, vice.DisplayForceVirtual, cfg.Display.Mode)

		ec := cfg.Emulator(cfg.Port)
		assert.True(t, ec.NoWarp)
		assert.Equal(t, 3*time.Second, ec.StartTimeout)
	})

	t.Run("binary_from_env", func(t *testing.T) {
		withArgs(t)
		t.Setenv("VICE_BINARY", "/usr/local/bin/x64sc")

		cfg, err := ParseFlags(nil)
		require.NoError(t, err)
		assert.Equal(t, "/usr/local/bin/x64sc", cfg.EmulatorBinary)
	})

	t.Run("same_ports", func(t *testing.T) {
		withArgs(t, "-port", "6502", "-port2", "6502")

		_, err := ParseFlags(nil)
		assert.Error(t, err)
	})

	t.Run("custom_flags", func(t *testing.T) {
		withArgs(t, "-label", "nightly", "-repeat", "3", "-keep")

		cfg, err := ParseFlags([]CustomFlag{
			{Name: "label", DefaultValue: "", Usage: "snapshot label", Type: "string"},
			{Name: "repeat", DefaultValue: 1, Usage: "runs", Type: "int"},
			{Name: "keep", DefaultValue: false, Usage: "keep files", Type: "bool"},
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"label": "nightly", "repeat": "3", "keep": "true"}, cfg.CustomFlags)
	})
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     vice.Config
		wantErr bool
	}{
		{name: "valid", cfg: vice.Config{EmulatorBinary: "x64sc", Port: 6502, AutostartPort: 6510}},
		{name: "mock_without_binary", cfg: vice.Config{Mock: true, Port: 6502}},
		{name: "no_binary", cfg: vice.Config{Port: 6502}, wantErr: true},
		{name: "bad_port", cfg: vice.Config{EmulatorBinary: "x64sc", Port: 70000}, wantErr: true},
		{name: "negative_timeout", cfg: vice.Config{EmulatorBinary: "x64sc", Port: 1, Timeout: -time.Second}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
