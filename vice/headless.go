package vice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DisplayMode overrides the automatic virtual display decision.
type DisplayMode int

const (
	DisplayAuto DisplayMode = iota
	// DisplayForceVirtual always starts a virtual display.
	DisplayForceVirtual
	// DisplayDisableVirtual never starts one.
	DisplayDisableVirtual
)

// DisplayConfig holds the environment inputs of the virtual display decision.
type DisplayConfig struct {
	Mode DisplayMode
	// CI is set when running under continuous integration, where an inherited display is not trusted.
	CI bool
	// Display is the inherited X display, empty when none.
	Display string
}

// DisplayConfigFromEnv reads VICE_XVFB ("1" forces, "0" disables), CI and DISPLAY through getenv.
func DisplayConfigFromEnv(getenv func(string) string) DisplayConfig {
	cfg := DisplayConfig{Display: getenv("DISPLAY")}
	switch strings.TrimSpace(getenv("VICE_XVFB")) {
	case "1", "true", "yes":
		cfg.Mode = DisplayForceVirtual
	case "0", "false", "no":
		cfg.Mode = DisplayDisableVirtual
	}
	switch strings.ToLower(strings.TrimSpace(getenv("CI"))) {
	case "", "0", "false", "no":
	default:
		cfg.CI = true
	}
	return cfg
}

// NeedsVirtualDisplay decides if a virtual display must be started for an emulator that is visible or not.
func (c DisplayConfig) NeedsVirtualDisplay(visible bool) bool {
	switch {
	case c.Mode == DisplayForceVirtual:
		return true
	case c.Mode == DisplayDisableVirtual:
		return false
	case visible:
		return false
	case c.CI:
		return true
	case c.Display != "":
		return false
	}
	return true
}

// x11SocketDir holds the sockets of local X servers, one file X<n> per display.
var x11SocketDir = "/tmp/.X11-unix"

// waitForDisplaySocket waits until the socket of display number n exists or wait elapses. A missing socket is not
// an error, servers that do not create one are given the full wait instead.
func waitForDisplaySocket(ctx context.Context, n int, wait time.Duration) error {
	socket := filepath.Join(x11SocketDir, fmt.Sprintf("X%d", n))
	timer := time.NewTimer(wait)
	defer timer.Stop()

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		err = watcher.Add(x11SocketDir)
	}
	if err != nil {
		// no directory to watch yet, fall back to sleeping
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if _, err := os.Stat(socket); err == nil {
		return nil
	}
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			} else if ev.Op&fsnotify.Create != 0 && ev.Name == socket {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			} else if !errors.Is(err, fsnotify.ErrEventOverflow) {
				return fmt.Errorf("watch %s: %w", x11SocketDir, err)
			}
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
