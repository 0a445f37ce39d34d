package vice

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Target is a monitor endpoint started for one smoke stage.
type Target interface {
	Addr() string
	Stop() error
}

// Launcher starts a monitor endpoint for cfg.
type Launcher func(ctx context.Context, cfg EmulatorConfig) (Target, error)

// EmulatorLauncher launches a supervised emulator.
func EmulatorLauncher(ctx context.Context, cfg EmulatorConfig) (Target, error) {
	p, err := StartEmulator(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

const smokeProbeAddr uint16 = 0x0800

// SmokeRunner drives an end to end check of a monitor: memory round trip, BASIC readiness, typing and running a
// program, and, when an autostart port is configured, running the same program through autostart.
type SmokeRunner struct {
	config  *Config
	launch  Launcher
	timings *Timings
	storage Storage

	// MonitorAutostart issues the autostart command over the monitor instead of passing the program on the
	// emulator command line.
	MonitorAutostart bool
}

// NewSmokeRunner creates a runner. Snapshots are saved when storage is not nil.
func NewSmokeRunner(config *Config, launch Launcher, storage Storage) *SmokeRunner {
	if launch == nil {
		launch = EmulatorLauncher
	}
	return &SmokeRunner{config: config, launch: launch, storage: storage, timings: NewTimings(false)}
}

// Timings returns the durations recorded so far.
func (r *SmokeRunner) Timings() *Timings {
	return r.timings
}

// Run executes all stages, stopping at the first failure.
func (r *SmokeRunner) Run(ctx context.Context) error {
	start := time.Now()
	if err := r.runStage(ctx, "basic", r.config.Port, "", r.basicStage); err != nil {
		return fmt.Errorf("basic stage: %w", err)
	}
	if r.config.AutostartPort != 0 {
		dir, err := os.MkdirTemp("", "vicesmoke-")
		if err != nil {
			return err
		}
		defer func() { _ = os.RemoveAll(dir) }()

		prg := filepath.Join(dir, "hello.prg")
		if err := WritePRG(prg, BasicStart, HelloProgram); err != nil {
			return err
		}
		cmdLine := prg
		if r.MonitorAutostart {
			cmdLine = ""
		}
		err = r.runStage(ctx, "autostart", r.config.AutostartPort, cmdLine, func(ctx context.Context, c *Client) error {
			return r.autostartStage(ctx, c, prg)
		})
		if err != nil {
			return fmt.Errorf("autostart stage: %w", err)
		}
	}
	r.timings.Track("smoke", "total", start)

	if r.config.TimingsChart != "" {
		if err := WriteTimingsChart(r.config.TimingsChart, "vicesmoke", r.timings.Entries()); err != nil {
			return fmt.Errorf("write timings chart: %w", err)
		}
		log.Println("Timings chart wrote: " + r.config.TimingsChart)
	}
	return nil
}

func (r *SmokeRunner) runStage(ctx context.Context, scope string, port int, autostart string,
	stage func(ctx context.Context, c *Client) error) (err error) {
	cfg := r.config.Emulator(port)
	cfg.Autostart = autostart
	cfg.Timings = r.timings

	start := time.Now()
	target, err := r.launch(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if stopErr := target.Stop(); stopErr != nil {
			log.Printf("%sFailed to stop %s target: %v", ErrorLogPrefix, scope, stopErr)
		}
	}()
	r.timings.Track(scope, "launch", start)

	client, err := Connect(ctx, target.Addr(), SessionOptions{OnEvent: func(ev Event) {
		log.Printf("[%s] event %v", scope, ev)
	}})
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	start = time.Now()
	err = stage(ctx, client)
	r.timings.Track(scope, "run", start)
	return err
}

func (r *SmokeRunner) basicStage(ctx context.Context, c *Client) error {
	info, err := c.Info(ctx)
	if err != nil {
		return err
	}
	log.Printf("Emulator version %s (svn %d)", info.VersionString(), info.SVNRevision)
	if !info.AtLeast(MinEmulatorVersion) {
		return fmt.Errorf("emulator %s is older than %s, its monitor can not feed keys or autostart",
			info.VersionString(), MinEmulatorVersion)
	}

	start := time.Now()
	if err := c.MemSet(ctx, smokeProbeAddr, []byte{0x42}); err != nil {
		return err
	}
	got, err := c.MemGet(ctx, smokeProbeAddr, smokeProbeAddr)
	if err != nil {
		return err
	} else if !bytes.Equal(got, []byte{0x42}) {
		return fmt.Errorf("memory round trip at $%04x read % x", smokeProbeAddr, got)
	}
	r.timings.Track("basic", "memory", start)

	start = time.Now()
	if err := c.Reset(ctx, ResetSoft); err != nil {
		return err
	}
	// an empty line does not echo a prompt on a real machine
	ready, err := WaitForBasicReady(ctx, c, BasicReadyProbe{ConfirmPrompt: true, ConfirmText: "PRINT\r"})
	if err != nil {
		return err
	} else if !ready.Ready(true) {
		return fmt.Errorf("BASIC not ready (pointers %t, prompt %t)", ready.PointersOK, ready.PromptOK)
	}
	r.timings.Track("basic", "ready", start)

	start = time.Now()
	if err := LoadBasicProgram(ctx, c, HelloProgram); err != nil {
		return err
	} else if err := c.KeyboardFeed(ctx, "RUN\r"); err != nil {
		return err
	}
	if err := r.expectHello(ctx, c); err != nil {
		return err
	}
	r.timings.Track("basic", "run-program", start)

	if r.storage == nil {
		return nil
	}
	start = time.Now()
	snap, err := CaptureSnapshot(ctx, c, CaptureOptions{Label: "basic", Display: true, Checkpoints: true})
	if err != nil {
		return err
	}
	key, err := NewSnapshotStore(r.storage).Save(snap)
	if err != nil {
		return err
	}
	r.timings.Track("basic", "snapshot", start)
	log.Printf("Snapshot saved: %s", key)
	return nil
}

func (r *SmokeRunner) autostartStage(ctx context.Context, c *Client, prg string) error {
	if r.MonitorAutostart {
		if err := c.Autostart(ctx, prg, 0, true); err != nil {
			return err
		}
	}
	return r.expectHello(ctx, c)
}

func (r *SmokeRunner) expectHello(ctx context.Context, c *Client) error {
	timeout := r.config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	match, err := WaitForScreen(ctx, c, ScreenProbe{Pattern: ScreenCodes("HELLO"), Timeout: timeout})
	if err != nil {
		return err
	} else if !match.Found {
		return fmt.Errorf("HELLO not on screen after %d polls:\n%s", match.Polls,
			strings.Join(ScreenLines(match.Screen), "\n"))
	}
	log.Printf("HELLO found at row %d col %d after %d polls", match.Row, match.Col, match.Polls)
	return nil
}
