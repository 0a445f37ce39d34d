package vice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const (
	DefaultEmulatorBinary = "x64sc"
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 6502
)

// EmulatorConfig describes how to launch a supervised emulator. Zero fields take defaults.
type EmulatorConfig struct {
	Binary    string
	Host      string
	Port      int
	ExtraArgs []string
	// Visible keeps the emulator window on the inherited display.
	Visible bool
	// NoWarp runs the emulator at real speed.
	NoWarp bool
	// Autostart is a program or image the emulator loads and runs at startup.
	Autostart string
	Display   DisplayConfig

	VirtualDisplayNumber int    // default 99
	XvfbBinary           string // default "Xvfb"
	XvfbScreen           string // default "640x480x24"
	DisplayWait          time.Duration
	StartTimeout         time.Duration
	PollInterval         time.Duration
	StopGrace            time.Duration

	Spawner Spawner // default ExecSpawner
	Stdout  io.Writer
	Stderr  io.Writer
	Timings *Timings
}

func (c EmulatorConfig) withDefaults() EmulatorConfig {
	if c.Binary == "" {
		c.Binary = DefaultEmulatorBinary
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.VirtualDisplayNumber == 0 {
		c.VirtualDisplayNumber = 99
	}
	if c.XvfbBinary == "" {
		c.XvfbBinary = "Xvfb"
	}
	if c.XvfbScreen == "" {
		c.XvfbScreen = "640x480x24"
	}
	if c.DisplayWait <= 0 {
		c.DisplayWait = 500 * time.Millisecond
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 10 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 2 * time.Second
	}
	if c.Spawner == nil {
		c.Spawner = ExecSpawner{}
	}
	return c
}

// Addr returns the monitor address as host:port.
func (c EmulatorConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// EmulatorArgs returns the emulator command line for cfg: binary monitor enabled on the configured address, sound
// and saved configuration disabled, warp on unless NoWarp, followed by the extra arguments and autostart target.
func EmulatorArgs(cfg EmulatorConfig) []string {
	cfg = cfg.withDefaults()
	args := []string{
		"-binarymonitor",
		"-binarymonitoraddress", cfg.Addr(),
		"-sounddev", "dummy",
		"-config", "/dev/null",
	}
	if !cfg.NoWarp {
		args = append(args, "-warp")
	}
	args = append(args, cfg.ExtraArgs...)
	if cfg.Autostart != "" {
		args = append(args, "-autostart", cfg.Autostart)
	}
	return args
}

// EmulatorProcess is a running emulator with its optional virtual display.
type EmulatorProcess struct {
	Host string
	Port int

	emulator Process
	display  Process
	xDisplay string
	grace    time.Duration

	stopOnce sync.Once
	stopping chan struct{}
}

// StartEmulator launches the emulator, and a virtual display first when one is needed, then waits until the monitor
// port accepts connections. If the emulator exits or the port never opens, both processes are terminated before the
// error is returned.
func StartEmulator(ctx context.Context, cfg EmulatorConfig) (*EmulatorProcess, error) {
	cfg = cfg.withDefaults()
	start := time.Now()

	var display Process
	var env []string
	var xDisplay string
	if cfg.Display.NeedsVirtualDisplay(cfg.Visible) {
		xDisplay = ":" + strconv.Itoa(cfg.VirtualDisplayNumber)
		spec := ProcessSpec{Path: cfg.XvfbBinary, Args: []string{xDisplay, "-screen", "0", cfg.XvfbScreen},
			Stdout: cfg.Stdout, Stderr: cfg.Stderr}
		log.Printf("Starting virtual display: %s", spec)
		var err error
		if display, err = cfg.Spawner.Spawn(spec); err != nil {
			return nil, &ProcessLifecycleError{Stage: "start virtual display", Err: err}
		}
		if err := waitForDisplaySocket(ctx, cfg.VirtualDisplayNumber, cfg.DisplayWait); err != nil {
			cleanupProcesses(cfg.StopGrace, nil, display)
			return nil, &ProcessLifecycleError{Stage: "wait for virtual display", Err: err}
		}
		select {
		case <-display.Done():
			return nil, &ProcessLifecycleError{Stage: "virtual display exited during startup", Err: exitReason(display)}
		default:
		}
		env = append(env, "DISPLAY="+xDisplay)
		cfg.Timings.Track("supervisor", "display", start)
	} else if cfg.Display.Display != "" {
		xDisplay = cfg.Display.Display
	}

	spec := ProcessSpec{Path: cfg.Binary, Args: EmulatorArgs(cfg), Env: env, Stdout: cfg.Stdout, Stderr: cfg.Stderr}
	log.Printf("Starting emulator: %s", spec)
	emulator, err := cfg.Spawner.Spawn(spec)
	if err != nil {
		cleanupProcesses(cfg.StopGrace, nil, display)
		return nil, &ProcessLifecycleError{Stage: "start emulator", Err: err}
	}

	if err := raceStartup(ctx, cfg, emulator); err != nil {
		cleanupProcesses(cfg.StopGrace, emulator, display)
		return nil, err
	}
	cfg.Timings.Track("supervisor", "monitor-port", start)
	log.Printf("Emulator pid %d monitor ready on %s", emulator.Pid(), cfg.Addr())

	p := &EmulatorProcess{
		Host:     cfg.Host,
		Port:     cfg.Port,
		emulator: emulator,
		display:  display,
		xDisplay: xDisplay,
		grace:    cfg.StopGrace,
		stopping: make(chan struct{}),
	}
	go p.watch()
	return p, nil
}

// raceStartup waits for the monitor port while watching for an early emulator exit, whichever happens first wins.
func raceStartup(ctx context.Context, cfg EmulatorConfig, emulator Process) error {
	raceCtx, cancelRace := context.WithCancel(ctx)
	defer cancelRace()

	g, gctx := errgroup.WithContext(raceCtx)
	g.Go(func() error {
		if err := waitForPort(gctx, cfg.Addr(), cfg.StartTimeout, cfg.PollInterval); err != nil {
			return err
		}
		cancelRace() // stop the exit watcher
		return nil
	})
	g.Go(func() error {
		select {
		case <-emulator.Done():
			return &ProcessLifecycleError{Stage: "emulator exited before the monitor port opened", Err: exitReason(emulator)}
		case <-gctx.Done():
			return nil
		}
	})
	return g.Wait()
}

func exitReason(p Process) error {
	if err := p.ExitErr(); err != nil {
		return err
	}
	return fmt.Errorf("pid %d exited with status 0", p.Pid())
}

// waitForPort polls addr until a TCP connection succeeds.
func waitForPort(ctx context.Context, addr string, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	dialer := net.Dialer{Timeout: 300 * time.Millisecond}
	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			return nil
		} else if ctx.Err() != nil {
			return ctx.Err()
		} else if time.Now().Add(interval).After(deadline) {
			return &TimeoutError{Op: "monitor port " + addr, After: timeout}
		}
		if err := sleepCtx(ctx, interval); err != nil {
			return err
		}
	}
}

// terminate sends SIGTERM, waits up to grace, then escalates to SIGKILL.
func terminate(p Process, grace time.Duration) error {
	if p == nil {
		return nil
	}
	select {
	case <-p.Done():
		return nil
	default:
	}
	if err := p.Signal(unix.SIGTERM); err != nil {
		return err
	}
	select {
	case <-p.Done():
		return nil
	case <-time.After(grace):
	}
	log.Printf("WARN: pid %d ignored SIGTERM for %v, killing", p.Pid(), grace)
	if err := p.Signal(unix.SIGKILL); err != nil {
		return err
	}
	select {
	case <-p.Done():
		return nil
	case <-time.After(grace):
		return fmt.Errorf("pid %d still running after SIGKILL", p.Pid())
	}
}

// cleanupProcesses stops the emulator and then the display, logging failures so they do not replace the error
// that caused the cleanup.
func cleanupProcesses(grace time.Duration, emulator, display Process) {
	if err := terminate(emulator, grace); err != nil {
		log.Printf("%sFailed to stop emulator: %v", ErrorLogPrefix, err)
	}
	if err := terminate(display, grace); err != nil {
		log.Printf("%sFailed to stop virtual display: %v", ErrorLogPrefix, err)
	}
}

// watch tears down the virtual display when the emulator dies without Stop.
func (p *EmulatorProcess) watch() {
	select {
	case <-p.stopping:
		return
	case <-p.emulator.Done():
	}
	select {
	case <-p.stopping:
		return
	default:
	}
	log.Printf("WARN: emulator pid %d exited unexpectedly: %v", p.emulator.Pid(), p.emulator.ExitErr())
	if err := terminate(p.display, p.grace); err != nil {
		log.Printf("%sFailed to stop virtual display: %v", ErrorLogPrefix, err)
	}
}

// Addr returns the monitor address as host:port.
func (p *EmulatorProcess) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Pid returns the emulator process id.
func (p *EmulatorProcess) Pid() int {
	return p.emulator.Pid()
}

// XDisplay returns the display the emulator renders to, empty when none is known.
func (p *EmulatorProcess) XDisplay() string {
	return p.xDisplay
}

// Done is closed when the emulator exits.
func (p *EmulatorProcess) Done() <-chan struct{} {
	return p.emulator.Done()
}

// Connect opens a monitor client to the emulator.
func (p *EmulatorProcess) Connect(ctx context.Context, opts SessionOptions) (*Client, error) {
	return Connect(ctx, p.Addr(), opts)
}

// Stop terminates the emulator and then the virtual display. Only the first call acts, later calls and calls after
// the emulator exited on its own return nil.
func (p *EmulatorProcess) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stopping)
		err = errors.Join(terminate(p.emulator, p.grace), terminate(p.display, p.grace))
	})
	return err
}
