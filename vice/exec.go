package vice

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"syscall"

	"github.com/go-analyze/bulk"
	"golang.org/x/sys/unix"
)

// ProcessSpec describes a child process to start.
type ProcessSpec struct {
	Path string
	Args []string
	// Env entries override the inherited environment.
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

func (s ProcessSpec) String() string {
	return strings.Join(append([]string{s.Path}, s.Args...), " ")
}

// Process is a started child process.
type Process interface {
	Pid() int
	// Signal delivers sig, it is a no-op once the process exited.
	Signal(sig syscall.Signal) error
	// Done is closed when the process exits.
	Done() <-chan struct{}
	// ExitErr returns the wait result once Done is closed.
	ExitErr() error
}

// Spawner starts child processes. The supervisor accepts any implementation so process handling can be tested
// without real binaries.
type Spawner interface {
	Spawn(spec ProcessSpec) (Process, error)
}

// ExecSpawner starts OS processes.
type ExecSpawner struct{}

// Spawn starts the process described by spec.
func (ExecSpawner) Spawn(spec ProcessSpec) (Process, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = mergeSafeEnv(spec.Env)
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.exitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd     *exec.Cmd
	done    chan struct{}
	exitErr error
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Signal(sig syscall.Signal) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := unix.Kill(p.Pid(), sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal %v to pid %d: %w", sig, p.Pid(), err)
	}
	return nil
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) ExitErr() error {
	select {
	case <-p.done:
		return p.exitErr
	default:
		return nil
	}
}

// mergeSafeEnv returns the current environment with env applied on top. Loader variables are not inherited.
func mergeSafeEnv(env []string) []string {
	envKeys := make([]string, len(env))
	for i, kv := range env {
		envKeys[i], _, _ = strings.Cut(kv, "=")
	}
	safeEnv := bulk.SliceFilterInPlace(func(envVar string) bool {
		key, _, _ := strings.Cut(envVar, "=")
		if key == "" || strings.HasPrefix(key, "LD_") {
			return false
		}
		return !slices.Contains(envKeys, key)
	}, os.Environ())
	return append(safeEnv, env...)
}
