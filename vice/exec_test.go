package vice

import (
	"bytes"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestMergeSafeEnv(t *testing.T) {
	t.Setenv("LD_PRELOAD", "/tmp/evil.so")
	t.Setenv("VICE_TEST_KEEP", "kept")
	t.Setenv("DISPLAY", ":0")

	env := mergeSafeEnv([]string{"DISPLAY=:99"})
	assert.Contains(t, env, "VICE_TEST_KEEP=kept")
	assert.Contains(t, env, "DISPLAY=:99")
	assert.NotContains(t, env, "DISPLAY=:0")
	for _, kv := range env {
		assert.False(t, strings.HasPrefix(kv, "LD_"), kv)
	}
}

func TestExecSpawner(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no shell available")
	}
	t.Parallel()

	t.Run("exit_status", func(t *testing.T) {
		var out bytes.Buffer
		p, err := ExecSpawner{}.Spawn(ProcessSpec{Path: "sh", Args: []string{"-c", "echo $VICE_SPAWN; exit 3"},
			Env: []string{"VICE_SPAWN=hi"}, Stdout: &out})
		require.NoError(t, err)
		select {
		case <-p.Done():
		case <-time.After(5 * time.Second):
			require.Fail(t, "process did not exit")
		}
		var exitErr *exec.ExitError
		require.ErrorAs(t, p.ExitErr(), &exitErr)
		assert.Equal(t, 3, exitErr.ExitCode())
		assert.Equal(t, "hi\n", out.String())
		require.NoError(t, p.Signal(unix.SIGTERM)) // already exited
	})

	t.Run("terminate", func(t *testing.T) {
		p, err := ExecSpawner{}.Spawn(ProcessSpec{Path: "sh", Args: []string{"-c", "sleep 30"}})
		require.NoError(t, err)
		assert.Nil(t, p.ExitErr())
		require.NoError(t, terminate(p, 2*time.Second))
		assert.Error(t, p.ExitErr())
	})
}
