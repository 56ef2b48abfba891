package cmd

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh is not available")
	}
}

func TestExecRunner(t *testing.T) {
	requireShell(t)

	var stdout, stderr bytes.Buffer
	runner := &execRunner{stdout: &stdout, stderr: &stderr}

	t.Run("success", func(t *testing.T) {
		stdout.Reset()
		code, err := runner.Run(context.Background(), Invocation{Name: "echo", Path: "sh", Args: []string{"-c", "echo hello"}})
		require.NoError(t, err)
		require.Equal(t, 0, code)
		require.Equal(t, "hello\n", stdout.String())
	})

	t.Run("non-zero exit", func(t *testing.T) {
		stderr.Reset()
		code, err := runner.Run(context.Background(), Invocation{Name: "fail", Path: "sh", Args: []string{"-c", "echo oops >&2; exit 3"}})
		require.Error(t, err)
		require.Equal(t, 3, code)
		require.Equal(t, "oops\n", stderr.String())
	})

	t.Run("killed by a signal", func(t *testing.T) {
		code, err := runner.Run(context.Background(), Invocation{Name: "killed", Path: "sh", Args: []string{"-c", "kill -TERM $$"}})
		require.Error(t, err)
		require.Equal(t, 128+int(syscall.SIGTERM), code)
	})

	t.Run("missing executable", func(t *testing.T) {
		code, err := runner.Run(context.Background(), Invocation{Name: "missing", Path: "ccb-launcher-does-not-exist"})
		require.Error(t, err)
		require.Equal(t, exitCodeNotFound, code)
	})

	t.Run("invocation env", func(t *testing.T) {
		stdout.Reset()
		code, err := runner.Run(context.Background(), Invocation{
			Name: "env",
			Path: "sh",
			Args: []string{"-c", "echo $CUDA_VISIBLE_DEVICES"},
			Env:  map[string]string{"CUDA_VISIBLE_DEVICES": "1"},
		})
		require.NoError(t, err)
		require.Equal(t, 0, code)
		require.Equal(t, "1\n", stdout.String())
	})
}

func TestChildrenSeePrependedSearchPath(t *testing.T) {
	requireShell(t)

	shell, err := exec.LookPath("sh")
	require.NoError(t, err)

	dir := t.TempDir()
	script := filepath.Join(dir, "train-stub")
	require.NoError(t, os.WriteFile(script, []byte("#!"+shell+"\necho \"$PATH\"\n"), 0o755))

	t.Setenv("PATH", os.Getenv("PATH"))
	_, err = prependSearchPath(dir)
	require.NoError(t, err)

	var stdout bytes.Buffer
	runner := &execRunner{stdout: &stdout, stderr: &bytes.Buffer{}}

	// found only through the prepended directory
	code, err := runner.Run(context.Background(), Invocation{Name: "stub", Path: "train-stub"})
	require.NoError(t, err)
	require.Equal(t, 0, code)
	require.True(t, strings.HasPrefix(stdout.String(), dir+string(filepath.ListSeparator)))
}
