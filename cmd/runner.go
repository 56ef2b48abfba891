package cmd

import (
	"context"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/pkg/errors"
)

// exitCodeNotFound mirrors the shell's status for a command it cannot find.
const exitCodeNotFound = 127

// exitCodeSignalBase is added to the signal number of a child killed by a
// signal, like the shell's $?.
const exitCodeSignalBase = 128

// ProcessRunner starts one invocation and blocks until it terminates. The
// returned exit code is meaningful even when err is non-nil.
type ProcessRunner interface {
	Run(ctx context.Context, inv Invocation) (int, error)
}

// execRunner runs invocations as child processes sharing the launcher's
// stdio and environment.
type execRunner struct {
	stdout io.Writer
	stderr io.Writer
}

func newExecRunner() *execRunner {
	return &execRunner{stdout: os.Stdout, stderr: os.Stderr}
}

func (r *execRunner) Run(ctx context.Context, inv Invocation) (int, error) {
	cmd := exec.CommandContext(ctx, inv.Path, inv.Args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr

	if len(inv.Env) > 0 {
		env := os.Environ()
		for k, v := range inv.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitStatus(exitErr), errors.Wrapf(err, "%s exited", inv.Name)
	}

	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return exitCodeNotFound, errors.Wrapf(err, "start %s", inv.Name)
	}

	return -1, errors.Wrapf(err, "run %s", inv.Name)
}

func exitStatus(exitErr *exec.ExitError) int {
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return exitCodeSignalBase + int(ws.Signal())
	}
	return exitErr.ExitCode()
}
