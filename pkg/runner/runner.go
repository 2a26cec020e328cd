// Package runner spawns external processes (git, python, pip) behind a
// narrow interface so callers can substitute a fake in tests.
package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"

	tomeerrors "github.com/tomecli/tome/pkg/errors"
	"github.com/tomecli/tome/pkg/logging"
)

// Runner executes a command and reports its exit code together with the
// combined stdout/stderr output. A non-zero exit is not an error; err is
// only returned when the process could not be started at all.
type Runner interface {
	Run(ctx context.Context, args []string, cwd string) (code int, output string, err error)
}

// Exec runs commands with os/exec.
type Exec struct {
	// Env, if non-nil, replaces the inherited environment.
	Env []string
}

var _ Runner = &Exec{}

func (e *Exec) Run(ctx context.Context, args []string, cwd string) (int, string, error) {
	if len(args) == 0 {
		return -1, "", tomeerrors.New(tomeerrors.ErrCommandNotFound, "empty command")
	}

	logger := logging.GetLogger("runner")
	logger.Debug().Strs("args", args).Str("cwd", cwd).Msg("Executing command")

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = cwd
	if e.Env != nil {
		cmd.Env = e.Env
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return 0, out.String(), nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), out.String(), nil
	}

	if ctx.Err() != nil {
		return -1, out.String(), ctx.Err()
	}
	return -1, out.String(), tomeerrors.Wrapf(err, tomeerrors.ErrCommandNotFound, "cannot run '%s'", args[0])
}
