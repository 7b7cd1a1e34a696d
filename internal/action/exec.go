package action

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

const shellTimeout = 60 * time.Second

type shellResult struct {
	stdout   string
	stderr   string
	exitCode int
	signal   string
	err      error
}

// runShell executes an already-rendered shell command line with captured
// output. Admin-supplied commands run through the shell deliberately; they
// are trusted configuration, same as plugin commands.
func runShell(ctx context.Context, cmdline string) shellResult {
	runCtx, cancel := context.WithTimeout(ctx, shellTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", cmdline)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := shellResult{
		stdout: stdout.String(),
		stderr: stderr.String(),
		err:    err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.exitCode = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(interface{ Signaled() bool }); ok && ws.Signaled() {
			res.signal = exitErr.String()
		}
	}
	return res
}
