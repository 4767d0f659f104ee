// SPDX-License-Identifier: AGPL-3.0-or-later
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// CmdSpec describes one subprocess invocation.
type CmdSpec struct {
	Command      string
	Sudo         bool
	SudoPassword string
	Timeout      time.Duration
	Cwd          string
	Env          map[string]string
	Stdout       io.Writer
	Stderr       io.Writer
}

// CmdResult is the uniform subprocess outcome.
type CmdResult struct {
	ExitCode   int
	Err        error
	StderrTail string
	TimedOut   bool
}

// RunFunc executes one subprocess. Tests substitute a fake.
type RunFunc func(ctx context.Context, spec CmdSpec) CmdResult

const stderrTailLimit = 2048

// tailWriter retains the last stderrTailLimit bytes written through it.
type tailWriter struct {
	buf bytes.Buffer
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	if w.buf.Len() > stderrTailLimit {
		trimmed := w.buf.Bytes()[w.buf.Len()-stderrTailLimit:]
		var next bytes.Buffer
		next.Write(trimmed)
		w.buf = next
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	return strings.TrimSpace(w.buf.String())
}

// runSubprocess is the production RunFunc. Elevated commands run through
// `sudo -S` with the password piped to stdin; the password never touches the
// command line, state file or logs.
func runSubprocess(ctx context.Context, spec CmdSpec) CmdResult {
	if strings.TrimSpace(spec.Command) == "" {
		return CmdResult{ExitCode: -1, Err: errors.New("empty command")}
	}

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if spec.Sudo {
		cmd = exec.CommandContext(ctx, "sudo", "-S", "-p", "", "sh", "-c", spec.Command)
		cmd.Stdin = strings.NewReader(spec.SudoPassword + "\n")
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", spec.Command)
	}

	if spec.Cwd != "" {
		cmd.Dir = spec.Cwd
	}

	env := os.Environ()
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	tail := &tailWriter{}
	if spec.Stdout != nil {
		cmd.Stdout = spec.Stdout
	}
	if spec.Stderr != nil {
		cmd.Stderr = io.MultiWriter(spec.Stderr, tail)
	} else {
		cmd.Stderr = tail
	}

	err := cmd.Run()
	result := CmdResult{StderrTail: tail.String()}
	if err == nil {
		return result
	}

	result.Err = err
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		return result
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	} else {
		result.ExitCode = -1
	}
	return result
}
