// SPDX-License-Identifier: AGPL-3.0-or-later

// Package executor runs individual plan steps. Dispatch is purely on step
// type; every executor returns a uniform StepResult and never lets a panic or
// raw platform error escape its boundary.
package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/toolup-org/toolup/internal/events"
	"github.com/toolup-org/toolup/internal/sysprofile"
	"github.com/toolup-org/toolup/internal/types"
)

// SudoRequiredError is recoverable: the caller re-invokes with a password.
type SudoRequiredError struct {
	Step string
}

func (e *SudoRequiredError) Error() string {
	return fmt.Sprintf("step %s requires sudo; supply a password", e.Step)
}

// CommandFailedError carries the captured stderr tail and, where the executor
// can infer one, a remediation hint.
type CommandFailedError struct {
	Step     string
	ExitCode int
	Stderr   string
	Hint     string
}

func (e *CommandFailedError) Error() string {
	msg := fmt.Sprintf("step %s failed with exit code %d", e.Step, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// ChecksumMismatchError rejects an artifact whose digest does not match.
type ChecksumMismatchError struct {
	Path string
	Want string
	Got  string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Path, e.Want, e.Got)
}

// SecureBootError refuses a kernel-module load on a Secure Boot host.
type SecureBootError struct {
	Module string
}

func (e *SecureBootError) Error() string {
	return fmt.Sprintf("cannot load kernel module %s: Secure Boot is enabled", e.Module)
}

// ErrTimeout marks a step that exceeded its deadline.
var ErrTimeout = errors.New("step timed out")

// Executor dispatches steps to their per-kind implementations. All
// collaborators are injected; Run is replaceable in tests.
type Executor struct {
	Profile      *sysprofile.Profile
	Sink         events.Sink
	PlanID       string
	SudoPassword string
	Redactor     func(string) string
	Run          RunFunc
	HTTPClient   *http.Client
}

// New returns an executor using the real subprocess runner.
func New(profile *sysprofile.Profile) *Executor {
	return &Executor{
		Profile:    profile,
		Run:        runSubprocess,
		HTTPClient: &http.Client{Timeout: 30 * time.Minute},
	}
}

// Execute runs one step and always returns a result; panics and platform
// errors are converted into the uniform shape.
func (x *Executor) Execute(ctx context.Context, step types.Step) (res types.StepResult) {
	res = types.StepResult{StepID: step.ID, StartedAt: time.Now().UTC()}
	defer func() {
		if r := recover(); r != nil {
			res.OK = false
			res.Error = fmt.Sprintf("step %s panicked: %v", step.ID, r)
		}
		res.FinishedAt = time.Now().UTC()
		res.Duration = res.FinishedAt.Sub(res.StartedAt)
		if res.OK && step.RestartRequired != types.RestartNone {
			res.RestartRequired = step.RestartRequired
		}
		if res.OK && len(step.PostEnv) > 0 {
			res.PostEnv = step.PostEnv
		}
	}()

	if step.NeedsSudo && !x.Profile.IsRoot && x.SudoPassword == "" {
		err := &SudoRequiredError{Step: step.ID}
		res.OK = false
		res.NeedsSudo = true
		res.Error = err.Error()
		return res
	}

	switch step.Type {
	case types.StepPackages:
		return x.runPackages(ctx, step, res)
	case types.StepRepo, types.StepCommand, types.StepVerify:
		return x.runCommand(ctx, step, res)
	case types.StepBuild:
		return x.runBuild(ctx, step, res)
	case types.StepDownload:
		return x.runDownload(ctx, step, res)
	case types.StepGithubRel:
		return x.runGithubRelease(ctx, step, res)
	case types.StepConfig:
		return x.runConfig(ctx, step, res)
	case types.StepService:
		return x.runService(ctx, step, res)
	case types.StepShellProfile:
		return x.runShellProfile(step, res)
	case types.StepKernelModule:
		return x.runKernelModule(ctx, step, res)
	case types.StepNotify:
		return x.runNotify(step, res)
	default:
		res.OK = false
		res.Error = fmt.Sprintf("unknown step type %q", step.Type)
		return res
	}
}

// runCommand executes a plain shell command step.
func (x *Executor) runCommand(ctx context.Context, step types.Step, res types.StepResult) types.StepResult {
	out := x.exec(ctx, step, step.Command)
	return x.finish(step, res, out, "")
}

// exec funnels every subprocess through the injected runner with the step's
// sudo, timeout, cwd and env applied, streaming output as log events.
func (x *Executor) exec(ctx context.Context, step types.Step, command string) CmdResult {
	stdout := events.NewStepWriter(x.Sink, x.PlanID, step.ID, nil, x.Redactor)
	stderr := events.NewStepWriter(x.Sink, x.PlanID, step.ID, nil, x.Redactor)
	defer stdout.Flush()
	defer stderr.Flush()

	spec := CmdSpec{
		Command:      command,
		Sudo:         step.NeedsSudo && !x.Profile.IsRoot,
		SudoPassword: x.SudoPassword,
		Timeout:      step.Timeout,
		Cwd:          step.Cwd,
		Env:          step.Env,
		Stdout:       stdout,
		Stderr:       stderr,
	}
	return x.Run(ctx, spec)
}

// finish converts a CmdResult into the step's uniform result.
func (x *Executor) finish(step types.Step, res types.StepResult, out CmdResult, hint string) types.StepResult {
	res.ExitCode = out.ExitCode
	if out.Err == nil {
		res.OK = true
		return res
	}
	res.OK = false
	if out.TimedOut {
		res.Error = fmt.Sprintf("step %s: %v after %s", step.ID, ErrTimeout, step.Timeout)
		return res
	}
	cf := &CommandFailedError{Step: step.ID, ExitCode: out.ExitCode, Stderr: out.StderrTail, Hint: hint}
	res.Error = cf.Error()
	res.Hint = hint
	return res
}

func (x *Executor) runNotify(step types.Step, res types.StepResult) types.StepResult {
	if x.Sink != nil && step.Message != "" {
		x.Sink.EmitLog(x.PlanID, step.ID, step.Message)
	}
	res.OK = true
	res.Message = step.Message
	return res
}
