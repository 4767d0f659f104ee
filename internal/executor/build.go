// SPDX-License-Identifier: AGPL-3.0-or-later
package executor

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/toolup-org/toolup/internal/types"
)

// runBuild executes a build-from-source command. A parallelism flag is
// appended unless one is already present, a compiler cache is enabled when
// available, and failures are classified into an actionable hint.
func (x *Executor) runBuild(ctx context.Context, step types.Step, res types.StepResult) types.StepResult {
	command := step.Command
	if isMakeCommand(command) && !strings.Contains(command, "-j") {
		command = fmt.Sprintf("%s -j%d", command, runtime.NumCPU())
	}

	if x.Profile.HasBinary("ccache") {
		env := map[string]string{"CC": "ccache cc", "CXX": "ccache c++"}
		for k, v := range step.Env {
			env[k] = v
		}
		step.Env = env
	}

	run := step
	run.Command = command
	out := x.exec(ctx, run, command)
	hint := ""
	if out.Err != nil {
		hint = classifyBuildFailure(out.StderrTail)
	}
	return x.finish(step, res, out, hint)
}

func isMakeCommand(cmd string) bool {
	fields := strings.Fields(cmd)
	for _, f := range fields {
		base := f
		if idx := strings.LastIndex(base, "/"); idx >= 0 {
			base = base[idx+1:]
		}
		if base == "make" || base == "ninja" {
			return true
		}
	}
	return false
}

// classifyBuildFailure pattern-matches stderr into a remediation hint.
func classifyBuildFailure(stderr string) string {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "no such file") && strings.Contains(lower, ".h"):
		return "a header file is missing; install the corresponding -dev/-devel package"
	case strings.Contains(lower, "fatal error:") && strings.Contains(lower, ".h"):
		return "a header file is missing; install the corresponding -dev/-devel package"
	case strings.Contains(lower, "cannot find -l"):
		return "a library is missing; install the corresponding -dev/-devel package"
	case strings.Contains(lower, "undefined reference"):
		return "a library is missing or out of date; check linked library versions"
	case strings.Contains(lower, "killed") || strings.Contains(lower, "out of memory"):
		return "the build ran out of memory; retry with fewer parallel jobs"
	case strings.Contains(lower, "command not found") && (strings.Contains(lower, "cc") || strings.Contains(lower, "gcc") || strings.Contains(lower, "g++") || strings.Contains(lower, "clang")):
		return "no compiler found; install gcc or clang"
	case strings.Contains(lower, "permission denied"):
		return "permission denied; the build may need elevation or a writable prefix"
	default:
		return ""
	}
}
