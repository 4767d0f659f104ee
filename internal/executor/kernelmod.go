// SPDX-License-Identifier: AGPL-3.0-or-later
package executor

import (
	"context"
	"fmt"

	"github.com/toolup-org/toolup/internal/types"
)

// runKernelModule loads a module with modprobe. On a Secure Boot host the
// load is refused outright: an unsigned module would fail anyway, with a far
// less actionable error from the kernel.
func (x *Executor) runKernelModule(ctx context.Context, step types.Step, res types.StepResult) types.StepResult {
	if step.Module == "" {
		res.OK = false
		res.Error = fmt.Sprintf("step %s: missing kernel module name", step.ID)
		return res
	}

	if x.Profile.SecureBootEnabled() {
		err := &SecureBootError{Module: step.Module}
		res.OK = false
		res.Error = err.Error()
		res.Hint = "sign the module with your MOK key, or disable Secure Boot in firmware settings"
		return res
	}

	out := x.exec(ctx, step, "modprobe "+step.Module)
	r := x.finish(step, res, out, "check that the module is installed for the running kernel (uname -r)")
	if r.OK {
		r.Message = "loaded kernel module " + step.Module
	}
	return r
}
