// SPDX-License-Identifier: AGPL-3.0-or-later
package executor

import (
	"context"
	"fmt"

	"github.com/toolup-org/toolup/internal/types"
)

// runService dispatches a service action to the host's init system. Status
// queries never elevate; everything else follows the step's sudo flag.
func (x *Executor) runService(ctx context.Context, step types.Step, res types.StepResult) types.StepResult {
	spec := step.Service
	if spec == nil {
		res.OK = false
		res.Error = fmt.Sprintf("step %s: missing service spec", step.ID)
		return res
	}

	cmd, err := serviceCommand(x.Profile.InitSystem, spec.Name, spec.Action)
	if err != nil {
		res.OK = false
		res.Error = fmt.Sprintf("step %s: %v", step.ID, err)
		return res
	}

	run := step
	if spec.Action == "status" {
		run.NeedsSudo = false
	}
	out := x.exec(ctx, run, cmd)
	r := x.finish(step, res, out, "")
	if r.OK {
		r.Message = fmt.Sprintf("service %s: %s", spec.Name, spec.Action)
	}
	return r
}

func serviceCommand(initSystem, name, action string) (string, error) {
	switch action {
	case "enable", "disable", "start", "stop", "restart", "status":
	default:
		return "", fmt.Errorf("unknown service action %q", action)
	}
	switch initSystem {
	case "systemd", "":
		return fmt.Sprintf("systemctl %s %s", action, name), nil
	case "openrc":
		switch action {
		case "enable":
			return fmt.Sprintf("rc-update add %s default", name), nil
		case "disable":
			return fmt.Sprintf("rc-update del %s default", name), nil
		default:
			return fmt.Sprintf("rc-service %s %s", name, action), nil
		}
	case "sysvinit":
		switch action {
		case "enable":
			return fmt.Sprintf("update-rc.d %s defaults", name), nil
		case "disable":
			return fmt.Sprintf("update-rc.d %s remove", name), nil
		default:
			return fmt.Sprintf("service %s %s", name, action), nil
		}
	default:
		return "", fmt.Errorf("unsupported init system %q", initSystem)
	}
}
