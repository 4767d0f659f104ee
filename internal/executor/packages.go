// SPDX-License-Identifier: AGPL-3.0-or-later
package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/toolup-org/toolup/internal/types"
)

type pmCommands struct {
	install string // %s replaced with the package list
	query   string // %s replaced with one package; exit 0 means installed
}

var pmTable = map[string]pmCommands{
	"apt":    {install: "apt-get install -y %s", query: "dpkg -s %s"},
	"dnf":    {install: "dnf install -y %s", query: "rpm -q %s"},
	"pacman": {install: "pacman -S --noconfirm %s", query: "pacman -Qi %s"},
	"zypper": {install: "zypper install -y %s", query: "rpm -q %s"},
	"apk":    {install: "apk add %s", query: "apk info -e %s"},
	"brew":   {install: "brew install %s", query: "brew list %s"},
}

// runPackages installs the batched system packages. It re-checks which of the
// listed packages are still missing immediately before installing, so drift
// between plan time and execution time is handled, and skips entirely when
// none remain.
func (x *Executor) runPackages(ctx context.Context, step types.Step, res types.StepResult) types.StepResult {
	pm := step.PMAffinity
	if pm == "" {
		pm = x.Profile.PrimaryPM
	}
	cmds, ok := pmTable[pm]
	if !ok {
		res.OK = false
		res.Error = fmt.Sprintf("step %s: unsupported package manager %q", step.ID, pm)
		return res
	}

	missing := make([]string, 0, len(step.Packages))
	for _, pkg := range step.Packages {
		probe := step
		probe.NeedsSudo = false
		out := x.exec(ctx, probe, fmt.Sprintf(cmds.query, pkg))
		if out.Err != nil {
			missing = append(missing, pkg)
		}
	}
	if len(missing) == 0 {
		res.OK = true
		res.Skipped = true
		res.Message = "all packages already installed"
		return res
	}

	out := x.exec(ctx, step, fmt.Sprintf(cmds.install, strings.Join(missing, " ")))
	res = x.finish(step, res, out, "")
	if res.OK {
		res.Message = fmt.Sprintf("installed %s", strings.Join(missing, ", "))
	}
	return res
}
