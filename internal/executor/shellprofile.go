// SPDX-License-Identifier: AGPL-3.0-or-later
package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/toolup-org/toolup/internal/types"
)

// runShellProfile appends a marker-guarded block to a shell rc file. A second
// run against the same marker is a no-op so repeated installs never stack
// duplicate exports.
func (x *Executor) runShellProfile(step types.Step, res types.StepResult) types.StepResult {
	spec := step.Profile
	if spec == nil {
		res.OK = false
		res.Error = fmt.Sprintf("step %s: missing shell profile spec", step.ID)
		return res
	}
	if spec.Marker == "" {
		res.OK = false
		res.Error = fmt.Sprintf("step %s: shell profile edit requires a marker", step.ID)
		return res
	}

	path := spec.File
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			res.OK = false
			res.Error = fmt.Sprintf("step %s: %v", step.ID, err)
			return res
		}
		path = filepath.Join(home, path[2:])
	}

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		res.OK = false
		res.Error = fmt.Sprintf("step %s: read %s: %v", step.ID, path, err)
		return res
	}
	marker := "# " + spec.Marker
	if strings.Contains(string(existing), marker) {
		res.OK = true
		res.Skipped = true
		res.Message = fmt.Sprintf("%s already contains %s block", path, spec.Marker)
		return res
	}

	var b strings.Builder
	b.Write(existing)
	if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		b.WriteString("\n")
	}
	b.WriteString(marker + " -- begin\n")
	for _, line := range spec.Lines {
		b.WriteString(line + "\n")
	}
	b.WriteString(marker + " -- end\n")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		res.OK = false
		res.Error = fmt.Sprintf("step %s: %v", step.ID, err)
		return res
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		res.OK = false
		res.Error = fmt.Sprintf("step %s: write %s: %v", step.ID, path, err)
		return res
	}
	res.OK = true
	res.Message = fmt.Sprintf("updated %s (%s)", path, spec.Marker)
	return res
}
