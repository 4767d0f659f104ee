// SPDX-License-Identifier: AGPL-3.0-or-later

// Package recipe holds the static description of how one tool is installed,
// verified, updated and removed across package managers, plus the registry
// that loads and serves those descriptions as immutable reference data.
package recipe

import "github.com/toolup-org/toolup/internal/types"

// Recipe describes one installable tool. A registry entry is never mutated;
// callers that need to fold user choices in receive a deep copy first.
type Recipe struct {
	ID               string              `yaml:"id" json:"id"`
	Label            string              `yaml:"label" json:"label"`
	Install          map[string]string   `yaml:"install" json:"install"`
	NeedsSudo        map[string]bool     `yaml:"needs_sudo" json:"needs_sudo,omitempty"`
	PreferredMethods []string            `yaml:"preferred_methods" json:"preferred_methods,omitempty"`
	RepoSetup        map[string][]string `yaml:"repo_setup" json:"repo_setup,omitempty"`
	Requires         Requirements        `yaml:"requires" json:"requires"`
	Choices          []Choice            `yaml:"choices" json:"choices,omitempty"`
	Inputs           []InputField        `yaml:"inputs" json:"inputs,omitempty"`
	PostInstall      []Action            `yaml:"post_install" json:"post_install,omitempty"`
	Verify           string              `yaml:"verify" json:"verify"`
	VerifyBinary     string              `yaml:"verify_binary" json:"verify_binary,omitempty"`
	Update           string              `yaml:"update" json:"update,omitempty"`
	Remove           string              `yaml:"remove" json:"remove,omitempty"`
	Risk             string              `yaml:"risk" json:"risk,omitempty"`
	RestartRequired  string              `yaml:"restart_required" json:"restart_required,omitempty"`
	Rollback         string              `yaml:"rollback" json:"rollback,omitempty"`
	PostEnv          map[string]string   `yaml:"post_env" json:"post_env,omitempty"`
}

// Requirements lists what must be present before (or supplied by) an install.
type Requirements struct {
	Binaries  []string             `yaml:"binaries" json:"binaries,omitempty"`
	Packages  map[string][]string  `yaml:"packages" json:"packages,omitempty"`   // platform family -> package names
	Hardware  []HardwareConstraint `yaml:"hardware" json:"hardware,omitempty"`
	Platforms []string             `yaml:"platforms" json:"platforms,omitempty"`
	Network   []string             `yaml:"network" json:"network,omitempty"`     // hosts that must be reachable
}

// HardwareConstraint is a dot-path lookup into the system profile's hardware
// facts with boolean, ">=" or list-membership semantics.
type HardwareConstraint struct {
	Path  string `yaml:"path" json:"path"`
	Op    string `yaml:"op" json:"op"`                 // true|eq|gte|in
	Value any    `yaml:"value" json:"value,omitempty"`
}

// Choice is a user-facing decision point. Resolution never deletes options,
// it only annotates availability.
type Choice struct {
	ID       string           `yaml:"id" json:"id"`
	Label    string           `yaml:"label" json:"label"`
	Options  []Option         `yaml:"options" json:"options"`
	Default  string           `yaml:"default" json:"default,omitempty"`
	Versions *VersionStrategy `yaml:"versions" json:"versions,omitempty"`
}

// Option is one selectable value of a Choice.
type Option struct {
	ID              string            `yaml:"id" json:"id"`
	Label           string            `yaml:"label" json:"label"`
	Requires        Requirements      `yaml:"requires" json:"requires,omitempty"`
	Default         bool              `yaml:"default" json:"default,omitempty"`
	Risk            string            `yaml:"risk" json:"risk,omitempty"`
	InstallOverride map[string]string `yaml:"install_override" json:"install_override,omitempty"`
	EnableHint      string            `yaml:"enable_hint" json:"enable_hint,omitempty"`
}

// VersionStrategy selects how installable versions are enumerated.
type VersionStrategy struct {
	Mode     string   `yaml:"mode" json:"mode"`                     // static|package_manager|dynamic
	Static   []string `yaml:"static" json:"static,omitempty"`
	Repo     string   `yaml:"repo" json:"repo,omitempty"`           // owner/name for dynamic
	CacheTTL int      `yaml:"cache_ttl" json:"cache_ttl,omitempty"` // seconds
}

// InputField is a user-supplied value consumed by post-install config writes.
type InputField struct {
	Name     string `yaml:"name" json:"name"`
	Label    string `yaml:"label" json:"label,omitempty"`
	Type     string `yaml:"type" json:"type"`                   // string|int|bool|password|path
	Default  string `yaml:"default" json:"default,omitempty"`
	Required bool   `yaml:"required" json:"required,omitempty"`
	Min      *int   `yaml:"min" json:"min,omitempty"`
	Max      *int   `yaml:"max" json:"max,omitempty"`
	Pattern  string `yaml:"pattern" json:"pattern,omitempty"`
	When     string `yaml:"when" json:"when,omitempty"`         // condition expression; empty means unconditioned
}

// Action is a post-install step filtered by an environment condition.
type Action struct {
	ID              string                  `yaml:"id" json:"id"`
	Label           string                  `yaml:"label" json:"label,omitempty"`
	Type            string                  `yaml:"type" json:"type"`
	Command         string                  `yaml:"command" json:"command,omitempty"`
	When            string                  `yaml:"when" json:"when,omitempty"`
	NeedsSudo       bool                    `yaml:"needs_sudo" json:"needs_sudo,omitempty"`
	Risk            string                  `yaml:"risk" json:"risk,omitempty"`
	Rollback        string                  `yaml:"rollback" json:"rollback,omitempty"`
	RestartRequired string                  `yaml:"restart_required" json:"restart_required,omitempty"`
	Service         *types.ServiceSpec      `yaml:"service" json:"service,omitempty"`
	Config          *types.ConfigSpec       `yaml:"config" json:"config,omitempty"`
	Profile         *types.ShellProfileSpec `yaml:"shell_profile" json:"shell_profile,omitempty"`
	Download        *types.DownloadSpec     `yaml:"download" json:"download,omitempty"`
	Module          string                  `yaml:"module" json:"module,omitempty"`
	Message         string                  `yaml:"message" json:"message,omitempty"`
}

// Clone returns a deep copy of the recipe. Registry lookups hand out clones
// so choice application can never touch the shared table.
func (r *Recipe) Clone() *Recipe {
	if r == nil {
		return nil
	}
	out := *r
	out.Install = cloneStringMap(r.Install)
	out.NeedsSudo = cloneBoolMap(r.NeedsSudo)
	out.PreferredMethods = append([]string(nil), r.PreferredMethods...)
	out.RepoSetup = cloneSliceMap(r.RepoSetup)
	out.Requires = r.Requires.clone()
	out.PostEnv = cloneStringMap(r.PostEnv)

	out.Choices = make([]Choice, len(r.Choices))
	for i, c := range r.Choices {
		cc := c
		cc.Options = make([]Option, len(c.Options))
		for j, o := range c.Options {
			oo := o
			oo.Requires = o.Requires.clone()
			oo.InstallOverride = cloneStringMap(o.InstallOverride)
			cc.Options[j] = oo
		}
		if c.Versions != nil {
			v := *c.Versions
			v.Static = append([]string(nil), c.Versions.Static...)
			cc.Versions = &v
		}
		out.Choices[i] = cc
	}

	out.Inputs = append([]InputField(nil), r.Inputs...)
	out.PostInstall = make([]Action, len(r.PostInstall))
	for i, a := range r.PostInstall {
		out.PostInstall[i] = a.clone()
	}
	return &out
}

func (q Requirements) clone() Requirements {
	out := q
	out.Binaries = append([]string(nil), q.Binaries...)
	out.Platforms = append([]string(nil), q.Platforms...)
	out.Network = append([]string(nil), q.Network...)
	out.Hardware = append([]HardwareConstraint(nil), q.Hardware...)
	out.Packages = cloneSliceMap(q.Packages)
	return out
}

func (a Action) clone() Action {
	out := a
	if a.Service != nil {
		s := *a.Service
		out.Service = &s
	}
	if a.Config != nil {
		c := *a.Config
		c.Values = cloneStringMap(a.Config.Values)
		out.Config = &c
	}
	if a.Profile != nil {
		p := *a.Profile
		out.Profile = &p
	}
	if a.Download != nil {
		d := *a.Download
		d.Headers = cloneStringMap(a.Download.Headers)
		out.Download = &d
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneBoolMap(m map[string]bool) map[string]bool {
	if m == nil {
		return nil
	}
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneSliceMap(m map[string][]string) map[string][]string {
	if m == nil {
		return nil
	}
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}
