// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sysprofile consumes the externally supplied description of the host
// system. No probing logic lives here: the profile is produced by collaborators
// and treated as a read-only value object for the whole resolution.
package sysprofile

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Profile describes the host a plan will run against.
type Profile struct {
	OSFamily         string            `json:"os_family"` // debian|rhel|arch|suse|alpine|darwin
	PrimaryPM        string            `json:"primary_pm"`
	AvailablePMs     []string          `json:"available_pms,omitempty"`
	SnapAvailable    bool              `json:"snap_available,omitempty"`
	BrewAvailable    bool              `json:"brew_available,omitempty"`
	HasSudo          bool              `json:"has_sudo"`
	HasSystemd       bool              `json:"has_systemd"`
	InitSystem       string            `json:"init_system,omitempty"` // systemd|openrc|sysvinit
	IsRoot           bool              `json:"is_root"`
	Hardware         map[string]any    `json:"hardware,omitempty"`
	InstalledPkgs    map[string]bool   `json:"installed_pkgs,omitempty"`
	Binaries         map[string]bool   `json:"binaries,omitempty"` // known binary presence, overrides PATH lookup
	ProxyURL         string            `json:"proxy_url,omitempty"`
	NetworkAvailable bool              `json:"network_available"`
	Env              map[string]string `json:"env,omitempty"`
}

// LoadFile reads a profile JSON document produced by the probe collaborators.
func LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}

// HasBinary reports whether a binary is resolvable on the host. Explicit
// entries in the profile win; otherwise PATH is consulted.
func (p *Profile) HasBinary(name string) bool {
	if name == "" {
		return false
	}
	if v, ok := p.Binaries[name]; ok {
		return v
	}
	_, err := exec.LookPath(name)
	return err == nil
}

// HasPM reports whether the named package manager is usable on the host.
func (p *Profile) HasPM(name string) bool {
	if name == p.PrimaryPM {
		return true
	}
	for _, pm := range p.AvailablePMs {
		if pm == name {
			return true
		}
	}
	switch name {
	case "snap":
		return p.SnapAvailable
	case "brew":
		return p.BrewAvailable
	}
	return false
}

// PackageInstalled reports whether a system package is already present.
func (p *Profile) PackageInstalled(name string) bool {
	return p.InstalledPkgs[name]
}

// SecureBootEnabled reports the Secure Boot hardware fact.
func (p *Profile) SecureBootEnabled() bool {
	v, ok := p.Lookup("secure_boot")
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Lookup resolves a dot path (e.g. "gpu.vendor", "kernel.version") inside the
// hardware facts.
func (p *Profile) Lookup(path string) (any, bool) {
	var cur any = p.Hardware
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Satisfies evaluates a hardware constraint against the profile.
// Supported ops: "true" (boolean fact), "eq", "gte" (numeric or
// dotted-version compare) and "in" (list membership).
func (p *Profile) Satisfies(path, op string, want any) (bool, string) {
	got, ok := p.Lookup(path)
	if !ok {
		return false, fmt.Sprintf("hardware fact %q not present", path)
	}
	switch op {
	case "true", "":
		b, _ := got.(bool)
		if !b {
			return false, fmt.Sprintf("%s is not set", path)
		}
		return true, ""
	case "eq":
		if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false, fmt.Sprintf("%s is %v, need %v", path, got, want)
		}
		return true, ""
	case "gte":
		if compareVersions(fmt.Sprintf("%v", got), fmt.Sprintf("%v", want)) < 0 {
			return false, fmt.Sprintf("%s is %v, need >= %v", path, got, want)
		}
		return true, ""
	case "in":
		list, ok := want.([]any)
		if !ok {
			if sl, ok2 := want.([]string); ok2 {
				for _, s := range sl {
					list = append(list, s)
				}
			}
		}
		gs := fmt.Sprintf("%v", got)
		for _, item := range list {
			if fmt.Sprintf("%v", item) == gs {
				return true, ""
			}
		}
		return false, fmt.Sprintf("%s is %v, not in %v", path, got, want)
	default:
		return false, fmt.Sprintf("unknown op %q", op)
	}
}

// ExprEnv builds the environment handed to post-install condition expressions.
func (p *Profile) ExprEnv() map[string]any {
	env := map[string]any{
		"os_family":   p.OSFamily,
		"primary_pm":  p.PrimaryPM,
		"has_sudo":    p.HasSudo,
		"has_systemd": p.HasSystemd,
		"init_system": p.InitSystem,
		"is_root":     p.IsRoot,
		"has_network": p.NetworkAvailable,
		"secure_boot": p.SecureBootEnabled(),
	}
	for k, v := range p.Hardware {
		env[k] = v
	}
	return env
}

// compareVersions compares dotted numeric versions segment by segment.
// Non-numeric segments fall back to string comparison.
func compareVersions(a, b string) int {
	as := strings.Split(strings.TrimPrefix(a, "v"), ".")
	bs := strings.Split(strings.TrimPrefix(b, "v"), ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		// Missing segments count as zero so "2" equals "2.0.0".
		sa, sb := "0", "0"
		if i < len(as) {
			sa = as[i]
		}
		if i < len(bs) {
			sb = bs[i]
		}
		na, errA := strconv.Atoi(sa)
		nb, errB := strconv.Atoi(sb)
		if errA == nil && errB == nil {
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
			continue
		}
		if sa != sb {
			if sa < sb {
				return -1
			}
			return 1
		}
	}
	return 0
}
