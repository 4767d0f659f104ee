// SPDX-License-Identifier: AGPL-3.0-or-later
package types

import "strings"

var pmTokens = []struct {
	token string
	pm    string
}{
	{"apt-get", "apt"}, {"apt ", "apt"}, {"dpkg", "apt"},
	{"dnf", "dnf"}, {"yum", "dnf"}, {"rpm ", "dnf"},
	{"pacman", "pacman"},
	{"zypper", "zypper"},
	{"apk ", "apk"},
	{"brew", "brew"},
	{"snap ", "snap"},
}

// InferAffinity sniffs the package manager a command would lock. Used to keep
// steps that share a package-manager lock from running concurrently.
func InferAffinity(command string) string {
	cmd := strings.ToLower(command) + " "
	for _, t := range pmTokens {
		if strings.Contains(cmd, t.token) {
			return t.pm
		}
	}
	return ""
}
