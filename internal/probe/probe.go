// SPDX-License-Identifier: AGPL-3.0-or-later

// Package probe inspects the live host and produces the read-only system
// profile consumed by resolution. Every check degrades gracefully: a fact
// that cannot be determined is simply absent.
package probe

import (
	"bufio"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/toolup-org/toolup/internal/sysprofile"
)

// pmPriority orders package managers for primary selection; the first one
// found on PATH wins.
var pmPriority = []string{"apt", "dnf", "pacman", "zypper", "apk", "brew"}

var osFamilyByID = map[string]string{
	"debian": "debian", "ubuntu": "debian", "linuxmint": "debian", "pop": "debian", "raspbian": "debian",
	"rhel": "rhel", "fedora": "rhel", "centos": "rhel", "rocky": "rhel", "almalinux": "rhel", "amzn": "rhel",
	"arch": "arch", "manjaro": "arch", "endeavouros": "arch",
	"opensuse": "suse", "opensuse-leap": "suse", "opensuse-tumbleweed": "suse", "sles": "suse",
	"alpine": "alpine",
}

// Detect probes the running host.
func Detect() *sysprofile.Profile {
	p := &sysprofile.Profile{
		Hardware: map[string]any{},
		Env:      map[string]string{},
	}

	p.OSFamily = detectOSFamily()
	for _, pm := range pmPriority {
		if _, err := exec.LookPath(pm); err == nil {
			p.AvailablePMs = append(p.AvailablePMs, pm)
			if p.PrimaryPM == "" {
				p.PrimaryPM = pm
			}
		}
	}
	if _, err := exec.LookPath("snap"); err == nil {
		p.SnapAvailable = true
	}
	if _, err := exec.LookPath("brew"); err == nil {
		p.BrewAvailable = true
	}

	p.IsRoot = os.Geteuid() == 0
	if _, err := exec.LookPath("sudo"); err == nil {
		p.HasSudo = true
	}

	p.InitSystem = detectInitSystem()
	p.HasSystemd = p.InitSystem == "systemd"

	p.Hardware["cpu_cores"] = runtime.NumCPU()
	p.Hardware["arch"] = runtime.GOARCH
	if mem := totalMemoryMB(); mem > 0 {
		p.Hardware["memory_mb"] = mem
	}
	if kernel := kernelRelease(); kernel != "" {
		p.Hardware["kernel"] = map[string]any{"version": kernel}
	}
	p.Hardware["secure_boot"] = secureBootEnabled()

	for _, key := range []string{"HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy"} {
		if v := os.Getenv(key); v != "" {
			p.ProxyURL = v
			break
		}
	}
	p.NetworkAvailable = networkAvailable()
	return p
}

func detectOSFamily() string {
	if runtime.GOOS == "darwin" {
		return "darwin"
	}
	f, err := os.Open("/etc/os-release")
	if err != nil {
		return ""
	}
	defer f.Close()

	var id string
	var idLike []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "ID="):
			id = strings.Trim(strings.TrimPrefix(line, "ID="), `"`)
		case strings.HasPrefix(line, "ID_LIKE="):
			idLike = strings.Fields(strings.Trim(strings.TrimPrefix(line, "ID_LIKE="), `"`))
		}
	}
	if fam, ok := osFamilyByID[id]; ok {
		return fam
	}
	for _, like := range idLike {
		if fam, ok := osFamilyByID[like]; ok {
			return fam
		}
	}
	return id
}

func detectInitSystem() string {
	if _, err := os.Stat("/run/systemd/system"); err == nil {
		return "systemd"
	}
	if _, err := exec.LookPath("rc-service"); err == nil {
		return "openrc"
	}
	if _, err := os.Stat("/etc/init.d"); err == nil {
		return "sysvinit"
	}
	return ""
}

func totalMemoryMB() int {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0
		}
		return kb / 1024
	}
	return 0
}

func kernelRelease() string {
	out, err := exec.Command("uname", "-r").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func secureBootEnabled() bool {
	// The SecureBoot efivar's last byte is 1 when enforcement is on.
	entries, err := os.ReadDir("/sys/firmware/efi/efivars")
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "SecureBoot-") {
			continue
		}
		data, err := os.ReadFile("/sys/firmware/efi/efivars/" + e.Name())
		if err != nil || len(data) == 0 {
			return false
		}
		return data[len(data)-1] == 1
	}
	return false
}

func networkAvailable() bool {
	conn, err := net.DialTimeout("tcp", "1.1.1.1:443", 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
