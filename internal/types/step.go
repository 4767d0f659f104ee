// SPDX-License-Identifier: AGPL-3.0-or-later
package types

import "time"

// Step kinds dispatched by the executor layer.
const (
	StepPackages     = "packages"
	StepRepo         = "repo"
	StepCommand      = "command"
	StepBuild        = "build"
	StepDownload     = "download"
	StepGithubRel    = "github_release"
	StepConfig       = "config"
	StepService      = "service"
	StepShellProfile = "shell_profile"
	StepKernelModule = "kernel_module"
	StepNotify       = "notify"
	StepVerify       = "verify"
)

// Risk buckets assigned to steps and plans.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Restart scopes a step may require after completion.
const (
	RestartNone    = ""
	RestartShell   = "shell"
	RestartService = "service"
	RestartSystem  = "system"
)

// Step is a single unit of work inside a plan. Steps are immutable once the
// plan is built; the scheduler only reads them and records outcomes separately.
type Step struct {
	ID              string            `json:"id"`
	Type            string            `json:"type"`
	Label           string            `json:"label"`
	Command         string            `json:"command,omitempty"`
	NeedsSudo       bool              `json:"needs_sudo"`
	Risk            string            `json:"risk"`
	DependsOn       []string          `json:"depends_on,omitempty"`
	Timeout         time.Duration     `json:"timeout,omitempty"`
	Cwd             string            `json:"cwd,omitempty"`
	Rollback        string            `json:"rollback,omitempty"`
	RestartRequired string            `json:"restart_required,omitempty"`
	PMAffinity      string            `json:"pm_affinity,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	PostEnv         map[string]string `json:"post_env,omitempty"`

	// Per-kind payloads. Exactly one is set for the non-command kinds.
	Packages []string          `json:"packages,omitempty"`
	Download *DownloadSpec     `json:"download,omitempty"`
	Release  *ReleaseSpec      `json:"release,omitempty"`
	Config   *ConfigSpec       `json:"config,omitempty"`
	Service  *ServiceSpec      `json:"service,omitempty"`
	Profile  *ShellProfileSpec `json:"shell_profile,omitempty"`
	Module   string            `json:"module,omitempty"`
	Message  string            `json:"message,omitempty"`
}

// DownloadSpec describes a checksum-verified artifact fetch.
type DownloadSpec struct {
	URL          string            `yaml:"url" json:"url"`
	Dest         string            `yaml:"dest" json:"dest"`
	SHA256       string            `yaml:"sha256" json:"sha256,omitempty"`
	SizeHint     int64             `yaml:"size_hint" json:"size_hint,omitempty"`
	Resume       bool              `yaml:"resume" json:"resume,omitempty"`
	AuthBearer   string            `yaml:"auth_bearer" json:"auth_bearer,omitempty"`
	AuthBasic    string            `yaml:"auth_basic" json:"auth_basic,omitempty"`
	Headers      map[string]string `yaml:"headers" json:"headers,omitempty"`
	RunWithShell string            `yaml:"run_with_shell" json:"run_with_shell,omitempty"`
	Mode         uint32            `yaml:"mode" json:"mode,omitempty"`
}

// ReleaseSpec describes a GitHub release binary install.
type ReleaseSpec struct {
	Repo         string `yaml:"repo" json:"repo"` // owner/name
	Tag          string `yaml:"tag" json:"tag,omitempty"`
	AssetPattern string `yaml:"asset_pattern" json:"asset_pattern,omitempty"`
	Binary       string `yaml:"binary" json:"binary"`
	TargetDir    string `yaml:"target_dir" json:"target_dir"`
	SHA256       string `yaml:"sha256" json:"sha256,omitempty"`
}

// ConfigSpec describes a templated configuration-file write.
type ConfigSpec struct {
	Path        string            `yaml:"path" json:"path"`
	Template    string            `yaml:"template" json:"template"`
	Values      map[string]string `yaml:"values" json:"values,omitempty"`
	Inputs      []InputDecl       `yaml:"inputs" json:"inputs,omitempty"`
	Format      string            `yaml:"format" json:"format,omitempty"` // json|yaml|ini
	JSONSchema  string            `yaml:"json_schema" json:"json_schema,omitempty"`
	Mode        uint32            `yaml:"mode" json:"mode,omitempty"`
	Owner       string            `yaml:"owner" json:"owner,omitempty"`
	PostCommand string            `yaml:"post_command" json:"post_command,omitempty"`
}

// InputDecl declares the type, range and pattern an input value must satisfy
// before it may be rendered into a config file.
type InputDecl struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"` // string|int|bool|password|path
	Required bool   `yaml:"required" json:"required,omitempty"`
	Default  string `yaml:"default" json:"default,omitempty"`
	Min      *int   `yaml:"min" json:"min,omitempty"`
	Max      *int   `yaml:"max" json:"max,omitempty"`
	Pattern  string `yaml:"pattern" json:"pattern,omitempty"`
}

// ServiceSpec describes an init-system operation.
type ServiceSpec struct {
	Name   string `yaml:"name" json:"name"`
	Action string `yaml:"action" json:"action"` // start|stop|restart|enable|disable|status
}

// ShellProfileSpec describes a marker-guarded shell rc edit.
type ShellProfileSpec struct {
	File   string   `yaml:"file" json:"file"`
	Marker string   `yaml:"marker" json:"marker"`
	Lines  []string `yaml:"lines" json:"lines"`
}

// StepResult is the uniform outcome shape every executor returns.
type StepResult struct {
	StepID          string            `json:"step_id"`
	OK              bool              `json:"ok"`
	Skipped         bool              `json:"skipped,omitempty"`
	Message         string            `json:"message,omitempty"`
	Error           string            `json:"error,omitempty"`
	Hint            string            `json:"hint,omitempty"`
	ExitCode        int               `json:"exit_code,omitempty"`
	Duration        time.Duration     `json:"duration,omitempty"`
	PostEnv         map[string]string `json:"post_env,omitempty"`
	RestartRequired string            `json:"restart_required,omitempty"`
	NeedsSudo       bool              `json:"needs_sudo,omitempty"`
	StartedAt       time.Time         `json:"started_at,omitempty"`
	FinishedAt      time.Time         `json:"finished_at,omitempty"`
}
