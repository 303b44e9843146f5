// ABOUTME: Typed QMP commands and their return payloads
// ABOUTME: Each command marshals to its "arguments" object and reports whether it may run out-of-band

package qmp

// QMPCapabilities leaves capability negotiation mode. Returns wire.Empty.
type QMPCapabilities struct {
	Enable []Capability `json:"enable,omitempty"`
}

func (QMPCapabilities) CommandName() string { return "qmp_capabilities" }
func (QMPCapabilities) AllowOOB() bool      { return false }

// QueryStatus returns StatusInfo.
type QueryStatus struct{}

func (QueryStatus) CommandName() string { return "query-status" }
func (QueryStatus) AllowOOB() bool      { return false }

// StatusInfo is the run state of the virtual machine.
type StatusInfo struct {
	Running    bool   `json:"running"`
	Singlestep bool   `json:"singlestep,omitempty"`
	Status     string `json:"status"`
}

// QueryVersion returns VersionInfo.
type QueryVersion struct{}

func (QueryVersion) CommandName() string { return "query-version" }
func (QueryVersion) AllowOOB() bool      { return false }

// QueryCommands returns []CommandInfo.
type QueryCommands struct{}

func (QueryCommands) CommandName() string { return "query-commands" }
func (QueryCommands) AllowOOB() bool      { return false }

// CommandInfo names one command the server supports.
type CommandInfo struct {
	Name string `json:"name"`
}

// Stop pauses guest execution.
type Stop struct{}

func (Stop) CommandName() string { return "stop" }
func (Stop) AllowOOB() bool      { return false }

// Cont resumes guest execution.
type Cont struct{}

func (Cont) CommandName() string { return "cont" }
func (Cont) AllowOOB() bool      { return false }

// SystemPowerdown requests an ACPI shutdown.
type SystemPowerdown struct{}

func (SystemPowerdown) CommandName() string { return "system_powerdown" }
func (SystemPowerdown) AllowOOB() bool      { return false }

// SystemReset resets the machine.
type SystemReset struct{}

func (SystemReset) CommandName() string { return "system_reset" }
func (SystemReset) AllowOOB() bool      { return false }

// Quit terminates QEMU.
type Quit struct{}

func (Quit) CommandName() string { return "quit" }
func (Quit) AllowOOB() bool      { return false }

// HumanMonitorCommand runs an HMP command line. Returns a string.
type HumanMonitorCommand struct {
	CommandLine string `json:"command-line"`
	CPUIndex    *int   `json:"cpu-index,omitempty"`
}

func (HumanMonitorCommand) CommandName() string { return "human-monitor-command" }
func (HumanMonitorCommand) AllowOOB() bool      { return false }

// XOOBTest is QEMU's out-of-band test command.
type XOOBTest struct {
	Lock bool `json:"lock"`
}

func (XOOBTest) CommandName() string { return "x-oob-test" }
func (XOOBTest) AllowOOB() bool      { return true }

// MigrateRecover resumes a paused postcopy migration.
type MigrateRecover struct {
	URI string `json:"uri"`
}

func (MigrateRecover) CommandName() string { return "migrate-recover" }
func (MigrateRecover) AllowOOB() bool      { return true }

// MigratePause pauses a postcopy migration.
type MigratePause struct{}

func (MigratePause) CommandName() string { return "migrate-pause" }
func (MigratePause) AllowOOB() bool      { return true }
