// ABOUTME: Subset of the QEMU guest agent schema used by the client engine
// ABOUTME: guest-sync for the connection handshake plus a few informational commands

package qga

// GuestSync echoes ID back. Used to flush stale replies at connection setup.
// Returns int64.
type GuestSync struct {
	ID int64 `json:"id"`
}

func (GuestSync) CommandName() string { return "guest-sync" }
func (GuestSync) AllowOOB() bool      { return false }

// GuestPing checks that the agent is responsive. Returns wire.Empty.
type GuestPing struct{}

func (GuestPing) CommandName() string { return "guest-ping" }
func (GuestPing) AllowOOB() bool      { return false }

// GuestInfo returns Info.
type GuestInfo struct{}

func (GuestInfo) CommandName() string { return "guest-info" }
func (GuestInfo) AllowOOB() bool      { return false }

// Info describes the agent build and its command set.
type Info struct {
	Version           string        `json:"version"`
	SupportedCommands []CommandInfo `json:"supported_commands"`
}

// CommandInfo reports one agent command and whether it is enabled.
type CommandInfo struct {
	Name            string `json:"name"`
	Enabled         bool   `json:"enabled"`
	SuccessResponse bool   `json:"success-response"`
}

// GuestGetHostName returns HostName.
type GuestGetHostName struct{}

func (GuestGetHostName) CommandName() string { return "guest-get-host-name" }
func (GuestGetHostName) AllowOOB() bool      { return false }

// HostName is the guest's host name.
type HostName struct {
	HostName string `json:"host-name"`
}

// GuestGetTime returns the guest clock in nanoseconds since the epoch (int64).
type GuestGetTime struct{}

func (GuestGetTime) CommandName() string { return "guest-get-time" }
func (GuestGetTime) AllowOOB() bool      { return false }

// ShutdownMode selects how GuestShutdown stops the guest.
type ShutdownMode string

const (
	ShutdownPowerdown ShutdownMode = "powerdown"
	ShutdownHalt      ShutdownMode = "halt"
	ShutdownReboot    ShutdownMode = "reboot"
)

// GuestShutdown asks the guest to shut down. The agent sends no reply on success.
type GuestShutdown struct {
	Mode ShutdownMode `json:"mode,omitempty"`
}

func (GuestShutdown) CommandName() string { return "guest-shutdown" }
func (GuestShutdown) AllowOOB() bool      { return false }
