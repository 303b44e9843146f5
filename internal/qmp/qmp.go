// ABOUTME: Subset of the QEMU Machine Protocol schema used by the client engine
// ABOUTME: Greeting, capability negotiation, lifecycle commands and the event type

package qmp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2389/qapi/internal/wire"
)

// ErrNotGreeting is returned when the first line of a QMP session is not a greeting.
var ErrNotGreeting = errors.New("not a QMP greeting")

// Capability is an optional protocol feature advertised in the greeting.
type Capability string

const (
	CapabilityOOB Capability = "oob"
)

// VersionTriple is the numeric QEMU version.
type VersionTriple struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Micro int `json:"micro"`
}

// VersionInfo describes the running QEMU.
type VersionInfo struct {
	QEMU    VersionTriple `json:"qemu"`
	Package string        `json:"package"`
}

func (v VersionInfo) String() string {
	return fmt.Sprintf("%d.%d.%d%s", v.QEMU.Major, v.QEMU.Minor, v.QEMU.Micro, v.Package)
}

// Greeting is the first line a QMP server sends.
type Greeting struct {
	QMP struct {
		Version      VersionInfo  `json:"version"`
		Capabilities []Capability `json:"capabilities"`
	} `json:"QMP"`
}

// Capabilities returns the optional capabilities the server advertised.
func (g *Greeting) Capabilities() []Capability {
	return g.QMP.Capabilities
}

// Has reports whether the server advertised the capability.
func (g *Greeting) Has(c Capability) bool {
	for _, have := range g.QMP.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// DecodeGreeting parses a greeting line.
func DecodeGreeting(line []byte) (*Greeting, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, fmt.Errorf("decoding greeting: %w", err)
	}
	if _, ok := probe["QMP"]; !ok {
		return nil, ErrNotGreeting
	}

	var g Greeting
	if err := json.Unmarshal(line, &g); err != nil {
		return nil, fmt.Errorf("decoding greeting: %w", err)
	}
	return &g, nil
}

// Event is an asynchronous QMP notification.
type Event struct {
	Name      string
	Data      json.RawMessage
	Timestamp wire.Timestamp
}

// NewEvent converts a decoded wire notification.
func NewEvent(m *wire.EventMessage) *Event {
	return &Event{Name: m.Event, Data: m.Data, Timestamp: m.Timestamp}
}

// Time returns the server-side time of the event.
func (e *Event) Time() time.Time {
	return e.Timestamp.Time()
}

// DecodeData unmarshals the event payload into v.
func (e *Event) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Well-known event names.
const (
	EventStop      = "STOP"
	EventResume    = "RESUME"
	EventShutdown  = "SHUTDOWN"
	EventReset     = "RESET"
	EventPowerdown = "POWERDOWN"
)
