// ABOUTME: QAPI wire envelope shared by the QMP and guest-agent protocols
// ABOUTME: Encodes execute/exec-oob commands and classifies decoded lines as replies or events

package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformed is returned when a line is valid JSON but neither a reply nor an event.
var ErrMalformed = errors.New("malformed QAPI message")

// Command is implemented by every typed QAPI command. The command value
// itself is marshalled as the "arguments" member.
type Command interface {
	CommandName() string
	AllowOOB() bool
}

// Empty is the return payload of commands that return nothing.
type Empty struct{}

// ErrorClass is the "class" member of a QAPI error reply.
type ErrorClass string

const (
	ErrorClassGeneric         ErrorClass = "GenericError"
	ErrorClassCommandNotFound ErrorClass = "CommandNotFound"
	ErrorClassDeviceNotActive ErrorClass = "DeviceNotActive"
	ErrorClassDeviceNotFound  ErrorClass = "DeviceNotFound"
	ErrorClassKVMMissingCap   ErrorClass = "KVMMissingCap"
)

// Error is a structured error returned by the remote side for a command it
// accepted syntactically but refused. It is a normal command outcome, not a
// transport failure.
type Error struct {
	Class ErrorClass `json:"class"`
	Desc  string     `json:"desc"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Class, e.Desc)
}

// Timestamp is the wall-clock time attached to events.
type Timestamp struct {
	Seconds      int64 `json:"seconds"`
	Microseconds int64 `json:"microseconds"`
}

// Time converts the timestamp to a time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(t.Seconds, t.Microseconds*int64(time.Microsecond))
}

// Response is a decoded command reply.
type Response struct {
	ID     json.RawMessage
	Return json.RawMessage
	Error  *Error
}

// HasID reports whether the reply carried an "id" member.
func (r *Response) HasID() bool {
	return len(r.ID) > 0 && !bytes.Equal(r.ID, []byte("null"))
}

// NumericID returns the reply id as an unsigned integer.
func (r *Response) NumericID() (uint64, bool) {
	if !r.HasID() {
		return 0, false
	}
	var id uint64
	if err := json.Unmarshal(r.ID, &id); err != nil {
		return 0, false
	}
	return id, true
}

// EventMessage is a decoded asynchronous notification.
type EventMessage struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp Timestamp       `json:"timestamp"`
}

// Envelope is one classified line. Exactly one of Response and Event is set.
type Envelope struct {
	Response *Response
	Event    *EventMessage
}

// wireMessage is the union of every member a server line may carry.
type wireMessage struct {
	Event     *string         `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp *Timestamp      `json:"timestamp"`
	ID        json.RawMessage `json:"id"`
	Return    json.RawMessage `json:"return"`
	Error     *Error          `json:"error"`
}

// Decode parses one line and classifies it. A line carrying "event" is a
// notification; a line carrying "return" or "error" is a reply; anything
// else is ErrMalformed.
func Decode(line []byte) (*Envelope, error) {
	var msg wireMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}

	if msg.Event != nil {
		ev := &EventMessage{Event: *msg.Event, Data: msg.Data}
		if msg.Timestamp != nil {
			ev.Timestamp = *msg.Timestamp
		}
		return &Envelope{Event: ev}, nil
	}

	switch {
	case msg.Error != nil:
		return &Envelope{Response: &Response{ID: msg.ID, Error: msg.Error}}, nil
	case msg.Return != nil:
		return &Envelope{Response: &Response{ID: msg.ID, Return: msg.Return}}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrMalformed, truncate(line, 120))
}

// commandMessage is the wire form of an outgoing command.
type commandMessage struct {
	Execute   string          `json:"execute,omitempty"`
	ExecOOB   string          `json:"exec-oob,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	ID        *uint64         `json:"id,omitempty"`
}

// EncodeCommand serializes a typed command. A nil id omits the "id" member;
// oob selects "exec-oob" over "execute". The result has no line terminator.
func EncodeCommand(cmd Command, id *uint64, oob bool) ([]byte, error) {
	args, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encoding %s arguments: %w", cmd.CommandName(), err)
	}
	return EncodeRaw(cmd.CommandName(), args, id, oob)
}

// EncodeRaw serializes a command given its name and already-encoded
// arguments. Empty, null and {} arguments are omitted.
func EncodeRaw(name string, args json.RawMessage, id *uint64, oob bool) ([]byte, error) {
	if name == "" {
		return nil, errors.New("command name is required")
	}

	msg := commandMessage{ID: id}
	if oob {
		msg.ExecOOB = name
	} else {
		msg.Execute = name
	}

	trimmed := bytes.TrimSpace(args)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) && !bytes.Equal(trimmed, []byte("{}")) {
		if trimmed[0] != '{' {
			return nil, fmt.Errorf("%s arguments must be a JSON object", name)
		}
		if !json.Valid(trimmed) {
			return nil, fmt.Errorf("%s arguments are not valid JSON", name)
		}
		msg.Arguments = trimmed
	}

	return json.Marshal(msg)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
