// ABOUTME: Error sentinels for the QAPI command/response engine
// ABOUTME: Separates transport, decode, negotiation and option errors from remote *wire.Error replies

package qapi

import "errors"

// ErrDisconnected is wrapped by every error caused by the connection going
// away before a reply arrived.
var ErrDisconnected = errors.New("QAPI stream disconnected")

// Decode errors. Each one terminates the reader.
var (
	ErrMalformedMessage = errors.New("malformed QAPI message")
	ErrMissingID        = errors.New("expected QAPI reply with numeric id")
	ErrUnexpectedID     = errors.New("expected QAPI reply without id")
	ErrUnknownID        = errors.New("QAPI reply for unknown id")
)

// Handshake errors.
var (
	ErrNegotiation       = errors.New("QMP capability negotiation failed")
	ErrUnexpectedEvent   = errors.New("unexpected QMP event during negotiation")
	ErrUnexpectedMessage = errors.New("unexpected message during guest sync")
	ErrSyncMismatch      = errors.New("guest sync failed")
)

// Out-of-band execution errors.
var (
	ErrOOBUnsupported = errors.New("connection does not support out-of-band execution")
	ErrOOBNotAllowed  = errors.New("command does not allow out-of-band execution")
)

// ErrNoEvents is returned when subscribing to a connection without a
// notification channel.
var ErrNoEvents = errors.New("protocol has no event stream")
