// Package qapi is a client engine for QAPI-based line-delimited JSON
// protocols: the QEMU Machine Protocol (QMP) and the QEMU guest agent (QGA).
//
// # Overview
//
// A connection is split into two halves that share a pending table:
//
//   - Stream: the write half. Issues commands and waits for their replies.
//   - Events: the read half. Reads one line at a time, hands replies to the
//     waiting command and returns events to the caller.
//
// Commands only complete while Events is being driven, by NextEvent, Spin
// or ProcessMessage. Conn does that on its own goroutine.
//
// # Handshakes
//
// NegotiateQMP reads the greeting, decides whether out-of-band execution is
// used and sends qmp_capabilities:
//
//	greeting, stream, events, err := qapi.NegotiateQMP(ctx, r, w)
//
// NegotiateQGA sends guest-sync with a random token and requires it echoed:
//
//	stream, events, err := qapi.NegotiateQGA(ctx, r, w)
//
// In both cases the setup command and the first reader step run
// concurrently, so a peer that answers with an event or hangs up fails the
// handshake instead of deadlocking it.
//
// # Reply Correlation
//
// With out-of-band support every command carries a numeric id from a
// counter starting at zero, and replies may arrive in any order. Without it
// no id is sent, every command uses the reserved id 0 and at most one
// command is in flight; later commands wait for the write lock.
//
// A reply whose id does not fit the scheme, or names no pending command,
// ends the reader. Every pending command then fails with an error wrapping
// ErrDisconnected, as it does when the peer hangs up.
//
// # Errors
//
// A refused command returns *wire.Error:
//
//	var qerr *wire.Error
//	if errors.As(err, &qerr) && qerr.Class == wire.ErrorClassCommandNotFound {
//	    ...
//	}
//
// Transport loss is errors.Is(err, qapi.ErrDisconnected).
//
// # Connections
//
// Dial, DialQMP and DialQGA open a socket, run the handshake and start the
// reader. QMP events are delivered through Subscribe:
//
//	conn, err := qapi.DialQMP(ctx, "unix", "/run/qemu/vm1.qmp")
//	events, err := conn.Subscribe(ctx, "STOP", "RESUME")
//	err = conn.Execute(ctx, qmp.Stop{}, nil)
package qapi
