// ABOUTME: Command issuer for the write half of a QAPI connection
// ABOUTME: Allocates ids, registers completion handles, writes commands and awaits replies

package qapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/2389/qapi/internal/wire"
)

// Stream issues commands on a negotiated connection. It is safe for
// concurrent use. Replies are only delivered while the matching Events is
// being driven.
type Stream struct {
	w       io.Writer
	closer  io.Closer
	pending *pendingTable
	logger  *slog.Logger

	// writeSem guards w. Without OOB it is also held for the whole
	// request/response cycle, which keeps the reserved id 0 single-use.
	writeSem    *semaphore.Weighted
	supportsOOB bool
	nextID      atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

func newStream(w io.Writer, closer io.Closer, pending *pendingTable, supportsOOB bool, logger *slog.Logger) *Stream {
	return &Stream{
		w:           w,
		closer:      closer,
		pending:     pending,
		logger:      logger,
		writeSem:    semaphore.NewWeighted(1),
		supportsOOB: supportsOOB,
	}
}

// SupportsOOB reports whether commands carry ids and may be in flight
// concurrently. It never changes after the handshake.
func (s *Stream) SupportsOOB() bool {
	return s.supportsOOB
}

// Pending returns the number of commands awaiting a reply.
func (s *Stream) Pending() int {
	return s.pending.len()
}

// Execute runs cmd and decodes its return payload into ret (nil discards
// it). A command refused by the remote side returns its *wire.Error; a lost
// connection returns an error wrapping ErrDisconnected.
func (s *Stream) Execute(ctx context.Context, cmd wire.Command, ret any) error {
	return s.executeTyped(ctx, cmd, ret, false)
}

// ExecuteOOB runs cmd out-of-band. It fails with ErrOOBUnsupported on
// connections without OOB support and with ErrOOBNotAllowed for commands
// that cannot run out-of-band; neither case writes anything.
func (s *Stream) ExecuteOOB(ctx context.Context, cmd wire.Command, ret any) error {
	if !cmd.AllowOOB() {
		return fmt.Errorf("%w: %s", ErrOOBNotAllowed, cmd.CommandName())
	}
	return s.executeTyped(ctx, cmd, ret, true)
}

func (s *Stream) executeTyped(ctx context.Context, cmd wire.Command, ret any, oob bool) error {
	raw, err := s.execute(ctx, cmd.CommandName(), oob, func(id *uint64) ([]byte, error) {
		return wire.EncodeCommand(cmd, id, oob)
	})
	if err != nil {
		return err
	}
	if ret == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, ret); err != nil {
		return fmt.Errorf("decoding %s reply: %w", cmd.CommandName(), err)
	}
	return nil
}

// ExecuteRaw runs a command by name with pre-encoded arguments and returns
// the raw return payload.
func (s *Stream) ExecuteRaw(ctx context.Context, name string, args json.RawMessage, oob bool) (json.RawMessage, error) {
	return s.execute(ctx, name, oob, func(id *uint64) ([]byte, error) {
		return wire.EncodeRaw(name, args, id, oob)
	})
}

func (s *Stream) execute(ctx context.Context, name string, oob bool, encode func(id *uint64) ([]byte, error)) (json.RawMessage, error) {
	if oob && !s.supportsOOB {
		return nil, fmt.Errorf("%w: %s", ErrOOBUnsupported, name)
	}

	var id uint64
	var idp *uint64
	if s.supportsOOB {
		id = s.nextID.Add(1) - 1
		idp = &id
	}

	encoded, err := encode(idp)
	if err != nil {
		return nil, err
	}
	encoded = append(encoded, '\n')

	if err := s.writeSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	// Registered before writing so the reader always finds the entry.
	done, err := s.pending.insert(id)
	if err != nil {
		s.writeSem.Release(1)
		return nil, err
	}

	if _, err := s.w.Write(encoded); err != nil {
		s.pending.remove(id)
		s.writeSem.Release(1)
		werr := fmt.Errorf("%w: writing %s: %w", ErrDisconnected, name, err)
		s.fail(werr)
		return nil, werr
	}

	s.logger.Debug("command sent", "command", name, "id", id, "oob", oob)

	if s.supportsOOB {
		s.writeSem.Release(1)
	}

	select {
	case o := <-done:
		if !s.supportsOOB {
			s.writeSem.Release(1)
		}
		return o.ret, o.err

	case <-ctx.Done():
		if !s.supportsOOB {
			// id 0 stays registered until its reply or shutdown, so the
			// write lock is only released then.
			go func() {
				<-done
				s.writeSem.Release(1)
			}()
		}
		s.logger.Debug("command abandoned", "command", name, "id", id, "error", ctx.Err())
		return nil, ctx.Err()
	}
}

// fail shuts the stream down after an unrecoverable error: outstanding
// commands fail with err and the transport is closed.
func (s *Stream) fail(err error) {
	if n := s.pending.close(err); n > 0 {
		s.logger.Debug("failed outstanding commands", "count", n, "error", err)
	}
	s.closeTransport()
}

func (s *Stream) closeTransport() {
	s.closeOnce.Do(func() {
		if s.closer != nil {
			s.closeErr = s.closer.Close()
		}
	})
}

// Close fails every outstanding command with ErrDisconnected and closes the
// transport closer, if one was registered. It is safe to call repeatedly.
func (s *Stream) Close() error {
	s.pending.close(ErrDisconnected)
	s.closeTransport()
	return s.closeErr
}
