// ABOUTME: QMP connection setup: read the greeting, fix OOB support, negotiate capabilities
// ABOUTME: The capabilities command and the first reader step run concurrently and must both succeed

package qapi

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/2389/qapi/internal/qmp"
	"github.com/2389/qapi/internal/wire"
)

// NegotiateQMP performs the QMP handshake on r and w. The returned Events
// must be driven (NextEvent, Spin or ProcessMessage) for any command issued
// on the Stream to complete. On failure nothing is returned and the closer
// registered with WithCloser, if any, has been closed.
//
// A blocked read cannot be interrupted by ctx alone. Without WithCloser a
// cancelled handshake leaves its reader goroutine running until r returns,
// and that goroutine may consume the next line written to r.
func NegotiateQMP(ctx context.Context, r io.Reader, w io.Writer, opts ...Option) (*qmp.Greeting, *Stream, *Events, error) {
	o := newOptions(opts)
	logger := o.logger.With("component", "qmp")
	lines := newLineReader(r, o.maxLineSize)

	line, err := lines.next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		closeQuietly(o.closer)
		return nil, nil, nil, fmt.Errorf("reading QMP greeting: %w", err)
	}

	greeting, err := qmp.DecodeGreeting(line)
	if err != nil {
		closeQuietly(o.closer)
		return nil, nil, nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	supportsOOB := greeting.Has(qmp.CapabilityOOB) && !o.disableOOB

	pending := newPendingTable()
	events := newEvents(lines, pending, supportsOOB, logger)
	stream := newStream(w, o.closer, pending, supportsOOB, logger)

	var enable []qmp.Capability
	if supportsOOB {
		enable = append(enable, qmp.CapabilityOOB)
	}

	if err := negotiateCapabilities(ctx, stream, events, enable); err != nil {
		stream.fail(err)
		return nil, nil, nil, err
	}

	logger.Info("QMP capabilities negotiated",
		"version", greeting.QMP.Version.String(),
		"advertised", greeting.Capabilities(),
		"oob", supportsOOB,
	)
	return greeting, stream, events, nil
}

func negotiateCapabilities(ctx context.Context, s *Stream, events *Events, enable []qmp.Capability) error {
	return handshake(ctx, events,
		func(ctx context.Context) error {
			var ret wire.Empty
			if err := s.Execute(ctx, qmp.QMPCapabilities{Enable: enable}, &ret); err != nil {
				return fmt.Errorf("%w: %w", ErrNegotiation, err)
			}
			return nil
		},
		func(msg Message) error {
			switch msg.Kind {
			case KindReply:
				return nil
			case KindEOF:
				return fmt.Errorf("negotiating QMP capabilities: %w", io.ErrUnexpectedEOF)
			default:
				return fmt.Errorf("%w: %s", ErrUnexpectedEvent, msg.Event.Name)
			}
		},
	)
}

// handshake runs a setup command concurrently with exactly one reader
// step. When both fail, a reader failure wins over the cancellation or
// disconnection it caused on the command side.
func handshake(ctx context.Context, events *Events, command func(context.Context) error, check func(Message) error) error {
	var cmdErr, readErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cmdErr = command(gctx)
		return cmdErr
	})
	g.Go(func() error {
		readErr = readOne(gctx, events, check)
		return readErr
	})
	_ = g.Wait()

	if readErr != nil && !errors.Is(readErr, context.Canceled) {
		return readErr
	}
	if cmdErr != nil {
		return cmdErr
	}
	return readErr
}

// readOne performs a single ProcessMessage. The read itself cannot be
// interrupted, so on cancellation it is left to finish once the transport
// is closed.
func readOne(ctx context.Context, events *Events, check func(Message) error) error {
	type result struct {
		msg Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := events.ProcessMessage()
		ch <- result{msg, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return r.err
		}
		return check(r.msg)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
