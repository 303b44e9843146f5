// ABOUTME: Guest agent connection setup: synchronize the channel with a random guest-sync token
// ABOUTME: The sync command and the first reader step run concurrently and must both succeed

package qapi

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/2389/qapi/internal/qga"
)

// NegotiateQGA synchronizes a guest agent channel on r and w. The guest
// agent has no greeting and no out-of-band support. The returned Events
// must be driven with Spin for the lifetime of the connection. As with
// NegotiateQMP, only WithCloser releases a reader blocked on r when ctx is
// cancelled.
func NegotiateQGA(ctx context.Context, r io.Reader, w io.Writer, opts ...Option) (*Stream, *Events, error) {
	o := newOptions(opts)
	logger := o.logger.With("component", "qga")

	pending := newPendingTable()
	events := newEvents(newLineReader(r, o.maxLineSize), pending, false, logger)
	stream := newStream(w, o.closer, pending, false, logger)

	token := o.syncToken
	if !o.hasSyncToken {
		token = newSyncToken()
	}

	if err := guestSync(ctx, stream, events, token); err != nil {
		stream.fail(err)
		return nil, nil, err
	}

	logger.Info("guest agent synchronized", "token", token)
	return stream, events, nil
}

// newSyncToken draws a token unlikely to collide with another open channel.
func newSyncToken() int64 {
	return int64(uuid.New().ID())
}

func guestSync(ctx context.Context, s *Stream, events *Events, token int64) error {
	return handshake(ctx, events,
		func(ctx context.Context) error {
			var echoed int64
			if err := s.Execute(ctx, qga.GuestSync{ID: token}, &echoed); err != nil {
				return fmt.Errorf("syncing guest agent: %w", err)
			}
			if echoed != token {
				return fmt.Errorf("%w: sent %d, got %d", ErrSyncMismatch, token, echoed)
			}
			return nil
		},
		func(msg Message) error {
			switch msg.Kind {
			case KindReply:
				return nil
			case KindEOF:
				return fmt.Errorf("syncing guest agent: %w", io.ErrUnexpectedEOF)
			default:
				return fmt.Errorf("%w: %s %s", ErrUnexpectedMessage, msg.Kind, msg.Event.Name)
			}
		},
	)
}
