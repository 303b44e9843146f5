// ABOUTME: Connection lifecycle on top of the handshakes: dial, run the reader goroutine, close
// ABOUTME: QMP events are fanned out through an eventbus; guest agent traffic is spun and discarded

package qapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/2389/qapi/internal/eventbus"
	"github.com/2389/qapi/internal/qmp"
)

// Protocol selects the handshake used when opening a connection.
type Protocol string

const (
	ProtocolQMP Protocol = "qmp"
	ProtocolQGA Protocol = "qga"
)

// ParseProtocol validates a protocol name.
func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(s); p {
	case ProtocolQMP, ProtocolQGA:
		return p, nil
	default:
		return "", fmt.Errorf("unknown protocol %q (want qmp or qga)", s)
	}
}

// Conn is a negotiated connection whose reader runs in its own goroutine.
// Commands are issued through the embedded Stream.
type Conn struct {
	*Stream

	protocol Protocol
	greeting *qmp.Greeting
	events   *Events
	bus      *eventbus.Broadcaster
	logger   *slog.Logger

	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// Dial connects to addr and performs the handshake for protocol.
func Dial(ctx context.Context, protocol Protocol, network, addr string, opts ...Option) (*Conn, error) {
	switch protocol {
	case ProtocolQMP:
		return DialQMP(ctx, network, addr, opts...)
	case ProtocolQGA:
		return DialQGA(ctx, network, addr, opts...)
	default:
		return nil, fmt.Errorf("unknown protocol %q", protocol)
	}
}

// DialQMP connects to a QMP monitor socket.
func DialQMP(ctx context.Context, network, addr string, opts ...Option) (*Conn, error) {
	nc, err := dial(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return NewQMPConn(ctx, nc, opts...)
}

// DialQGA connects to a guest agent channel.
func DialQGA(ctx context.Context, network, addr string, opts ...Option) (*Conn, error) {
	nc, err := dial(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return NewQGAConn(ctx, nc, opts...)
}

func dial(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s %s: %w", network, addr, err)
	}
	return nc, nil
}

// NewQMPConn negotiates QMP on rwc and starts the reader. rwc is owned by
// the returned Conn, and closed on failure.
func NewQMPConn(ctx context.Context, rwc io.ReadWriteCloser, opts ...Option) (*Conn, error) {
	o := newOptions(opts)

	var (
		greeting *qmp.Greeting
		stream   *Stream
		events   *Events
	)
	err := withTransportDeadline(ctx, rwc, func() error {
		var err error
		greeting, stream, events, err = NegotiateQMP(ctx, rwc, rwc, append(opts, WithCloser(rwc))...)
		return err
	})
	if err != nil {
		return nil, err
	}

	c := newConn(ProtocolQMP, stream, events, o.logger)
	c.greeting = greeting
	c.bus = eventbus.New(c.logger)
	go c.readEvents()
	return c, nil
}

// NewQGAConn synchronizes a guest agent channel on rwc and starts the
// reader. rwc is owned by the returned Conn, and closed on failure.
func NewQGAConn(ctx context.Context, rwc io.ReadWriteCloser, opts ...Option) (*Conn, error) {
	o := newOptions(opts)

	var (
		stream *Stream
		events *Events
	)
	err := withTransportDeadline(ctx, rwc, func() error {
		var err error
		stream, events, err = NegotiateQGA(ctx, rwc, rwc, append(opts, WithCloser(rwc))...)
		return err
	})
	if err != nil {
		return nil, err
	}

	c := newConn(ProtocolQGA, stream, events, o.logger)
	go c.spin()
	return c, nil
}

// withTransportDeadline runs a handshake that cannot observe ctx on its
// blocking reads by closing the transport when ctx ends first.
func withTransportDeadline(ctx context.Context, rwc io.Closer, negotiate func() error) error {
	stop := context.AfterFunc(ctx, func() {
		_ = rwc.Close()
	})
	err := negotiate()
	if !stop() {
		// ctx fired and the transport is gone, whatever negotiate returned.
		_ = rwc.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("negotiating: %w", ctxErr)
		}
		if err == nil {
			err = ErrDisconnected
		}
		return err
	}
	if err != nil {
		_ = rwc.Close()
	}
	return err
}

func newConn(protocol Protocol, stream *Stream, events *Events, logger *slog.Logger) *Conn {
	return &Conn{
		Stream:   stream,
		protocol: protocol,
		events:   events,
		logger:   logger.With("component", "conn", "protocol", string(protocol)),
		done:     make(chan struct{}),
	}
}

func (c *Conn) readEvents() {
	for {
		ev, err := c.events.NextEvent()
		if errors.Is(err, io.EOF) {
			c.finish(nil)
			return
		}
		if err != nil {
			c.finish(err)
			return
		}
		c.bus.Publish(ev)
	}
}

func (c *Conn) spin() {
	c.finish(c.events.Spin())
}

// finish runs once on the reader goroutine after it stops.
func (c *Conn) finish(err error) {
	if c.closing.Load() {
		err = nil
	}
	c.err = err
	_ = c.Stream.Close()
	if c.bus != nil {
		c.bus.Close()
	}
	if err != nil {
		c.logger.Warn("connection reader stopped", "error", err)
	} else {
		c.logger.Debug("connection reader stopped")
	}
	close(c.done)
}

// Protocol returns the protocol negotiated on this connection.
func (c *Conn) Protocol() Protocol {
	return c.protocol
}

// Greeting returns the QMP greeting, or nil for guest agent connections.
func (c *Conn) Greeting() *qmp.Greeting {
	return c.greeting
}

// Subscribe returns a channel of QMP events with the given names (all
// events when none are given). Events that arrive before a subscription is
// registered are not replayed. The channel closes when ctx ends or the
// connection stops.
func (c *Conn) Subscribe(ctx context.Context, names ...string) (<-chan *qmp.Event, error) {
	if c.bus == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoEvents, c.protocol)
	}
	ch, _ := c.bus.Subscribe(ctx, names...)
	return ch, nil
}

// Done is closed once the reader has stopped and every outstanding command
// has been failed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the reader stopped: nil after Close or a clean end of
// stream. It is only meaningful after Done is closed.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close closes the transport, waits for the reader to stop and fails all
// outstanding commands with ErrDisconnected. It is safe to call repeatedly.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		err = c.Stream.Close()
		<-c.done
	})
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}
