// ABOUTME: Message demultiplexer for the read half of a QAPI connection
// ABOUTME: Classifies each line as reply or event and resolves replies through the pending table

package qapi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/2389/qapi/internal/qmp"
	"github.com/2389/qapi/internal/wire"
)

// MessageKind classifies one processed line.
type MessageKind int

const (
	KindReply MessageKind = iota
	KindEvent
	KindEOF
)

func (k MessageKind) String() string {
	switch k {
	case KindReply:
		return "reply"
	case KindEvent:
		return "event"
	case KindEOF:
		return "eof"
	default:
		return "unknown"
	}
}

// Message is the result of ProcessMessage. ID is set for replies and Event
// for events.
type Message struct {
	Kind  MessageKind
	ID    uint64
	Event *qmp.Event
}

// Events owns the read half of a connection. It is not safe for concurrent
// use: exactly one goroutine drives it.
type Events struct {
	lines       *lineReader
	pending     *pendingTable
	supportsOOB bool
	logger      *slog.Logger

	err error
	eof bool
}

func newEvents(lines *lineReader, pending *pendingTable, supportsOOB bool, logger *slog.Logger) *Events {
	return &Events{
		lines:       lines,
		pending:     pending,
		supportsOOB: supportsOOB,
		logger:      logger,
	}
}

// ProcessMessage reads and classifies the next line. End of input yields
// KindEOF, also on every later call. Read and decode errors are fatal: they
// fail all outstanding commands and are returned again on every later call.
func (e *Events) ProcessMessage() (Message, error) {
	if e.err != nil {
		return Message{}, e.err
	}
	if e.eof {
		return Message{Kind: KindEOF}, nil
	}

	line, err := e.lines.next()
	if errors.Is(err, io.EOF) {
		e.eof = true
		e.pending.close(ErrDisconnected)
		e.logger.Debug("end of QAPI stream")
		return Message{Kind: KindEOF}, nil
	}
	if err != nil {
		return Message{}, e.terminate(fmt.Errorf("%w: reading: %w", ErrDisconnected, err))
	}

	env, err := wire.Decode(line)
	if err != nil {
		return Message{}, e.terminate(fmt.Errorf("%w: %w", ErrMalformedMessage, err))
	}

	if env.Event != nil {
		ev := qmp.NewEvent(env.Event)
		e.logger.Debug("event received", "event", ev.Name)
		return Message{Kind: KindEvent, Event: ev}, nil
	}

	id, err := e.processResponse(env.Response)
	if err != nil {
		return Message{}, e.terminate(err)
	}
	return Message{Kind: KindReply, ID: id}, nil
}

// processResponse validates the reply id against the id scheme and fulfils
// the matching completion handle.
func (e *Events) processResponse(res *wire.Response) (uint64, error) {
	var id uint64
	n, numeric := res.NumericID()
	switch {
	case e.supportsOOB && numeric:
		id = n
	case !e.supportsOOB && !res.HasID():
		id = 0
	case e.supportsOOB:
		return 0, fmt.Errorf("%w, got %s", ErrMissingID, describeID(res))
	default:
		return 0, fmt.Errorf("%w, got %s", ErrUnexpectedID, describeID(res))
	}

	o := outcome{ret: res.Return}
	if res.Error != nil {
		o.err = res.Error
	}
	if !e.pending.resolve(id, o) {
		return 0, fmt.Errorf("%w %d", ErrUnknownID, id)
	}

	e.logger.Debug("reply received", "id", id, "error", res.Error != nil)
	return id, nil
}

func describeID(res *wire.Response) string {
	if !res.HasID() {
		return "none"
	}
	return string(res.ID)
}

// terminate records a fatal reader error and fails outstanding commands.
func (e *Events) terminate(err error) error {
	e.err = err
	e.pending.close(fmt.Errorf("%w: %w", ErrDisconnected, err))
	e.logger.Warn("QAPI reader terminated", "error", err)
	return err
}

// Err returns the fatal error that stopped the reader, if any.
func (e *Events) Err() error {
	return e.err
}

// NextEvent drives the reader until the next event, resolving replies on
// the way. It returns io.EOF at the end of the stream.
func (e *Events) NextEvent() (*qmp.Event, error) {
	for {
		msg, err := e.ProcessMessage()
		if err != nil {
			return nil, err
		}
		switch msg.Kind {
		case KindEvent:
			return msg.Event, nil
		case KindEOF:
			return nil, io.EOF
		}
	}
}

// Spin drives the reader until the end of the stream, discarding events.
// It returns nil at end of stream and the fatal error otherwise.
func (e *Events) Spin() error {
	for {
		msg, err := e.ProcessMessage()
		if err != nil {
			return err
		}
		switch msg.Kind {
		case KindEOF:
			return nil
		case KindEvent:
			e.logger.Debug("spin ignoring event", "event", msg.Event.Name)
		}
	}
}
