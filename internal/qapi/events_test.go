// ABOUTME: Tests for the message demultiplexer and line framing
// ABOUTME: Feeds canned streams through ProcessMessage, NextEvent and Spin

package qapi

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventsFrom(input string, oob bool) (*Events, *pendingTable) {
	pending := newPendingTable()
	return newEvents(newLineReader(strings.NewReader(input), DefaultMaxLineSize), pending, oob, testLogger()), pending
}

func TestLineReader_SkipsBlankLinesAndCR(t *testing.T) {
	l := newLineReader(strings.NewReader("\n  \r\n{\"a\":1}\r\n\n{\"b\":2}"), DefaultMaxLineSize)

	line, err := l.next()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(line))

	line, err = l.next()
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, string(line))

	_, err = l.next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestLineReader_LineTooLong(t *testing.T) {
	l := newLineReader(strings.NewReader(strings.Repeat("x", 256)+"\n"), 64)
	_, err := l.next()
	assert.ErrorIs(t, err, bufio.ErrTooLong)
}

func TestEvents_ClassifiesEvent(t *testing.T) {
	e, _ := eventsFrom(`{"event":"SHUTDOWN","data":{"guest":true,"reason":"guest-shutdown"},"timestamp":{"seconds":1700000000,"microseconds":250}}`+"\n", false)

	msg, err := e.ProcessMessage()
	require.NoError(t, err)
	assert.Equal(t, KindEvent, msg.Kind)
	require.NotNil(t, msg.Event)
	assert.Equal(t, "SHUTDOWN", msg.Event.Name)
	assert.Equal(t, int64(1700000000), msg.Event.Timestamp.Seconds)
	assert.Equal(t, int64(250), msg.Event.Timestamp.Microseconds)

	var data struct {
		Guest  bool   `json:"guest"`
		Reason string `json:"reason"`
	}
	require.NoError(t, msg.Event.DecodeData(&data))
	assert.True(t, data.Guest)
	assert.Equal(t, "guest-shutdown", data.Reason)
}

func TestEvents_ResolvesReply(t *testing.T) {
	e, pending := eventsFrom(`{"return":{"status":"running"},"id":5}`+"\n", true)
	ch, err := pending.insert(5)
	require.NoError(t, err)

	msg, err := e.ProcessMessage()
	require.NoError(t, err)
	assert.Equal(t, KindReply, msg.Kind)
	assert.Equal(t, uint64(5), msg.ID)

	o := <-ch
	require.NoError(t, o.err)
	assert.JSONEq(t, `{"status":"running"}`, string(o.ret))
}

func TestEvents_EOFIsSticky(t *testing.T) {
	e, pending := eventsFrom("", false)
	ch, err := pending.insert(0)
	require.NoError(t, err)

	for range 3 {
		msg, err := e.ProcessMessage()
		require.NoError(t, err)
		assert.Equal(t, KindEOF, msg.Kind)
	}

	o := <-ch
	assert.ErrorIs(t, o.err, ErrDisconnected)
	assert.NoError(t, e.Err())
}

func TestEvents_FatalErrorIsSticky(t *testing.T) {
	e, _ := eventsFrom("not json\n"+`{"event":"STOP","timestamp":{"seconds":0,"microseconds":0}}`+"\n", false)

	_, err := e.ProcessMessage()
	require.ErrorIs(t, err, ErrMalformedMessage)

	_, err = e.ProcessMessage()
	assert.ErrorIs(t, err, ErrMalformedMessage)
	assert.ErrorIs(t, e.Err(), ErrMalformedMessage)
}

func TestEvents_NextEventSkipsReplies(t *testing.T) {
	input := strings.Join([]string{
		`{"return":{}}`,
		`{"event":"STOP","timestamp":{"seconds":1,"microseconds":0}}`,
		`{"event":"RESUME","timestamp":{"seconds":2,"microseconds":0}}`,
	}, "\n")
	e, pending := eventsFrom(input, false)
	ch, err := pending.insert(0)
	require.NoError(t, err)

	ev, err := e.NextEvent()
	require.NoError(t, err)
	assert.Equal(t, "STOP", ev.Name)

	o := <-ch
	assert.NoError(t, o.err)

	ev, err = e.NextEvent()
	require.NoError(t, err)
	assert.Equal(t, "RESUME", ev.Name)

	_, err = e.NextEvent()
	assert.ErrorIs(t, err, io.EOF)
}

func TestEvents_SpinDiscardsEvents(t *testing.T) {
	input := `{"event":"RESET","timestamp":{"seconds":1,"microseconds":0}}` + "\n" + `{"return":{}}` + "\n"
	e, pending := eventsFrom(input, false)
	ch, err := pending.insert(0)
	require.NoError(t, err)

	assert.NoError(t, e.Spin())
	o := <-ch
	assert.NoError(t, o.err)
}

func TestEvents_ErrorReplyDeliveredToHandle(t *testing.T) {
	e, pending := eventsFrom(`{"error":{"class":"GenericError","desc":"boom"}}`+"\n", false)
	ch, err := pending.insert(0)
	require.NoError(t, err)

	msg, err := e.ProcessMessage()
	require.NoError(t, err)
	assert.Equal(t, KindReply, msg.Kind)

	o := <-ch
	assert.EqualError(t, o.err, "GenericError: boom")
}

func TestMessageKind_String(t *testing.T) {
	assert.Equal(t, "reply", KindReply.String())
	assert.Equal(t, "event", KindEvent.String())
	assert.Equal(t, "eof", KindEOF.String())
	assert.Equal(t, "unknown", MessageKind(9).String())
}
