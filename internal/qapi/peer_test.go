// ABOUTME: Scripted in-memory peer used by the qapi tests
// ABOUTME: Wires a client to io.Pipe pairs so each test drives the remote side line by line

package qapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	greetingOOB   = `{"QMP":{"version":{"qemu":{"major":9,"minor":1,"micro":0},"package":""},"capabilities":["oob"]}}`
	greetingNoOOB = `{"QMP":{"version":{"qemu":{"major":9,"minor":1,"micro":0},"package":""},"capabilities":[]}}`
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// peer is the remote end of a client under test.
type peer struct {
	t     *testing.T
	lines *bufio.Scanner
	out   *io.PipeWriter
	in    *io.PipeReader
}

// pipeCloser closes the client ends of both pipes.
type pipeCloser struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (c pipeCloser) Close() error {
	_ = c.r.Close()
	return c.w.Close()
}

// newPeer returns the reader, writer and closer a client should use, and
// the peer driving the other end.
func newPeer(t *testing.T) (io.Reader, io.Writer, io.Closer, *peer) {
	t.Helper()
	clientR, peerW := io.Pipe()
	peerR, clientW := io.Pipe()

	p := &peer{t: t, lines: bufio.NewScanner(peerR), out: peerW, in: peerR}
	t.Cleanup(func() {
		_ = peerW.Close()
		_ = peerR.Close()
	})
	return clientR, clientW, pipeCloser{r: clientR, w: clientW}, p
}

// send writes one line to the client. It blocks until the client reads it.
func (p *peer) send(line string) {
	p.t.Helper()
	_, err := io.WriteString(p.out, line+"\n")
	require.NoError(p.t, err)
}

// recv reads the next command the client wrote.
func (p *peer) recv() map[string]any {
	p.t.Helper()
	require.True(p.t, p.lines.Scan(), "expected a command from the client")
	var msg map[string]any
	require.NoError(p.t, json.Unmarshal(p.lines.Bytes(), &msg))
	return msg
}

// recvAsync reads the next command on a goroutine.
func (p *peer) recvAsync() <-chan map[string]any {
	ch := make(chan map[string]any, 1)
	go func() {
		if !p.lines.Scan() {
			close(ch)
			return
		}
		var msg map[string]any
		if json.Unmarshal(p.lines.Bytes(), &msg) == nil {
			ch <- msg
		}
		close(ch)
	}()
	return ch
}

// hangup ends the stream the client reads.
func (p *peer) hangup() {
	_ = p.out.Close()
}

func replyJSON(id any, ret string) string {
	if id == nil {
		return `{"return":` + ret + `}`
	}
	b, _ := json.Marshal(id)
	return `{"return":` + ret + `,"id":` + string(b) + `}`
}

// connectQMP runs a full QMP handshake against a peer and starts driving the
// reader with Spin. spinErr receives Spin's result.
func connectQMP(t *testing.T, oob bool, opts ...Option) (*Stream, *peer, <-chan error) {
	t.Helper()
	r, w, closer, p := newPeer(t)

	type result struct {
		stream *Stream
		events *Events
		err    error
	}
	done := make(chan result, 1)
	go func() {
		_, s, e, err := NegotiateQMP(context.Background(), r, w,
			append([]Option{WithCloser(closer), WithLogger(testLogger())}, opts...)...)
		done <- result{s, e, err}
	}()

	if oob {
		p.send(greetingOOB)
	} else {
		p.send(greetingNoOOB)
	}
	cmd := p.recv()
	require.Equal(t, "qmp_capabilities", cmd["execute"])
	p.send(replyJSON(cmd["id"], "{}"))

	var res result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out negotiating")
	}
	require.NoError(t, res.err)

	spinErr := make(chan error, 1)
	go func() { spinErr <- res.events.Spin() }()
	t.Cleanup(func() { _ = res.stream.Close() })
	return res.stream, p, spinErr
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return nil
	}
}
