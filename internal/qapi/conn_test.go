// ABOUTME: End-to-end tests for Conn against the in-process fake QEMU
// ABOUTME: Covers dialing, event subscription, out-of-band execution, guest agent commands and shutdown

package qapi

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/qapi/internal/fakeqemu"
	"github.com/2389/qapi/internal/qga"
	"github.com/2389/qapi/internal/qmp"
	"github.com/2389/qapi/internal/wire"
)

var testVersion = qmp.VersionInfo{QEMU: qmp.VersionTriple{Major: 9, Minor: 1, Micro: 2}}

// pipeConn connects a client to a fake server session over net.Pipe.
func pipeConn(t *testing.T, srv *fakeqemu.Server, protocol Protocol, opts ...Option) *Conn {
	t.Helper()
	serverSide, clientSide := net.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = srv.ServeConn(ctx, serverSide)
	}()
	t.Cleanup(func() {
		cancel()
		<-served
	})

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dialCancel()

	opts = append([]Option{WithLogger(testLogger())}, opts...)
	var (
		c   *Conn
		err error
	)
	if protocol == ProtocolQGA {
		c, err = NewQGAConn(dialCtx, clientSide, opts...)
	} else {
		c, err = NewQMPConn(dialCtx, clientSide, opts...)
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConn_QMPCommandsAndEvents(t *testing.T) {
	c := pipeConn(t, &fakeqemu.Server{Version: testVersion}, ProtocolQMP)

	require.NotNil(t, c.Greeting())
	assert.Equal(t, "9.1.2", c.Greeting().QMP.Version.String())
	assert.False(t, c.SupportsOOB())
	assert.Equal(t, ProtocolQMP, c.Protocol())

	events, err := c.Subscribe(t.Context(), qmp.EventStop, qmp.EventResume)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Execute(ctx, qmp.Stop{}, nil))

	select {
	case ev := <-events:
		assert.Equal(t, qmp.EventStop, ev.Name)
		assert.False(t, ev.Time().IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no STOP event")
	}

	var status qmp.StatusInfo
	require.NoError(t, c.Execute(ctx, qmp.QueryStatus{}, &status))
	assert.False(t, status.Running)
	assert.Equal(t, "paused", status.Status)

	require.NoError(t, c.Execute(ctx, qmp.Cont{}, nil))
	select {
	case ev := <-events:
		assert.Equal(t, qmp.EventResume, ev.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("no RESUME event")
	}

	var version qmp.VersionInfo
	require.NoError(t, c.Execute(ctx, qmp.QueryVersion{}, &version))
	assert.Equal(t, testVersion, version)
}

func TestConn_CommandError(t *testing.T) {
	c := pipeConn(t, &fakeqemu.Server{}, ProtocolQMP)

	_, err := c.ExecuteRaw(context.Background(), "frobnicate", nil, false)
	var qerr *wire.Error
	require.True(t, errors.As(err, &qerr))
	assert.Equal(t, wire.ErrorClassCommandNotFound, qerr.Class)
}

func TestConn_OutOfBandOvertakesLockedCommand(t *testing.T) {
	c := pipeConn(t, &fakeqemu.Server{OOB: true}, ProtocolQMP)
	require.True(t, c.SupportsOOB())

	locked := make(chan error, 1)
	go func() { locked <- c.Execute(context.Background(), qmp.XOOBTest{Lock: true}, nil) }()

	require.Eventually(t, func() bool { return c.Pending() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.ExecuteOOB(context.Background(), qmp.XOOBTest{Lock: false}, nil))
	assert.NoError(t, waitErr(t, locked))
}

func TestConn_OptOutOfOOB(t *testing.T) {
	c := pipeConn(t, &fakeqemu.Server{OOB: true}, ProtocolQMP, WithoutOOB())
	assert.False(t, c.SupportsOOB())

	err := c.ExecuteOOB(context.Background(), qmp.XOOBTest{}, nil)
	assert.ErrorIs(t, err, ErrOOBUnsupported)
}

func TestConn_GuestAgent(t *testing.T) {
	c := pipeConn(t, &fakeqemu.Server{Mode: fakeqemu.ModeQGA, HostName: "vm-7"}, ProtocolQGA)

	assert.Nil(t, c.Greeting())
	ctx := context.Background()
	require.NoError(t, c.Execute(ctx, qga.GuestPing{}, &wire.Empty{}))

	var host qga.HostName
	require.NoError(t, c.Execute(ctx, qga.GuestGetHostName{}, &host))
	assert.Equal(t, "vm-7", host.HostName)

	_, err := c.Subscribe(t.Context())
	assert.ErrorIs(t, err, ErrNoEvents)
}

func TestConn_GuestShutdownDisconnects(t *testing.T) {
	c := pipeConn(t, &fakeqemu.Server{Mode: fakeqemu.ModeQGA}, ProtocolQGA)

	err := c.Execute(context.Background(), qga.GuestShutdown{Mode: qga.ShutdownPowerdown}, nil)
	assert.ErrorIs(t, err, ErrDisconnected)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not stop")
	}
	assert.NoError(t, c.Err())
}

func TestConn_QuitEndsReaderAndClosesSubscriptions(t *testing.T) {
	c := pipeConn(t, &fakeqemu.Server{}, ProtocolQMP)

	events, err := c.Subscribe(t.Context())
	require.NoError(t, err)

	require.NoError(t, c.Execute(context.Background(), qmp.Quit{}, nil))

	var names []string
	timeout := time.After(2 * time.Second)
	for open := true; open; {
		select {
		case ev, ok := <-events:
			if !ok {
				open = false
				break
			}
			names = append(names, ev.Name)
		case <-timeout:
			t.Fatal("subscription not closed")
		}
	}
	assert.Equal(t, []string{qmp.EventShutdown}, names)

	<-c.Done()
	assert.NoError(t, c.Err())

	_, err = c.ExecuteRaw(context.Background(), "query-status", nil, false)
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestConn_CloseFailsOutstandingCommand(t *testing.T) {
	c := pipeConn(t, &fakeqemu.Server{OOB: true}, ProtocolQMP)

	locked := make(chan error, 1)
	go func() { locked <- c.Execute(context.Background(), qmp.XOOBTest{Lock: true}, nil) }()
	require.Eventually(t, func() bool { return c.Pending() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, waitErr(t, locked), ErrDisconnected)
	assert.NoError(t, c.Err())
	assert.NoError(t, c.Close())
}

func TestConn_HandshakeTimeout(t *testing.T) {
	_, clientSide := net.Pipe()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewQMPConn(ctx, clientSide, WithLogger(testLogger()))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDial_UnixSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "qmp.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- (&fakeqemu.Server{OOB: true}).Serve(ctx, l) }()
	defer func() {
		cancel()
		<-served
	}()

	c, err := Dial(context.Background(), ProtocolQMP, "unix", sock, WithLogger(testLogger()))
	require.NoError(t, err)
	defer c.Close()

	assert.True(t, c.SupportsOOB())
	var cmds []qmp.CommandInfo
	require.NoError(t, c.Execute(context.Background(), qmp.QueryCommands{}, &cmds))
	assert.NotEmpty(t, cmds)
}

func TestDial_Refused(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "missing.sock")
	_, err := DialQGA(context.Background(), "unix", sock)
	assert.Error(t, err)
}

func TestParseProtocol(t *testing.T) {
	p, err := ParseProtocol("qga")
	require.NoError(t, err)
	assert.Equal(t, ProtocolQGA, p)

	_, err = ParseProtocol("hmp")
	assert.Error(t, err)
}
