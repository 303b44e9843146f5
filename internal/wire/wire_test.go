// ABOUTME: Tests for QAPI envelope encoding and line classification
// ABOUTME: Covers execute/exec-oob forms, argument omission, reply ids and malformed lines

package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCommand struct {
	Device string `json:"device,omitempty"`
}

func (fakeCommand) CommandName() string { return "eject" }
func (fakeCommand) AllowOOB() bool      { return false }

func TestEncodeCommand(t *testing.T) {
	id := uint64(7)

	tests := []struct {
		name string
		cmd  Command
		id   *uint64
		oob  bool
		want string
	}{
		{"no arguments no id", fakeCommand{}, nil, false, `{"execute":"eject"}`},
		{"arguments", fakeCommand{Device: "cd0"}, nil, false, `{"execute":"eject","arguments":{"device":"cd0"}}`},
		{"with id", fakeCommand{}, &id, false, `{"execute":"eject","id":7}`},
		{"out of band", fakeCommand{Device: "cd0"}, &id, true, `{"exec-oob":"eject","arguments":{"device":"cd0"},"id":7}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeCommand(tt.cmd, tt.id, tt.oob)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
			assert.NotContains(t, string(got), "\n")
		})
	}
}

func TestEncodeCommand_ZeroIDIsSent(t *testing.T) {
	id := uint64(0)
	got, err := EncodeCommand(fakeCommand{}, &id, false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"execute":"eject","id":0}`, string(got))
}

func TestEncodeRaw(t *testing.T) {
	for _, args := range []string{"", "null", "{}", "  {}  "} {
		got, err := EncodeRaw("stop", json.RawMessage(args), nil, false)
		require.NoError(t, err)
		assert.JSONEq(t, `{"execute":"stop"}`, string(got), "args %q", args)
	}

	got, err := EncodeRaw("human-monitor-command", json.RawMessage(`{"command-line":"info status"}`), nil, false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"execute":"human-monitor-command","arguments":{"command-line":"info status"}}`, string(got))

	_, err = EncodeRaw("", nil, nil, false)
	assert.Error(t, err)

	_, err = EncodeRaw("stop", json.RawMessage(`[1]`), nil, false)
	assert.Error(t, err)

	_, err = EncodeRaw("stop", json.RawMessage(`{"a":`), nil, false)
	assert.Error(t, err)
}

func TestDecode_Reply(t *testing.T) {
	env, err := Decode([]byte(`{"return":{"running":true},"id":3}`))
	require.NoError(t, err)
	require.NotNil(t, env.Response)
	assert.Nil(t, env.Event)

	assert.True(t, env.Response.HasID())
	id, ok := env.Response.NumericID()
	assert.True(t, ok)
	assert.Equal(t, uint64(3), id)
	assert.JSONEq(t, `{"running":true}`, string(env.Response.Return))
	assert.Nil(t, env.Response.Error)
}

func TestDecode_ScalarReturn(t *testing.T) {
	env, err := Decode([]byte(`{"return":42}`))
	require.NoError(t, err)
	assert.False(t, env.Response.HasID())
	assert.Equal(t, "42", string(env.Response.Return))
}

func TestDecode_ErrorReply(t *testing.T) {
	env, err := Decode([]byte(`{"error":{"class":"DeviceNotFound","desc":"Device 'cd0' not found"}}`))
	require.NoError(t, err)
	require.NotNil(t, env.Response.Error)
	assert.Equal(t, ErrorClassDeviceNotFound, env.Response.Error.Class)
	assert.EqualError(t, env.Response.Error, "DeviceNotFound: Device 'cd0' not found")
}

func TestDecode_NonNumericID(t *testing.T) {
	env, err := Decode([]byte(`{"return":{},"id":"abc"}`))
	require.NoError(t, err)
	assert.True(t, env.Response.HasID())
	_, ok := env.Response.NumericID()
	assert.False(t, ok)

	env, err = Decode([]byte(`{"return":{},"id":null}`))
	require.NoError(t, err)
	assert.False(t, env.Response.HasID())
}

func TestDecode_Event(t *testing.T) {
	env, err := Decode([]byte(`{"event":"POWERDOWN","timestamp":{"seconds":1700000000,"microseconds":500000}}`))
	require.NoError(t, err)
	require.NotNil(t, env.Event)
	assert.Nil(t, env.Response)
	assert.Equal(t, "POWERDOWN", env.Event.Event)

	want := time.Unix(1700000000, 500000*int64(time.Microsecond))
	assert.True(t, want.Equal(env.Event.Timestamp.Time()))
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte(`{"QMP":{}}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformed)
}
