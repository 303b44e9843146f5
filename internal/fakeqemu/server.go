// ABOUTME: In-process QMP monitor and guest agent peer for tests and manual end-to-end runs
// ABOUTME: Speaks the line-delimited JSON protocol from the server side with a small command set

package fakeqemu

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/2389/qapi/internal/qga"
	"github.com/2389/qapi/internal/qmp"
	"github.com/2389/qapi/internal/wire"
)

// Mode selects which protocol a Server speaks.
type Mode string

const (
	ModeQMP Mode = "qmp"
	ModeQGA Mode = "qga"
)

// Server answers one or more client connections. The zero value is a QMP
// monitor without out-of-band support.
type Server struct {
	Mode     Mode
	OOB      bool
	Version  qmp.VersionInfo
	HostName string
	Logger   *slog.Logger
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) mode() Mode {
	if s.Mode == "" {
		return ModeQMP
	}
	return s.Mode
}

// Serve accepts connections on l until ctx is cancelled. It closes l and
// waits for every session before returning.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		nc, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.ServeConn(ctx, nc); err != nil {
				s.logger().Warn("session ended with error", "remote", nc.RemoteAddr().String(), "error", err)
			}
		}()
	}
}

// ServeConn runs a single session on rwc and closes it when done. It returns
// nil when the client hangs up or ctx is cancelled.
func (s *Server) ServeConn(ctx context.Context, rwc io.ReadWriteCloser) error {
	stop := context.AfterFunc(ctx, func() { _ = rwc.Close() })
	defer stop()
	defer func() { _ = rwc.Close() }()

	sess := &session{
		srv:     s,
		w:       bufio.NewWriter(rwc),
		running: true,
		logger:  s.logger().With("component", "fakeqemu", "mode", string(s.mode())),
	}

	if s.mode() == ModeQMP {
		if err := sess.greet(); err != nil {
			return err
		}
	}

	scanner := bufio.NewScanner(rwc)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		done, err := sess.handle(line)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}

	err := scanner.Err()
	if err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) || ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("reading: %w", err)
}

// request is the wire form of an incoming command.
type request struct {
	Execute   string          `json:"execute"`
	ExecOOB   string          `json:"exec-oob"`
	Arguments json.RawMessage `json:"arguments"`
	ID        json.RawMessage `json:"id"`
}

func (r *request) name() string {
	if r.ExecOOB != "" {
		return r.ExecOOB
	}
	return r.Execute
}

func (r *request) decodeArgs(v any) *wire.Error {
	if len(r.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Arguments, v); err != nil {
		return genericError("Invalid parameters for '%s': %v", r.name(), err)
	}
	return nil
}

func genericError(format string, args ...any) *wire.Error {
	return &wire.Error{Class: wire.ErrorClassGeneric, Desc: fmt.Sprintf(format, args...)}
}

// errNoReply marks commands that succeed silently, like guest-shutdown.
var errNoReply = errors.New("no reply")

type handler struct {
	allowOOB bool
	run      func(s *session, req *request) (any, error)
}

// The handler tables are filled in init because query-commands and
// guest-info list them.
var qmpHandlers, qgaHandlers map[string]handler

func init() {
	qmpHandlers = map[string]handler{
		"qmp_capabilities":      {run: (*session).qmpCapabilities},
		"query-status":          {run: (*session).queryStatus},
		"query-version":         {run: (*session).queryVersion},
		"query-commands":        {run: (*session).queryCommands},
		"stop":                  {run: (*session).stop},
		"cont":                  {run: (*session).cont},
		"system_powerdown":      {run: (*session).systemPowerdown},
		"system_reset":          {run: (*session).systemReset},
		"quit":                  {run: (*session).quit},
		"human-monitor-command": {run: (*session).humanMonitorCommand},
		"x-oob-test":            {allowOOB: true, run: (*session).oobTest},
		"migrate-pause":         {allowOOB: true, run: (*session).migrationInactive},
		"migrate-recover":       {allowOOB: true, run: (*session).migrationInactive},
	}
	qgaHandlers = map[string]handler{
		"guest-sync":          {run: (*session).guestSync},
		"guest-ping":          {run: (*session).guestPing},
		"guest-info":          {run: (*session).guestInfo},
		"guest-get-host-name": {run: (*session).guestHostName},
		"guest-get-time":      {run: (*session).guestTime},
		"guest-shutdown":      {run: (*session).guestShutdown},
	}
}

type session struct {
	srv    *Server
	w      *bufio.Writer
	logger *slog.Logger

	negotiated bool
	oob        bool
	running    bool
	hangup     bool
	// held are ids of locked x-oob-test commands awaiting an unlock.
	held []json.RawMessage
}

func (s *session) handlers() map[string]handler {
	if s.srv.mode() == ModeQGA {
		return qgaHandlers
	}
	return qmpHandlers
}

func (s *session) greet() error {
	caps := []qmp.Capability{}
	if s.srv.OOB {
		caps = append(caps, qmp.CapabilityOOB)
	}
	var g qmp.Greeting
	g.QMP.Version = s.srv.Version
	g.QMP.Capabilities = caps
	return s.writeJSON(g)
}

// handle processes one line. It reports true when the session should end.
func (s *session) handle(line []byte) (bool, error) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		return false, s.reply(nil, nil, genericError("JSON parse error, %v", err))
	}

	name := req.name()
	if name == "" {
		return false, s.reply(req.ID, nil, genericError("Expected 'execute' or 'exec-oob'"))
	}
	s.logger.Debug("command received", "command", name, "oob", req.ExecOOB != "")

	h, ok := s.handlers()[name]
	if !ok {
		return false, s.reply(req.ID, nil, &wire.Error{
			Class: wire.ErrorClassCommandNotFound,
			Desc:  fmt.Sprintf("The command %s has not been found", name),
		})
	}

	if s.srv.mode() == ModeQMP && !s.negotiated && name != "qmp_capabilities" {
		return false, s.reply(req.ID, nil, &wire.Error{
			Class: wire.ErrorClassCommandNotFound,
			Desc:  "Expecting capabilities negotiation with 'qmp_capabilities'",
		})
	}
	if req.ExecOOB != "" {
		if !s.oob {
			return false, s.reply(req.ID, nil, genericError("Out-Of-Band is not enabled"))
		}
		if !h.allowOOB {
			return false, s.reply(req.ID, nil, genericError("The command %s does not support OOB", name))
		}
	}

	ret, err := h.run(s, &req)
	switch {
	case errors.Is(err, errNoReply):
		if ferr := s.w.Flush(); ferr != nil {
			return false, ferr
		}
		return s.hangup, nil
	case err != nil:
		var qerr *wire.Error
		if !errors.As(err, &qerr) {
			qerr = genericError("%v", err)
		}
		return false, s.reply(req.ID, nil, qerr)
	}

	if err := s.reply(req.ID, ret, nil); err != nil {
		return false, err
	}
	return s.hangup, nil
}

func (s *session) reply(id json.RawMessage, ret any, qerr *wire.Error) error {
	msg := map[string]any{}
	if qerr != nil {
		msg["error"] = qerr
	} else {
		if ret == nil {
			ret = struct{}{}
		}
		msg["return"] = ret
	}
	if len(id) > 0 {
		msg["id"] = id
	}
	return s.writeJSON(msg)
}

func (s *session) emit(name string, data any) error {
	now := time.Now()
	msg := map[string]any{
		"event": name,
		"timestamp": wire.Timestamp{
			Seconds:      now.Unix(),
			Microseconds: int64(now.Nanosecond() / 1000),
		},
	}
	if data != nil {
		msg["data"] = data
	}
	return s.writeJSON(msg)
}

func (s *session) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding: %w", err)
	}
	b = append(b, '\n')
	if _, err := s.w.Write(b); err != nil {
		return fmt.Errorf("writing: %w", err)
	}
	return s.w.Flush()
}

func (s *session) qmpCapabilities(req *request) (any, error) {
	if s.negotiated {
		return nil, &wire.Error{
			Class: wire.ErrorClassCommandNotFound,
			Desc:  "Capabilities negotiation is already complete, command ignored",
		}
	}
	var args qmp.QMPCapabilities
	if qerr := req.decodeArgs(&args); qerr != nil {
		return nil, qerr
	}
	for _, c := range args.Enable {
		if c != qmp.CapabilityOOB || !s.srv.OOB {
			return nil, genericError("Capability '%s' not available", c)
		}
		s.oob = true
	}
	s.negotiated = true
	return struct{}{}, nil
}

func (s *session) status() qmp.StatusInfo {
	if s.running {
		return qmp.StatusInfo{Running: true, Status: "running"}
	}
	return qmp.StatusInfo{Running: false, Status: "paused"}
}

func (s *session) queryStatus(*request) (any, error) {
	return s.status(), nil
}

func (s *session) queryVersion(*request) (any, error) {
	return s.srv.Version, nil
}

func (s *session) queryCommands(*request) (any, error) {
	cmds := make([]qmp.CommandInfo, 0, len(qmpHandlers))
	for name := range qmpHandlers {
		cmds = append(cmds, qmp.CommandInfo{Name: name})
	}
	return cmds, nil
}

func (s *session) stop(*request) (any, error) {
	if s.running {
		s.running = false
		if err := s.emit(qmp.EventStop, nil); err != nil {
			return nil, err
		}
	}
	return struct{}{}, nil
}

func (s *session) cont(*request) (any, error) {
	if !s.running {
		s.running = true
		if err := s.emit(qmp.EventResume, nil); err != nil {
			return nil, err
		}
	}
	return struct{}{}, nil
}

func (s *session) systemPowerdown(*request) (any, error) {
	return struct{}{}, s.emit(qmp.EventPowerdown, nil)
}

func (s *session) systemReset(*request) (any, error) {
	return struct{}{}, s.emit(qmp.EventReset, map[string]any{"guest": false, "reason": "host-qmp-system-reset"})
}

func (s *session) quit(req *request) (any, error) {
	if err := s.reply(req.ID, struct{}{}, nil); err != nil {
		return nil, err
	}
	s.hangup = true
	if err := s.emit(qmp.EventShutdown, map[string]any{"guest": false, "reason": "host-qmp-quit"}); err != nil {
		return nil, err
	}
	return nil, errNoReply
}

func (s *session) humanMonitorCommand(req *request) (any, error) {
	var args qmp.HumanMonitorCommand
	if qerr := req.decodeArgs(&args); qerr != nil {
		return nil, qerr
	}
	switch args.CommandLine {
	case "info status":
		return "VM status: " + s.status().Status + "\r\n", nil
	case "info version":
		return s.srv.Version.String() + "\r\n", nil
	default:
		return fmt.Sprintf("unknown command: '%s'\r\n", args.CommandLine), nil
	}
}

// oobTest holds locked replies until an unlocking command arrives, which
// answers first and then releases them, so clients see replies out of order.
func (s *session) oobTest(req *request) (any, error) {
	var args qmp.XOOBTest
	if qerr := req.decodeArgs(&args); qerr != nil {
		return nil, qerr
	}
	if args.Lock {
		s.held = append(s.held, req.ID)
		return nil, errNoReply
	}

	if err := s.reply(req.ID, struct{}{}, nil); err != nil {
		return nil, err
	}
	held := s.held
	s.held = nil
	for _, id := range held {
		if err := s.reply(id, struct{}{}, nil); err != nil {
			return nil, err
		}
	}
	return nil, errNoReply
}

func (s *session) migrationInactive(req *request) (any, error) {
	return nil, genericError("%s is only supported during postcopy migration", req.name())
}

func (s *session) guestSync(req *request) (any, error) {
	var args qga.GuestSync
	if qerr := req.decodeArgs(&args); qerr != nil {
		return nil, qerr
	}
	return args.ID, nil
}

func (s *session) guestPing(*request) (any, error) {
	return struct{}{}, nil
}

func (s *session) guestInfo(*request) (any, error) {
	info := qga.Info{Version: s.srv.Version.String()}
	for name := range qgaHandlers {
		info.SupportedCommands = append(info.SupportedCommands, qga.CommandInfo{
			Name:            name,
			Enabled:         true,
			SuccessResponse: name != "guest-shutdown",
		})
	}
	return info, nil
}

func (s *session) guestHostName(*request) (any, error) {
	name := s.srv.HostName
	if name == "" {
		name = "fake-guest"
	}
	return qga.HostName{HostName: name}, nil
}

func (s *session) guestTime(*request) (any, error) {
	return time.Now().UnixNano(), nil
}

// guestShutdown never replies; the guest goes away instead.
func (s *session) guestShutdown(req *request) (any, error) {
	var args qga.GuestShutdown
	if qerr := req.decodeArgs(&args); qerr != nil {
		return nil, qerr
	}
	s.logger.Info("guest shutting down", "mode", string(args.Mode))
	s.hangup = true
	return nil, errNoReply
}
