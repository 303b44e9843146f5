// ABOUTME: Standalone fake QEMU monitor or guest agent for manual end-to-end testing
// ABOUTME: Usage: fake-qemu [-network unix] [-listen /tmp/qmp.sock] [-mode qmp|qga] [-oob]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/qapi/internal/fakeqemu"
	"github.com/2389/qapi/internal/qmp"
)

func main() {
	network := flag.String("network", "unix", "Listener network (unix or tcp)")
	listen := flag.String("listen", "/tmp/fake-qemu.sock", "Socket path or host:port to listen on")
	mode := flag.String("mode", "qmp", "Protocol to speak (qmp or qga)")
	oob := flag.Bool("oob", false, "Advertise the oob capability (qmp only)")
	hostName := flag.String("hostname", "fake-guest", "Host name reported by guest-get-host-name")
	debug := flag.Bool("debug", false, "Log every command received")
	flag.Parse()

	if err := run(*network, *listen, fakeqemu.Mode(*mode), *oob, *hostName, *debug); err != nil {
		log.Fatal(err)
	}
}

func run(network, addr string, mode fakeqemu.Mode, oob bool, hostName string, debug bool) error {
	if mode != fakeqemu.ModeQMP && mode != fakeqemu.ModeQGA {
		return fmt.Errorf("unknown mode %q (want qmp or qga)", mode)
	}

	if network == "unix" {
		// A stale socket from a previous run would make Listen fail.
		if err := os.Remove(addr); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing stale socket: %w", err)
		}
	}

	l, err := net.Listen(network, addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := &fakeqemu.Server{
		Mode:     mode,
		OOB:      oob,
		Version:  qmp.VersionInfo{QEMU: qmp.VersionTriple{Major: 9, Minor: 2, Micro: 0}, Package: " (fake-qemu)"},
		HostName: hostName,
		Logger:   logger,
	}

	green := color.New(color.FgGreen)
	green.Fprint(os.Stderr, "▶ ")
	fmt.Fprintf(os.Stderr, "fake %s listening on %s %s", mode, network, l.Addr())
	if oob && mode == fakeqemu.ModeQMP {
		color.New(color.FgYellow).Fprint(os.Stderr, " [oob]")
	}
	fmt.Fprintln(os.Stderr)

	err = srv.Serve(ctx, l)
	if network == "unix" {
		_ = os.Remove(addr)
	}
	return err
}
