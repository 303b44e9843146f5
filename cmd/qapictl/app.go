// ABOUTME: Shared setup for qapictl subcommands: config, logger, journal and fleet manager
// ABOUTME: Resolves endpoint arguments to configured endpoints or raw socket addresses

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/2389/qapi/internal/config"
	"github.com/2389/qapi/internal/fleet"
	"github.com/2389/qapi/internal/qapi"
	"github.com/2389/qapi/internal/store"
)

type app struct {
	opts    *rootOptions
	cfg     *config.Config
	logger  *slog.Logger
	journal store.Journal // nil when nothing is recorded
	fleet   *fleet.Manager
}

// newApp loads the configuration and opens the journal when record is set
// or the config enables it.
func newApp(opts *rootOptions, record bool) (*app, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	logger := setupLogger(cfg.Logging, opts.verbose, os.Stderr)
	slog.SetDefault(logger)

	a := &app{
		opts:   opts,
		cfg:    cfg,
		logger: logger,
	}

	if record || cfg.Journal.Enabled {
		j, err := store.NewSQLiteStore(cfg.JournalPath())
		if err != nil {
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		a.journal = j
	}

	a.fleet = fleet.NewManager(a.journal, logger)
	return a, nil
}

// loadConfig reads path, or the default location when path is empty. A
// missing default file is not an error: raw addresses still work.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.DefaultPath()
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// resolveEndpoint maps a command line endpoint to its configuration. Names
// from the config file win; anything containing a slash is a unix socket
// path and anything containing a colon is a TCP address.
func resolveEndpoint(cfg *config.Config, name, protocol string) (*config.EndpointConfig, error) {
	if ep, err := cfg.Endpoint(name); err == nil {
		return ep, nil
	}

	var network string
	switch {
	case strings.Contains(name, "/"):
		network = "unix"
	case strings.Contains(name, ":"):
		network = "tcp"
	default:
		return nil, fmt.Errorf("%w: %s", config.ErrUnknownEndpoint, name)
	}

	if _, err := qapi.ParseProtocol(protocol); err != nil {
		return nil, err
	}

	return &config.EndpointConfig{
		Protocol:       protocol,
		Network:        network,
		Address:        name,
		DialTimeout:    config.DefaultDialTimeout,
		CommandTimeout: config.DefaultCommandTimeout,
	}, nil
}

// connect dials one endpoint into the fleet.
func (a *app) connect(ctx context.Context, name string) (*qapi.Conn, error) {
	ep, err := resolveEndpoint(a.cfg, name, a.opts.protocol)
	if err != nil {
		return nil, err
	}
	if err := a.fleet.Connect(ctx, name, ep); err != nil {
		return nil, err
	}
	conn, ok := a.fleet.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", fleet.ErrEndpointNotFound, name)
	}
	return conn, nil
}

func (a *app) Close() error {
	err := a.fleet.Close()
	if a.journal != nil {
		err = errors.Join(err, a.journal.Close())
	}
	return err
}
