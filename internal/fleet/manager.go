// ABOUTME: Manages named QMP and guest agent connections and routes commands to them
// ABOUTME: Journals every command and, when watching, every QMP event through the store

package fleet

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/2389/qapi/internal/config"
	"github.com/2389/qapi/internal/qapi"
	"github.com/2389/qapi/internal/qmp"
	"github.com/2389/qapi/internal/store"
)

// ErrEndpointExists indicates an endpoint with the same name is already connected.
var ErrEndpointExists = errors.New("endpoint already connected")

// ErrEndpointNotFound indicates the specified endpoint was not found.
var ErrEndpointNotFound = errors.New("endpoint not found")

// watchBufferSize is the capacity of the channel returned by Watch.
const watchBufferSize = 64

type endpoint struct {
	name           string
	conn           *qapi.Conn
	commandTimeout time.Duration
}

// Manager coordinates all connected endpoints.
type Manager struct {
	endpoints map[string]*endpoint
	mu        sync.RWMutex
	journal   store.Journal
	logger    *slog.Logger
}

// NewManager creates a new Manager. journal may be nil, in which case
// nothing is recorded.
func NewManager(journal store.Journal, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		endpoints: make(map[string]*endpoint),
		journal:   journal,
		logger:    logger.With("component", "fleet"),
	}
}

// Add registers an open connection under name. The manager takes
// ownership of conn and drops it once its reader stops.
// Returns ErrEndpointExists if the name is taken.
func (m *Manager) Add(name string, conn *qapi.Conn) error {
	return m.add(&endpoint{name: name, conn: conn})
}

func (m *Manager) add(ep *endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.endpoints[ep.name]; exists {
		return fmt.Errorf("%w: %s", ErrEndpointExists, ep.name)
	}

	m.endpoints[ep.name] = ep
	m.logger.Info("endpoint connected",
		"endpoint", ep.name,
		"protocol", ep.conn.Protocol(),
		"oob", ep.conn.SupportsOOB(),
		"total_endpoints", len(m.endpoints),
	)

	go m.forgetWhenDone(ep)
	return nil
}

// Connect dials an endpoint described in the configuration and adds it.
func (m *Manager) Connect(ctx context.Context, name string, cfg *config.EndpointConfig) error {
	protocol, err := qapi.ParseProtocol(cfg.Protocol)
	if err != nil {
		return fmt.Errorf("endpoint %s: %w", name, err)
	}

	opts := []qapi.Option{qapi.WithLogger(m.logger.With("endpoint", name))}
	if cfg.DisableOOB {
		opts = append(opts, qapi.WithoutOOB())
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	conn, err := qapi.Dial(ctx, protocol, cfg.Network, cfg.Address, opts...)
	if err != nil {
		return fmt.Errorf("endpoint %s: %w", name, err)
	}

	if err := m.add(&endpoint{name: name, conn: conn, commandTimeout: cfg.CommandTimeout}); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}

// ConnectAll dials every endpoint in cfg. Endpoints that fail are skipped;
// their errors are joined in the result.
func (m *Manager) ConnectAll(ctx context.Context, cfg *config.Config) error {
	var errs []error
	for _, name := range cfg.EndpointNames() {
		ep, err := cfg.Endpoint(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := m.Connect(ctx, name, ep); err != nil {
			m.logger.Warn("endpoint unavailable", "endpoint", name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) forgetWhenDone(ep *endpoint) {
	<-ep.conn.Done()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Remove may already have dropped it, or a new connection may have
	// taken the name.
	if cur, ok := m.endpoints[ep.name]; ok && cur == ep {
		delete(m.endpoints, ep.name)
		m.logger.Info("endpoint disconnected",
			"endpoint", ep.name,
			"error", ep.conn.Err(),
			"total_endpoints", len(m.endpoints),
		)
	}
}

// Remove closes the named endpoint and forgets it.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	ep, ok := m.endpoints[name]
	if ok {
		delete(m.endpoints, name)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrEndpointNotFound, name)
	}

	m.logger.Info("endpoint removed", "endpoint", name)
	return ep.conn.Close()
}

// Get retrieves the connection for name.
func (m *Manager) Get(name string) (*qapi.Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ep, ok := m.endpoints[name]
	if !ok {
		return nil, false
	}
	return ep.conn, true
}

// List returns information about all connected endpoints, sorted by name.
func (m *Manager) List() []EndpointInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]EndpointInfo, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		info := EndpointInfo{
			Name:        ep.name,
			Protocol:    ep.conn.Protocol(),
			SupportsOOB: ep.conn.SupportsOOB(),
			Pending:     ep.conn.Pending(),
		}
		if g := ep.conn.Greeting(); g != nil {
			info.Version = g.QMP.Version.String()
		}
		infos = append(infos, info)
	}
	slices.SortFunc(infos, func(a, b EndpointInfo) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return infos
}

// Execute runs a command on the named endpoint and journals the outcome.
// The endpoint's command timeout, if any, applies on top of ctx.
func (m *Manager) Execute(ctx context.Context, name, command string, args json.RawMessage, oob bool) (json.RawMessage, error) {
	m.mu.RLock()
	ep, ok := m.endpoints[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEndpointNotFound, name)
	}

	if ep.commandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ep.commandTimeout)
		defer cancel()
	}

	started := time.Now()
	ret, err := ep.conn.ExecuteRaw(ctx, command, args, oob)

	m.logger.Debug("command finished",
		"endpoint", name,
		"command", command,
		"oob", oob,
		"duration", time.Since(started),
		"error", err,
	)

	if m.journal != nil {
		rec := store.NewCommandRecord(name, command, args, oob, started, ret, err)
		if jerr := m.journal.RecordCommand(context.WithoutCancel(ctx), rec); jerr != nil {
			m.logger.Warn("failed to journal command", "endpoint", name, "command", command, "error", jerr)
		}
	}

	return ret, err
}

// Watch merges QMP events from every connected QMP endpoint into one
// channel. names filters by event name (all events when empty). Events are
// journaled as they pass through. The channel closes when ctx ends or every
// watched endpoint has disconnected. Guest agent endpoints are skipped.
func (m *Manager) Watch(ctx context.Context, names ...string) (<-chan EndpointEvent, error) {
	m.mu.RLock()
	var watched []*endpoint
	for _, ep := range m.endpoints {
		if ep.conn.Protocol() == qapi.ProtocolQMP {
			watched = append(watched, ep)
		}
	}
	m.mu.RUnlock()

	if len(watched) == 0 {
		return nil, fmt.Errorf("%w: no QMP endpoints connected", ErrEndpointNotFound)
	}

	out := make(chan EndpointEvent, watchBufferSize)
	var wg sync.WaitGroup

	for _, ep := range watched {
		events, err := ep.conn.Subscribe(ctx, names...)
		if err != nil {
			m.logger.Warn("cannot watch endpoint", "endpoint", ep.name, "error", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			m.forward(ctx, ep.name, events, out)
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

func (m *Manager) forward(ctx context.Context, name string, events <-chan *qmp.Event, out chan<- EndpointEvent) {
	for ev := range events {
		if m.journal != nil {
			if err := m.journal.RecordEvent(context.WithoutCancel(ctx), store.NewEventRecord(name, ev)); err != nil {
				m.logger.Warn("failed to journal event", "endpoint", name, "event", ev.Name, "error", err)
			}
		}

		select {
		case out <- EndpointEvent{Endpoint: name, Event: ev}:
		case <-ctx.Done():
			return
		}
	}
}

// Close closes every endpoint and forgets them.
func (m *Manager) Close() error {
	m.mu.Lock()
	endpoints := m.endpoints
	m.endpoints = make(map[string]*endpoint)
	m.mu.Unlock()

	var errs []error
	for name, ep := range endpoints {
		if err := ep.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// EndpointInfo contains public information about a connected endpoint.
type EndpointInfo struct {
	Name        string
	Protocol    qapi.Protocol
	SupportsOOB bool
	Version     string // QEMU version from the greeting; empty for guest agents
	Pending     int
}

// EndpointEvent is a QMP event tagged with the endpoint it came from.
type EndpointEvent struct {
	Endpoint string
	Event    *qmp.Event
}
