// ABOUTME: Functional options shared by both protocol handshakes and connection constructors
// ABOUTME: Logger, out-of-band opt-out, guest-sync token, line length limit and transport closer

package qapi

import (
	"io"
	"log/slog"
)

// DefaultMaxLineSize bounds a single protocol line.
const DefaultMaxLineSize = 16 << 20

// Option configures a handshake or connection.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	disableOOB   bool
	syncToken    int64
	hasSyncToken bool
	maxLineSize  int
	closer       io.Closer
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:      slog.Default(),
		maxLineSize: DefaultMaxLineSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets the logger. A nil logger keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithoutOOB keeps out-of-band execution disabled even when the server
// advertises it.
func WithoutOOB() Option {
	return func(o *options) { o.disableOOB = true }
}

// WithSyncToken fixes the guest-sync token instead of drawing a random one.
func WithSyncToken(token int64) Option {
	return func(o *options) {
		o.syncToken = token
		o.hasSyncToken = true
	}
}

// WithMaxLineSize overrides DefaultMaxLineSize.
func WithMaxLineSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLineSize = n
		}
	}
}

// WithCloser registers the transport closer. It is closed when the stream
// is closed or a write fails, which also unblocks the reader.
func WithCloser(c io.Closer) Option {
	return func(o *options) { o.closer = c }
}
