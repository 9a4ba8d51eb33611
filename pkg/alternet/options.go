package alternet

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/omochice/alternet/internal/loop"
	"github.com/omochice/alternet/internal/metrics"
	"github.com/omochice/alternet/pkg/protocol"
)

// Config holds the settings of a Server or Client. Zero fields take the
// defaults documented on the options.
type Config struct {
	Mode              protocol.Mode
	Logger            *zap.Logger
	ReadBufferSize    int
	MaxReadBufferSize int
	WriteTimeout      time.Duration
	KeepAlive         time.Duration
	MaxEvents         int
	Registerer        prometheus.Registerer
}

// Option configures a Server or Client.
type Option func(*Config)

// WithMode selects how incoming bytes become units and how outgoing ones
// are written. The default is ModeRaw.
func WithMode(mode protocol.Mode) Option {
	return func(c *Config) {
		c.Mode = mode
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithReadBufferSize sets the initial size of the loop's read buffer,
// 64 KiB by default.
func WithReadBufferSize(n int) Option {
	return func(c *Config) {
		c.ReadBufferSize = n
	}
}

// WithMaxReadBufferSize bounds how far the read buffer grows after reads
// that fill it, 16 MiB by default. Reads are never truncated; a full buffer
// only means the rest arrives with the next read.
func WithMaxReadBufferSize(n int) Option {
	return func(c *Config) {
		c.MaxReadBufferSize = n
	}
}

// WithWriteTimeout bounds how long a send may block on a peer that is not
// reading. The default of zero blocks with no timeout. A send that times out
// tears the connection down.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.WriteTimeout = d
	}
}

// WithKeepAlive sets the TCP keepalive period of every connection, 30s by
// default. A negative period disables keepalive.
func WithKeepAlive(d time.Duration) Option {
	return func(c *Config) {
		c.KeepAlive = d
	}
}

// WithMaxEvents sets how many readiness events one multiplexer wait
// returns at most, 128 by default.
func WithMaxEvents(n int) Option {
	return func(c *Config) {
		c.MaxEvents = n
	}
}

// WithRegisterer registers the endpoint's Prometheus collectors. Without
// it nothing is collected.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registerer = reg
	}
}

func newConfig(opts []Option) Config {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg
}

// loopConfig derives the event loop settings for an endpoint of the given
// role, "server" or "client".
func (c Config) loopConfig(role string) loop.Config {
	var m *metrics.Metrics
	if c.Registerer != nil {
		m = metrics.New(c.Registerer, role)
	}
	return loop.Config{
		Mode:              c.Mode,
		ReadBufferSize:    c.ReadBufferSize,
		MaxReadBufferSize: c.MaxReadBufferSize,
		MaxEvents:         c.MaxEvents,
		KeepAlive:         c.KeepAlive,
		WriteTimeout:      c.WriteTimeout,
		Logger:            c.Logger.Named(role),
		Metrics:           m,
	}
}
