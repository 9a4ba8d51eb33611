package loop

import (
	"time"

	"go.uber.org/zap"

	"github.com/omochice/alternet/internal/metrics"
	"github.com/omochice/alternet/pkg/protocol"
)

const (
	DefaultReadBufferSize    = 64 * 1024        // default scratch buffer size.
	DefaultMaxReadBufferSize = 16 * 1024 * 1024 // default scratch buffer growth limit.
	DefaultMaxEvents         = 128              // default events per multiplexer wait.
	DefaultKeepAlive         = 30 * time.Second // default TCP keepalive period.
)

// Config configures a Loop.
type Config struct {
	Mode              protocol.Mode    // delivery mode of every connection.
	ReadBufferSize    int              // initial scratch buffer size.
	MaxReadBufferSize int              // scratch buffer growth limit.
	MaxEvents         int              // events per multiplexer wait.
	KeepAlive         time.Duration    // keepalive period, negative disables.
	WriteTimeout      time.Duration    // write deadline, zero blocks forever.
	Logger            *zap.Logger      // optional logger.
	Metrics           *metrics.Metrics // optional collectors.
}

func (c *Config) applyDefaults() {
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}

	if c.MaxReadBufferSize < c.ReadBufferSize {
		c.MaxReadBufferSize = max(DefaultMaxReadBufferSize, c.ReadBufferSize)
	}

	if c.MaxEvents <= 0 {
		c.MaxEvents = DefaultMaxEvents
	}

	if c.KeepAlive == 0 {
		c.KeepAlive = DefaultKeepAlive
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}
