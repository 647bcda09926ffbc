package relay

import (
	"flag"
	"time"

	"github.com/zachfi/zkit/pkg/util"
)

// Listener buffer sizing guidance (listener-buffer):
// - Each listener buffers up to this many chunks before it is considered
//   stalled and dropped, so the value bounds how far a slow client may lag.
// - Chunk size is read-buffer-size bytes, so worst-case memory per listener
//   is listener-buffer * read-buffer-size.
const (
	defaultListenerBuffer = 64
	defaultReadBufferSize = 8 * 1024
	defaultIdleTimeout    = 5 * time.Minute
)

type Config struct {
	ListenerBuffer int           `yaml:"listener-buffer,omitempty"` // chunks buffered per listener before it is dropped
	ReadBufferSize int           `yaml:"read-buffer-size,omitempty"`
	IdleTimeout    time.Duration `yaml:"idle-timeout,omitempty"` // tear down a broadcast after this long without data
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.ListenerBuffer, util.PrefixConfig(prefix, "listener-buffer"), defaultListenerBuffer,
		"Chunks buffered per listener before the listener is dropped as too slow.")
	f.IntVar(&cfg.ReadBufferSize, util.PrefixConfig(prefix, "read-buffer-size"), defaultReadBufferSize,
		"Bytes read from the broadcaster per chunk.")
	f.DurationVar(&cfg.IdleTimeout, util.PrefixConfig(prefix, "idle-timeout"), defaultIdleTimeout,
		"Tear down a broadcast after this long without ingesting any data. Zero disables the timeout.")
}
