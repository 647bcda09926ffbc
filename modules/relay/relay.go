package relay

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var module = "relay"

var (
	metricBroadcastsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "aircast",
		Subsystem: "relay",
		Name:      "broadcasts_active",
		Help:      "Number of currently live broadcasts.",
	})
	metricListenersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "aircast",
		Subsystem: "relay",
		Name:      "listeners_active",
		Help:      "Number of currently connected listeners across all broadcasts.",
	})
	metricChunksIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aircast",
		Subsystem: "relay",
		Name:      "chunks_ingested_total",
		Help:      "Chunks read from broadcasters.",
	})
	metricBytesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aircast",
		Subsystem: "relay",
		Name:      "bytes_ingested_total",
		Help:      "Bytes read from broadcasters.",
	})
	metricListenersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aircast",
		Subsystem: "relay",
		Name:      "listeners_dropped_total",
		Help:      "Listeners dropped because delivery failed or fell behind.",
	})
)

// Relay owns the broadcast registry and the ingest/fan-out path. It runs as
// a service so shutdown tears down every live broadcast.
type Relay struct {
	services.Service
	cfg      *Config
	logger   *slog.Logger
	registry *Registry
}

// New creates and returns a new Relay.
func New(cfg Config, logger slog.Logger) (*Relay, error) {
	if cfg.ListenerBuffer == 0 {
		cfg.ListenerBuffer = defaultListenerBuffer
	}
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = defaultReadBufferSize
	}

	r := &Relay{
		cfg:      &cfg,
		logger:   logger.With("module", module),
		registry: NewRegistry(),
	}

	r.Service = services.NewBasicService(r.starting, r.running, r.stopping)

	return r, nil
}

func (r *Relay) starting(ctx context.Context) error {
	return nil
}

func (r *Relay) running(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (r *Relay) stopping(_ error) error {
	r.logger.Info("stopping")

	for _, id := range r.registry.IDs() {
		r.stopBroadcast(id)
	}

	return nil
}

// ingest reads the broadcaster's stream chunk by chunk and fans each chunk
// out to the current listeners, until EOF, a read error, cancellation, or
// teardown of the broadcast.
func (r *Relay) ingest(ctx context.Context, b *Broadcast, src io.Reader) {
	defer r.stopEntry(b)

	if r.cfg.IdleTimeout > 0 {
		stopWatchdog := r.watchIdle(ctx, b)
		defer stopWatchdog()
	}

	buf := make([]byte, r.cfg.ReadBufferSize)

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.Done():
			// Torn down elsewhere (stop request or idle timeout).
			return
		default:
		}

		n, err := src.Read(buf)
		if n > 0 {
			// The read buffer is reused, so each chunk handed to listeners
			// must be its own allocation.
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			b.touch()
			r.fanOut(b, chunk)

			metricChunksIngested.Inc()
			metricBytesIngested.Add(float64(n))
		}

		if err != nil {
			if err != io.EOF {
				r.logger.Error("error reading broadcast stream", "station", b.ID(), "err", err)
			}
			return
		}
	}
}

// fanOut delivers one chunk to a snapshot of the current listener set. A
// failed delivery drops only that listener; the rest of the set and the
// broadcaster's loop are unaffected.
func (r *Relay) fanOut(b *Broadcast, chunk []byte) {
	for _, s := range b.snapshot() {
		if _, err := s.Write(chunk); err != nil {
			r.registry.RemoveListener(b.ID(), s)
			_ = s.Close()

			metricListenersDropped.Inc()
			r.logger.Debug("dropped listener", "station", b.ID(), "listener", s.ID(), "err", err)
		}
	}
}

// watchIdle destroys the broadcast if no data arrives within the configured
// idle timeout, covering broadcasters that vanish without closing the
// connection. Returns a func that stops the watchdog.
func (r *Relay) watchIdle(ctx context.Context, b *Broadcast) func() {
	wCtx, cancel := context.WithCancel(ctx)

	// A sub-20ms timeout would otherwise truncate to a zero tick, which
	// panics NewTicker.
	tick := r.cfg.IdleTimeout / 2
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}

	go func() {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for {
			select {
			case <-wCtx.Done():
				return
			case <-b.Done():
				return
			case <-ticker.C:
				if time.Since(b.idleSince()) > r.cfg.IdleTimeout {
					r.logger.Info("tearing down idle broadcast", "station", b.ID())
					r.stopEntry(b)
					return
				}
			}
		}
	}()

	return cancel
}

// stopBroadcast removes the entry for id and closes every remaining listener
// sink. Safe to call multiple times for the same id; only the call that
// actually removed the entry reports true.
func (r *Relay) stopBroadcast(id string) bool {
	sinks, ok := r.registry.Destroy(id)
	return r.finishStop(id, sinks, ok)
}

// stopEntry is the identity-checked variant used by teardown paths that hold
// a *Broadcast, so they cannot destroy a successor entry reusing the id.
func (r *Relay) stopEntry(b *Broadcast) bool {
	sinks, ok := r.registry.DestroyEntry(b)
	return r.finishStop(b.ID(), sinks, ok)
}

func (r *Relay) finishStop(id string, sinks []*Sink, ok bool) bool {
	if !ok {
		return false
	}

	for _, s := range sinks {
		_ = s.Close()
	}

	metricBroadcastsActive.Dec()
	r.logger.Info("broadcast stopped", "station", id, "listeners_closed", len(sinks))

	return true
}
