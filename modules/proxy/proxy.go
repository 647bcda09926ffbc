package proxy

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aircastfm/aircast/pkg/playlist"
)

var module = "proxy"

// Playlist documents are tiny; anything larger is not a playlist.
const maxPlaylistBytes = 512 * 1024

var metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "aircast",
	Subsystem: "proxy",
	Name:      "requests_total",
	Help:      "Proxy stream requests by outcome.",
}, []string{"outcome"})

// Proxy forwards allowlisted third-party radio streams so browser clients
// can play them without mixed-content or CORS failures.
type Proxy struct {
	services.Service
	cfg       *Config
	logger    *slog.Logger
	allowlist *Allowlist
	client    *http.Client
}

// New creates and returns a new Proxy.
func New(cfg Config, logger slog.Logger) (*Proxy, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.ResponseHeaderTimeout == 0 {
		cfg.ResponseHeaderTimeout = defaultResponseHeaderTimeout
	}

	allowlist, err := NewAllowlist(cfg.AllowedPatterns...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build allowlist")
	}

	p := &Proxy{
		cfg:       &cfg,
		logger:    logger.With("module", module),
		allowlist: allowlist,
	}

	// Timeout for establishing the connection and headers only. The stream
	// itself must be readable indefinitely, so the client has no deadline.
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	p.client = &http.Client{
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		},
	}

	p.Service = services.NewIdleService(p.starting, p.stopping)

	return p, nil
}

func (p *Proxy) starting(ctx context.Context) error {
	return nil
}

func (p *Proxy) stopping(_ error) error {
	p.logger.Info("stopping")
	p.client.CloseIdleConnections()
	return nil
}

const proxyPath = "/api/proxy-stream"

func (p *Proxy) RegisterRoutes(router *mux.Router) {
	router.HandleFunc(proxyPath, p.streamHandler).Methods(http.MethodGet)
	router.HandleFunc(proxyPath, p.preflightHandler).Methods(http.MethodOptions)
}

// streamHandler validates the target against the allowlist, fetches it, and
// relays the body byte for byte. Each request is independent; nothing is
// cached or shared between callers.
func (p *Proxy) streamHandler(w http.ResponseWriter, req *http.Request) {
	writeCORS(w)

	streamURL := req.URL.Query().Get("url")
	if streamURL == "" {
		metricRequests.WithLabelValues("bad_request").Inc()
		http.Error(w, "Missing URL parameter", http.StatusBadRequest)
		return
	}

	if !isHTTP(streamURL) {
		metricRequests.WithLabelValues("bad_request").Inc()
		http.Error(w, "Invalid URL format", http.StatusBadRequest)
		return
	}

	// The refusal carries no detail about which rule matched, to avoid
	// leaking internal network topology.
	if !p.allowlist.Allowed(streamURL) {
		metricRequests.WithLabelValues("denied").Inc()
		http.Error(w, "URL not allowed. Only whitelisted streaming services are supported.", http.StatusForbidden)
		return
	}

	if playlist.LooksLikePlaylist(streamURL) {
		resolved, err := p.resolvePlaylist(req.Context(), streamURL)
		if err != nil {
			metricRequests.WithLabelValues("upstream_error").Inc()
			p.logger.Error("error resolving playlist", "url", streamURL, "err", err)
			http.Error(w, "Failed to proxy stream", http.StatusInternalServerError)
			return
		}
		// The playlist target gets no trust from the playlist's own host.
		if !p.allowlist.Allowed(resolved) {
			metricRequests.WithLabelValues("denied").Inc()
			http.Error(w, "URL not allowed. Only whitelisted streaming services are supported.", http.StatusForbidden)
			return
		}
		streamURL = resolved
	}

	resp, err := p.fetch(req.Context(), streamURL)
	if err != nil {
		metricRequests.WithLabelValues("upstream_error").Inc()
		p.logger.Error("error fetching stream", "url", streamURL, "err", err)
		http.Error(w, "Failed to proxy stream", http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Range")
	w.WriteHeader(http.StatusOK)

	metricRequests.WithLabelValues("ok").Inc()

	p.relay(w, resp.Body)
}

func (p *Proxy) preflightHandler(w http.ResponseWriter, _ *http.Request) {
	writeCORS(w)
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Range")
	w.WriteHeader(http.StatusOK)
}

// fetch issues the upstream GET. The Icy-MetaData header is required by some
// radio servers before they begin streaming.
func (p *Proxy) fetch(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Icy-MetaData", "1")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, errors.Errorf("upstream returned status %d", resp.StatusCode)
	}
	if resp.Body == nil {
		return nil, errors.New("upstream returned no body")
	}

	return resp, nil
}

// resolvePlaylist fetches a playlist document and returns the stream URL it
// points at.
func (p *Proxy) resolvePlaylist(ctx context.Context, url string) (string, error) {
	resp, err := p.fetch(ctx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	return playlist.Resolve(url, resp.Header.Get("Content-Type"), io.LimitReader(resp.Body, maxPlaylistBytes))
}

// relay copies the upstream body through unmodified, flushing after every
// read so audio reaches the client without buffering delays.
func (p *Proxy) relay(w http.ResponseWriter, body io.Reader) {
	flusher, _ := w.(http.Flusher)

	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func isHTTP(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

func writeCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
}
