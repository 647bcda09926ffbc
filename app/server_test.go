package app

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The broadcast ack must reach the broadcaster while the request body is
// still streaming, which only works if the server's middleware chain keeps
// the ResponseWriter unwrappable for http.ResponseController. A bare
// httptest server has no middleware at all, so the full lifecycle is
// exercised here against the server initServer actually wires.
func TestBroadcastLifecycleThroughServer(t *testing.T) {
	var cfg Config
	cfg.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("test", flag.ContinueOnError))
	cfg.Server.HTTPListenAddress = "127.0.0.1"
	cfg.Server.HTTPListenPort = 0
	cfg.Server.GRPCListenAddress = "127.0.0.1"
	cfg.Server.GRPCListenPort = 0

	a := &App{
		cfg:    cfg,
		logger: *slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	_, err := a.initServer()
	require.NoError(t, err)
	_, err = a.initRelay()
	require.NoError(t, err)

	go func() { _ = a.Server.Run() }()
	t.Cleanup(a.Server.Shutdown)

	base := "http://" + a.Server.HTTPListenAddr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pr, pw := io.Pipe()
	defer pw.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/broadcast?id=main&name=Main+Street", pr)
	require.NoError(t, err)

	// Do returns once response headers arrive. With the streaming body still
	// open, that happens only if the ack is written before ingestion.
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var started struct {
		Success   bool   `json:"success"`
		StationID string `json:"stationId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	assert.True(t, started.Success)
	assert.Equal(t, "main", started.StationID)

	lreq, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/broadcast?id=main", nil)
	require.NoError(t, err)
	listen, err := http.DefaultClient.Do(lreq)
	require.NoError(t, err)
	defer listen.Body.Close()
	require.Equal(t, http.StatusOK, listen.StatusCode)
	assert.Equal(t, "audio/mpeg", listen.Header.Get("Content-Type"))
	assert.Equal(t, "Main Street", listen.Header.Get("X-Station-Name"))
	assert.Equal(t, "*", listen.Header.Get("Access-Control-Allow-Origin"))

	for _, chunk := range []string{"c1", "c2", "c3"} {
		_, err = pw.Write([]byte(chunk))
		require.NoError(t, err)
	}

	got := make([]byte, 6)
	_, err = io.ReadFull(listen.Body, got)
	require.NoError(t, err)
	assert.Equal(t, "c1c2c3", string(got))

	sreq, err := http.NewRequestWithContext(ctx, http.MethodDelete, base+"/api/broadcast?id=main", nil)
	require.NoError(t, err)
	stop, err := http.DefaultClient.Do(sreq)
	require.NoError(t, err)
	stop.Body.Close()
	require.Equal(t, http.StatusOK, stop.StatusCode)

	// The listener observes stream end once the broadcast is gone.
	_, err = io.ReadAll(listen.Body)
	assert.NoError(t, err)
}
