package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const broadcastPath = "/api/broadcast"

func (r *Relay) RegisterRoutes(router *mux.Router) {
	router.HandleFunc(broadcastPath, r.startHandler).Methods(http.MethodPost)
	router.HandleFunc(broadcastPath, r.listenHandler).Methods(http.MethodGet)
	router.HandleFunc(broadcastPath, r.stopHandler).Methods(http.MethodDelete)
	router.HandleFunc(broadcastPath, r.preflightHandler).Methods(http.MethodOptions)
}

type startResponse struct {
	Success   bool   `json:"success"`
	StationID string `json:"stationId"`
	Message   string `json:"message"`
	Listeners int    `json:"listeners"`
}

type stopResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// startHandler creates the broadcast and acknowledges immediately, then
// keeps ingesting the request body until the broadcaster disconnects or the
// broadcast is torn down. The body is opaque audio; it is relayed, never
// parsed.
func (r *Relay) startHandler(w http.ResponseWriter, req *http.Request) {
	writeCORS(w)

	q := req.URL.Query()
	id := q.Get("id")
	name := q.Get("name")
	genre := q.Get("genre")
	if genre == "" {
		genre = "Custom"
	}

	if id == "" || name == "" {
		http.Error(w, "Missing required parameters (id, name)", http.StatusBadRequest)
		return
	}

	// Acknowledging before ingesting needs full duplex on HTTP/1: without it
	// the server drains the entire request body before releasing the
	// response, so the ack would never reach a streaming broadcaster.
	// HTTP/2 interleaves reads and writes regardless.
	rc := http.NewResponseController(w)
	if err := rc.EnableFullDuplex(); err != nil && req.ProtoMajor == 1 {
		r.logger.Error("full duplex unavailable, refusing broadcast", "station", id, "err", err)
		http.Error(w, "Streaming ingest not supported on this connection", http.StatusInternalServerError)
		return
	}

	meta := Metadata{
		Name:        name,
		Genre:       genre,
		Description: q.Get("description"),
		CreatedAt:   time.Now(),
	}

	b, err := r.registry.Create(id, meta)
	if err != nil {
		http.Error(w, "Broadcast already active for this station ID", http.StatusConflict)
		return
	}

	metricBroadcastsActive.Inc()
	r.logger.Info("broadcast started", "station", id, "name", name, "genre", genre)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(startResponse{
		Success:   true,
		StationID: id,
		Message:   "Broadcast started successfully",
		Listeners: b.ListenerCount(),
	})
	_ = rc.Flush()

	r.ingest(req.Context(), b, req.Body)
}

// listenHandler registers a fresh sink and streams chunks to the client for
// as long as both the broadcast and the connection live.
func (r *Relay) listenHandler(w http.ResponseWriter, req *http.Request) {
	writeCORS(w)

	id := req.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing station ID parameter", http.StatusBadRequest)
		return
	}

	b, ok := r.registry.Get(id)
	if !ok {
		http.Error(w, "Broadcast not found or not live", http.StatusNotFound)
		return
	}

	sink := NewSink(r.cfg.ListenerBuffer)
	if err := r.registry.AddListener(id, sink); err != nil {
		// Lost a race with teardown.
		http.Error(w, "Broadcast not found or not live", http.StatusNotFound)
		return
	}

	metricListenersActive.Inc()
	r.logger.Info("listener connected", "station", id, "listener", sink.ID())

	defer func() {
		r.registry.RemoveListener(id, sink)
		_ = sink.Close()

		metricListenersActive.Dec()
		r.logger.Info("listener disconnected", "station", id, "listener", sink.ID())
	}()

	meta := b.Metadata()
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("X-Station-Name", meta.Name)
	w.Header().Set("X-Genre", meta.Genre)
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-req.Context().Done():
			return
		case chunk, open := <-sink.Chunks():
			if !open {
				// Broadcast ended; the client observes stream end.
				return
			}
			if _, err := w.Write(chunk); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (r *Relay) stopHandler(w http.ResponseWriter, req *http.Request) {
	writeCORS(w)

	id := req.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing station ID parameter", http.StatusBadRequest)
		return
	}

	if !r.stopBroadcast(id) {
		http.Error(w, "Broadcast not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stopResponse{
		Success: true,
		Message: "Broadcast stopped successfully",
	})
}

func (r *Relay) preflightHandler(w http.ResponseWriter, _ *http.Request) {
	writeCORS(w)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusOK)
}

func writeCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
}
