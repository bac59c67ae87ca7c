package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"songmill/core/ingest"
	"songmill/logger"
)

var progressUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// IngestProgressHandler streams a slug's pipeline state transitions over
// a websocket until the run reaches a terminal state.
func (h *APIHandler) IngestProgressHandler(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]

	conn, err := progressUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	defer conn.Close()

	events, cancel := h.hub.Subscribe(slug)
	defer cancel()

	// Send the currently cached state first so late subscribers see
	// where the run already is.
	if h.status != nil {
		if state, err := h.status.GetState(r.Context(), slug); err == nil && state != "" {
			conn.WriteJSON(ingest.Event{Slug: slug, State: state, At: time.Now()})
		}
	}

	// Drain client frames so close frames and pings are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
		if ev.State == ingest.StateDone || ev.State == ingest.StateFailed {
			return
		}
	}
}

// IngestStatusHandler reports a slug's current pipeline state, if any.
func (h *APIHandler) IngestStatusHandler(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]

	if h.status == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "status tracking disabled"})
		return
	}

	state, err := h.status.GetState(r.Context(), slug)
	if err != nil {
		logger.Warn("failed to read ingest state", logger.String("slug", slug), logger.ErrorField(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read state"})
		return
	}
	if state == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active ingestion for slug"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"slug": slug, "state": string(state)})
}
