package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumidoc/lumi/internal/docstore"
	"github.com/lumidoc/lumi/internal/status"
)

// handleEvents streams import progress for one paper version over
// server-sent events. On connect the current persisted state is sent first
// so late subscribers do not miss transitions that already happened; live
// updates follow until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	paperID := chi.URLParam(r, "paperID")
	version := chi.URLParam(r, "version")
	key := docstore.RecordKey(paperID, version)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := s.publisher.Subscribe(key)
	defer s.publisher.Unsubscribe(sub)

	if rec, err := s.store.GetRecord(r.Context(), key); err == nil && rec != nil {
		initial := status.Update{
			PaperKey: key,
			Version:  rec.Version,
			Type:     "document_update",
			Data: map[string]any{
				"loadingStatus": string(rec.Status),
				"loadingError":  rec.Error,
				"metadata":      rec.Metadata,
			},
		}
		writeEvent(w, initial)
		flusher.Flush()
	} else if err != nil {
		s.log.Warn("initial state fetch failed", "key", key, "error", err)
	}

	ping := time.NewTicker(s.cfg.SSEPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case upd, open := <-sub.Updates():
			if !open {
				// Evicted for falling behind; the client should reconnect.
				return
			}
			writeEvent(w, upd)
			flusher.Flush()
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, upd status.Update) {
	payload, err := json.Marshal(upd)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", upd.Type, payload)
}
