package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmehra2102/lumina-commerce/internal/store"
)

type streamDoc struct {
	ID        string          `json:"id"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"createdAt"`
	Data      json.RawMessage `json:"data"`
}

type streamEvent struct {
	Collection store.Collection `json:"collection"`
	Seq        uint64           `json:"seq"`
	Docs       []streamDoc      `json:"docs"`
}

// stream serves full collection snapshots as server-sent events. The store
// subscription lives exactly as long as the request.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	c := store.Collection(chi.URLParam(r, "collection"))
	if !c.Valid() {
		writeError(w, http.StatusNotFound, "unknown collection")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	updates := make(chan store.Snapshot, 1)
	sub, err := h.st.Subscribe(r.Context(), c, func(s store.Snapshot) {
		for {
			select {
			case updates <- s:
				return
			default:
			}
			// Drop the undelivered older snapshot; the newer one replaces it.
			select {
			case <-updates:
			default:
			}
		}
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap := <-updates:
			ev := streamEvent{Collection: snap.Collection, Seq: snap.Seq, Docs: make([]streamDoc, 0, len(snap.Docs))}
			for _, d := range snap.Docs {
				ev.Docs = append(ev.Docs, streamDoc{ID: d.ID, Version: d.Version, CreatedAt: d.CreatedAt, Data: d.Data})
			}
			body, err := json.Marshal(ev)
			if err != nil {
				h.log.Error("encode snapshot", "collection", c, "err", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: snapshot\nid: %d\ndata: %s\n\n", snap.Seq, body); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
