package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dgallion1/pdftrans/internal/render"
	"github.com/dgallion1/pdftrans/internal/session"
	"github.com/go-chi/chi/v5"
)

const keepAliveInterval = 15 * time.Second

// handleStream pushes session events as Server-Sent Events until the client
// goes away or the session is deleted.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	store := s.orchestrator.Sessions()
	sess := store.Get(id)
	if sess == nil {
		jsonError(w, "session not found", http.StatusNotFound)
		return
	}

	rc := http.NewResponseController(w)
	// Translations outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	events, unsubscribe := store.Subscribe(id)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Current state first, so late subscribers catch up.
	html, _ := render.Markdown(sess.Accumulator().String())
	snap := sess.Snapshot()
	if err := writeEvent(w, session.Event{Type: session.EventRender, Snapshot: snap, HTML: html}); err != nil {
		return
	}
	if err := writeEvent(w, session.Event{Type: session.EventStatus, Snapshot: snap}); err != nil {
		return
	}
	_ = rc.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				s.log.Debug("stream write failed", "session_id", id, "error", err)
				return
			}
			_ = rc.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			_ = rc.Flush()
		}
	}
}

func writeEvent(w io.Writer, ev session.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
