package server

import (
	"encoding/json"
	"net/http"
	"time"

	"mesaops/auth"
	"mesaops/bus"
	"mesaops/models"
)

// StreamNotifications serves the role-scoped notification feed over SSE.
// The reader resumes from the after_id query parameter (stream start when
// absent), receives the matching backlog, then long-polls for new events.
func (s *Server) StreamNotifications(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	scope := auth.RequestScope(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	cursor := r.URL.Query().Get("after_id")
	if cursor == "" {
		cursor = bus.StartID
	}

	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	for {
		events, last, err := s.Stream.Read(r.Context(), cursor, 100)
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			s.Log.Error("notification stream read failed", "error", err)
			return
		}
		cursor = last
		for _, event := range events {
			if !visibleTo(event, scope) {
				continue
			}
			if err := writeSSE(w, event); err != nil {
				return
			}
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// visibleTo reports whether a notification event belongs to the reader's
// audience. Admin sees every audience; non-notification events stay off the
// feed.
func visibleTo(event bus.Event, scope models.Scope) bool {
	audience := bus.NotificationAudience(event.Type)
	if audience == "" {
		return false
	}
	if scope == models.ScopeAdmin {
		return true
	}
	return audience == string(scope)
}

func writeSSE(w http.ResponseWriter, event bus.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("id: " + event.ID + "\n")); err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: " + event.Type + "\n")); err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}
