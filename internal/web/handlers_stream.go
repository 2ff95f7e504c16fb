package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/JonMunkholm/importdesk/internal/logging"
	"github.com/cockroachdb/errors"
)

// handleEvents streams view snapshots as server-sent events.
//
// Each state change is sent as an "state" event. A comment ping is sent
// every heartbeat and keeps the view alive in the registry. When the last
// subscriber of a view disconnects the view is torn down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, errors.New("streaming not supported"))
		return
	}

	v, ok := s.openView(w, r)
	if !ok {
		return
	}
	id := v.SessionID()
	logger := logging.FromContext(requestContext(r, id))

	updates, unsubscribe, err := v.Subscribe()
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer func() {
		unsubscribe()
		if v.SubscriberCount() == 0 {
			if current, ok := s.service.Views.Get(id); ok && current == v {
				s.service.Views.Close(id)
				logger.Debug("view closed after last subscriber left")
			}
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	var seq int
	for {
		select {
		case state, ok := <-updates:
			if !ok {
				fmt.Fprint(w, "event: closed\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(state)
			if err != nil {
				logger.Error("encode view state", "error", err)
				continue
			}
			seq++
			fmt.Fprintf(w, "id: %d\nevent: state\ndata: %s\n\n", seq, data)
			flusher.Flush()

		case <-heartbeat.C:
			s.service.Views.Touch(id)
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
