package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/JonMunkholm/importdesk/internal/core"
	"github.com/JonMunkholm/importdesk/internal/history"
	"github.com/cockroachdb/errors"
)

// handleHistory lists recorded import runs.
// Query: schema, status, since (RFC 3339), limit, offset.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   "run history is not configured",
			Message: "Run history is not available",
			Action:  "Set DATABASE_URL to record import runs",
			Code:    "HIST001",
		})
		return
	}

	q := r.URL.Query()
	opts := history.Options{
		Schema: q.Get("schema"),
		Status: core.Status(q.Get("status")),
		Limit:  parseIntParam(r, "limit", history.DefaultLimit),
		Offset: parseIntParam(r, "offset", 0),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			s.respondError(w, r, errors.Mark(errors.Wrap(err, "since must be an RFC 3339 timestamp"), core.ErrValidation))
			return
		}
		opts.Since = t
	}

	page, err := s.history.Recent(r.Context(), opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// parseIntParam parses a non-negative integer query parameter.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return defaultVal
	}
	return i
}
