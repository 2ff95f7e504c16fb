package web

// errors.go renders failures for the console.
//
// The technical error is logged with the request id. The client receives
// the mapped user message as JSON, or as an HTML alert for htmx requests.

import (
	"encoding/json"
	"net/http"

	"github.com/JonMunkholm/importdesk/internal/core"
	"github.com/JonMunkholm/importdesk/internal/gateway"
	"github.com/JonMunkholm/importdesk/internal/logging"
	"github.com/JonMunkholm/importdesk/internal/web/templates"
	"github.com/cockroachdb/errors"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	// Detail carries the backend's own wording when there is one.
	Detail string `json:"detail,omitempty"`
}

// statusFor picks the HTTP status for an engine error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrTooManyUploads):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrMappingFrozen), errors.Is(err, core.ErrJobStart):
		return http.StatusConflict
	case errors.Is(err, core.ErrViewClosed):
		return http.StatusGone
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	}
	if se, ok := gateway.AsServerError(err); ok && se.Status == http.StatusForbidden {
		return http.StatusForbidden
	}
	switch {
	case errors.Is(err, core.ErrTransport), errors.Is(err, core.ErrMalformedPayload):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes the mapped user message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userMsg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", userMsg.Code,
		"error", err.Error(),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}

	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_ = templates.ErrorAlert(userMsg.Message, userMsg.Action, userMsg.Code).Render(r.Context(), w)
		return
	}

	resp := ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	}
	if core.IsUserFacing(err) {
		if detail := core.Reason(err); detail != userMsg.Message {
			resp.Detail = detail
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// isHTMX checks if the request is an htmx request.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}
