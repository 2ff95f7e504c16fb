package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
)

// ErrUnavailable marks failures where no response was received at all
// (connection refused, DNS, TLS, timeouts).
var ErrUnavailable = errors.New("document backend unavailable")

// ServerError is a non-2xx answer from the document backend.
//
// Message holds the best human-readable text that could be extracted from the
// (often nested) error envelope, already stripped of markup.
type ServerError struct {
	Status  int
	Type    string
	Message string
	Raw     string
}

func (e *ServerError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("backend returned %d (%s): %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// NotFound reports whether the backend answered 404.
func (e *ServerError) NotFound() bool {
	return e.Status == http.StatusNotFound
}

// Retryable reports whether repeating the same request may succeed.
func (e *ServerError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// AsServerError unwraps err into a *ServerError if it carries one.
func AsServerError(err error) (*ServerError, bool) {
	var se *ServerError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// parseServerError builds a ServerError from a failed response body.
func parseServerError(status int, body []byte) *ServerError {
	raw := strings.TrimSpace(string(body))
	se := &ServerError{Status: status, Raw: raw}

	if !gjson.ValidBytes(body) {
		se.Message = fallbackMessage(status, raw)
		return se
	}

	res := gjson.ParseBytes(body)
	se.Type = res.Get("exc_type").String()

	if msg := ExtractMessage(res); msg != "" {
		se.Message = msg
		return se
	}

	se.Message = fallbackMessage(status, raw)
	return se
}

// ExtractMessage pulls a human-readable message out of an error envelope.
//
// The backend nests its user-facing messages: _server_messages is a JSON
// string holding an array of JSON strings, each of which is an object with a
// "message" key. When that fails the exception text and the plain message
// field are tried in turn.
func ExtractMessage(res gjson.Result) string {
	if sm := res.Get("_server_messages"); sm.Exists() {
		if msg := serverMessages(sm.String()); msg != "" {
			return msg
		}
	}

	if exc := res.Get("exception"); exc.Type == gjson.String && exc.String() != "" {
		text := exc.String()
		if idx := strings.Index(text, ": "); idx >= 0 && !strings.Contains(text[:idx], " ") {
			text = text[idx+2:]
		}
		return PlainText(text)
	}

	if msg := res.Get("message"); msg.Type == gjson.String && msg.String() != "" {
		return PlainText(msg.String())
	}

	return ""
}

func serverMessages(encoded string) string {
	var messages []string
	if err := json.Unmarshal([]byte(encoded), &messages); err != nil || len(messages) == 0 {
		return ""
	}

	first := messages[0]
	if gjson.Valid(first) {
		inner := gjson.Parse(first)
		if inner.IsObject() {
			if m := inner.Get("message").String(); m != "" {
				return PlainText(m)
			}
			return ""
		}
	}
	return PlainText(first)
}

func fallbackMessage(status int, raw string) string {
	if text := PlainText(raw); text != "" {
		return text
	}
	return http.StatusText(status)
}
