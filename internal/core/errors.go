package core

import (
	"context"

	"github.com/JonMunkholm/importdesk/internal/gateway"
	"github.com/cockroachdb/errors"
)

// Error taxonomy. Every error returned by this package is marked with one of these.
var (
	// ErrValidation: a request is missing required input (schema, file, column).
	ErrValidation = errors.New("validation failed")
	// ErrJobStart: a job could not be started, usually because the session left Pending.
	ErrJobStart = errors.New("import could not be started")
	// ErrTransport: the document backend could not be reached or rejected a call.
	ErrTransport = errors.New("document backend request failed")
	// ErrMalformedPayload: a backend answer could not be interpreted.
	ErrMalformedPayload = errors.New("malformed backend payload")
	// ErrNotFound: the session or schema does not exist.
	ErrNotFound = errors.New("not found")
	// ErrMappingFrozen: mapping edits or previews were requested outside Pending.
	ErrMappingFrozen = errors.New("mapping is frozen once an import has started")
	// ErrViewClosed: an operation reached a view after teardown.
	ErrViewClosed = errors.New("view is closed")
)

// classify marks a backend failure with the matching taxonomy sentinel.
// op names the operation for the error chain.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	wrapped := errors.Wrap(err, op)

	switch {
	case errors.Is(err, gateway.ErrInvalidEnvelope):
		return errors.Mark(wrapped, ErrMalformedPayload)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errors.Mark(wrapped, ErrTransport)
	}

	if se, ok := gateway.AsServerError(err); ok && se.NotFound() {
		return errors.Mark(wrapped, ErrNotFound)
	}
	return errors.Mark(wrapped, ErrTransport)
}

// Reason returns the most specific human-readable text for err: the
// backend's own message when one was extracted, otherwise err's text.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	if se, ok := gateway.AsServerError(err); ok && se.Message != "" {
		return se.Message
	}
	return err.Error()
}
