package core

// error_messages.go maps engine errors to operator-facing messages.
//
// # Error Codes Reference
//
// Every message carries a code the operator can quote to support.
//
// # Validation (VAL000-VAL099)
//
//	VAL001 - Schema required       Pick the record type to import into
//	VAL002 - No file               Choose a file to upload
//	VAL003 - Unsupported file type Upload a .csv, .xlsx or .xls file
//	VAL004 - Content mismatch      The file content does not match its extension
//	VAL005 - Unknown mode          Choose insert or update
//	VAL006 - Field required        Choose a field or Don't Import for the column
//	VAL007 - Bad column            The column index is not valid
//	VAL000 - Other validation      Check the request and try again
//
// # Files (FILE001-FILE099)
//
//	FILE001 - Too large            Split the file into smaller chunks
//	FILE002 - Empty                Upload a file with data rows
//	FILE003 - Busy                 Wait a moment and retry the upload
//
// # Mapping (MAP001-MAP099)
//
//	MAP001 - Frozen                The import already started; mapping is read-only
//
// # Jobs (JOB001-JOB099)
//
//	JOB001 - Not pending           Only Pending imports can be started
//	JOB002 - Rejected              The backend refused to start the import
//
// # Gateway (GW001-GW099)
//
//	GW001 - Not found              The import or record type no longer exists
//	GW002 - Unavailable            The document backend could not be reached
//	GW003 - Timeout                The document backend took too long to answer
//	GW004 - Not permitted          The console's API key lacks permission
//	GW005 - Rejected               The document backend rejected the request
//	GW006 - Unreadable             The document backend answered in an unexpected format
//
// # Views (VIEW001)
//
//	VIEW001 - Closed               The page was closed; reopen the import
//
// # Default (ERR000)
//
//	ERR000 - Unknown error         Check application logs for the technical error
//
// # Matching
//
// Patterns are tried in order and the first match wins. A pattern matches
// when its sentinel (if any) is in the error chain and its text (if any)
// appears in the lower-cased error message. Specific patterns therefore come
// before the sentinel-only catch-alls of their category.

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/importdesk/internal/gateway"
	"github.com/cockroachdb/errors"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	sentinel error
	pattern  string
	msg      UserMessage
}

var errorPatterns = []errorPattern{
	// Validation
	{ErrValidation, "schema is required", UserMessage{
		Message: "No record type was selected",
		Action:  "Pick the record type to import into",
		Code:    "VAL001",
	}},
	{ErrValidation, "no file provided", UserMessage{
		Message: "No file was selected",
		Action:  "Choose a file to upload",
		Code:    "VAL002",
	}},
	{ErrValidation, "unsupported file type", UserMessage{
		Message: "This file type cannot be imported",
		Action:  "Upload a .csv, .xlsx or .xls file",
		Code:    "VAL003",
	}},
	{ErrValidation, "does not match extension", UserMessage{
		Message: "The file content does not match its extension",
		Action:  "Re-save the file in the format its name says",
		Code:    "VAL004",
	}},
	{ErrValidation, "unknown import mode", UserMessage{
		Message: "Unknown import action",
		Action:  "Choose Insert New Records or Update Existing Records",
		Code:    "VAL005",
	}},
	{ErrValidation, "field is required", UserMessage{
		Message: "No target field was chosen for the column",
		Action:  "Pick a field, or Don't Import to skip the column",
		Code:    "VAL006",
	}},
	{ErrValidation, "column index", UserMessage{
		Message: "The column is not valid",
		Action:  "Reload the preview and pick the column again",
		Code:    "VAL007",
	}},

	// Files
	{ErrFileTooLarge, "", UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the file into smaller chunks",
		Code:    "FILE001",
	}},
	{ErrValidation, "empty file", UserMessage{
		Message: "The uploaded file is empty",
		Action:  "Upload a file with a header row and data rows",
		Code:    "FILE002",
	}},
	{ErrTooManyUploads, "", UserMessage{
		Message: "The console is busy processing other uploads",
		Action:  "Please wait a moment and try again",
		Code:    "FILE003",
	}},

	{ErrValidation, "", UserMessage{
		Message: "The request is incomplete",
		Action:  "Check the highlighted fields and try again",
		Code:    "VAL000",
	}},

	// Mapping
	{ErrMappingFrozen, "", UserMessage{
		Message: "This import has already started",
		Action:  "Mapping and preview are read-only once an import runs",
		Code:    "MAP001",
	}},

	// Jobs
	{ErrJobStart, "only pending imports", UserMessage{
		Message: "This import is not waiting to be started",
		Action:  "Only Pending imports can be started; create a new import to run again",
		Code:    "JOB001",
	}},
	{ErrJobStart, "", UserMessage{
		Message: "The import could not be started",
		Action:  "Review the message from the server and try again",
		Code:    "JOB002",
	}},

	// Gateway
	{ErrNotFound, "", UserMessage{
		Message: "The import or record type was not found",
		Action:  "It may have been deleted; go back to the import list",
		Code:    "GW001",
	}},
	{gateway.ErrUnavailable, "deadline exceeded", UserMessage{
		Message: "The document server took too long to answer",
		Action:  "Please try again in a few moments",
		Code:    "GW003",
	}},
	{gateway.ErrUnavailable, "", UserMessage{
		Message: "Unable to reach the document server",
		Action:  "Please try again in a few moments",
		Code:    "GW002",
	}},
	{ErrTransport, "context deadline exceeded", UserMessage{
		Message: "The document server took too long to answer",
		Action:  "Please try again in a few moments",
		Code:    "GW003",
	}},
	{ErrTransport, "backend returned 403", UserMessage{
		Message: "The console is not permitted to do this",
		Action:  "Ask an administrator to check the API key's roles",
		Code:    "GW004",
	}},
	{ErrTransport, "", UserMessage{
		Message: "The document server rejected the request",
		Action:  "Review the message from the server and try again",
		Code:    "GW005",
	}},
	{ErrMalformedPayload, "", UserMessage{
		Message: "The document server answered in an unexpected format",
		Action:  "Please try again or contact support",
		Code:    "GW006",
	}},

	// Views
	{ErrViewClosed, "", UserMessage{
		Message: "This import page was closed",
		Action:  "Reopen the import",
		Code:    "VIEW001",
	}},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error to an operator-facing message. The first
// matching pattern wins; ERR000 is returned when none match.
//
// Example:
//
//	_, err := store.SetMapping(ctx, id, 0, "email")
//	msg := MapError(err)
//	// msg.Code == "MAP001" once the import has started
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if ep.sentinel != nil && !errors.Is(err, ep.sentinel) {
			continue
		}
		if ep.pattern != "" && !strings.Contains(errStr, ep.pattern) {
			continue
		}
		return ep.msg
	}
	return defaultMessage
}

// FormatUserError renders err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its operator-facing message.
type UserError struct {
	Technical error       // Original error for logging
	User      UserMessage // Message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
