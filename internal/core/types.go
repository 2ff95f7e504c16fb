package core

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// SessionDoctype is the record type that stores import sessions on the backend.
const SessionDoctype = "Data Import"

// DontImport is the mapping value that marks a column as skipped.
const DontImport = "Don't Import"

// Mode selects whether an import creates records or updates existing ones.
type Mode string

const (
	ModeInsertNew      Mode = "Insert New Records"
	ModeUpdateExisting Mode = "Update Existing Records"
)

// ParseMode accepts the backend label or a short alias ("insert", "update").
// An empty string yields ModeInsertNew.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "insert", "insertnew", "insert_new", strings.ToLower(string(ModeInsertNew)):
		return ModeInsertNew, nil
	case "update", "updateexisting", "update_existing", strings.ToLower(string(ModeUpdateExisting)):
		return ModeUpdateExisting, nil
	}
	return "", errors.Mark(errors.Newf("unknown import mode %q", s), ErrValidation)
}

// Status is the lifecycle state of an import session.
type Status string

const (
	StatusPending        Status = "Pending"
	StatusPartialSuccess Status = "Partial Success"
	StatusSuccess        Status = "Success"
	StatusError          Status = "Error"
	StatusTimedOut       Status = "Timed Out"
)

// Rank orders statuses for forward-only transitions. Unknown statuses rank -1.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusPartialSuccess:
		return 1
	case StatusSuccess, StatusError, StatusTimedOut:
		return 2
	}
	return -1
}

// Terminal reports whether no further progress happens from s.
func (s Status) Terminal() bool {
	return s.Rank() == 2
}

// Advance returns the status a session should hold after observing next.
// Transitions never move backward, unknown values are ignored, and a
// terminal status is final.
func (s Status) Advance(next Status) Status {
	if next.Rank() < 0 {
		return s
	}
	if s.Rank() < 0 {
		return next
	}
	if s.Terminal() || next.Rank() < s.Rank() {
		return s
	}
	return next
}

// Mapping assigns zero-based source column indexes to target fieldnames or DontImport.
type Mapping map[int]string

// With returns a copy of m with column set to field.
func (m Mapping) With(column int, field string) Mapping {
	out := make(Mapping, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[column] = field
	return out
}

// Equal reports whether both mappings hold the same entries.
func (m Mapping) Equal(other Mapping) bool {
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Skipped reports whether column is explicitly excluded from the import.
func (m Mapping) Skipped(column int) bool {
	return m[column] == DontImport
}

func (m Mapping) wire() map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strconv.Itoa(k)] = v
	}
	return out
}

// NormalizeField canonicalizes a mapping target. "skip" in any case becomes DontImport.
func NormalizeField(field string) string {
	field = strings.TrimSpace(field)
	if strings.EqualFold(field, "skip") || strings.EqualFold(field, DontImport) {
		return DontImport
	}
	return field
}

// Session is the local copy of an import session record.
type Session struct {
	ID         string    `json:"id"`
	Schema     string    `json:"schema"`
	Mode       Mode      `json:"mode"`
	FileRef    string    `json:"file_ref"`
	Status     Status    `json:"status"`
	Mapping    Mapping   `json:"mapping"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
	ModifiedAt time.Time `json:"modified_at,omitzero"`

	// options holds every template_options key, including ones this
	// package does not interpret, so writes can preserve them.
	options map[string]json.RawMessage
	doc     map[string]json.RawMessage
}

// ColumnClass is how a preview column is treated by the import.
type ColumnClass string

const (
	ColumnMapped   ColumnClass = "mapped"
	ColumnUnmapped ColumnClass = "unmapped"
	ColumnSkipped  ColumnClass = "skipped"
)

// PreviewColumn describes one source column in a preview.
type PreviewColumn struct {
	HeaderTitle string      `json:"header_title"`
	Index       int         `json:"index"`
	MappedField string      `json:"mapped_field,omitempty"`
	FieldLabel  string      `json:"field_label,omitempty"`
	Skip        bool        `json:"skip"`
	Required    bool        `json:"required"`
	Class       ColumnClass `json:"class"`
	Suggestion  string      `json:"suggestion,omitempty"`
}

// Warning is an advisory message, optionally tied to a source row.
type Warning struct {
	Row     int    `json:"row,omitempty"`
	Column  *int   `json:"column,omitempty"`
	Message string `json:"message"`
}

// PreviewSnapshot is a parsed rendering of the uploaded file under a mapping.
type PreviewSnapshot struct {
	SessionID     string          `json:"session_id"`
	Columns       []PreviewColumn `json:"columns"`
	SampleRows    [][]any         `json:"sample_rows"`
	Warnings      []Warning       `json:"warnings"`
	Truncated     bool            `json:"truncated"`
	SampleLimit   int             `json:"sample_limit,omitempty"`
	TotalRowCount int             `json:"total_row_count"`
	Generation    uint64          `json:"generation"`
}

// ProgressSnapshot is one observation of job progress.
type ProgressSnapshot struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Total   int `json:"total_records"`
}

// Processed returns how many rows the job has finished with either outcome.
func (p ProgressSnapshot) Processed() int {
	return p.Success + p.Failed
}

// Known reports whether the backend has reported a record total yet.
func (p ProgressSnapshot) Known() bool {
	return p.Total > 0
}

// Merge folds a newer observation into p. Counts never decrease and the
// total never falls below the processed count.
func (p ProgressSnapshot) Merge(next ProgressSnapshot) ProgressSnapshot {
	out := ProgressSnapshot{
		Success: max(p.Success, next.Success),
		Failed:  max(p.Failed, next.Failed),
		Total:   max(p.Total, next.Total),
	}
	out.Total = max(out.Total, out.Processed())
	return out
}

// LogMessage is one human-readable message attached to a log entry.
type LogMessage struct {
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
}

// LogEntry is the normalized outcome of one batch of source rows.
type LogEntry struct {
	RowIndexes     []int        `json:"row_indexes"`
	RowRef         string       `json:"row_ref,omitempty"`
	Success        bool         `json:"success"`
	TargetRecordID string       `json:"target_record_id,omitempty"`
	Messages       []LogMessage `json:"messages"`
	ExceptionText  string       `json:"exception,omitempty"`
}

// FieldInfo describes an importable field of a target schema.
type FieldInfo struct {
	Fieldname string `json:"fieldname"`
	Label     string `json:"label"`
	Fieldtype string `json:"fieldtype"`
	Required  bool   `json:"required"`
}

// RecordScope selects which existing records a template includes.
type RecordScope string

const (
	ScopeBlank  RecordScope = "blank"
	ScopeSample RecordScope = "sample"
	ScopeAll    RecordScope = "all"
)

// FileType is the encoding of a template artifact.
type FileType string

const (
	FileTypeCSV   FileType = "CSV"
	FileTypeExcel FileType = "Excel"
)

// ParseFileType accepts "csv", "excel" or "xlsx" in any case. Empty means CSV.
func ParseFileType(s string) (FileType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FileTypeCSV, nil
	case "excel", "xlsx":
		return FileTypeExcel, nil
	}
	return "", errors.Mark(errors.Newf("unsupported file type %q", s), ErrValidation)
}

// Artifact is a downloadable file produced for the operator.
type Artifact struct {
	Name        string
	ContentType string
	Body        []byte
}
