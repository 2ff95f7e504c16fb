package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/JonMunkholm/importdesk/internal/gateway"
	"github.com/cockroachdb/errors"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/tidwall/gjson"
)

// PreviewEngine requests parsed previews of an uploaded file and applies
// the column classification policy. It also routes mapping edits through
// the session store so that every edit is followed by a fresh preview.
type PreviewEngine struct {
	backend  Backend
	sessions *SessionStore
	schemas  *SchemaIntrospector

	mu   sync.Mutex
	last map[string]PreviewSnapshot
}

// NewPreviewEngine creates a preview engine.
func NewPreviewEngine(backend Backend, sessions *SessionStore, schemas *SchemaIntrospector) *PreviewEngine {
	return &PreviewEngine{
		backend:  backend,
		sessions: sessions,
		schemas:  schemas,
		last:     make(map[string]PreviewSnapshot),
	}
}

// GetPreview parses the session's file under its current mapping. It is
// only available while the session is Pending.
func (pe *PreviewEngine) GetPreview(ctx context.Context, sessionID string) (PreviewSnapshot, error) {
	session, err := pe.sessions.RefreshIfStale(ctx, sessionID)
	if err != nil {
		return PreviewSnapshot{}, err
	}
	return pe.preview(ctx, session)
}

// UpdateMapping persists one mapping change and returns a preview computed
// after the write completed.
func (pe *PreviewEngine) UpdateMapping(ctx context.Context, sessionID string, column int, field string) (PreviewSnapshot, error) {
	session, err := pe.sessions.SetMapping(ctx, sessionID, column, field)
	if err != nil {
		return PreviewSnapshot{}, err
	}
	pe.Invalidate(sessionID)
	return pe.preview(ctx, session)
}

// Current returns the last preview if it was computed under the session's
// current mapping.
func (pe *PreviewEngine) Current(sessionID string) (PreviewSnapshot, bool) {
	pe.mu.Lock()
	snap, ok := pe.last[sessionID]
	pe.mu.Unlock()
	if !ok || snap.Generation != pe.sessions.Generation(sessionID) {
		return PreviewSnapshot{}, false
	}
	return snap, true
}

// Invalidate drops any remembered preview for sessionID.
func (pe *PreviewEngine) Invalidate(sessionID string) {
	pe.mu.Lock()
	delete(pe.last, sessionID)
	pe.mu.Unlock()
}

func (pe *PreviewEngine) preview(ctx context.Context, session Session) (PreviewSnapshot, error) {
	if session.Status != StatusPending {
		return PreviewSnapshot{}, errors.Mark(
			errors.Newf("preview unavailable: session %s is %s", session.ID, session.Status), ErrMappingFrozen)
	}

	generation := pe.sessions.Generation(session.ID)
	raw, err := pe.backend.Query(ctx, gateway.MethodPreview, map[string]any{"data_import": session.ID})
	if err != nil {
		return PreviewSnapshot{}, classify(err, "preview "+session.ID)
	}

	fields, err := pe.schemas.Fields(ctx, session.Schema, session.Mode)
	if err != nil {
		// Suggestions and coverage warnings need field metadata; the preview itself does not.
		slog.Warn("schema fields unavailable for preview",
			"session_id", session.ID,
			"schema", session.Schema,
			"error", err,
		)
		fields = nil
	}

	snap := buildPreview(gjson.ParseBytes(raw), session.Mapping, fields)
	snap.SessionID = session.ID
	snap.Generation = generation

	pe.mu.Lock()
	pe.last[session.ID] = snap
	pe.mu.Unlock()
	return snap, nil
}

// buildPreview classifies columns and assembles warnings.
//
// The session mapping is overlaid on the backend's own column resolution so
// a just-written mapping is reflected even if the backend echoes an older one.
func buildPreview(res gjson.Result, mapping Mapping, fields []FieldInfo) PreviewSnapshot {
	byName := make(map[string]FieldInfo, len(fields))
	for _, f := range fields {
		byName[f.Fieldname] = f
	}

	snap := PreviewSnapshot{
		Columns:       []PreviewColumn{},
		SampleRows:    [][]any{},
		Warnings:      []Warning{},
		Truncated:     truthy(res.Get("max_rows_exceeded")),
		SampleLimit:   intOf(res.Get("max_rows_in_preview")),
		TotalRowCount: intOf(res.Get("total_number_of_rows")),
	}

	for i, c := range res.Get("columns").Array() {
		col := PreviewColumn{
			HeaderTitle: c.Get("header_title").String(),
			Index:       i,
			Skip:        truthy(c.Get("skip_import")),
			MappedField: c.Get("df.fieldname").String(),
			FieldLabel:  c.Get("df.label").String(),
			Required:    truthy(c.Get("df.reqd")),
		}
		if idx := c.Get("index"); idx.Type == gjson.Number {
			col.Index = int(idx.Int())
		}
		if c.Get("map_to_field").String() == DontImport {
			col.Skip = true
		}

		if field, ok := mapping[col.Index]; ok {
			if field == DontImport {
				col.Skip = true
				col.MappedField = ""
				col.FieldLabel = ""
			} else {
				col.Skip = false
				col.MappedField = field
				if f, ok := byName[field]; ok {
					col.FieldLabel = f.Label
					col.Required = f.Required
				}
			}
		}

		switch {
		case col.Skip:
			col.Class = ColumnSkipped
		case col.MappedField != "":
			col.Class = ColumnMapped
		default:
			col.Class = ColumnUnmapped
		}
		snap.Columns = append(snap.Columns, col)
	}

	for _, row := range res.Get("data").Array() {
		cells := row.Array()
		values := make([]any, len(cells))
		for j, cell := range cells {
			values[j] = cell.Value()
		}
		snap.SampleRows = append(snap.SampleRows, values)
	}
	if snap.TotalRowCount < len(snap.SampleRows) {
		snap.TotalRowCount = len(snap.SampleRows)
	}

	for _, w := range res.Get("warnings").Array() {
		snap.Warnings = append(snap.Warnings, serverWarning(w))
	}
	snap.Warnings = append(snap.Warnings, columnWarnings(snap.Columns, fields)...)

	suggestMappings(snap.Columns, fields)
	return snap
}

func serverWarning(w gjson.Result) Warning {
	if w.Type == gjson.String {
		return Warning{Message: gateway.PlainText(w.Str)}
	}
	out := Warning{
		Row:     intOf(w.Get("row")),
		Message: gateway.PlainText(scalarText(w.Get("message"))),
	}
	if col := w.Get("col"); col.Type == gjson.Number {
		idx := int(col.Int())
		out.Column = &idx
	}
	if out.Message == "" {
		out.Message = w.Raw
	}
	return out
}

// columnWarnings flags unmapped columns, required columns that will not be
// imported, and mandatory fields no column is mapped to.
func columnWarnings(columns []PreviewColumn, fields []FieldInfo) []Warning {
	var out []Warning
	covered := make(map[string]bool, len(columns))

	for _, col := range columns {
		idx := col.Index
		switch col.Class {
		case ColumnMapped:
			covered[col.MappedField] = true
		case ColumnUnmapped:
			msg := fmt.Sprintf("Column %q is not mapped to any field and will not be imported", col.HeaderTitle)
			if col.Required {
				msg = fmt.Sprintf("Required column %q is not mapped to any field", col.HeaderTitle)
			}
			out = append(out, Warning{Column: &idx, Message: msg})
		case ColumnSkipped:
			if col.Required {
				out = append(out, Warning{
					Column:  &idx,
					Message: fmt.Sprintf("Required column %q is marked %s", col.HeaderTitle, DontImport),
				})
			}
		}
	}

	for _, f := range fields {
		if f.Required && !covered[f.Fieldname] {
			out = append(out, Warning{
				Message: fmt.Sprintf("Mandatory field %s (%s) is not mapped from any column", f.Label, f.Fieldname),
			})
		}
	}
	return out
}

// suggestMappings proposes the closest unclaimed field for each unmapped
// column by fuzzy-matching its header against field labels and names.
func suggestMappings(columns []PreviewColumn, fields []FieldInfo) {
	if len(fields) == 0 {
		return
	}

	claimed := make(map[string]bool)
	for _, col := range columns {
		if col.Class == ColumnMapped {
			claimed[col.MappedField] = true
		}
	}

	targets := make([]string, 0, len(fields)*2)
	owner := make(map[string]string, len(fields)*2)
	for _, f := range fields {
		if claimed[f.Fieldname] || f.Fieldname == IdentityField {
			continue
		}
		for _, t := range []string{f.Label, f.Fieldname} {
			if t == "" {
				continue
			}
			if _, dup := owner[t]; !dup {
				targets = append(targets, t)
				owner[t] = f.Fieldname
			}
		}
	}

	for i := range columns {
		col := &columns[i]
		header := strings.TrimSpace(col.HeaderTitle)
		if col.Class != ColumnUnmapped || header == "" {
			continue
		}

		// Exact matches first, then the smallest edit distance.
		for _, t := range targets {
			if strings.EqualFold(t, header) {
				col.Suggestion = owner[t]
				break
			}
		}
		if col.Suggestion != "" {
			continue
		}
		ranks := fuzzy.RankFindNormalizedFold(header, targets)
		if len(ranks) == 0 {
			continue
		}
		sort.Sort(ranks)
		col.Suggestion = owner[ranks[0].Target]
	}
}
