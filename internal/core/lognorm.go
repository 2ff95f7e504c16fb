package core

import (
	"encoding/json"
	"strings"

	"github.com/JonMunkholm/importdesk/internal/gateway"
	"github.com/tidwall/gjson"
)

// NormalizeLogs converts the backend's per-row import logs into LogEntry
// values. It accepts an array of entries, a single entry, or null, and
// never fails: fields that cannot be interpreted degrade to their raw text.
func NormalizeLogs(raw json.RawMessage) []LogEntry {
	if !gjson.ValidBytes(raw) {
		return []LogEntry{}
	}

	res := gjson.ParseBytes(raw)
	switch {
	case res.IsArray():
		items := res.Array()
		out := make([]LogEntry, 0, len(items))
		for _, item := range items {
			if !item.IsObject() {
				continue
			}
			out = append(out, normalizeLogEntry(item))
		}
		return out
	case res.IsObject():
		return []LogEntry{normalizeLogEntry(res)}
	}
	return []LogEntry{}
}

func normalizeLogEntry(r gjson.Result) LogEntry {
	entry := LogEntry{
		Success:        truthy(r.Get("success")),
		TargetRecordID: r.Get("docname").String(),
		ExceptionText:  strings.TrimSpace(r.Get("exception").String()),
	}
	entry.RowIndexes, entry.RowRef = normalizeRowIndexes(r.Get("row_indexes"))
	entry.Messages = normalizeMessages(r.Get("messages"))
	return entry
}

// normalizeRowIndexes accepts a sequence, a JSON-encoded sequence or a
// single number. When decoding fails the raw value becomes the row reference.
func normalizeRowIndexes(r gjson.Result) ([]int, string) {
	switch r.Type {
	case gjson.Null:
		return []int{}, ""
	case gjson.Number:
		return []int{int(r.Int())}, ""
	case gjson.String:
		text := strings.TrimSpace(r.Str)
		if text == "" {
			return []int{}, ""
		}
		if gjson.Valid(text) {
			inner := gjson.Parse(text)
			if inner.Type != gjson.String {
				if rows, ref := normalizeRowIndexes(inner); ref == "" {
					return rows, ""
				}
			}
		}
		return []int{}, r.Str
	case gjson.JSON:
		if !r.IsArray() {
			return []int{}, r.Raw
		}
		items := r.Array()
		rows := make([]int, 0, len(items))
		for _, item := range items {
			n, ok := rowNumber(item)
			if !ok {
				return []int{}, r.Raw
			}
			rows = append(rows, n)
		}
		return rows, ""
	}
	return []int{}, r.Raw
}

func rowNumber(r gjson.Result) (int, bool) {
	switch r.Type {
	case gjson.Number:
		return int(r.Int()), r.Float() == float64(r.Int())
	case gjson.String:
		n := gjson.Parse(strings.TrimSpace(r.Str))
		if n.Type == gjson.Number && n.Float() == float64(n.Int()) {
			return int(n.Int()), true
		}
	}
	return 0, false
}

// normalizeMessages accepts a sequence, a JSON-encoded sequence, a single
// object or a bare string.
func normalizeMessages(r gjson.Result) []LogMessage {
	out := []LogMessage{}
	switch r.Type {
	case gjson.Null:
		return out
	case gjson.String:
		text := strings.TrimSpace(r.Str)
		if text == "" {
			return out
		}
		if gjson.Valid(text) {
			inner := gjson.Parse(text)
			if inner.IsArray() || inner.IsObject() {
				return normalizeMessages(inner)
			}
		}
		return append(out, LogMessage{Message: gateway.PlainText(text)})
	case gjson.JSON:
		if r.IsObject() {
			if m, ok := logMessage(r); ok {
				out = append(out, m)
			}
			return out
		}
		for _, item := range r.Array() {
			if m, ok := logMessage(item); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return append(out, LogMessage{Message: r.Raw})
}

func logMessage(r gjson.Result) (LogMessage, bool) {
	switch {
	case r.IsObject():
		m := LogMessage{
			Title:   gateway.PlainText(r.Get("title").String()),
			Message: gateway.PlainText(scalarText(r.Get("message"))),
		}
		if m.Message == "" && m.Title == "" {
			m.Message = r.Raw
		}
		return m, true
	case r.Type == gjson.String:
		if strings.TrimSpace(r.Str) == "" {
			return LogMessage{}, false
		}
		return LogMessage{Message: gateway.PlainText(r.Str)}, true
	case r.Type == gjson.Null:
		return LogMessage{}, false
	}
	return LogMessage{Message: r.Raw}, true
}
