package web

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/JonMunkholm/importdesk/internal/core"
	"github.com/JonMunkholm/importdesk/internal/gateway"
)

const contactSchema = `{
	"name": "Contact",
	"fields": [
		{"fieldname": "email", "label": "Email", "fieldtype": "Data", "reqd": 1},
		{"fieldname": "first_name", "label": "First Name", "fieldtype": "Data", "reqd": 0}
	]
}`

const contactPreview = `{
	"columns": [{"header_title": "Email"}, {"header_title": "First name"}],
	"data": [["ann@example.com", "Ann"]],
	"warnings": [],
	"max_rows_exceeded": 0,
	"max_rows_in_preview": 10,
	"total_number_of_rows": 1
}`

// stubBackend serves one stored session per id and canned answers for
// everything else.
type stubBackend struct {
	mu       sync.Mutex
	sessions map[string]map[string]any
	started  bool
	download map[string]any
}

func newStubBackend() *stubBackend {
	return &stubBackend{sessions: map[string]map[string]any{}}
}

func (b *stubBackend) addSession(id, status string) {
	options, _ := json.Marshal(map[string]any{"column_to_field_map": map[string]string{"0": "email"}})
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[id] = map[string]any{
		"name":              id,
		"reference_doctype": "Contact",
		"import_type":       string(core.ModeInsertNew),
		"import_file":       "/private/files/contacts.csv",
		"status":            status,
		"template_options":  string(options),
	}
}

func (b *stubBackend) wasStarted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

func (b *stubBackend) downloadArgs() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.download
}

func notFound(what string) error {
	return &gateway.ServerError{Status: 404, Message: what + " not found"}
}

func (b *stubBackend) Get(_ context.Context, doctype, name string) (json.RawMessage, error) {
	if doctype == "DocType" {
		if name == "Contact" {
			return json.RawMessage(contactSchema), nil
		}
		return nil, notFound(name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, ok := b.sessions[name]
	if !ok {
		return nil, notFound(name)
	}
	return json.Marshal(doc)
}

func (b *stubBackend) Save(_ context.Context, _ string, doc map[string]any) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		next[k] = v
	}
	name, _ := next["name"].(string)
	if name == "" {
		name = "IMP-0100"
		next["name"] = name
		next["status"] = "Pending"
	}
	b.sessions[name] = next
	return json.Marshal(next)
}

func (b *stubBackend) List(_ context.Context, q gateway.ListQuery) ([]json.RawMessage, error) {
	if q.Doctype != "DocType" {
		return nil, notFound(q.Doctype)
	}
	return []json.RawMessage{
		json.RawMessage(`{"name":"Contact"}`),
		json.RawMessage(`{"name":"Item"}`),
	}, nil
}

func (b *stubBackend) Call(_ context.Context, method string, _ map[string]any) (json.RawMessage, error) {
	if method != gateway.MethodStart {
		return nil, notFound(method)
	}
	b.mu.Lock()
	b.started = true
	b.mu.Unlock()
	return json.RawMessage(`null`), nil
}

func (b *stubBackend) Query(_ context.Context, method string, _ map[string]any) (json.RawMessage, error) {
	switch method {
	case gateway.MethodPreview:
		return json.RawMessage(contactPreview), nil
	case gateway.MethodStatus:
		return json.RawMessage(`{"success":0,"failed":0,"total_records":0}`), nil
	case gateway.MethodLogs:
		return json.RawMessage(`[{"row_indexes":"[1]","success":1,"docname":"CONT-1"}]`), nil
	}
	return nil, notFound(method)
}

func (b *stubBackend) Download(_ context.Context, method string, args map[string]any) (gateway.Artifact, error) {
	if method != gateway.MethodTemplate {
		return gateway.Artifact{}, notFound(method)
	}
	b.mu.Lock()
	b.download = args
	b.mu.Unlock()
	return gateway.Artifact{Body: []byte("Email,First Name\n"), ContentType: "text/csv"}, nil
}

func (b *stubBackend) Upload(_ context.Context, up gateway.UploadRequest) (json.RawMessage, error) {
	if _, err := io.ReadAll(up.Content); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"name": "f1", "file_url": "/private/files/" + up.FileName})
}
