package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/JonMunkholm/importdesk/internal/gateway"
	"github.com/tidwall/gjson"
)

// fakeBackend is a scripted Backend. Each hook defaults to a not-found
// error so tests only script what they exercise.
type fakeBackend struct {
	mu    sync.Mutex
	calls []string

	get      func(doctype, name string) (json.RawMessage, error)
	save     func(doctype string, doc map[string]any) (json.RawMessage, error)
	list     func(q gateway.ListQuery) ([]json.RawMessage, error)
	call     func(method string, args map[string]any) (json.RawMessage, error)
	query    func(ctx context.Context, method string, args map[string]any) (json.RawMessage, error)
	download func(method string, args map[string]any) (gateway.Artifact, error)
	upload   func(up gateway.UploadRequest, body []byte) (json.RawMessage, error)
}

func (f *fakeBackend) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeBackend) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func notFound(what string) error {
	return &gateway.ServerError{Status: 404, Message: what + " not found"}
}

func (f *fakeBackend) Get(_ context.Context, doctype, name string) (json.RawMessage, error) {
	f.record("get:" + doctype)
	if f.get == nil {
		return nil, notFound(doctype)
	}
	return f.get(doctype, name)
}

func (f *fakeBackend) Save(_ context.Context, doctype string, doc map[string]any) (json.RawMessage, error) {
	f.record("save:" + doctype)
	if f.save == nil {
		return nil, notFound(doctype)
	}
	return f.save(doctype, doc)
}

func (f *fakeBackend) List(_ context.Context, q gateway.ListQuery) ([]json.RawMessage, error) {
	f.record("list:" + q.Doctype)
	if f.list == nil {
		return nil, notFound(q.Doctype)
	}
	return f.list(q)
}

func (f *fakeBackend) Call(_ context.Context, method string, args map[string]any) (json.RawMessage, error) {
	f.record(method)
	if f.call == nil {
		return nil, notFound(method)
	}
	return f.call(method, args)
}

func (f *fakeBackend) Query(ctx context.Context, method string, args map[string]any) (json.RawMessage, error) {
	f.record(method)
	if f.query == nil {
		return nil, notFound(method)
	}
	return f.query(ctx, method, args)
}

func (f *fakeBackend) Download(_ context.Context, method string, args map[string]any) (gateway.Artifact, error) {
	f.record(method)
	if f.download == nil {
		return gateway.Artifact{}, notFound(method)
	}
	return f.download(method, args)
}

func (f *fakeBackend) Upload(_ context.Context, up gateway.UploadRequest) (json.RawMessage, error) {
	f.record("upload")
	if f.upload == nil {
		return nil, notFound("file")
	}
	body, err := io.ReadAll(up.Content)
	if err != nil {
		return nil, err
	}
	return f.upload(up, body)
}

// sessionServer keeps one session record the way the backend would: saves
// replace the stored document and reads return it.
type sessionServer struct {
	mu      sync.Mutex
	doc     map[string]any
	saves   int
	failing error
}

func newSessionServer(id, status string, mapping map[string]string) *sessionServer {
	options := map[string]any{"column_to_field_map": mapping, "remap_column": map[string]any{}}
	encoded, _ := json.Marshal(options)
	return &sessionServer{doc: map[string]any{
		"name":              id,
		"reference_doctype": "Contact",
		"import_type":       string(ModeInsertNew),
		"import_file":       "/private/files/contacts.csv",
		"status":            status,
		"template_options":  string(encoded),
		"creation":          "2024-03-01 10:00:00.000000",
		"modified":          "2024-03-01 10:05:00.000000",
	}}
}

func (s *sessionServer) setStatus(status string) {
	s.mu.Lock()
	s.doc["status"] = status
	s.mu.Unlock()
}

func (s *sessionServer) get(doctype, name string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doctype != SessionDoctype || name != s.doc["name"] {
		return nil, notFound(name)
	}
	return json.Marshal(s.doc)
}

func (s *sessionServer) save(doctype string, doc map[string]any) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing != nil {
		return nil, s.failing
	}
	if doctype != SessionDoctype {
		return nil, fmt.Errorf("unexpected doctype %s", doctype)
	}
	next := make(map[string]any, len(doc))
	for k, v := range doc {
		next[k] = v
	}
	s.doc = next
	s.saves++
	return json.Marshal(s.doc)
}

// mapping decodes the stored column_to_field_map.
func (s *sessionServer) mapping() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var raw string
	switch v := s.doc["template_options"].(type) {
	case string:
		raw = v
	default:
		b, _ := json.Marshal(v)
		raw = string(b)
	}
	var options struct {
		Map map[string]string `json:"column_to_field_map"`
	}
	_ = json.Unmarshal([]byte(raw), &options)
	return options.Map
}

// field returns a stored document field as text.
func (s *sessionServer) field(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, _ := json.Marshal(s.doc)
	return gjson.GetBytes(raw, key).String()
}

// recordingObserver counts observer events.
type recordingObserver struct {
	mu       sync.Mutex
	ticks    map[string]int
	started  int
	stopped  int
	terminal []Status
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{ticks: map[string]int{}}
}

func (o *recordingObserver) PollTick(outcome string, _ time.Duration) {
	o.mu.Lock()
	o.ticks[outcome]++
	o.mu.Unlock()
}

func (o *recordingObserver) PollerStarted() {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *recordingObserver) PollerStopped() {
	o.mu.Lock()
	o.stopped++
	o.mu.Unlock()
}

func (o *recordingObserver) TerminalObserved(status Status) {
	o.mu.Lock()
	o.terminal = append(o.terminal, status)
	o.mu.Unlock()
}

func (o *recordingObserver) terminals() []Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Status(nil), o.terminal...)
}

// memoryRecorder is an in-memory RunRecorder.
type memoryRecorder struct {
	mu      sync.Mutex
	records []RunRecord
}

func (m *memoryRecorder) Record(_ context.Context, rec RunRecord) error {
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return nil
}

func (m *memoryRecorder) all() []RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RunRecord(nil), m.records...)
}
