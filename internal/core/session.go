package core

// session.go implements the import session store.
//
// The store is the only component that writes session records. It keeps the
// last confirmed copy of each session it has seen so readers can be served
// without a round trip, and it bumps a per-session generation counter
// whenever the confirmed mapping changes. Previews are tagged with the
// generation they were computed under.
//
// Mapping writes are serialized per session by writeMu and always re-read the
// server copy first, so a write never replaces entries it has not seen. A
// failed write leaves the cached copy untouched.

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
)

type sessionEntry struct {
	writeMu sync.Mutex // held for the whole read-modify-write of a mapping

	mu         sync.Mutex
	session    Session
	loaded     bool
	fetchedAt  time.Time
	generation uint64
}

// SessionStore creates, reads and updates import session records.
type SessionStore struct {
	backend  Backend
	debounce time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*sessionEntry
}

// NewSessionStore creates a store. Refreshes requested through
// RefreshIfStale within debounce of the last confirmed read are served
// from the cache.
func NewSessionStore(backend Backend, debounce time.Duration) *SessionStore {
	return &SessionStore{
		backend:  backend,
		debounce: debounce,
		now:      time.Now,
		entries:  make(map[string]*sessionEntry),
	}
}

func (s *SessionStore) entry(id string) *sessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		e = &sessionEntry{}
		s.entries[id] = e
	}
	return e
}

// Create validates req and saves a new Pending session.
func (s *SessionStore) Create(ctx context.Context, req CreateSessionRequest) (Session, error) {
	if req.Mode == "" {
		req.Mode = ModeInsertNew
	}
	if err := validateRequest(req); err != nil {
		return Session{}, err
	}

	raw, err := s.backend.Save(ctx, SessionDoctype, map[string]any{
		"reference_doctype": req.Schema,
		"import_type":       string(req.Mode),
		"import_file":       req.FileRef,
	})
	if err != nil {
		return Session{}, classify(err, "create session")
	}

	session, err := parseSession(raw)
	if err != nil {
		return Session{}, err
	}
	if session.ID == "" || session.ID == "null" {
		return Session{}, errors.Mark(errors.New("created session has no id"), ErrMalformedPayload)
	}
	if session.Status == "" {
		session.Status = StatusPending
	}

	s.confirm(session)
	slog.Info("import session created",
		"session_id", session.ID,
		"schema", session.Schema,
		"mode", session.Mode,
	)
	return session, nil
}

// SetMapping maps column to field (or DontImport) and persists the session.
//
// The latest server copy is fetched first and the single change is merged
// into it. Writes for the same session never overlap: a second call waits
// for the first to finish and then reads its result.
func (s *SessionStore) SetMapping(ctx context.Context, id string, column int, field string) (Session, error) {
	if column < 0 {
		return Session{}, errors.Mark(errors.Newf("column index %d is negative", column), ErrValidation)
	}
	field = NormalizeField(field)
	if field == "" {
		return Session{}, errors.Mark(errors.New("field is required"), ErrValidation)
	}

	e := s.entry(id)
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	latest, err := s.fetch(ctx, id)
	if err != nil {
		return Session{}, err
	}
	// A stale Pending read must not reopen a session already seen past it.
	e.mu.Lock()
	status := latest.Status
	if e.loaded {
		status = e.session.Status.Advance(status)
	}
	e.mu.Unlock()
	if status != StatusPending {
		return Session{}, errors.Mark(
			errors.Newf("session %s is %s", id, status), ErrMappingFrozen)
	}

	mapping := latest.Mapping.With(column, field)
	doc, err := latest.withMapping(mapping)
	if err != nil {
		return Session{}, err
	}

	raw, err := s.backend.Save(ctx, SessionDoctype, doc)
	if err != nil {
		return Session{}, classify(err, "save mapping")
	}

	saved, err := parseSession(raw)
	if err != nil || saved.ID == "" {
		// The write went through; trust our merge over an unreadable echo.
		slog.Warn("unreadable save response, using merged copy",
			"session_id", id,
			"error", err,
		)
		saved = latest
		saved.Mapping = mapping
	}

	confirmed := s.confirm(saved)
	slog.Debug("mapping updated",
		"session_id", id,
		"column", column,
		"field", field,
	)
	return confirmed, nil
}

// Refresh re-reads the session from the backend and returns the confirmed copy.
func (s *SessionStore) Refresh(ctx context.Context, id string) (Session, error) {
	fresh, err := s.fetch(ctx, id)
	if err != nil {
		return Session{}, err
	}
	return s.confirm(fresh), nil
}

// RefreshIfStale is Refresh, except that a copy confirmed within the
// debounce window is returned without contacting the backend.
func (s *SessionStore) RefreshIfStale(ctx context.Context, id string) (Session, error) {
	e := s.entry(id)
	e.mu.Lock()
	if e.loaded && s.now().Sub(e.fetchedAt) < s.debounce {
		session := e.session
		e.mu.Unlock()
		return session, nil
	}
	e.mu.Unlock()
	return s.Refresh(ctx, id)
}

// Peek reads the server copy without recording it. Pair with Confirm when
// the caller may discard the result.
func (s *SessionStore) Peek(ctx context.Context, id string) (Session, error) {
	return s.fetch(ctx, id)
}

// Confirm records a copy obtained from Peek and returns it with status
// clamped to never move backward.
func (s *SessionStore) Confirm(session Session) Session {
	return s.confirm(session)
}

// Cached returns the last confirmed copy without contacting the backend.
func (s *SessionStore) Cached(id string) (Session, bool) {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, e.loaded
}

// Generation returns a counter that changes whenever the confirmed mapping changes.
func (s *SessionStore) Generation(id string) uint64 {
	e := s.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

// Forget drops the cached copy of a session.
func (s *SessionStore) Forget(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

func (s *SessionStore) fetch(ctx context.Context, id string) (Session, error) {
	if id == "" {
		return Session{}, errors.Mark(errors.New("session id is required"), ErrValidation)
	}
	raw, err := s.backend.Get(ctx, SessionDoctype, id)
	if err != nil {
		return Session{}, classify(err, "read session "+id)
	}
	return parseSession(raw)
}

// confirm records fresh as the latest known-good copy. Status only moves
// forward relative to what was confirmed before.
func (s *SessionStore) confirm(fresh Session) Session {
	e := s.entry(fresh.ID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded {
		fresh.Status = e.session.Status.Advance(fresh.Status)
		if !e.session.Mapping.Equal(fresh.Mapping) {
			e.generation++
		}
	}
	e.session = fresh
	e.loaded = true
	e.fetchedAt = s.now()
	return fresh
}

// parseSession reads a session record. Unknown template_options keys and
// document fields are retained for the next write.
func parseSession(raw json.RawMessage) (Session, error) {
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return Session{}, errors.Mark(errors.New("session record is not an object"), ErrMalformedPayload)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Session{}, errors.Mark(errors.Wrap(err, "decode session record"), ErrMalformedPayload)
	}

	res := gjson.ParseBytes(raw)
	session := Session{
		ID:         res.Get("name").String(),
		Schema:     res.Get("reference_doctype").String(),
		Mode:       Mode(res.Get("import_type").String()),
		FileRef:    res.Get("import_file").String(),
		Status:     Status(res.Get("status").String()),
		CreatedAt:  parseBackendTime(res.Get("creation").String()),
		ModifiedAt: parseBackendTime(res.Get("modified").String()),
		doc:        doc,
	}

	session.options, session.Mapping = parseTemplateOptions(res.Get("template_options"))
	return session, nil
}

// parseTemplateOptions accepts template_options as a JSON-encoded string or
// an object. Malformed content yields empty options rather than an error;
// the next mapping write replaces it.
func parseTemplateOptions(r gjson.Result) (map[string]json.RawMessage, Mapping) {
	options := map[string]json.RawMessage{}
	mapping := Mapping{}

	text := r.Raw
	if r.Type == gjson.String {
		text = r.Str
	}
	if text == "" || !gjson.Valid(text) {
		return options, mapping
	}
	parsed := gjson.Parse(text)
	if !parsed.IsObject() {
		return options, mapping
	}

	parsed.ForEach(func(key, value gjson.Result) bool {
		options[key.String()] = json.RawMessage(value.Raw)
		return true
	})
	parsed.Get("column_to_field_map").ForEach(func(key, value gjson.Result) bool {
		idx, err := strconv.Atoi(key.String())
		if err != nil || idx < 0 || value.Type != gjson.String {
			return true
		}
		mapping[idx] = value.Str
		return true
	})
	return options, mapping
}

// withMapping returns the full document to save with mapping written into
// template_options.
func (s Session) withMapping(mapping Mapping) (map[string]any, error) {
	options := make(map[string]json.RawMessage, len(s.options)+1)
	for k, v := range s.options {
		options[k] = v
	}
	encodedMap, err := json.Marshal(mapping.wire())
	if err != nil {
		return nil, errors.Wrap(err, "encode column map")
	}
	options["column_to_field_map"] = encodedMap

	encodedOptions, err := json.Marshal(options)
	if err != nil {
		return nil, errors.Wrap(err, "encode template options")
	}

	doc := make(map[string]any, len(s.doc)+1)
	for k, v := range s.doc {
		doc[k] = v
	}
	doc["name"] = s.ID
	doc["template_options"] = string(encodedOptions)
	return doc, nil
}
