package core

import (
	"context"
	"log/slog"

	"github.com/JonMunkholm/importdesk/internal/gateway"
	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
)

// JobRunner starts import jobs and reads their progress.
type JobRunner struct {
	backend  Backend
	sessions *SessionStore
}

// NewJobRunner creates a job runner.
func NewJobRunner(backend Backend, sessions *SessionStore) *JobRunner {
	return &JobRunner{backend: backend, sessions: sessions}
}

// Start asks the backend to begin executing the session's import.
//
// The session is re-read first; anything other than Pending fails with
// ErrJobStart. A rejection by the backend is also ErrJobStart, while a
// failure to reach it is ErrTransport.
func (jr *JobRunner) Start(ctx context.Context, sessionID string) error {
	session, err := jr.sessions.Refresh(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != StatusPending {
		return errors.Mark(
			errors.Newf("session %s is %s, only Pending imports can be started", sessionID, session.Status),
			ErrJobStart)
	}

	_, err = jr.backend.Call(ctx, gateway.MethodStart, map[string]any{"data_import": sessionID})
	if err != nil {
		if _, ok := gateway.AsServerError(err); ok {
			return errors.Mark(errors.Wrap(err, "start import"), ErrJobStart)
		}
		return classify(err, "start import")
	}

	slog.Info("import started",
		"session_id", sessionID,
		"schema", session.Schema,
		"operator_ip", OperatorIP(ctx),
	)
	return nil
}

// Status reads the job's progress counters.
func (jr *JobRunner) Status(ctx context.Context, sessionID string) (ProgressSnapshot, error) {
	raw, err := jr.backend.Query(ctx, gateway.MethodStatus, map[string]any{"data_import_name": sessionID})
	if err != nil {
		return ProgressSnapshot{}, classify(err, "import status "+sessionID)
	}
	return parseProgress(raw)
}

// Logs reads and normalizes the job's per-row results.
func (jr *JobRunner) Logs(ctx context.Context, sessionID string) ([]LogEntry, error) {
	raw, err := jr.backend.Query(ctx, gateway.MethodLogs, map[string]any{"data_import": sessionID})
	if err != nil {
		return nil, classify(err, "import logs "+sessionID)
	}
	return NormalizeLogs(raw), nil
}

func parseProgress(raw []byte) (ProgressSnapshot, error) {
	res := gjson.ParseBytes(raw)
	if res.Type == gjson.Null {
		return ProgressSnapshot{}, nil
	}
	if !res.IsObject() {
		return ProgressSnapshot{}, errors.Mark(errors.New("import status is not an object"), ErrMalformedPayload)
	}

	p := ProgressSnapshot{
		Success: intOf(res.Get("success")),
		Failed:  intOf(res.Get("failed")),
		Total:   intOf(res.Get("total_records")),
	}
	if p.Total < p.Processed() {
		p.Total = p.Processed()
	}
	return p, nil
}
