package core

import (
	"context"
	"time"
)

// RunRecord is the observed outcome of one import run.
type RunRecord struct {
	SessionID  string    `json:"session_id"`
	Schema     string    `json:"schema"`
	Mode       Mode      `json:"mode"`
	Status     Status    `json:"status"`
	Success    int       `json:"success"`
	Failed     int       `json:"failed"`
	Total      int       `json:"total"`
	StartedBy  string    `json:"started_by,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// RunRecorder persists terminal outcomes. Recording the same session and
// status twice must be harmless.
type RunRecorder interface {
	Record(ctx context.Context, rec RunRecord) error
}

// RunPurger deletes run records older than a cutoff.
type RunPurger interface {
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}

func newRunRecord(session Session, progress ProgressSnapshot, startedBy string, at time.Time) RunRecord {
	return RunRecord{
		SessionID:  session.ID,
		Schema:     session.Schema,
		Mode:       session.Mode,
		Status:     session.Status,
		Success:    progress.Success,
		Failed:     progress.Failed,
		Total:      progress.Total,
		StartedBy:  startedBy,
		ObservedAt: at,
	}
}
