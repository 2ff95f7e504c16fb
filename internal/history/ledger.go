// Package history persists observed import outcomes in Postgres.
package history

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/JonMunkholm/importdesk/internal/core"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// DBTX is the subset of pgxpool.Pool the ledger needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger records one row per session and terminal status.
type Ledger struct {
	db  DBTX
	now func() time.Time
}

var (
	_ core.RunRecorder = (*Ledger)(nil)
	_ core.RunPurger   = (*Ledger)(nil)
)

func NewLedger(db DBTX) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

const schemaDDL = `CREATE TABLE IF NOT EXISTS import_runs (
	id            uuid PRIMARY KEY,
	session_id    text        NOT NULL,
	schema_name   text        NOT NULL,
	import_mode   text        NOT NULL,
	status        text        NOT NULL,
	success_count integer     NOT NULL DEFAULT 0,
	failed_count  integer     NOT NULL DEFAULT 0,
	total_count   integer     NOT NULL DEFAULT 0,
	started_by    inet,
	observed_at   timestamptz NOT NULL,
	UNIQUE (session_id, status)
);
CREATE INDEX IF NOT EXISTS import_runs_observed_at_idx ON import_runs (observed_at DESC);`

// EnsureSchema creates the ledger table when missing.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, schemaDDL); err != nil {
		return errors.Wrap(err, "create import_runs")
	}
	return nil
}

const insertRun = `INSERT INTO import_runs
	(id, session_id, schema_name, import_mode, status, success_count, failed_count, total_count, started_by, observed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (session_id, status) DO NOTHING`

// Record inserts rec unless the same session and status is already stored.
func (l *Ledger) Record(ctx context.Context, rec core.RunRecord) error {
	if rec.SessionID == "" {
		return errors.New("run record has no session id")
	}
	observed := rec.ObservedAt
	if observed.IsZero() {
		observed = l.now()
	}
	_, err := l.db.Exec(ctx, insertRun,
		uuid.New(),
		rec.SessionID,
		rec.Schema,
		string(rec.Mode),
		string(rec.Status),
		rec.Success,
		rec.Failed,
		rec.Total,
		parseAddr(rec.StartedBy),
		observed.UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, "record run %s", rec.SessionID)
	}
	return nil
}

// parseAddr strips a port and returns nil for anything that is not an IP.
func parseAddr(s string) *netip.Addr {
	if s == "" {
		return nil
	}
	host := s
	if h, _, err := net.SplitHostPort(s); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	return &addr
}

// Options filters Recent.
type Options struct {
	Schema string
	Status core.Status
	Since  time.Time
	Limit  int
	Offset int
}

// Page is one page of run records, newest first.
type Page struct {
	Runs       []core.RunRecord `json:"runs"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalPages int              `json:"total_pages"`
}

// Recent lists recorded runs matching opts.
func (l *Ledger) Recent(ctx context.Context, opts Options) (*Page, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Limit > MaxLimit {
		opts.Limit = MaxLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	wb := newWhereBuilder()
	wb.Add("schema_name", opts.Schema)
	wb.Add("status", string(opts.Status))
	wb.AddSince("observed_at", opts.Since)
	whereClause, args := wb.Build()

	var total int64
	if err := l.db.QueryRow(ctx, "SELECT COUNT(*) FROM import_runs"+whereClause, args...).Scan(&total); err != nil {
		return nil, errors.Wrap(err, "count import runs")
	}

	query := `SELECT session_id, schema_name, import_mode, status, success_count, failed_count, total_count,
		COALESCE(host(started_by), ''), observed_at
		FROM import_runs` + whereClause + ` ORDER BY observed_at DESC LIMIT $` +
		fmt.Sprintf("%d OFFSET $%d", wb.NextArgIndex(), wb.NextArgIndex()+1)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list import runs")
	}
	defer rows.Close()

	runs := make([]core.RunRecord, 0)
	for rows.Next() {
		var (
			rec          core.RunRecord
			mode, status string
		)
		if err := rows.Scan(&rec.SessionID, &rec.Schema, &mode, &status,
			&rec.Success, &rec.Failed, &rec.Total, &rec.StartedBy, &rec.ObservedAt); err != nil {
			return nil, errors.Wrap(err, "scan import run")
		}
		rec.Mode = core.Mode(mode)
		rec.Status = core.Status(status)
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate import runs")
	}

	return &Page{
		Runs:       runs,
		Total:      total,
		Page:       opts.Offset/opts.Limit + 1,
		PageSize:   opts.Limit,
		TotalPages: int((total + int64(opts.Limit) - 1) / int64(opts.Limit)),
	}, nil
}

// Purge deletes runs observed before olderThan and reports how many went.
func (l *Ledger) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := l.db.Exec(ctx, "DELETE FROM import_runs WHERE observed_at < $1", olderThan.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "purge import runs")
	}
	return tag.RowsAffected(), nil
}
