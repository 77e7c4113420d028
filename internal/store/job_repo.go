package store

import (
	"context"
	"database/sql"
	"time"
)

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"

	DefaultRecentLimit = 50
	MaxRecentLimit     = 500
)

// Job is one audited translation request.
type Job struct {
	ID         string    `json:"id"`
	FileName   string    `json:"file_name"`
	LangIn     string    `json:"lang_in"`
	LangOut    string    `json:"lang_out"`
	Service    string    `json:"service"`
	Model      string    `json:"model,omitempty"`
	Thread     int       `json:"thread"`
	Shape      string    `json:"shape"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	MonoBytes  int64     `json:"mono_bytes"`
	DualBytes  int64     `json:"dual_bytes"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Recorder persists job audit entries.
type Recorder interface {
	Record(ctx context.Context, job Job) error
	Recent(ctx context.Context, limit int) ([]Job, error)
	Enabled() bool
}

// Nop is the Recorder used when no database is configured.
type Nop struct{}

func (Nop) Record(context.Context, Job) error          { return nil }
func (Nop) Recent(context.Context, int) ([]Job, error) { return nil, nil }
func (Nop) Enabled() bool                              { return false }

var jobColumns = []string{
	"id", "file_name", "lang_in", "lang_out", "service", "model", "thread", "shape",
	"status", "error", "mono_bytes", "dual_bytes", "duration_ms", "created_at",
}

type JobRepo struct{ *Repo }

func NewJobRepo(db *sql.DB, dialect Dialect) *JobRepo { return &JobRepo{NewRepo(db, dialect)} }

func (r *JobRepo) Enabled() bool { return true }

// Record inserts job. A zero CreatedAt is set to now.
func (r *JobRepo) Record(ctx context.Context, j Job) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	q := r.SQ.Insert("translation_jobs").Columns(jobColumns...).
		Values(j.ID, j.FileName, j.LangIn, j.LangOut, j.Service, j.Model, j.Thread, j.Shape,
			j.Status, j.Error, j.MonoBytes, j.DualBytes, j.DurationMs, formatTime(j.CreatedAt))
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, sqlStr, args...)
	return err
}

// Recent returns the newest jobs first. limit is clamped to
// [1, MaxRecentLimit]; zero or negative means DefaultRecentLimit.
func (r *JobRepo) Recent(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	q := r.SQ.Select(jobColumns...).From("translation_jobs").
		OrderBy("created_at DESC", "id DESC").Limit(uint64(limit))
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		var created string
		if err := rows.Scan(&j.ID, &j.FileName, &j.LangIn, &j.LangOut, &j.Service, &j.Model, &j.Thread, &j.Shape,
			&j.Status, &j.Error, &j.MonoBytes, &j.DualBytes, &j.DurationMs, &created); err != nil {
			return nil, err
		}
		j.CreatedAt = parseTime(created)
		out = append(out, j)
	}
	return out, rows.Err()
}
