package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRepo(t *testing.T) *JobRepo {
	t.Helper()
	dsn := "sqlite:" + filepath.Join(t.TempDir(), "db", "jobs.db")
	repo, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestParseDSN(t *testing.T) {
	tests := []struct {
		dsn     string
		dialect Dialect
		driver  string
	}{
		{"postgres://u:p@localhost:5432/jobs", DialectPostgres, "postgres://u:p@localhost:5432/jobs"},
		{"sqlite:/var/lib/pdf/jobs.db", DialectSQLite, "/var/lib/pdf/jobs.db"},
		{"sqlite:///var/lib/pdf/jobs.db", DialectSQLite, "/var/lib/pdf/jobs.db"},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			dialect, driverDSN := ParseDSN(tt.dsn)
			assert.Equal(t, tt.dialect, dialect)
			assert.Equal(t, tt.driver, driverDSN)
		})
	}
}

func TestPostgresPlaceholders(t *testing.T) {
	repo := NewJobRepo(nil, DialectPostgres)
	sqlStr, _, err := repo.SQ.Select("id").From("translation_jobs").Where("id = ?", "x").ToSql()
	require.NoError(t, err)
	assert.Contains(t, sqlStr, "id = $1")
}

func TestRecordAndRecent(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Record(ctx, Job{
			ID:         fmt.Sprintf("job-%d", i),
			FileName:   "论文.pdf",
			LangIn:     "en",
			LangOut:    "zh",
			Service:    "openai:gpt-4o",
			Thread:     4,
			Shape:      "mono",
			Status:     StatusSucceeded,
			MonoBytes:  int64(100 + i),
			DualBytes:  int64(200 + i),
			DurationMs: 1500,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repo.Record(ctx, Job{
		ID: "job-failed", FileName: "x.pdf", LangIn: "en", LangOut: "ja", Service: "google",
		Thread: 1, Shape: "combined", Status: StatusFailed, Error: "quota exceeded",
		CreatedAt: base.Add(time.Hour),
	}))

	jobs, err := repo.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 4)
	assert.Equal(t, "job-failed", jobs[0].ID)
	assert.Equal(t, "quota exceeded", jobs[0].Error)
	assert.Equal(t, "job-2", jobs[1].ID)
	assert.Equal(t, "论文.pdf", jobs[1].FileName)
	assert.Equal(t, int64(102), jobs[1].MonoBytes)
	assert.True(t, jobs[1].CreatedAt.Equal(base.Add(2*time.Minute)))

	jobs, err = repo.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestRecordDefaultsCreatedAt(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Record(ctx, Job{ID: "a", FileName: "a.pdf", Status: StatusSucceeded}))

	jobs, err := repo.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.WithinDuration(t, time.Now(), jobs[0].CreatedAt, time.Minute)
}

func TestRecordDuplicateID(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Record(ctx, Job{ID: "dup", Status: StatusSucceeded}))
	assert.Error(t, repo.Record(ctx, Job{ID: "dup", Status: StatusSucceeded}))
}

func TestMigrateIsIdempotent(t *testing.T) {
	repo := openTestRepo(t)
	require.NoError(t, repo.Migrate(context.Background()))

	var n int
	require.NoError(t, repo.DB.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = Nop{}
	assert.False(t, r.Enabled())
	assert.NoError(t, r.Record(context.Background(), Job{ID: "x"}))
	jobs, err := r.Recent(context.Background(), 10)
	assert.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE a (x INT);\n\n CREATE INDEX i ON a (x);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a (x)"}, got)
}
