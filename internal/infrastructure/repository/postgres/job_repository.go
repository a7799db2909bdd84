package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/veriscan/internal/core/domain"
)

// JobRepository stores analysis job records and reads the results the
// analysis backend writes into analysis_results.
type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *JobRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent api startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS analysis_jobs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	file_path TEXT NOT NULL,
	status TEXT NOT NULL,
	upload_timestamp TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analysis_jobs_user ON analysis_jobs(user_id, upload_timestamp DESC);

CREATE TABLE IF NOT EXISTS analysis_results (
	job_id TEXT PRIMARY KEY REFERENCES analysis_jobs(id) ON DELETE CASCADE,
	prediction TEXT NOT NULL,
	confidence_score DOUBLE PRECISION NOT NULL,
	visual_confidence DOUBLE PRECISION,
	audio_confidence DOUBLE PRECISION,
	analysis_duration_seconds DOUBLE PRECISION,
	anomaly_timestamps JSONB NOT NULL DEFAULT '[]'::jsonb,
	visual_analysis JSONB,
	audio_analysis JSONB
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *JobRepository) Insert(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `
INSERT INTO analysis_jobs (id, user_id, original_filename, file_path, status, upload_timestamp)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING status, upload_timestamp
`, string(job.ID), job.OwnerID, job.Filename, job.FilePath, string(job.Status), job.CreatedAt.UTC())

	created := *job
	var status string
	if err := row.Scan(&status, &created.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert analysis job: %w", err)
	}
	created.Status = domain.JobStatus(status)
	return &created, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, user_id, original_filename, file_path, status, upload_timestamp
FROM analysis_jobs
WHERE id = $1
`, string(id))

	var job domain.Job
	var rawID, status string
	err := row.Scan(&rawID, &job.OwnerID, &job.Filename, &job.FilePath, &status, &job.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrJobNotFound, "get job", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan analysis job: %w", err)
	}
	job.ID = domain.JobID(rawID)
	if job.Status, err = domain.ParseJobStatus(status); err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}
	return &job, nil
}

// CurrentStatus returns the raw persisted status. The scheduler validates it.
func (r *JobRepository) CurrentStatus(ctx context.Context, id domain.JobID) (domain.JobStatus, error) {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM analysis_jobs WHERE id = $1`, string(id)).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.WrapError(domain.ErrJobNotFound, "job status", fmt.Errorf("id=%s", id))
		}
		return "", fmt.Errorf("read job status: %w", err)
	}
	return domain.JobStatus(status), nil
}

func (r *JobRepository) GetResult(ctx context.Context, id domain.JobID) (*domain.AnalysisOutcome, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT job_id, prediction, confidence_score, visual_confidence, audio_confidence,
	analysis_duration_seconds, anomaly_timestamps, visual_analysis, audio_analysis
FROM analysis_results
WHERE job_id = $1
`, string(id))

	var (
		out                 domain.AnalysisOutcome
		jobID               string
		visual, audio, dur  sql.NullFloat64
		anomalies           []byte
		visualRaw, audioRaw []byte
	)
	err := row.Scan(&jobID, &out.Prediction, &out.ConfidenceScore, &visual, &audio, &dur, &anomalies, &visualRaw, &audioRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrResultNotFound, "get result", fmt.Errorf("job_id=%s", id))
		}
		return nil, fmt.Errorf("scan analysis result: %w", err)
	}
	out.JobID = domain.JobID(jobID)
	out.VisualConfidence = nullableFloat(visual)
	out.AudioConfidence = nullableFloat(audio)
	out.AnalysisDurationSeconds = nullableFloat(dur)
	if len(anomalies) > 0 {
		if err := json.Unmarshal(anomalies, &out.AnomalyTimestamps); err != nil {
			return nil, fmt.Errorf("unmarshal anomaly timestamps: %w", err)
		}
	}
	out.VisualAnalysis = rawJSON(visualRaw)
	out.AudioAnalysis = rawJSON(audioRaw)
	return &out, nil
}

func (r *JobRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func nullableFloat(v sql.NullFloat64) float64 {
	if !v.Valid {
		return 0
	}
	return v.Float64
}

func rawJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return json.RawMessage(raw)
}
