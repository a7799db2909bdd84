package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kirillkom/veriscan/internal/core/domain"
)

// Open returns a pool with WAL and foreign keys enabled on every connection.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)",
		path, (5 * time.Second).Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	return db, nil
}

// JobRepository is the single-node job store. Timestamps are stored as unix
// milliseconds.
type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS analysis_jobs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	file_path TEXT NOT NULL,
	status TEXT NOT NULL,
	upload_timestamp INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analysis_jobs_user ON analysis_jobs(user_id, upload_timestamp);

CREATE TABLE IF NOT EXISTS analysis_results (
	job_id TEXT PRIMARY KEY REFERENCES analysis_jobs(id) ON DELETE CASCADE,
	prediction TEXT NOT NULL,
	confidence_score REAL NOT NULL,
	visual_confidence REAL,
	audio_confidence REAL,
	analysis_duration_seconds REAL,
	anomaly_timestamps TEXT NOT NULL DEFAULT '[]',
	visual_analysis TEXT,
	audio_analysis TEXT
);
`)
	if err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	return nil
}

func (r *JobRepository) Insert(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO analysis_jobs (id, user_id, original_filename, file_path, status, upload_timestamp)
VALUES (?, ?, ?, ?, ?, ?)
`, string(job.ID), job.OwnerID, job.Filename, job.FilePath, string(job.Status), job.CreatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("insert analysis job: %w", err)
	}
	created := *job
	created.CreatedAt = time.UnixMilli(job.CreatedAt.UnixMilli()).UTC()
	return &created, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	var (
		job    domain.Job
		rawID  string
		status string
		millis int64
	)
	err := r.db.QueryRowContext(ctx, `
SELECT id, user_id, original_filename, file_path, status, upload_timestamp
FROM analysis_jobs
WHERE id = ?
`, string(id)).Scan(&rawID, &job.OwnerID, &job.Filename, &job.FilePath, &status, &millis)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrJobNotFound, "get job", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan analysis job: %w", err)
	}
	job.ID = domain.JobID(rawID)
	job.CreatedAt = time.UnixMilli(millis).UTC()
	if job.Status, err = domain.ParseJobStatus(status); err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}
	return &job, nil
}

func (r *JobRepository) CurrentStatus(ctx context.Context, id domain.JobID) (domain.JobStatus, error) {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM analysis_jobs WHERE id = ?`, string(id)).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.WrapError(domain.ErrJobNotFound, "job status", fmt.Errorf("id=%s", id))
		}
		return "", fmt.Errorf("read job status: %w", err)
	}
	return domain.JobStatus(status), nil
}

func (r *JobRepository) GetResult(ctx context.Context, id domain.JobID) (*domain.AnalysisOutcome, error) {
	var (
		out                 domain.AnalysisOutcome
		jobID               string
		visual, audio, dur  sql.NullFloat64
		anomalies           string
		visualRaw, audioRaw sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
SELECT job_id, prediction, confidence_score, visual_confidence, audio_confidence,
	analysis_duration_seconds, anomaly_timestamps, visual_analysis, audio_analysis
FROM analysis_results
WHERE job_id = ?
`, string(id)).Scan(&jobID, &out.Prediction, &out.ConfidenceScore, &visual, &audio, &dur, &anomalies, &visualRaw, &audioRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrResultNotFound, "get result", fmt.Errorf("job_id=%s", id))
		}
		return nil, fmt.Errorf("scan analysis result: %w", err)
	}

	out.JobID = domain.JobID(jobID)
	out.VisualConfidence = visual.Float64
	out.AudioConfidence = audio.Float64
	out.AnalysisDurationSeconds = dur.Float64
	if anomalies != "" {
		if err := json.Unmarshal([]byte(anomalies), &out.AnomalyTimestamps); err != nil {
			return nil, fmt.Errorf("unmarshal anomaly timestamps: %w", err)
		}
	}
	if visualRaw.Valid && visualRaw.String != "" {
		out.VisualAnalysis = json.RawMessage(visualRaw.String)
	}
	if audioRaw.Valid && audioRaw.String != "" {
		out.AudioAnalysis = json.RawMessage(audioRaw.String)
	}
	return &out, nil
}

func (r *JobRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
