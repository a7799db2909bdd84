package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirillkom/veriscan/internal/core/domain"
)

func newTestRepo(t *testing.T) *JobRepository {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := NewJobRepository(db)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	return repo
}

func TestInsertAndGetByID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	created := time.Date(2026, 10, 19, 8, 30, 0, 123_000_000, time.UTC)

	_, err := repo.Insert(ctx, &domain.Job{
		ID:        "job-1",
		OwnerID:   "user-1",
		Filename:  "clip.mp4",
		FilePath:  "user-1/1-abcd1234.mp4",
		Status:    domain.StatusPending,
		CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.OwnerID != "user-1" || got.Filename != "clip.mp4" || got.Status != domain.StatusPending {
		t.Fatalf("unexpected job %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created_at = %s, want %s", got.CreatedAt, created)
	}

	if _, err := repo.GetByID(ctx, "missing"); !domain.IsKind(err, domain.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestInsertRejectsDuplicateID(t *testing.T) {
	repo := newTestRepo(t)
	job := &domain.Job{ID: "job-1", OwnerID: "u", Filename: "a.mp4", FilePath: "u/a.mp4", Status: domain.StatusPending, CreatedAt: time.Now()}

	if _, err := repo.Insert(context.Background(), job); err != nil {
		t.Fatalf("first Insert() error = %v", err)
	}
	if _, err := repo.Insert(context.Background(), job); err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestCurrentStatusFollowsBackendWrites(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	job := &domain.Job{ID: "job-1", OwnerID: "u", Filename: "a.mp4", FilePath: "u/a.mp4", Status: domain.StatusPending, CreatedAt: time.Now()}
	if _, err := repo.Insert(ctx, job); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if _, err := repo.db.ExecContext(ctx, `UPDATE analysis_jobs SET status = 'processing' WHERE id = ?`, "job-1"); err != nil {
		t.Fatalf("update status: %v", err)
	}
	status, err := repo.CurrentStatus(ctx, "job-1")
	if err != nil || status != domain.StatusProcessing {
		t.Fatalf("CurrentStatus() = %q, %v", status, err)
	}
	if _, err := repo.CurrentStatus(ctx, "missing"); !domain.IsKind(err, domain.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestGetResult(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	job := &domain.Job{ID: "job-1", OwnerID: "u", Filename: "a.mp4", FilePath: "u/a.mp4", Status: domain.StatusPending, CreatedAt: time.Now()}
	if _, err := repo.Insert(ctx, job); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if _, err := repo.GetResult(ctx, "job-1"); !domain.IsKind(err, domain.ErrResultNotFound) {
		t.Fatalf("expected ErrResultNotFound before the backend writes, got %v", err)
	}

	_, err := repo.db.ExecContext(ctx, `
INSERT INTO analysis_results (job_id, prediction, confidence_score, visual_confidence, anomaly_timestamps, visual_analysis)
VALUES (?, ?, ?, ?, ?, ?)`, "job-1", "real", 0.97, 0.95, `[4.5]`, `{"frames":120}`)
	if err != nil {
		t.Fatalf("insert result: %v", err)
	}

	out, err := repo.GetResult(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetResult() error = %v", err)
	}
	if out.Prediction != "real" || out.ConfidenceScore != 0.97 || out.VisualConfidence != 0.95 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.AudioConfidence != 0 || out.AudioAnalysis != nil {
		t.Fatalf("missing audio columns must stay empty, got %+v", out)
	}
	if len(out.AnomalyTimestamps) != 1 || out.AnomalyTimestamps[0] != 4.5 {
		t.Fatalf("unexpected anomalies %v", out.AnomalyTimestamps)
	}
	if string(out.VisualAnalysis) != `{"frames":120}` {
		t.Fatalf("unexpected visual analysis %s", out.VisualAnalysis)
	}
}
