package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/veriscan/internal/core/domain"
)

func newRepoWithMock(t *testing.T) (*JobRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewJobRepository(db), mock, func() { _ = db.Close() }
}

func TestInsertReturnsPersistedRecord(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	created := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	job := &domain.Job{
		ID:        "job-1",
		OwnerID:   "user-1",
		Filename:  "clip.mp4",
		FilePath:  "user-1/1-abcd1234.mp4",
		Status:    domain.StatusPending,
		CreatedAt: created,
	}

	mock.ExpectQuery("INSERT INTO analysis_jobs").
		WithArgs("job-1", "user-1", "clip.mp4", "user-1/1-abcd1234.mp4", "pending", created).
		WillReturnRows(sqlmock.NewRows([]string{"status", "upload_timestamp"}).AddRow("pending", created))

	got, err := repo.Insert(context.Background(), job)
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if got.ID != "job-1" || got.Status != domain.StatusPending || !got.CreatedAt.Equal(created) {
		t.Fatalf("unexpected job %+v", got)
	}
	if got == job {
		t.Fatalf("Insert must return a copy")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertPropagatesDatabaseError(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("INSERT INTO analysis_jobs").WillReturnError(errors.New("duplicate key"))

	if _, err := repo.Insert(context.Background(), &domain.Job{ID: "job-1", Status: domain.StatusPending}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, user_id, original_filename").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetByIDRejectsUnknownStatus(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, user_id, original_filename").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "original_filename", "file_path", "status", "upload_timestamp"}).
			AddRow("job-1", "user-1", "clip.mp4", "p", "archived", time.Now()))

	if _, err := repo.GetByID(context.Background(), "job-1"); !domain.IsKind(err, domain.ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
}

func TestCurrentStatus(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT status FROM analysis_jobs").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("processing"))
	mock.ExpectQuery("SELECT status FROM analysis_jobs").
		WithArgs("gone").
		WillReturnError(sql.ErrNoRows)

	status, err := repo.CurrentStatus(context.Background(), "job-1")
	if err != nil || status != domain.StatusProcessing {
		t.Fatalf("CurrentStatus() = %q, %v", status, err)
	}
	if _, err := repo.CurrentStatus(context.Background(), "gone"); !domain.IsKind(err, domain.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetResult(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	cols := []string{
		"job_id", "prediction", "confidence_score", "visual_confidence", "audio_confidence",
		"analysis_duration_seconds", "anomaly_timestamps", "visual_analysis", "audio_analysis",
	}
	mock.ExpectQuery("FROM analysis_results").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("job-1", "fake", 0.87, 0.9, nil, 12.5, []byte(`[1.5,3.25]`), []byte(`{"faces":2}`), nil))

	out, err := repo.GetResult(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetResult() error = %v", err)
	}
	if out.Prediction != "fake" || out.ConfidenceScore != 0.87 || out.VisualConfidence != 0.9 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.AudioConfidence != 0 || out.AudioAnalysis != nil {
		t.Fatalf("null columns must map to zero values, got %+v", out)
	}
	if len(out.AnomalyTimestamps) != 2 || out.AnomalyTimestamps[1] != 3.25 {
		t.Fatalf("unexpected anomalies %v", out.AnomalyTimestamps)
	}
	if string(out.VisualAnalysis) != `{"faces":2}` {
		t.Fatalf("unexpected visual analysis %s", out.VisualAnalysis)
	}
}

func TestGetResultNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("FROM analysis_results").
		WithArgs("job-1").
		WillReturnError(sql.ErrNoRows)

	if _, err := repo.GetResult(context.Background(), "job-1"); !errors.Is(err, domain.ErrResultNotFound) {
		t.Fatalf("expected ErrResultNotFound, got %v", err)
	}
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS analysis_jobs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
