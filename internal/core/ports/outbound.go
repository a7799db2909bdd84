package ports

import (
	"context"
	"io"

	"github.com/kirillkom/veriscan/internal/core/domain"
)

// BlobStore stores uploaded binaries.
type BlobStore interface {
	Put(ctx context.Context, path string, data io.Reader) (domain.StoredRef, error)
}

// JobRepository persists job records.
type JobRepository interface {
	Insert(ctx context.Context, job *domain.Job) (*domain.Job, error)
	GetByID(ctx context.Context, id domain.JobID) (*domain.Job, error)
}

// StatusSource reports the persisted status of a job. Values outside the
// closed enum must be reported as domain.ErrUnknownStatus.
type StatusSource interface {
	CurrentStatus(ctx context.Context, id domain.JobID) (domain.JobStatus, error)
}

// ResultReader loads the analysis result written by the remote service.
type ResultReader interface {
	GetResult(ctx context.Context, id domain.JobID) (*domain.AnalysisOutcome, error)
}

// AnalysisTrigger asks the remote backend to start analysis. Acceptance says
// nothing about the eventual outcome of the job.
type AnalysisTrigger interface {
	Invoke(ctx context.Context, id domain.JobID) error
}

// ResultSink receives the outcome of a completed job.
type ResultSink interface {
	Deliver(ctx context.Context, job *domain.Job, outcome *domain.AnalysisOutcome) error
}
