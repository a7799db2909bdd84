package ports

import (
	"context"
	"io"

	"github.com/kirillkom/veriscan/internal/core/domain"
)

// JobSubmitter is the inbound contract for the store -> create -> trigger handoff.
type JobSubmitter interface {
	Submit(ctx context.Context, candidate domain.UploadCandidate, body io.Reader, ownerID string) (*domain.Job, error)
}

// UploadValidator checks a candidate against the upload policy.
type UploadValidator interface {
	Validate(candidate domain.UploadCandidate) (domain.UploadCandidate, error)
}

// JobReader is the inbound read model for job state.
type JobReader interface {
	GetByID(ctx context.Context, id domain.JobID) (*domain.Job, error)
}

// JobTracker follows an already submitted job to a terminal state.
type JobTracker interface {
	Track(ctx context.Context, job *domain.Job, machine *domain.StateMachine, observe func(domain.JobStatusUpdate)) (*domain.FlowResult, error)
}
