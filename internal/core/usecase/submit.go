package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/veriscan/internal/core/domain"
	"github.com/kirillkom/veriscan/internal/core/ports"
)

type SubmitJobUseCase struct {
	storage  ports.BlobStore
	repo     ports.JobRepository
	trigger  ports.AnalysisTrigger
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

type SubmitOption func(*SubmitJobUseCase)

func WithSubmitLogger(logger *slog.Logger) SubmitOption {
	return func(uc *SubmitJobUseCase) {
		if logger != nil {
			uc.logger = logger
		}
	}
}

func WithSubmitRecorder(recorder Recorder) SubmitOption {
	return func(uc *SubmitJobUseCase) {
		if recorder != nil {
			uc.recorder = recorder
		}
	}
}

func NewSubmitJobUseCase(
	storage ports.BlobStore,
	repo ports.JobRepository,
	trigger ports.AnalysisTrigger,
	opts ...SubmitOption,
) *SubmitJobUseCase {
	uc := &SubmitJobUseCase{
		storage:  storage,
		repo:     repo,
		trigger:  trigger,
		logger:   slog.Default(),
		recorder: nopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Submit runs store -> create -> trigger strictly in order. A job is returned
// only when all three succeed; a failed step leaves earlier steps in place.
func (uc *SubmitJobUseCase) Submit(
	ctx context.Context,
	candidate domain.UploadCandidate,
	body io.Reader,
	ownerID string,
) (*domain.Job, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit", errors.New("owner id is required"))
	}
	if body == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit", errors.New("upload body is required"))
	}

	now := uc.now().UTC()
	blobPath := storagePath(ownerID, candidate.Name, now)

	started := time.Now()
	ref, err := uc.storage.Put(ctx, blobPath, body)
	uc.recorder.ObserveSubmission(domain.StepStore, err, time.Since(started))
	if err != nil {
		return nil, &domain.SubmissionError{Step: domain.StepStore, Err: fmt.Errorf("put %s: %w", blobPath, err)}
	}

	started = time.Now()
	job, err := uc.repo.Insert(ctx, &domain.Job{
		ID:        domain.JobID(uuid.NewString()),
		OwnerID:   ownerID,
		Filename:  candidate.Name,
		FilePath:  ref.Path,
		Status:    domain.StatusPending,
		CreatedAt: now,
	})
	uc.recorder.ObserveSubmission(domain.StepCreate, err, time.Since(started))
	if err != nil {
		uc.logger.Warn("job_create_failed",
			"owner_id", ownerID,
			"orphaned_blob", ref.Path,
			"error", err,
		)
		return nil, &domain.SubmissionError{Step: domain.StepCreate, Err: err}
	}

	started = time.Now()
	err = uc.trigger.Invoke(ctx, job.ID)
	uc.recorder.ObserveSubmission(domain.StepTrigger, err, time.Since(started))
	if err != nil {
		return nil, &domain.SubmissionError{Step: domain.StepTrigger, Err: err}
	}

	uc.logger.Info("job_submitted",
		"job_id", job.ID,
		"owner_id", ownerID,
		"file_path", job.FilePath,
		"size_bytes", ref.SizeBytes,
	)
	return job, nil
}

// storagePath scopes the blob to its owner and names it by submission time.
func storagePath(ownerID, filename string, at time.Time) string {
	name := fmt.Sprintf("%d-%s%s", at.UnixMilli(), uuid.NewString()[:8], fileExtension(filename))
	return path.Join(sanitizeSegment(ownerID), name)
}

func fileExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if ext == "" || ext == "." {
		return ""
	}
	return sanitizeSegment(ext)
}

func sanitizeSegment(name string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if strings.Trim(out, ".") == "" {
		return "_"
	}
	return out
}
