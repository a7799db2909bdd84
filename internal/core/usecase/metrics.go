package usecase

import (
	"time"

	"github.com/kirillkom/veriscan/internal/core/domain"
)

// Recorder receives orchestration events for metrics. All methods must be
// safe for concurrent use.
type Recorder interface {
	ObserveSubmission(step domain.SubmissionStep, err error, duration time.Duration)
	ObservePoll(status domain.JobStatus, err error)
	SessionStarted()
	SessionFinished(status domain.JobStatus, cancelled bool, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveSubmission(domain.SubmissionStep, error, time.Duration) {}
func (nopRecorder) ObservePoll(domain.JobStatus, error) {}
func (nopRecorder) SessionStarted() {}
func (nopRecorder) SessionFinished(domain.JobStatus, bool, time.Duration) {}
