package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/kirillkom/veriscan/internal/core/domain"
	"github.com/kirillkom/veriscan/internal/core/ports"
)

// StatusWatcher starts polling sessions.
type StatusWatcher interface {
	Watch(ctx context.Context, jobID domain.JobID, cfg domain.PollConfig) (*Session, error)
}

// AnalysisFlow drives one submission from file selection to a terminal state.
// Each terminal state and each submission-time error yields exactly one
// notification; cancellation yields none.
type AnalysisFlow struct {
	validator ports.UploadValidator
	submitter ports.JobSubmitter
	watcher   StatusWatcher
	results   ports.ResultReader
	sink      ports.ResultSink
	notifier  ports.Notifier
	pollCfg   domain.PollConfig
	logger    *slog.Logger
}

type FlowDeps struct {
	Validator ports.UploadValidator
	Submitter ports.JobSubmitter
	Watcher   StatusWatcher
	Results   ports.ResultReader
	Sink      ports.ResultSink
	Notifier  ports.Notifier
	Poll      domain.PollConfig
	Logger    *slog.Logger
}

func NewAnalysisFlow(deps FlowDeps) *AnalysisFlow {
	f := &AnalysisFlow{
		validator: deps.Validator,
		submitter: deps.Submitter,
		watcher:   deps.Watcher,
		results:   deps.Results,
		sink:      deps.Sink,
		notifier:  deps.Notifier,
		pollCfg:   deps.Poll,
		logger:    deps.Logger,
	}
	if f.pollCfg.Interval <= 0 {
		f.pollCfg.Interval = domain.DefaultPollInterval
	}
	if f.pollCfg.MaxAttempts <= 0 {
		f.pollCfg.MaxAttempts = domain.DefaultPollMaxAttempts
	}
	if f.notifier == nil {
		f.notifier = nopNotifier{}
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// Run validates, submits and tracks a single upload.
func (f *AnalysisFlow) Run(
	ctx context.Context,
	candidate domain.UploadCandidate,
	body io.Reader,
	ownerID string,
	observe func(domain.JobStatusUpdate),
) (*domain.FlowResult, error) {
	machine := domain.NewStateMachine()

	valid, err := f.validator.Validate(candidate)
	if err != nil {
		f.notifier.Notify(ctx, ports.Notification{
			Kind:    ports.NotifyValidationError,
			Message: validationMessage(err),
			Err:     err,
		})
		return nil, err
	}

	if err := machine.BeginUpload(); err != nil {
		return nil, err
	}
	job, err := f.submitter.Submit(ctx, valid, body, ownerID)
	if err != nil {
		if failErr := machine.UploadFailed(err); failErr != nil {
			return nil, fmt.Errorf("%w; reset state: %v", err, failErr)
		}
		f.notifier.Notify(ctx, ports.Notification{
			Kind:    ports.NotifySubmissionError,
			Message: "Upload failed: " + err.Error(),
			Err:     err,
		})
		return nil, err
	}
	if err := machine.UploadSucceeded(); err != nil {
		return nil, err
	}

	return f.Track(ctx, job, machine, observe)
}

// Track polls an already submitted job until a terminal state. Every update is
// checked against machine before observe sees it.
func (f *AnalysisFlow) Track(
	ctx context.Context,
	job *domain.Job,
	machine *domain.StateMachine,
	observe func(domain.JobStatusUpdate),
) (*domain.FlowResult, error) {
	if observe == nil {
		observe = func(domain.JobStatusUpdate) {}
	}
	if state := machine.State(); state.IsTerminal() {
		return f.result(ctx, job, state), nil
	}

	sess, err := f.watcher.Watch(ctx, job.ID, f.pollCfg)
	if err != nil {
		return nil, err
	}
	defer sess.Cancel()

	for {
		u, ok := sess.Next(ctx)
		if !ok {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("track %s: status stream ended before a terminal state", job.ID)
		}

		if u.IsPollingError() {
			observe(u)
			continue
		}

		if _, err := machine.Observe(u.Status); err != nil {
			f.logger.Warn("status_rejected",
				"job_id", job.ID,
				"status", u.Status,
				"state", machine.State(),
				"error", err,
			)
			continue
		}
		job.Status = u.Status
		observe(u)

		if u.Terminal {
			return f.finish(ctx, job, machine.State()), nil
		}
	}
}

func (f *AnalysisFlow) finish(ctx context.Context, job *domain.Job, state domain.JobState) *domain.FlowResult {
	result := f.result(ctx, job, state)

	switch state {
	case domain.StateCompleted:
		if result.Outcome != nil && f.sink != nil {
			if err := f.sink.Deliver(ctx, job, result.Outcome); err != nil {
				f.logger.Warn("result_delivery_failed", "job_id", job.ID, "error", err)
			}
		}
		f.notifier.Notify(ctx, ports.Notification{
			Kind:    ports.NotifyCompleted,
			JobID:   job.ID,
			Message: "Analysis complete.",
		})
	case domain.StateFailed:
		f.notifier.Notify(ctx, ports.Notification{
			Kind:    ports.NotifyFailed,
			JobID:   job.ID,
			Message: "Analysis failed. Please try again with another file.",
		})
	case domain.StateTimedOut:
		f.notifier.Notify(ctx, ports.Notification{
			Kind:    ports.NotifyTimedOut,
			JobID:   job.ID,
			Message: "Analysis is taking longer than expected. The job may still finish; check back later.",
		})
	}
	return result
}

func (f *AnalysisFlow) result(ctx context.Context, job *domain.Job, state domain.JobState) *domain.FlowResult {
	result := &domain.FlowResult{Job: job, State: state}
	if state != domain.StateCompleted || f.results == nil {
		return result
	}
	outcome, err := f.results.GetResult(ctx, job.ID)
	if err != nil {
		f.logger.Warn("result_unavailable", "job_id", job.ID, "error", err)
		return result
	}
	result.Outcome = outcome
	return result
}

func validationMessage(err error) string {
	reason, ok := domain.ValidationReasonOf(err)
	if !ok {
		return err.Error()
	}
	switch reason {
	case domain.ReasonInvalidType:
		return "Please select a video file."
	case domain.ReasonTooLarge:
		return "The selected video is too large."
	default:
		return "Please select a file to upload."
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, ports.Notification) {}
