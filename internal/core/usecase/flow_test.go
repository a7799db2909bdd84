package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/kirillkom/veriscan/internal/core/domain"
	"github.com/kirillkom/veriscan/internal/core/ports"
)

type submitterFake struct {
	calls int
	job   *domain.Job
	err   error
}

func (f *submitterFake) Submit(_ context.Context, c domain.UploadCandidate, body io.Reader, owner string) (*domain.Job, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.job != nil {
		return f.job, nil
	}
	return &domain.Job{ID: "job-1", OwnerID: owner, Filename: c.Name, Status: domain.StatusPending}, nil
}

type resultsFake struct {
	outcome *domain.AnalysisOutcome
	err     error
}

func (f *resultsFake) GetResult(_ context.Context, id domain.JobID) (*domain.AnalysisOutcome, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.outcome, nil
}

type sinkFake struct {
	delivered []*domain.AnalysisOutcome
}

func (f *sinkFake) Deliver(_ context.Context, _ *domain.Job, outcome *domain.AnalysisOutcome) error {
	f.delivered = append(f.delivered, outcome)
	return nil
}

type notifierFake struct {
	mu   sync.Mutex
	sent []ports.Notification
}

func (f *notifierFake) Notify(_ context.Context, n ports.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
}

func (f *notifierFake) kinds() []ports.NotificationKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ports.NotificationKind, 0, len(f.sent))
	for _, n := range f.sent {
		out = append(out, n.Kind)
	}
	return out
}

type flowFixture struct {
	source    *scriptedSource
	submitter *submitterFake
	results   *resultsFake
	sink      *sinkFake
	notifier  *notifierFake
	flow      *AnalysisFlow
}

func newFlowFixture(poll domain.PollConfig, steps ...scriptStep) *flowFixture {
	fx := &flowFixture{
		source:    &scriptedSource{script: steps, fallback: domain.StatusProcessing},
		submitter: &submitterFake{},
		results: &resultsFake{outcome: &domain.AnalysisOutcome{
			JobID:           "job-1",
			Prediction:      "real",
			ConfidenceScore: 0.93,
		}},
		sink:     &sinkFake{},
		notifier: &notifierFake{},
	}
	fx.flow = NewAnalysisFlow(FlowDeps{
		Validator: NewValidator(domain.DefaultUploadPolicy()),
		Submitter: fx.submitter,
		Watcher:   NewScheduler(fx.source),
		Results:   fx.results,
		Sink:      fx.sink,
		Notifier:  fx.notifier,
		Poll:      poll,
	})
	return fx
}

func sameKinds(got []ports.NotificationKind, want ...ports.NotificationKind) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestAnalysisFlowCompletes(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		fx := newFlowFixture(testPoll, statuses(
			domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted,
		)...)

		var seen []domain.JobStatus
		result, err := fx.flow.Run(context.Background(), testCandidate, strings.NewReader("hello"), "user-1",
			func(u domain.JobStatusUpdate) { seen = append(seen, u.Status) })
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if result.State != domain.StateCompleted {
			t.Fatalf("expected completed state, got %s", result.State)
		}
		if result.Job.Status != domain.StatusCompleted {
			t.Fatalf("expected job status completed, got %s", result.Job.Status)
		}
		if result.Outcome == nil || result.Outcome.Prediction != "real" {
			t.Fatalf("expected loaded outcome, got %+v", result.Outcome)
		}
		if len(seen) != 3 {
			t.Fatalf("expected 3 observed updates, got %v", seen)
		}
		if len(fx.sink.delivered) != 1 {
			t.Fatalf("expected one delivery, got %d", len(fx.sink.delivered))
		}
		if got := fx.notifier.kinds(); !sameKinds(got, ports.NotifyCompleted) {
			t.Fatalf("expected one completed notification, got %v", got)
		}
	})
}

func TestAnalysisFlowValidationErrorSkipsSubmission(t *testing.T) {
	fx := newFlowFixture(testPoll)
	candidate := domain.UploadCandidate{Name: "notes.txt", SizeBytes: 10, MimeType: "text/plain"}

	_, err := fx.flow.Run(context.Background(), candidate, strings.NewReader("x"), "user-1", nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if fx.submitter.calls != 0 {
		t.Fatalf("submitter must not be called")
	}
	if got := fx.notifier.kinds(); !sameKinds(got, ports.NotifyValidationError) {
		t.Fatalf("expected one validation notification, got %v", got)
	}
	if msg := fx.notifier.sent[0].Message; msg != "Please select a video file." {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestAnalysisFlowSubmissionError(t *testing.T) {
	fx := newFlowFixture(testPoll)
	fx.submitter.err = &domain.SubmissionError{Step: domain.StepTrigger, Err: errors.New("503")}

	_, err := fx.flow.Run(context.Background(), testCandidate, strings.NewReader("x"), "user-1", nil)
	if !errors.Is(err, domain.ErrTrigger) {
		t.Fatalf("expected trigger error, got %v", err)
	}
	if got := fx.notifier.kinds(); !sameKinds(got, ports.NotifySubmissionError) {
		t.Fatalf("expected one submission notification, got %v", got)
	}
	if !strings.HasPrefix(fx.notifier.sent[0].Message, "Upload failed: ") {
		t.Fatalf("unexpected message %q", fx.notifier.sent[0].Message)
	}
	if len(fx.source.callTimes()) != 0 {
		t.Fatalf("polling must not start after a submission error")
	}
}

func TestAnalysisFlowFailedJob(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		fx := newFlowFixture(testPoll, statuses(domain.StatusProcessing, domain.StatusFailed)...)

		result, err := fx.flow.Run(context.Background(), testCandidate, strings.NewReader("x"), "user-1", nil)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if result.State != domain.StateFailed || result.Outcome != nil {
			t.Fatalf("unexpected result %+v", result)
		}
		if len(fx.sink.delivered) != 0 {
			t.Fatalf("failed job must not deliver a result")
		}
		if got := fx.notifier.kinds(); !sameKinds(got, ports.NotifyFailed) {
			t.Fatalf("expected one failed notification, got %v", got)
		}
	})
}

func TestAnalysisFlowTimesOut(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		fx := newFlowFixture(domain.PollConfig{Interval: time.Second, MaxAttempts: 3})
		start := time.Now()

		result, err := fx.flow.Run(context.Background(), testCandidate, strings.NewReader("x"), "user-1", nil)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if result.State != domain.StateTimedOut {
			t.Fatalf("expected timed out, got %s", result.State)
		}
		if elapsed := time.Since(start); elapsed != 3*time.Second {
			t.Fatalf("expected timeout after 3s, got %s", elapsed)
		}
		if got := fx.notifier.kinds(); !sameKinds(got, ports.NotifyTimedOut) {
			t.Fatalf("expected one timed out notification, got %v", got)
		}
	})
}

func TestAnalysisFlowFillsPartialPollConfig(t *testing.T) {
	cases := []struct {
		name   string
		poll   domain.PollConfig
		budget time.Duration
	}{
		{name: "interval only", poll: domain.PollConfig{Interval: time.Second}, budget: domain.DefaultPollMaxAttempts * time.Second},
		{name: "attempts only", poll: domain.PollConfig{MaxAttempts: 2}, budget: 2 * domain.DefaultPollInterval},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			synctest.Test(t, func(t *testing.T) {
				fx := newFlowFixture(tc.poll)
				start := time.Now()

				result, err := fx.flow.Run(context.Background(), testCandidate, strings.NewReader("x"), "user-1", nil)
				if err != nil {
					t.Fatalf("Run() error = %v", err)
				}
				if result.State != domain.StateTimedOut {
					t.Fatalf("expected timed out, got %s", result.State)
				}
				if elapsed := time.Since(start); elapsed != tc.budget {
					t.Fatalf("expected timeout after %s, got %s", tc.budget, elapsed)
				}
				if got := fx.notifier.kinds(); !sameKinds(got, ports.NotifyTimedOut) {
					t.Fatalf("expected one timed out notification, got %v", got)
				}
			})
		})
	}
}

func TestAnalysisFlowDropsBackwardStatus(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		fx := newFlowFixture(testPoll, statuses(
			domain.StatusProcessing, domain.StatusPending, domain.StatusCompleted,
		)...)

		var seen []domain.JobStatus
		result, err := fx.flow.Run(context.Background(), testCandidate, strings.NewReader("x"), "user-1",
			func(u domain.JobStatusUpdate) { seen = append(seen, u.Status) })
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if result.State != domain.StateCompleted {
			t.Fatalf("expected completed, got %s", result.State)
		}
		want := []domain.JobStatus{domain.StatusProcessing, domain.StatusCompleted}
		if len(seen) != len(want) || seen[0] != want[0] || seen[1] != want[1] {
			t.Fatalf("expected %v, got %v", want, seen)
		}
	})
}

func TestAnalysisFlowPassesPollingErrorsThrough(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		fx := newFlowFixture(testPoll, []scriptStep{
			{err: errors.New("dial tcp: refused")},
			{status: domain.StatusCompleted},
		}...)

		var errs int
		result, err := fx.flow.Run(context.Background(), testCandidate, strings.NewReader("x"), "user-1",
			func(u domain.JobStatusUpdate) {
				if u.IsPollingError() {
					errs++
				}
			})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if errs != 1 || result.State != domain.StateCompleted {
			t.Fatalf("expected one polling error then completion, got errs=%d state=%s", errs, result.State)
		}
		if got := fx.notifier.kinds(); !sameKinds(got, ports.NotifyCompleted) {
			t.Fatalf("polling errors must not notify, got %v", got)
		}
	})
}

func TestAnalysisFlowCancelledContextDoesNotNotify(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		fx := newFlowFixture(testPoll)
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() {
			_, err := fx.flow.Run(ctx, testCandidate, strings.NewReader("x"), "user-1", nil)
			done <- err
		}()

		time.Sleep(12 * time.Second)
		cancel()
		err := <-done

		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if got := fx.notifier.kinds(); len(got) != 0 {
			t.Fatalf("cancellation must not notify, got %v", got)
		}
		synctest.Wait()
	})
}

func TestTrackRestoredTerminalJobSkipsPolling(t *testing.T) {
	fx := newFlowFixture(testPoll)
	machine, err := domain.RestoreStateMachine(domain.StatusCompleted)
	if err != nil {
		t.Fatalf("RestoreStateMachine() error = %v", err)
	}
	job := &domain.Job{ID: "job-1", Status: domain.StatusCompleted}

	result, err := fx.flow.Track(context.Background(), job, machine, nil)
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	if result.Outcome == nil {
		t.Fatalf("expected outcome for restored completed job")
	}
	if len(fx.source.callTimes()) != 0 || len(fx.notifier.kinds()) != 0 {
		t.Fatalf("restored terminal job must not poll or notify")
	}
}
