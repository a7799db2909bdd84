package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/veriscan/internal/core/domain"
	"github.com/kirillkom/veriscan/internal/core/ports"
)

// Scheduler polls job status at a fixed cadence. It keeps at most one live
// Session per job.
type Scheduler struct {
	source   ports.StatusSource
	logger   *slog.Logger
	recorder Recorder

	mu       sync.Mutex
	sessions map[domain.JobID]*Session
}

type SchedulerOption func(*Scheduler)

func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithSchedulerRecorder(recorder Recorder) SchedulerOption {
	return func(s *Scheduler) {
		if recorder != nil {
			s.recorder = recorder
		}
	}
}

func NewScheduler(source ports.StatusSource, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		source:   source,
		logger:   slog.Default(),
		recorder: nopRecorder{},
		sessions: make(map[domain.JobID]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Watch starts polling jobID. The first tick fires immediately; tick k fires at
// StartedAt + k*Interval. Cancelling ctx cancels the session.
func (s *Scheduler) Watch(ctx context.Context, jobID domain.JobID, cfg domain.PollConfig) (*Session, error) {
	if strings.TrimSpace(string(jobID)) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "watch", errors.New("job id is required"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout <= 0 || cfg.FetchTimeout > cfg.Interval {
		cfg.FetchTimeout = cfg.Interval
	}

	s.mu.Lock()
	if _, exists := s.sessions[jobID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("watch %s: %w", jobID, domain.ErrSessionActive)
	}
	sess := newSession(ctx, jobID, cfg)
	s.sessions[jobID] = sess
	s.mu.Unlock()

	s.recorder.SessionStarted()
	go s.run(sess)
	return sess, nil
}

// Active reports whether jobID currently has a live session.
func (s *Scheduler) Active(jobID domain.JobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[jobID]
	return ok
}

func (s *Scheduler) release(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.sessions[sess.jobID]; ok && current == sess {
		delete(s.sessions, sess.jobID)
	}
}

func (s *Scheduler) run(sess *Session) {
	var final domain.JobStatus
	defer func() {
		s.release(sess)
		sess.finish()
		snap := sess.Snapshot()
		s.recorder.SessionFinished(final, sess.Cancelled(), time.Since(snap.StartedAt))
		s.logger.Debug("polling_session_finished",
			"job_id", sess.jobID,
			"status", final,
			"attempts", snap.Attempt,
			"failures", snap.Failures,
			"cancelled", sess.Cancelled(),
		)
	}()

	for {
		if !sess.waitForTick() {
			return
		}

		snap := sess.Snapshot()
		if snap.Exhausted() {
			final = domain.StatusTimedOut
			sess.emit(domain.JobStatusUpdate{
				JobID:      sess.jobID,
				Status:     domain.StatusTimedOut,
				Attempt:    snap.Attempt,
				Terminal:   true,
				ObservedAt: time.Now(),
			})
			return
		}

		status, err := s.fetch(sess)
		if sess.ctx.Err() != nil {
			// Cancelled while the fetch was in flight: drop its result.
			return
		}
		s.recorder.ObservePoll(status, err)

		if err != nil {
			attempt := sess.recordFailure()
			s.logger.Warn("poll_error",
				"job_id", sess.jobID,
				"attempt", attempt,
				"error", err,
			)
			sess.emit(domain.JobStatusUpdate{
				JobID:      sess.jobID,
				Attempt:    attempt,
				Err:        domain.WrapError(domain.ErrTemporary, "poll status", err),
				ObservedAt: time.Now(),
			})
			continue
		}

		attempt := sess.recordAttempt()
		terminal := status.IsTerminal()
		if !sess.emit(domain.JobStatusUpdate{
			JobID:      sess.jobID,
			Status:     status,
			Attempt:    attempt,
			Terminal:   terminal,
			ObservedAt: time.Now(),
		}) {
			return
		}
		if terminal {
			final = status
			return
		}
	}
}

func (s *Scheduler) fetch(sess *Session) (domain.JobStatus, error) {
	ctx, cancel := context.WithTimeout(sess.ctx, sess.cfg.FetchTimeout)
	defer cancel()

	status, err := s.source.CurrentStatus(ctx, sess.jobID)
	if err != nil {
		return "", err
	}
	// Trust only the closed enum; timed_out is never a backend value.
	return domain.ParseJobStatus(string(status))
}

// Session is one live polling loop. Updates are pulled with Next; after Cancel
// no update is delivered, including results of fetches already in flight.
type Session struct {
	jobID  domain.JobID
	cfg    domain.PollConfig
	parent context.Context

	ctx    context.Context
	cancel context.CancelFunc
	stop   func() bool

	updates    chan domain.JobStatusUpdate
	finished   chan struct{}
	cancelled  atomic.Bool
	cancelOnce sync.Once

	mu    sync.Mutex
	state domain.PollingSession
}

func newSession(parent context.Context, jobID domain.JobID, cfg domain.PollConfig) *Session {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	sess := &Session{
		jobID:    jobID,
		cfg:      cfg,
		parent:   parent,
		ctx:      ctx,
		cancel:   cancel,
		updates:  make(chan domain.JobStatusUpdate, 1),
		finished: make(chan struct{}),
		state: domain.PollingSession{
			JobID:       jobID,
			Interval:    cfg.Interval,
			MaxAttempts: cfg.MaxAttempts,
			StartedAt:   time.Now(),
		},
	}
	sess.stop = context.AfterFunc(parent, sess.Cancel)
	return sess
}

func (s *Session) JobID() domain.JobID { return s.jobID }

// Next blocks until the next update. It returns false once the stream has
// ended, the session was cancelled, or ctx is done.
func (s *Session) Next(ctx context.Context) (domain.JobStatusUpdate, bool) {
	select {
	case u, ok := <-s.updates:
		if !ok || s.Cancelled() {
			return domain.JobStatusUpdate{}, false
		}
		return u, true
	case <-ctx.Done():
		return domain.JobStatusUpdate{}, false
	}
}

// Cancel stops all future ticks. It is idempotent and a no-op on a finished
// session.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() {
		s.cancelled.Store(true)
		s.cancel()
	})
}

func (s *Session) Cancelled() bool {
	return s.cancelled.Load() || s.parent.Err() != nil
}

// Done is closed when the polling loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.finished
}

func (s *Session) Snapshot() domain.PollingSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) waitForTick() bool {
	if s.ctx.Err() != nil {
		return false
	}
	wait := time.Until(s.Snapshot().NextTickAt())
	if wait <= 0 {
		return true
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return s.ctx.Err() == nil
	}
}

func (s *Session) emit(u domain.JobStatusUpdate) bool {
	if s.Cancelled() {
		return false
	}
	select {
	case s.updates <- u:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) recordAttempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Attempt++
	return s.state.Attempt
}

func (s *Session) recordFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Failures++
	return s.state.Ticks()
}

func (s *Session) finish() {
	s.stop()
	s.cancel()
	close(s.updates)
	close(s.finished)
}
