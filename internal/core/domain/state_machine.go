package domain

import (
	"fmt"
	"sync"
)

// JobState is the client-side lifecycle of one submission.
type JobState string

const (
	StateIdle       JobState = "idle"
	StateUploading  JobState = "uploading"
	StatePending    JobState = "pending"
	StateProcessing JobState = "processing"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
	StateTimedOut   JobState = "timed_out"
)

func (s JobState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut:
		return true
	default:
		return false
	}
}

// StateForStatus maps an observed job status onto the lifecycle.
func StateForStatus(status JobStatus) (JobState, error) {
	switch status {
	case StatusPending:
		return StatePending, nil
	case StatusProcessing:
		return StateProcessing, nil
	case StatusCompleted:
		return StateCompleted, nil
	case StatusFailed:
		return StateFailed, nil
	case StatusTimedOut:
		return StateTimedOut, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
}

var transitions = map[JobState]map[JobState]struct{}{
	StateIdle: {
		StateUploading: {},
	},
	StateUploading: {
		StatePending: {},
		StateIdle:    {},
	},
	StatePending: {
		StatePending:    {},
		StateProcessing: {},
		StateCompleted:  {},
		StateFailed:     {},
		StateTimedOut:   {},
	},
	StateProcessing: {
		StateProcessing: {},
		StateCompleted:  {},
		StateFailed:     {},
		StateTimedOut:   {},
	},
}

// StateMachine is the authoritative record of a job's lifecycle. It is strict:
// any transition not listed above is rejected with a *TransitionError.
type StateMachine struct {
	mu      sync.Mutex
	state   JobState
	lastErr error
}

func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateIdle}
}

// RestoreStateMachine rebuilds the lifecycle for a job that was submitted
// earlier, e.g. when a client reattaches to it.
func RestoreStateMachine(status JobStatus) (*StateMachine, error) {
	state, err := StateForStatus(status)
	if err != nil {
		return nil, err
	}
	return &StateMachine{state: state}, nil
}

func (m *StateMachine) State() JobState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError is the error attached by the most recent failed upload.
func (m *StateMachine) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func CanTransition(from, to JobState) bool {
	_, ok := transitions[from][to]
	return ok
}

// Apply moves the machine to the given state. It reports whether the state
// actually changed; repeated observations of pending or processing are no-ops.
func (m *StateMachine) Apply(to JobState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	if !CanTransition(from, to) {
		return false, &TransitionError{From: from, To: to}
	}
	m.state = to
	if to != StateIdle {
		m.lastErr = nil
	}
	return from != to, nil
}

func (m *StateMachine) BeginUpload() error {
	_, err := m.Apply(StateUploading)
	return err
}

func (m *StateMachine) UploadSucceeded() error {
	_, err := m.Apply(StatePending)
	return err
}

// UploadFailed returns the machine to idle and keeps cause for display.
func (m *StateMachine) UploadFailed(cause error) error {
	if _, err := m.Apply(StateIdle); err != nil {
		return err
	}
	m.mu.Lock()
	m.lastErr = cause
	m.mu.Unlock()
	return nil
}

// Observe applies a status reported by the polling scheduler.
func (m *StateMachine) Observe(status JobStatus) (bool, error) {
	to, err := StateForStatus(status)
	if err != nil {
		return false, err
	}
	return m.Apply(to)
}
