package domain

import (
	"fmt"
	"time"
)

const (
	DefaultMaxUploadBytes int64 = 50 * 1024 * 1024

	DefaultPollInterval    = 5 * time.Second
	DefaultPollMaxAttempts = 60
)

type UploadPolicy struct {
	MaxSizeBytes        int64
	AllowedMimePrefixes []string
}

func DefaultUploadPolicy() UploadPolicy {
	return UploadPolicy{
		MaxSizeBytes:        DefaultMaxUploadBytes,
		AllowedMimePrefixes: []string{"video/"},
	}
}

// PollConfig bounds one polling session. The wall-clock budget of a session is
// Interval * MaxAttempts measured from the first tick.
type PollConfig struct {
	Interval     time.Duration
	MaxAttempts  int
	FetchTimeout time.Duration
}

func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval:    DefaultPollInterval,
		MaxAttempts: DefaultPollMaxAttempts,
	}
}

func (c PollConfig) Validate() error {
	if c.Interval <= 0 {
		return WrapError(ErrInvalidInput, "poll config", fmt.Errorf("interval must be positive, got %s", c.Interval))
	}
	if c.MaxAttempts <= 0 {
		return WrapError(ErrInvalidInput, "poll config", fmt.Errorf("max attempts must be positive, got %d", c.MaxAttempts))
	}
	return nil
}

func (c PollConfig) Budget() time.Duration {
	return c.Interval * time.Duration(c.MaxAttempts)
}

// PollingSession is the scheduler's bookkeeping for one live watch loop.
type PollingSession struct {
	JobID       JobID
	Attempt     int
	Failures    int
	Interval    time.Duration
	MaxAttempts int
	StartedAt   time.Time
}

// Ticks is the number of ticks already spent, successful or not.
func (s PollingSession) Ticks() int {
	return s.Attempt + s.Failures
}

func (s PollingSession) Exhausted() bool {
	return s.Ticks() >= s.MaxAttempts
}

// NextTickAt returns the fixed-cadence deadline of the next tick.
func (s PollingSession) NextTickAt() time.Time {
	return s.StartedAt.Add(time.Duration(s.Ticks()) * s.Interval)
}
