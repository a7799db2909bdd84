package ports

import (
	"context"

	"github.com/kirillkom/veriscan/internal/core/domain"
)

type NotificationKind string

const (
	NotifyValidationError NotificationKind = "validation_error"
	NotifySubmissionError NotificationKind = "submission_error"
	NotifyCompleted       NotificationKind = "completed"
	NotifyFailed          NotificationKind = "failed"
	NotifyTimedOut        NotificationKind = "timed_out"
)

// Notification is a single user-facing message. Every terminal state and every
// submission-time error produces exactly one.
type Notification struct {
	Kind    NotificationKind
	JobID   domain.JobID
	Message string
	Err     error
}

// Notifier shows notifications to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}
