package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/kirillkom/veriscan/internal/core/ports"
)

// LogNotifier records user notifications as structured log events. The API
// uses it because its clients read job state from the event stream.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, msg ports.Notification) {
	attrs := []any{
		"kind", msg.Kind,
		"message", msg.Message,
	}
	if msg.JobID != "" {
		attrs = append(attrs, "job_id", msg.JobID)
	}
	if msg.Err != nil {
		attrs = append(attrs, "error", msg.Err)
	}
	n.logger.Log(ctx, levelFor(msg.Kind), "user_notification", attrs...)
}

func levelFor(kind ports.NotificationKind) slog.Level {
	switch kind {
	case ports.NotifyCompleted:
		return slog.LevelInfo
	case ports.NotifyValidationError, ports.NotifyTimedOut:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// WriterNotifier prints one line per notification, e.g. to a terminal.
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

func (n *WriterNotifier) Notify(_ context.Context, msg ports.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if msg.JobID != "" {
		fmt.Fprintf(n.w, "[%s] %s (job %s)\n", msg.Kind, msg.Message, msg.JobID)
		return
	}
	fmt.Fprintf(n.w, "[%s] %s\n", msg.Kind, msg.Message)
}
