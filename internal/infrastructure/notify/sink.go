package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/kirillkom/veriscan/internal/core/domain"
)

// JSONSink writes each delivered outcome as an indented JSON document.
type JSONSink struct {
	w io.Writer
}

func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{w: w}
}

func (s *JSONSink) Deliver(_ context.Context, job *domain.Job, outcome *domain.AnalysisOutcome) error {
	if outcome == nil {
		return fmt.Errorf("deliver result for %s: outcome is nil", job.ID)
	}
	enc := json.NewEncoder(s.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcome); err != nil {
		return fmt.Errorf("deliver result for %s: %w", job.ID, err)
	}
	return nil
}

// LogSink logs a summary of each delivered outcome.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(ctx context.Context, job *domain.Job, outcome *domain.AnalysisOutcome) error {
	s.logger.InfoContext(ctx, "analysis_result",
		"job_id", job.ID,
		"user_id", job.OwnerID,
		"prediction", outcome.Prediction,
		"confidence_score", outcome.ConfidenceScore,
		"anomalies", len(outcome.AnomalyTimestamps),
	)
	return nil
}
