package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type JobID string

func (id JobID) String() string { return string(id) }

// JobStatus is the closed set of statuses a job can report. The first four are
// persisted by the backend; StatusTimedOut is produced only on the client side.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusTimedOut   JobStatus = "timed_out"
)

// ParseJobStatus validates a raw backend value. Only persisted statuses are
// accepted; timed_out is never reported by the backend.
func ParseJobStatus(raw string) (JobStatus, error) {
	switch status := JobStatus(strings.ToLower(strings.TrimSpace(raw))); status {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
}

func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

type Job struct {
	ID        JobID     `json:"id"`
	OwnerID   string    `json:"user_id"`
	Filename  string    `json:"original_filename"`
	FilePath  string    `json:"file_path"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"upload_timestamp"`
}

// UploadCandidate describes a user-selected file before anything is sent.
type UploadCandidate struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type"`
}

type StoredRef struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// JobStatusUpdate is one element of a polling stream. A non-nil Err marks a
// transient polling error; such updates are never terminal.
type JobStatusUpdate struct {
	JobID      JobID     `json:"job_id"`
	Status     JobStatus `json:"status,omitempty"`
	Attempt    int       `json:"attempt"`
	Terminal   bool      `json:"terminal"`
	Err        error     `json:"-"`
	ObservedAt time.Time `json:"observed_at"`
}

func (u JobStatusUpdate) IsPollingError() bool { return u.Err != nil }

// AnalysisOutcome is the result record written by the analysis service. The
// orchestrator passes it through without interpreting it.
type AnalysisOutcome struct {
	JobID                   JobID           `json:"job_id"`
	Prediction              string          `json:"prediction"`
	ConfidenceScore         float64         `json:"confidence_score"`
	VisualConfidence        float64         `json:"visual_confidence"`
	AudioConfidence         float64         `json:"audio_confidence"`
	AnalysisDurationSeconds float64         `json:"analysis_duration_seconds"`
	AnomalyTimestamps       []float64       `json:"anomaly_timestamps"`
	VisualAnalysis          json.RawMessage `json:"visual_analysis,omitempty"`
	AudioAnalysis           json.RawMessage `json:"audio_analysis,omitempty"`
}

// FlowResult is what a finished analysis flow hands back to its caller.
type FlowResult struct {
	Job     *Job             `json:"job"`
	State   JobState         `json:"state"`
	Outcome *AnalysisOutcome `json:"outcome,omitempty"`
}
