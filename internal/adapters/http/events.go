package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/veriscan/internal/core/domain"
)

type statusEvent struct {
	JobID      domain.JobID     `json:"job_id"`
	Status     domain.JobStatus `json:"status,omitempty"`
	Attempt    int              `json:"attempt"`
	Terminal   bool             `json:"terminal"`
	Error      string           `json:"error,omitempty"`
	ObservedAt time.Time        `json:"observed_at"`
}

// streamEvents tracks a job and relays every accepted status update as a
// server-sent event. The stream ends with a "done" event carrying the flow
// result; a client disconnect cancels the polling session.
func (rt *Router) streamEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	job, err := rt.jobs.GetByID(ctx, domain.JobID(chi.URLParam(r, "jobID")))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	machine, err := domain.RestoreStateMachine(job.Status)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming is not supported by response writer")
		return
	}

	stream := &sseWriter{w: w, flusher: flusher}
	defer func() {
		if stream.closeMetric != nil {
			stream.closeMetric()
		}
	}()
	if rt.metrics != nil {
		stream.onStart = rt.metrics.StreamOpened
	}

	result, err := rt.tracker.Track(ctx, job, machine, func(u domain.JobStatusUpdate) {
		ev := statusEvent{
			JobID:      u.JobID,
			Status:     u.Status,
			Attempt:    u.Attempt,
			Terminal:   u.Terminal,
			ObservedAt: u.ObservedAt,
		}
		name := "status"
		if u.IsPollingError() {
			name = "poll_error"
			ev.Error = u.Err.Error()
		}
		stream.send(name, ev)
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if !stream.started {
			rt.writeDomainError(w, r, err)
			return
		}
		rt.logger.Warn("event_stream_failed", "job_id", job.ID, "error", err)
		stream.send("error", map[string]string{"error": errorCode(err), "message": err.Error()})
		return
	}
	stream.send("done", result)
}

// sseWriter defers the response header until the first event so that errors
// raised before any update still get a proper status code.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool

	onStart     func() func()
	closeMetric func()
}

func (s *sseWriter) send(event string, payload any) {
	if !s.started {
		s.started = true
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		if s.onStart != nil {
			s.closeMetric = s.onStart()
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{}`)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return
	}
	s.flusher.Flush()
}
