package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/veriscan/internal/core/domain"
	"github.com/kirillkom/veriscan/internal/core/ports"
	"github.com/kirillkom/veriscan/internal/observability/metrics"
)

const (
	ownerHeader = "X-User-Id"
	serviceName = "veriscan-api"

	// Room for multipart boundaries and headers on top of the file itself.
	multipartOverhead = 1 << 20
)

// HealthCheck is a named readiness check, e.g. a database ping.
type HealthCheck struct {
	Name  string
	Check func(context.Context) error
}

type Options struct {
	MaxUploadBytes       int64
	RateLimitRPS         float64
	RateLimitBurst       int
	MaxConcurrentUploads int
	UploadQueueWait      time.Duration
}

type RouterDeps struct {
	Validator ports.UploadValidator
	Submitter ports.JobSubmitter
	Jobs      ports.JobReader
	Results   ports.ResultReader
	Tracker   ports.JobTracker
	Metrics   *metrics.HTTPServerMetrics
	Logger    *slog.Logger
	Checks    []HealthCheck
	Options   Options
}

type Router struct {
	validator ports.UploadValidator
	submitter ports.JobSubmitter
	jobs      ports.JobReader
	results   ports.ResultReader
	tracker   ports.JobTracker
	metrics   *metrics.HTTPServerMetrics
	logger    *slog.Logger
	checks    []HealthCheck
	opts      Options
}

func NewRouter(deps RouterDeps) *Router {
	rt := &Router{
		validator: deps.Validator,
		submitter: deps.Submitter,
		jobs:      deps.Jobs,
		results:   deps.Results,
		tracker:   deps.Tracker,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		checks:    deps.Checks,
		opts:      deps.Options,
	}
	if rt.logger == nil {
		rt.logger = slog.Default()
	}
	if rt.opts.MaxUploadBytes <= 0 {
		rt.opts.MaxUploadBytes = domain.DefaultMaxUploadBytes
	}
	if rt.opts.UploadQueueWait <= 0 {
		rt.opts.UploadQueueWait = 2 * time.Second
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware, accessLogMiddleware(rt.logger))
	if rt.metrics != nil {
		r.Use(func(next http.Handler) http.Handler {
			return rt.metrics.Middleware(serviceName, next)
		})
		r.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	r.Get("/healthz", rt.healthz)
	r.Get("/readyz", rt.readyz)

	r.With(
		rateLimitMiddleware(rt.opts.RateLimitRPS, rt.opts.RateLimitBurst),
		func(next http.Handler) http.Handler {
			return backpressureMiddleware(next, rt.opts.MaxConcurrentUploads, rt.opts.UploadQueueWait)
		},
	).Post("/v1/jobs", rt.uploadJob)
	r.Get("/v1/jobs/{jobID}", rt.getJob)
	r.Get("/v1/jobs/{jobID}/result", rt.getResult)
	r.Get("/v1/jobs/{jobID}/events", rt.streamEvents)
	return r
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	report := make(map[string]string, len(rt.checks))
	for _, c := range rt.checks {
		if err := c.Check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			report[c.Name] = err.Error()
			continue
		}
		report[c.Name] = "ok"
	}
	writeJSON(w, status, report)
}

func (rt *Router) uploadJob(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.Header.Get(ownerHeader))
	if owner == "" {
		rt.writeDomainError(w, r, domain.WrapError(domain.ErrUnauthorized, "upload", errors.New(ownerHeader+" header is required")))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, rt.opts.MaxUploadBytes+multipartOverhead)
	file, header, err := r.FormFile("file")
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			rt.writeDomainError(w, r, &domain.ValidationError{Reason: domain.ReasonTooLarge})
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_input", "multipart field 'file' is required")
		return
	}
	defer file.Close()

	candidate, err := rt.validator.Validate(domain.UploadCandidate{
		Name:      header.Filename,
		SizeBytes: header.Size,
		MimeType:  header.Header.Get("Content-Type"),
	})
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}

	job, err := rt.submitter.Submit(r.Context(), candidate, file, owner)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+job.ID.String())
	writeJSON(w, http.StatusAccepted, job)
}

func (rt *Router) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := rt.jobs.GetByID(r.Context(), domain.JobID(chi.URLParam(r, "jobID")))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (rt *Router) getResult(w http.ResponseWriter, r *http.Request) {
	outcome, err := rt.results.GetResult(r.Context(), domain.JobID(chi.URLParam(r, "jobID")))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	message := err.Error()
	if status >= 500 && status != http.StatusServiceUnavailable {
		rt.logger.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		message = "internal error"
	}
	writeError(w, status, errorCode(err), message)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
