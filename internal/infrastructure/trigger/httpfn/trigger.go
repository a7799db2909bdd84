package httpfn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/veriscan/internal/core/domain"
	"github.com/kirillkom/veriscan/internal/infrastructure/resilience"
)

// Trigger invokes an HTTP analysis function with {"job_id": "..."}.
// InvokeOperation names trigger calls in the resilience executor.
const InvokeOperation = "trigger.invoke"

type Trigger struct {
	url        string
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	APIKey             string
	Timeout            time.Duration
	HTTPClient         *http.Client
	ResilienceExecutor *resilience.Executor
}

func New(url string, options Options) (*Trigger, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "http trigger", errors.New("url is required"))
	}
	client := options.HTTPClient
	if client == nil {
		timeout := options.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Trigger{
		url:        url,
		apiKey:     options.APIKey,
		httpClient: client,
		executor:   options.ResilienceExecutor,
	}, nil
}

// Invoke asks the function to analyse id. A request is retried only when it
// cannot have reached the function; otherwise a repeated submission relies on
// the function ignoring job ids it has already started.
func (t *Trigger) Invoke(ctx context.Context, id domain.JobID) error {
	if id == "" {
		return domain.WrapError(domain.ErrInvalidInput, "http trigger", errors.New("job id is required"))
	}
	body, err := json.Marshal(map[string]string{"job_id": id.String()})
	if err != nil {
		return fmt.Errorf("marshal trigger request: %w", err)
	}

	call := func(ctx context.Context) error {
		return t.post(ctx, body)
	}
	if t.executor != nil {
		err = t.executor.Execute(ctx, InvokeOperation, call, classifyTriggerError)
	} else {
		err = call(ctx)
	}
	return wrapTemporaryIfNeeded(err)
}

func (t *Trigger) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("trigger request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		statusErr := &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(raw)}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return domain.WrapError(domain.ErrUnauthorized, "trigger", statusErr)
		}
		return statusErr
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
