package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/veriscan/internal/core/domain"
	"github.com/kirillkom/veriscan/internal/infrastructure/resilience"
)

const (
	DefaultSubject = "analysis.requested"

	// PublishOperation names publishes in the resilience executor.
	PublishOperation = "nats.publish"
)

// Trigger asks the analysis backend to start processing by publishing the job
// id on a subject the backend workers subscribe to.
type Trigger struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

type requestMessage struct {
	JobID string `json:"job_id"`
}

func New(url, subject string, options Options) (*Trigger, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("veriscan-api"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Trigger{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
	}, nil
}

func (t *Trigger) Close() {
	if t.conn != nil {
		t.conn.Close()
	}
}

// Invoke publishes an analysis request for id. PublishMsg fails only before the
// message is handed to the connection, so the retried errors below never
// produce a second delivery. The job id is also set as Nats-Msg-Id; only a
// JetStream stream bound to the subject deduplicates on it, core subscribers
// must treat an already started job id as a no-op.
func (t *Trigger) Invoke(ctx context.Context, id domain.JobID) error {
	msg, err := newRequestMsg(t.subject, id)
	if err != nil {
		return err
	}

	call := func(context.Context) error {
		if err := t.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if t.executor != nil {
		err = t.executor.Execute(ctx, PublishOperation, call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	return wrapTemporaryIfNeeded(err)
}

// Ping flushes the connection so readiness checks see a dead server.
func (t *Trigger) Ping(ctx context.Context) error {
	if err := t.conn.FlushWithContext(ctx); err != nil {
		return wrapTemporaryIfNeeded(fmt.Errorf("nats flush: %w", err))
	}
	return nil
}

func newRequestMsg(subject string, id domain.JobID) (*nats.Msg, error) {
	if id == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "nats trigger", errors.New("job id is required"))
	}
	payload, err := json.Marshal(requestMessage{JobID: id.String()})
	if err != nil {
		return nil, fmt.Errorf("marshal analysis request: %w", err)
	}
	msg := nats.NewMsg(subject)
	msg.Header.Set(nats.MsgIdHdr, id.String())
	msg.Data = payload
	return msg, nil
}

func classifyNATSError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	if resilience.IsCircuitOpen(err) ||
		errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrConnectionReconnecting) ||
		errors.Is(err, nats.ErrDisconnected) ||
		errors.Is(err, nats.ErrReconnectBufExceeded) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}

func wrapTemporaryIfNeeded(err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifyNATSError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, "nats publish", err)
	}
	return err
}
