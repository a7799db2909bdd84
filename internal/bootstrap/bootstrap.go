package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sony/gobreaker/v2"

	httpadapter "github.com/kirillkom/veriscan/internal/adapters/http"
	"github.com/kirillkom/veriscan/internal/config"
	"github.com/kirillkom/veriscan/internal/core/domain"
	"github.com/kirillkom/veriscan/internal/core/ports"
	"github.com/kirillkom/veriscan/internal/core/usecase"
	rediscache "github.com/kirillkom/veriscan/internal/infrastructure/cache/redis"
	"github.com/kirillkom/veriscan/internal/infrastructure/notify"
	"github.com/kirillkom/veriscan/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/veriscan/internal/infrastructure/repository/sqlite"
	"github.com/kirillkom/veriscan/internal/infrastructure/resilience"
	"github.com/kirillkom/veriscan/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/veriscan/internal/infrastructure/trigger/httpfn"
	"github.com/kirillkom/veriscan/internal/infrastructure/trigger/nats"
	"github.com/kirillkom/veriscan/internal/observability/metrics"
)

const serviceName = "veriscan"

// jobStore is what both database adapters provide.
type jobStore interface {
	ports.JobRepository
	ports.StatusSource
	ports.ResultReader
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	Jobs      jobStore
	Status    ports.StatusSource
	Validator *usecase.Validator
	Submitter *usecase.SubmitJobUseCase
	Scheduler *usecase.Scheduler
	Flow      *usecase.AnalysisFlow

	HTTPMetrics *metrics.HTTPServerMetrics
	FlowMetrics *metrics.FlowMetrics
	Checks      []httpadapter.HealthCheck

	closers []func()
}

type options struct {
	logger   *slog.Logger
	notifier ports.Notifier
	sink     ports.ResultSink
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithNotifier replaces the default log notifier, e.g. with a terminal writer.
func WithNotifier(n ports.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

func WithResultSink(s ports.ResultSink) Option {
	return func(o *options) { o.sink = s }
}

func New(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if o.notifier == nil {
		o.notifier = notify.NewLogNotifier(o.logger)
	}
	if o.sink == nil {
		o.sink = notify.NewLogSink(o.logger)
	}

	app := &App{Config: cfg, Logger: o.logger}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	app.HTTPMetrics = metrics.NewHTTPServerMetrics(serviceName + "-api")
	app.FlowMetrics = metrics.NewFlowMetrics(serviceName, app.HTTPMetrics.Registry())

	store, err := app.openJobStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	app.Jobs = store
	app.Checks = append(app.Checks, httpadapter.HealthCheck{Name: "job_store", Check: store.Ping})

	blobs, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init blob storage: %w", err)
	}

	executor := resilience.NewExecutor(resilienceConfig(cfg),
		resilience.WithLogger(o.logger),
		resilience.WithRetryHook(app.FlowMetrics.ObserveRetry),
	)
	trigger, err := app.openTrigger(cfg, executor, o.logger)
	if err != nil {
		return nil, err
	}

	app.Status = app.statusSource(ctx, cfg, store, o.logger)

	app.Validator = usecase.NewValidator(cfg.UploadPolicy())
	app.Submitter = usecase.NewSubmitJobUseCase(blobs, store, trigger,
		usecase.WithSubmitLogger(o.logger),
		usecase.WithSubmitRecorder(app.FlowMetrics),
	)
	app.Scheduler = usecase.NewScheduler(app.Status,
		usecase.WithSchedulerLogger(o.logger),
		usecase.WithSchedulerRecorder(app.FlowMetrics),
	)
	app.Flow = usecase.NewAnalysisFlow(usecase.FlowDeps{
		Validator: app.Validator,
		Submitter: app.Submitter,
		Watcher:   app.Scheduler,
		Results:   store,
		Sink:      o.sink,
		Notifier:  o.notifier,
		Poll:      cfg.PollConfig(),
		Logger:    o.logger,
	})
	return app, nil
}

func (a *App) openJobStore(ctx context.Context, cfg config.Config) (jobStore, error) {
	var db *sql.DB
	var store jobStore
	switch cfg.JobStoreDriver {
	case config.StoreDriverSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		var err error
		if db, err = sqlite.Open(ctx, cfg.SQLitePath); err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		store = sqlite.NewJobRepository(db)
	default:
		var err error
		if db, err = postgres.OpenDB(ctx, cfg.PostgresDSN); err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		store = postgres.NewJobRepository(db)
	}
	a.closers = append(a.closers, func() { _ = db.Close() })
	return store, nil
}

func (a *App) openTrigger(cfg config.Config, executor *resilience.Executor, logger *slog.Logger) (ports.AnalysisTrigger, error) {
	if cfg.TriggerKind == config.TriggerHTTP {
		trigger, err := httpfn.New(cfg.TriggerURL, httpfn.Options{
			APIKey:             cfg.TriggerAPIKey,
			Timeout:            time.Duration(cfg.TriggerTimeoutMS) * time.Millisecond,
			ResilienceExecutor: executor,
		})
		if err != nil {
			return nil, fmt.Errorf("init http trigger: %w", err)
		}
		a.addBreakerCheck(executor, httpfn.InvokeOperation)
		return trigger, nil
	}

	trigger, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init nats trigger: %w", err)
	}
	a.closers = append(a.closers, trigger.Close)
	a.Checks = append(a.Checks, httpadapter.HealthCheck{Name: "trigger", Check: trigger.Ping})
	a.addBreakerCheck(executor, nats.PublishOperation)
	return trigger, nil
}

// addBreakerCheck reports not ready while the trigger circuit is open, so a
// balancer stops routing uploads that would be rejected anyway.
func (a *App) addBreakerCheck(executor *resilience.Executor, operation string) {
	a.Checks = append(a.Checks, httpadapter.HealthCheck{
		Name: "trigger_breaker",
		Check: func(context.Context) error {
			if executor.State(operation) == gobreaker.StateOpen.String() {
				return domain.WrapError(domain.ErrTemporary, operation, errors.New("circuit open"))
			}
			return nil
		},
	})
}

// statusSource puts the Redis cache in front of the store when configured.
// An unreachable Redis at startup is logged and polling reads the store.
func (a *App) statusSource(ctx context.Context, cfg config.Config, store jobStore, logger *slog.Logger) ports.StatusSource {
	if cfg.RedisAddr == "" {
		return store
	}
	cacheCfg := rediscache.Config{
		Addr:      cfg.RedisAddr,
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		ActiveTTL: time.Duration(cfg.StatusCacheTTLMS) * time.Millisecond,
	}
	client, err := rediscache.Connect(ctx, cacheCfg)
	if err != nil {
		logger.Warn("status_cache_disabled", "addr", cfg.RedisAddr, "error", err)
		return store
	}
	a.closers = append(a.closers, func() { _ = client.Close() })

	cache := rediscache.NewStatusCache(client, store, cacheCfg, logger)
	a.FlowMetrics.ObserveStatusCache(cache.Stats)
	a.Checks = append(a.Checks, httpadapter.HealthCheck{Name: "status_cache", Check: cache.Ping})
	return cache
}

func resilienceConfig(cfg config.Config) resilience.Config {
	return resilience.Config{
		RetryMaxAttempts:    cfg.ResilienceRetryMaxAttempts,
		RetryInitialBackoff: time.Duration(cfg.ResilienceRetryInitialBackoff) * time.Millisecond,
		RetryMaxBackoff:     time.Duration(cfg.ResilienceRetryMaxBackoff) * time.Millisecond,
		BreakerEnabled:      cfg.ResilienceBreakerEnabled,
		BreakerMinRequests:  uint32(max(cfg.ResilienceBreakerMinRequests, 0)),
		BreakerFailureRatio: cfg.ResilienceBreakerFailureRatio,
		BreakerOpenTimeout:  time.Duration(cfg.ResilienceBreakerOpenTimeoutMS) * time.Millisecond,
	}
}

// Router builds the HTTP API over the wired use cases.
func (a *App) Router() *httpadapter.Router {
	return httpadapter.NewRouter(httpadapter.RouterDeps{
		Validator: a.Validator,
		Submitter: a.Submitter,
		Jobs:      a.Jobs,
		Results:   a.Jobs,
		Tracker:   a.Flow,
		Metrics:   a.HTTPMetrics,
		Logger:    a.Logger,
		Checks:    a.Checks,
		Options: httpadapter.Options{
			MaxUploadBytes:       a.Config.UploadMaxSizeBytes,
			RateLimitRPS:         a.Config.APIRateLimitRPS,
			RateLimitBurst:       a.Config.APIRateLimitBurst,
			MaxConcurrentUploads: a.Config.APIMaxConcurrentUploads,
		},
	})
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
