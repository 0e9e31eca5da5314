package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AshkanYarmoradi/orderstream"
	"github.com/AshkanYarmoradi/orderstream/adapters"
	"github.com/AshkanYarmoradi/orderstream/adapters/memory"
	"github.com/AshkanYarmoradi/orderstream/adapters/postgres"
	"github.com/AshkanYarmoradi/orderstream/adapters/redis"
	"github.com/AshkanYarmoradi/orderstream/adapters/sqlite"
	"github.com/AshkanYarmoradi/orderstream/cli/config"
	"github.com/AshkanYarmoradi/orderstream/integration/kafka"
	"github.com/AshkanYarmoradi/orderstream/integration/sns"
	"github.com/AshkanYarmoradi/orderstream/middleware/metrics"
	"github.com/AshkanYarmoradi/orderstream/middleware/tracing"
	"github.com/AshkanYarmoradi/orderstream/serializer/msgpack"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath  string
	noColor     bool
	traceStdout bool
	showMetrics bool
}

// awsCredentials is read from the standard AWS environment variables.
type awsCredentials struct {
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
}

// app is the fully wired order system used by a single CLI invocation.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *orderstream.EventStore
	projection  *orderstream.Projection
	service     *orderstream.OrderService
	maintenance *orderstream.Maintenance
	metrics     *metrics.Metrics
	registry    *prometheus.Registry

	closers []func() error
}

// loadConfig reads the file named by path, or searches for orderstream.yaml
// from the working directory upward, then applies environment overrides.
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if err := cfg.ApplyEnv(); err != nil {
			return nil, err
		}
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		cfg, err = config.Resolve(cwd)
		if err != nil {
			return nil, err
		}
	}

	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

// openApp builds the event store, projection, service and listeners from
// configuration. Close releases everything it opened.
func openApp(ctx context.Context, opts *globalOptions, errOut io.Writer) (*app, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	logger, logCloser := config.NewLogger(cfg.Logging, errOut)
	a.logger = logger
	a.closers = append(a.closers, logCloser.Close)

	adapter, db, err := openAdapter(ctx, cfg.Database)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	projStore, err := openProjectionStore(cfg, db)
	if err != nil {
		_ = adapter.Close()
		_ = a.Close()
		return nil, err
	}
	if closer, ok := projStore.(io.Closer); ok {
		a.closers = append(a.closers, closer.Close)
	}

	var tracer *tracing.Tracer
	if opts.traceStdout || cfg.Tracing.Stdout {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(errOut), stdouttrace.WithPrettyPrint())
		if err != nil {
			_ = adapter.Close()
			_ = a.Close()
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
		a.closers = append(a.closers, func() error { return tp.Shutdown(context.Background()) })

		tracer = tracing.NewTracer(tracing.WithTracerProvider(tp))
		adapter = tracing.NewAdapterMiddleware(adapter, tracer)
		projStore = tracing.NewProjectionStoreMiddleware(projStore, tracer)
	}

	a.metrics = metrics.New()
	a.registry = prometheus.NewRegistry()
	if err := a.metrics.Register(a.registry); err != nil {
		_ = adapter.Close()
		_ = a.Close()
		return nil, err
	}
	instrumented := a.metrics.WrapAdapter(adapter)

	storeOpts := []orderstream.Option{orderstream.WithLogger(orderstream.NewSlogLogger(logger))}
	if cfg.Serializer == config.SerializerMsgpack {
		storeOpts = append(storeOpts, orderstream.WithSerializer(msgpack.NewSerializer()))
	}
	a.store = orderstream.New(instrumented, storeOpts...)
	a.closers = append(a.closers, a.store.Close)

	a.projection = orderstream.NewProjection(projStore, a.store,
		orderstream.WithProjectionLogger(orderstream.NewSlogLogger(logger)),
		orderstream.WithProjectionMetrics(a.metrics),
		orderstream.WithRebuildConcurrency(cfg.Projection.RebuildConcurrency),
	)

	listeners, err := a.listeners()
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	middleware := []orderstream.Middleware{
		orderstream.RecoveryMiddleware(),
		orderstream.CorrelationIDMiddleware(nil),
		orderstream.NewLoggingMiddleware(orderstream.NewSlogLogger(logger)).Middleware(),
		a.metrics.CommandMiddleware(),
	}
	if tracer != nil {
		middleware = append(middleware, tracing.CommandMiddleware(tracer))
	}

	a.service = orderstream.NewOrderService(a.store, a.projection,
		orderstream.WithServiceLogger(orderstream.NewSlogLogger(logger)),
		orderstream.WithListeners(listeners...),
		orderstream.WithMiddleware(middleware...),
	)
	a.maintenance = orderstream.NewMaintenance(a.store, a.projection,
		orderstream.WithMaintenanceLogger(orderstream.NewSlogLogger(logger)))

	if err := a.initialize(ctx, projStore); err != nil {
		_ = a.Close()
		return nil, err
	}

	return a, nil
}

// openAdapter opens the event store adapter for the configured driver. The
// returned *sql.DB is shared with database-backed projection stores and is
// nil for the memory driver.
func openAdapter(ctx context.Context, cfg config.DatabaseConfig) (adapters.EventStoreAdapter, *sql.DB, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.NewAdapter(), nil, nil

	case config.DriverSQLite:
		adapter, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return adapter, adapter.DB(), nil

	case config.DriverPostgres:
		var opts []postgres.Option
		if cfg.Schema != "" {
			opts = append(opts, postgres.WithSchema(cfg.Schema))
		}
		adapter, err := postgres.NewAdapter(cfg.URL, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create postgres adapter: %w", err)
		}

		// Fail fast on unreachable databases.
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := adapter.Ping(pingCtx); err != nil {
			_ = adapter.Close()
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return adapter, adapter.DB(), nil

	default:
		return nil, nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

func openProjectionStore(cfg *config.Config, db *sql.DB) (adapters.ProjectionStore, error) {
	if cfg.Projection.Backend == config.BackendRedis {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.Projection.RedisAddr})
		return redis.NewProjectionStore(client, redis.WithPrefix(cfg.Projection.RedisPrefix)), nil
	}

	switch cfg.Database.Driver {
	case config.DriverMemory:
		return memory.NewProjectionStore(), nil
	case config.DriverSQLite:
		return sqlite.NewProjectionStore(db), nil
	case config.DriverPostgres:
		var opts []postgres.ProjectionOption
		if cfg.Database.Schema != "" {
			opts = append(opts, postgres.WithProjectionSchema(cfg.Database.Schema))
		}
		return postgres.NewProjectionStore(db, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}

// listeners builds the post-commit listeners enabled by configuration.
func (a *app) listeners() ([]orderstream.EventListener, error) {
	var listeners []orderstream.EventListener

	if len(a.cfg.Kafka.Brokers) > 0 {
		publisher := kafka.New(
			kafka.WithBrokers(a.cfg.Kafka.Brokers...),
			kafka.WithTopic(a.cfg.Kafka.Topic),
		)
		a.closers = append(a.closers, publisher.Close)
		listeners = append(listeners, publisher)
	}

	if a.cfg.Notifications.SNSTopicARN != "" {
		var creds awsCredentials
		if err := env.Parse(&creds); err != nil {
			return nil, fmt.Errorf("parse env: %w", err)
		}
		client := sns.NewClient(a.cfg.Notifications.Region, a.cfg.Notifications.Endpoint,
			sns.StaticCredentials(creds.AccessKeyID, creds.SecretAccessKey))
		notifier := sns.New(sns.WithSNSClient(client), sns.WithTopicARN(a.cfg.Notifications.SNSTopicARN))
		listeners = append(listeners, orderstream.NewNotificationListener(notifier))
	}

	return listeners, nil
}

// initialize creates the event table and, for database-backed projection
// stores, the projection table. Both are idempotent.
func (a *app) initialize(ctx context.Context, projStore adapters.ProjectionStore) error {
	if err := a.store.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize event store: %w", err)
	}
	if initializer, ok := projStore.(interface{ Initialize(context.Context) error }); ok {
		if err := initializer.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize projection store: %w", err)
		}
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && !errors.Is(err, adapters.ErrAdapterClosed) {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// writeMetrics prints every collected sample in a compact name{labels} value form.
func writeMetrics(w io.Writer, registry *prometheus.Registry) error {
	families, err := registry.Gather()
	if err != nil {
		return err
	}

	var lines []string
	for _, family := range families {
		for _, m := range family.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
			}
			name := family.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}

			switch {
			case m.GetCounter() != nil:
				lines = append(lines, fmt.Sprintf("%s %g", name, m.GetCounter().GetValue()))
			case m.GetGauge() != nil:
				lines = append(lines, fmt.Sprintf("%s %g", name, m.GetGauge().GetValue()))
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				lines = append(lines, fmt.Sprintf("%s count=%d sum=%g", name, h.GetSampleCount(), h.GetSampleSum()))
			}
		}
	}
	sort.Strings(lines)

	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
