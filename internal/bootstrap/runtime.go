package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-checkout/pkg/config"
	"github.com/angelmondragon/marketplace-checkout/pkg/db"
	"github.com/angelmondragon/marketplace-checkout/pkg/logger"
	"github.com/angelmondragon/marketplace-checkout/pkg/metrics"
	"github.com/angelmondragon/marketplace-checkout/pkg/migrate"
	"github.com/angelmondragon/marketplace-checkout/pkg/pubsub"
	"github.com/angelmondragon/marketplace-checkout/pkg/redis"
)

type closer struct {
	name  string
	close func() error
}

// Runtime owns the process-wide resources of a checkout binary and closes
// them in reverse acquisition order.
type Runtime struct {
	Name    string
	Config  *config.Config
	Logger  *logger.Logger
	closers []closer
}

// Init loads .env and configuration, then builds the service logger.
func Init(name string) (*Runtime, error) {
	boot := logger.New(logger.Options{ServiceName: name})
	if err := godotenv.Load(); err != nil {
		boot.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		boot.Error(context.Background(), "failed to load config", err)
		return nil, err
	}
	cfg.Service.Kind = name

	return &Runtime{
		Name:   name,
		Config: cfg,
		Logger: logger.New(logger.Options{
			ServiceName: name,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			WarnStack:   cfg.App.LogWarnStack,
		}),
	}, nil
}

func (r *Runtime) onClose(name string, fn func() error) {
	r.closers = append(r.closers, closer{name: name, close: fn})
}

// Database connects to postgres and applies dev migrations when enabled.
func (r *Runtime) Database(ctx context.Context) (*db.Client, error) {
	client, err := db.New(ctx, r.Config.DB, r.Logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}
	r.onClose("database", client.Close)

	if err := migrate.MaybeRunDev(ctx, r.Config, r.Logger, client); err != nil {
		return nil, fmt.Errorf("run dev migrations: %w", err)
	}
	return client, nil
}

func (r *Runtime) Redis(ctx context.Context) (*redis.Client, error) {
	client, err := redis.New(ctx, r.Config.Redis, r.Logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}
	r.onClose("redis", client.Close)
	return client, nil
}

// PubSub connects to Pub/Sub. Consumers pass requireSubscriptions so a
// missing subscription fails startup instead of the first receive.
func (r *Runtime) PubSub(ctx context.Context, requireSubscriptions bool) (*pubsub.Client, error) {
	client, err := pubsub.NewClient(ctx, r.Config.GCP, r.Config.PubSub, requireSubscriptions, r.Logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap pubsub: %w", err)
	}
	r.onClose("pubsub client", client.Close)
	return client, nil
}

// SignalContext is cancelled on SIGINT or SIGTERM and carries the service
// log fields.
func (r *Runtime) SignalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = r.Logger.WithFields(ctx, map[string]any{
		"env":         r.Config.App.Env,
		"serviceKind": r.Config.Service.Kind,
	})
	return ctx, stop
}

// ServeMetrics exposes the default prometheus registry until ctx ends.
func (r *Runtime) ServeMetrics(ctx context.Context) {
	addr := r.Config.Service.MetricsAddr
	go func() {
		if err := metrics.Serve(ctx, addr, prometheus.DefaultGatherer); err != nil {
			r.Logger.Error(r.Logger.WithField(ctx, "addr", addr), "metrics listener stopped", err)
		}
	}()
}

func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if err := c.close(); err != nil {
			r.Logger.Error(context.Background(), "error closing "+c.name, err)
		}
	}
	r.closers = nil
}

// Fatal logs err, releases everything acquired so far and exits.
func (r *Runtime) Fatal(ctx context.Context, msg string, err error) {
	r.Logger.Error(ctx, msg, err)
	r.Close()
	os.Exit(1)
}
