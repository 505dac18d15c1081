package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-checkout/pkg/config"
	"github.com/angelmondragon/marketplace-checkout/pkg/db/models"
	"github.com/angelmondragon/marketplace-checkout/pkg/enums"
	"github.com/angelmondragon/marketplace-checkout/pkg/logger"
	"github.com/angelmondragon/marketplace-checkout/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond

	reasonNonRetryable = "non_retryable"
	reasonMaxAttempts  = "max_attempts"
)

type outcome string

const (
	outcomePublished outcome = "published"
	outcomeRetry     outcome = "retry"
	outcomeParked    outcome = "parked"
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type outboxObserver interface {
	ObserveBatch(size int)
	IncOutcome(eventType, outcome string)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	Metrics          outboxObserver
}

// Service relays committed outbox rows to Pub/Sub. Rows are locked for the
// duration of one batch transaction, so several replicas can run side by side.
type Service struct {
	logg             *logger.Logger
	db               dbClient
	repo             outboxRepository
	pubsub           pubSubClient
	registry         registryResolver
	publisherFactory publisherFactory
	metrics          outboxObserver
	batchSize        int
	maxAttempts      int
	pollInterval     time.Duration
	publishTimeout   time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = gcpPublisherFactory(params.PubSub)
	}

	cfg := params.Config.Outbox
	svc := &Service{
		logg:             params.Logger,
		db:               params.DB,
		repo:             params.Repository,
		pubsub:           params.PubSub,
		registry:         params.Registry,
		publisherFactory: factory,
		metrics:          params.Metrics,
		batchSize:        cfg.BatchSize,
		maxAttempts:      cfg.MaxAttempts,
		pollInterval:     time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		publishTimeout:   defaultPublishTimeout,
	}
	if svc.batchSize <= 0 {
		svc.batchSize = defaultBatchSize
	}
	if svc.maxAttempts <= 0 {
		svc.maxAttempts = defaultMaxAttempts
	}
	if svc.pollInterval <= 0 {
		svc.pollInterval = defaultPollInterval
	}
	return svc, nil
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// the next one; an empty or partial batch waits one poll interval; a failed
// batch backs off exponentially.
func (s *Service) Run(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{
		"database": s.db.Ping,
		"pubsub":   s.pubsub.Ping,
	} {
		if err := ping(ctx); err != nil {
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}

	var delay time.Duration
	failures := 0
	for {
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}

		handled, err := s.processBatch(ctx)
		switch {
		case err != nil:
			failures++
			delay = withJitter(backoffFor(failures, s.pollInterval, maxBackoff))
			s.logg.Error(s.logg.WithFields(ctx, map[string]any{
				"consecutive_failures": failures,
				"retry_in_ms":          delay.Milliseconds(),
			}), "outbox publisher batch failed", err)
		case handled >= s.batchSize:
			failures = 0
			delay = 0
		default:
			failures = 0
			delay = withJitter(s.pollInterval)
		}
	}
}

type inflight struct {
	event    models.OutboxEvent
	resolved *registry.ResolvedEvent
	result   publishResult
	err      error
}

// processBatch claims one batch, starts every publish before waiting on any
// result, then settles each row inside the same transaction. It returns the
// number of rows claimed.
func (s *Service) processBatch(ctx context.Context) (int, error) {
	handled := 0
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox batch: %w", err)
		}
		handled = len(events)
		if handled == 0 {
			return nil
		}
		if s.metrics != nil {
			s.metrics.ObserveBatch(handled)
		}

		flights := make([]*inflight, 0, len(events))
		for _, event := range events {
			f := &inflight{event: event}
			f.resolved, f.err = s.registry.Resolve(event)
			if f.err == nil {
				f.result, f.err = s.startPublish(ctx, event, f.resolved)
			}
			flights = append(flights, f)
		}

		waitCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
		defer cancel()
		for _, f := range flights {
			if f.err == nil {
				_, f.err = f.result.Get(waitCtx)
			}
			result, err := s.settle(ctx, tx, f)
			if err != nil {
				return err
			}
			if s.metrics != nil {
				s.metrics.IncOutcome(string(f.event.EventType), string(result))
			}
		}
		return nil
	})
	return handled, err
}

func (s *Service) settle(ctx context.Context, tx *gorm.DB, f *inflight) (outcome, error) {
	fields := eventFields(f.event, f.resolved)
	id := f.event.ID

	if f.err == nil {
		if err := s.repo.MarkPublishedTx(tx, id); err != nil {
			return "", fmt.Errorf("mark published %s: %w", id, err)
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event published")
		return outcomePublished, nil
	}

	nextAttempt := f.event.AttemptCount + 1
	fields["attempt_count"] = nextAttempt
	switch {
	case permanentPublishError(f.err):
		return outcomeParked, s.park(ctx, tx, id, reasonNonRetryable, f.err, fields)
	case nextAttempt >= s.maxAttempts:
		return outcomeParked, s.park(ctx, tx, id, reasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", f.err), fields)
	}

	s.logg.Warn(s.logg.WithFields(ctx, withError(fields, f.err)), "outbox publish failed, will retry")
	if err := s.repo.MarkFailedTx(tx, id, f.err); err != nil {
		return "", fmt.Errorf("mark failure %s: %w", id, err)
	}
	return outcomeRetry, nil
}

// park sets terminal_at so the row stops being fetched. The payload stays in
// outbox_events for manual replay.
func (s *Service) park(ctx context.Context, tx *gorm.DB, id uuid.UUID, reason string, cause error, fields map[string]any) error {
	fields["terminal_reason"] = reason
	s.logg.Warn(s.logg.WithFields(ctx, withError(fields, cause)), "outbox event parked")
	if err := s.repo.MarkTerminalTx(tx, id, cause); err != nil {
		return fmt.Errorf("mark terminal %s: %w", id, err)
	}
	return nil
}

func eventFields(event models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if event.AggregateType == enums.AggregateOrder {
		fields["order_id"] = event.AggregateID.String()
	}
	if resolved != nil {
		fields["topic"] = resolved.Descriptor.Topic
		if resolved.Envelope.EventID != "" {
			fields["event_id"] = resolved.Envelope.EventID
		}
	}
	return fields
}

func withError(fields map[string]any, err error) map[string]any {
	fields["error"] = err.Error()
	return fields
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffFor doubles base once per consecutive failure, capped at max.
func backoffFor(failures int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < failures && d < max; i++ {
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}
