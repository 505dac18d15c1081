package fulfillment

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/marketplace-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-checkout/pkg/errors"
	"github.com/angelmondragon/marketplace-checkout/pkg/logger"
	"github.com/angelmondragon/marketplace-checkout/pkg/outbox/idempotency"
	"github.com/angelmondragon/marketplace-checkout/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-checkout/pkg/outbox/registry"
)

const consumerName = "fulfillment-splitter"

type fulfiller interface {
	Fulfill(ctx context.Context, in FulfillInput) (*FulfillResult, error)
}

type envelopeDecoder interface {
	DecodeEnvelope(eventType enums.OutboxEventType, body []byte) (*registry.ResolvedEvent, error)
}

type claimRunner interface {
	Run(ctx context.Context, consumer, eventID string, fn func(context.Context) error) error
}

// Consumer fulfills orders as their order_paid events arrive.
type Consumer struct {
	svc          fulfiller
	subscription *pubsub.Subscriber
	decoder      envelopeDecoder
	idempotency  claimRunner
	logg         *logger.Logger
}

func NewConsumer(svc fulfiller, subscription *pubsub.Subscriber, decoder envelopeDecoder, manager claimRunner, logg *logger.Logger) (*Consumer, error) {
	if svc == nil {
		return nil, fmt.Errorf("fulfillment service required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("fulfillment subscription required")
	}
	if decoder == nil {
		return nil, fmt.Errorf("event registry required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		svc:          svc,
		subscription: subscription,
		decoder:      decoder,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run receives messages until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.handle(ctx, msg.ID, msg.Attributes, msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// handle reports whether the message should be acked. Failed partitions nack
// so redelivery retries them; partitions already shipped are skipped then.
// When every failure is permanent the event is acked and the partitions wait
// for the fulfillment endpoint.
func (c *Consumer) handle(ctx context.Context, messageID string, attrs map[string]string, data []byte) bool {
	eventType := attrs["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	})
	if eventType != string(enums.EventOrderPaid) {
		return true
	}

	resolved, err := c.decoder.DecodeEnvelope(enums.EventOrderPaid, data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode order_paid event", err)
		return true
	}
	payload, ok := resolved.Payload.(*payloads.OrderPaidEvent)
	if !ok {
		c.logg.Error(logCtx, "unexpected order_paid payload", fmt.Errorf("got %T", resolved.Payload))
		return true
	}
	logCtx = c.logg.WithOrderID(logCtx, payload.OrderID.String())

	err = c.idempotency.Run(logCtx, consumerName, resolved.Envelope.EventID, func(ctx context.Context) error {
		result, err := c.svc.Fulfill(ctx, FulfillInput{OrderID: payload.OrderID})
		if err != nil {
			if pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) || pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
				c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "order not fulfillable, dropping event")
				return nil
			}
			return err
		}
		if len(result.Failed) == 0 {
			return nil
		}
		if allPermanent(result.Failed) {
			c.logg.Warn(c.logg.WithField(ctx, "failed", len(result.Failed)), "seller partitions need operator action, not retrying")
			return nil
		}
		return fmt.Errorf("%d seller partitions failed", len(result.Failed))
	})
	switch {
	case err == nil:
		return true
	case errors.Is(err, idempotency.ErrAlreadyProcessed):
		c.logg.Info(logCtx, "event already processed")
		return true
	default:
		c.logg.Error(logCtx, "fulfillment attempt failed, will retry", err)
		return false
	}
}

func allPermanent(failures []PartitionFailure) bool {
	for _, f := range failures {
		if !f.Permanent() {
			return false
		}
	}
	return true
}
