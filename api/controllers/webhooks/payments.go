package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-checkout/api/responses"
	"github.com/angelmondragon/marketplace-checkout/api/validators"
	"github.com/angelmondragon/marketplace-checkout/internal/orders"
	"github.com/angelmondragon/marketplace-checkout/pkg/db/models"
	"github.com/angelmondragon/marketplace-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-checkout/pkg/errors"
	"github.com/angelmondragon/marketplace-checkout/pkg/logger"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body,
// optionally prefixed with "sha256=".
const SignatureHeader = "X-Payment-Signature"

const maxWebhookBody = 64 << 10

type PaymentService interface {
	ConfirmPayment(ctx context.Context, in orders.PaymentConfirmation) (*models.Order, error)
	MarkPaymentFailed(ctx context.Context, orderID uuid.UUID, paymentReference, reason string) (*models.Order, error)
}

type paymentEvent struct {
	OrderID          uuid.UUID           `json:"order_id"`
	Status           enums.PaymentStatus `json:"status" validate:"required,oneof=captured failed"`
	PaymentReference string              `json:"payment_reference" validate:"required"`
	Reason           string              `json:"reason,omitempty"`
	ConfirmedAt      *time.Time          `json:"confirmed_at,omitempty"`
}

// Payments applies a payment provider callback to its order.
func Payments(svc PaymentService, secret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		if secret == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment webhook secret not configured"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := strings.TrimSpace(r.Header.Get(SignatureHeader))
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "payment signature missing"))
			return
		}
		if !validSignature(payload, sigHeader, secret) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "payment signature invalid"))
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(payload))
		var event paymentEvent
		if err := validators.DecodeJSONBody(r, &event); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if event.OrderID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order_id required"))
			return
		}

		ctx = logg.WithFields(logg.WithOrderID(ctx, event.OrderID.String()), map[string]any{
			"payment_status":    event.Status,
			"payment_reference": event.PaymentReference,
		})

		var order *models.Order
		switch event.Status {
		case enums.PaymentStatusCaptured:
			in := orders.PaymentConfirmation{OrderID: event.OrderID, PaymentReference: event.PaymentReference}
			if event.ConfirmedAt != nil {
				in.ConfirmedAt = *event.ConfirmedAt
			}
			order, err = svc.ConfirmPayment(ctx, in)
		default:
			order, err = svc.MarkPaymentFailed(ctx, event.OrderID, event.PaymentReference, event.Reason)
		}
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		logg.Info(ctx, "payment webhook processed")
		responses.WriteSuccess(w, map[string]any{
			"order_id": order.ID,
			"status":   order.Status,
		})
	}
}

// Sign returns the signature header value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(body []byte, header, secret string) bool {
	header = strings.TrimPrefix(header, "sha256=")
	got, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
