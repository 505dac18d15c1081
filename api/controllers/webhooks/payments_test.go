package webhooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-checkout/internal/orders"
	"github.com/angelmondragon/marketplace-checkout/pkg/db/models"
	"github.com/angelmondragon/marketplace-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-checkout/pkg/errors"
	"github.com/angelmondragon/marketplace-checkout/pkg/logger"
)

const testSecret = "whsec_test"

type stubPaymentService struct {
	confirmed *orders.PaymentConfirmation
	failedRef string
	reason    string
	err       error
}

func (s *stubPaymentService) ConfirmPayment(_ context.Context, in orders.PaymentConfirmation) (*models.Order, error) {
	s.confirmed = &in
	if s.err != nil {
		return nil, s.err
	}
	return &models.Order{ID: in.OrderID, Status: enums.OrderStatusPaid}, nil
}

func (s *stubPaymentService) MarkPaymentFailed(_ context.Context, orderID uuid.UUID, ref, reason string) (*models.Order, error) {
	s.failedRef = ref
	s.reason = reason
	if s.err != nil {
		return nil, s.err
	}
	return &models.Order{ID: orderID, Status: enums.OrderStatusFailed}, nil
}

func signedRequest(body, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	return req
}

func TestPaymentsCapturedConfirmsOrder(t *testing.T) {
	orderID := uuid.New()
	body := `{"order_id":"` + orderID.String() + `","status":"captured","payment_reference":"pay_123"}`
	svc := &stubPaymentService{}

	resp := httptest.NewRecorder()
	Payments(svc, testSecret, logger.Nop())(resp, signedRequest(body, Sign([]byte(body), testSecret)))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.confirmed == nil || svc.confirmed.OrderID != orderID || svc.confirmed.PaymentReference != "pay_123" {
		t.Fatalf("unexpected confirmation %+v", svc.confirmed)
	}
}

func TestPaymentsAcceptsPrefixedSignature(t *testing.T) {
	body := `{"order_id":"` + uuid.NewString() + `","status":"failed","payment_reference":"pay_9","reason":"card_declined"}`
	svc := &stubPaymentService{}

	resp := httptest.NewRecorder()
	Payments(svc, testSecret, logger.Nop())(resp, signedRequest(body, "sha256="+Sign([]byte(body), testSecret)))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.failedRef != "pay_9" || svc.reason != "card_declined" {
		t.Fatalf("expected failure recorded, got %q %q", svc.failedRef, svc.reason)
	}
}

func TestPaymentsRejectsBadSignature(t *testing.T) {
	body := `{"order_id":"` + uuid.NewString() + `","status":"captured","payment_reference":"pay_1"}`
	svc := &stubPaymentService{}

	for _, sig := range []string{"", "deadbeef", Sign([]byte(body), "other-secret")} {
		resp := httptest.NewRecorder()
		Payments(svc, testSecret, logger.Nop())(resp, signedRequest(body, sig))
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("signature %q: expected 401 got %d", sig, resp.Code)
		}
	}
	if svc.confirmed != nil {
		t.Fatalf("service should not run on unsigned payloads")
	}
}

func TestPaymentsRejectsUnknownStatus(t *testing.T) {
	body := `{"order_id":"` + uuid.NewString() + `","status":"refunded","payment_reference":"pay_1"}`
	resp := httptest.NewRecorder()
	Payments(&stubPaymentService{}, testSecret, logger.Nop())(resp, signedRequest(body, Sign([]byte(body), testSecret)))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestPaymentsSurfacesStockConflict(t *testing.T) {
	body := `{"order_id":"` + uuid.NewString() + `","status":"captured","payment_reference":"pay_1"}`
	svc := &stubPaymentService{err: pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock at payment confirmation")}

	resp := httptest.NewRecorder()
	Payments(svc, testSecret, logger.Nop())(resp, signedRequest(body, Sign([]byte(body), testSecret)))

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
}
