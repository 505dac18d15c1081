package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected", detailsOK: true},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "order state does not allow this operation", detailsOK: true},
		{code: CodeIdempotency, status: http.StatusConflict, publicMsg: "idempotency key reused with a different request", detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesCauseAndDetails(t *testing.T) {
	cause := stdErrors.New("carrier timeout")
	err := Wrap(CodeDependency, cause, "create carrier order").WithDetails(map[string]any{"step": "create_order"})

	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be reachable")
	}
	if err.Error() != "DEPENDENCY_ERROR: create carrier order: carrier timeout" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	details, ok := err.Details().(map[string]any)
	if !ok || details["step"] != "create_order" {
		t.Fatalf("unexpected details %#v", err.Details())
	}
}

func TestHasCodeThroughFmtWrapping(t *testing.T) {
	inner := New(CodeConflict, "insufficient stock")
	outer := fmt.Errorf("place order: %w", inner)

	if !HasCode(outer, CodeConflict) {
		t.Fatalf("expected conflict code through wrapping")
	}
	if HasCode(outer, CodeValidation) {
		t.Fatalf("did not expect validation code")
	}
	if CodeOf(stdErrors.New("plain")) != CodeInternal {
		t.Fatalf("untyped errors should map to internal")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should be nil")
	}
}

func TestDumpCollectsChain(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeStateConflict, "order not pending"))
	dump := Dump(err)
	if dump.Code != CodeStateConflict {
		t.Fatalf("expected state conflict code, got %s", dump.Code)
	}
	if len(dump.Chain) != 2 {
		t.Fatalf("expected two chain entries, got %d", len(dump.Chain))
	}
}

func TestPublicMessageHidesInternalText(t *testing.T) {
	internal := Wrap(CodeInternal, stdErrors.New("pq: relation missing"), "load order")
	if got := internal.PublicMessage(); got != "internal server error" {
		t.Fatalf("expected generic message, got %q", got)
	}
	stock := Newf(CodeConflict, "insufficient stock for %s", "sku-1")
	if got := stock.PublicMessage(); got != "insufficient stock for sku-1" {
		t.Fatalf("expected caller message, got %q", got)
	}
	if got := New(CodeNotFound, "").PublicMessage(); got != "resource not found" {
		t.Fatalf("expected fallback message, got %q", got)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("fulfill: %w", New(CodeDependency, "carrier down"))) {
		t.Fatalf("dependency errors should be retryable")
	}
	if IsRetryable(New(CodeValidation, "bad")) {
		t.Fatalf("validation errors should not be retryable")
	}
	if IsRetryable(nil) {
		t.Fatalf("nil is not retryable")
	}
}

func TestDumpExtractsPostgresFields(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_orders_buyer_idempotency_key", TableName: "orders"}
	dump := Dump(fmt.Errorf("insert order: %w", pgErr))

	if dump.Postgres == nil || dump.Postgres.Code != "23505" {
		t.Fatalf("expected postgres fields, got %#v", dump.Postgres)
	}
	fields := dump.Fields()
	if fields["pg_constraint"] != "ux_orders_buyer_idempotency_key" {
		t.Fatalf("unexpected constraint field %v", fields["pg_constraint"])
	}
	if _, ok := fields["pg_column"]; ok {
		t.Fatalf("empty postgres fields should be omitted")
	}
	if !dump.Retryable {
		t.Fatalf("untyped errors dump as retryable internal errors")
	}
}

func TestDumpWithoutPostgresError(t *testing.T) {
	fields := Dump(New(CodeValidation, "bad")).Fields()
	if _, ok := fields["pg_code"]; ok {
		t.Fatalf("did not expect pg fields")
	}
	if fields["error_code"] != CodeValidation {
		t.Fatalf("unexpected code field %v", fields["error_code"])
	}
}
