package checkout

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-checkout/api/middleware"
	"github.com/angelmondragon/marketplace-checkout/api/responses"
	"github.com/angelmondragon/marketplace-checkout/api/validators"
	"github.com/angelmondragon/marketplace-checkout/internal/orders"
	pkgerrors "github.com/angelmondragon/marketplace-checkout/pkg/errors"
	"github.com/angelmondragon/marketplace-checkout/pkg/logger"
	"github.com/angelmondragon/marketplace-checkout/pkg/types"
)

const idempotencyHeader = "Idempotency-Key"

type pricingService interface {
	Quote(ctx context.Context, req orders.PricingRequest) (*orders.Quote, error)
	Place(ctx context.Context, req orders.PricingRequest) (*orders.Placement, error)
}

type offerRequest struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

type itemRequest struct {
	ProductID uuid.UUID     `json:"product_id"`
	Quantity  int           `json:"quantity" validate:"min=1"`
	Size      *string       `json:"size,omitempty"`
	Color     *string       `json:"color,omitempty"`
	Offer     *offerRequest `json:"applied_offer,omitempty"`
}

type checkoutRequest struct {
	BuyerEmail string        `json:"buyer_email,omitempty" validate:"omitempty,email"`
	Address    types.Address `json:"address"`
	Country    string        `json:"country"`
	Items      []itemRequest `json:"items" validate:"required,min=1,dive"`
	PromoCode  string        `json:"promo_code,omitempty"`
}

// Quote prices a cart without persisting anything. Authentication is optional;
// a token's email wins over buyer_email in the body.
func Quote(svc pricingService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		req := payload.toPricingRequest()
		if email := middleware.EmailFromContext(r.Context()); email != "" {
			req.BuyerEmail = email
			req.BuyerUserID = middleware.UserIDFromContext(r.Context())
		}

		quote, err := svc.Quote(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, quote)
	}
}

// PlaceOrder commits a priced order for the authenticated buyer. A replayed
// Idempotency-Key answers 200 with the original order instead of 201.
func PlaceOrder(svc pricingService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		email := middleware.EmailFromContext(r.Context())
		if email == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer email missing from token"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		req := payload.toPricingRequest()
		req.BuyerEmail = email
		req.BuyerUserID = middleware.UserIDFromContext(r.Context())
		req.IdempotencyKey = validators.SanitizeString(r.Header.Get(idempotencyHeader), 255)

		placement, err := svc.Place(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if placement.Duplicate {
			responses.WriteSuccess(w, placement)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, placement)
	}
}

func (p checkoutRequest) toPricingRequest() orders.PricingRequest {
	items := make([]orders.CartItem, 0, len(p.Items))
	for _, item := range p.Items {
		line := orders.CartItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Size:      item.Size,
			Color:     item.Color,
		}
		if item.Offer != nil {
			line.Offer = &orders.AppliedOffer{
				ID:              strings.TrimSpace(item.Offer.ID),
				Title:           strings.TrimSpace(item.Offer.Title),
				DiscountPercent: item.Offer.DiscountPercent,
			}
		}
		items = append(items, line)
	}
	return orders.PricingRequest{
		BuyerEmail: strings.TrimSpace(p.BuyerEmail),
		Address:    p.Address,
		Country:    validators.SanitizeString(p.Country, 64),
		Items:      items,
		PromoCode:  validators.SanitizeString(p.PromoCode, 64),
	}
}
