package orders

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-checkout/internal/geo"
	"github.com/angelmondragon/marketplace-checkout/internal/promo"
	"github.com/angelmondragon/marketplace-checkout/internal/sellers"
	"github.com/angelmondragon/marketplace-checkout/internal/tax"
	"github.com/angelmondragon/marketplace-checkout/pkg/db/models"
	"github.com/angelmondragon/marketplace-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-checkout/pkg/errors"
	"github.com/angelmondragon/marketplace-checkout/pkg/money"
)

type pricedCart struct {
	quote   *Quote
	items   []models.OrderItem
	applied *promo.Applied
}

// price computes every amount for req. It has no side effects, so Quote and
// Place share it and a dry run always matches the committed totals.
func (s *service) price(ctx context.Context, req PricingRequest, products map[uuid.UUID]models.Product) (*pricedCart, error) {
	country := destinationCountry(req)
	resolver := s.calc.NewSellerStateResolver(s.sellers)

	quote := &Quote{
		Country:     country,
		Subtotal:    decimal.Zero,
		TaxTotal:    decimal.Zero,
		DeliveryFee: money.Round2(decimal.NewFromFloat(s.cfg.DeliveryFee)),
		Discount:    decimal.Zero,
		Items:       make([]QuotedItem, 0, len(req.Items)),
	}
	items := make([]models.OrderItem, 0, len(req.Items))

	for _, line := range req.Items {
		product := products[line.ProductID]
		sellerState, err := resolver.Resolve(ctx, product)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve seller state")
		}

		offerPct := decimal.Zero
		if line.Offer != nil {
			offerPct = money.ClampPercent(line.Offer.DiscountPercent)
		}
		unitPrice := money.Round2(product.Price.Sub(money.PercentOf(product.Price, offerPct)))

		lineTax := s.calc.Line(tax.LineInput{
			UnitPrice:   unitPrice,
			Quantity:    line.Quantity,
			GSTPercent:  s.calc.ResolvePercent(product),
			Country:     country,
			BuyerState:  req.Address.State,
			SellerState: sellerState,
		})

		quoted := QuotedItem{
			ProductID:            product.ID,
			Name:                 product.Name,
			SellerKey:            sellers.KeyFor(product),
			Quantity:             line.Quantity,
			ListPrice:            product.Price,
			OfferDiscountPercent: offerPct,
			UnitPrice:            unitPrice,
			LineTotal:            lineTax.LineTotal,
			GSTPercent:           lineTax.GSTPercent,
			GSTAmount:            lineTax.GSTAmount,
			CGST:                 lineTax.CGST,
			SGST:                 lineTax.SGST,
			IGST:                 lineTax.IGST,
			Stock:                product.Stock,
			Size:                 line.Size,
			Color:                line.Color,
		}
		quote.Items = append(quote.Items, quoted)
		quote.Subtotal = quote.Subtotal.Add(lineTax.LineTotal)
		quote.TaxTotal = quote.TaxTotal.Add(lineTax.GSTAmount)
		items = append(items, orderItemFrom(quoted, line.Offer))
	}

	quote.TotalBeforeDiscount = money.Round2(quote.Subtotal.Add(quote.TaxTotal).Add(quote.DeliveryFee))

	applied, err := s.promos.Evaluate(ctx, promo.EvaluateInput{
		Code:             req.PromoCode,
		BuyerEmail:       sellers.NormalizeEmail(req.BuyerEmail),
		Country:          country,
		PreDiscountTotal: quote.TotalBeforeDiscount,
		Now:              s.now(),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "evaluate promo code")
	}
	if applied != nil {
		quote.Discount = money.Min(applied.Discount, quote.TotalBeforeDiscount)
		quote.Promo = &PromoBreakdown{
			Code:     applied.Code,
			Type:     applied.Type,
			Value:    applied.Value,
			Discount: quote.Discount,
		}
	}
	quote.Total = money.Round2(quote.TotalBeforeDiscount.Sub(quote.Discount))

	return &pricedCart{quote: quote, items: items, applied: applied}, nil
}

// destinationCountry prefers the explicit request country over the address.
func destinationCountry(req PricingRequest) string {
	if strings.TrimSpace(req.Country) != "" {
		return geo.NormalizeCountry(req.Country)
	}
	return geo.NormalizeCountry(req.Address.Country)
}

func orderItemFrom(q QuotedItem, offer *AppliedOffer) models.OrderItem {
	item := models.OrderItem{
		ProductID:            q.ProductID,
		SellerKey:            q.SellerKey,
		Name:                 q.Name,
		Quantity:             q.Quantity,
		ListPrice:            q.ListPrice,
		UnitPrice:            q.UnitPrice,
		OfferDiscountPercent: q.OfferDiscountPercent,
		Size:                 q.Size,
		Color:                q.Color,
		LineTotal:            q.LineTotal,
		GSTPercent:           q.GSTPercent,
		GSTAmount:            q.GSTAmount,
		CGST:                 q.CGST,
		SGST:                 q.SGST,
		IGST:                 q.IGST,
	}
	if offer != nil {
		if id := strings.TrimSpace(offer.ID); id != "" {
			item.OfferID = &id
		}
		if title := strings.TrimSpace(offer.Title); title != "" {
			item.OfferTitle = &title
		}
	}
	return item
}

func buildOrder(req PricingRequest, buyer, key string, priced *pricedCart, now time.Time) *models.Order {
	id := uuid.New()
	quote := priced.quote
	order := &models.Order{
		ID:                  id,
		OrderNumber:         OrderNumber(id, now),
		BuyerEmail:          buyer,
		ShippingAddress:     req.Address,
		Country:             quote.Country,
		Subtotal:            quote.Subtotal,
		TaxTotal:            quote.TaxTotal,
		DeliveryFee:         quote.DeliveryFee,
		TotalBeforeDiscount: quote.TotalBeforeDiscount,
		PromoDiscount:       quote.Discount,
		Amount:              quote.Total,
		ItemCount:           len(priced.items),
		Status:              enums.OrderStatusPending,
		Items:               priced.items,
	}
	if userID := strings.TrimSpace(req.BuyerUserID); userID != "" {
		order.BuyerUserID = &userID
	}
	if key != "" {
		order.IdempotencyKey = &key
	}
	if priced.applied != nil {
		code := priced.applied.Code
		kind := priced.applied.Type
		order.PromoCode = &code
		order.PromoType = &kind
		order.PromoValue = decimal.NewNullDecimal(priced.applied.Value)
	}
	return order
}
