// Package tax computes GST per order line. Tax applies only to deliveries
// inside India; intrastate lines split into CGST and SGST, interstate lines
// carry IGST.
package tax

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-checkout/internal/geo"
	"github.com/angelmondragon/marketplace-checkout/internal/taxrules"
	"github.com/angelmondragon/marketplace-checkout/pkg/config"
	"github.com/angelmondragon/marketplace-checkout/pkg/db/models"
	"github.com/angelmondragon/marketplace-checkout/pkg/money"
)

var two = decimal.NewFromInt(2)

// LineInput is one priced line. UnitPrice already includes any offer discount.
type LineInput struct {
	UnitPrice   decimal.Decimal
	Quantity    int
	GSTPercent  decimal.Decimal
	Country     string
	BuyerState  string
	SellerState string
}

// LineTax is the GST breakdown for one line. GSTAmount = CGST + SGST + IGST.
type LineTax struct {
	LineTotal  decimal.Decimal
	GSTPercent decimal.Decimal
	GSTAmount  decimal.Decimal
	CGST       decimal.Decimal
	SGST       decimal.Decimal
	IGST       decimal.Decimal
}

// Intrastate reports whether the line was split into CGST and SGST.
func (l LineTax) Intrastate() bool {
	return l.IGST.IsZero() && !l.CGST.IsZero()
}

// Calculator resolves rates and computes line taxes.
type Calculator struct {
	rules      taxrules.Lookup
	defaultPct decimal.Decimal
	homeState  string
}

func NewCalculator(rules taxrules.Lookup, cfg config.TaxConfig) (*Calculator, error) {
	if rules == nil {
		return nil, fmt.Errorf("tax rule lookup required")
	}
	if strings.TrimSpace(cfg.HomeState) == "" {
		return nil, fmt.Errorf("platform home state required")
	}
	pct := decimal.NewFromFloat(cfg.DefaultGSTPercent)
	if pct.IsNegative() || pct.GreaterThan(money.Hundred) {
		return nil, fmt.Errorf("default gst percent %s out of range", pct)
	}
	return &Calculator{
		rules:      rules,
		defaultPct: pct,
		homeState:  strings.TrimSpace(cfg.HomeState),
	}, nil
}

// HomeState is the platform's registered state.
func (c *Calculator) HomeState() string {
	return c.homeState
}

// ResolvePercent picks the product override, then the category rule, then the default.
func (c *Calculator) ResolvePercent(p models.Product) decimal.Decimal {
	if p.GSTPercent.Valid {
		return p.GSTPercent.Decimal
	}
	if p.Category != nil {
		if pct, ok := c.rules.GSTPercent(*p.Category); ok {
			return pct
		}
	}
	return c.defaultPct
}

// Line computes the tax on in. Destinations outside India are zero-rated.
func (c *Calculator) Line(in LineInput) LineTax {
	qty := in.Quantity
	if qty < 0 {
		qty = 0
	}
	lineTotal := money.Round2(in.UnitPrice.Mul(decimal.NewFromInt(int64(qty))))
	out := LineTax{
		LineTotal:  lineTotal,
		GSTPercent: decimal.Zero,
		GSTAmount:  decimal.Zero,
		CGST:       decimal.Zero,
		SGST:       decimal.Zero,
		IGST:       decimal.Zero,
	}
	if !geo.IsIndia(in.Country) {
		return out
	}

	out.GSTPercent = in.GSTPercent
	out.GSTAmount = money.RoundUnit(money.PercentOf(lineTotal, in.GSTPercent))
	if geo.SameState(in.BuyerState, in.SellerState) {
		half := money.Round2(out.GSTAmount.Div(two))
		out.CGST = half
		out.SGST = out.GSTAmount.Sub(half)
		return out
	}
	out.IGST = out.GSTAmount
	return out
}
