// Package promo evaluates a single promotional code against a cart total and
// records redemptions. Ineligible codes are never errors; they simply yield
// no discount.
package promo

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-checkout/internal/geo"
	"github.com/angelmondragon/marketplace-checkout/pkg/db/models"
	"github.com/angelmondragon/marketplace-checkout/pkg/enums"
	"github.com/angelmondragon/marketplace-checkout/pkg/logger"
	"github.com/angelmondragon/marketplace-checkout/pkg/money"
)

// CodeLength is the exact length of a well-formed code.
const CodeLength = 10

const defaultPerUserLimit = 1

// Outcome labels why an evaluation did or did not apply.
type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomeNone            Outcome = "none"
	OutcomeMalformed       Outcome = "malformed"
	OutcomeUnknown         Outcome = "unknown"
	OutcomeInactive        Outcome = "inactive"
	OutcomeNotStarted      Outcome = "not_started"
	OutcomeExpired         Outcome = "expired"
	OutcomeExhausted       Outcome = "exhausted"
	OutcomeBuyerExhausted  Outcome = "buyer_exhausted"
	OutcomeCountryMismatch Outcome = "country_mismatch"
)

type outcomeRecorder interface {
	IncPromo(outcome string)
}

// EvaluateInput is the cart context a code is checked against.
type EvaluateInput struct {
	Code             string
	BuyerEmail       string
	Country          string
	PreDiscountTotal decimal.Decimal
	Now              time.Time
}

// Applied is a code that passed every check, with its computed discount.
type Applied struct {
	PromoID  uuid.UUID
	Code     string
	Type     enums.PromoType
	Value    decimal.Decimal
	Discount decimal.Decimal
}

type Engine struct {
	repo    Repository
	logg    *logger.Logger
	metrics outcomeRecorder
}

func NewEngine(repo Repository, logg *logger.Logger, metrics outcomeRecorder) (*Engine, error) {
	if repo == nil {
		return nil, fmt.Errorf("promo repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Engine{repo: repo, logg: logg, metrics: metrics}, nil
}

// NormalizeCode trims and upper-cases raw. ok is false unless the result is
// exactly CodeLength ASCII letters or digits.
func NormalizeCode(raw string) (string, bool) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != CodeLength {
		return "", false
	}
	for _, r := range code {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return "", false
		}
	}
	return code, true
}

// Evaluate returns the applied promo or nil. Only storage failures are errors.
func (e *Engine) Evaluate(ctx context.Context, in EvaluateInput) (*Applied, error) {
	applied, outcome, err := e.evaluate(ctx, in)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.IncPromo(string(outcome))
	}
	if outcome != OutcomeApplied && outcome != OutcomeNone {
		e.logg.Info(e.logg.WithFields(ctx, map[string]any{
			"promo_code": strings.TrimSpace(in.Code),
			"outcome":    string(outcome),
		}), "promo code not applied")
	}
	return applied, nil
}

func (e *Engine) evaluate(ctx context.Context, in EvaluateInput) (*Applied, Outcome, error) {
	if strings.TrimSpace(in.Code) == "" {
		return nil, OutcomeNone, nil
	}
	code, ok := NormalizeCode(in.Code)
	if !ok {
		return nil, OutcomeMalformed, nil
	}

	promo, err := e.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("load promo %s: %w", code, err)
	}
	if promo == nil {
		return nil, OutcomeUnknown, nil
	}
	if !promo.Active {
		return nil, OutcomeInactive, nil
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if promo.StartsAt != nil && now.Before(*promo.StartsAt) {
		return nil, OutcomeNotStarted, nil
	}
	if promo.EndsAt != nil && now.After(*promo.EndsAt) {
		return nil, OutcomeExpired, nil
	}
	if promo.MaxRedemptions != nil && promo.UsageCount >= *promo.MaxRedemptions {
		return nil, OutcomeExhausted, nil
	}

	buyer := strings.TrimSpace(in.BuyerEmail)
	if buyer != "" {
		limit := defaultPerUserLimit
		if promo.MaxRedemptionsPerUser != nil {
			limit = *promo.MaxRedemptionsPerUser
		}
		used, err := e.repo.CountBuyerUsages(ctx, promo.ID, buyer)
		if err != nil {
			return nil, "", fmt.Errorf("count promo usages: %w", err)
		}
		if used >= int64(limit) {
			return nil, OutcomeBuyerExhausted, nil
		}
	}

	if promo.Country != nil && strings.TrimSpace(*promo.Country) != "" {
		if geo.NormalizeCountry(*promo.Country) != geo.NormalizeCountry(in.Country) {
			return nil, OutcomeCountryMismatch, nil
		}
	}

	return &Applied{
		PromoID:  promo.ID,
		Code:     promo.Code,
		Type:     promo.Type,
		Value:    promo.Value,
		Discount: Discount(promo.Type, promo.Value, in.PreDiscountTotal),
	}, OutcomeApplied, nil
}

// Discount computes the discount for a code type and value. Percent values are
// clamped to [0,100] and rounded to whole units; flat values are floored. The
// result never exceeds total and is never negative.
func Discount(kind enums.PromoType, value, total decimal.Decimal) decimal.Decimal {
	total = money.NonNegative(total)
	var d decimal.Decimal
	switch kind {
	case enums.PromoTypePercent:
		d = money.RoundUnit(money.PercentOf(total, money.ClampPercent(value)))
	case enums.PromoTypeFlat:
		d = value.Floor()
	default:
		return decimal.Zero
	}
	return money.Min(money.NonNegative(d), total)
}

// Redeem writes the usage row and bumps the usage counter inside tx.
func (e *Engine) Redeem(ctx context.Context, tx *gorm.DB, applied *Applied, buyerEmail string, orderID uuid.UUID) error {
	if applied == nil {
		return nil
	}
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	repo := e.repo.WithTx(tx)
	usage := &models.PromoCodeUsage{
		PromoCodeID: applied.PromoID,
		Code:        applied.Code,
		BuyerEmail:  strings.ToLower(strings.TrimSpace(buyerEmail)),
		OrderID:     orderID,
		Discount:    applied.Discount,
	}
	if err := repo.CreateUsage(ctx, usage); err != nil {
		return fmt.Errorf("record promo usage: %w", err)
	}
	if err := repo.IncrementUsage(ctx, applied.PromoID); err != nil {
		return fmt.Errorf("increment promo usage: %w", err)
	}
	return nil
}
