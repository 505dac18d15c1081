package enums

import (
	"fmt"
	"strings"
)

// PromoType selects how a promo code's value is applied.
type PromoType string

const (
	PromoTypePercent PromoType = "percent"
	PromoTypeFlat    PromoType = "flat"
)

var validPromoTypes = []PromoType{PromoTypePercent, PromoTypeFlat}

func (p PromoType) String() string {
	return string(p)
}

func (p PromoType) IsValid() bool {
	for _, candidate := range validPromoTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePromoType accepts the stored value case-insensitively.
func ParsePromoType(value string) (PromoType, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validPromoTypes {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid promo type %q", value)
}
