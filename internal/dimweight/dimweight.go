// Package dimweight converts product dimensions into courier-chargeable
// weight. Chargeable weight is the greater of actual and volumetric weight and
// is only meaningful for a whole shipment, never a single line.
package dimweight

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-checkout/pkg/db/models"
)

// VolumetricDivisor converts cubic centimetres to kilograms.
var VolumetricDivisor = decimal.NewFromInt(5000)

// AssumedDepth is used, in the item's own dimension unit, when length is not tracked.
var AssumedDepth = decimal.NewFromInt(10)

var weightToKg = map[string]decimal.Decimal{
	"kg": decimal.NewFromInt(1),
	"g":  decimal.New(1, -3),
	"mg": decimal.New(1, -6),
}

var lengthToCm = map[string]decimal.Decimal{
	"cm": decimal.NewFromInt(1),
	"m":  decimal.NewFromInt(100),
	"mm": decimal.New(1, -1),
	"in": decimal.RequireFromString("2.54"),
	"ft": decimal.RequireFromString("30.48"),
}

// Attributes are the physical fields of a catalog product. Nil means unknown.
type Attributes struct {
	Weight        *float64
	WeightUnit    string
	Height        *float64
	Width         *float64
	Length        *float64
	DimensionUnit string
}

// FromProduct extracts the physical attributes of p.
func FromProduct(p models.Product) Attributes {
	return Attributes{
		Weight:        p.Weight,
		WeightUnit:    deref(p.WeightUnit),
		Height:        p.Height,
		Width:         p.Width,
		Length:        p.Length,
		DimensionUnit: deref(p.DimensionUnit),
	}
}

// LineWeight holds quantity-scaled weights and the per-unit dimensions of one line.
type LineWeight struct {
	ActualKg     decimal.Decimal
	VolumetricKg decimal.Decimal
	LengthCm     decimal.Decimal
	BreadthCm    decimal.Decimal
	HeightCm     decimal.Decimal
}

// Box is a parcel bounding box in centimetres.
type Box struct {
	LengthCm  decimal.Decimal
	BreadthCm decimal.Decimal
	HeightCm  decimal.Decimal
}

// ToKg converts value in unit to kilograms. Unknown units are treated as kg.
func ToKg(value decimal.Decimal, unit string) decimal.Decimal {
	factor, ok := weightToKg[normalizeUnit(unit)]
	if !ok {
		factor = weightToKg["kg"]
	}
	return value.Mul(factor)
}

// ToCm converts value in unit to centimetres. Unknown units are treated as cm.
func ToCm(value decimal.Decimal, unit string) decimal.Decimal {
	factor, ok := lengthToCm[normalizeUnit(unit)]
	if !ok {
		factor = lengthToCm["cm"]
	}
	return value.Mul(factor)
}

// Line computes the weights of qty units. Missing attributes contribute zero,
// so an item with no dimensions has no volumetric weight.
func Line(attrs Attributes, qty int) LineWeight {
	if qty < 0 {
		qty = 0
	}
	q := decimal.NewFromInt(int64(qty))

	height := ToCm(fromPtr(attrs.Height), attrs.DimensionUnit)
	width := ToCm(fromPtr(attrs.Width), attrs.DimensionUnit)
	depth := ToCm(AssumedDepth, attrs.DimensionUnit)
	if attrs.Length != nil {
		depth = ToCm(decimal.NewFromFloat(*attrs.Length), attrs.DimensionUnit)
	}
	if attrs.Height == nil || attrs.Width == nil {
		depth = decimal.Zero
	}

	volumetric := height.Mul(width).Mul(depth).Div(VolumetricDivisor)
	return LineWeight{
		ActualKg:     ToKg(fromPtr(attrs.Weight), attrs.WeightUnit).Mul(q),
		VolumetricKg: volumetric.Mul(q),
		LengthCm:     depth,
		BreadthCm:    width,
		HeightCm:     height,
	}
}

// Chargeable returns max(sum of actual, sum of volumetric) across lines.
func Chargeable(lines ...LineWeight) decimal.Decimal {
	actual, volumetric := Totals(lines...)
	return decimal.Max(actual, volumetric)
}

// Totals returns the summed actual and volumetric weights.
func Totals(lines ...LineWeight) (actual, volumetric decimal.Decimal) {
	actual, volumetric = decimal.Zero, decimal.Zero
	for _, l := range lines {
		actual = actual.Add(l.ActualKg)
		volumetric = volumetric.Add(l.VolumetricKg)
	}
	return actual, volumetric
}

// BoundingBox takes the component-wise maximum of each line's dimensions.
func BoundingBox(lines ...LineWeight) Box {
	box := Box{LengthCm: decimal.Zero, BreadthCm: decimal.Zero, HeightCm: decimal.Zero}
	for _, l := range lines {
		box.LengthCm = decimal.Max(box.LengthCm, l.LengthCm)
		box.BreadthCm = decimal.Max(box.BreadthCm, l.BreadthCm)
		box.HeightCm = decimal.Max(box.HeightCm, l.HeightCm)
	}
	return box
}

// WithFloor raises every dimension to at least the matching dimension of min.
func (b Box) WithFloor(min Box) Box {
	return Box{
		LengthCm:  decimal.Max(b.LengthCm, min.LengthCm),
		BreadthCm: decimal.Max(b.BreadthCm, min.BreadthCm),
		HeightCm:  decimal.Max(b.HeightCm, min.HeightCm),
	}
}

// FloorWeight returns weight, raised to min when below it.
func FloorWeight(weight, min decimal.Decimal) decimal.Decimal {
	return decimal.Max(weight, min)
}

func normalizeUnit(unit string) string {
	return strings.ToLower(strings.TrimSpace(unit))
}

func fromPtr(v *float64) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(*v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
