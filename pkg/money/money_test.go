package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRounding(t *testing.T) {
	cases := []struct {
		in    string
		two   string
		whole string
	}{
		{in: "235.995", two: "236", whole: "236"},
		{in: "180.5", two: "180.5", whole: "181"},
		{in: "12.344", two: "12.34", whole: "12"},
	}
	for _, tc := range cases {
		d := decimal.RequireFromString(tc.in)
		if got := Round2(d); !got.Equal(decimal.RequireFromString(tc.two)) {
			t.Fatalf("Round2(%s) = %s, want %s", tc.in, got, tc.two)
		}
		if got := RoundUnit(d); !got.Equal(decimal.RequireFromString(tc.whole)) {
			t.Fatalf("RoundUnit(%s) = %s, want %s", tc.in, got, tc.whole)
		}
	}
}

func TestClampPercent(t *testing.T) {
	if got := ClampPercent(decimal.NewFromInt(150)); !got.Equal(Hundred) {
		t.Fatalf("expected 100, got %s", got)
	}
	if got := ClampPercent(decimal.NewFromInt(-5)); !got.IsZero() {
		t.Fatalf("expected 0, got %s", got)
	}
	if got := ClampPercent(decimal.NewFromInt(18)); !got.Equal(decimal.NewFromInt(18)) {
		t.Fatalf("expected 18, got %s", got)
	}
}

func TestPercentOfAndMin(t *testing.T) {
	if got := PercentOf(decimal.NewFromInt(2000), decimal.NewFromInt(18)); !got.Equal(decimal.NewFromInt(360)) {
		t.Fatalf("expected 360, got %s", got)
	}
	if got := Min(decimal.NewFromInt(5), decimal.NewFromInt(3)); !got.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected 3, got %s", got)
	}
	if got := NonNegative(decimal.NewFromInt(-1)); !got.IsZero() {
		t.Fatalf("expected 0, got %s", got)
	}
}
