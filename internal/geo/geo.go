// Package geo normalizes the free-form country and state strings that arrive
// from checkout forms.
package geo

import "strings"

// India is the only jurisdiction where GST applies.
const India = "IN"

var countryAliases = map[string]string{
	"IN":                       "IN",
	"IND":                      "IN",
	"INDIA":                    "IN",
	"BHARAT":                   "IN",
	"US":                       "US",
	"USA":                      "US",
	"UNITED STATES":            "US",
	"UNITED STATES OF AMERICA": "US",
	"GB":                       "GB",
	"UK":                       "GB",
	"GBR":                      "GB",
	"UNITED KINGDOM":           "GB",
	"GREAT BRITAIN":            "GB",
	"ENGLAND":                  "GB",
	"AE":                       "AE",
	"UAE":                      "AE",
	"ARE":                      "AE",
	"UNITED ARAB EMIRATES":     "AE",
	"SA":                       "SA",
	"KSA":                      "SA",
	"SAU":                      "SA",
	"SAUDI ARABIA":             "SA",
	"QA":                       "QA",
	"QAT":                      "QA",
	"QATAR":                    "QA",
	"CA":                       "CA",
	"CAN":                      "CA",
	"CANADA":                   "CA",
	"AU":                       "AU",
	"AUS":                      "AU",
	"AUSTRALIA":                "AU",
}

// NormalizeCountry maps a code or name to ISO 3166-1 alpha-2. Unknown
// two-letter codes pass through upper-cased; anything else resolves to India.
func NormalizeCountry(raw string) string {
	key := strings.ToUpper(strings.Join(strings.Fields(raw), " "))
	if code, ok := countryAliases[key]; ok {
		return code
	}
	if len(key) == 2 && isAlpha(key) {
		return key
	}
	return India
}

// IsIndia reports whether raw resolves to India.
func IsIndia(raw string) bool {
	return NormalizeCountry(raw) == India
}

// NormalizeState trims, case-folds and collapses internal whitespace so
// "  tamil   Nadu" and "Tamil Nadu" compare equal.
func NormalizeState(raw string) string {
	return strings.ToLower(strings.Join(strings.Fields(raw), " "))
}

// SameState reports whether both states are present and equal after normalization.
func SameState(a, b string) bool {
	na, nb := NormalizeState(a), NormalizeState(b)
	return na != "" && na == nb
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
