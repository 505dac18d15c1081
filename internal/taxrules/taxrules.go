// Package taxrules holds the category to GST percentage table. The table is
// data, loaded once at startup and injected wherever a lookup is needed.
package taxrules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Lookup resolves a category identifier to its GST percentage.
type Lookup interface {
	GSTPercent(category string) (decimal.Decimal, bool)
}

// DefaultRule is the nested form some categories use instead of a flat percent.
type DefaultRule struct {
	GSTPercent *float64 `yaml:"gst_percent"`
}

// Rule is one category entry.
type Rule struct {
	Key         string       `yaml:"key"`
	DisplayName string       `yaml:"display_name"`
	GSTPercent  *float64     `yaml:"gst_percent"`
	DefaultRule *DefaultRule `yaml:"default_rule"`
}

// Percent returns the flat percent, falling back to the nested default rule.
func (r Rule) Percent() (decimal.Decimal, bool) {
	if r.GSTPercent != nil {
		return decimal.NewFromFloat(*r.GSTPercent), true
	}
	if r.DefaultRule != nil && r.DefaultRule.GSTPercent != nil {
		return decimal.NewFromFloat(*r.DefaultRule.GSTPercent), true
	}
	return decimal.Zero, false
}

type document struct {
	Categories []Rule `yaml:"categories"`
}

// Table is an immutable category lookup keyed by normalized key and display name.
type Table struct {
	byName map[string]decimal.Decimal
	size   int
}

// Static builds a table from rules defined in code.
func Static(rules ...Rule) (*Table, error) {
	t := &Table{byName: make(map[string]decimal.Decimal, len(rules)*2)}
	for i, rule := range rules {
		if strings.TrimSpace(rule.Key) == "" && strings.TrimSpace(rule.DisplayName) == "" {
			return nil, fmt.Errorf("rule %d: key or display_name required", i)
		}
		pct, ok := rule.Percent()
		if !ok {
			continue
		}
		if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("rule %q: gst_percent %s out of range", rule.Key, pct)
		}
		for _, name := range []string{rule.Key, rule.DisplayName} {
			if n := normalize(name); n != "" {
				t.byName[n] = pct
			}
		}
		t.size++
	}
	return t, nil
}

// Load parses a YAML document of the form:
//
//	categories:
//	  - key: books
//	    display_name: Books
//	    gst_percent: 5
//	  - key: apparel
//	    default_rule:
//	      gst_percent: 12
func Load(r io.Reader) (*Table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read tax rules: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return Static()
	}
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse tax rules: %w", err)
	}
	return Static(doc.Categories...)
}

// LoadFile loads rules from path. An empty path or a missing file yields an
// empty table so every category falls through to the default rate.
func LoadFile(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return Static()
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Static()
		}
		return nil, fmt.Errorf("open tax rules: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// GSTPercent implements Lookup.
func (t *Table) GSTPercent(category string) (decimal.Decimal, bool) {
	if t == nil {
		return decimal.Zero, false
	}
	pct, ok := t.byName[normalize(category)]
	return pct, ok
}

// Len reports how many rules carry a percentage.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return t.size
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
