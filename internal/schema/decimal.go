package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrEmpty     = errors.New("empty value")
	ErrMalformed = errors.New("malformed number")
)

var currencyPrefixes = []string{"₹", "Rs.", "Rs", "INR", "$"}

// ParseDecimal parses a cell the way a spreadsheet user types it: thousands
// separators and a leading currency sign are accepted.
func ParseDecimal(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	for _, prefix := range currencyPrefixes {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
			break
		}
	}
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return decimal.Zero, ErrEmpty
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformed, raw)
	}
	return d, nil
}

// FormatDecimal renders d for storage in a text cell.
func FormatDecimal(d decimal.Decimal) string {
	return d.String()
}
