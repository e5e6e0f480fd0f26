package schema

import "strings"

// CanonicalCode is the join key for products across every table.
func CanonicalCode(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func SameCode(a, b string) bool {
	return CanonicalCode(a) == CanonicalCode(b)
}

// SameInvoice compares invoice numbers the way the settle screen does:
// surrounding whitespace and letter case are ignored.
func SameInvoice(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}
