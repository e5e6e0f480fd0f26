// Package schema holds the join-key and column-name rules shared by every
// record store and by the ledger: canonical product codes, the header
// dictionary, declarative table layouts and lenient number parsing.
package schema

import (
	"sort"
	"strings"

	"nexuserp/backend/internal/domain"
)

// Canonical field names as written to new tables.
const (
	FieldCode         = "NSP Code"
	FieldName         = "Product Name"
	FieldCostPrice    = "Cost Price"
	FieldSellingPrice = "Selling Price"
	FieldQty          = "Qty"
	FieldLocation     = "Location"
	FieldVendor       = "Vendor Name"
	FieldUnitCost     = "Unit Cost"
	FieldInvoiceNo    = "Invoice No"
	FieldDate         = "Date"
	FieldPrice        = "Price"
	FieldDiscount     = "Discount"
	FieldTotal        = "Total"
	FieldPaid         = "Paid"
	FieldBalance      = "Balance"
	FieldMode         = "Mode"
	FieldBillType     = "Bill Type"
	FieldCustomer     = "Customer Name"
	FieldPhone        = "Phone"
	FieldFromLoc      = "From_Loc"
	FieldToLoc        = "To_Loc"
	FieldAmount       = "Amount"
	FieldAmountPaid   = "Amount Paid"
	FieldPaymentID    = "Payment ID"
	FieldReference    = "Reference"
	FieldNotes        = "Notes"
	FieldQuoteID      = "Quote ID"
	FieldTimestamp    = "Timestamp"
	FieldUser         = "User"
	FieldAction       = "Action"
	FieldDetails      = "Details"
)

var synonyms = map[string][]string{
	FieldCode:         {"nsp code", "nspcode", "code", "product code", "sku"},
	FieldName:         {"product name", "productname", "item", "name"},
	FieldQty:          {"units", "quantity", "qty"},
	FieldCostPrice:    {"cost price", "cp", "cost"},
	FieldSellingPrice: {"selling price", "sp", "mrp"},
	FieldVendor:       {"vendor name", "vendor", "supplier"},
	FieldInvoiceNo:    {"invoice no", "inv", "invoice", "invoice number", "inv no"},
	FieldLocation:     {"location", "loc"},
	FieldFromLoc:      {"from loc", "from", "from location"},
	FieldToLoc:        {"to loc", "to", "to location"},
	FieldPaid:         {"paid"},
	FieldBalance:      {"balance", "bal", "due"},
	FieldAmount:       {"amount", "amt"},
	FieldAmountPaid:   {"amount paid", "amount received"},
	FieldDiscount:     {"discount", "disc"},
	FieldPrice:        {"price", "rate", "unit price"},
	FieldCustomer:     {"customer name", "customer"},
	FieldMode:         {"mode", "payment mode"},
	FieldUnitCost:     {"unit cost"},
}

var dictionary = buildDictionary()

func buildDictionary() map[string]string {
	dict := make(map[string]string, 96)
	for _, field := range []string{
		FieldCode, FieldName, FieldCostPrice, FieldSellingPrice, FieldQty, FieldLocation,
		FieldVendor, FieldUnitCost, FieldInvoiceNo, FieldDate, FieldPrice, FieldDiscount,
		FieldTotal, FieldPaid, FieldBalance, FieldMode, FieldBillType, FieldCustomer,
		FieldPhone, FieldFromLoc, FieldToLoc, FieldAmount, FieldAmountPaid, FieldPaymentID,
		FieldReference, FieldNotes, FieldQuoteID, FieldTimestamp, FieldUser, FieldAction,
		FieldDetails,
	} {
		dict[LooseKey(field)] = field
	}
	for field, names := range synonyms {
		for _, name := range names {
			dict[LooseKey(name)] = field
		}
	}
	for _, loc := range domain.Locations {
		dict[LooseKey(loc.OpeningColumn())] = loc.OpeningColumn()
		dict[LooseKey(loc.LegacyOpeningColumn())] = loc.OpeningColumn()
	}
	return dict
}

// LooseKey folds a header for comparison: lower-case with whitespace,
// underscores and dots removed.
func LooseKey(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToLower(raw) {
		switch r {
		case ' ', '\t', '\n', '\r', '_', '.':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// MapHeader returns the canonical field for a raw header, or the header
// unchanged when the dictionary has no entry for it.
func MapHeader(raw string) string {
	if field, ok := dictionary[LooseKey(raw)]; ok {
		return field
	}
	return raw
}

// MatchHeader finds the existing header a record key should be written under.
func MatchHeader(headers []string, key string) (string, bool) {
	for _, h := range headers {
		if h == key {
			return h, true
		}
	}
	loose := LooseKey(key)
	for _, h := range headers {
		if LooseKey(h) == loose {
			return h, true
		}
	}
	canonical := MapHeader(key)
	for _, h := range headers {
		if MapHeader(h) == canonical {
			return h, true
		}
	}
	return "", false
}

// NormalizeRecord re-keys rec by canonical field. When several raw headers
// collapse onto one field, a header already spelled canonically wins, then
// the first non-empty value with raw headers sorted byte-wise. A Record is a
// map and carries no column order, so the sort keeps the choice stable.
func NormalizeRecord(rec map[string]string) map[string]string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(rec))
	exact := make(map[string]bool, len(rec))
	for _, k := range keys {
		field := MapHeader(k)
		val := strings.TrimSpace(rec[k])
		isExact := k == field
		prev, seen := out[field]
		switch {
		case !seen:
		case prev == "" && val != "":
		case isExact && val != "" && !exact[field]:
		default:
			continue
		}
		out[field] = val
		exact[field] = isExact
	}
	return out
}
