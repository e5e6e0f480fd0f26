package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"nexuserp/backend/internal/domain"
)

const (
	TableProducts       = "Products"
	TablePurchase       = "Purchase"
	TableSales          = "Sales"
	TableTransfers      = "Transfers"
	TableSettlements    = "Settlements"
	TableVendorPayments = "Vendor_Payments"
	TableQuotations     = "Quotations"
	TableLogs           = "Logs"
)

var ErrMissingField = errors.New("required field missing")

// Table declares the layout a table is created with and the fields every
// row of it needs for the ledger to use it.
type Table struct {
	Name     string
	Columns  []string
	Required []string
}

var Tables = map[string]Table{
	TableProducts: {
		Name:     TableProducts,
		Columns:  productColumns(),
		Required: []string{FieldCode},
	},
	TablePurchase: {
		Name:     TablePurchase,
		Columns:  []string{FieldCode, FieldDate, FieldQty, FieldLocation, FieldVendor, FieldUnitCost},
		Required: []string{FieldCode, FieldQty, FieldLocation},
	},
	TableSales: {
		Name: TableSales,
		Columns: []string{
			FieldInvoiceNo, FieldDate, FieldCustomer, FieldPhone, FieldCode, FieldName, FieldQty,
			FieldPrice, FieldDiscount, FieldTotal, FieldPaid, FieldBalance, FieldMode, FieldBillType,
			FieldLocation,
		},
		Required: []string{FieldInvoiceNo, FieldCode, FieldQty, FieldLocation, FieldPaid, FieldBalance},
	},
	TableTransfers: {
		Name:     TableTransfers,
		Columns:  []string{FieldDate, FieldCode, FieldName, FieldFromLoc, FieldToLoc, FieldQty, FieldUser},
		Required: []string{FieldCode, FieldFromLoc, FieldToLoc, FieldQty},
	},
	TableSettlements: {
		Name:     TableSettlements,
		Columns:  []string{FieldDate, FieldInvoiceNo, FieldAmountPaid},
		Required: []string{FieldInvoiceNo, FieldAmountPaid},
	},
	TableVendorPayments: {
		Name:     TableVendorPayments,
		Columns:  []string{FieldPaymentID, FieldDate, FieldVendor, FieldAmount, FieldReference, FieldNotes},
		Required: []string{FieldPaymentID, FieldAmount},
	},
	TableQuotations: {
		Name:     TableQuotations,
		Columns:  []string{FieldQuoteID, FieldDate, FieldCustomer, FieldPhone, FieldCode, FieldName, FieldQty, FieldPrice, FieldTotal},
		Required: []string{FieldQuoteID, FieldCode, FieldQty},
	},
	TableLogs: {
		Name:     TableLogs,
		Columns:  []string{FieldTimestamp, FieldUser, FieldAction, FieldDetails},
		Required: []string{FieldTimestamp, FieldAction},
	},
}

func productColumns() []string {
	cols := []string{FieldCode, FieldName, FieldCostPrice, FieldSellingPrice}
	for _, loc := range domain.Locations {
		cols = append(cols, loc.OpeningColumn())
	}
	return cols
}

// LookupTable resolves a table by name, ignoring case and separators.
func LookupTable(name string) (Table, bool) {
	if t, ok := Tables[name]; ok {
		return t, true
	}
	loose := LooseKey(name)
	for _, t := range Tables {
		if LooseKey(t.Name) == loose {
			return t, true
		}
	}
	return Table{}, false
}

// ConfigError reports the required fields a stored table's headers do not
// provide after header mapping.
type ConfigError struct {
	Table   string
	Missing []string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("table %s: missing required fields %s", e.Table, strings.Join(e.Missing, ", "))
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Validate checks the headers of an existing table against its declaration.
// A nil or empty header list means the table does not exist yet and passes.
func Validate(table string, headers []string) error {
	spec, ok := LookupTable(table)
	if !ok || len(headers) == 0 {
		return nil
	}

	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[MapHeader(h)] = true
	}

	var (
		combined error
		missing  []string
	)
	for _, field := range spec.Required {
		if present[field] {
			continue
		}
		missing = append(missing, field)
		combined = multierr.Append(combined, fmt.Errorf("%w: %q", ErrMissingField, field))
	}
	if combined == nil {
		return nil
	}
	return &ConfigError{Table: spec.Name, Missing: missing, Err: combined}
}

// HeaderOrder lays out the header row for a table created from keys: the
// declared columns first, then any other keys in sorted order.
func HeaderOrder(table string, keys []string) []string {
	remaining := make(map[string]bool, len(keys))
	for _, k := range keys {
		remaining[k] = true
	}

	headers := make([]string, 0, len(keys))
	if spec, ok := LookupTable(table); ok {
		for _, col := range spec.Columns {
			if match, found := MatchHeader(keys, col); found && remaining[match] {
				headers = append(headers, match)
				delete(remaining, match)
			}
		}
	}
	rest := make([]string, 0, len(remaining))
	for k := range remaining {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	return append(headers, rest...)
}
