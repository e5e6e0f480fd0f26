package ledger

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"nexuserp/backend/internal/domain"
	"nexuserp/backend/internal/schema"
	"nexuserp/backend/internal/store"
)

// rowReader pulls typed values out of one normalized row and collects the
// defects found along the way.
type rowReader struct {
	table   string
	key     string
	fields  map[string]string
	code    string
	defects []domain.RowDefect
}

func newRowReader(table string, row store.Row) *rowReader {
	return &rowReader{
		table:  table,
		key:    row.Key,
		fields: schema.NormalizeRecord(row.Fields),
	}
}

func (r *rowReader) text(field string) string {
	return strings.TrimSpace(r.fields[field])
}

func (r *rowReader) fail(field string, err error) *FieldError {
	return &FieldError{
		Table:  r.table,
		RowKey: r.key,
		Field:  field,
		Raw:    r.fields[field],
		Code:   r.code,
		Err:    err,
	}
}

func (r *rowReader) joinCode() error {
	r.code = schema.CanonicalCode(r.fields[schema.FieldCode])
	if r.code == "" {
		return r.fail(schema.FieldCode, ErrMissingJoinKey)
	}
	return nil
}

func (r *rowReader) location(field string) (domain.Location, error) {
	raw := r.text(field)
	if raw == "" {
		return "", r.fail(field, ErrMissingJoinKey)
	}
	loc, ok := domain.ParseLocation(raw)
	if !ok {
		return "", r.fail(field, ErrUnknownLocation)
	}
	return loc, nil
}

// number coerces a numeric cell to zero when it cannot be parsed. Required
// fields also report an empty cell; optional ones only report garbage.
func (r *rowReader) number(field string, required bool) decimal.Decimal {
	d, err := schema.ParseDecimal(r.fields[field])
	if err == nil {
		return d
	}
	if errors.Is(err, schema.ErrEmpty) && !required {
		return decimal.Zero
	}
	r.defects = append(r.defects, r.fail(field, ErrMalformedValue).Defect())
	return decimal.Zero
}

func ParsePurchase(row store.Row) (domain.PurchaseEvent, []domain.RowDefect, error) {
	r := newRowReader(schema.TablePurchase, row)
	if err := r.joinCode(); err != nil {
		return domain.PurchaseEvent{}, nil, err
	}
	loc, err := r.location(schema.FieldLocation)
	if err != nil {
		return domain.PurchaseEvent{}, nil, err
	}

	ev := domain.PurchaseEvent{
		RowKey:   row.Key,
		Code:     r.code,
		Location: loc,
		Date:     r.text(schema.FieldDate),
		Vendor:   r.text(schema.FieldVendor),
	}
	ev.Qty = r.number(schema.FieldQty, true)
	ev.UnitCost = r.number(schema.FieldUnitCost, false)
	return ev, r.defects, nil
}

func ParseSale(row store.Row) (domain.SaleEvent, []domain.RowDefect, error) {
	r := newRowReader(schema.TableSales, row)
	if err := r.joinCode(); err != nil {
		return domain.SaleEvent{}, nil, err
	}
	loc, err := r.location(schema.FieldLocation)
	if err != nil {
		return domain.SaleEvent{}, nil, err
	}

	ev := domain.SaleEvent{
		RowKey:    row.Key,
		InvoiceNo: r.text(schema.FieldInvoiceNo),
		Code:      r.code,
		Location:  loc,
		Date:      r.text(schema.FieldDate),
		Mode:      r.text(schema.FieldMode),
		Customer:  r.text(schema.FieldCustomer),
		Phone:     r.text(schema.FieldPhone),
	}
	ev.Qty = r.number(schema.FieldQty, true)
	ev.UnitPrice = r.number(schema.FieldPrice, false)
	ev.DiscountPerUnit = r.number(schema.FieldDiscount, false)
	ev.PaidSoFar = r.number(schema.FieldPaid, false)
	ev.BalanceSoFar = r.number(schema.FieldBalance, false)
	return ev, r.defects, nil
}

func ParseTransfer(row store.Row) (domain.TransferEvent, []domain.RowDefect, error) {
	r := newRowReader(schema.TableTransfers, row)
	if err := r.joinCode(); err != nil {
		return domain.TransferEvent{}, nil, err
	}
	from, err := r.location(schema.FieldFromLoc)
	if err != nil {
		return domain.TransferEvent{}, nil, err
	}
	to, err := r.location(schema.FieldToLoc)
	if err != nil {
		return domain.TransferEvent{}, nil, err
	}

	ev := domain.TransferEvent{
		RowKey: row.Key,
		Code:   r.code,
		From:   from,
		To:     to,
		Date:   r.text(schema.FieldDate),
	}
	ev.Qty = r.number(schema.FieldQty, true)
	return ev, r.defects, nil
}

func ParseSettlement(row store.Row) (domain.SettlementEvent, []domain.RowDefect, error) {
	r := newRowReader(schema.TableSettlements, row)
	invoice := r.text(schema.FieldInvoiceNo)
	if invoice == "" {
		return domain.SettlementEvent{}, nil, r.fail(schema.FieldInvoiceNo, ErrMissingJoinKey)
	}

	ev := domain.SettlementEvent{
		RowKey:    row.Key,
		InvoiceNo: invoice,
		Date:      r.text(schema.FieldDate),
	}
	amountField := schema.FieldAmountPaid
	if r.text(amountField) == "" && r.text(schema.FieldAmount) != "" {
		amountField = schema.FieldAmount
	}
	ev.AmountPaid = r.number(amountField, true)
	return ev, r.defects, nil
}
