package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"nexuserp/backend/internal/domain"
	"nexuserp/backend/internal/schema"
	"nexuserp/backend/internal/store"
)

// InvoiceLedger applies customer payments to the Sales line rows of an
// invoice.
type InvoiceLedger struct {
	store store.RecordStore
}

func NewInvoiceLedger(rs store.RecordStore) *InvoiceLedger {
	return &InvoiceLedger{store: rs}
}

// Settle adds amount to Paid and subtracts it from Balance on every Sales row
// of invoiceNo. The full amount lands on each row; it is not split across
// lines. Balances may go negative. Rows are updated one by one with no
// rollback, so a failure after the first write returns ErrPartialWrite along
// with the rows that were updated.
func (l *InvoiceLedger) Settle(ctx context.Context, invoiceNo string, amount decimal.Decimal) (domain.SettlementResult, error) {
	invoiceNo = strings.TrimSpace(invoiceNo)
	result := domain.SettlementResult{InvoiceNo: invoiceNo, Amount: amount}
	if !amount.IsPositive() {
		return result, ErrInvalidAmount
	}
	if invoiceNo == "" {
		return result, fmt.Errorf("%w: empty invoice number", ErrInvoiceNotFound)
	}

	headers, err := l.store.Headers(ctx, schema.TableSales)
	if err != nil {
		return result, err
	}
	if len(headers) == 0 {
		return result, fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceNo)
	}
	paidField, balanceField, err := settlementFields(headers)
	if err != nil {
		return result, err
	}

	rows, err := l.store.Scan(ctx, schema.TableSales)
	if err != nil {
		return result, err
	}
	var matched []store.Row
	for _, row := range rows {
		if schema.SameInvoice(schema.NormalizeRecord(row.Fields)[schema.FieldInvoiceNo], invoiceNo) {
			matched = append(matched, row)
		}
	}
	if len(matched) == 0 {
		return result, fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceNo)
	}

	writes := 0
	for _, row := range matched {
		paid := lenientDecimal(row.Fields[paidField])
		balance := lenientDecimal(row.Fields[balanceField])
		settled := domain.SettledRow{
			RowKey:  row.Key,
			Paid:    paid.Add(amount),
			Balance: balance.Sub(amount),
		}

		if err := l.store.UpdateField(ctx, schema.TableSales, row.Key, paidField, schema.FormatDecimal(settled.Paid)); err != nil {
			return result, settleFailure(writes, len(matched), err)
		}
		writes++
		if err := l.store.UpdateField(ctx, schema.TableSales, row.Key, balanceField, schema.FormatDecimal(settled.Balance)); err != nil {
			return result, settleFailure(writes, len(matched), err)
		}
		writes++
		result.Rows = append(result.Rows, settled)
	}
	return result, nil
}

func settleFailure(writes int, rows int, err error) error {
	if writes == 0 {
		return err
	}
	return fmt.Errorf("%w: %d cell writes done across %d rows: %w", ErrPartialWrite, writes, rows, err)
}

// settlementFields finds the Paid and Balance columns: first through the
// header dictionary, then by substring the way hand-made sheets name them
// ("Amount Paid So Far", "Bal. Due").
func settlementFields(headers []string) (string, string, error) {
	paid, okPaid := schema.MatchHeader(headers, schema.FieldPaid)
	balance, okBalance := schema.MatchHeader(headers, schema.FieldBalance)
	if !okPaid {
		paid, okPaid = headerContaining(headers, "paid")
	}
	if !okBalance {
		balance, okBalance = headerContaining(headers, "bal")
	}

	switch {
	case !okPaid && !okBalance:
		return "", "", fmt.Errorf("%w: %s and %s", ErrFieldNotFound, schema.FieldPaid, schema.FieldBalance)
	case !okPaid:
		return "", "", fmt.Errorf("%w: %s", ErrFieldNotFound, schema.FieldPaid)
	case !okBalance:
		return "", "", fmt.Errorf("%w: %s", ErrFieldNotFound, schema.FieldBalance)
	}
	return paid, balance, nil
}

func headerContaining(headers []string, needle string) (string, bool) {
	for _, h := range headers {
		if strings.Contains(strings.ToLower(h), needle) {
			return h, true
		}
	}
	return "", false
}

func lenientDecimal(raw string) decimal.Decimal {
	d, err := schema.ParseDecimal(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Pending lists invoices whose balance is still above zero, one entry per
// invoice taken from its first line row, in order of first appearance. Paid
// and Balance are located the same way Settle locates them.
func (l *InvoiceLedger) Pending(ctx context.Context) ([]domain.PendingInvoice, error) {
	headers, err := l.store.Headers(ctx, schema.TableSales)
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		return []domain.PendingInvoice{}, nil
	}
	paidField, balanceField, err := settlementFields(headers)
	if err != nil {
		return nil, err
	}

	rows, err := l.store.Scan(ctx, schema.TableSales)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int)
	invoices := make([]domain.PendingInvoice, 0, 16)
	for _, row := range rows {
		fields := schema.NormalizeRecord(row.Fields)
		invoiceNo := strings.TrimSpace(fields[schema.FieldInvoiceNo])
		if invoiceNo == "" {
			continue
		}
		key := strings.ToUpper(invoiceNo)
		if i, ok := index[key]; ok {
			invoices[i].Lines++
			continue
		}
		index[key] = len(invoices)
		invoices = append(invoices, domain.PendingInvoice{
			InvoiceNo: invoiceNo,
			Date:      fields[schema.FieldDate],
			Customer:  fields[schema.FieldCustomer],
			Phone:     fields[schema.FieldPhone],
			Paid:      lenientDecimal(row.Fields[paidField]),
			Balance:   lenientDecimal(row.Fields[balanceField]),
			Lines:     1,
		})
	}

	pending := invoices[:0]
	for _, inv := range invoices {
		if inv.Balance.IsPositive() {
			pending = append(pending, inv)
		}
	}
	return pending, nil
}

// History returns the Settlements journal entries recorded against
// invoiceNo in append order. Rows that fail to parse are reported as
// defects rather than returned.
func (l *InvoiceLedger) History(ctx context.Context, invoiceNo string) ([]domain.SettlementEvent, []domain.RowDefect, error) {
	rows, err := l.store.Scan(ctx, schema.TableSettlements)
	if err != nil {
		return nil, nil, err
	}

	var (
		events  []domain.SettlementEvent
		defects []domain.RowDefect
	)
	for _, row := range rows {
		ev, rowDefects, err := ParseSettlement(row)
		if err != nil {
			var fe *FieldError
			if !errors.As(err, &fe) {
				return nil, nil, err
			}
			defects = append(defects, fe.Defect())
			continue
		}
		if !schema.SameInvoice(ev.InvoiceNo, invoiceNo) {
			continue
		}
		defects = append(defects, rowDefects...)
		events = append(events, ev)
	}
	return events, defects, nil
}
