package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"nexuserp/backend/internal/domain"
	"nexuserp/backend/internal/ledger"
	"nexuserp/backend/internal/schema"
	"nexuserp/backend/internal/store"
	"nexuserp/backend/internal/xid"
)

const defaultAuditLimit = 100

// SettleInvoice applies a customer payment to every line of invoiceNo and
// journals it in Settlements. The snapshot cache is invalidated whenever any
// cell was written, including after a partial failure.
func (s *Service) SettleInvoice(ctx context.Context, invoiceNo string, req domain.SettlementRequest) (domain.SettlementResult, error) {
	res, err := s.invoices.Settle(ctx, invoiceNo, req.Amount)
	if err != nil {
		if errors.Is(err, ledger.ErrPartialWrite) {
			s.invalidate(ctx)
			s.log.Error(s.log.WithField(ctx, "invoice_no", res.InvoiceNo), "settlement left partially written", err)
			s.logAudit(ctx, "Settlement", fmt.Sprintf("%s partial: %d rows updated", res.InvoiceNo, len(res.Rows)))
		}
		return res, err
	}
	s.invalidate(ctx)

	if err := s.appendRow(ctx, schema.TableSettlements, store.Record{
		schema.FieldDate:       s.now().Format(dateLayout),
		schema.FieldInvoiceNo:  res.InvoiceNo,
		schema.FieldAmountPaid: format(res.Amount),
	}); err != nil {
		s.log.Error(s.log.WithField(ctx, "invoice_no", res.InvoiceNo), "settlement applied but not journaled", err)
		return res, fmt.Errorf("%w: settlement journal: %w", ledger.ErrPartialWrite, err)
	}

	s.log.Info(s.log.WithFields(ctx, map[string]any{"table": schema.TableSales, "invoice_no": res.InvoiceNo, "rows": len(res.Rows)}), "invoice settled")
	s.logAudit(ctx, "Settlement", fmt.Sprintf("%s paid %s", res.InvoiceNo, format(res.Amount)))
	return res, nil
}

// InvoiceSettlements reads back the payments journaled against invoiceNo.
func (s *Service) InvoiceSettlements(ctx context.Context, invoiceNo string) (domain.SettlementHistory, error) {
	invoiceNo = strings.TrimSpace(invoiceNo)
	if invoiceNo == "" {
		return domain.SettlementHistory{}, invalid("invoice number is required")
	}
	events, defects, err := s.invoices.History(ctx, invoiceNo)
	if err != nil {
		return domain.SettlementHistory{}, err
	}
	if len(defects) > 0 {
		s.log.Warn(s.log.WithFields(ctx, map[string]any{"table": schema.TableSettlements, "defects": len(defects)}), "settlement journal has malformed rows")
	}

	history := domain.SettlementHistory{
		InvoiceNo:   invoiceNo,
		Settlements: make([]domain.SettlementEvent, 0, len(events)),
		TotalPaid:   decimal.Zero,
		Skipped:     defects,
	}
	for _, ev := range events {
		history.Settlements = append(history.Settlements, ev)
		history.TotalPaid = history.TotalPaid.Add(ev.AmountPaid)
	}
	return history, nil
}

func (s *Service) PendingInvoices(ctx context.Context) ([]domain.PendingInvoice, error) {
	return s.invoices.Pending(ctx)
}

func (s *Service) RecordVendorPayment(ctx context.Context, req domain.VendorPaymentRequest) (domain.VendorPayment, error) {
	if _, err := requireOwner(ctx); err != nil {
		return domain.VendorPayment{}, err
	}
	vendor := strings.TrimSpace(req.Vendor)
	if vendor == "" {
		return domain.VendorPayment{}, invalid("vendor is required")
	}
	if !req.Amount.IsPositive() {
		return domain.VendorPayment{}, invalid("amount must be greater than zero")
	}

	payment := domain.VendorPayment{
		ID:        xid.New("P"),
		Date:      s.now().Format(dateLayout),
		Vendor:    vendor,
		Amount:    req.Amount,
		Reference: strings.TrimSpace(req.Reference),
		Notes:     strings.TrimSpace(req.Notes),
	}
	if err := s.appendRow(ctx, schema.TableVendorPayments, store.Record{
		schema.FieldPaymentID: payment.ID,
		schema.FieldDate:      payment.Date,
		schema.FieldVendor:    payment.Vendor,
		schema.FieldAmount:    format(payment.Amount),
		schema.FieldReference: payment.Reference,
		schema.FieldNotes:     payment.Notes,
	}); err != nil {
		return domain.VendorPayment{}, err
	}

	s.logAudit(ctx, "Vendor Payment", fmt.Sprintf("%s %s to %s", payment.ID, format(payment.Amount), vendor))
	return payment, nil
}

// ListVendorPayments returns payments newest first. Rows with an unreadable
// amount are listed with zero.
func (s *Service) ListVendorPayments(ctx context.Context) ([]domain.VendorPayment, error) {
	if _, err := requireOwner(ctx); err != nil {
		return nil, err
	}
	rows, err := s.store.Scan(ctx, schema.TableVendorPayments)
	if err != nil {
		return nil, err
	}

	payments := make([]domain.VendorPayment, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		fields := schema.NormalizeRecord(rows[i].Fields)
		amount, err := schema.ParseDecimal(fields[schema.FieldAmount])
		if err != nil {
			amount = decimal.Zero
		}
		payments = append(payments, domain.VendorPayment{
			ID:        fields[schema.FieldPaymentID],
			Date:      fields[schema.FieldDate],
			Vendor:    fields[schema.FieldVendor],
			Amount:    amount,
			Reference: fields[schema.FieldReference],
			Notes:     fields[schema.FieldNotes],
		})
	}
	return payments, nil
}

// RecordQuotation writes one Quotations row per line. Quotes never touch
// stock or balances. A line without a price is quoted at the catalog
// selling price.
func (s *Service) RecordQuotation(ctx context.Context, req domain.QuotationRequest) (domain.Quotation, error) {
	customer := strings.TrimSpace(req.Customer)
	if customer == "" {
		return domain.Quotation{}, invalid("customer is required")
	}
	if len(req.Lines) == 0 {
		return domain.Quotation{}, invalid("at least one line is required")
	}

	catalog, _, err := ledger.LoadCatalog(ctx, s.store)
	if err != nil {
		return domain.Quotation{}, err
	}

	quote := domain.Quotation{
		ID:       xid.New("Q"),
		Date:     s.now().Format(dateLayout),
		Customer: customer,
		Phone:    strings.TrimSpace(req.Phone),
		Total:    decimal.Zero,
		Lines:    make([]domain.QuoteLine, 0, len(req.Lines)),
	}
	for i, line := range req.Lines {
		if !line.Qty.IsPositive() {
			return domain.Quotation{}, invalid("line %d: qty must be greater than zero", i+1)
		}
		if line.Price.IsNegative() {
			return domain.Quotation{}, invalid("line %d: price must not be negative", i+1)
		}
		price, name, ok := productPrice(catalog, line.Code)
		if !ok {
			return domain.Quotation{}, fmt.Errorf("%w: %s", ErrProductNotFound, strings.TrimSpace(line.Code))
		}
		if !line.Price.IsZero() {
			price = line.Price
		}
		quote.Lines = append(quote.Lines, domain.QuoteLine{
			Code:  strings.TrimSpace(line.Code),
			Name:  defaultString(line.Name, name),
			Qty:   line.Qty,
			Price: price,
		})
		quote.Total = quote.Total.Add(price.Mul(line.Qty))
	}

	for i, line := range quote.Lines {
		if err := s.appendRow(ctx, schema.TableQuotations, store.Record{
			schema.FieldQuoteID:  quote.ID,
			schema.FieldDate:     quote.Date,
			schema.FieldCustomer: quote.Customer,
			schema.FieldPhone:    quote.Phone,
			schema.FieldCode:     line.Code,
			schema.FieldName:     line.Name,
			schema.FieldQty:      format(line.Qty),
			schema.FieldPrice:    format(line.Price),
			schema.FieldTotal:    format(line.Price.Mul(line.Qty)),
		}); err != nil {
			if i == 0 {
				return domain.Quotation{}, err
			}
			return quote, fmt.Errorf("%w: %d of %d quote lines written: %w", ledger.ErrPartialWrite, i, len(quote.Lines), err)
		}
	}

	s.logAudit(ctx, "Quotation", fmt.Sprintf("%s for %s", quote.ID, customer))
	return quote, nil
}

// ListAuditLogs returns up to limit entries, newest first.
func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if _, err := requireOwner(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	rows, err := s.store.Scan(ctx, schema.TableLogs)
	if err != nil {
		return nil, err
	}

	logs := make([]domain.AuditLog, 0, min(limit, len(rows)))
	for i := len(rows) - 1; i >= 0 && len(logs) < limit; i-- {
		fields := schema.NormalizeRecord(rows[i].Fields)
		logs = append(logs, domain.AuditLog{
			Timestamp: fields[schema.FieldTimestamp],
			User:      fields[schema.FieldUser],
			Action:    fields[schema.FieldAction],
			Details:   fields[schema.FieldDetails],
		})
	}
	return logs, nil
}
