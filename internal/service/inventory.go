package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"nexuserp/backend/internal/domain"
	"nexuserp/backend/internal/ledger"
	"nexuserp/backend/internal/schema"
	"nexuserp/backend/internal/store"
	"nexuserp/backend/internal/xid"
)

// RecordPurchase appends one Purchase row. A code the catalog has never seen
// is registered first, with the unit cost as its cost price.
func (s *Service) RecordPurchase(ctx context.Context, req domain.PurchaseRequest) (domain.PurchaseEvent, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return domain.PurchaseEvent{}, invalid("code is required")
	}
	if !req.Qty.IsPositive() {
		return domain.PurchaseEvent{}, invalid("qty must be greater than zero")
	}
	if req.UnitCost.IsNegative() {
		return domain.PurchaseEvent{}, invalid("unit_cost must not be negative")
	}
	loc, err := parseLocation("location", req.Location)
	if err != nil {
		return domain.PurchaseEvent{}, err
	}

	catalog, _, err := ledger.LoadCatalog(ctx, s.store)
	if err != nil {
		return domain.PurchaseEvent{}, err
	}
	if _, ok := catalog.Get(code); !ok {
		product := domain.Product{
			Code:      code,
			Name:      defaultString(req.Name, code),
			CostPrice: req.UnitCost,
		}
		if err := s.appendRow(ctx, schema.TableProducts, productRecord(product)); err != nil {
			return domain.PurchaseEvent{}, err
		}
		s.invalidate(ctx)
		s.logAudit(ctx, "Product", fmt.Sprintf("registered %s on first purchase", code))
	}

	ev := domain.PurchaseEvent{
		Code:     code,
		Qty:      req.Qty,
		Location: loc,
		Date:     s.now().Format(dateLayout),
		Vendor:   strings.TrimSpace(req.Vendor),
		UnitCost: req.UnitCost,
	}
	rec := store.Record{
		schema.FieldCode:     ev.Code,
		schema.FieldDate:     ev.Date,
		schema.FieldQty:      format(ev.Qty),
		schema.FieldLocation: string(ev.Location),
		schema.FieldVendor:   ev.Vendor,
	}
	if !ev.UnitCost.IsZero() {
		rec[schema.FieldUnitCost] = format(ev.UnitCost)
	}
	if err := s.appendRow(ctx, schema.TablePurchase, rec); err != nil {
		return domain.PurchaseEvent{}, err
	}
	s.invalidate(ctx)

	s.log.Info(s.log.WithFields(ctx, map[string]any{"table": schema.TablePurchase, "code": code}), "purchase recorded")
	s.logAudit(ctx, "Purchase", fmt.Sprintf("%s %s -> %s", format(ev.Qty), code, loc))
	return ev, nil
}

// RecordSale appends one Sales row per line. The invoice-level paid and
// balance figures are written onto every line. Lines are independent appends:
// a failure after the first line leaves a partial invoice behind and returns
// ledger.ErrPartialWrite with LinesWritten set. An invoice number already in
// Sales is rejected with ErrInvoiceExists.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	loc, err := parseLocation("location", req.Location)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if len(req.Lines) == 0 {
		return domain.SaleResponse{}, invalid("at least one line is required")
	}
	if req.PaidTotal.IsNegative() {
		return domain.SaleResponse{}, invalid("paid_total must not be negative")
	}

	needed := make(map[string]decimal.Decimal, len(req.Lines))
	for i, line := range req.Lines {
		if strings.TrimSpace(line.Code) == "" {
			return domain.SaleResponse{}, invalid("line %d: code is required", i+1)
		}
		if !line.Qty.IsPositive() {
			return domain.SaleResponse{}, invalid("line %d: qty must be greater than zero", i+1)
		}
		if line.Price.IsNegative() || line.Discount.IsNegative() || line.Discount.GreaterThan(line.Price) {
			return domain.SaleResponse{}, invalid("line %d: price and discount must satisfy 0 <= discount <= price", i+1)
		}
		key := schema.CanonicalCode(line.Code)
		needed[key] = needed[key].Add(line.Qty)
	}

	if invoiceNo := strings.TrimSpace(req.InvoiceNo); invoiceNo != "" {
		taken, err := s.invoiceExists(ctx, invoiceNo)
		if err != nil {
			return domain.SaleResponse{}, err
		}
		if taken {
			return domain.SaleResponse{}, fmt.Errorf("%w: %s", ErrInvoiceExists, invoiceNo)
		}
	}

	snap, err := s.aggregator.Snapshot(ctx)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	names := make(map[string]string, len(needed))
	for code, qty := range needed {
		stock, ok := snap.Line(code)
		if !ok {
			return domain.SaleResponse{}, fmt.Errorf("%w: %s", ErrProductNotFound, code)
		}
		if stock.At(loc).LessThan(qty) {
			return domain.SaleResponse{}, fmt.Errorf("%w: %s has %s at %s, %s requested", ErrInsufficientStock, stock.Code, format(stock.At(loc)), loc, format(qty))
		}
		names[code] = stock.Name
	}

	resp := domain.SaleResponse{
		InvoiceNo: defaultString(req.InvoiceNo, xid.New("INV")),
		Total:     decimal.Zero,
		Paid:      req.PaidTotal,
	}
	events := make([]domain.SaleEvent, len(req.Lines))
	for i, line := range req.Lines {
		events[i] = domain.SaleEvent{
			InvoiceNo:       resp.InvoiceNo,
			Code:            strings.TrimSpace(line.Code),
			Qty:             line.Qty,
			UnitPrice:       line.Price,
			DiscountPerUnit: line.Discount,
			Location:        loc,
		}
		resp.Total = resp.Total.Add(events[i].LineTotal())
	}
	resp.Balance = resp.Total.Sub(resp.Paid)

	date := s.now().Format(dateLayout)
	for i, line := range req.Lines {
		rec := store.Record{
			schema.FieldInvoiceNo: resp.InvoiceNo,
			schema.FieldDate:      date,
			schema.FieldCustomer:  strings.TrimSpace(req.Customer),
			schema.FieldPhone:     strings.TrimSpace(req.Phone),
			schema.FieldCode:      events[i].Code,
			schema.FieldName:      defaultString(line.Name, names[schema.CanonicalCode(line.Code)]),
			schema.FieldQty:       format(line.Qty),
			schema.FieldPrice:     format(line.Price),
			schema.FieldDiscount:  format(line.Discount),
			schema.FieldTotal:     format(events[i].LineTotal()),
			schema.FieldPaid:      format(resp.Paid),
			schema.FieldBalance:   format(resp.Balance),
			schema.FieldMode:      defaultString(req.Mode, "Cash"),
			schema.FieldBillType:  defaultString(req.BillType, "Non-GST"),
			schema.FieldLocation:  string(loc),
		}
		if err := s.appendRow(ctx, schema.TableSales, rec); err != nil {
			if i == 0 {
				return domain.SaleResponse{}, err
			}
			s.invalidate(ctx)
			resp.LinesWritten = i
			s.log.Error(s.log.WithField(ctx, "invoice_no", resp.InvoiceNo), "sale left partially written", err)
			s.logAudit(ctx, "Sale", fmt.Sprintf("%s partial: %d of %d lines", resp.InvoiceNo, i, len(req.Lines)))
			return resp, fmt.Errorf("%w: %d of %d lines of %s written: %w", ledger.ErrPartialWrite, i, len(req.Lines), resp.InvoiceNo, err)
		}
		resp.LinesWritten++
	}
	s.invalidate(ctx)

	s.log.Info(s.log.WithFields(ctx, map[string]any{"table": schema.TableSales, "invoice_no": resp.InvoiceNo}), "sale recorded")
	s.logAudit(ctx, "Sale", resp.InvoiceNo)
	return resp, nil
}

// invoiceExists matches invoice numbers the way settlement does, so a new
// sale can never merge into the lines of an earlier one.
func (s *Service) invoiceExists(ctx context.Context, invoiceNo string) (bool, error) {
	rows, err := s.store.Scan(ctx, schema.TableSales)
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		if schema.SameInvoice(schema.NormalizeRecord(row.Fields)[schema.FieldInvoiceNo], invoiceNo) {
			return true, nil
		}
	}
	return false, nil
}

// RecordTransfer moves stock between two locations. The source must hold at
// least qty according to a fresh replay.
func (s *Service) RecordTransfer(ctx context.Context, req domain.TransferRequest) (domain.TransferEvent, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return domain.TransferEvent{}, invalid("code is required")
	}
	if !req.Qty.IsPositive() {
		return domain.TransferEvent{}, invalid("qty must be greater than zero")
	}
	from, err := parseLocation("from", req.From)
	if err != nil {
		return domain.TransferEvent{}, err
	}
	to, err := parseLocation("to", req.To)
	if err != nil {
		return domain.TransferEvent{}, err
	}
	if from == to {
		return domain.TransferEvent{}, ErrSelfTransfer
	}

	snap, err := s.aggregator.Snapshot(ctx)
	if err != nil {
		return domain.TransferEvent{}, err
	}
	line, ok := snap.Line(code)
	if !ok {
		return domain.TransferEvent{}, fmt.Errorf("%w: %s", ErrProductNotFound, code)
	}
	if line.At(from).LessThan(req.Qty) {
		return domain.TransferEvent{}, fmt.Errorf("%w: %s has %s at %s", ErrInsufficientStock, line.Code, format(line.At(from)), from)
	}

	actor, _ := ActorFromContext(ctx)
	ev := domain.TransferEvent{
		Code: line.Code,
		Qty:  req.Qty,
		From: from,
		To:   to,
		Date: s.now().Format(dateLayout),
	}
	if err := s.appendRow(ctx, schema.TableTransfers, store.Record{
		schema.FieldDate:    ev.Date,
		schema.FieldCode:    ev.Code,
		schema.FieldName:    line.Name,
		schema.FieldFromLoc: string(from),
		schema.FieldToLoc:   string(to),
		schema.FieldQty:     format(ev.Qty),
		schema.FieldUser:    actor.Username,
	}); err != nil {
		return domain.TransferEvent{}, err
	}
	s.invalidate(ctx)

	s.log.Info(s.log.WithFields(ctx, map[string]any{"table": schema.TableTransfers, "code": ev.Code}), "transfer recorded")
	s.logAudit(ctx, "Transfer", fmt.Sprintf("%s of %s %s->%s", format(ev.Qty), ev.Code, from, to))
	return ev, nil
}
