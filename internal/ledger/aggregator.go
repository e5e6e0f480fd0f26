package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"nexuserp/backend/internal/domain"
	"nexuserp/backend/internal/schema"
	"nexuserp/backend/internal/store"
)

type stockKey struct {
	code string
	loc  domain.Location
}

// Fold replays events over the catalog's opening balances. Purchases and
// sales are summed per (code, location) before being applied; transfers are
// applied one by one. Every step is an exact decimal sum, so the result does
// not depend on the order of events. Settlement events carry no stock and are
// ignored. Events for codes missing from the catalog are returned as
// unknown_product defects.
func Fold(catalog *Catalog, events []domain.Event) ([]domain.StockLine, []domain.RowDefect) {
	purchased := make(map[stockKey]decimal.Decimal)
	sold := make(map[stockKey]decimal.Decimal)
	moved := make(map[stockKey]decimal.Decimal)
	var skipped []domain.RowDefect

	known := func(table string, rowKey string, code string) bool {
		if _, ok := catalog.Get(code); ok {
			return true
		}
		skipped = append(skipped, domain.RowDefect{
			Table:  table,
			RowKey: rowKey,
			Kind:   domain.DefectUnknownProduct,
			Field:  schema.FieldCode,
			Raw:    code,
			Code:   schema.CanonicalCode(code),
		})
		return false
	}

	for _, event := range events {
		switch ev := event.(type) {
		case domain.PurchaseEvent:
			if !known(schema.TablePurchase, ev.RowKey, ev.Code) {
				continue
			}
			k := stockKey{code: schema.CanonicalCode(ev.Code), loc: ev.Location}
			purchased[k] = purchased[k].Add(ev.Qty)
		case domain.SaleEvent:
			if !known(schema.TableSales, ev.RowKey, ev.Code) {
				continue
			}
			k := stockKey{code: schema.CanonicalCode(ev.Code), loc: ev.Location}
			sold[k] = sold[k].Add(ev.Qty)
		case domain.TransferEvent:
			if !known(schema.TableTransfers, ev.RowKey, ev.Code) {
				continue
			}
			code := schema.CanonicalCode(ev.Code)
			from := stockKey{code: code, loc: ev.From}
			to := stockKey{code: code, loc: ev.To}
			moved[from] = moved[from].Sub(ev.Qty)
			moved[to] = moved[to].Add(ev.Qty)
		}
	}

	lines := make([]domain.StockLine, 0, catalog.Len())
	for _, p := range catalog.List() {
		code := schema.CanonicalCode(p.Code)
		line := domain.StockLine{
			Code:         p.Code,
			Name:         p.Name,
			Stock:        make([]domain.LocationStock, 0, len(domain.Locations)),
			Total:        decimal.Zero,
			SellingPrice: p.SellingPrice,
		}
		line.CostPrice, line.CostDerived = EffectiveCost(p)

		for _, loc := range domain.Locations {
			k := stockKey{code: code, loc: loc}
			qty := p.OpeningAt(loc).Add(purchased[k]).Sub(sold[k]).Add(moved[k])
			line.Stock = append(line.Stock, domain.LocationStock{Location: loc, Qty: qty})
			line.Total = line.Total.Add(qty)
		}
		lines = append(lines, line)
	}
	return lines, skipped
}

// Aggregator rebuilds the stock snapshot from the record store on every call.
type Aggregator struct {
	store store.RecordStore
	now   func() time.Time
}

func NewAggregator(rs store.RecordStore) *Aggregator {
	return &Aggregator{store: rs, now: time.Now}
}

// Events scans and parses the purchase, sale and transfer streams. Rows that
// cannot be joined come back as skipped; coerced values as defects.
func (a *Aggregator) Events(ctx context.Context) (events []domain.Event, skipped []domain.RowDefect, defects []domain.RowDefect, err error) {
	collect := func(table string, parse func(store.Row) (domain.Event, []domain.RowDefect, error)) error {
		rows, err := a.store.Scan(ctx, table)
		if err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		for _, row := range rows {
			ev, found, err := parse(row)
			if err != nil {
				if fe, ok := err.(*FieldError); ok {
					skipped = append(skipped, fe.Defect())
					continue
				}
				return err
			}
			defects = append(defects, found...)
			events = append(events, ev)
		}
		return nil
	}

	if err := collect(schema.TablePurchase, func(row store.Row) (domain.Event, []domain.RowDefect, error) {
		return ParsePurchase(row)
	}); err != nil {
		return nil, nil, nil, err
	}
	if err := collect(schema.TableSales, func(row store.Row) (domain.Event, []domain.RowDefect, error) {
		return ParseSale(row)
	}); err != nil {
		return nil, nil, nil, err
	}
	if err := collect(schema.TableTransfers, func(row store.Row) (domain.Event, []domain.RowDefect, error) {
		return ParseTransfer(row)
	}); err != nil {
		return nil, nil, nil, err
	}
	return events, skipped, defects, nil
}

func (a *Aggregator) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	catalog, catalogDefects, err := LoadCatalog(ctx, a.store)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load catalog: %w", err)
	}
	events, skipped, defects, err := a.Events(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}

	lines, unknown := Fold(catalog, events)

	snap := domain.Snapshot{
		GeneratedAt: a.now().UTC(),
		Locations:   domain.Locations,
		Lines:       lines,
	}
	for _, d := range catalogDefects {
		if d.Excluded() {
			snap.Skipped = append(snap.Skipped, d)
		} else {
			snap.Defects = append(snap.Defects, d)
		}
	}
	snap.Skipped = append(snap.Skipped, skipped...)
	snap.Skipped = append(snap.Skipped, unknown...)
	snap.Defects = append(snap.Defects, defects...)
	return snap, nil
}
