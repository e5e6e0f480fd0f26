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
)

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	catalog, _, err := ledger.LoadCatalog(ctx, s.store)
	if err != nil {
		return nil, err
	}
	products := catalog.List()
	for i := range products {
		products[i].CostPrice, _ = ledger.EffectiveCost(products[i])
	}
	return products, nil
}

// RegisterProduct adds a product, or refreshes name and prices when the code
// already exists. A new product without a cost price is stored with the
// derived cost. The boolean reports whether a row was created.
func (s *Service) RegisterProduct(ctx context.Context, req domain.ProductRequest) (domain.Product, bool, error) {
	if _, err := requireOwner(ctx); err != nil {
		return domain.Product{}, false, err
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return domain.Product{}, false, invalid("code is required")
	}
	if req.CostPrice.IsNegative() || req.SellingPrice.IsNegative() {
		return domain.Product{}, false, invalid("prices must not be negative")
	}
	for loc, qty := range req.Opening {
		if !loc.Valid() {
			return domain.Product{}, false, invalid("unknown opening balance location %q", loc)
		}
		if qty.IsNegative() {
			return domain.Product{}, false, invalid("opening balance at %s must not be negative", loc)
		}
	}

	catalog, _, err := ledger.LoadCatalog(ctx, s.store)
	if err != nil {
		return domain.Product{}, false, err
	}
	if existing, ok := catalog.Get(code); ok {
		name := defaultString(req.Name, existing.Name)
		updated, err := s.UpdateProductPrices(ctx, existing.Code, domain.ProductPriceUpdate{
			Name:         &name,
			CostPrice:    &req.CostPrice,
			SellingPrice: &req.SellingPrice,
		})
		return updated, false, err
	}

	product := domain.Product{
		Code:         code,
		Name:         defaultString(req.Name, code),
		CostPrice:    req.CostPrice,
		SellingPrice: req.SellingPrice,
		Opening:      make(map[domain.Location]decimal.Decimal, len(domain.Locations)),
	}
	for _, loc := range domain.Locations {
		product.Opening[loc] = req.Opening[loc]
	}
	if product.CostPrice.IsZero() && product.SellingPrice.IsPositive() {
		product.CostPrice = ledger.DerivedCost(product.SellingPrice)
	}
	if err := s.appendRow(ctx, schema.TableProducts, productRecord(product)); err != nil {
		return domain.Product{}, false, err
	}
	s.invalidate(ctx)

	s.log.Info(s.log.WithFields(ctx, map[string]any{"table": schema.TableProducts, "code": code}), "product registered")
	s.logAudit(ctx, "Product", fmt.Sprintf("added %s (%s)", code, product.Name))
	return product, true, nil
}

// UpdateProductPrices overwrites the given cells on every Products row for
// code, so a duplicate row cannot shadow the new values. Nil fields are left
// alone.
func (s *Service) UpdateProductPrices(ctx context.Context, code string, req domain.ProductPriceUpdate) (domain.Product, error) {
	if _, err := requireOwner(ctx); err != nil {
		return domain.Product{}, err
	}
	if (req.CostPrice != nil && req.CostPrice.IsNegative()) || (req.SellingPrice != nil && req.SellingPrice.IsNegative()) {
		return domain.Product{}, invalid("prices must not be negative")
	}

	rows, err := s.productRows(ctx, code)
	if err != nil {
		return domain.Product{}, err
	}
	if len(rows) == 0 {
		return domain.Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, strings.TrimSpace(code))
	}

	updates := make([][2]string, 0, 3)
	if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
		updates = append(updates, [2]string{schema.FieldName, strings.TrimSpace(*req.Name)})
	}
	if req.CostPrice != nil {
		updates = append(updates, [2]string{schema.FieldCostPrice, format(*req.CostPrice)})
	}
	if req.SellingPrice != nil {
		updates = append(updates, [2]string{schema.FieldSellingPrice, format(*req.SellingPrice)})
	}
	if len(updates) == 0 {
		return domain.Product{}, invalid("nothing to update")
	}

	writes := 0
	for _, row := range rows {
		for _, u := range updates {
			if err := s.updateCell(ctx, schema.TableProducts, row.Key, u[0], u[1]); err != nil {
				if writes > 0 {
					s.invalidate(ctx)
					return domain.Product{}, fmt.Errorf("%w: %d cell writes done: %w", ledger.ErrPartialWrite, writes, err)
				}
				return domain.Product{}, err
			}
			writes++
		}
	}
	s.invalidate(ctx)

	catalog, _, err := ledger.LoadCatalog(ctx, s.store)
	if err != nil {
		return domain.Product{}, err
	}
	product, _ := catalog.Get(code)

	s.log.Info(s.log.WithFields(ctx, map[string]any{"table": schema.TableProducts, "code": product.Code}), "product updated")
	s.logAudit(ctx, "Product", fmt.Sprintf("updated %s", product.Code))
	return product, nil
}

func (s *Service) productRows(ctx context.Context, code string) ([]store.Row, error) {
	rows, err := s.store.Scan(ctx, schema.TableProducts)
	if err != nil {
		return nil, err
	}
	var matched []store.Row
	for _, row := range rows {
		if schema.SameCode(schema.NormalizeRecord(row.Fields)[schema.FieldCode], code) {
			matched = append(matched, row)
		}
	}
	return matched, nil
}

func productRecord(p domain.Product) store.Record {
	rec := store.Record{
		schema.FieldCode:         p.Code,
		schema.FieldName:         p.Name,
		schema.FieldCostPrice:    format(p.CostPrice),
		schema.FieldSellingPrice: format(p.SellingPrice),
	}
	for _, loc := range domain.Locations {
		rec[loc.OpeningColumn()] = format(p.OpeningAt(loc))
	}
	return rec
}

// productPrice is the selling price used for quotations when a line carries
// none.
func productPrice(catalog *ledger.Catalog, code string) (decimal.Decimal, string, bool) {
	p, ok := catalog.Get(code)
	if !ok {
		return decimal.Zero, "", false
	}
	return p.SellingPrice, p.Name, true
}
