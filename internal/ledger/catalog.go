package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"nexuserp/backend/internal/domain"
	"nexuserp/backend/internal/schema"
	"nexuserp/backend/internal/store"
)

// costMarkup backs a cost price out of a selling price when the catalog has
// none recorded.
var costMarkup = decimal.RequireFromString("3.3")

// Catalog is the product list keyed by canonical code, kept in the order
// codes were first seen.
type Catalog struct {
	order    []string
	products map[string]domain.Product
}

func NewCatalog() *Catalog {
	return &Catalog{products: make(map[string]domain.Product)}
}

// Upsert inserts p when its code is unseen and otherwise replaces name and
// prices in place. Opening balances are only taken on insert. An empty code
// is a no-op. It reports whether p was inserted.
func (c *Catalog) Upsert(p domain.Product) bool {
	key := schema.CanonicalCode(p.Code)
	if key == "" {
		return false
	}

	existing, ok := c.products[key]
	if !ok {
		p.Code = strings.TrimSpace(p.Code)
		p.Name = strings.TrimSpace(p.Name)
		opening := make(map[domain.Location]decimal.Decimal, len(domain.Locations))
		for _, loc := range domain.Locations {
			opening[loc] = p.OpeningAt(loc)
		}
		p.Opening = opening
		c.products[key] = p
		c.order = append(c.order, key)
		return true
	}

	existing.Name = strings.TrimSpace(p.Name)
	existing.CostPrice = p.CostPrice
	existing.SellingPrice = p.SellingPrice
	c.products[key] = existing
	return false
}

func (c *Catalog) Get(code string) (domain.Product, bool) {
	p, ok := c.products[schema.CanonicalCode(code)]
	return p, ok
}

func (c *Catalog) List() []domain.Product {
	out := make([]domain.Product, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.products[key])
	}
	return out
}

func (c *Catalog) Len() int {
	return len(c.order)
}

// EffectiveCost returns the cost to report for p. A zero cost with a positive
// selling price falls back to SellingPrice / 3.3 rounded to two places; the
// second result reports whether that happened.
func EffectiveCost(p domain.Product) (decimal.Decimal, bool) {
	if p.CostPrice.IsZero() && p.SellingPrice.IsPositive() {
		return DerivedCost(p.SellingPrice), true
	}
	return p.CostPrice, false
}

func DerivedCost(sellingPrice decimal.Decimal) decimal.Decimal {
	return sellingPrice.Div(costMarkup).Round(2)
}

// LoadCatalog scans the Products table. The first row for a code fixes its
// opening balances; later rows for the same code only refresh the non-empty
// name and price cells and are reported as duplicate_code defects.
func LoadCatalog(ctx context.Context, rs store.RecordStore) (*Catalog, []domain.RowDefect, error) {
	rows, err := rs.Scan(ctx, schema.TableProducts)
	if err != nil {
		return nil, nil, err
	}

	catalog := NewCatalog()
	var defects []domain.RowDefect
	for _, row := range rows {
		r := newRowReader(schema.TableProducts, row)
		if err := r.joinCode(); err != nil {
			defects = append(defects, err.(*FieldError).Defect())
			continue
		}

		if existing, ok := catalog.Get(r.code); ok {
			if name := r.text(schema.FieldName); name != "" {
				existing.Name = name
			}
			if r.text(schema.FieldCostPrice) != "" {
				existing.CostPrice = r.number(schema.FieldCostPrice, false)
			}
			if r.text(schema.FieldSellingPrice) != "" {
				existing.SellingPrice = r.number(schema.FieldSellingPrice, false)
			}
			catalog.Upsert(existing)
			defects = append(defects, r.defects...)
			defects = append(defects, domain.RowDefect{
				Table:  schema.TableProducts,
				RowKey: row.Key,
				Kind:   domain.DefectDuplicateCode,
				Field:  schema.FieldCode,
				Raw:    r.fields[schema.FieldCode],
				Code:   r.code,
			})
			continue
		}

		p := domain.Product{
			Code:    r.text(schema.FieldCode),
			Name:    r.text(schema.FieldName),
			Opening: make(map[domain.Location]decimal.Decimal, len(domain.Locations)),
		}
		p.CostPrice = r.number(schema.FieldCostPrice, false)
		p.SellingPrice = r.number(schema.FieldSellingPrice, false)
		for _, loc := range domain.Locations {
			p.Opening[loc] = r.number(loc.OpeningColumn(), false)
		}
		catalog.Upsert(p)
		defects = append(defects, r.defects...)
	}
	return catalog, defects, nil
}
