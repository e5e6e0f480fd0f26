package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"nexuserp/backend/internal/domain"
	"nexuserp/backend/internal/schema"
	"nexuserp/backend/internal/store"
)

type table struct {
	name    string
	headers []string
	rows    []store.Record
}

// Store keeps every table in process memory. Row keys are the zero-based
// ordinal of the row in append order.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
}

func New() *Store {
	return &Store{tables: make(map[string]*table)}
}

// NewSeeded returns a store holding a small demo catalog with opening
// balances spread across the three locations.
func NewSeeded() *Store {
	s := New()
	products := []struct {
		code, name, cost, price string
		shop, terrace, godown   int
	}{
		{"A100", "Ceiling Fan 48in", "1450", "2400", 5, 0, 0},
		{"A200", "LED Panel 18W", "", "660", 12, 4, 30},
		{"B110", "Wall Switch Board", "90", "180", 40, 0, 120},
		{"B220", "PVC Conduit 3m", "55", "95", 20, 60, 200},
		{"C300", "Copper Wire 90m", "2100", "3150", 2, 0, 15},
	}
	for _, p := range products {
		rec := store.Record{
			schema.FieldCode:         p.code,
			schema.FieldName:         p.name,
			schema.FieldCostPrice:    p.cost,
			schema.FieldSellingPrice: p.price,
			domain.LocationShop.OpeningColumn():    strconv.Itoa(p.shop),
			domain.LocationTerrace.OpeningColumn(): strconv.Itoa(p.terrace),
			domain.LocationGodown.OpeningColumn():  strconv.Itoa(p.godown),
		}
		// Append on a fresh in-memory table cannot fail.
		_ = s.Append(context.Background(), schema.TableProducts, rec)
	}
	return s
}

func (s *Store) Append(_ context.Context, name string, rec store.Record) error {
	if strings.TrimSpace(name) == "" || len(rec) == 0 {
		return store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[tableKey(name)]
	if !ok {
		keys := make([]string, 0, len(rec))
		for k := range rec {
			keys = append(keys, k)
		}
		t = &table{name: name, headers: schema.HeaderOrder(name, keys)}
		s.tables[tableKey(name)] = t
	}

	row := make(store.Record, len(t.headers))
	for k, v := range rec {
		header, found := schema.MatchHeader(t.headers, k)
		if !found {
			t.headers = append(t.headers, k)
			header = k
		}
		row[header] = v
	}
	t.rows = append(t.rows, row)
	return nil
}

func (s *Store) Scan(_ context.Context, name string) ([]store.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[tableKey(name)]
	if !ok {
		return nil, nil
	}

	rows := make([]store.Row, 0, len(t.rows))
	for i, r := range t.rows {
		fields := make(store.Record, len(t.headers))
		for _, h := range t.headers {
			fields[h] = r[h]
		}
		rows = append(rows, store.Row{Key: strconv.Itoa(i), Fields: fields})
	}
	return rows, nil
}

func (s *Store) Headers(_ context.Context, name string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[tableKey(name)]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), t.headers...), nil
}

func (s *Store) UpdateField(_ context.Context, name string, key string, field string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[tableKey(name)]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrTableNotFound, name)
	}
	idx, err := strconv.Atoi(key)
	if err != nil || idx < 0 || idx >= len(t.rows) {
		return fmt.Errorf("%w: %s row %q", store.ErrNotFound, name, key)
	}
	header, found := schema.MatchHeader(t.headers, field)
	if !found {
		return fmt.Errorf("%w: %s has no field %q", store.ErrNotFound, name, field)
	}
	t.rows[idx][header] = value
	return nil
}

func tableKey(name string) string {
	return schema.LooseKey(name)
}
