package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexuserp/backend/internal/schema"
	"nexuserp/backend/internal/store"
)

func TestAppendCreatesTableWithDeclaredColumnOrder(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.Append(ctx, schema.TablePurchase, store.Record{
		"Zeta":               "z",
		schema.FieldQty:      "4",
		schema.FieldCode:     "A100",
		schema.FieldLocation: "Shop",
	})
	require.NoError(t, err)

	headers, err := s.Headers(ctx, schema.TablePurchase)
	require.NoError(t, err)
	assert.Equal(t, []string{schema.FieldCode, schema.FieldQty, schema.FieldLocation, "Zeta"}, headers)
}

func TestAppendAlignsKeysToExistingHeaders(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "Purchase", store.Record{"Nsp code": "A100", "units": "2", "loc": "Shop"}))
	require.NoError(t, s.Append(ctx, "purchase", store.Record{schema.FieldCode: "A200", schema.FieldQty: "5", "Vendor": "Acme"}))

	rows, err := s.Scan(ctx, schema.TablePurchase)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "A200", rows[1].Fields["Nsp code"])
	assert.Equal(t, "5", rows[1].Fields["units"])
	assert.Equal(t, "", rows[1].Fields["loc"])
	assert.Equal(t, "Acme", rows[1].Fields["Vendor"])
	assert.Equal(t, "", rows[0].Fields["Vendor"])
	assert.Equal(t, "0", rows[0].Key)
	assert.Equal(t, "1", rows[1].Key)
}

func TestScanMissingTableReturnsNoRows(t *testing.T) {
	s := New()
	rows, err := s.Scan(context.Background(), schema.TableSales)
	require.NoError(t, err)
	assert.Empty(t, rows)

	headers, err := s.Headers(context.Background(), schema.TableSales)
	require.NoError(t, err)
	assert.Nil(t, headers)
}

func TestUpdateField(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, schema.TableSales, store.Record{
		schema.FieldInvoiceNo: "INV-1",
		"Paid Amount":         "0",
		"Balance Due":         "50",
	}))

	require.NoError(t, s.UpdateField(ctx, schema.TableSales, "0", "Paid Amount", "20"))
	rows, err := s.Scan(ctx, schema.TableSales)
	require.NoError(t, err)
	assert.Equal(t, "20", rows[0].Fields["Paid Amount"])

	err = s.UpdateField(ctx, schema.TableSales, "7", "Paid Amount", "1")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	err = s.UpdateField(ctx, schema.TableSales, "0", "Nope", "1")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	err = s.UpdateField(ctx, schema.TableTransfers, "0", schema.FieldQty, "1")
	assert.True(t, errors.Is(err, store.ErrTableNotFound))
}

func TestAppendRejectsEmptyRecord(t *testing.T) {
	s := New()
	assert.ErrorIs(t, s.Append(context.Background(), schema.TableSales, store.Record{}), store.ErrInvalidRecord)
	assert.ErrorIs(t, s.Append(context.Background(), " ", store.Record{"a": "b"}), store.ErrInvalidRecord)
}

func TestScanReturnsCopies(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	rows, err := s.Scan(ctx, schema.TableProducts)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	rows[0].Fields[schema.FieldCode] = "mutated"

	again, err := s.Scan(ctx, schema.TableProducts)
	require.NoError(t, err)
	assert.Equal(t, "A100", again[0].Fields[schema.FieldCode])
	assert.Equal(t, "5", again[0].Fields["Op_Shop"])
}

func TestConcurrentAppends(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Append(ctx, schema.TableTransfers, store.Record{schema.FieldCode: "A100", schema.FieldQty: "1"})
		}()
	}
	wg.Wait()

	rows, err := s.Scan(ctx, schema.TableTransfers)
	require.NoError(t, err)
	assert.Len(t, rows, 50)
}
