package importer

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"nexuserp/backend/internal/domain"
	"nexuserp/backend/internal/ledger"
	"nexuserp/backend/internal/schema"
	"nexuserp/backend/internal/store/memory"
)

func writeWorkbook(t *testing.T, sheets map[string][][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	first := true
	for name, rows := range sheets {
		if first {
			require.NoError(t, f.SetSheetName("Sheet1", name))
			first = false
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}

	path := filepath.Join(t.TempDir(), "book.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestImportMapsSheetsAndHeaders(t *testing.T) {
	path := writeWorkbook(t, map[string][][]any{
		"products": {
			{"Code", "Item", "SP", "Op_Shop", "Op_Big"},
			{"A100", "Ceiling Fan", "2400", "5", "2"},
			{},
			{"A200", "LED Panel", "660", "1", "0"},
		},
		"Purchase": {
			{"nsp code", "Units", "Loc"},
			{"a100", "3", "big godown"},
		},
		"Notes": {
			{"anything"},
			{"ignored"},
		},
	})
	rs := memory.New()

	res, err := Import(context.Background(), path, rs, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows[schema.TableProducts])
	assert.Equal(t, 1, res.Rows[schema.TablePurchase])
	assert.Equal(t, []string{"Notes"}, res.SkippedSheets)

	headers, err := rs.Headers(context.Background(), schema.TableProducts)
	require.NoError(t, err)
	assert.Contains(t, headers, schema.FieldCode)
	assert.Contains(t, headers, domain.LocationGodown.OpeningColumn())

	snap, err := ledger.NewAggregator(rs).Snapshot(context.Background())
	require.NoError(t, err)
	line, ok := snap.Line("A100")
	require.True(t, ok)
	assert.Equal(t, "5", line.At(domain.LocationShop).String())
	assert.Equal(t, "5", line.At(domain.LocationGodown).String())
	assert.Empty(t, snap.Skipped)
}

func TestImportHonorsTableFilter(t *testing.T) {
	path := writeWorkbook(t, map[string][][]any{
		"Products": {{"NSP Code"}, {"A100"}},
		"Sales":    {{"Invoice No", "NSP Code"}, {"INV-1", "A100"}},
	})
	rs := memory.New()

	res, err := Import(context.Background(), path, rs, Options{Tables: []string{"sales"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{schema.TableSales: 1}, res.Rows)
	assert.Equal(t, []string{"Products"}, res.SkippedSheets)

	_, err = Import(context.Background(), path, rs, Options{Tables: []string{"Invoices"}})
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestImportMissingFile(t *testing.T) {
	_, err := Import(context.Background(), filepath.Join(t.TempDir(), "nope.xlsx"), memory.New(), Options{})
	assert.ErrorIs(t, err, ErrUnreadableWorkbook)
}

func TestImportReaderRejectsNonWorkbook(t *testing.T) {
	_, err := ImportReader(context.Background(), strings.NewReader("not a zip"), memory.New(), Options{})
	assert.ErrorIs(t, err, ErrUnreadableWorkbook)
}
