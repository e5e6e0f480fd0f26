// Package importer loads an .xlsx workbook exported from the shop's
// spreadsheets into a record store, one worksheet per table.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"nexuserp/backend/internal/logger"
	"nexuserp/backend/internal/schema"
	"nexuserp/backend/internal/store"
)

var (
	ErrUnknownTable       = errors.New("unknown table")
	ErrUnreadableWorkbook = errors.New("unreadable workbook")
)

type Options struct {
	// Tables limits the import to these tables. Empty means every known table.
	Tables []string
	Logger *logger.Logger
}

type Result struct {
	Rows          map[string]int `json:"rows"`
	SkippedSheets []string       `json:"skipped_sheets,omitempty"`
}

func Import(ctx context.Context, path string, rs store.RecordStore, opts Options) (Result, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", ErrUnreadableWorkbook, path, err)
	}
	defer f.Close()
	return importFile(ctx, f, rs, opts)
}

func ImportReader(ctx context.Context, r io.Reader, rs store.RecordStore, opts Options) (Result, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrUnreadableWorkbook, err)
	}
	defer f.Close()
	return importFile(ctx, f, rs, opts)
}

func importFile(ctx context.Context, f *excelize.File, rs store.RecordStore, opts Options) (Result, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	wanted, err := tableFilter(opts.Tables)
	if err != nil {
		return Result{}, err
	}

	result := Result{Rows: make(map[string]int)}
	for _, sheet := range f.GetSheetList() {
		spec, ok := schema.LookupTable(sheet)
		if !ok || (len(wanted) > 0 && !wanted[spec.Name]) {
			result.SkippedSheets = append(result.SkippedSheets, sheet)
			continue
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			return result, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		n, err := importRows(ctx, rs, spec.Name, rows)
		result.Rows[spec.Name] += n
		if err != nil {
			return result, fmt.Errorf("import sheet %s after %d rows: %w", sheet, n, err)
		}
		log.Info(log.WithFields(ctx, map[string]any{"sheet": sheet, "table": spec.Name, "rows": n}), "sheet imported")
	}
	sort.Strings(result.SkippedSheets)
	return result, nil
}

// importRows appends every non-blank data row and returns how many were
// written. The first row is the header.
func importRows(ctx context.Context, rs store.RecordStore, table string, rows [][]string) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		if h = strings.TrimSpace(h); h != "" {
			headers[i] = schema.MapHeader(h)
		}
	}

	written := 0
	for _, row := range rows[1:] {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		rec := make(store.Record, len(headers))
		blank := true
		for i, cell := range row {
			if i >= len(headers) || headers[i] == "" {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell != "" {
				blank = false
			}
			if prev, seen := rec[headers[i]]; seen && prev != "" {
				continue
			}
			rec[headers[i]] = cell
		}
		if blank {
			continue
		}
		if err := rs.Append(ctx, table, rec); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func tableFilter(names []string) (map[string]bool, error) {
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		spec, ok := schema.LookupTable(name)
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownTable, name)
		}
		wanted[spec.Name] = true
	}
	return wanted, nil
}
