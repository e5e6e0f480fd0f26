package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"nexuserp/backend/internal/importer"
)

// ImportWorkbook appends every row of an uploaded .xlsx to the tables its
// sheets are named after. Rows already appended stay when a later sheet
// fails, so the cache is invalidated either way.
func (s *Service) ImportWorkbook(ctx context.Context, r io.Reader, tables []string) (importer.Result, error) {
	if _, err := requireOwner(ctx); err != nil {
		return importer.Result{}, err
	}

	res, err := importer.ImportReader(ctx, r, s.store, importer.Options{Tables: tables, Logger: s.log})
	imported := 0
	for _, n := range res.Rows {
		imported += n
	}
	if imported > 0 {
		s.invalidate(ctx)
	}
	if err != nil {
		if errors.Is(err, importer.ErrUnknownTable) || errors.Is(err, importer.ErrUnreadableWorkbook) {
			return res, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return res, err
	}

	s.logAudit(ctx, "Import", fmt.Sprintf("%d rows from %d sheets", imported, len(res.Rows)))
	return res, nil
}
