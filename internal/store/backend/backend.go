// Package backend opens the record store selected by configuration.
package backend

import (
	"context"
	"fmt"

	"nexuserp/backend/internal/config"
	"nexuserp/backend/internal/logger"
	"nexuserp/backend/internal/store"
	"nexuserp/backend/internal/store/memory"
	pgstore "nexuserp/backend/internal/store/postgres"
	"nexuserp/backend/internal/store/sheets"
)

// Opened is a ready record store plus whatever must be closed on shutdown.
type Opened struct {
	Store   store.RecordStore
	Name    string
	closers []func() error
}

func (o *Opened) Close() error {
	var firstErr error
	for i := len(o.closers) - 1; i >= 0; i-- {
		if err := o.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	o.closers = nil
	return firstErr
}

// Open never falls back to memory when a remote backend is configured but
// unreachable. Remote backends are wrapped in a circuit breaker.
func Open(ctx context.Context, cfg config.Config, log *logger.Logger, seed bool) (*Opened, error) {
	opened := &Opened{Name: cfg.StoreBackend}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		opened.Store = withBreaker("postgres", pg, log)
		opened.closers = append(opened.closers, pg.Close)
	case config.BackendSheets:
		sh, err := sheets.New(ctx, sheets.Config{
			SpreadsheetID:   cfg.SheetsSpreadsheetID,
			CredentialsFile: cfg.SheetsCredentialsFile,
			CredentialsJSON: cfg.SheetsCredentialsJSON,
		})
		if err != nil {
			return nil, fmt.Errorf("sheets unavailable: %w", err)
		}
		opened.Store = withBreaker("sheets", sh, log)
	case config.BackendMemory, "":
		opened.Name = config.BackendMemory
		if seed {
			opened.Store = memory.NewSeeded()
		} else {
			opened.Store = memory.New()
		}
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	log.Info(log.WithField(ctx, "backend", opened.Name), "record store ready")
	return opened, nil
}
