package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrTableNotFound = errors.New("table not found")
	ErrInvalidRecord = errors.New("invalid record")
	// ErrUnavailable means the backend is shedding calls after repeated
	// failures.
	ErrUnavailable   = errors.New("record store unavailable")
)

// Record is one stored row keyed by the table's raw header names.
type Record map[string]string

// Row is a scanned record plus the opaque key UpdateField addresses it by.
type Row struct {
	Key    string
	Fields Record
}

// RecordStore is an append-only table-per-entity store. Individual appends
// and field updates are serialized by the implementation; there is no
// multi-row transaction.
type RecordStore interface {
	// Append adds rec to table, creating the table when it does not exist.
	// Keys are aligned to existing headers with schema.MatchHeader; keys that
	// match nothing extend the header set.
	Append(ctx context.Context, table string, rec Record) error
	// Scan returns every row in append order. A missing table yields no rows.
	Scan(ctx context.Context, table string) ([]Row, error)
	// Headers returns the table's header row, nil when the table is missing.
	Headers(ctx context.Context, table string) ([]string, error)
	// UpdateField overwrites one cell of the row identified by key.
	UpdateField(ctx context.Context, table string, key string, field string, value string) error
}
