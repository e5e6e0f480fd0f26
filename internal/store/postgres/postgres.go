package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"nexuserp/backend/internal/schema"
	"nexuserp/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Store keeps each logical table as a row in ledger_tables plus its records
// as JSONB documents in ledger_rows. Row keys are ledger_rows.id.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the backing tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *Store) Append(ctx context.Context, table string, rec store.Record) error {
	if strings.TrimSpace(table) == "" || len(rec) == 0 {
		return store.ErrInvalidRecord
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	key := schema.LooseKey(table)
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	initial, err := json.Marshal(schema.HeaderOrder(table, keys))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_tables (table_key, display_name, headers, created_at)
		VALUES ($1,$2,$3::jsonb,now())
		ON CONFLICT (table_key) DO NOTHING
	`, key, table, string(initial)); err != nil {
		return err
	}

	headers, err := lockHeaders(ctx, tx, key)
	if err != nil {
		return err
	}

	row := make(store.Record, len(rec))
	grown := false
	for k, v := range rec {
		header, found := schema.MatchHeader(headers, k)
		if !found {
			headers = append(headers, k)
			header = k
			grown = true
		}
		row[header] = v
	}

	if grown {
		encoded, err := json.Marshal(headers)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE ledger_tables SET headers = $2::jsonb WHERE table_key = $1
		`, key, string(encoded)); err != nil {
			return err
		}
	}

	fields, err := json.Marshal(row)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_rows (table_key, fields, created_at)
		VALUES ($1,$2::jsonb,now())
	`, key, string(fields)); err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s", store.ErrTableNotFound, table)
		}
		return err
	}

	return tx.Commit()
}

func (s *Store) Scan(ctx context.Context, table string) ([]store.Row, error) {
	key := schema.LooseKey(table)
	headers, err := s.headers(ctx, key)
	if err != nil {
		return nil, err
	}
	if headers == nil {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fields
		FROM ledger_rows
		WHERE table_key = $1
		ORDER BY id
	`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.Row, 0, 128)
	for rows.Next() {
		var (
			id  int64
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		stored := map[string]string{}
		if err := json.Unmarshal(raw, &stored); err != nil {
			return nil, fmt.Errorf("decode %s row %d: %w", table, id, err)
		}
		fields := make(store.Record, len(headers))
		for _, h := range headers {
			fields[h] = stored[h]
		}
		out = append(out, store.Row{Key: strconv.FormatInt(id, 10), Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func (s *Store) Headers(ctx context.Context, table string) ([]string, error) {
	return s.headers(ctx, schema.LooseKey(table))
}

func (s *Store) UpdateField(ctx context.Context, table string, key string, field string, value string) error {
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s row %q", store.ErrNotFound, table, key)
	}

	tableKey := schema.LooseKey(table)
	headers, err := s.headers(ctx, tableKey)
	if err != nil {
		return err
	}
	if headers == nil {
		return fmt.Errorf("%w: %s", store.ErrTableNotFound, table)
	}
	header, found := schema.MatchHeader(headers, field)
	if !found {
		return fmt.Errorf("%w: %s has no field %q", store.ErrNotFound, table, field)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE ledger_rows
		SET fields = jsonb_set(fields, ARRAY[$1::text], to_jsonb($2::text), true)
		WHERE id = $3 AND table_key = $4
	`, header, value, id, tableKey)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s row %q", store.ErrNotFound, table, key)
	}
	return nil
}

func (s *Store) headers(ctx context.Context, tableKey string) ([]string, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT headers FROM ledger_tables WHERE table_key = $1
	`, tableKey).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return decodeHeaders(raw)
}

func lockHeaders(ctx context.Context, tx *sql.Tx, tableKey string) ([]string, error) {
	var raw []byte
	err := tx.QueryRowContext(ctx, `
		SELECT headers FROM ledger_tables WHERE table_key = $1 FOR UPDATE
	`, tableKey).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTableNotFound
		}
		return nil, err
	}
	return decodeHeaders(raw)
}

func decodeHeaders(raw []byte) ([]string, error) {
	headers := []string{}
	if len(raw) == 0 {
		return headers, nil
	}
	if err := json.Unmarshal(raw, &headers); err != nil {
		return nil, fmt.Errorf("decode headers: %w", err)
	}
	return headers, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
