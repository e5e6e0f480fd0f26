// Package sheets stores ledger tables as tabs of one Google spreadsheet, the
// first row of each tab being its header row. Row keys are 1-based sheet row
// numbers.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"nexuserp/backend/internal/schema"
	"nexuserp/backend/internal/store"
)

var errSpreadsheetRequired = errors.New("spreadsheet id is required")

type Config struct {
	SpreadsheetID   string
	CredentialsFile string
	CredentialsJSON string
}

type Store struct {
	svc           *gsheets.Service
	spreadsheetID string

	mu     sync.Mutex
	titles map[string]string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	id := strings.TrimSpace(cfg.SpreadsheetID)
	if id == "" {
		return nil, errSpreadsheetRequired
	}

	svc, err := gsheets.NewService(ctx, clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets client: %w", err)
	}

	s := &Store{svc: svc, spreadsheetID: id}
	if err := s.refreshTitles(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func clientOptions(cfg Config) []option.ClientOption {
	var opts []option.ClientOption
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, option.WithScopes(gsheets.SpreadsheetsScope))
	return opts
}

func (s *Store) Append(ctx context.Context, table string, rec store.Record) error {
	if strings.TrimSpace(table) == "" || len(rec) == 0 {
		return store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	title, ok := s.titles[schema.LooseKey(table)]
	var headers []string
	if !ok {
		keys := make([]string, 0, len(rec))
		for k := range rec {
			keys = append(keys, k)
		}
		headers = schema.HeaderOrder(table, keys)
		if err := s.addSheet(ctx, table, headers); err != nil {
			return err
		}
		title = table
	} else {
		var err error
		headers, err = s.readHeaders(ctx, title)
		if err != nil {
			return err
		}
	}

	grown := false
	aligned := make(map[string]string, len(rec))
	for k, v := range rec {
		header, found := schema.MatchHeader(headers, k)
		if !found {
			headers = append(headers, k)
			header = k
			grown = true
		}
		aligned[header] = v
	}
	if grown {
		if err := s.writeRow(ctx, title, 1, headers); err != nil {
			return err
		}
	}

	values := make([]any, len(headers))
	for i, h := range headers {
		values[i] = aligned[h]
	}
	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, quoteTitle(title)+"!A1", &gsheets.ValueRange{
		Values: [][]any{values},
	}).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append %s: %w", title, err)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, table string) ([]store.Row, error) {
	title, ok := s.title(table)
	if !ok {
		return nil, nil
	}

	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, quoteTitle(title)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", title, err)
	}
	return rowsFromValues(resp.Values), nil
}

func (s *Store) Headers(ctx context.Context, table string) ([]string, error) {
	title, ok := s.title(table)
	if !ok {
		return nil, nil
	}
	return s.readHeaders(ctx, title)
}

func (s *Store) UpdateField(ctx context.Context, table string, key string, field string, value string) error {
	title, ok := s.title(table)
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrTableNotFound, table)
	}
	rowNum, err := strconv.Atoi(key)
	if err != nil || rowNum < 2 {
		return fmt.Errorf("%w: %s row %q", store.ErrNotFound, table, key)
	}

	headers, err := s.readHeaders(ctx, title)
	if err != nil {
		return err
	}
	header, found := schema.MatchHeader(headers, field)
	if !found {
		return fmt.Errorf("%w: %s has no field %q", store.ErrNotFound, table, field)
	}
	col := 0
	for i, h := range headers {
		if h == header {
			col = i + 1
			break
		}
	}

	cell := fmt.Sprintf("%s!%s%d", quoteTitle(title), columnLetter(col), rowNum)
	_, err = s.svc.Spreadsheets.Values.Update(s.spreadsheetID, cell, &gsheets.ValueRange{
		Values: [][]any{{value}},
	}).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s row %q", store.ErrNotFound, table, key)
		}
		return fmt.Errorf("update %s: %w", cell, err)
	}
	return nil
}

func (s *Store) title(table string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	title, ok := s.titles[schema.LooseKey(table)]
	return title, ok
}

func (s *Store) refreshTitles(ctx context.Context) error {
	sheet, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("loading spreadsheet %s: %w", s.spreadsheetID, err)
	}
	titles := make(map[string]string, len(sheet.Sheets))
	for _, sh := range sheet.Sheets {
		if sh.Properties == nil {
			continue
		}
		titles[schema.LooseKey(sh.Properties.Title)] = sh.Properties.Title
	}

	s.mu.Lock()
	s.titles = titles
	s.mu.Unlock()
	return nil
}

// addSheet expects s.mu to be held.
func (s *Store) addSheet(ctx context.Context, title string, headers []string) error {
	_, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			AddSheet: &gsheets.AddSheetRequest{Properties: &gsheets.SheetProperties{Title: title}},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("add sheet %s: %w", title, err)
	}
	s.titles[schema.LooseKey(title)] = title
	return s.writeRow(ctx, title, 1, headers)
}

func (s *Store) readHeaders(ctx context.Context, title string) ([]string, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, quoteTitle(title)+"!1:1").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s headers: %w", title, err)
	}
	if len(resp.Values) == 0 {
		return []string{}, nil
	}
	headers := make([]string, 0, len(resp.Values[0]))
	for _, v := range resp.Values[0] {
		headers = append(headers, cellString(v))
	}
	return headers, nil
}

func (s *Store) writeRow(ctx context.Context, title string, rowNum int, cells []string) error {
	values := make([]any, len(cells))
	for i, c := range cells {
		values[i] = c
	}
	rng := fmt.Sprintf("%s!A%d", quoteTitle(title), rowNum)
	_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, rng, &gsheets.ValueRange{
		Values: [][]any{values},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write %s: %w", rng, err)
	}
	return nil
}

// rowsFromValues turns a sheet's value grid into rows keyed by the first
// row's headers. Blank rows keep their row number but are not returned.
func rowsFromValues(values [][]any) []store.Row {
	if len(values) == 0 {
		return nil
	}
	headers := make([]string, len(values[0]))
	for i, v := range values[0] {
		headers[i] = cellString(v)
	}

	rows := make([]store.Row, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		fields := make(store.Record, len(headers))
		blank := true
		for j, h := range headers {
			if h == "" {
				continue
			}
			val := ""
			if j < len(values[i]) {
				val = cellString(values[i][j])
			}
			if strings.TrimSpace(val) != "" {
				blank = false
			}
			fields[h] = val
		}
		if blank {
			continue
		}
		rows = append(rows, store.Row{Key: strconv.Itoa(i + 1), Fields: fields})
	}
	return rows
}

// columnLetter converts a 1-based column index to A1 notation.
func columnLetter(col int) string {
	if col < 1 {
		return ""
	}
	var out []byte
	for col > 0 {
		col--
		out = append([]byte{byte('A' + col%26)}, out...)
		col /= 26
	}
	return string(out)
}

func quoteTitle(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

func cellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return apiErr.Code == http.StatusNotFound
	}
	return false
}
