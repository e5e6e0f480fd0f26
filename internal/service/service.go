package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"nexuserp/backend/internal/cache"
	"nexuserp/backend/internal/domain"
	"nexuserp/backend/internal/ledger"
	"nexuserp/backend/internal/logger"
	"nexuserp/backend/internal/metrics"
	"nexuserp/backend/internal/schema"
	"nexuserp/backend/internal/store"
)

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrSelfTransfer      = errors.New("source and destination locations are the same")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrProductNotFound   = errors.New("product not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvoiceExists     = errors.New("invoice already exists")
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02 15:04:05"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	CacheTTL          time.Duration
	LowStockThreshold decimal.Decimal
	Logger            *logger.Logger
	Metrics           *metrics.LedgerMetrics
}

type Service struct {
	store      store.RecordStore
	aggregator *ledger.Aggregator
	invoices   *ledger.InvoiceLedger
	snapshots  cache.SnapshotCache
	cacheTTL   time.Duration
	lowStock   decimal.Decimal
	log        *logger.Logger
	metrics    *metrics.LedgerMetrics
	now        func() time.Time
}

func New(rs store.RecordStore, snapshots cache.SnapshotCache, opts Options) *Service {
	if snapshots == nil {
		snapshots = cache.NoopSnapshotCache{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.LowStockThreshold.IsZero() {
		opts.LowStockThreshold = decimal.NewFromInt(3)
	}

	return &Service{
		store:      rs,
		aggregator: ledger.NewAggregator(rs),
		invoices:   ledger.NewInvoiceLedger(rs),
		snapshots:  snapshots,
		cacheTTL:   opts.CacheTTL,
		lowStock:   opts.LowStockThreshold,
		log:        opts.Logger,
		metrics:    opts.Metrics,
		now:        time.Now,
	}
}

// GetSnapshot serves the cached snapshot when one is live and otherwise
// replays every stream.
func (s *Service) GetSnapshot(ctx context.Context) (domain.Snapshot, error) {
	if cached, ok, err := s.snapshots.Get(ctx); err == nil && ok {
		s.metrics.CacheHit()
		return *cached, nil
	} else if err != nil {
		s.log.Warn(s.log.WithField(ctx, "error", err.Error()), "snapshot cache read failed")
	}
	s.metrics.CacheMiss()
	return s.rebuildSnapshot(ctx)
}

func (s *Service) rebuildSnapshot(ctx context.Context) (domain.Snapshot, error) {
	started := time.Now()
	snap, err := s.aggregator.Snapshot(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	s.metrics.ObserveSnapshot(time.Since(started))

	if len(snap.Skipped) > 0 {
		for k, n := range countDefects(snap.Skipped) {
			s.metrics.AddSkipped(k[0], k[1], n)
		}
		s.log.Warn(s.log.WithFields(ctx, map[string]any{
			"skipped": len(snap.Skipped),
			"defects": len(snap.Defects),
		}), "snapshot excluded rows")
	}
	for k, n := range countDefects(snap.Defects) {
		s.metrics.AddCoerced(k[0], k[1], n)
	}

	if s.cacheTTL > 0 {
		if err := s.snapshots.Set(ctx, &snap, s.cacheTTL); err != nil {
			s.log.Warn(s.log.WithField(ctx, "error", err.Error()), "snapshot cache write failed")
		}
	}
	return snap, nil
}

// countDefects groups defects by table and kind.
func countDefects(defects []domain.RowDefect) map[[2]string]int {
	counts := make(map[[2]string]int)
	for _, d := range defects {
		counts[[2]string{d.Table, string(d.Kind)}]++
	}
	return counts
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.snapshots.Invalidate(ctx); err != nil {
		s.log.Error(ctx, "snapshot cache invalidation failed", err)
	}
}

func (s *Service) Dashboard(ctx context.Context) (domain.Dashboard, error) {
	snap, err := s.GetSnapshot(ctx)
	if err != nil {
		return domain.Dashboard{}, err
	}

	perLocation := make(map[domain.Location]decimal.Decimal, len(domain.Locations))
	dash := domain.Dashboard{
		TotalStock:        decimal.Zero,
		AssetValue:        decimal.Zero,
		LowStockThreshold: s.lowStock,
		LowStock:          make([]domain.StockLine, 0, 8),
		SkippedRows:       len(snap.Skipped),
	}
	for _, line := range snap.Lines {
		dash.TotalStock = dash.TotalStock.Add(line.Total)
		dash.AssetValue = dash.AssetValue.Add(line.Total.Mul(line.SellingPrice))
		for _, loc := range domain.Locations {
			perLocation[loc] = perLocation[loc].Add(line.At(loc))
		}
		if line.At(domain.LocationShop).LessThan(s.lowStock) {
			dash.LowStock = append(dash.LowStock, line)
		}
	}
	for _, loc := range domain.Locations {
		dash.PerLocation = append(dash.PerLocation, domain.LocationStock{Location: loc, Qty: perLocation[loc]})
	}
	sort.SliceStable(dash.LowStock, func(i, j int) bool {
		return dash.LowStock[i].At(domain.LocationShop).LessThan(dash.LowStock[j].At(domain.LocationShop))
	})
	return dash, nil
}

// CheckSchema validates every table that already exists against its
// declared required fields.
func (s *Service) CheckSchema(ctx context.Context) error {
	names := make([]string, 0, len(schema.Tables))
	for name := range schema.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	var combined error
	for _, name := range names {
		headers, err := s.store.Headers(ctx, name)
		if err != nil {
			return fmt.Errorf("read %s headers: %w", name, err)
		}
		combined = multierr.Append(combined, schema.Validate(name, headers))
	}
	return combined
}

func (s *Service) appendRow(ctx context.Context, table string, rec store.Record) error {
	err := s.store.Append(ctx, table, rec)
	s.metrics.IncWrite(table, err)
	if err != nil {
		return fmt.Errorf("append %s: %w", table, err)
	}
	return nil
}

func (s *Service) updateCell(ctx context.Context, table string, key string, field string, value string) error {
	err := s.store.UpdateField(ctx, table, key, field, value)
	s.metrics.IncWrite(table, err)
	if err != nil {
		return fmt.Errorf("update %s row %s: %w", table, key, err)
	}
	return nil
}

// logAudit appends to the Logs table. A failure is logged and swallowed.
func (s *Service) logAudit(ctx context.Context, action string, details string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	err := s.store.Append(ctx, schema.TableLogs, store.Record{
		schema.FieldTimestamp: s.now().Format(timestampLayout),
		schema.FieldUser:      actor.Username,
		schema.FieldAction:    action,
		schema.FieldDetails:   details,
	})
	s.metrics.IncWrite(schema.TableLogs, err)
	if err != nil {
		s.log.Warn(s.log.WithFields(ctx, map[string]any{
			"action": action,
			"error":  err.Error(),
		}), "failed to write audit log")
	}
}

func requireOwner(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleOwner {
		return domain.Actor{}, fmt.Errorf("%w: owner role required", ErrForbidden)
	}
	return actor, nil
}

func invalid(msg string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(msg, args...))
}

func parseLocation(field string, raw string) (domain.Location, error) {
	loc, ok := domain.ParseLocation(raw)
	if !ok {
		return "", invalid("%s must be one of Shop, Terrace, Godown", field)
	}
	return loc, nil
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

func format(d decimal.Decimal) string {
	return schema.FormatDecimal(d)
}
