package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"nexuserp/backend/internal/cache"
	"nexuserp/backend/internal/domain"
	"nexuserp/backend/internal/ledger"
	"nexuserp/backend/internal/metrics"
	"nexuserp/backend/internal/schema"
	"nexuserp/backend/internal/store"
	"nexuserp/backend/internal/store/memory"
)

var errStoreDown = errors.New("store down")

// failingStore fails Append on one table after okAppends successful calls.
type failingStore struct {
	store.RecordStore
	table     string
	okAppends int
	appends   int
}

func (f *failingStore) Append(ctx context.Context, table string, rec store.Record) error {
	if schema.LooseKey(table) == schema.LooseKey(f.table) {
		f.appends++
		if f.appends > f.okAppends {
			return errStoreDown
		}
	}
	return f.RecordStore.Append(ctx, table, rec)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ownerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleOwner})
}

func managerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "floor", Role: domain.RoleManager})
}

func newTestService(rs store.RecordStore, opts Options) *Service {
	svc := New(rs, cache.NewMemorySnapshotCache(), opts)
	svc.now = func() time.Time {
		return time.Date(2024, 3, 9, 14, 30, 0, 0, time.UTC)
	}
	return svc
}

func stockAt(t *testing.T, svc *Service, code string, loc domain.Location) string {
	t.Helper()
	snap, err := svc.GetSnapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	line, ok := snap.Line(code)
	if !ok {
		t.Fatalf("expected %s in snapshot", code)
	}
	return line.At(loc).String()
}

func scanTable(t *testing.T, rs store.RecordStore, table string) []store.Row {
	t.Helper()
	rows, err := rs.Scan(context.Background(), table)
	if err != nil {
		t.Fatalf("scan %s failed: %v", table, err)
	}
	return rows
}

func TestRecordPurchaseAddsStockAndAudits(t *testing.T) {
	rs := memory.NewSeeded()
	svc := newTestService(rs, Options{})

	ev, err := svc.RecordPurchase(managerCtx(), domain.PurchaseRequest{
		Code:     " A100 ",
		Qty:      dec("3"),
		Location: "big godown",
		Vendor:   "Havells",
		UnitCost: dec("1400"),
	})
	if err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if ev.Location != domain.LocationGodown || ev.Date != "2024-03-09" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if got := stockAt(t, svc, "a100", domain.LocationGodown); got != "3" {
		t.Fatalf("expected godown stock 3, got %s", got)
	}

	logs := scanTable(t, rs, schema.TableLogs)
	if len(logs) != 1 || logs[0].Fields[schema.FieldAction] != "Purchase" || logs[0].Fields[schema.FieldUser] != "floor" {
		t.Fatalf("expected one Purchase audit row by floor, got %+v", logs)
	}
	if logs[0].Fields[schema.FieldTimestamp] != "2024-03-09 14:30:00" {
		t.Fatalf("unexpected audit timestamp %q", logs[0].Fields[schema.FieldTimestamp])
	}
}

func TestRecordPurchaseRegistersUnseenCode(t *testing.T) {
	rs := memory.NewSeeded()
	svc := newTestService(rs, Options{})

	if _, err := svc.RecordPurchase(managerCtx(), domain.PurchaseRequest{
		Code:     "Z900",
		Name:     "Fuse 32A",
		Qty:      dec("4"),
		Location: "Shop",
		UnitCost: dec("35"),
	}); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}

	snap, err := svc.GetSnapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	line, ok := snap.Line("Z900")
	if !ok {
		t.Fatalf("expected auto-registered product in snapshot")
	}
	if line.Name != "Fuse 32A" || line.At(domain.LocationShop).String() != "4" || line.CostPrice.String() != "35" {
		t.Fatalf("unexpected line %+v", line)
	}
	if len(snap.Skipped) != 0 {
		t.Fatalf("expected no skipped rows, got %+v", snap.Skipped)
	}
}

func TestRecordPurchaseValidation(t *testing.T) {
	svc := newTestService(memory.NewSeeded(), Options{})

	cases := []domain.PurchaseRequest{
		{Code: "", Qty: dec("1"), Location: "Shop"},
		{Code: "A100", Qty: dec("0"), Location: "Shop"},
		{Code: "A100", Qty: dec("1"), Location: "Basement"},
		{Code: "A100", Qty: dec("1"), Location: "Shop", UnitCost: dec("-1")},
	}
	for i, req := range cases {
		if _, err := svc.RecordPurchase(managerCtx(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("case %d: expected invalid request, got %v", i, err)
		}
	}
}

func TestRecordSaleWritesOneRowPerLine(t *testing.T) {
	rs := memory.NewSeeded()
	svc := newTestService(rs, Options{})

	resp, err := svc.RecordSale(managerCtx(), domain.SaleRequest{
		Customer:  "R. Kumar",
		Phone:     "9800000000",
		Location:  "Shop",
		PaidTotal: dec("1000"),
		Lines: []domain.SaleLine{
			{Code: "A100", Qty: dec("2"), Price: dec("2400"), Discount: dec("100")},
			{Code: "a200", Qty: dec("1"), Price: dec("660")},
		},
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}
	if !strings.HasPrefix(resp.InvoiceNo, "INV-") {
		t.Fatalf("expected generated invoice number, got %q", resp.InvoiceNo)
	}
	if resp.Total.String() != "5260" || resp.Balance.String() != "4260" || resp.LinesWritten != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}

	rows := scanTable(t, rs, schema.TableSales)
	if len(rows) != 2 {
		t.Fatalf("expected 2 sales rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row.Fields[schema.FieldInvoiceNo] != resp.InvoiceNo {
			t.Fatalf("row not tagged with invoice: %+v", row.Fields)
		}
		if row.Fields[schema.FieldPaid] != "1000" || row.Fields[schema.FieldBalance] != "4260" {
			t.Fatalf("invoice totals not duplicated onto line: %+v", row.Fields)
		}
		if row.Fields[schema.FieldMode] != "Cash" {
			t.Fatalf("expected default mode Cash, got %q", row.Fields[schema.FieldMode])
		}
	}
	if rows[0].Fields[schema.FieldTotal] != "4600" || rows[0].Fields[schema.FieldName] != "Ceiling Fan 48in" {
		t.Fatalf("unexpected first line %+v", rows[0].Fields)
	}

	if got := stockAt(t, svc, "A100", domain.LocationShop); got != "3" {
		t.Fatalf("expected shop stock 3 after sale, got %s", got)
	}
}

func TestRecordSaleRejectsWhatTheLocationCannotCover(t *testing.T) {
	rs := memory.NewSeeded()
	svc := newTestService(rs, Options{})

	_, err := svc.RecordSale(managerCtx(), domain.SaleRequest{
		Location: "Shop",
		Lines: []domain.SaleLine{
			{Code: "C300", Qty: dec("2"), Price: dec("3150")},
			{Code: "c300", Qty: dec("1"), Price: dec("3150")},
		},
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock across summed lines, got %v", err)
	}

	_, err = svc.RecordSale(managerCtx(), domain.SaleRequest{
		Location: "Shop",
		Lines:    []domain.SaleLine{{Code: "NOPE", Qty: dec("1"), Price: dec("1")}},
	})
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}

	_, err = svc.RecordSale(managerCtx(), domain.SaleRequest{
		Location: "Shop",
		Lines:    []domain.SaleLine{{Code: "A100", Qty: dec("1"), Price: dec("10"), Discount: dec("11")}},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected discount above price to be invalid, got %v", err)
	}

	if rows := scanTable(t, rs, schema.TableSales); len(rows) != 0 {
		t.Fatalf("expected no sales rows, got %d", len(rows))
	}
}

func TestRecordSaleRejectsExistingInvoiceNumber(t *testing.T) {
	rs := memory.NewSeeded()
	svc := newTestService(rs, Options{})

	if _, err := svc.RecordSale(managerCtx(), domain.SaleRequest{
		InvoiceNo: "INV-7",
		Location:  "Shop",
		Lines:     []domain.SaleLine{{Code: "B110", Qty: dec("1"), Price: dec("100")}},
	}); err != nil {
		t.Fatalf("first sale failed: %v", err)
	}

	_, err := svc.RecordSale(managerCtx(), domain.SaleRequest{
		InvoiceNo: " inv-7 ",
		Location:  "Shop",
		Lines:     []domain.SaleLine{{Code: "B110", Qty: dec("5"), Price: dec("100")}},
	})
	if !errors.Is(err, ErrInvoiceExists) {
		t.Fatalf("expected existing invoice to be rejected, got %v", err)
	}
	if rows := scanTable(t, rs, schema.TableSales); len(rows) != 1 {
		t.Fatalf("expected the earlier invoice untouched, got %d sales rows", len(rows))
	}

	res, err := svc.SettleInvoice(managerCtx(), "INV-7", domain.SettlementRequest{Amount: dec("100")})
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if len(res.Rows) != 1 || !res.Rows[0].Balance.IsZero() {
		t.Fatalf("unexpected settlement %+v", res)
	}
}

func TestRecordSalePartialWriteInvalidatesCache(t *testing.T) {
	rs := &failingStore{RecordStore: memory.NewSeeded(), table: schema.TableSales, okAppends: 1}
	svc := newTestService(rs, Options{CacheTTL: time.Minute})

	if got := stockAt(t, svc, "A200", domain.LocationShop); got != "12" {
		t.Fatalf("expected opening shop stock 12, got %s", got)
	}

	resp, err := svc.RecordSale(managerCtx(), domain.SaleRequest{
		InvoiceNo: "INV-77",
		Location:  "Shop",
		Lines: []domain.SaleLine{
			{Code: "A200", Qty: dec("2"), Price: dec("660")},
			{Code: "B110", Qty: dec("1"), Price: dec("180")},
		},
	})
	if !errors.Is(err, ledger.ErrPartialWrite) || !errors.Is(err, errStoreDown) {
		t.Fatalf("expected partial write wrapping the store error, got %v", err)
	}
	if resp.LinesWritten != 1 || resp.InvoiceNo != "INV-77" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got := stockAt(t, svc, "A200", domain.LocationShop); got != "10" {
		t.Fatalf("expected cache invalidated and shop stock 10, got %s", got)
	}
}

func TestFirstSaleLineFailureIsNotPartial(t *testing.T) {
	rs := &failingStore{RecordStore: memory.NewSeeded(), table: schema.TableSales}
	svc := newTestService(rs, Options{})

	_, err := svc.RecordSale(managerCtx(), domain.SaleRequest{
		Location: "Shop",
		Lines:    []domain.SaleLine{{Code: "A200", Qty: dec("1"), Price: dec("660")}},
	})
	if !errors.Is(err, errStoreDown) || errors.Is(err, ledger.ErrPartialWrite) {
		t.Fatalf("expected plain store error, got %v", err)
	}
}

func TestRecordTransfer(t *testing.T) {
	rs := memory.NewSeeded()
	svc := newTestService(rs, Options{})

	if _, err := svc.RecordTransfer(managerCtx(), domain.TransferRequest{Code: "A100", Qty: dec("1"), From: "Shop", To: "shop"}); !errors.Is(err, ErrSelfTransfer) {
		t.Fatalf("expected self transfer error, got %v", err)
	}
	if _, err := svc.RecordTransfer(managerCtx(), domain.TransferRequest{Code: "A100", Qty: dec("6"), From: "Shop", To: "Terrace"}); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if _, err := svc.RecordTransfer(managerCtx(), domain.TransferRequest{Code: "Q1", Qty: dec("1"), From: "Shop", To: "Terrace"}); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}

	ev, err := svc.RecordTransfer(managerCtx(), domain.TransferRequest{Code: "a100", Qty: dec("2"), From: "Shop", To: "Terrace Godown"})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if ev.Code != "A100" || ev.To != domain.LocationTerrace {
		t.Fatalf("unexpected event %+v", ev)
	}
	if got := stockAt(t, svc, "A100", domain.LocationShop); got != "3" {
		t.Fatalf("expected shop 3, got %s", got)
	}
	if got := stockAt(t, svc, "A100", domain.LocationTerrace); got != "2" {
		t.Fatalf("expected terrace 2, got %s", got)
	}

	rows := scanTable(t, rs, schema.TableTransfers)
	if len(rows) != 1 || rows[0].Fields[schema.FieldUser] != "floor" || rows[0].Fields[schema.FieldName] != "Ceiling Fan 48in" {
		t.Fatalf("unexpected transfer rows %+v", rows)
	}
}

func TestGetSnapshotServesCacheUntilServiceWrite(t *testing.T) {
	rs := memory.NewSeeded()
	svc := newTestService(rs, Options{CacheTTL: time.Minute})

	if got := stockAt(t, svc, "A100", domain.LocationGodown); got != "0" {
		t.Fatalf("expected 0, got %s", got)
	}
	// A row written behind the service's back stays invisible until the
	// cache is invalidated.
	if err := rs.Append(context.Background(), schema.TablePurchase, store.Record{
		schema.FieldCode: "A100", schema.FieldQty: "5", schema.FieldLocation: "Godown",
	}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if got := stockAt(t, svc, "A100", domain.LocationGodown); got != "0" {
		t.Fatalf("expected cached 0, got %s", got)
	}

	if _, err := svc.RecordPurchase(managerCtx(), domain.PurchaseRequest{Code: "A100", Qty: dec("1"), Location: "Godown"}); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if got := stockAt(t, svc, "A100", domain.LocationGodown); got != "6" {
		t.Fatalf("expected 6 after invalidation, got %s", got)
	}
}

func TestSnapshotCountsCoercedValuesApartFromSkippedRows(t *testing.T) {
	rs := memory.NewSeeded()
	reg := prometheus.NewRegistry()
	svc := newTestService(rs, Options{Metrics: metrics.NewLedgerMetrics(reg)})

	if err := rs.Append(context.Background(), schema.TablePurchase, store.Record{
		schema.FieldCode: "A100", schema.FieldQty: "abc", schema.FieldLocation: "Shop",
	}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := rs.Append(context.Background(), schema.TablePurchase, store.Record{
		schema.FieldQty: "2", schema.FieldLocation: "Shop",
	}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if _, err := svc.GetSnapshot(context.Background()); err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	if got := counterTotal(t, reg, "ledger_coerced_values_total", schema.TablePurchase, string(domain.DefectMalformedValue)); got != 1 {
		t.Fatalf("expected 1 coerced value, got %v", got)
	}
	if got := counterTotal(t, reg, "ledger_skipped_rows_total", schema.TablePurchase, string(domain.DefectMalformedValue)); got != 0 {
		t.Fatalf("coerced value counted as skipped row: %v", got)
	}
	if got := counterTotal(t, reg, "ledger_skipped_rows_total", schema.TablePurchase, string(domain.DefectMissingJoinKey)); got != 1 {
		t.Fatalf("expected 1 skipped row, got %v", got)
	}
}

// counterTotal reads the counter series labelled with table and kind.
func counterTotal(t *testing.T, reg *prometheus.Registry, name, table, kind string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	var total float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			want := map[string]string{"table": table, "kind": kind}
			matched := 0
			for _, l := range m.GetLabel() {
				if v, ok := want[l.GetName()]; ok && v == l.GetValue() {
					matched++
				}
			}
			if matched == len(want) {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

func TestSettleInvoiceJournalsAndAudits(t *testing.T) {
	rs := memory.NewSeeded()
	svc := newTestService(rs, Options{})

	if _, err := svc.RecordSale(managerCtx(), domain.SaleRequest{
		InvoiceNo: "INV-T1",
		Location:  "Shop",
		PaidTotal: dec("400"),
		Lines:     []domain.SaleLine{{Code: "A100", Qty: dec("1"), Price: dec("2400")}},
	}); err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	res, err := svc.SettleInvoice(managerCtx(), " inv-t1 ", domain.SettlementRequest{Amount: dec("500")})
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0].Balance.String() != "1500" || res.Rows[0].Paid.String() != "900" {
		t.Fatalf("unexpected settlement %+v", res)
	}

	journal := scanTable(t, rs, schema.TableSettlements)
	if len(journal) != 1 || journal[0].Fields[schema.FieldAmountPaid] != "500" {
		t.Fatalf("expected one settlement journal row, got %+v", journal)
	}

	history, err := svc.InvoiceSettlements(managerCtx(), "INV-T1")
	if err != nil {
		t.Fatalf("settlement history failed: %v", err)
	}
	if len(history.Settlements) != 1 || history.TotalPaid.String() != "500" || history.Settlements[0].Date != "2024-03-09" {
		t.Fatalf("unexpected history %+v", history)
	}
	if _, err := svc.InvoiceSettlements(managerCtx(), "  "); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request for blank invoice, got %v", err)
	}

	pending, err := svc.PendingInvoices(context.Background())
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Balance.String() != "1500" {
		t.Fatalf("unexpected pending %+v", pending)
	}

	logs, err := svc.ListAuditLogs(ownerCtx(), 1)
	if err != nil {
		t.Fatalf("list logs failed: %v", err)
	}
	if len(logs) != 1 || logs[0].Action != "Settlement" {
		t.Fatalf("expected latest audit entry to be Settlement, got %+v", logs)
	}
}

func TestSettleInvoiceErrors(t *testing.T) {
	rs := memory.NewSeeded()
	svc := newTestService(rs, Options{})

	if _, err := svc.SettleInvoice(managerCtx(), "INV-404", domain.SettlementRequest{Amount: dec("5")}); !errors.Is(err, ledger.ErrInvoiceNotFound) {
		t.Fatalf("expected invoice not found, got %v", err)
	}
	if _, err := svc.SettleInvoice(managerCtx(), "INV-404", domain.SettlementRequest{Amount: dec("0")}); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if rows := scanTable(t, rs, schema.TableSettlements); len(rows) != 0 {
		t.Fatalf("expected no journal rows, got %d", len(rows))
	}
}

func TestRegisterProductRequiresOwner(t *testing.T) {
	svc := newTestService(memory.NewSeeded(), Options{})

	_, _, err := svc.RegisterProduct(managerCtx(), domain.ProductRequest{Code: "N1", SellingPrice: dec("10")})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := svc.ListVendorPayments(context.Background()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden without actor, got %v", err)
	}
}

func TestRegisterProductDerivesCostAndUpserts(t *testing.T) {
	rs := memory.NewSeeded()
	svc := newTestService(rs, Options{})

	p, created, err := svc.RegisterProduct(ownerCtx(), domain.ProductRequest{
		Code:         "N1",
		Name:         "Night Lamp",
		SellingPrice: dec("330"),
		Opening:      map[domain.Location]decimal.Decimal{domain.LocationTerrace: dec("7")},
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if !created || p.CostPrice.String() != "100" {
		t.Fatalf("expected created product with derived cost 100, got %+v created=%v", p, created)
	}
	if got := stockAt(t, svc, "N1", domain.LocationTerrace); got != "7" {
		t.Fatalf("expected opening terrace 7, got %s", got)
	}

	p, created, err = svc.RegisterProduct(ownerCtx(), domain.ProductRequest{
		Code:         "a100",
		SellingPrice: dec("2500"),
		CostPrice:    dec("1500"),
		Opening:      map[domain.Location]decimal.Decimal{domain.LocationShop: dec("99")},
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if created || p.SellingPrice.String() != "2500" || p.Name != "Ceiling Fan 48in" {
		t.Fatalf("unexpected upsert result %+v created=%v", p, created)
	}
	if got := stockAt(t, svc, "A100", domain.LocationShop); got != "5" {
		t.Fatalf("expected opening balance untouched by update, got %s", got)
	}
	if rows := scanTable(t, rs, schema.TableProducts); len(rows) != 6 {
		t.Fatalf("expected 6 product rows, got %d", len(rows))
	}
}

func TestUpdateProductPrices(t *testing.T) {
	svc := newTestService(memory.NewSeeded(), Options{})

	price := dec("200")
	p, err := svc.UpdateProductPrices(ownerCtx(), "B110", domain.ProductPriceUpdate{SellingPrice: &price})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if p.SellingPrice.String() != "200" || p.CostPrice.String() != "90" {
		t.Fatalf("unexpected product %+v", p)
	}

	if _, err := svc.UpdateProductPrices(ownerCtx(), "NOPE", domain.ProductPriceUpdate{SellingPrice: &price}); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}
	if _, err := svc.UpdateProductPrices(ownerCtx(), "B110", domain.ProductPriceUpdate{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected empty update to be invalid, got %v", err)
	}
}

func TestUpdateProductPricesReachesDuplicateRows(t *testing.T) {
	rs := memory.New()
	ctx := context.Background()
	for _, price := range []string{"100", "120"} {
		if err := rs.Append(ctx, schema.TableProducts, store.Record{
			schema.FieldCode: "A100", schema.FieldName: "Ceiling Fan", schema.FieldSellingPrice: price,
		}); err != nil {
			t.Fatalf("seed product: %v", err)
		}
	}
	svc := newTestService(rs, Options{})

	price := dec("999")
	p, err := svc.UpdateProductPrices(ownerCtx(), "a100", domain.ProductPriceUpdate{SellingPrice: &price})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if p.SellingPrice.String() != "999" {
		t.Fatalf("expected returned selling price 999, got %s", p.SellingPrice)
	}

	products, err := svc.ListProducts(ctx)
	if err != nil {
		t.Fatalf("list products failed: %v", err)
	}
	if len(products) != 1 || products[0].SellingPrice.String() != "999" {
		t.Fatalf("expected catalog price 999 after update, got %+v", products)
	}
	for _, row := range scanTable(t, rs, schema.TableProducts) {
		if row.Fields[schema.FieldSellingPrice] != "999" {
			t.Fatalf("expected every A100 row updated, got %+v", row.Fields)
		}
	}
}

func TestListProductsFillsDerivedCost(t *testing.T) {
	svc := newTestService(memory.NewSeeded(), Options{})

	products, err := svc.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(products) != 5 || products[1].Code != "A200" {
		t.Fatalf("unexpected products %+v", products)
	}
	if products[1].CostPrice.String() != "200" {
		t.Fatalf("expected derived cost 200, got %s", products[1].CostPrice)
	}
}

func TestVendorPaymentsNewestFirst(t *testing.T) {
	svc := newTestService(memory.New(), Options{})

	for _, vendor := range []string{"Havells", "Polycab"} {
		if _, err := svc.RecordVendorPayment(ownerCtx(), domain.VendorPaymentRequest{Vendor: vendor, Amount: dec("1200.50")}); err != nil {
			t.Fatalf("payment failed: %v", err)
		}
	}
	if _, err := svc.RecordVendorPayment(ownerCtx(), domain.VendorPaymentRequest{Vendor: "X", Amount: dec("0")}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid amount, got %v", err)
	}

	payments, err := svc.ListVendorPayments(ownerCtx())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(payments) != 2 || payments[0].Vendor != "Polycab" || payments[1].Amount.String() != "1200.5" {
		t.Fatalf("unexpected payments %+v", payments)
	}
	if !strings.HasPrefix(payments[0].ID, "P-") {
		t.Fatalf("unexpected payment id %q", payments[0].ID)
	}
}

func TestRecordQuotationLeavesStockAlone(t *testing.T) {
	rs := memory.NewSeeded()
	svc := newTestService(rs, Options{})

	quote, err := svc.RecordQuotation(managerCtx(), domain.QuotationRequest{
		Customer: "Site 4",
		Lines: []domain.QuoteLine{
			{Code: "B220", Qty: dec("10")},
			{Code: "B110", Qty: dec("2"), Price: dec("150")},
		},
	})
	if err != nil {
		t.Fatalf("quotation failed: %v", err)
	}
	if !strings.HasPrefix(quote.ID, "Q-") || quote.Total.String() != "1250" {
		t.Fatalf("unexpected quotation %+v", quote)
	}
	if rows := scanTable(t, rs, schema.TableQuotations); len(rows) != 2 {
		t.Fatalf("expected 2 quotation rows, got %d", len(rows))
	}
	if got := stockAt(t, svc, "B220", domain.LocationShop); got != "20" {
		t.Fatalf("expected stock untouched, got %s", got)
	}
}

func TestDashboard(t *testing.T) {
	svc := newTestService(memory.NewSeeded(), Options{})

	dash, err := svc.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	if dash.TotalStock.String() != "508" || dash.AssetValue.String() != "151310" {
		t.Fatalf("unexpected totals %+v", dash)
	}
	if len(dash.PerLocation) != 3 || dash.PerLocation[0].Qty.String() != "79" {
		t.Fatalf("unexpected per-location totals %+v", dash.PerLocation)
	}
	if len(dash.LowStock) != 1 || dash.LowStock[0].Code != "C300" {
		t.Fatalf("expected C300 as the only low-stock line, got %+v", dash.LowStock)
	}
}

func TestAuditFailureDoesNotFailWrite(t *testing.T) {
	rs := &failingStore{RecordStore: memory.NewSeeded(), table: schema.TableLogs}
	svc := newTestService(rs, Options{})

	if _, err := svc.RecordPurchase(managerCtx(), domain.PurchaseRequest{Code: "A100", Qty: dec("1"), Location: "Shop"}); err != nil {
		t.Fatalf("expected purchase to succeed without audit log, got %v", err)
	}
}

func TestCheckSchemaReportsMissingFields(t *testing.T) {
	rs := memory.New()
	if err := rs.Append(context.Background(), schema.TableSales, store.Record{
		schema.FieldInvoiceNo: "INV-1", schema.FieldCode: "A100", schema.FieldQty: "1", schema.FieldLocation: "Shop",
	}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	svc := newTestService(rs, Options{})

	err := svc.CheckSchema(context.Background())
	var cfgErr *schema.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected config error, got %v", err)
	}
	if cfgErr.Table != schema.TableSales || len(cfgErr.Missing) != 2 {
		t.Fatalf("unexpected config error %+v", cfgErr)
	}

	if err := newTestService(memory.NewSeeded(), Options{}).CheckSchema(context.Background()); err != nil {
		t.Fatalf("expected seeded store to validate, got %v", err)
	}
}
