package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	Code         string                       `json:"code"`
	Name         string                       `json:"name"`
	CostPrice    decimal.Decimal              `json:"cost_price"`
	SellingPrice decimal.Decimal              `json:"selling_price"`
	Opening      map[Location]decimal.Decimal `json:"opening_balance"`
}

// OpeningAt returns the opening balance at loc, zero when unset.
func (p Product) OpeningAt(loc Location) decimal.Decimal {
	if p.Opening == nil {
		return decimal.Zero
	}
	return p.Opening[loc]
}

type EventKind string

const (
	EventPurchase   EventKind = "purchase"
	EventSale       EventKind = "sale"
	EventTransfer   EventKind = "transfer"
	EventSettlement EventKind = "settlement"
)

// Event is one of PurchaseEvent, SaleEvent, TransferEvent or SettlementEvent.
type Event interface {
	Kind() EventKind
}

type PurchaseEvent struct {
	RowKey   string          `json:"row_key,omitempty"`
	Code     string          `json:"code"`
	Qty      decimal.Decimal `json:"qty"`
	Location Location        `json:"location"`
	Date     string          `json:"date"`
	Vendor   string          `json:"vendor,omitempty"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

func (PurchaseEvent) Kind() EventKind { return EventPurchase }

// SaleEvent is one line row of an invoice. PaidSoFar and BalanceSoFar are the
// invoice-level totals duplicated onto every line of the same invoice.
type SaleEvent struct {
	RowKey          string          `json:"row_key,omitempty"`
	InvoiceNo       string          `json:"invoice_no"`
	Code            string          `json:"code"`
	Qty             decimal.Decimal `json:"qty"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPerUnit decimal.Decimal `json:"discount_per_unit"`
	Location        Location        `json:"location"`
	Date            string          `json:"date"`
	PaidSoFar       decimal.Decimal `json:"paid_so_far"`
	BalanceSoFar    decimal.Decimal `json:"balance_so_far"`
	Mode            string          `json:"mode,omitempty"`
	Customer        string          `json:"customer,omitempty"`
	Phone           string          `json:"phone,omitempty"`
}

func (SaleEvent) Kind() EventKind { return EventSale }

func (s SaleEvent) LineTotal() decimal.Decimal {
	return s.UnitPrice.Sub(s.DiscountPerUnit).Mul(s.Qty)
}

type TransferEvent struct {
	RowKey string          `json:"row_key,omitempty"`
	Code   string          `json:"code"`
	Qty    decimal.Decimal `json:"qty"`
	From   Location        `json:"from"`
	To     Location        `json:"to"`
	Date   string          `json:"date"`
}

func (TransferEvent) Kind() EventKind { return EventTransfer }

type SettlementEvent struct {
	RowKey     string          `json:"row_key,omitempty"`
	InvoiceNo  string          `json:"invoice_no"`
	AmountPaid decimal.Decimal `json:"amount_paid"`
	Date       string          `json:"date"`
}

func (SettlementEvent) Kind() EventKind { return EventSettlement }

type DefectKind string

const (
	DefectMissingJoinKey  DefectKind = "missing_join_key"
	DefectUnknownLocation DefectKind = "unknown_location"
	DefectUnknownProduct  DefectKind = "unknown_product"
	DefectMalformedValue  DefectKind = "malformed_value"
	DefectDuplicateCode   DefectKind = "duplicate_code"
)

// RowDefect is a data-quality finding on a stored row. Excluded rows and
// values coerced to zero are both reported through it.
type RowDefect struct {
	Table  string     `json:"table"`
	RowKey string     `json:"row_key"`
	Kind   DefectKind `json:"kind"`
	Field  string     `json:"field,omitempty"`
	Raw    string     `json:"raw,omitempty"`
	Code   string     `json:"code,omitempty"`
}

// Excluded reports whether the defect kept the row out of the fold entirely,
// as opposed to a value that was coerced and still counted.
func (d RowDefect) Excluded() bool {
	switch d.Kind {
	case DefectMissingJoinKey, DefectUnknownLocation, DefectUnknownProduct:
		return true
	}
	return false
}

type LocationStock struct {
	Location Location        `json:"location"`
	Qty      decimal.Decimal `json:"qty"`
}

type StockLine struct {
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Stock        []LocationStock `json:"stock"`
	Total        decimal.Decimal `json:"total"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	CostDerived  bool            `json:"cost_derived,omitempty"`
}

func (l StockLine) At(loc Location) decimal.Decimal {
	for _, s := range l.Stock {
		if s.Location == loc {
			return s.Qty
		}
	}
	return decimal.Zero
}

type Snapshot struct {
	GeneratedAt time.Time   `json:"generated_at"`
	Locations   []Location  `json:"locations"`
	Lines       []StockLine `json:"lines"`
	Skipped     []RowDefect `json:"skipped,omitempty"`
	Defects     []RowDefect `json:"defects,omitempty"`
}

// Line looks a product up by code, ignoring case and surrounding space.
func (s Snapshot) Line(code string) (StockLine, bool) {
	code = strings.TrimSpace(code)
	for _, line := range s.Lines {
		if strings.EqualFold(line.Code, code) {
			return line, true
		}
	}
	return StockLine{}, false
}

type SettledRow struct {
	RowKey  string          `json:"row_key"`
	Paid    decimal.Decimal `json:"paid"`
	Balance decimal.Decimal `json:"balance"`
}

type SettlementResult struct {
	InvoiceNo string          `json:"invoice_no"`
	Amount    decimal.Decimal `json:"amount"`
	Rows      []SettledRow    `json:"rows"`
}

// SettlementHistory is the Settlements journal for one invoice.
type SettlementHistory struct {
	InvoiceNo   string            `json:"invoice_no"`
	Settlements []SettlementEvent `json:"settlements"`
	TotalPaid   decimal.Decimal   `json:"total_paid"`
	Skipped     []RowDefect       `json:"skipped,omitempty"`
}

type PendingInvoice struct {
	InvoiceNo string          `json:"invoice_no"`
	Date      string          `json:"date"`
	Customer  string          `json:"customer,omitempty"`
	Phone     string          `json:"phone,omitempty"`
	Paid      decimal.Decimal `json:"paid"`
	Balance   decimal.Decimal `json:"balance"`
	Lines     int             `json:"lines"`
}

type ProductRequest struct {
	Code         string                       `json:"code"`
	Name         string                       `json:"name"`
	CostPrice    decimal.Decimal              `json:"cost_price"`
	SellingPrice decimal.Decimal              `json:"selling_price"`
	Opening      map[Location]decimal.Decimal `json:"opening_balance,omitempty"`
}

type ProductPriceUpdate struct {
	Name         *string          `json:"name,omitempty"`
	CostPrice    *decimal.Decimal `json:"cost_price,omitempty"`
	SellingPrice *decimal.Decimal `json:"selling_price,omitempty"`
}

type PurchaseRequest struct {
	Code     string          `json:"code"`
	Name     string          `json:"name,omitempty"`
	Qty      decimal.Decimal `json:"qty"`
	Location string          `json:"location"`
	Vendor   string          `json:"vendor"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

type SaleLine struct {
	Code     string          `json:"code"`
	Name     string          `json:"name,omitempty"`
	Qty      decimal.Decimal `json:"qty"`
	Price    decimal.Decimal `json:"price"`
	Discount decimal.Decimal `json:"discount"`
}

type SaleRequest struct {
	InvoiceNo string          `json:"invoice_no,omitempty"`
	Customer  string          `json:"customer"`
	Phone     string          `json:"phone"`
	Location  string          `json:"location"`
	Mode      string          `json:"mode"`
	BillType  string          `json:"bill_type,omitempty"`
	PaidTotal decimal.Decimal `json:"paid_total"`
	Lines     []SaleLine      `json:"lines"`
}

type SaleResponse struct {
	InvoiceNo    string          `json:"invoice_no"`
	Total        decimal.Decimal `json:"total"`
	Paid         decimal.Decimal `json:"paid"`
	Balance      decimal.Decimal `json:"balance"`
	LinesWritten int             `json:"lines_written"`
}

type TransferRequest struct {
	Code string          `json:"code"`
	Qty  decimal.Decimal `json:"qty"`
	From string          `json:"from"`
	To   string          `json:"to"`
}

type SettlementRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type Dashboard struct {
	TotalStock        decimal.Decimal `json:"total_stock"`
	PerLocation       []LocationStock `json:"per_location"`
	AssetValue        decimal.Decimal `json:"asset_value"`
	LowStockThreshold decimal.Decimal `json:"low_stock_threshold"`
	LowStock          []StockLine     `json:"low_stock"`
	SkippedRows       int             `json:"skipped_rows"`
}

type VendorPaymentRequest struct {
	Vendor    string          `json:"vendor"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
	Notes     string          `json:"notes"`
}

type VendorPayment struct {
	ID        string          `json:"id"`
	Date      string          `json:"date"`
	Vendor    string          `json:"vendor"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
	Notes     string          `json:"notes,omitempty"`
}

type QuoteLine struct {
	Code  string          `json:"code"`
	Name  string          `json:"name,omitempty"`
	Qty   decimal.Decimal `json:"qty"`
	Price decimal.Decimal `json:"price"`
}

type QuotationRequest struct {
	Customer string      `json:"customer"`
	Phone    string      `json:"phone"`
	Lines    []QuoteLine `json:"lines"`
}

type Quotation struct {
	ID       string          `json:"id"`
	Date     string          `json:"date"`
	Customer string          `json:"customer"`
	Phone    string          `json:"phone,omitempty"`
	Total    decimal.Decimal `json:"total"`
	Lines    []QuoteLine     `json:"lines"`
}

type AuditLog struct {
	Timestamp string `json:"timestamp"`
	User      string `json:"user"`
	Action    string `json:"action"`
	Details   string `json:"details"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

const (
	RoleOwner   = "owner"
	RoleManager = "manager"
)
