package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"nexuserp/backend/internal/domain"
	"nexuserp/backend/internal/ledger"
	"nexuserp/backend/internal/logger"
	"nexuserp/backend/internal/metrics"
	"nexuserp/backend/internal/service"
	"nexuserp/backend/internal/store"
)

const requestIDHeader = "X-Request-Id"

const (
	maxJSONBytes     = 1 << 20
	maxWorkbookBytes = 20 << 20
	importPath       = "/api/v1/imports"
)

type Options struct {
	AllowedOrigin string
	Logger        *logger.Logger
	Metrics       *metrics.LedgerMetrics
	// MetricsHandler is mounted at GET /metrics when set.
	MetricsHandler http.Handler
}

type API struct {
	service        *service.Service
	auth           *AuthManager
	allowedOrigin  string
	loginLimiter   *attemptLimiter
	log            *logger.Logger
	metrics        *metrics.LedgerMetrics
	metricsHandler http.Handler
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &API{
		service:        svc,
		auth:           auth,
		allowedOrigin:  opts.AllowedOrigin,
		loginLimiter:   newAttemptLimiter(5, time.Minute),
		log:            opts.Logger,
		metrics:        opts.Metrics,
		metricsHandler: opts.MetricsHandler,
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

// Allow records an attempt for key and reports whether it is within the
// limit for the sliding window.
func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		a.recoverer,
		a.requestID,
		a.observe,
		a.securityHeaders,
		cors.Handler(cors.Options{
			AllowedOrigins: []string{a.allowedOrigin},
			AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
			ExposedHeaders: []string{requestIDHeader},
			MaxAge:         300,
		}),
	)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMethodNotAllowed(w)
	})

	r.Get("/healthz", a.handleHealth)
	if a.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", a.metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleOwner, domain.RoleManager))
			r.Get("/inventory", a.handleInventory)
			r.Get("/dashboard", a.handleDashboard)
			r.Get("/products", a.handleListProducts)
			r.Post("/purchases", a.handlePurchase)
			r.Post("/sales", a.handleSale)
			r.Post("/transfers", a.handleTransfer)
			r.Get("/invoices/pending", a.handlePendingInvoices)
			r.Get("/invoices/{invoiceNo}/settlements", a.handleSettlementHistory)
			r.Post("/invoices/{invoiceNo}/settlements", a.handleSettle)
			r.Post("/quotations", a.handleQuotation)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleOwner))
			r.Post("/products", a.handleRegisterProduct)
			r.Patch("/products/{code}", a.handleUpdateProduct)
			r.Get("/vendor-payments", a.handleListVendorPayments)
			r.Post("/vendor-payments", a.handleVendorPayment)
			r.Get("/audit-logs", a.handleAuditLogs)
			r.Post("/imports", a.handleImport)
		})
	})

	return r
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			token := strings.TrimSpace(authorization[len("Bearer "):])
			actor, err := a.auth.ParseToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			ctx := service.WithActor(r.Context(), actor)
			ctx = a.log.WithActor(ctx, actor.Username, actor.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, ErrInvalidCredentials)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleInventory(w http.ResponseWriter, r *http.Request) {
	snap, err := a.service.GetSnapshot(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := a.service.Dashboard(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleRegisterProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	product, created, err := a.service.RegisterProduct(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"product": product, "created": created})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductPriceUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.UpdateProductPrices(r.Context(), chi.URLParam(r, "code"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ev, err := a.service.RecordPurchase(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"purchase": ev})
}

func (a *API) handleSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.RecordSale(r.Context(), req)
	if errors.Is(err, ledger.ErrPartialWrite) {
		a.failPartial(w, r, err, resp)
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req domain.TransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ev, err := a.service.RecordTransfer(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transfer": ev})
}

func (a *API) handlePendingInvoices(w http.ResponseWriter, r *http.Request) {
	pending, err := a.service.PendingInvoices(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": pending})
}

func (a *API) handleSettlementHistory(w http.ResponseWriter, r *http.Request) {
	history, err := a.service.InvoiceSettlements(r.Context(), chi.URLParam(r, "invoiceNo"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (a *API) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req domain.SettlementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := a.service.SettleInvoice(r.Context(), chi.URLParam(r, "invoiceNo"), req)
	if errors.Is(err, ledger.ErrPartialWrite) {
		a.failPartial(w, r, err, res)
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleQuotation(w http.ResponseWriter, r *http.Request) {
	var req domain.QuotationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	quote, err := a.service.RecordQuotation(r.Context(), req)
	if errors.Is(err, ledger.ErrPartialWrite) {
		a.failPartial(w, r, err, quote)
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, quote)
}

func (a *API) handleListVendorPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := a.service.ListVendorPayments(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (a *API) handleVendorPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.VendorPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	payment, err := a.service.RecordVendorPayment(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// handleImport takes the raw .xlsx as the request body. ?tables=Sales,Purchase
// narrows the import.
func (a *API) handleImport(w http.ResponseWriter, r *http.Request) {
	var tables []string
	for _, name := range strings.Split(r.URL.Query().Get("tables"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			tables = append(tables, name)
		}
	}

	res, err := a.service.ImportWorkbook(r.Context(), r.Body, tables)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errors.New("workbook too large"))
			return
		}
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// statusFor maps service and ledger errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrSelfTransfer),
		errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, ledger.ErrInvoiceNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvoiceExists):
		return http.StatusConflict
	case errors.Is(err, service.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.Error(r.Context(), "request failed", err)
	}
	writeError(w, status, err)
}

// failPartial reports a write that stopped part way. The body carries what
// was written so the caller can reconcile.
func (a *API) failPartial(w http.ResponseWriter, r *http.Request, err error, written any) {
	a.log.Error(r.Context(), "partial write", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error":   "partial write",
		"partial": true,
		"result":  written,
	})
}

func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.log.Error(r.Context(), "panic recovered", fmt.Errorf("panic: %v", rec))
				writeError(w, http.StatusInternalServerError, errors.New("panic"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (a *API) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(a.log.WithRequestID(r.Context(), reqID)))
	})
}

func (a *API) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			limit := int64(maxJSONBytes)
			if r.URL.Path == importPath {
				limit = maxWorkbookBytes
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// observe logs every request and records its latency under the matched
// route pattern, so path parameters do not explode label cardinality.
func (a *API) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		started := time.Now()
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		elapsed := time.Since(started)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		a.metrics.ObserveRequest(r.Method, route, rec.status, elapsed)
		a.log.Info(a.log.WithFields(r.Context(), map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"route":       route,
			"status":      rec.status,
			"duration_ms": elapsed.Milliseconds(),
		}), "request.complete")
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError hides the message of 5xx responses; 4xx messages are meant for
// the client.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
