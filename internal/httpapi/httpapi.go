// Package httpapi is the thin JSON surface over the catalog, cart, commit
// engine and analytics components. It owns request auth and the per-cashier
// cart sessions; all business rules live in the components it fronts.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tokopos/internal/analytics"
	"tokopos/internal/cart"
	"tokopos/internal/catalog"
	"tokopos/internal/checkout"
	"tokopos/internal/domain"
	"tokopos/internal/store"
)

type API struct {
	catalog        *catalog.Manager
	engine         *checkout.Engine
	analytics      *analytics.Aggregator
	auth           *AuthManager
	defaultStoreID string
	allowedOrigin  string
	log            zerolog.Logger
	loginLimiter   *attemptLimiter

	cartMu sync.Mutex
	carts  map[string]*cartSession
}

func New(cat *catalog.Manager, engine *checkout.Engine, agg *analytics.Aggregator, auth *AuthManager, defaultStoreID string, allowedOrigin string, log zerolog.Logger) *API {
	return &API{
		catalog:        cat,
		engine:         engine,
		analytics:      agg,
		auth:           auth,
		defaultStoreID: defaultStoreID,
		allowedOrigin:  allowedOrigin,
		log:            log,
		loginLimiter:   newAttemptLimiter(5, time.Minute),
		carts:          make(map[string]*cartSession),
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts, domain.RoleCashier, domain.RoleOwner))
	mux.HandleFunc("/api/v1/products/", a.requireAuth(a.handleProductActions, domain.RoleCashier, domain.RoleOwner))

	mux.HandleFunc("/api/v1/cart", a.requireAuth(a.handleCart, domain.RoleCashier, domain.RoleOwner))
	mux.HandleFunc("/api/v1/cart/items", a.requireAuth(a.handleCartItems, domain.RoleCashier, domain.RoleOwner))
	mux.HandleFunc("/api/v1/cart/items/", a.requireAuth(a.handleCartItemActions, domain.RoleCashier, domain.RoleOwner))
	mux.HandleFunc("/api/v1/checkout", a.requireAuth(a.handleCheckout, domain.RoleCashier, domain.RoleOwner))

	mux.HandleFunc("/api/v1/sales", a.requireAuth(a.handleSales, domain.RoleCashier, domain.RoleOwner))
	mux.HandleFunc("/api/v1/sales/", a.requireAuth(a.handleSaleActions, domain.RoleCashier, domain.RoleOwner))

	mux.HandleFunc("/api/v1/analytics/dashboard", a.requireAuth(a.handleDashboard, domain.RoleOwner))
	mux.HandleFunc("/api/v1/analytics/low-stock", a.requireAuth(a.handleLowStock, domain.RoleCashier, domain.RoleOwner))
	mux.HandleFunc("/api/v1/analytics/top-products", a.requireAuth(a.handleTopProducts, domain.RoleOwner))
	mux.HandleFunc("/api/v1/analytics/last-7-days", a.requireAuth(a.handleLast7Days, domain.RoleOwner))

	mux.HandleFunc("/api/v1/reconcile", a.requireAuth(a.handleReconcile, domain.RoleOwner))

	return a.withMiddleware(mux)
}

// withMiddleware wraps the mux with CORS headers and request logging.
func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		a.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("elapsed", time.Since(started)).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := r.Header.Get("Authorization")
		if !strings.HasPrefix(authorization, "Bearer ") {
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

		next(w, r.WithContext(WithActor(r.Context(), actor)))
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

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		products, err := a.catalog.List(r.Context(), a.storeFor(actor))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	case http.MethodPost:
		if actor.Role != domain.RoleOwner {
			writeError(w, http.StatusForbidden, errors.New("owner role required"))
			return
		}
		var req domain.ProductCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.StoreID == "" {
			req.StoreID = a.storeFor(actor)
		}
		product, err := a.catalog.Create(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"product": product})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleProductActions(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/products/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing product id"))
		return
	}

	// POST /api/v1/products/{id}/stock applies a manual stock delta.
	if sub == "stock" {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		if actor.Role != domain.RoleOwner {
			writeError(w, http.StatusForbidden, errors.New("owner role required"))
			return
		}
		var req struct {
			Delta int `json:"delta"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		product, err := a.catalog.AdjustStock(r.Context(), id, req.Delta)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": product})
		return
	}
	if sub != "" {
		writeError(w, http.StatusNotFound, errors.New("unknown product action"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		product, err := a.catalog.GetByID(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": product})
	case http.MethodPatch:
		if actor.Role != domain.RoleOwner {
			writeError(w, http.StatusForbidden, errors.New("owner role required"))
			return
		}
		var req domain.ProductUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		product, err := a.catalog.Update(r.Context(), id, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": product})
	case http.MethodDelete:
		if actor.Role != domain.RoleOwner {
			writeError(w, http.StatusForbidden, errors.New("owner role required"))
			return
		}
		if err := a.catalog.Delete(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		writeMethodNotAllowed(w)
	}
}

// cartSession pairs a cart with the mutex that serializes handler access to
// it. The cart itself carries no locking, and one profile can issue
// overlapping requests (a double-submitted button, a client retry).
type cartSession struct {
	mu   sync.Mutex
	cart *cart.Cart
}

// sessionCart returns the cart session bound to the acting profile, creating
// it on first use. One cart per cashier session, held in memory only; every
// handler must hold the session mutex while touching the cart.
func (a *API) sessionCart(actor domain.Actor) *cartSession {
	a.cartMu.Lock()
	defer a.cartMu.Unlock()

	s, ok := a.carts[actor.ProfileID]
	if !ok {
		s = &cartSession{cart: cart.New()}
		a.carts[actor.ProfileID] = s
	}
	return s
}

type cartView struct {
	Items     []cartItemView  `json:"items"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"item_count"`
}

type cartItemView struct {
	Product  domain.Product  `json:"product"`
	Quantity int             `json:"quantity"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

func viewOf(c *cart.Cart) cartView {
	items := c.Items()
	view := cartView{
		Items:     make([]cartItemView, 0, len(items)),
		Total:     c.Total(),
		ItemCount: c.ItemCount(),
	}
	for _, item := range items {
		view.Items = append(view.Items, cartItemView{
			Product:  item.Product,
			Quantity: item.Quantity,
			Subtotal: item.Subtotal,
		})
	}
	return view
}

func (a *API) handleCart(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	s := a.sessionCart(actor)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, viewOf(s.cart))
	case http.MethodDelete:
		s.cart.Clear()
		writeJSON(w, http.StatusOK, viewOf(s.cart))
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCartItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	actor, _ := ActorFromContext(r.Context())

	var req struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	product, err := a.catalog.GetByID(r.Context(), req.ProductID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	s := a.sessionCart(actor)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.cart.AddItem(product, req.Quantity); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s.cart))
}

func (a *API) handleCartItemActions(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	productID := strings.TrimPrefix(r.URL.Path, "/api/v1/cart/items/")
	if productID == "" || strings.Contains(productID, "/") {
		writeError(w, http.StatusBadRequest, errors.New("missing product id"))
		return
	}
	s := a.sessionCart(actor)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodPatch:
		var req struct {
			Quantity int `json:"quantity"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if _, err := s.cart.UpdateQuantity(productID, req.Quantity); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(s.cart))
	case http.MethodDelete:
		s.cart.RemoveItem(productID)
		writeJSON(w, http.StatusOK, viewOf(s.cart))
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	actor, _ := ActorFromContext(r.Context())

	var req struct {
		AmountReceived decimal.Decimal `json:"amount_received"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// Holding the session mutex through the commit also serializes a
	// double-submitted checkout: the second attempt sees an empty cart.
	s := a.sessionCart(actor)
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := a.engine.CreateSale(r.Context(), domain.SaleInput{
		StoreID:        a.storeFor(actor),
		CashierID:      actor.ProfileID,
		Items:          s.cart.Lines(),
		Total:          s.cart.Total(),
		AmountReceived: req.AmountReceived,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// The cart is discarded only after the sale committed.
	s.cart.Clear()
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	actor, _ := ActorFromContext(r.Context())

	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 10, 100)
	sales, err := a.analytics.RecentSales(r.Context(), a.storeFor(actor), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleSaleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/sales/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, errors.New("missing sale id"))
		return
	}

	sale, err := a.engine.SaleByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	actor, _ := ActorFromContext(r.Context())

	stats, err := a.analytics.DashboardStats(r.Context(), a.storeFor(actor))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	actor, _ := ActorFromContext(r.Context())

	threshold := parsePositiveLimit(r.URL.Query().Get("threshold"), 0, 0)
	products, err := a.analytics.LowStockProducts(r.Context(), a.storeFor(actor), threshold)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleTopProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	actor, _ := ActorFromContext(r.Context())

	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 5, 50)
	top, err := a.analytics.TopProducts(r.Context(), a.storeFor(actor), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"top_products": top})
}

func (a *API) handleLast7Days(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	actor, _ := ActorFromContext(r.Context())

	days, err := a.analytics.Last7DaysSales(r.Context(), a.storeFor(actor))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days})
}

func (a *API) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	report, err := a.engine.Reconcile(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) storeFor(actor domain.Actor) string {
	if actor.StoreID != "" {
		return actor.StoreID
	}
	return a.defaultStoreID
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

func (l *attemptLimiter) Allow(key string) bool {
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := make([]time.Time, 0, len(l.entries[key])+1)
	for _, ts := range l.entries[key] {
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

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
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

// writeServiceError maps component errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrValidation), errors.Is(err, store.ErrInsufficientPayment):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrDuplicateSKU),
		errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrInvariantViolation):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, store.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx details stay out of responses; 4xx messages are user-facing.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
