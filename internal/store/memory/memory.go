package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"tokopos/internal/domain"
	"tokopos/internal/store"
)

// Options tunes the demo/test behaviour of the memory store.
//
// Latency simulates the asynchronous record store every operation suspends
// on (600ms in the demo deployment, zero in tests). SnapshotPath, when set,
// makes data survive restarts by writing a JSON snapshot after every
// mutation.
type Options struct {
	Latency      time.Duration
	SnapshotPath string
	Logger       *zerolog.Logger
}

type Store struct {
	mu        sync.RWMutex
	latency   time.Duration
	snapshot  string
	log       zerolog.Logger
	stores    map[string]domain.Store
	profiles  map[string]domain.Profile
	products  map[string]domain.Product
	sales     map[string]domain.Sale
	saleItems map[string]domain.SaleItem
}

func New(opts Options) *Store {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	s := &Store{
		latency:   opts.Latency,
		snapshot:  opts.SnapshotPath,
		log:       logger,
		stores:    make(map[string]domain.Store),
		profiles:  make(map[string]domain.Profile),
		products:  make(map[string]domain.Product),
		sales:     make(map[string]domain.Sale),
		saleItems: make(map[string]domain.SaleItem),
	}
	if s.snapshot != "" {
		if err := s.load(); err != nil {
			s.log.Warn().Err(err).Str("path", s.snapshot).Msg("snapshot unreadable, starting empty")
		}
	}
	return s
}

// NewSeeded returns a store preloaded with the demo dataset: one store, an
// owner and a cashier profile, three products and three historical sales.
// A snapshot loaded from disk wins over the seed.
func NewSeeded(opts Options) *Store {
	s := New(opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.products) > 0 || len(s.sales) > 0 {
		return s
	}

	now := time.Now().UTC()
	s.stores["store-1"] = domain.Store{
		ID:        "store-1",
		Name:      "Demo Store Main",
		OwnerID:   "user-owner-1",
		CreatedAt: now,
	}

	for _, p := range []struct {
		id, email, name, role, password string
	}{
		{"user-owner-1", "admin@demo.com", "Demo Owner", domain.RoleOwner, envOr("SEED_OWNER_PASSWORD", "admin123")},
		{"user-cashier-1", "cashier@demo.com", "Demo Cashier", domain.RoleCashier, envOr("SEED_CASHIER_PASSWORD", "cashier123")},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(p.password), bcrypt.DefaultCost)
		if err != nil {
			// Only reachable with a malformed override (bcrypt caps
			// passwords at 72 bytes); the process cannot start without
			// its seed profiles.
			panic(fmt.Sprintf("hash seed password for %s: %v", p.email, err))
		}
		s.profiles[p.id] = domain.Profile{
			ID:           p.id,
			Email:        p.email,
			FullName:     p.name,
			Role:         p.role,
			StoreID:      "store-1",
			PasswordHash: string(hash),
			CreatedAt:    now,
		}
	}
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		s.log.Warn().Msg("using default dev credentials; set SEED_OWNER_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	price := func(v string) decimal.Decimal { return decimal.RequireFromString(v) }
	for _, p := range []domain.Product{
		{ID: "prod-1", SKU: "DEMO-001", Name: "Wireless Mouse", Category: "Electronics", Stock: 45, BuyPrice: price("15.00"), SellPrice: price("29.99")},
		{ID: "prod-2", SKU: "DEMO-002", Name: "Mechanical Keyboard", Category: "Electronics", Stock: 8, BuyPrice: price("45.00"), SellPrice: price("89.99")},
		{ID: "prod-3", SKU: "DEMO-003", Name: "USB-C Cable", Category: "Accessories", Stock: 120, BuyPrice: price("2.50"), SellPrice: price("9.99")},
	} {
		p.StoreID = "store-1"
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	for _, sale := range []domain.Sale{
		{ID: "sale-1", CashierID: "user-cashier-1", Total: price("119.97"), AmountReceived: price("150.00"), ChangeGiven: price("30.03"), CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "sale-2", CashierID: "user-owner-1", Total: price("89.99"), AmountReceived: price("100.00"), ChangeGiven: price("10.01"), CreatedAt: now.Add(-24 * time.Hour)},
		{ID: "sale-3", CashierID: "user-cashier-1", Total: price("49.97"), AmountReceived: price("50.00"), ChangeGiven: price("0.03"), CreatedAt: now.Add(-3 * time.Hour)},
	} {
		sale.StoreID = "store-1"
		s.sales[sale.ID] = sale
	}

	for _, item := range []domain.SaleItem{
		{ID: "item-1", SaleID: "sale-1", ProductID: "prod-1", Quantity: 4, UnitPrice: price("29.99"), Subtotal: price("119.96")},
		{ID: "item-2", SaleID: "sale-2", ProductID: "prod-2", Quantity: 1, UnitPrice: price("89.99"), Subtotal: price("89.99")},
		{ID: "item-3", SaleID: "sale-3", ProductID: "prod-1", Quantity: 2, UnitPrice: price("29.99"), Subtotal: price("59.98")},
		{ID: "item-4", SaleID: "sale-3", ProductID: "prod-3", Quantity: 2, UnitPrice: price("9.99"), Subtotal: price("19.98")},
	} {
		s.saleItems[item.ID] = item
	}

	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// wait models the record store's artificial latency. A context that expires
// while waiting surfaces as an unavailable store, never as silent success.
func (s *Store) wait(ctx context.Context) error {
	if s.latency <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		return nil
	}
	select {
	case <-time.After(s.latency):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", store.ErrUnavailable, ctx.Err())
	}
}

func (s *Store) ListProducts(ctx context.Context, storeID string) ([]domain.Product, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if storeID != "" && p.StoreID != storeID {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) FindProduct(ctx context.Context, id string) (*domain.Product, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := p
	return &found, nil
}

func (s *Store) FindProductBySKU(ctx context.Context, storeID string, sku string) (*domain.Product, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.products {
		if p.SKU == sku && (storeID == "" || p.StoreID == storeID) {
			found := p
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrValidation
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = product
	s.persistLocked()

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product
	s.persistLocked()

	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) (bool, error) {
	if err := s.wait(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return false, nil
	}
	delete(s.products, id)
	s.persistLocked()
	return true, nil
}

func (s *Store) ListSales(ctx context.Context, storeID string) ([]domain.Sale, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if storeID != "" && sale.StoreID != storeID {
			continue
		}
		sales = append(sales, sale)
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return sales, nil
}

func (s *Store) FindSale(ctx context.Context, id string) (*domain.Sale, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := sale
	return &found, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" {
		sale.ID = uuid.NewString()
	}
	if _, exists := s.sales[sale.ID]; exists {
		return nil, store.ErrValidation
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.Items = nil
	s.sales[sale.ID] = sale
	s.persistLocked()

	created := sale
	return &created, nil
}

func (s *Store) ListSaleItems(ctx context.Context) ([]domain.SaleItem, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.SaleItem, 0, len(s.saleItems))
	for _, item := range s.saleItems {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.SaleItem) int {
		return strings.Compare(a.ID, b.ID)
	})
	return items, nil
}

func (s *Store) ListSaleItemsBySale(ctx context.Context, saleID string) ([]domain.SaleItem, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.SaleItem, 0, 4)
	for _, item := range s.saleItems {
		if item.SaleID == saleID {
			items = append(items, item)
		}
	}
	slices.SortFunc(items, func(a, b domain.SaleItem) int {
		return strings.Compare(a.ID, b.ID)
	})
	return items, nil
}

func (s *Store) CreateSaleItem(ctx context.Context, item domain.SaleItem) (*domain.SaleItem, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.SaleID == "" || item.ProductID == "" || item.Quantity < 1 {
		return nil, store.ErrValidation
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	s.saleItems[item.ID] = item
	s.persistLocked()

	created := item
	return &created, nil
}

func (s *Store) DeleteSaleItem(ctx context.Context, id string) (bool, error) {
	if err := s.wait(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.saleItems[id]; !ok {
		return false, nil
	}
	delete(s.saleItems, id)
	s.persistLocked()
	return true, nil
}

func (s *Store) ListProfiles(ctx context.Context, storeID string) ([]domain.Profile, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	profiles := make([]domain.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		if storeID != "" && p.StoreID != storeID {
			continue
		}
		profiles = append(profiles, p)
	}
	slices.SortFunc(profiles, func(a, b domain.Profile) int {
		return strings.Compare(a.Email, b.Email)
	})
	return profiles, nil
}

func (s *Store) FindProfile(ctx context.Context, id string) (*domain.Profile, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := p
	return &found, nil
}

func (s *Store) FindProfileByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.profiles {
		if strings.EqualFold(p.Email, email) {
			found := p
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) FindStore(ctx context.Context, id string) (*domain.Store, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stores[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := st
	return &found, nil
}

// profileSnapshot carries the password hash that domain.Profile hides from
// JSON responses.
type profileSnapshot struct {
	domain.Profile
	PasswordHash string `json:"password_hash"`
}

// diskSnapshot is the durable on-disk shape, one slice per collection.
type diskSnapshot struct {
	Stores    []domain.Store    `json:"stores"`
	Profiles  []profileSnapshot `json:"profiles"`
	Products  []domain.Product  `json:"products"`
	Sales     []domain.Sale     `json:"sales"`
	SaleItems []domain.SaleItem `json:"sale_items"`
}

func (s *Store) load() error {
	raw, err := os.ReadFile(s.snapshot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var data diskSnapshot
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}
	for _, st := range data.Stores {
		s.stores[st.ID] = st
	}
	for _, p := range data.Profiles {
		profile := p.Profile
		profile.PasswordHash = p.PasswordHash
		s.profiles[profile.ID] = profile
	}
	for _, p := range data.Products {
		s.products[p.ID] = p
	}
	for _, sale := range data.Sales {
		s.sales[sale.ID] = sale
	}
	for _, item := range data.SaleItems {
		s.saleItems[item.ID] = item
	}
	return nil
}

// persistLocked writes the snapshot file. Callers must hold s.mu. Failures
// are logged, not returned: in-memory state is already mutated and the next
// mutation retries the write.
func (s *Store) persistLocked() {
	if s.snapshot == "" {
		return
	}

	var data diskSnapshot
	for _, st := range s.stores {
		data.Stores = append(data.Stores, st)
	}
	for _, p := range s.profiles {
		data.Profiles = append(data.Profiles, profileSnapshot{Profile: p, PasswordHash: p.PasswordHash})
	}
	for _, p := range s.products {
		data.Products = append(data.Products, p)
	}
	for _, sale := range s.sales {
		data.Sales = append(data.Sales, sale)
	}
	for _, item := range s.saleItems {
		data.SaleItems = append(data.SaleItems, item)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		s.log.Error().Err(err).Msg("snapshot encode failed")
		return
	}
	tmp := s.snapshot + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		s.log.Error().Err(err).Str("path", filepath.Clean(tmp)).Msg("snapshot write failed")
		return
	}
	if err := os.Rename(tmp, s.snapshot); err != nil {
		s.log.Error().Err(err).Str("path", s.snapshot).Msg("snapshot rename failed")
	}
}
