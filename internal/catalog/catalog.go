// Package catalog manages the product collection: CRUD with SKU uniqueness
// and the stock adjustment path every sale-driven decrement must go through.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"tokopos/internal/domain"
	"tokopos/internal/store"
)

type Manager struct {
	products       store.ProductRepository
	defaultStoreID string
	log            zerolog.Logger

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func New(products store.ProductRepository, defaultStoreID string, log zerolog.Logger) *Manager {
	if defaultStoreID == "" {
		defaultStoreID = "store-1"
	}
	return &Manager{
		products:       products,
		defaultStoreID: defaultStoreID,
		log:            log,
		locks:          make(map[string]*sync.Mutex),
	}
}

func (m *Manager) lockFor(productID string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	mu, ok := m.locks[productID]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[productID] = mu
	}
	return mu
}

// LockStock acquires the stock mutex for every given product id and returns
// the matching unlock. Ids are deduplicated and locked in sorted order so
// two overlapping checkouts can never deadlock. The stock re-validation read
// and the decrement write of a commit both happen under these locks.
func (m *Manager) LockStock(productIDs ...string) (unlock func()) {
	ids := slices.Clone(productIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	held := make([]*sync.Mutex, 0, len(ids))
	for _, id := range ids {
		mu := m.lockFor(id)
		mu.Lock()
		held = append(held, mu)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

func (m *Manager) List(ctx context.Context, storeID string) ([]domain.Product, error) {
	if storeID == "" {
		storeID = m.defaultStoreID
	}
	return m.products.ListProducts(ctx, storeID)
}

func (m *Manager) GetByID(ctx context.Context, id string) (domain.Product, error) {
	p, err := m.products.FindProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

func (m *Manager) GetBySKU(ctx context.Context, storeID string, sku string) (domain.Product, error) {
	if storeID == "" {
		storeID = m.defaultStoreID
	}
	p, err := m.products.FindProductBySKU(ctx, storeID, normalizeSKU(sku))
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

func (m *Manager) Create(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if req.StoreID == "" {
		req.StoreID = m.defaultStoreID
	}
	req.SKU = normalizeSKU(req.SKU)
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)

	if req.SKU == "" || req.Name == "" || req.Category == "" {
		return domain.Product{}, fmt.Errorf("%w: sku, name and category are required", store.ErrValidation)
	}
	if req.Stock < 0 {
		return domain.Product{}, fmt.Errorf("%w: stock cannot be negative", store.ErrValidation)
	}
	if req.BuyPrice.IsNegative() || req.SellPrice.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: prices cannot be negative", store.ErrValidation)
	}

	if _, err := m.products.FindProductBySKU(ctx, req.StoreID, req.SKU); err == nil {
		return domain.Product{}, fmt.Errorf("product with sku %q already exists: %w", req.SKU, store.ErrDuplicateSKU)
	} else if !isNotFound(err) {
		return domain.Product{}, err
	}

	created, err := m.products.CreateProduct(ctx, domain.Product{
		StoreID:   req.StoreID,
		SKU:       req.SKU,
		Name:      req.Name,
		Category:  req.Category,
		Stock:     req.Stock,
		BuyPrice:  req.BuyPrice,
		SellPrice: req.SellPrice,
	})
	if err != nil {
		return domain.Product{}, err
	}

	m.log.Info().Str("sku", created.SKU).Str("product_id", created.ID).Msg("product created")
	return *created, nil
}

func (m *Manager) Update(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	existing, err := m.products.FindProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.SKU != nil {
		sku := normalizeSKU(*req.SKU)
		if sku == "" {
			return domain.Product{}, fmt.Errorf("%w: sku cannot be empty", store.ErrValidation)
		}
		if sku != existing.SKU {
			if dup, err := m.products.FindProductBySKU(ctx, existing.StoreID, sku); err == nil && dup.ID != id {
				return domain.Product{}, fmt.Errorf("product with sku %q already exists: %w", sku, store.ErrDuplicateSKU)
			} else if err != nil && !isNotFound(err) {
				return domain.Product{}, err
			}
		}
		updated.SKU = sku
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: name cannot be empty", store.ErrValidation)
		}
		updated.Name = name
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return domain.Product{}, fmt.Errorf("%w: category cannot be empty", store.ErrValidation)
		}
		updated.Category = category
	}
	if req.Stock != nil {
		if *req.Stock < 0 {
			return domain.Product{}, fmt.Errorf("%w: stock cannot be negative", store.ErrValidation)
		}
		updated.Stock = *req.Stock
	}
	if req.BuyPrice != nil {
		if req.BuyPrice.IsNegative() {
			return domain.Product{}, fmt.Errorf("%w: buy price cannot be negative", store.ErrValidation)
		}
		updated.BuyPrice = *req.BuyPrice
	}
	if req.SellPrice != nil {
		if req.SellPrice.IsNegative() {
			return domain.Product{}, fmt.Errorf("%w: sell price cannot be negative", store.ErrValidation)
		}
		updated.SellPrice = *req.SellPrice
	}

	saved, err := m.products.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	return *saved, nil
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	product, err := m.products.FindProduct(ctx, id)
	if err != nil {
		return err
	}
	if product.Stock > 0 {
		return fmt.Errorf("cannot delete product with stock > 0, reduce stock to zero first: %w", store.ErrInvariantViolation)
	}

	deleted, err := m.products.DeleteProduct(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return store.ErrNotFound
	}
	m.log.Info().Str("product_id", id).Str("sku", product.SKU).Msg("product deleted")
	return nil
}

// AdjustStock applies a stock delta under the product's stock lock. It is
// the only mutation path sales use to decrement stock; manual corrections
// go through it too so both stay serialized against racing checkouts.
func (m *Manager) AdjustStock(ctx context.Context, id string, delta int) (domain.Product, error) {
	unlock := m.LockStock(id)
	defer unlock()
	return m.ApplyStockDelta(ctx, id, delta)
}

// ApplyStockDelta performs the read-modify-write of a stock adjustment.
// The caller must hold the product's stock lock (see LockStock); the sale
// commit engine holds the locks for a whole cart while it re-validates and
// decrements.
func (m *Manager) ApplyStockDelta(ctx context.Context, id string, delta int) (domain.Product, error) {
	product, err := m.products.FindProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	newStock := product.Stock + delta
	if newStock < 0 {
		return domain.Product{}, &store.StockError{ProductID: product.ID, Name: product.Name, Available: product.Stock}
	}

	product.Stock = newStock
	saved, err := m.products.UpdateProduct(ctx, *product)
	if err != nil {
		return domain.Product{}, err
	}
	return *saved, nil
}

func normalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
