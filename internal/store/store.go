package store

import (
	"context"
	"errors"
	"fmt"

	"tokopos/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("invalid input")
	ErrDuplicateSKU        = errors.New("duplicate sku")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInsufficientPayment = errors.New("insufficient payment received")
	ErrInvariantViolation  = errors.New("invariant violation")
	ErrUnavailable         = errors.New("record store unavailable")
)

// StockError reports a stock shortfall together with the stock observed at
// the moment of the check, so callers can show "Available: N" directly.
type StockError struct {
	ProductID string
	Name      string
	Available int
}

func (e *StockError) Error() string {
	label := e.Name
	if label == "" {
		label = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s. Available: %d", label, e.Available)
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

// ProductRepository is the typed record-store contract for the products
// collection. Create assigns a fresh id and timestamps when the id is empty;
// Update replaces the record and refreshes the update timestamp.
type ProductRepository interface {
	ListProducts(ctx context.Context, storeID string) ([]domain.Product, error)
	FindProduct(ctx context.Context, id string) (*domain.Product, error)
	FindProductBySKU(ctx context.Context, storeID string, sku string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) (bool, error)
}

// SaleRepository covers the sales collection. Sales are immutable: there is
// deliberately no update or delete.
type SaleRepository interface {
	ListSales(ctx context.Context, storeID string) ([]domain.Sale, error)
	FindSale(ctx context.Context, id string) (*domain.Sale, error)
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
}

// SaleItemRepository covers the sale_items collection. Delete exists only
// for the reconciliation path that removes orphaned items.
type SaleItemRepository interface {
	ListSaleItems(ctx context.Context) ([]domain.SaleItem, error)
	ListSaleItemsBySale(ctx context.Context, saleID string) ([]domain.SaleItem, error)
	CreateSaleItem(ctx context.Context, item domain.SaleItem) (*domain.SaleItem, error)
	DeleteSaleItem(ctx context.Context, id string) (bool, error)
}

type ProfileRepository interface {
	ListProfiles(ctx context.Context, storeID string) ([]domain.Profile, error)
	FindProfile(ctx context.Context, id string) (*domain.Profile, error)
	FindProfileByEmail(ctx context.Context, email string) (*domain.Profile, error)
}

type StoreRepository interface {
	FindStore(ctx context.Context, id string) (*domain.Store, error)
}

// Repository is the full record store a deployment wires up: one typed
// contract per collection, implemented together by the memory and postgres
// stores.
type Repository interface {
	ProductRepository
	SaleRepository
	SaleItemRepository
	ProfileRepository
	StoreRepository
}
