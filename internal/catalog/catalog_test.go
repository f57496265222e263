package catalog

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tokopos/internal/domain"
	"tokopos/internal/store"
	"tokopos/internal/store/memory"
)

func newTestManager() *Manager {
	repo := memory.NewSeeded(memory.Options{})
	return New(repo, "store-1", zerolog.Nop())
}

func TestCreateNormalizesAndPersists(t *testing.T) {
	m := newTestManager()

	created, err := m.Create(context.Background(), domain.ProductCreateRequest{
		SKU:       "  demo-010 ",
		Name:      " Desk Mat ",
		Category:  "Accessories",
		Stock:     12,
		BuyPrice:  decimal.RequireFromString("4.00"),
		SellPrice: decimal.RequireFromString("14.99"),
	})
	require.NoError(t, err)
	require.Equal(t, "DEMO-010", created.SKU)
	require.Equal(t, "Desk Mat", created.Name)
	require.Equal(t, "store-1", created.StoreID)
	require.NotEmpty(t, created.ID)

	found, err := m.GetBySKU(context.Background(), "store-1", "demo-010")
	require.NoError(t, err)
	require.Equal(t, created.ID, found.ID)
}

func TestCreateRejectsDuplicateSKU(t *testing.T) {
	m := newTestManager()

	_, err := m.Create(context.Background(), domain.ProductCreateRequest{
		SKU:       "demo-001",
		Name:      "Another Mouse",
		Category:  "Electronics",
		Stock:     1,
		SellPrice: decimal.RequireFromString("19.99"),
	})
	require.ErrorIs(t, err, store.ErrDuplicateSKU)
}

func TestCreateValidation(t *testing.T) {
	m := newTestManager()

	cases := []domain.ProductCreateRequest{
		{SKU: "", Name: "No SKU", Category: "Misc"},
		{SKU: "OK-1", Name: "", Category: "Misc"},
		{SKU: "OK-2", Name: "No Category", Category: ""},
		{SKU: "OK-3", Name: "Negative Stock", Category: "Misc", Stock: -1},
		{SKU: "OK-4", Name: "Negative Price", Category: "Misc", SellPrice: decimal.RequireFromString("-1")},
	}
	for _, req := range cases {
		_, err := m.Create(context.Background(), req)
		require.ErrorIs(t, err, store.ErrValidation, "request %+v", req)
	}
}

func TestUpdatePartialMerge(t *testing.T) {
	m := newTestManager()

	name := "Gaming Mouse"
	price := decimal.RequireFromString("34.99")
	updated, err := m.Update(context.Background(), "prod-1", domain.ProductUpdateRequest{
		Name:      &name,
		SellPrice: &price,
	})
	require.NoError(t, err)
	require.Equal(t, "Gaming Mouse", updated.Name)
	require.True(t, updated.SellPrice.Equal(price))
	require.Equal(t, "DEMO-001", updated.SKU)
	require.Equal(t, 45, updated.Stock)
}

func TestUpdateRejectsTakenSKU(t *testing.T) {
	m := newTestManager()

	taken := "DEMO-002"
	_, err := m.Update(context.Background(), "prod-1", domain.ProductUpdateRequest{SKU: &taken})
	require.ErrorIs(t, err, store.ErrDuplicateSKU)

	// Re-submitting a product's own SKU is not a conflict.
	own := "demo-001"
	updated, err := m.Update(context.Background(), "prod-1", domain.ProductUpdateRequest{SKU: &own})
	require.NoError(t, err)
	require.Equal(t, "DEMO-001", updated.SKU)
}

func TestDeleteRequiresZeroStock(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	err := m.Delete(ctx, "prod-1")
	require.ErrorIs(t, err, store.ErrInvariantViolation)

	zero := 0
	_, err = m.Update(ctx, "prod-1", domain.ProductUpdateRequest{Stock: &zero})
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, "prod-1"))
	_, err = m.GetByID(ctx, "prod-1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteUnknownProduct(t *testing.T) {
	m := newTestManager()

	err := m.Delete(context.Background(), "prod-unknown")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAdjustStock(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	product, err := m.AdjustStock(ctx, "prod-2", 5)
	require.NoError(t, err)
	require.Equal(t, 13, product.Stock)

	product, err = m.AdjustStock(ctx, "prod-2", -13)
	require.NoError(t, err)
	require.Equal(t, 0, product.Stock)

	_, err = m.AdjustStock(ctx, "prod-2", -1)
	require.ErrorIs(t, err, store.ErrInsufficientStock)
}

func TestLockStockDeduplicatesIDs(t *testing.T) {
	m := newTestManager()

	// Duplicate ids must not deadlock on a second acquisition.
	unlock := m.LockStock("prod-1", "prod-1", "prod-2")
	unlock()

	unlock = m.LockStock("prod-1")
	unlock()
}
