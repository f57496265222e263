package memory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"tokopos/internal/domain"
	"tokopos/internal/store"
)

func TestSeedRejectsUnhashablePassword(t *testing.T) {
	// bcrypt caps passwords at 72 bytes; a longer override must fail the
	// seed loudly instead of silently producing a broken profile.
	t.Setenv("SEED_OWNER_PASSWORD", strings.Repeat("x", 80))
	require.Panics(t, func() { NewSeeded(Options{}) })
}

func TestSeededDataset(t *testing.T) {
	s := NewSeeded(Options{})
	ctx := context.Background()

	products, err := s.ListProducts(ctx, "store-1")
	require.NoError(t, err)
	require.Len(t, products, 3)
	// Sorted by category, then name.
	require.Equal(t, "USB-C Cable", products[0].Name)
	require.Equal(t, "Mechanical Keyboard", products[1].Name)
	require.Equal(t, "Wireless Mouse", products[2].Name)

	sales, err := s.ListSales(ctx, "store-1")
	require.NoError(t, err)
	require.Len(t, sales, 3)
	require.Equal(t, "sale-1", sales[0].ID, "oldest sale first")

	profile, err := s.FindProfileByEmail(ctx, "ADMIN@demo.com")
	require.NoError(t, err)
	require.Equal(t, domain.RoleOwner, profile.Role)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte("admin123")))

	st, err := s.FindStore(ctx, "store-1")
	require.NoError(t, err)
	require.Equal(t, "user-owner-1", st.OwnerID)
}

func TestProductRoundTrip(t *testing.T) {
	s := New(Options{})
	ctx := context.Background()

	created, err := s.CreateProduct(ctx, domain.Product{
		StoreID:   "store-1",
		SKU:       "RT-1",
		Name:      "Widget",
		Category:  "Misc",
		Stock:     3,
		SellPrice: decimal.RequireFromString("5.00"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.False(t, created.CreatedAt.IsZero())

	found, err := s.FindProduct(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "Widget", found.Name)

	found.Stock = 7
	updated, err := s.UpdateProduct(ctx, *found)
	require.NoError(t, err)
	require.Equal(t, 7, updated.Stock)
	require.Equal(t, created.CreatedAt, updated.CreatedAt)

	deleted, err := s.DeleteProduct(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = s.DeleteProduct(ctx, created.ID)
	require.NoError(t, err)
	require.False(t, deleted)

	_, err = s.FindProduct(ctx, created.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaleKeepsPreassignedIDAndTimestamp(t *testing.T) {
	s := New(Options{})
	ctx := context.Background()
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	created, err := s.CreateSale(ctx, domain.Sale{
		ID:             "sale-pre",
		StoreID:        "store-1",
		CashierID:      "c-1",
		Total:          decimal.RequireFromString("10.00"),
		AmountReceived: decimal.RequireFromString("10.00"),
		ChangeGiven:    decimal.Zero,
		CreatedAt:      at,
		Items:          []domain.SaleItem{{ID: "never-stored"}},
	})
	require.NoError(t, err)
	require.Equal(t, "sale-pre", created.ID)
	require.Equal(t, at, created.CreatedAt)
	require.Nil(t, created.Items, "items are stored in their own collection")

	_, err = s.CreateSale(ctx, domain.Sale{ID: "sale-pre"})
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestExpiredContextSurfacesAsUnavailable(t *testing.T) {
	s := NewSeeded(Options{Latency: 50 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	_, err := s.ListProducts(ctx, "store-1")
	require.ErrorIs(t, err, store.ErrUnavailable)

	_, err = s.CreateSaleItem(ctx, domain.SaleItem{SaleID: "x", ProductID: "y", Quantity: 1})
	require.ErrorIs(t, err, store.ErrUnavailable)
}

func TestSnapshotSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	ctx := context.Background()

	first := New(Options{SnapshotPath: path})
	_, err := first.CreateProduct(ctx, domain.Product{
		ID:        "p-snap",
		StoreID:   "store-1",
		SKU:       "SNAP-1",
		Name:      "Persisted",
		Category:  "Misc",
		Stock:     9,
		SellPrice: decimal.RequireFromString("1.00"),
	})
	require.NoError(t, err)
	_, err = first.CreateSale(ctx, domain.Sale{
		ID:             "sale-snap",
		StoreID:        "store-1",
		CashierID:      "c-1",
		Total:          decimal.RequireFromString("1.00"),
		AmountReceived: decimal.RequireFromString("1.00"),
		ChangeGiven:    decimal.Zero,
	})
	require.NoError(t, err)

	second := New(Options{SnapshotPath: path})
	product, err := second.FindProduct(ctx, "p-snap")
	require.NoError(t, err)
	require.Equal(t, 9, product.Stock)

	sale, err := second.FindSale(ctx, "sale-snap")
	require.NoError(t, err)
	require.True(t, sale.Total.Equal(decimal.RequireFromString("1.00")))
}

func TestSeededSkipsWhenSnapshotHasData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	ctx := context.Background()

	first := New(Options{SnapshotPath: path})
	_, err := first.CreateProduct(ctx, domain.Product{
		ID: "p-own", StoreID: "store-1", SKU: "OWN-1", Name: "Own", Category: "Misc",
	})
	require.NoError(t, err)

	second := NewSeeded(Options{SnapshotPath: path})
	products, err := second.ListProducts(ctx, "store-1")
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, "p-own", products[0].ID)
}
