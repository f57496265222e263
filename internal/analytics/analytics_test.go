package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tokopos/internal/domain"
	"tokopos/internal/store/memory"
)

func money(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// fixture builds a store with deterministic timestamps: two sales today,
// one yesterday, one outside the seven-day window.
func fixture(t *testing.T) *memory.Store {
	t.Helper()
	repo := memory.New(memory.Options{})
	ctx := context.Background()
	now := time.Now().UTC()

	products := []domain.Product{
		{ID: "p-mouse", StoreID: "store-1", SKU: "M-1", Name: "Mouse", Category: "Electronics", Stock: 4, BuyPrice: money("15.00"), SellPrice: money("29.99")},
		{ID: "p-cable", StoreID: "store-1", SKU: "C-1", Name: "Cable", Category: "Accessories", Stock: 120, BuyPrice: money("2.50"), SellPrice: money("9.99")},
	}
	for _, p := range products {
		_, err := repo.CreateProduct(ctx, p)
		require.NoError(t, err)
	}

	sales := []domain.Sale{
		{ID: "s-1", StoreID: "store-1", CashierID: "c-1", Total: money("29.99"), AmountReceived: money("30.00"), ChangeGiven: money("0.01"), CreatedAt: now.Add(-time.Minute)},
		{ID: "s-2", StoreID: "store-1", CashierID: "c-1", Total: money("9.99"), AmountReceived: money("10.00"), ChangeGiven: money("0.01"), CreatedAt: now.Add(-2 * time.Minute)},
		{ID: "s-3", StoreID: "store-1", CashierID: "c-1", Total: money("29.99"), AmountReceived: money("29.99"), ChangeGiven: money("0"), CreatedAt: now.AddDate(0, 0, -1)},
		{ID: "s-4", StoreID: "store-1", CashierID: "c-1", Total: money("100.00"), AmountReceived: money("100.00"), ChangeGiven: money("0"), CreatedAt: now.AddDate(0, 0, -8)},
	}
	for _, sale := range sales {
		_, err := repo.CreateSale(ctx, sale)
		require.NoError(t, err)
	}

	items := []domain.SaleItem{
		{ID: "i-1", SaleID: "s-1", ProductID: "p-mouse", Quantity: 1, UnitPrice: money("29.99"), Subtotal: money("29.99")},
		{ID: "i-2", SaleID: "s-2", ProductID: "p-cable", Quantity: 1, UnitPrice: money("9.99"), Subtotal: money("9.99")},
		{ID: "i-3", SaleID: "s-3", ProductID: "p-mouse", Quantity: 1, UnitPrice: money("29.99"), Subtotal: money("29.99")},
	}
	for _, item := range items {
		_, err := repo.CreateSaleItem(ctx, item)
		require.NoError(t, err)
	}
	return repo
}

func newAggregator(repo *memory.Store) *Aggregator {
	return New(repo, nil, time.Second, 10, zerolog.Nop())
}

func TestDashboardStats(t *testing.T) {
	agg := newAggregator(fixture(t))

	stats, err := agg.DashboardStats(context.Background(), "store-1")
	require.NoError(t, err)

	// s-1 and s-2 fall on today's date; s-3 and s-4 do not.
	require.Equal(t, 2, stats.TodaySales)
	require.True(t, stats.TodayRevenue.Equal(money("39.98")), "got %s", stats.TodayRevenue)
	require.Equal(t, 2, stats.TotalProducts)
	require.Equal(t, 1, stats.LowStockCount)
	// 4*15.00 + 120*2.50
	require.True(t, stats.TotalStockValue.Equal(money("360.00")), "got %s", stats.TotalStockValue)
}

func TestDashboardStatsEmptyStore(t *testing.T) {
	agg := newAggregator(memory.New(memory.Options{}))

	stats, err := agg.DashboardStats(context.Background(), "store-1")
	require.NoError(t, err)
	require.Equal(t, 0, stats.TodaySales)
	require.True(t, stats.TodayRevenue.IsZero())
	require.Equal(t, 0, stats.TotalProducts)
	require.True(t, stats.TotalStockValue.IsZero())
}

func TestLowStockProducts(t *testing.T) {
	agg := newAggregator(fixture(t))

	low, err := agg.LowStockProducts(context.Background(), "store-1", 0)
	require.NoError(t, err)
	require.Len(t, low, 1)
	require.Equal(t, "p-mouse", low[0].ID)

	low, err = agg.LowStockProducts(context.Background(), "store-1", 200)
	require.NoError(t, err)
	require.Len(t, low, 2)
	// Lowest stock first.
	require.Equal(t, "p-mouse", low[0].ID)
	require.Equal(t, "p-cable", low[1].ID)
}

func TestTopProducts(t *testing.T) {
	agg := newAggregator(fixture(t))

	top, err := agg.TopProducts(context.Background(), "store-1", 5)
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.Equal(t, "p-mouse", top[0].Product.ID)
	require.Equal(t, 2, top[0].TotalSold)
	require.True(t, top[0].Revenue.Equal(money("59.98")))
	require.Equal(t, "p-cable", top[1].Product.ID)

	top, err = agg.TopProducts(context.Background(), "store-1", 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	require.Equal(t, "p-mouse", top[0].Product.ID)
}

func TestTopProductsSkipsDeletedProducts(t *testing.T) {
	repo := fixture(t)
	agg := newAggregator(repo)
	ctx := context.Background()

	_, err := repo.DeleteProduct(ctx, "p-mouse")
	require.NoError(t, err)

	top, err := agg.TopProducts(ctx, "store-1", 5)
	require.NoError(t, err)
	require.Len(t, top, 1)
	require.Equal(t, "p-cable", top[0].Product.ID)
}

func TestLast7DaysSalesZeroFills(t *testing.T) {
	agg := newAggregator(fixture(t))

	days, err := agg.Last7DaysSales(context.Background(), "store-1")
	require.NoError(t, err)
	require.Len(t, days, 7)

	today := time.Now().UTC().Format("2006-01-02")
	require.Equal(t, today, days[6].Date)
	require.Equal(t, 2, days[6].Sales)
	require.True(t, days[6].Revenue.Equal(money("39.98")))

	require.Equal(t, 1, days[5].Sales)

	// Quiet days report zero revenue, not missing entries. The sale from
	// eight days ago is outside the window entirely.
	totalSales := 0
	for _, day := range days {
		totalSales += day.Sales
		require.False(t, day.Revenue.IsNegative())
	}
	require.Equal(t, 3, totalSales)
}

func TestRecentSalesNewestFirst(t *testing.T) {
	agg := newAggregator(fixture(t))

	sales, err := agg.RecentSales(context.Background(), "store-1", 3)
	require.NoError(t, err)
	require.Len(t, sales, 3)
	require.Equal(t, "s-1", sales[0].ID)
	require.Equal(t, "s-2", sales[1].ID)
	require.Equal(t, "s-3", sales[2].ID)
}
