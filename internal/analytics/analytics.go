// Package analytics computes the read-side views over persisted sales and
// products. Everything here is idempotent, side-effect free and tolerates
// an empty data set.
package analytics

import (
	"context"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tokopos/internal/cache"
	"tokopos/internal/domain"
	"tokopos/internal/store"
)

const DefaultLowStockThreshold = 10

type Aggregator struct {
	repo      store.Repository
	cache     cache.StatsCache
	cacheTTL  time.Duration
	threshold int
	log       zerolog.Logger
}

func New(repo store.Repository, statsCache cache.StatsCache, cacheTTL time.Duration, lowStockThreshold int, log zerolog.Logger) *Aggregator {
	if statsCache == nil {
		statsCache = cache.NoopStatsCache{}
	}
	if lowStockThreshold < 1 {
		lowStockThreshold = DefaultLowStockThreshold
	}
	return &Aggregator{
		repo:      repo,
		cache:     statsCache,
		cacheTTL:  cacheTTL,
		threshold: lowStockThreshold,
		log:       log,
	}
}

// DashboardStats returns today's revenue and sale count, the product count,
// the low-stock count and the total stock value (buy price times stock).
func (a *Aggregator) DashboardStats(ctx context.Context, storeID string) (domain.DashboardStats, error) {
	cacheKey := "stats:" + storeID
	if cached, ok, err := a.cache.Get(ctx, cacheKey); err != nil {
		a.log.Warn().Err(err).Msg("stats cache read failed")
	} else if ok {
		return *cached, nil
	}

	sales, err := a.repo.ListSales(ctx, storeID)
	if err != nil {
		return domain.DashboardStats{}, err
	}
	products, err := a.repo.ListProducts(ctx, storeID)
	if err != nil {
		return domain.DashboardStats{}, err
	}

	today := dateOf(time.Now().UTC())
	stats := domain.DashboardStats{
		TodayRevenue:    decimal.Zero,
		TotalStockValue: decimal.Zero,
	}
	for _, sale := range sales {
		if dateOf(sale.CreatedAt.UTC()) != today {
			continue
		}
		stats.TodayRevenue = stats.TodayRevenue.Add(sale.Total)
		stats.TodaySales++
	}
	stats.TotalProducts = len(products)
	for _, p := range products {
		if p.Stock < a.threshold {
			stats.LowStockCount++
		}
		stats.TotalStockValue = stats.TotalStockValue.Add(p.BuyPrice.Mul(decimal.NewFromInt(int64(p.Stock))))
	}

	if err := a.cache.Set(ctx, cacheKey, &stats, a.cacheTTL); err != nil {
		a.log.Warn().Err(err).Msg("stats cache write failed")
	}
	return stats, nil
}

// LowStockProducts lists products with stock below the threshold, lowest
// stock first. A non-positive threshold falls back to the configured one.
func (a *Aggregator) LowStockProducts(ctx context.Context, storeID string, threshold int) ([]domain.Product, error) {
	if threshold < 1 {
		threshold = a.threshold
	}

	products, err := a.repo.ListProducts(ctx, storeID)
	if err != nil {
		return nil, err
	}

	low := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if p.Stock < threshold {
			low = append(low, p)
		}
	}
	slices.SortStableFunc(low, func(x, y domain.Product) int {
		return x.Stock - y.Stock
	})
	return low, nil
}

// TopProducts aggregates sale items by product for the store's sales,
// sorted by revenue descending and truncated to limit.
func (a *Aggregator) TopProducts(ctx context.Context, storeID string, limit int) ([]domain.TopProduct, error) {
	if limit < 1 {
		limit = 5
	}

	items, err := a.repo.ListSaleItems(ctx)
	if err != nil {
		return nil, err
	}
	sales, err := a.repo.ListSales(ctx, storeID)
	if err != nil {
		return nil, err
	}
	products, err := a.repo.ListProducts(ctx, storeID)
	if err != nil {
		return nil, err
	}

	storeSales := make(map[string]struct{}, len(sales))
	for _, sale := range sales {
		storeSales[sale.ID] = struct{}{}
	}
	productByID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productByID[p.ID] = p
	}

	type tally struct {
		sold    int
		revenue decimal.Decimal
	}
	tallies := make(map[string]*tally)
	for _, item := range items {
		if _, ok := storeSales[item.SaleID]; !ok {
			continue
		}
		t, ok := tallies[item.ProductID]
		if !ok {
			t = &tally{revenue: decimal.Zero}
			tallies[item.ProductID] = t
		}
		t.sold += item.Quantity
		t.revenue = t.revenue.Add(item.Subtotal)
	}

	top := make([]domain.TopProduct, 0, len(tallies))
	for productID, t := range tallies {
		product, ok := productByID[productID]
		if !ok {
			// Sold products can be deleted once stock hits zero; their
			// historical revenue has no product row to attach to.
			continue
		}
		top = append(top, domain.TopProduct{Product: product, TotalSold: t.sold, Revenue: t.revenue})
	}
	slices.SortStableFunc(top, func(x, y domain.TopProduct) int {
		return y.Revenue.Cmp(x.Revenue)
	})
	if len(top) > limit {
		top = top[:limit]
	}
	return top, nil
}

// Last7DaysSales returns revenue and sale count per calendar day for the
// trailing seven days including today, zero-filled for quiet days.
func (a *Aggregator) Last7DaysSales(ctx context.Context, storeID string) ([]domain.DailySales, error) {
	sales, err := a.repo.ListSales(ctx, storeID)
	if err != nil {
		return nil, err
	}

	byDate := make(map[string]*domain.DailySales, 7)
	days := make([]domain.DailySales, 7)
	now := time.Now().UTC()
	for i := 0; i < 7; i++ {
		date := dateOf(now.AddDate(0, 0, i-6))
		days[i] = domain.DailySales{Date: date, Revenue: decimal.Zero}
		byDate[date] = &days[i]
	}

	for _, sale := range sales {
		day, ok := byDate[dateOf(sale.CreatedAt.UTC())]
		if !ok {
			continue
		}
		day.Revenue = day.Revenue.Add(sale.Total)
		day.Sales++
	}
	return days, nil
}

// RecentSales lists the newest sales first.
func (a *Aggregator) RecentSales(ctx context.Context, storeID string, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 10
	}

	sales, err := a.repo.ListSales(ctx, storeID)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(sales, func(x, y domain.Sale) int {
		return y.CreatedAt.Compare(x.CreatedAt)
	})
	if len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func dateOf(t time.Time) string {
	return t.Format("2006-01-02")
}
