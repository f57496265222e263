// Package checkout turns a finalized cart into a persisted sale. It is the
// transactional core of the system: stock is re-validated against the live
// record store under per-product locks, decrements and item writes happen
// inside that critical section, and the sale record is written last so a
// crash mid-commit never leaves a sale pointing at missing items.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tokopos/internal/catalog"
	"tokopos/internal/domain"
	"tokopos/internal/store"
)

const (
	defaultStoreRetries = 2
	defaultRetryBackoff = 150 * time.Millisecond
)

// CommitError reports a commit that failed after some writes were already
// applied. The sale record itself is never written in that case, so the
// damage is limited to orphaned sale items and their stock decrements,
// both recoverable through Reconcile.
type CommitError struct {
	SaleID       string
	ItemsWritten int
	Err          error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("sale %s aborted after %d item write(s): %v", e.SaleID, e.ItemsWritten, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

type Engine struct {
	catalog *catalog.Manager
	repo    store.Repository
	log     zerolog.Logger
	retries int
	backoff time.Duration

	// commitMu serializes Reconcile against in-flight commits. Items are
	// written before their sale record, so a reconciliation pass that runs
	// mid-commit would mistake the commit's items for orphans, delete them
	// and restore their stock while the sale still gets written.
	commitMu sync.RWMutex
}

func NewEngine(cat *catalog.Manager, repo store.Repository, log zerolog.Logger) *Engine {
	return &Engine{
		catalog: cat,
		repo:    repo,
		log:     log,
		retries: defaultStoreRetries,
		backoff: defaultRetryBackoff,
	}
}

// CreateSale validates payment and input shape, re-validates every line
// against live stock, then commits: sale items and stock decrements first,
// the sale record last. Unit prices come from the caller (captured at cart
// time) and are deliberately not re-read from the product, so historical
// sales reflect the price actually charged.
func (e *Engine) CreateSale(ctx context.Context, input domain.SaleInput) (*domain.SaleResult, error) {
	if input.StoreID == "" || input.CashierID == "" {
		return nil, fmt.Errorf("%w: store and cashier are required", store.ErrValidation)
	}
	if len(input.Items) == 0 {
		return nil, fmt.Errorf("%w: sale has no items", store.ErrValidation)
	}

	expectedTotal := decimal.Zero
	productIDs := make([]string, 0, len(input.Items))
	for _, line := range input.Items {
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
		}
		if line.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: unit price cannot be negative", store.ErrValidation)
		}
		expectedTotal = expectedTotal.Add(lineSubtotal(line))
		productIDs = append(productIDs, line.ProductID)
	}
	if !expectedTotal.Equal(input.Total) {
		return nil, fmt.Errorf("%w: total %s does not match item subtotals %s",
			store.ErrValidation, input.Total.String(), expectedTotal.String())
	}
	if input.AmountReceived.LessThan(input.Total) {
		return nil, fmt.Errorf("%w: received %s for a total of %s",
			store.ErrInsufficientPayment, input.AmountReceived.String(), input.Total.String())
	}

	// Commits run concurrently with each other but never with Reconcile.
	e.commitMu.RLock()
	defer e.commitMu.RUnlock()

	// The stock locks cover both the re-validation read and the decrement
	// write, so two interleaved checkouts racing for the last units resolve
	// to exactly one winner.
	unlock := e.catalog.LockStock(productIDs...)
	defer unlock()

	for _, line := range input.Items {
		var product *domain.Product
		err := e.withRetry(ctx, func(ctx context.Context) error {
			var err error
			product, err = e.repo.FindProduct(ctx, line.ProductID)
			return err
		})
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("product %s: %w", line.ProductID, store.ErrNotFound)
			}
			return nil, err
		}
		if product.Stock < line.Quantity {
			return nil, &store.StockError{ProductID: product.ID, Name: product.Name, Available: product.Stock}
		}
	}

	// The sale id is assigned up front so items can reference it before the
	// sale record exists; the sale itself is written last.
	saleID := uuid.NewString()
	changeGiven := input.AmountReceived.Sub(input.Total)

	for i, line := range input.Items {
		item := domain.SaleItem{
			SaleID:    saleID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Subtotal:  lineSubtotal(line),
		}
		err := e.withRetry(ctx, func(ctx context.Context) error {
			_, err := e.repo.CreateSaleItem(ctx, item)
			return err
		})
		if err != nil {
			return nil, e.partialFailure(saleID, i, err)
		}

		if _, err := e.catalog.ApplyStockDelta(ctx, line.ProductID, -line.Quantity); err != nil {
			return nil, e.partialFailure(saleID, i+1, err)
		}
	}

	sale := domain.Sale{
		ID:             saleID,
		StoreID:        input.StoreID,
		CashierID:      input.CashierID,
		Total:          input.Total,
		AmountReceived: input.AmountReceived,
		ChangeGiven:    changeGiven,
	}
	var created *domain.Sale
	err := e.withRetry(ctx, func(ctx context.Context) error {
		var err error
		created, err = e.repo.CreateSale(ctx, sale)
		return err
	})
	if err != nil {
		return nil, e.partialFailure(saleID, len(input.Items), err)
	}

	e.log.Info().
		Str("sale_id", created.ID).
		Str("cashier_id", created.CashierID).
		Str("total", created.Total.String()).
		Int("lines", len(input.Items)).
		Msg("sale committed")

	return &domain.SaleResult{Sale: *created, ChangeGiven: changeGiven}, nil
}

// partialFailure wraps an error that hit after writes were applied. The
// inconsistency is surfaced, logged and left for Reconcile; the engine
// never compensates on its own.
func (e *Engine) partialFailure(saleID string, itemsWritten int, err error) error {
	if itemsWritten == 0 {
		return err
	}
	commitErr := &CommitError{SaleID: saleID, ItemsWritten: itemsWritten, Err: err}
	e.log.Error().
		Str("sale_id", saleID).
		Int("items_written", itemsWritten).
		Err(err).
		Msg("partial sale commit, reconciliation required")
	return commitErr
}

// withRetry retries a single record-store call with backoff while it keeps
// reporting the store unavailable. Business-rule errors are never retried.
func (e *Engine) withRetry(ctx context.Context, op func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil || !errors.Is(err, store.ErrUnavailable) {
			return err
		}
		if attempt >= e.retries {
			return err
		}
		select {
		case <-time.After(e.backoff << attempt):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", store.ErrUnavailable, ctx.Err())
		}
	}
}

// SaleByID returns a sale with its items joined.
func (e *Engine) SaleByID(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := e.repo.FindSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	items, err := e.repo.ListSaleItemsBySale(ctx, sale.ID)
	if err != nil {
		return domain.Sale{}, err
	}
	joined := *sale
	joined.Items = items
	return joined, nil
}

// SalesByStore lists a store's sales ordered by creation time.
func (e *Engine) SalesByStore(ctx context.Context, storeID string) ([]domain.Sale, error) {
	return e.repo.ListSales(ctx, storeID)
}

// Reconcile is the explicit recovery hook for commits that died between the
// first item write and the sale write: it removes sale items whose owning
// sale was never persisted and restores their stock. Operator-invoked; the
// commit path never calls it.
func (e *Engine) Reconcile(ctx context.Context) (domain.ReconcileReport, error) {
	// Wait out every in-flight commit and hold off new ones: an item whose
	// sale record has not been written yet is not an orphan.
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	report := domain.ReconcileReport{
		RestoredUnits: make(map[string]int),
		CheckedAt:     time.Now().UTC(),
	}

	items, err := e.repo.ListSaleItems(ctx)
	if err != nil {
		return report, err
	}
	sales, err := e.repo.ListSales(ctx, "")
	if err != nil {
		return report, err
	}
	known := make(map[string]struct{}, len(sales))
	for _, sale := range sales {
		known[sale.ID] = struct{}{}
	}

	for _, item := range items {
		if _, ok := known[item.SaleID]; ok {
			continue
		}
		if _, err := e.repo.DeleteSaleItem(ctx, item.ID); err != nil {
			return report, err
		}
		if _, err := e.catalog.AdjustStock(ctx, item.ProductID, item.Quantity); err != nil {
			// The product may have been deleted since; the units are gone
			// but the orphan row is, too.
			if !errors.Is(err, store.ErrNotFound) {
				return report, err
			}
			e.log.Warn().Str("product_id", item.ProductID).Msg("orphan item referenced a deleted product")
		} else {
			report.RestoredUnits[item.ProductID] += item.Quantity
		}
		report.OrphanItems++
		e.log.Warn().
			Str("sale_id", item.SaleID).
			Str("sale_item_id", item.ID).
			Str("product_id", item.ProductID).
			Int("quantity", item.Quantity).
			Msg("removed orphaned sale item")
	}

	return report, nil
}

func lineSubtotal(line domain.SaleLineInput) decimal.Decimal {
	return line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
}
