// Package cart accumulates the products a cashier has rung up before
// checkout. A cart is confined to one terminal session: it is never
// persisted and never shared, so it carries no synchronization of its own.
package cart

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tokopos/internal/domain"
	"tokopos/internal/store"
)

// Item is one cart line: a product snapshot, the quantity rung up and the
// derived subtotal. The snapshot's stock may go stale while the cart is
// open; the commit engine re-validates against live stock.
type Item struct {
	Product  domain.Product
	Quantity int
	Subtotal decimal.Decimal
}

type Cart struct {
	items map[string]*Item
	order []string
}

func New() *Cart {
	return &Cart{items: make(map[string]*Item)}
}

// AddItem puts quantity units of the product in the cart, merging with an
// existing line for the same product. The combined quantity may not exceed
// the stock observed on the product snapshot.
func (c *Cart) AddItem(product domain.Product, quantity int) (Item, error) {
	if quantity < 1 {
		return Item{}, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}

	if existing, ok := c.items[product.ID]; ok {
		newQuantity := existing.Quantity + quantity
		if newQuantity > existing.Product.Stock {
			return Item{}, &store.StockError{ProductID: product.ID, Name: existing.Product.Name, Available: existing.Product.Stock}
		}
		existing.Quantity = newQuantity
		existing.Subtotal = lineSubtotal(existing.Product, newQuantity)
		return *existing, nil
	}

	if quantity > product.Stock {
		return Item{}, &store.StockError{ProductID: product.ID, Name: product.Name, Available: product.Stock}
	}

	item := &Item{
		Product:  product,
		Quantity: quantity,
		Subtotal: lineSubtotal(product, quantity),
	}
	c.items[product.ID] = item
	c.order = append(c.order, product.ID)
	return *item, nil
}

// UpdateQuantity sets a line to an absolute quantity. Zero or negative
// removes the line. A failed update leaves the line untouched. Updating an
// absent line is a no-op.
func (c *Cart) UpdateQuantity(productID string, quantity int) (*Item, error) {
	item, ok := c.items[productID]
	if !ok {
		return nil, nil
	}

	if quantity <= 0 {
		c.RemoveItem(productID)
		return nil, nil
	}
	if quantity > item.Product.Stock {
		return nil, &store.StockError{ProductID: productID, Name: item.Product.Name, Available: item.Product.Stock}
	}

	item.Quantity = quantity
	item.Subtotal = lineSubtotal(item.Product, quantity)
	updated := *item
	return &updated, nil
}

// RemoveItem is idempotent: removing an absent line is not an error.
func (c *Cart) RemoveItem(productID string) {
	if _, ok := c.items[productID]; !ok {
		return
	}
	delete(c.items, productID)
	for i, id := range c.order {
		if id == productID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Items returns the lines in the order they were first added.
func (c *Cart) Items() []Item {
	items := make([]Item, 0, len(c.items))
	for _, id := range c.order {
		items = append(items, *c.items[id])
	}
	return items
}

func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.items {
		total = total.Add(item.Subtotal)
	}
	return total
}

func (c *Cart) ItemCount() int {
	count := 0
	for _, item := range c.items {
		count += item.Quantity
	}
	return count
}

func (c *Cart) Clear() {
	c.items = make(map[string]*Item)
	c.order = nil
}

// Lines converts the cart into sale line inputs for the commit engine,
// freezing each line's unit price at the snapshot's sell price.
func (c *Cart) Lines() []domain.SaleLineInput {
	lines := make([]domain.SaleLineInput, 0, len(c.items))
	for _, item := range c.Items() {
		lines = append(lines, domain.SaleLineInput{
			ProductID: item.Product.ID,
			Quantity:  item.Quantity,
			UnitPrice: item.Product.SellPrice,
		})
	}
	return lines
}

func lineSubtotal(product domain.Product, quantity int) decimal.Decimal {
	return product.SellPrice.Mul(decimal.NewFromInt(int64(quantity)))
}
