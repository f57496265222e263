package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role = string

const (
	RoleOwner   Role = "owner"
	RoleCashier Role = "cashier"
)

// Store is the tenant scope every other record hangs off. The application
// runs a single store; the field exists so records stay portable.
type Store struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Profile struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	Role         Role      `json:"role"`
	StoreID      string    `json:"store_id"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type Product struct {
	ID        string          `json:"id"`
	StoreID   string          `json:"store_id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Stock     int             `json:"stock"`
	BuyPrice  decimal.Decimal `json:"buy_price"`
	SellPrice decimal.Decimal `json:"sell_price"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type ProductCreateRequest struct {
	StoreID   string          `json:"store_id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Stock     int             `json:"stock"`
	BuyPrice  decimal.Decimal `json:"buy_price"`
	SellPrice decimal.Decimal `json:"sell_price"`
}

type ProductUpdateRequest struct {
	SKU       *string          `json:"sku,omitempty"`
	Name      *string          `json:"name,omitempty"`
	Category  *string          `json:"category,omitempty"`
	Stock     *int             `json:"stock,omitempty"`
	BuyPrice  *decimal.Decimal `json:"buy_price,omitempty"`
	SellPrice *decimal.Decimal `json:"sell_price,omitempty"`
}

// Sale is immutable once written. Total always equals the sum of its item
// subtotals and ChangeGiven equals AmountReceived minus Total.
type Sale struct {
	ID             string          `json:"id"`
	StoreID        string          `json:"store_id"`
	CashierID      string          `json:"cashier_id"`
	Total          decimal.Decimal `json:"total"`
	AmountReceived decimal.Decimal `json:"amount_received"`
	ChangeGiven    decimal.Decimal `json:"change_given"`
	CreatedAt      time.Time       `json:"created_at"`
	Items          []SaleItem      `json:"items,omitempty"`
}

// SaleItem freezes the unit price charged at sale time. It references its
// product by id only; the product may be deleted later without rewriting
// historical sales.
type SaleItem struct {
	ID        string          `json:"id"`
	SaleID    string          `json:"sale_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type SaleLineInput struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type SaleInput struct {
	StoreID        string          `json:"store_id"`
	CashierID      string          `json:"cashier_id"`
	Items          []SaleLineInput `json:"items"`
	Total          decimal.Decimal `json:"total"`
	AmountReceived decimal.Decimal `json:"amount_received"`
}

type SaleResult struct {
	Sale        Sale            `json:"sale"`
	ChangeGiven decimal.Decimal `json:"change_given"`
}

// ReconcileReport summarises what an operator-invoked reconciliation pass
// cleaned up: sale items whose owning sale was never written.
type ReconcileReport struct {
	OrphanItems   int            `json:"orphan_items"`
	RestoredUnits map[string]int `json:"restored_units,omitempty"`
	CheckedAt     time.Time      `json:"checked_at"`
}

type DashboardStats struct {
	TodayRevenue    decimal.Decimal `json:"today_revenue"`
	TodaySales      int             `json:"today_sales"`
	TotalProducts   int             `json:"total_products"`
	LowStockCount   int             `json:"low_stock_count"`
	TotalStockValue decimal.Decimal `json:"total_stock_value"`
}

type TopProduct struct {
	Product   Product         `json:"product"`
	TotalSold int             `json:"total_sold"`
	Revenue   decimal.Decimal `json:"revenue"`
}

type DailySales struct {
	Date    string          `json:"date"`
	Revenue decimal.Decimal `json:"revenue"`
	Sales   int             `json:"sales"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string  `json:"access_token"`
	Profile     Profile `json:"profile"`
	ExpiresAt   string  `json:"expires_at"`
}

// Actor identifies the authenticated profile a request runs as.
type Actor struct {
	ProfileID string
	Email     string
	Role      Role
	StoreID   string
}
