// Package postgres backs the record store with PostgreSQL through the pgx
// stdlib driver. The schema is created on startup; every method maps driver
// errors onto the shared store sentinels.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tokopos/internal/domain"
	"tokopos/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS stores (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			owner_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			full_name TEXT NOT NULL,
			role TEXT NOT NULL,
			store_id TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL,
			sku TEXT NOT NULL,
			name TEXT NOT NULL,
			category TEXT NOT NULL,
			stock INTEGER NOT NULL DEFAULT 0,
			buy_price NUMERIC(14,2) NOT NULL DEFAULT 0,
			sell_price NUMERIC(14,2) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (store_id, sku)
		)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL,
			cashier_id TEXT NOT NULL,
			total NUMERIC(14,2) NOT NULL,
			amount_received NUMERIC(14,2) NOT NULL,
			change_given NUMERIC(14,2) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sale_items (
			id TEXT PRIMARY KEY,
			sale_id TEXT NOT NULL,
			product_id TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			unit_price NUMERIC(14,2) NOT NULL,
			subtotal NUMERIC(14,2) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sale_items_sale_id ON sale_items (sale_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_store_created ON sales (store_id, created_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context, storeID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, sku, name, category, stock, buy_price, sell_price, created_at, updated_at
		FROM products
		WHERE ($1 = '' OR store_id = $1)
		ORDER BY category, name
	`, storeID)
	if err != nil {
		return nil, wrapDriverError(err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.StoreID, &p.SKU, &p.Name, &p.Category, &p.Stock, &p.BuyPrice, &p.SellPrice, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDriverError(err)
	}
	return products, nil
}

func (s *Store) FindProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.scanProduct(s.db.QueryRowContext(ctx, `
		SELECT id, store_id, sku, name, category, stock, buy_price, sell_price, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id))
}

func (s *Store) FindProductBySKU(ctx context.Context, storeID string, sku string) (*domain.Product, error) {
	return s.scanProduct(s.db.QueryRowContext(ctx, `
		SELECT id, store_id, sku, name, category, stock, buy_price, sell_price, created_at, updated_at
		FROM products
		WHERE store_id = $1 AND sku = $2
	`, storeID, sku))
}

func (s *Store) scanProduct(row *sql.Row) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.StoreID, &p.SKU, &p.Name, &p.Category, &p.Stock, &p.BuyPrice, &p.SellPrice, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapDriverError(err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, store_id, sku, name, category, stock, buy_price, sell_price, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, product.ID, product.StoreID, product.SKU, product.Name, product.Category, product.Stock, product.BuyPrice, product.SellPrice, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateSKU
		}
		return nil, wrapDriverError(err)
	}
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	product.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET sku = $2, name = $3, category = $4, stock = $5, buy_price = $6, sell_price = $7, updated_at = $8
		WHERE id = $1
	`, product.ID, product.SKU, product.Name, product.Category, product.Stock, product.BuyPrice, product.SellPrice, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateSKU
		}
		return nil, wrapDriverError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return false, wrapDriverError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) ListSales(ctx context.Context, storeID string) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, cashier_id, total, amount_received, change_given, created_at
		FROM sales
		WHERE ($1 = '' OR store_id = $1)
		ORDER BY created_at ASC
	`, storeID)
	if err != nil {
		return nil, wrapDriverError(err)
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.StoreID, &sale.CashierID, &sale.Total, &sale.AmountReceived, &sale.ChangeGiven, &sale.CreatedAt); err != nil {
			return nil, err
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDriverError(err)
	}
	return sales, nil
}

func (s *Store) FindSale(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT id, store_id, cashier_id, total, amount_received, change_given, created_at
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.StoreID, &sale.CashierID, &sale.Total, &sale.AmountReceived, &sale.ChangeGiven, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapDriverError(err)
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return &sale, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" {
		sale.ID = uuid.NewString()
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.Items = nil

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sales (id, store_id, cashier_id, total, amount_received, change_given, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, sale.ID, sale.StoreID, sale.CashierID, sale.Total, sale.AmountReceived, sale.ChangeGiven, sale.CreatedAt)
	if err != nil {
		return nil, wrapDriverError(err)
	}
	created := sale
	return &created, nil
}

func (s *Store) ListSaleItems(ctx context.Context) ([]domain.SaleItem, error) {
	return s.querySaleItems(ctx, `
		SELECT id, sale_id, product_id, quantity, unit_price, subtotal
		FROM sale_items
		ORDER BY id
	`)
}

func (s *Store) ListSaleItemsBySale(ctx context.Context, saleID string) ([]domain.SaleItem, error) {
	return s.querySaleItems(ctx, `
		SELECT id, sale_id, product_id, quantity, unit_price, subtotal
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id
	`, saleID)
}

func (s *Store) querySaleItems(ctx context.Context, query string, args ...any) ([]domain.SaleItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDriverError(err)
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 32)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDriverError(err)
	}
	return items, nil
}

func (s *Store) CreateSaleItem(ctx context.Context, item domain.SaleItem) (*domain.SaleItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sale_items (id, sale_id, product_id, quantity, unit_price, subtotal)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, item.ID, item.SaleID, item.ProductID, item.Quantity, item.UnitPrice, item.Subtotal)
	if err != nil {
		return nil, wrapDriverError(err)
	}
	created := item
	return &created, nil
}

func (s *Store) DeleteSaleItem(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE id = $1`, id)
	if err != nil {
		return false, wrapDriverError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) ListProfiles(ctx context.Context, storeID string) ([]domain.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, full_name, role, store_id, password_hash, created_at
		FROM profiles
		WHERE ($1 = '' OR store_id = $1)
		ORDER BY email
	`, storeID)
	if err != nil {
		return nil, wrapDriverError(err)
	}
	defer rows.Close()

	profiles := make([]domain.Profile, 0, 8)
	for rows.Next() {
		var p domain.Profile
		if err := rows.Scan(&p.ID, &p.Email, &p.FullName, &p.Role, &p.StoreID, &p.PasswordHash, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDriverError(err)
	}
	return profiles, nil
}

func (s *Store) FindProfile(ctx context.Context, id string) (*domain.Profile, error) {
	return s.scanProfile(s.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, role, store_id, password_hash, created_at
		FROM profiles
		WHERE id = $1
	`, id))
}

func (s *Store) FindProfileByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	return s.scanProfile(s.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, role, store_id, password_hash, created_at
		FROM profiles
		WHERE email = $1
	`, email))
}

func (s *Store) scanProfile(row *sql.Row) (*domain.Profile, error) {
	var p domain.Profile
	err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.Role, &p.StoreID, &p.PasswordHash, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapDriverError(err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *Store) FindStore(ctx context.Context, id string) (*domain.Store, error) {
	var st domain.Store
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, created_at
		FROM stores
		WHERE id = $1
	`, id).Scan(&st.ID, &st.Name, &st.OwnerID, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapDriverError(err)
	}
	st.CreatedAt = st.CreatedAt.UTC()
	return &st, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// wrapDriverError maps connection-level failures onto ErrUnavailable so the
// commit engine's retry policy applies; anything else passes through.
func wrapDriverError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(store.ErrUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "08") {
		return errors.Join(store.ErrUnavailable, err)
	}
	return err
}
