// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/beershop-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrProductNotFound возвращается, если товар не найден.
var (
	ErrProductNotFound = errors.New("product not found")
	// ErrBuyerNotFound возвращается, если покупатель не найден.
	ErrBuyerNotFound = errors.New("buyer not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrBuyerExists возвращается при попытке создать покупателя с уже занятым email.
	ErrBuyerExists = errors.New("buyer already exists")
	// ErrOrderExists возвращается при вставке заказа с уже использованным ключом идемпотентности.
	ErrOrderExists = errors.New("order with this idempotency key already exists")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при временных сбоях PostgreSQL:
// deadlock, serialization failure и сетевые обрывы соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(time.Second))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
			return err
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateBuyer создаёт нового покупателя.
func (r *PostgresRepository) CreateBuyer(ctx context.Context, name, email, phoneNumber string) (*model.Buyer, error) {
	var b model.Buyer
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (id, name, email, phone_number) VALUES ($1, $2, $3, $4)
		 RETURNING id, name, email, phone_number, created_at`,
		uuid.NewString(), name, email, phoneNumber,
	).Scan(&b.ID, &b.Name, &b.Email, &b.PhoneNumber, &b.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrBuyerExists, email)
		}
		return nil, fmt.Errorf("create buyer: %w", err)
	}
	return &b, nil
}

// BuyerExists проверяет существование покупателя по идентификатору.
func (r *PostgresRepository) BuyerExists(ctx context.Context, buyerID string) error {
	var dummy int
	err := r.pool.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1`, buyerID).Scan(&dummy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrBuyerNotFound, buyerID)
		}
		return fmt.Errorf("check buyer: %w", err)
	}
	return nil
}

// GetProduct возвращает снимок цены и остатка товара.
func (r *PostgresRepository) GetProduct(ctx context.Context, productID string) (*model.ProductAvailability, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, image_url, price_cents, stock FROM products WHERE id = $1`,
		productID,
	)

	var p model.ProductAvailability
	err := row.Scan(&p.ID, &p.Name, &p.ImageURL, &p.PriceCents, &p.Stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return &p, nil
}

// ListProducts возвращает товары каталога.
func (r *PostgresRepository) ListProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description, image_url, price_cents, stock, created_at
		 FROM products
		 ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.ImageURL, &p.PriceCents, &p.Stock, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return products, nil
}

// GetProductByID возвращает полную карточку товара.
func (r *PostgresRepository) GetProductByID(ctx context.Context, productID string) (*model.Product, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, description, image_url, price_cents, stock, created_at
		 FROM products WHERE id = $1`,
		productID,
	)

	var p model.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.ImageURL, &p.PriceCents, &p.Stock, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return &p, nil
}

// DecrementStock выполняет атомарное условное списание остатка товара.
// Возвращает false, если остатка недостаточно. Единственный оператор UPDATE
// с условием stock >= qty закрывает гонку между конкурентными покупателями.
func (r *PostgresRepository) DecrementStock(ctx context.Context, productID string, quantity int32) (bool, error) {
	var (
		cmdTag pgconn.CommandTag
		err    error
	)

	retryErr := r.withRetry(ctx, func() error {
		cmdTag, err = r.pool.Exec(ctx,
			`UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2`,
			productID, quantity,
		)
		return err
	})
	if retryErr != nil {
		return false, fmt.Errorf("decrement stock: %w", retryErr)
	}

	if cmdTag.RowsAffected() == 0 {
		// Либо товара нет, либо остатка не хватает.
		var dummy int
		probeErr := r.withRetry(ctx, func() error {
			return r.pool.QueryRow(ctx, `SELECT 1 FROM products WHERE id = $1`, productID).Scan(&dummy)
		})
		if errors.Is(probeErr, pgx.ErrNoRows) {
			return false, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		if probeErr != nil {
			return false, fmt.Errorf("check product: %w", probeErr)
		}
		return false, nil
	}

	return true, nil
}

// IncrementStock возвращает ранее списанное количество товара (компенсация).
func (r *PostgresRepository) IncrementStock(ctx context.Context, productID string, quantity int32) error {
	var cmdTag pgconn.CommandTag

	retryErr := r.withRetry(ctx, func() error {
		var err error
		cmdTag, err = r.pool.Exec(ctx,
			`UPDATE products SET stock = stock + $2 WHERE id = $1`,
			productID, quantity,
		)
		return err
	})
	if retryErr != nil {
		return fmt.Errorf("increment stock: %w", retryErr)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}

	return nil
}

// CreateOrder сохраняет неизменяемую запись заказа вместе с позициями.
// Цена каждой позиции фиксируется на момент покупки.
func (r *PostgresRepository) CreateOrder(ctx context.Context, buyerID, idempotencyKey string, items []model.OrderItem) (*model.Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	order := &model.Order{
		ID:             uuid.NewString(),
		BuyerID:        buyerID,
		IdempotencyKey: idempotencyKey,
		Status:         model.OrderStatusCreated,
		Items:          items,
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO orders (id, buyer_id, idempotency_key, status) VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		order.ID, buyerID, idempotencyKey, string(order.Status),
	).Scan(&order.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.UniqueViolation {
				return nil, fmt.Errorf("%w: %s", ErrOrderExists, idempotencyKey)
			}
			if pgErr.Code == pgerrcode.ForeignKeyViolation {
				return nil, fmt.Errorf("%w: %s", ErrBuyerNotFound, buyerID)
			}
		}
		return nil, fmt.Errorf("insert order: %w", err)
	}

	for _, it := range items {
		_, err := tx.Exec(ctx,
			`INSERT INTO order_items (order_id, product_id, quantity, unit_price_cents)
			 VALUES ($1, $2, $3, $4)`,
			order.ID, it.ProductID, it.Quantity, it.UnitPriceCents,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
				return nil, fmt.Errorf("%w: %s", ErrProductNotFound, it.ProductID)
			}
			return nil, fmt.Errorf("insert order item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return order, nil
}

// GetOrderByIdempotencyKey возвращает заказ по ключу идемпотентности.
func (r *PostgresRepository) GetOrderByIdempotencyKey(ctx context.Context, idempotencyKey string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, buyer_id, idempotency_key, status, created_at
		 FROM orders WHERE idempotency_key = $1`,
		idempotencyKey,
	)
	return r.scanOrder(ctx, row)
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, buyer_id, idempotency_key, status, created_at
		 FROM orders WHERE id = $1`,
		orderID,
	)
	return r.scanOrder(ctx, row)
}

func (r *PostgresRepository) scanOrder(ctx context.Context, row pgx.Row) (*model.Order, error) {
	var (
		o      model.Order
		status string
	)
	if err := row.Scan(&o.ID, &o.BuyerID, &o.IdempotencyKey, &status, &o.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.Status = model.OrderStatus(status)

	rows, err := r.pool.Query(ctx,
		`SELECT product_id, quantity, unit_price_cents
		 FROM order_items WHERE order_id = $1
		 ORDER BY position`,
		o.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.UnitPriceCents); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &o, nil
}

// AppendOrderToBuyer добавляет ссылку на заказ в историю покупателя.
func (r *PostgresRepository) AppendOrderToBuyer(ctx context.Context, buyerID, orderID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_order_refs (user_id, order_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		buyerID, orderID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return fmt.Errorf("%w: %s", ErrBuyerNotFound, buyerID)
		}
		return fmt.Errorf("append order to buyer: %w", err)
	}
	return nil
}

// AppendOrderToProduct добавляет ссылку на заказ в историю продаж товара.
func (r *PostgresRepository) AppendOrderToProduct(ctx context.Context, productID, orderID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO product_order_refs (product_id, order_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		productID, orderID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return fmt.Errorf("append order to product: %w", err)
	}
	return nil
}

// VoidOrder помечает заказ аннулированным. Запись не удаляется, чтобы сохранить
// след частично применённой операции для ручной сверки.
func (r *PostgresRepository) VoidOrder(ctx context.Context, orderID string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $2 WHERE id = $1`,
		orderID, string(model.OrderStatusVoided),
	)
	if err != nil {
		return fmt.Errorf("void order: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// GetOrderView возвращает заказ с позициями, развёрнутыми до данных товаров.
func (r *PostgresRepository) GetOrderView(ctx context.Context, orderID string) (*model.OrderView, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, buyer_id, status, created_at FROM orders WHERE id = $1`,
		orderID,
	)

	var (
		v      model.OrderView
		status string
	)
	if err := row.Scan(&v.ID, &v.BuyerID, &status, &v.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	v.Status = model.OrderStatus(status)

	rows, err := r.pool.Query(ctx,
		`SELECT oi.product_id, p.name, p.image_url, oi.quantity, oi.unit_price_cents, p.price_cents
		 FROM order_items oi
		 JOIN products p ON p.id = oi.product_id
		 WHERE oi.order_id = $1
		 ORDER BY oi.position`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order view items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it model.OrderViewItem
		if err := rows.Scan(&it.ProductID, &it.Name, &it.ImageURL, &it.Quantity, &it.UnitPricePaidCents, &it.PriceCents); err != nil {
			return nil, fmt.Errorf("scan order view item: %w", err)
		}
		v.Items = append(v.Items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &v, nil
}
