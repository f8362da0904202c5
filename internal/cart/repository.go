package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vasiliy-maslov/ecommerce-microservices/product-service/internal/db"
)

var (
	ErrCartNotFound     = errors.New("cart not found")
	ErrCartItemNotFound = errors.New("cart item not found")
)

type Repository interface {
	GetOrCreate(ctx context.Context, q db.Querier, userID uuid.UUID) (*Cart, error)
	GetByID(ctx context.Context, q db.Querier, cartID uuid.UUID) (*Cart, error)
	// Lock берёт блокировку на строку корзины, сериализуя конкурентные
	// мутации одной корзины.
	Lock(ctx context.Context, q db.Querier, cartID uuid.UUID) error
	// LockByUserID — корзина пользователя с позициями под блокировкой строки.
	LockByUserID(ctx context.Context, q db.Querier, userID uuid.UUID) (*Cart, error)
	GetItem(ctx context.Context, q db.Querier, cartID, itemID uuid.UUID) (*CartItem, error)
	GetItemByProduct(ctx context.Context, q db.Querier, cartID, productID uuid.UUID) (*CartItem, error)
	InsertItem(ctx context.Context, q db.Querier, item *CartItem) error
	UpdateItemQuantity(ctx context.Context, q db.Querier, cartID, itemID uuid.UUID, quantity int) error
	DeleteItem(ctx context.Context, q db.Querier, cartID, itemID uuid.UUID) error
	Clear(ctx context.Context, q db.Querier, cartID uuid.UUID) error
}

type postgresRepository struct{}

func NewRepository() Repository {
	return &postgresRepository{}
}

const cartItemColumns = `id, cart_id, product_id, quantity, price, created_at, updated_at`

func (r *postgresRepository) GetOrCreate(ctx context.Context, q db.Querier, userID uuid.UUID) (*Cart, error) {
	cart, err := r.getByUserID(ctx, q, userID, false)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, ErrCartNotFound) {
		return nil, err
	}

	cartID, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("cart: failed to generate cart ID: %w", err)
	}

	now := time.Now().UTC()
	insertQuery := `
		INSERT INTO product_service.carts (id, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := q.Exec(ctx, insertQuery, cartID, userID, now, now); err != nil {
		return nil, fmt.Errorf("cart: failed to insert cart for user %s: %w", userID, err)
	}

	// Повторное чтение закрывает гонку двух одновременных первых обращений.
	return r.getByUserID(ctx, q, userID, false)
}

func (r *postgresRepository) GetByID(ctx context.Context, q db.Querier, cartID uuid.UUID) (*Cart, error) {
	query := `
		SELECT id, user_id, created_at, updated_at
		FROM product_service.carts
		WHERE id = $1
	`

	var c Cart
	err := q.QueryRow(ctx, query, cartID).Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("cart: failed to select cart %s: %w", cartID, err)
	}

	if err := r.loadItems(ctx, q, &c); err != nil {
		return nil, err
	}

	return &c, nil
}

func (r *postgresRepository) Lock(ctx context.Context, q db.Querier, cartID uuid.UUID) error {
	var id uuid.UUID
	err := q.QueryRow(ctx, `SELECT id FROM product_service.carts WHERE id = $1 FOR UPDATE`, cartID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrCartNotFound
		}
		return fmt.Errorf("cart: failed to lock cart %s: %w", cartID, err)
	}
	return nil
}

func (r *postgresRepository) LockByUserID(ctx context.Context, q db.Querier, userID uuid.UUID) (*Cart, error) {
	return r.getByUserID(ctx, q, userID, true)
}

func (r *postgresRepository) getByUserID(ctx context.Context, q db.Querier, userID uuid.UUID, forUpdate bool) (*Cart, error) {
	query := `
		SELECT id, user_id, created_at, updated_at
		FROM product_service.carts
		WHERE user_id = $1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var c Cart
	err := q.QueryRow(ctx, query, userID).Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("cart: failed to select cart for user %s: %w", userID, err)
	}

	if err := r.loadItems(ctx, q, &c); err != nil {
		return nil, err
	}

	return &c, nil
}

func (r *postgresRepository) loadItems(ctx context.Context, q db.Querier, c *Cart) error {
	query := `
		SELECT ` + cartItemColumns + `
		FROM product_service.cart_items
		WHERE cart_id = $1
		ORDER BY created_at
	`

	rows, err := q.Query(ctx, query, c.ID)
	if err != nil {
		return fmt.Errorf("cart: failed to query items for cart %s: %w", c.ID, err)
	}
	defer rows.Close()

	items := make([]CartItem, 0)
	for rows.Next() {
		var item CartItem
		err := rows.Scan(
			&item.ID,
			&item.CartID,
			&item.ProductID,
			&item.Quantity,
			&item.Price,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("cart: failed to scan item for cart %s: %w", c.ID, err)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("cart: error iterating items for cart %s: %w", c.ID, err)
	}

	c.Items = items
	return nil
}

func (r *postgresRepository) GetItem(ctx context.Context, q db.Querier, cartID, itemID uuid.UUID) (*CartItem, error) {
	query := `
		SELECT ` + cartItemColumns + `
		FROM product_service.cart_items
		WHERE cart_id = $1 AND id = $2
	`

	var item CartItem
	err := q.QueryRow(ctx, query, cartID, itemID).Scan(
		&item.ID,
		&item.CartID,
		&item.ProductID,
		&item.Quantity,
		&item.Price,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCartItemNotFound
		}
		return nil, fmt.Errorf("cart: failed to select item %s in cart %s: %w", itemID, cartID, err)
	}

	return &item, nil
}

func (r *postgresRepository) GetItemByProduct(ctx context.Context, q db.Querier, cartID, productID uuid.UUID) (*CartItem, error) {
	query := `
		SELECT ` + cartItemColumns + `
		FROM product_service.cart_items
		WHERE cart_id = $1 AND product_id = $2
	`

	var item CartItem
	err := q.QueryRow(ctx, query, cartID, productID).Scan(
		&item.ID,
		&item.CartID,
		&item.ProductID,
		&item.Quantity,
		&item.Price,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCartItemNotFound
		}
		return nil, fmt.Errorf("cart: failed to select item by product %s in cart %s: %w", productID, cartID, err)
	}

	return &item, nil
}

func (r *postgresRepository) InsertItem(ctx context.Context, q db.Querier, item *CartItem) error {
	if item.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("cart: failed to generate cart item ID: %w", err)
		}
		item.ID = id
	}

	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now

	query := `
		INSERT INTO product_service.cart_items (id, cart_id, product_id, quantity, price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := q.Exec(ctx, query,
		item.ID,
		item.CartID,
		item.ProductID,
		item.Quantity,
		item.Price,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("cart: failed to insert item for cart %s: %w", item.CartID, err)
	}

	return nil
}

func (r *postgresRepository) UpdateItemQuantity(ctx context.Context, q db.Querier, cartID, itemID uuid.UUID, quantity int) error {
	query := `
		UPDATE product_service.cart_items
		SET quantity = $3, updated_at = $4
		WHERE cart_id = $1 AND id = $2
	`

	cmdTag, err := q.Exec(ctx, query, cartID, itemID, quantity, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("cart: failed to update quantity for item %s: %w", itemID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCartItemNotFound
	}

	return nil
}

func (r *postgresRepository) DeleteItem(ctx context.Context, q db.Querier, cartID, itemID uuid.UUID) error {
	cmdTag, err := q.Exec(ctx, `DELETE FROM product_service.cart_items WHERE cart_id = $1 AND id = $2`, cartID, itemID)
	if err != nil {
		return fmt.Errorf("cart: failed to delete item %s from cart %s: %w", itemID, cartID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCartItemNotFound
	}

	return nil
}

func (r *postgresRepository) Clear(ctx context.Context, q db.Querier, cartID uuid.UUID) error {
	if _, err := q.Exec(ctx, `DELETE FROM product_service.cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("cart: failed to clear cart %s: %w", cartID, err)
	}
	return nil
}
