package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vasiliy-maslov/ecommerce-microservices/product-service/internal/db"
)

var ErrOrderNotFound = errors.New("order not found")

type Repository interface {
	// Create вставляет заказ и его позиции. Транзакцию держит вызывающий.
	Create(ctx context.Context, q db.Querier, order *Order) error
	GetByID(ctx context.Context, q db.Querier, orderID uuid.UUID) (*Order, error)
	// GetByIDForUpdate блокирует строку заказа, чтобы конкурентные отмены
	// не провели двойной возврат остатка.
	GetByIDForUpdate(ctx context.Context, q db.Querier, orderID uuid.UUID) (*Order, error)
	ListByUserID(ctx context.Context, q db.Querier, userID uuid.UUID, limit, offset int) ([]Order, error)
	UpdateStatus(ctx context.Context, q db.Querier, orderID uuid.UUID, newStatus OrderStatus) error
	Update(ctx context.Context, q db.Querier, order *Order) error
}

type postgresRepository struct{}

func NewRepository() Repository {
	return &postgresRepository{}
}

const orderColumns = `id, user_id, status, total_amount, shipping_address_text, created_at, updated_at`
const orderItemColumns = `id, order_id, product_id, quantity, price_per_unit, created_at, updated_at`

func (r *postgresRepository) Create(ctx context.Context, q db.Querier, orderInput *Order) error {
	if orderInput.ID == uuid.Nil {
		genID, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order ID: %w", err)
		}
		orderInput.ID = genID
	}

	now := time.Now().UTC()
	orderInput.CreatedAt = now
	orderInput.UpdatedAt = now

	queryOrder := `
		INSERT INTO product_service.orders (id, user_id, status, total_amount, shipping_address_text, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := q.Exec(ctx, queryOrder,
		orderInput.ID,
		orderInput.UserID,
		string(orderInput.Status),
		orderInput.TotalAmount,
		orderInput.ShippingAddressText,
		orderInput.CreatedAt,
		orderInput.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	queryItem := `
		INSERT INTO product_service.order_items (id, order_id, product_id, quantity, price_per_unit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for i := range orderInput.OrderItems {
		item := &orderInput.OrderItems[i]

		itemID, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order item ID: %w", err)
		}
		item.ID = itemID
		item.OrderID = orderInput.ID
		item.CreatedAt = now
		item.UpdatedAt = now

		_, err = q.Exec(ctx, queryItem,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.Quantity,
			item.PricePerUnit,
			item.CreatedAt,
			item.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order item for order %s: %w", orderInput.ID, err)
		}
	}

	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, q db.Querier, orderID uuid.UUID) (*Order, error) {
	return r.getByID(ctx, q, orderID, false)
}

func (r *postgresRepository) GetByIDForUpdate(ctx context.Context, q db.Querier, orderID uuid.UUID) (*Order, error) {
	return r.getByID(ctx, q, orderID, true)
}

func (r *postgresRepository) getByID(ctx context.Context, q db.Querier, orderID uuid.UUID, forUpdate bool) (*Order, error) {
	queryOrder := `
		SELECT ` + orderColumns + `
		FROM product_service.orders
		WHERE id = $1
	`
	if forUpdate {
		queryOrder += ` FOR UPDATE`
	}

	var order Order
	err := q.QueryRow(ctx, queryOrder, orderID).Scan(
		&order.ID,
		&order.UserID,
		&order.Status,
		&order.TotalAmount,
		&order.ShippingAddressText,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", orderID, err)
	}

	queryOrderItems := `
		SELECT ` + orderItemColumns + `
		FROM product_service.order_items
		WHERE order_id = $1
		ORDER BY created_at
	`

	rows, err := q.Query(ctx, queryOrderItems, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items for order id %s: %w", orderID, err)
	}
	defer rows.Close()

	orderItems := make([]OrderItem, 0)
	for rows.Next() {
		var orderItem OrderItem
		err := rows.Scan(
			&orderItem.ID,
			&orderItem.OrderID,
			&orderItem.ProductID,
			&orderItem.Quantity,
			&orderItem.PricePerUnit,
			&orderItem.CreatedAt,
			&orderItem.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item for order id %s: %w", orderID, err)
		}
		orderItems = append(orderItems, orderItem)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items for order id %s: %w", orderID, err)
	}

	order.OrderItems = orderItems

	return &order, nil
}

func (r *postgresRepository) ListByUserID(ctx context.Context, q db.Querier, userID uuid.UUID, limit, offset int) ([]Order, error) {
	userOrdersQuery := `
		SELECT ` + orderColumns + `
		FROM product_service.orders
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	orderRows, err := q.Query(ctx, userOrdersQuery, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders for user id %s: %w", userID, err)
	}
	defer orderRows.Close()

	ordersMap := make(map[uuid.UUID]*Order)
	var orderIDs []uuid.UUID

	for orderRows.Next() {
		var order Order
		err := orderRows.Scan(
			&order.ID,
			&order.UserID,
			&order.Status,
			&order.TotalAmount,
			&order.ShippingAddressText,
			&order.CreatedAt,
			&order.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order for user id %s: %w", userID, err)
		}
		order.OrderItems = make([]OrderItem, 0)
		ordersMap[order.ID] = &order
		orderIDs = append(orderIDs, order.ID)
	}
	if err = orderRows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating orders for user id %s: %w", userID, err)
	}
	orderRows.Close()

	if len(orderIDs) == 0 {
		return []Order{}, nil
	}

	userOrderItemsQuery := `
		SELECT ` + orderItemColumns + `
		FROM product_service.order_items
		WHERE order_id = ANY($1)
	`
	itemRows, err := q.Query(ctx, userOrderItemsQuery, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items for user id %s: %w", userID, err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var item OrderItem
		err := itemRows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.PricePerUnit,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item for user id %s: %w", userID, err)
		}

		if order, ok := ordersMap[item.OrderID]; ok {
			order.OrderItems = append(order.OrderItems, item)
		}
	}
	if err = itemRows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items for user id %s: %w", userID, err)
	}

	resultOrders := make([]Order, 0, len(ordersMap))
	for _, id := range orderIDs {
		if order, ok := ordersMap[id]; ok {
			resultOrders = append(resultOrders, *order)
		}
	}

	return resultOrders, nil
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, q db.Querier, orderID uuid.UUID, newStatus OrderStatus) error {
	query := `
		UPDATE product_service.orders
		SET status = $1, updated_at = $2
		WHERE id = $3
	`

	cmdTag, err := q.Exec(ctx, query, string(newStatus), time.Now().UTC(), orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to update order status %s: %w", orderID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}

	return nil
}

func (r *postgresRepository) Update(ctx context.Context, q db.Querier, order *Order) error {
	query := `
		UPDATE product_service.orders
		SET status = $1, shipping_address_text = $2, updated_at = $3
		WHERE id = $4
	`

	order.UpdatedAt = time.Now().UTC()
	cmdTag, err := q.Exec(ctx, query,
		string(order.Status),
		order.ShippingAddressText,
		order.UpdatedAt,
		order.ID,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update order %s: %w", order.ID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}

	return nil
}
