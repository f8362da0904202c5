package inventory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/product-service/internal/db"
)

// Ledger — единственная точка изменения stock. Все методы принимают db.Querier,
// чтобы составные операции (checkout, отмена заказа) выполняли их внутри своей
// транзакции.
type Ledger interface {
	GetProduct(ctx context.Context, q db.Querier, productID uuid.UUID) (*Product, error)
	Reserve(ctx context.Context, q db.Querier, productID uuid.UUID, quantity int) error
	Release(ctx context.Context, q db.Querier, productID uuid.UUID, quantity int) error
	// ReserveMany — атомарный резерв всей партии: либо списываются все позиции,
	// либо ни одна. Должен вызываться внутри транзакции. Возвращает залоченные
	// товары, чтобы вызывающий мог взять их цены.
	ReserveMany(ctx context.Context, q db.Querier, items []Reservation) (map[uuid.UUID]Product, error)
	ReleaseMany(ctx context.Context, q db.Querier, items []Reservation) error
}

type postgresLedger struct{}

func NewLedger() Ledger {
	return &postgresLedger{}
}

const productColumns = `id, name, description, price, stock, reserved, is_active, created_at, updated_at`

func (l *postgresLedger) GetProduct(ctx context.Context, q db.Querier, productID uuid.UUID) (*Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM product_service.products
		WHERE id = $1
	`

	var p Product
	err := q.QueryRow(ctx, query, productID).Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.Stock,
		&p.Reserved,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &ProductNotFoundError{ProductID: productID}
		}
		return nil, fmt.Errorf("inventory: failed to select product %s: %w", productID, err)
	}

	return &p, nil
}

func (l *postgresLedger) Reserve(ctx context.Context, q db.Querier, productID uuid.UUID, quantity int) error {
	// Списание и чтение остатка в одном стейтменте: сообщаемое available
	// приходит из того же снапшота, что и неудавшееся условие, а не из
	// отдельного SELECT, который мог бы увидеть уже изменённую строку.
	query := `
		WITH updated AS (
			UPDATE product_service.products
			SET stock = stock - $2, reserved = reserved + $2, updated_at = $3
			WHERE id = $1 AND stock >= $2
			RETURNING id
		)
		SELECT p.stock, EXISTS (SELECT 1 FROM updated)
		FROM product_service.products p
		WHERE p.id = $1
	`

	var available int
	var applied bool
	err := q.QueryRow(ctx, query, productID, quantity, time.Now().UTC()).Scan(&available, &applied)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &ProductNotFoundError{ProductID: productID}
		}
		return fmt.Errorf("inventory: failed to reserve %d units of product %s: %w", quantity, productID, err)
	}
	if !applied {
		return &InsufficientStockError{ProductID: productID, Requested: quantity, Available: available}
	}

	return nil
}

func (l *postgresLedger) Release(ctx context.Context, q db.Querier, productID uuid.UUID, quantity int) error {
	// Охранное условие reserved >= $2 не даёт вернуть на склад больше, чем
	// числится за живыми заказами (защита от двойной отмены).
	query := `
		UPDATE product_service.products
		SET stock = stock + $2, reserved = reserved - $2, updated_at = $3
		WHERE id = $1 AND reserved >= $2
	`

	cmdTag, err := q.Exec(ctx, query, productID, quantity, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inventory: failed to release %d units of product %s: %w", quantity, productID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		var reserved int
		err := q.QueryRow(ctx, `SELECT reserved FROM product_service.products WHERE id = $1`, productID).Scan(&reserved)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &ProductNotFoundError{ProductID: productID}
			}
			return fmt.Errorf("inventory: failed to check reserved units for product %s: %w", productID, err)
		}

		log.Error().
			Stringer("product_id", productID).
			Int("reserved", reserved).
			Int("release", quantity).
			Msg("inventory: release rejected, exceeds reserved units")
		return fmt.Errorf("%w: product %s has %d units reserved, release of %d rejected",
			ErrReleaseExceedsReserved, productID, reserved, quantity)
	}

	return nil
}

func (l *postgresLedger) ReserveMany(ctx context.Context, q db.Querier, items []Reservation) (map[uuid.UUID]Product, error) {
	if len(items) == 0 {
		return map[uuid.UUID]Product{}, nil
	}

	// Дубликаты товара в партии суммируются: проверка должна видеть общий спрос.
	demand := make(map[uuid.UUID]int, len(items))
	for _, item := range items {
		demand[item.ProductID] += item.Quantity
	}

	ids := make([]uuid.UUID, 0, len(demand))
	for id := range demand {
		ids = append(ids, id)
	}
	// Единый порядок блокировок, иначе две конкурентные партии могут
	// дедлокнуться на пересекающихся товарах.
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i].Bytes(), ids[j].Bytes()) < 0
	})

	lockQuery := `
		SELECT ` + productColumns + `
		FROM product_service.products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`

	rows, err := q.Query(ctx, lockQuery, ids)
	if err != nil {
		return nil, fmt.Errorf("inventory: failed to lock products for reservation: %w", err)
	}
	defer rows.Close()

	products := make(map[uuid.UUID]Product, len(ids))
	for rows.Next() {
		var p Product
		err := rows.Scan(
			&p.ID,
			&p.Name,
			&p.Description,
			&p.Price,
			&p.Stock,
			&p.Reserved,
			&p.IsActive,
			&p.CreatedAt,
			&p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("inventory: failed to scan locked product: %w", err)
		}
		products[p.ID] = p
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("inventory: error iterating locked products: %w", err)
	}
	rows.Close()

	// Сначала все проверки, только потом списания: частичный резерв недопустим.
	for _, id := range ids {
		p, ok := products[id]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: id}
		}
		if p.Stock < demand[id] {
			return nil, &InsufficientStockError{ProductID: id, Requested: demand[id], Available: p.Stock}
		}
	}

	updateQuery := `
		UPDATE product_service.products
		SET stock = stock - $2, reserved = reserved + $2, updated_at = $3
		WHERE id = $1
	`
	now := time.Now().UTC()
	for _, id := range ids {
		if _, err := q.Exec(ctx, updateQuery, id, demand[id], now); err != nil {
			return nil, fmt.Errorf("inventory: failed to reserve %d units of product %s: %w", demand[id], id, err)
		}
	}

	return products, nil
}

func (l *postgresLedger) ReleaseMany(ctx context.Context, q db.Querier, items []Reservation) error {
	for _, item := range items {
		if err := l.Release(ctx, q, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}
