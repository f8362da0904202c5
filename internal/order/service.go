package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/product-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/product-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/product-service/internal/inventory"
)

// Отмена намеренно не входит в карту переходов: CANCELLED достижим только
// через Cancel, который возвращает остаток на склад.
var allowedTransitions = map[OrderStatus]map[OrderStatus]bool{
	StatusPending:    {StatusProcessing: true},
	StatusProcessing: {StatusShipped: true},
	StatusShipped:    {StatusDelivered: true},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

var (
	ErrNoItems                 = errors.New("order must contain at least one item")
	ErrInvalidQuantity         = errors.New("order item quantity must be greater than zero")
	ErrCartEmpty               = errors.New("cart is empty")
	ErrNotPending              = errors.New("can only cancel pending orders")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
)

const defaultListLimit = 100

type ItemInput struct {
	ProductID uuid.UUID
	Quantity  int
}

type UpdateInput struct {
	Status              *OrderStatus
	ShippingAddressText *string
}

type Service interface {
	Create(ctx context.Context, userID uuid.UUID, shippingAddress string, items []ItemInput) (*Order, error)
	CreateFromCart(ctx context.Context, userID uuid.UUID, shippingAddress string) (*Order, error)
	GetOrderByID(ctx context.Context, orderID uuid.UUID) (*Order, error)
	ListOrdersByUserID(ctx context.Context, userID uuid.UUID, skip, limit int) ([]Order, error)
	Update(ctx context.Context, orderID uuid.UUID, upd UpdateInput) (*Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID) (*Order, error)
}

type service struct {
	txm      db.TxManager
	pool     db.Querier
	repo     Repository
	cartRepo cart.Repository
	ledger   inventory.Ledger
}

func NewService(txm db.TxManager, pool db.Querier, repo Repository, cartRepo cart.Repository, ledger inventory.Ledger) Service {
	return &service{
		txm:      txm,
		pool:     pool,
		repo:     repo,
		cartRepo: cartRepo,
		ledger:   ledger,
	}
}

// Create резервирует остаток и создаёт заказ одной транзакцией: при любом
// отказе ни одна позиция не остаётся списанной.
func (s *service) Create(ctx context.Context, userID uuid.UUID, shippingAddress string, items []ItemInput) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %s", ErrInvalidQuantity, item.ProductID)
		}
		if item.ProductID == uuid.Nil {
			return nil, errors.New("service: product id in order item cannot be nil")
		}
	}

	var created *Order
	err := s.txm.WithTx(ctx, func(q db.Querier) error {
		reservations := make([]inventory.Reservation, 0, len(items))
		for _, item := range items {
			reservations = append(reservations, inventory.Reservation{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
			})
		}

		products, err := s.ledger.ReserveMany(ctx, q, reservations)
		if err != nil {
			return err
		}

		totalAmount := 0.0
		orderItems := make([]OrderItem, 0, len(items))
		for _, item := range items {
			product := products[item.ProductID]
			totalAmount += product.Price * float64(item.Quantity)
			orderItems = append(orderItems, OrderItem{
				ProductID:    item.ProductID,
				Quantity:     item.Quantity,
				PricePerUnit: product.Price,
			})
		}

		ord := &Order{
			UserID:              userID,
			Status:              StatusPending,
			OrderItems:          orderItems,
			TotalAmount:         totalAmount,
			ShippingAddressText: shippingAddress,
		}
		if err := s.repo.Create(ctx, q, ord); err != nil {
			return err
		}
		created = ord

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Stringer("order_id", created.ID).
		Stringer("user_id", userID).
		Float64("total_amount", created.TotalAmount).
		Msg("service: order created")
	return created, nil
}

// CreateFromCart превращает корзину в заказ по замороженным ценам позиций.
// Резерв, вставка заказа и очистка корзины выполняются одной транзакцией:
// при отказе резерва корзина остаётся нетронутой.
func (s *service) CreateFromCart(ctx context.Context, userID uuid.UUID, shippingAddress string) (*Order, error) {
	var created *Order
	err := s.txm.WithTx(ctx, func(q db.Querier) error {
		userCart, err := s.cartRepo.LockByUserID(ctx, q, userID)
		if err != nil {
			if errors.Is(err, cart.ErrCartNotFound) {
				return ErrCartEmpty
			}
			return err
		}
		if len(userCart.Items) == 0 {
			return ErrCartEmpty
		}

		reservations := make([]inventory.Reservation, 0, len(userCart.Items))
		for _, item := range userCart.Items {
			reservations = append(reservations, inventory.Reservation{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
			})
		}

		if _, err := s.ledger.ReserveMany(ctx, q, reservations); err != nil {
			return err
		}

		totalAmount := 0.0
		orderItems := make([]OrderItem, 0, len(userCart.Items))
		for _, item := range userCart.Items {
			totalAmount += item.Price * float64(item.Quantity)
			orderItems = append(orderItems, OrderItem{
				ProductID:    item.ProductID,
				Quantity:     item.Quantity,
				PricePerUnit: item.Price,
			})
		}

		ord := &Order{
			UserID:              userID,
			Status:              StatusPending,
			OrderItems:          orderItems,
			TotalAmount:         totalAmount,
			ShippingAddressText: shippingAddress,
		}
		if err := s.repo.Create(ctx, q, ord); err != nil {
			return err
		}

		if err := s.cartRepo.Clear(ctx, q, userCart.ID); err != nil {
			return err
		}
		created = ord

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Stringer("order_id", created.ID).
		Stringer("user_id", userID).
		Msg("service: order created from cart")
	return created, nil
}

func (s *service) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	order, err := s.repo.GetByID(ctx, s.pool, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to fetch order by id")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}

	return order, nil
}

func (s *service) ListOrdersByUserID(ctx context.Context, userID uuid.UUID, skip, limit int) ([]Order, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	orders, err := s.repo.ListByUserID(ctx, s.pool, userID, limit, skip)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to fetch user orders")
		return nil, fmt.Errorf("service: failed to fetch user orders: %w", err)
	}

	return orders, nil
}

// Update — административный патч статуса и адреса доставки. Переходы статуса
// проверяются по карте; одинаковый статус считается no-op.
func (s *service) Update(ctx context.Context, orderID uuid.UUID, upd UpdateInput) (*Order, error) {
	var updated *Order
	err := s.txm.WithTx(ctx, func(q db.Querier) error {
		ord, err := s.repo.GetByIDForUpdate(ctx, q, orderID)
		if err != nil {
			return err
		}

		if upd.Status != nil && *upd.Status != ord.Status {
			newStatus := *upd.Status
			if newStatus == StatusCancelled {
				return fmt.Errorf("%w: cancellation must go through cancel", ErrInvalidStatusTransition)
			}
			transitions, ok := allowedTransitions[ord.Status]
			if !ok || !transitions[newStatus] {
				return fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, ord.Status, newStatus)
			}
			ord.Status = newStatus
		}
		if upd.ShippingAddressText != nil {
			ord.ShippingAddressText = *upd.ShippingAddressText
		}

		if err := s.repo.Update(ctx, q, ord); err != nil {
			return err
		}
		updated = ord

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Stringer("order_id", orderID).
		Stringer("status", updated.Status).
		Msg("service: order updated")
	return updated, nil
}

// Cancel возвращает зарезервированный остаток и переводит заказ в CANCELLED.
// Строка заказа блокируется, поэтому двойная отмена невозможна.
func (s *service) Cancel(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	var cancelled *Order
	err := s.txm.WithTx(ctx, func(q db.Querier) error {
		ord, err := s.repo.GetByIDForUpdate(ctx, q, orderID)
		if err != nil {
			return err
		}
		if ord.Status != StatusPending {
			return fmt.Errorf("%w: current status %s", ErrNotPending, ord.Status)
		}

		reservations := make([]inventory.Reservation, 0, len(ord.OrderItems))
		for _, item := range ord.OrderItems {
			reservations = append(reservations, inventory.Reservation{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
			})
		}

		// Отказ возврата на середине — фатальная несогласованность, транзакция
		// откатывается целиком и ошибка уходит наверх.
		if err := s.ledger.ReleaseMany(ctx, q, reservations); err != nil {
			log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to release stock for cancelled order")
			return fmt.Errorf("service: failed to release stock for order %s: %w", orderID, err)
		}

		if err := s.repo.UpdateStatus(ctx, q, orderID, StatusCancelled); err != nil {
			return err
		}
		ord.Status = StatusCancelled
		cancelled = ord

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Stringer("order_id", orderID).Msg("service: order cancelled")
	return cancelled, nil
}
