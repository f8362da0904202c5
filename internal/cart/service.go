package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/product-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/product-service/internal/inventory"
)

var ErrInvalidQuantity = errors.New("quantity must be greater than zero")

// Service — корзина пользователя. Проверка остатка здесь только
// рекомендательная: ничего не резервируется, checkout может отказать позже.
type Service interface {
	GetOrCreateCart(ctx context.Context, userID uuid.UUID) (*Cart, error)
	AddItem(ctx context.Context, cartID, productID uuid.UUID, quantity int) (*CartItem, error)
	UpdateItem(ctx context.Context, cartID, itemID uuid.UUID, quantity int) (*CartItem, error)
	RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) (*CartItem, error)
	Clear(ctx context.Context, cartID uuid.UUID) error
}

type service struct {
	txm    db.TxManager
	repo   Repository
	ledger inventory.Ledger
}

func NewService(txm db.TxManager, repo Repository, ledger inventory.Ledger) Service {
	return &service{
		txm:    txm,
		repo:   repo,
		ledger: ledger,
	}
}

func (s *service) GetOrCreateCart(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	var cart *Cart
	err := s.txm.WithTx(ctx, func(q db.Querier) error {
		var err error
		cart, err = s.repo.GetOrCreate(ctx, q, userID)
		return err
	})
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to get or create cart")
		return nil, fmt.Errorf("service: failed to get or create cart: %w", err)
	}

	return cart, nil
}

func (s *service) AddItem(ctx context.Context, cartID, productID uuid.UUID, quantity int) (*CartItem, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	var result *CartItem
	err := s.txm.WithTx(ctx, func(q db.Querier) error {
		if err := s.repo.Lock(ctx, q, cartID); err != nil {
			return err
		}

		product, err := s.ledger.GetProduct(ctx, q, productID)
		if err != nil {
			return err
		}
		if product.Stock < quantity {
			return &inventory.InsufficientStockError{
				ProductID: productID,
				Requested: quantity,
				Available: product.Stock,
			}
		}

		existing, err := s.repo.GetItemByProduct(ctx, q, cartID, productID)
		switch {
		case err == nil:
			// Слияние: количество суммируется, цена остаётся первым снапшотом.
			existing.Quantity += quantity
			if err := s.repo.UpdateItemQuantity(ctx, q, cartID, existing.ID, existing.Quantity); err != nil {
				return err
			}
			result = existing
		case errors.Is(err, ErrCartItemNotFound):
			item := &CartItem{
				CartID:    cartID,
				ProductID: productID,
				Quantity:  quantity,
				Price:     product.Price,
			}
			if err := s.repo.InsertItem(ctx, q, item); err != nil {
				return err
			}
			result = item
		default:
			return err
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Stringer("cart_id", cartID).
		Stringer("product_id", productID).
		Int("quantity", quantity).
		Msg("service: item added to cart")
	return result, nil
}

func (s *service) UpdateItem(ctx context.Context, cartID, itemID uuid.UUID, quantity int) (*CartItem, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	var result *CartItem
	err := s.txm.WithTx(ctx, func(q db.Querier) error {
		if err := s.repo.Lock(ctx, q, cartID); err != nil {
			return err
		}

		item, err := s.repo.GetItem(ctx, q, cartID, itemID)
		if err != nil {
			return err
		}

		// Проверяем новое абсолютное количество, не дельту.
		product, err := s.ledger.GetProduct(ctx, q, item.ProductID)
		if err != nil {
			return err
		}
		if product.Stock < quantity {
			return &inventory.InsufficientStockError{
				ProductID: item.ProductID,
				Requested: quantity,
				Available: product.Stock,
			}
		}

		if err := s.repo.UpdateItemQuantity(ctx, q, cartID, itemID, quantity); err != nil {
			return err
		}
		item.Quantity = quantity
		result = item

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *service) RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) (*CartItem, error) {
	var removed *CartItem
	err := s.txm.WithTx(ctx, func(q db.Querier) error {
		if err := s.repo.Lock(ctx, q, cartID); err != nil {
			return err
		}

		item, err := s.repo.GetItem(ctx, q, cartID, itemID)
		if err != nil {
			return err
		}

		if err := s.repo.DeleteItem(ctx, q, cartID, itemID); err != nil {
			return err
		}
		removed = item

		return nil
	})
	if err != nil {
		return nil, err
	}

	return removed, nil
}

func (s *service) Clear(ctx context.Context, cartID uuid.UUID) error {
	err := s.txm.WithTx(ctx, func(q db.Querier) error {
		return s.repo.Clear(ctx, q, cartID)
	})
	if err != nil {
		log.Error().Err(err).Stringer("cart_id", cartID).Msg("service: failed to clear cart")
		return fmt.Errorf("service: failed to clear cart: %w", err)
	}

	return nil
}
