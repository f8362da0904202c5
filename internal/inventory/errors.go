package inventory

import (
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
)

var (
	ErrProductNotFound        = errors.New("product not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrReleaseExceedsReserved = errors.New("release exceeds reserved quantity")
)

// ProductNotFoundError несёт id отсутствующего товара; совместима с
// errors.Is(err, ErrProductNotFound).
type ProductNotFoundError struct {
	ProductID uuid.UUID
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Is(target error) bool {
	return target == ErrProductNotFound
}

// InsufficientStockError несёт запрошенное и доступное количество;
// совместима с errors.Is(err, ErrInsufficientStock).
type InsufficientStockError struct {
	ProductID uuid.UUID
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
