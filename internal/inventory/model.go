package inventory

import (
	"time"

	"github.com/gofrs/uuid"
)

// Product — товар каталога. Сервис владеет только полями stock/reserved,
// остальное читается как есть.
type Product struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Price       float64   `json:"price" db:"price"`
	Stock       int       `json:"stock" db:"stock"`
	Reserved    int       `json:"reserved" db:"reserved"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Reservation — пара (товар, количество) для reserve/release.
type Reservation struct {
	ProductID uuid.UUID
	Quantity  int
}
