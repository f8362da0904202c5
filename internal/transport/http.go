package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vasiliy-maslov/ecommerce-microservices/product-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/product-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/product-service/internal/handler"
	"github.com/vasiliy-maslov/ecommerce-microservices/product-service/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-microservices/product-service/internal/order"
)

func NewRouter(pg *db.Postgres) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	ledger := inventory.NewLedger()
	cartRepo := cart.NewRepository()
	orderRepo := order.NewRepository()

	cartSvc := cart.NewService(pg, cartRepo, ledger)
	orderSvc := order.NewService(pg, pg.Pool, orderRepo, cartRepo, ledger)

	handler.NewCartHandler(cartSvc).RegisterRoutes(r)
	handler.NewOrderHandler(orderSvc).RegisterRoutes(r)

	return r
}
