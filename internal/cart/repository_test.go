package cart_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/product-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/product-service/internal/db"
)

var testDB *db.Postgres

const cartTestSchema = `
	CREATE SCHEMA IF NOT EXISTS product_service;

	CREATE TABLE IF NOT EXISTS product_service.carts (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS product_service.cart_items (
		id UUID PRIMARY KEY,
		cart_id UUID NOT NULL REFERENCES product_service.carts (id) ON DELETE CASCADE,
		product_id UUID NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		price NUMERIC(10, 2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (cart_id, product_id)
	);
`

func TestMain(m *testing.M) {
	host := os.Getenv("DB_HOST")
	if host == "" {
		host = "localhost"
	}
	port := os.Getenv("DB_PORT")
	if port == "" {
		port = "5432"
	}
	user := os.Getenv("DB_USER")
	if user == "" {
		user = "postgres"
	}
	password := os.Getenv("DB_PASSWORD")
	if password == "" {
		password = "123456"
	}
	dbname := os.Getenv("DB_NAME")
	if dbname == "" {
		dbname = "products_test"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	pool, err := pgxpool.New(ctx, connStr)
	if err == nil {
		err = pool.Ping(ctx)
	}
	cancel()
	if err != nil {
		log.Printf("test database is not available, skipping integration tests: %v", err)
	} else {
		if _, err := pool.Exec(context.Background(), cartTestSchema); err != nil {
			log.Fatalf("Failed to prepare test schema: %v", err)
		}
		testDB = &db.Postgres{Pool: pool}
	}

	exitCode := m.Run()

	if testDB != nil {
		testDB.Pool.Close()
	}

	os.Exit(exitCode)
}

func setupRepo(t *testing.T) cart.Repository {
	if testDB == nil {
		t.Skip("test database is not available")
	}

	truncate := func() {
		_, err := testDB.Pool.Exec(context.Background(),
			"TRUNCATE TABLE product_service.cart_items, product_service.carts")
		if err != nil {
			t.Fatalf("Failed to truncate tables: %v", err)
		}
	}
	truncate()
	t.Cleanup(truncate)

	return cart.NewRepository()
}

func TestCartRepository_GetOrCreate_Idempotent(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())

	first, err := repo.GetOrCreate(ctx, testDB.Pool, userID)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, userID, first.UserID)
	assert.Empty(t, first.Items)

	// Повторный вызов возвращает ту же корзину, а не создаёт вторую.
	second, err := repo.GetOrCreate(ctx, testDB.Pool, userID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestCartRepository_ItemLifecycle(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	userCart, err := repo.GetOrCreate(ctx, testDB.Pool, uuid.Must(uuid.NewV4()))
	require.NoError(t, err)

	productID := uuid.Must(uuid.NewV4())
	item := &cart.CartItem{
		CartID:    userCart.ID,
		ProductID: productID,
		Quantity:  2,
		Price:     19.99,
	}
	require.NoError(t, repo.InsertItem(ctx, testDB.Pool, item))
	require.NotEqual(t, uuid.Nil, item.ID, "InsertItem should assign an ID")

	byProduct, err := repo.GetItemByProduct(ctx, testDB.Pool, userCart.ID, productID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, byProduct.ID)
	assert.Equal(t, 2, byProduct.Quantity)

	require.NoError(t, repo.UpdateItemQuantity(ctx, testDB.Pool, userCart.ID, item.ID, 5))
	updated, err := repo.GetItem(ctx, testDB.Pool, userCart.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, updated.Quantity)

	require.NoError(t, repo.DeleteItem(ctx, testDB.Pool, userCart.ID, item.ID))
	_, err = repo.GetItem(ctx, testDB.Pool, userCart.ID, item.ID)
	assert.ErrorIs(t, err, cart.ErrCartItemNotFound)
}

func TestCartRepository_GetByID_LoadsItems(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	userCart, err := repo.GetOrCreate(ctx, testDB.Pool, uuid.Must(uuid.NewV4()))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		item := &cart.CartItem{
			CartID:    userCart.ID,
			ProductID: uuid.Must(uuid.NewV4()),
			Quantity:  i + 1,
			Price:     5.0,
		}
		require.NoError(t, repo.InsertItem(ctx, testDB.Pool, item))
	}

	loaded, err := repo.GetByID(ctx, testDB.Pool, userCart.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Items, 3)
}

func TestCartRepository_UpdateItemQuantity_NotFound(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	userCart, err := repo.GetOrCreate(ctx, testDB.Pool, uuid.Must(uuid.NewV4()))
	require.NoError(t, err)

	err = repo.UpdateItemQuantity(ctx, testDB.Pool, userCart.ID, uuid.Must(uuid.NewV4()), 3)
	assert.ErrorIs(t, err, cart.ErrCartItemNotFound)
}

func TestCartRepository_Clear_Idempotent(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	userCart, err := repo.GetOrCreate(ctx, testDB.Pool, uuid.Must(uuid.NewV4()))
	require.NoError(t, err)

	item := &cart.CartItem{
		CartID:    userCart.ID,
		ProductID: uuid.Must(uuid.NewV4()),
		Quantity:  1,
		Price:     5.0,
	}
	require.NoError(t, repo.InsertItem(ctx, testDB.Pool, item))

	require.NoError(t, repo.Clear(ctx, testDB.Pool, userCart.ID))
	// Очистка пустой корзины не является ошибкой.
	require.NoError(t, repo.Clear(ctx, testDB.Pool, userCart.ID))

	loaded, err := repo.GetByID(ctx, testDB.Pool, userCart.ID)
	require.NoError(t, err)
	assert.Empty(t, loaded.Items)
}

func TestCartRepository_Lock_NotFound(t *testing.T) {
	repo := setupRepo(t)

	err := repo.Lock(context.Background(), testDB.Pool, uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, cart.ErrCartNotFound)

	_, err = repo.LockByUserID(context.Background(), testDB.Pool, uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, cart.ErrCartNotFound)
}
