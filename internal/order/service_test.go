package order_test

import (
	"context"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/product-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/product-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/product-service/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-microservices/product-service/internal/order"
)

type mockTxManager struct{}

func (m *mockTxManager) WithTx(ctx context.Context, fn func(q db.Querier) error) error {
	return fn(nil)
}

type mockRepository struct {
	createFunc           func(ctx context.Context, q db.Querier, ord *order.Order) error
	getByIDFunc          func(ctx context.Context, q db.Querier, orderID uuid.UUID) (*order.Order, error)
	getByIDForUpdateFunc func(ctx context.Context, q db.Querier, orderID uuid.UUID) (*order.Order, error)
	listByUserIDFunc     func(ctx context.Context, q db.Querier, userID uuid.UUID, limit, offset int) ([]order.Order, error)
	updateStatusFunc     func(ctx context.Context, q db.Querier, orderID uuid.UUID, newStatus order.OrderStatus) error
	updateFunc           func(ctx context.Context, q db.Querier, ord *order.Order) error
}

func (m *mockRepository) Create(ctx context.Context, q db.Querier, ord *order.Order) error {
	if m.createFunc == nil {
		ord.ID = uuid.Must(uuid.NewV4())
		return nil
	}
	return m.createFunc(ctx, q, ord)
}

func (m *mockRepository) GetByID(ctx context.Context, q db.Querier, orderID uuid.UUID) (*order.Order, error) {
	return m.getByIDFunc(ctx, q, orderID)
}

func (m *mockRepository) GetByIDForUpdate(ctx context.Context, q db.Querier, orderID uuid.UUID) (*order.Order, error) {
	return m.getByIDForUpdateFunc(ctx, q, orderID)
}

func (m *mockRepository) ListByUserID(ctx context.Context, q db.Querier, userID uuid.UUID, limit, offset int) ([]order.Order, error) {
	return m.listByUserIDFunc(ctx, q, userID, limit, offset)
}

func (m *mockRepository) UpdateStatus(ctx context.Context, q db.Querier, orderID uuid.UUID, newStatus order.OrderStatus) error {
	if m.updateStatusFunc == nil {
		return nil
	}
	return m.updateStatusFunc(ctx, q, orderID, newStatus)
}

func (m *mockRepository) Update(ctx context.Context, q db.Querier, ord *order.Order) error {
	if m.updateFunc == nil {
		return nil
	}
	return m.updateFunc(ctx, q, ord)
}

type mockCartRepository struct {
	lockByUserIDFunc func(ctx context.Context, q db.Querier, userID uuid.UUID) (*cart.Cart, error)
	clearFunc        func(ctx context.Context, q db.Querier, cartID uuid.UUID) error
}

func (m *mockCartRepository) GetOrCreate(ctx context.Context, q db.Querier, userID uuid.UUID) (*cart.Cart, error) {
	panic("not expected")
}

func (m *mockCartRepository) GetByID(ctx context.Context, q db.Querier, cartID uuid.UUID) (*cart.Cart, error) {
	panic("not expected")
}

func (m *mockCartRepository) Lock(ctx context.Context, q db.Querier, cartID uuid.UUID) error {
	panic("not expected")
}

func (m *mockCartRepository) LockByUserID(ctx context.Context, q db.Querier, userID uuid.UUID) (*cart.Cart, error) {
	return m.lockByUserIDFunc(ctx, q, userID)
}

func (m *mockCartRepository) GetItem(ctx context.Context, q db.Querier, cartID, itemID uuid.UUID) (*cart.CartItem, error) {
	panic("not expected")
}

func (m *mockCartRepository) GetItemByProduct(ctx context.Context, q db.Querier, cartID, productID uuid.UUID) (*cart.CartItem, error) {
	panic("not expected")
}

func (m *mockCartRepository) InsertItem(ctx context.Context, q db.Querier, item *cart.CartItem) error {
	panic("not expected")
}

func (m *mockCartRepository) UpdateItemQuantity(ctx context.Context, q db.Querier, cartID, itemID uuid.UUID, quantity int) error {
	panic("not expected")
}

func (m *mockCartRepository) DeleteItem(ctx context.Context, q db.Querier, cartID, itemID uuid.UUID) error {
	panic("not expected")
}

func (m *mockCartRepository) Clear(ctx context.Context, q db.Querier, cartID uuid.UUID) error {
	return m.clearFunc(ctx, q, cartID)
}

type mockLedger struct {
	getProductFunc  func(ctx context.Context, q db.Querier, productID uuid.UUID) (*inventory.Product, error)
	reserveManyFunc func(ctx context.Context, q db.Querier, items []inventory.Reservation) (map[uuid.UUID]inventory.Product, error)
	releaseManyFunc func(ctx context.Context, q db.Querier, items []inventory.Reservation) error
}

func (m *mockLedger) GetProduct(ctx context.Context, q db.Querier, productID uuid.UUID) (*inventory.Product, error) {
	return m.getProductFunc(ctx, q, productID)
}

func (m *mockLedger) Reserve(ctx context.Context, q db.Querier, productID uuid.UUID, quantity int) error {
	panic("not expected")
}

func (m *mockLedger) Release(ctx context.Context, q db.Querier, productID uuid.UUID, quantity int) error {
	panic("not expected")
}

func (m *mockLedger) ReserveMany(ctx context.Context, q db.Querier, items []inventory.Reservation) (map[uuid.UUID]inventory.Product, error) {
	return m.reserveManyFunc(ctx, q, items)
}

func (m *mockLedger) ReleaseMany(ctx context.Context, q db.Querier, items []inventory.Reservation) error {
	return m.releaseManyFunc(ctx, q, items)
}

func TestOrderService_Create_Validation(t *testing.T) {
	svc := order.NewService(&mockTxManager{}, nil, &mockRepository{}, &mockCartRepository{}, &mockLedger{})
	userID := uuid.Must(uuid.NewV4())

	t.Run("no_items", func(t *testing.T) {
		ord, err := svc.Create(context.Background(), userID, "somewhere", nil)
		assert.Nil(t, ord)
		assert.ErrorIs(t, err, order.ErrNoItems)
	})

	t.Run("non_positive_quantity", func(t *testing.T) {
		items := []order.ItemInput{{ProductID: uuid.Must(uuid.NewV4()), Quantity: 0}}
		ord, err := svc.Create(context.Background(), userID, "somewhere", items)
		assert.Nil(t, ord)
		assert.ErrorIs(t, err, order.ErrInvalidQuantity)
	})
}

func TestOrderService_Create_ReservationFailureSkipsInsert(t *testing.T) {
	productID := uuid.Must(uuid.NewV4())
	createCalled := false
	repo := &mockRepository{
		createFunc: func(ctx context.Context, q db.Querier, ord *order.Order) error {
			createCalled = true
			return nil
		},
	}
	ledger := &mockLedger{
		reserveManyFunc: func(ctx context.Context, q db.Querier, items []inventory.Reservation) (map[uuid.UUID]inventory.Product, error) {
			return nil, &inventory.InsufficientStockError{ProductID: productID, Requested: 5, Available: 2}
		},
	}
	svc := order.NewService(&mockTxManager{}, nil, repo, &mockCartRepository{}, ledger)

	ord, err := svc.Create(context.Background(), uuid.Must(uuid.NewV4()), "somewhere",
		[]order.ItemInput{{ProductID: productID, Quantity: 5}})
	assert.Nil(t, ord)
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.False(t, createCalled, "order must not be inserted when reservation fails")
}

func TestOrderService_Create_TotalFromCurrentPrices(t *testing.T) {
	firstID := uuid.Must(uuid.NewV4())
	secondID := uuid.Must(uuid.NewV4())

	var reserved []inventory.Reservation
	ledger := &mockLedger{
		reserveManyFunc: func(ctx context.Context, q db.Querier, items []inventory.Reservation) (map[uuid.UUID]inventory.Product, error) {
			reserved = items
			return map[uuid.UUID]inventory.Product{
				firstID:  {ID: firstID, Price: 10.0},
				secondID: {ID: secondID, Price: 2.5},
			}, nil
		},
	}
	svc := order.NewService(&mockTxManager{}, nil, &mockRepository{}, &mockCartRepository{}, ledger)

	ord, err := svc.Create(context.Background(), uuid.Must(uuid.NewV4()), "somewhere", []order.ItemInput{
		{ProductID: firstID, Quantity: 2},
		{ProductID: secondID, Quantity: 4},
	})
	require.NoError(t, err)
	assert.Len(t, reserved, 2)
	assert.Equal(t, order.StatusPending, ord.Status)
	assert.InDelta(t, 30.0, ord.TotalAmount, 1e-9)

	wantItems := []order.OrderItem{
		{ProductID: firstID, Quantity: 2, PricePerUnit: 10.0},
		{ProductID: secondID, Quantity: 4, PricePerUnit: 2.5},
	}
	if diff := cmp.Diff(wantItems, ord.OrderItems); diff != "" {
		t.Errorf("order items mismatch (-want +got):\n%s", diff)
	}
}

func TestOrderService_CreateFromCart_EmptyCart(t *testing.T) {
	userID := uuid.Must(uuid.NewV4())
	reserveCalled := false
	ledger := &mockLedger{
		reserveManyFunc: func(ctx context.Context, q db.Querier, items []inventory.Reservation) (map[uuid.UUID]inventory.Product, error) {
			reserveCalled = true
			return nil, nil
		},
	}

	tests := []struct {
		name         string
		lockByUserID func(ctx context.Context, q db.Querier, uID uuid.UUID) (*cart.Cart, error)
	}{
		{
			name: "cart_missing",
			lockByUserID: func(ctx context.Context, q db.Querier, uID uuid.UUID) (*cart.Cart, error) {
				return nil, cart.ErrCartNotFound
			},
		},
		{
			name: "cart_without_items",
			lockByUserID: func(ctx context.Context, q db.Querier, uID uuid.UUID) (*cart.Cart, error) {
				return &cart.Cart{ID: uuid.Must(uuid.NewV4()), UserID: uID, Items: []cart.CartItem{}}, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cartRepo := &mockCartRepository{lockByUserIDFunc: tt.lockByUserID}
			svc := order.NewService(&mockTxManager{}, nil, &mockRepository{}, cartRepo, ledger)

			ord, err := svc.CreateFromCart(context.Background(), userID, "somewhere")
			assert.Nil(t, ord)
			assert.ErrorIs(t, err, order.ErrCartEmpty)
		})
	}
	assert.False(t, reserveCalled)
}

func TestOrderService_CreateFromCart_ReservationFailureKeepsCart(t *testing.T) {
	userID := uuid.Must(uuid.NewV4())
	productID := uuid.Must(uuid.NewV4())
	cleared := false

	cartRepo := &mockCartRepository{
		lockByUserIDFunc: func(ctx context.Context, q db.Querier, uID uuid.UUID) (*cart.Cart, error) {
			return &cart.Cart{
				ID:     uuid.Must(uuid.NewV4()),
				UserID: uID,
				Items:  []cart.CartItem{{ProductID: productID, Quantity: 3, Price: 5.0}},
			}, nil
		},
		clearFunc: func(ctx context.Context, q db.Querier, cartID uuid.UUID) error {
			cleared = true
			return nil
		},
	}
	ledger := &mockLedger{
		reserveManyFunc: func(ctx context.Context, q db.Querier, items []inventory.Reservation) (map[uuid.UUID]inventory.Product, error) {
			return nil, &inventory.InsufficientStockError{ProductID: productID, Requested: 3, Available: 1}
		},
	}
	svc := order.NewService(&mockTxManager{}, nil, &mockRepository{}, cartRepo, ledger)

	ord, err := svc.CreateFromCart(context.Background(), userID, "somewhere")
	assert.Nil(t, ord)
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.False(t, cleared, "cart must stay intact when reservation fails")
}

func TestOrderService_CreateFromCart_UsesCartPriceSnapshot(t *testing.T) {
	userID := uuid.Must(uuid.NewV4())
	productID := uuid.Must(uuid.NewV4())
	cleared := false

	cartRepo := &mockCartRepository{
		lockByUserIDFunc: func(ctx context.Context, q db.Querier, uID uuid.UUID) (*cart.Cart, error) {
			return &cart.Cart{
				ID:     uuid.Must(uuid.NewV4()),
				UserID: uID,
				Items:  []cart.CartItem{{ProductID: productID, Quantity: 2, Price: 5.0}},
			}, nil
		},
		clearFunc: func(ctx context.Context, q db.Querier, cartID uuid.UUID) error {
			cleared = true
			return nil
		},
	}
	// Живая цена товара выше снапшота в корзине: итог считается по снапшоту.
	ledger := &mockLedger{
		reserveManyFunc: func(ctx context.Context, q db.Querier, items []inventory.Reservation) (map[uuid.UUID]inventory.Product, error) {
			return map[uuid.UUID]inventory.Product{
				productID: {ID: productID, Price: 9.0},
			}, nil
		},
	}
	svc := order.NewService(&mockTxManager{}, nil, &mockRepository{}, cartRepo, ledger)

	ord, err := svc.CreateFromCart(context.Background(), userID, "somewhere")
	require.NoError(t, err)
	assert.True(t, cleared, "cart must be cleared after checkout")
	assert.InDelta(t, 10.0, ord.TotalAmount, 1e-9)
	require.Len(t, ord.OrderItems, 1)
	assert.Equal(t, 5.0, ord.OrderItems[0].PricePerUnit)
}

func TestOrderService_Cancel(t *testing.T) {
	orderID := uuid.Must(uuid.NewV4())
	productID := uuid.Must(uuid.NewV4())

	makeOrder := func(status order.OrderStatus) *order.Order {
		return &order.Order{
			ID:     orderID,
			Status: status,
			OrderItems: []order.OrderItem{
				{ProductID: productID, Quantity: 3, PricePerUnit: 5.0},
			},
		}
	}

	t.Run("not_found", func(t *testing.T) {
		repo := &mockRepository{
			getByIDForUpdateFunc: func(ctx context.Context, q db.Querier, oID uuid.UUID) (*order.Order, error) {
				return nil, order.ErrOrderNotFound
			},
		}
		svc := order.NewService(&mockTxManager{}, nil, repo, &mockCartRepository{}, &mockLedger{})

		ord, err := svc.Cancel(context.Background(), orderID)
		assert.Nil(t, ord)
		assert.ErrorIs(t, err, order.ErrOrderNotFound)
	})

	for _, status := range []order.OrderStatus{order.StatusProcessing, order.StatusCancelled} {
		t.Run("rejects_"+string(status), func(t *testing.T) {
			released := false
			repo := &mockRepository{
				getByIDForUpdateFunc: func(ctx context.Context, q db.Querier, oID uuid.UUID) (*order.Order, error) {
					return makeOrder(status), nil
				},
			}
			ledger := &mockLedger{
				releaseManyFunc: func(ctx context.Context, q db.Querier, items []inventory.Reservation) error {
					released = true
					return nil
				},
			}
			svc := order.NewService(&mockTxManager{}, nil, repo, &mockCartRepository{}, ledger)

			ord, err := svc.Cancel(context.Background(), orderID)
			assert.Nil(t, ord)
			assert.ErrorIs(t, err, order.ErrNotPending)
			assert.False(t, released, "stock must not be released for non-pending orders")
		})
	}

	t.Run("releases_and_marks_cancelled", func(t *testing.T) {
		var released []inventory.Reservation
		var savedStatus order.OrderStatus
		repo := &mockRepository{
			getByIDForUpdateFunc: func(ctx context.Context, q db.Querier, oID uuid.UUID) (*order.Order, error) {
				return makeOrder(order.StatusPending), nil
			},
			updateStatusFunc: func(ctx context.Context, q db.Querier, oID uuid.UUID, newStatus order.OrderStatus) error {
				savedStatus = newStatus
				return nil
			},
		}
		ledger := &mockLedger{
			releaseManyFunc: func(ctx context.Context, q db.Querier, items []inventory.Reservation) error {
				released = items
				return nil
			},
		}
		svc := order.NewService(&mockTxManager{}, nil, repo, &mockCartRepository{}, ledger)

		ord, err := svc.Cancel(context.Background(), orderID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusCancelled, ord.Status)
		assert.Equal(t, order.StatusCancelled, savedStatus)
		require.Len(t, released, 1)
		assert.Equal(t, productID, released[0].ProductID)
		assert.Equal(t, 3, released[0].Quantity)
	})
}

func TestOrderService_Update_StatusTransitions(t *testing.T) {
	orderID := uuid.Must(uuid.NewV4())

	tests := []struct {
		name      string
		current   order.OrderStatus
		target    order.OrderStatus
		wantErrIs error
	}{
		{name: "pending_to_processing", current: order.StatusPending, target: order.StatusProcessing},
		{name: "processing_to_shipped", current: order.StatusProcessing, target: order.StatusShipped},
		{name: "shipped_to_delivered", current: order.StatusShipped, target: order.StatusDelivered},
		{name: "same_status_noop", current: order.StatusShipped, target: order.StatusShipped},
		{name: "pending_to_shipped", current: order.StatusPending, target: order.StatusShipped, wantErrIs: order.ErrInvalidStatusTransition},
		{name: "delivered_to_processing", current: order.StatusDelivered, target: order.StatusProcessing, wantErrIs: order.ErrInvalidStatusTransition},
		{name: "cancelled_is_terminal", current: order.StatusCancelled, target: order.StatusProcessing, wantErrIs: order.ErrInvalidStatusTransition},
		{name: "cancel_via_update_rejected", current: order.StatusPending, target: order.StatusCancelled, wantErrIs: order.ErrInvalidStatusTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockRepository{
				getByIDForUpdateFunc: func(ctx context.Context, q db.Querier, oID uuid.UUID) (*order.Order, error) {
					return &order.Order{ID: oID, Status: tt.current}, nil
				},
			}
			svc := order.NewService(&mockTxManager{}, nil, repo, &mockCartRepository{}, &mockLedger{})

			target := tt.target
			ord, err := svc.Update(context.Background(), orderID, order.UpdateInput{Status: &target})
			if tt.wantErrIs != nil {
				assert.Nil(t, ord)
				assert.ErrorIs(t, err, tt.wantErrIs)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.target, ord.Status)
			}
		})
	}
}

func TestOrderService_Update_ShippingAddressOnly(t *testing.T) {
	orderID := uuid.Must(uuid.NewV4())
	var saved *order.Order
	repo := &mockRepository{
		getByIDForUpdateFunc: func(ctx context.Context, q db.Querier, oID uuid.UUID) (*order.Order, error) {
			return &order.Order{ID: oID, Status: order.StatusProcessing, ShippingAddressText: "old address"}, nil
		},
		updateFunc: func(ctx context.Context, q db.Querier, ord *order.Order) error {
			saved = ord
			return nil
		},
	}
	svc := order.NewService(&mockTxManager{}, nil, repo, &mockCartRepository{}, &mockLedger{})

	addr := "new address"
	ord, err := svc.Update(context.Background(), orderID, order.UpdateInput{ShippingAddressText: &addr})
	require.NoError(t, err)
	assert.Equal(t, "new address", ord.ShippingAddressText)
	assert.Equal(t, order.StatusProcessing, ord.Status)
	require.NotNil(t, saved)
	assert.Equal(t, "new address", saved.ShippingAddressText)
}

func TestOrderService_ListOrdersByUserID_Defaults(t *testing.T) {
	userID := uuid.Must(uuid.NewV4())
	var gotLimit, gotOffset int
	repo := &mockRepository{
		listByUserIDFunc: func(ctx context.Context, q db.Querier, uID uuid.UUID, limit, offset int) ([]order.Order, error) {
			gotLimit, gotOffset = limit, offset
			return []order.Order{}, nil
		},
	}
	svc := order.NewService(&mockTxManager{}, nil, repo, &mockCartRepository{}, &mockLedger{})

	orders, err := svc.ListOrdersByUserID(context.Background(), userID, -5, 0)
	require.NoError(t, err)
	assert.NotNil(t, orders)
	assert.Equal(t, 100, gotLimit)
	assert.Equal(t, 0, gotOffset)
}
