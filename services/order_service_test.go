package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop-service/models"
	"shop-service/utils"
)

type orderFixture struct {
	store    *memStore
	products *ProductService
	orders   *OrderService
	events   *recordingPublisher
}

func newOrderFixture(t *testing.T, opts Options) *orderFixture {
	t.Helper()
	store := newMemStore(userOne, userTwo, admin)
	events := &recordingPublisher{}
	opts.DefaultPageLimit, opts.MaxPageLimit = 25, 100
	return &orderFixture{
		store:    store,
		products: NewProductService(store, opts),
		orders:   NewOrderService(store, events, opts),
		events:   events,
	}
}

func (f *orderFixture) product(t *testing.T, name string, stock int) *models.Product {
	t.Helper()
	p, err := f.products.Create(context.Background(), models.ProductInput{
		Name: name, Price: 10, Stock: stock, Category: "tools",
	}, principalOf(userOne))
	require.NoError(t, err)
	return p
}

func (f *orderFixture) order(t *testing.T, owner models.User, items ...models.OrderItem) *models.Order {
	t.Helper()
	o, err := f.orders.Create(context.Background(), models.OrderInput{
		OrderItems: items,
		TotalPrice: 20,
	}, principalOf(owner))
	require.NoError(t, err)
	return o
}

func TestOrderService_Create(t *testing.T) {
	f := newOrderFixture(t, Options{})
	p := f.product(t, "Widget", 5)

	o := f.order(t, userOne, models.OrderItem{Product: p.ID, Quantity: 2})

	assert.Equal(t, models.StatusProcessing, o.OrderStatus)
	assert.Equal(t, "u1", o.User.ID)
	assert.Nil(t, o.DeliveredAt)
	assert.Equal(t, 5, f.store.product(p.ID).Stock, "creating an order does not touch stock")
	assert.Equal(t, []string{models.EventOrderCreated}, f.events.types())
}

func TestOrderService_CreateRequiresItems(t *testing.T) {
	f := newOrderFixture(t, Options{})

	_, err := f.orders.Create(context.Background(), models.OrderInput{}, principalOf(userOne))
	require.Error(t, err)
	assert.Equal(t, utils.KindBadRequest, utils.KindOf(err))
	assert.Empty(t, f.events.types())
}

func TestOrderService_DeliverScenario(t *testing.T) {
	f := newOrderFixture(t, Options{})
	ctx := context.Background()
	widget := f.product(t, "Widget", 5)
	o := f.order(t, userOne, models.OrderItem{Product: widget.ID, Quantity: 2})

	before := time.Now().UTC()
	got, err := f.orders.UpdateStatus(ctx, o.ID, models.StatusDelivered)
	require.NoError(t, err)

	assert.Equal(t, 3, f.store.product(widget.ID).Stock)
	assert.Equal(t, models.StatusDelivered, got.OrderStatus)
	require.NotNil(t, got.DeliveredAt)
	assert.False(t, got.DeliveredAt.Before(before))

	stored := f.store.order(o.ID)
	assert.Equal(t, models.StatusDelivered, stored.OrderStatus)
	require.NotNil(t, stored.DeliveredAt)

	_, err = f.orders.UpdateStatus(ctx, o.ID, models.StatusShipped)
	require.Error(t, err)
	assert.Equal(t, utils.KindBadRequest, utils.KindOf(err))
	assert.Equal(t, "You have already delivered this order", err.Error())
	assert.Equal(t, 3, f.store.product(widget.ID).Stock)
	assert.Equal(t, stored, f.store.order(o.ID))

	assert.Equal(t, []string{models.EventOrderCreated, models.EventOrderStatusUpdated}, f.events.types())
}

func TestOrderService_UpdateStatusDecrementsEveryItem(t *testing.T) {
	f := newOrderFixture(t, Options{})
	a := f.product(t, "A", 10)
	b := f.product(t, "B", 4)
	o := f.order(t, userTwo,
		models.OrderItem{Product: a.ID, Quantity: 3},
		models.OrderItem{Product: b.ID, Quantity: 4},
		models.OrderItem{Product: a.ID, Quantity: 1},
	)

	_, err := f.orders.UpdateStatus(context.Background(), o.ID, models.StatusShipped)
	require.NoError(t, err)
	assert.Equal(t, 6, f.store.product(a.ID).Stock)
	assert.Equal(t, 0, f.store.product(b.ID).Stock)
	assert.Equal(t, models.StatusShipped, f.store.order(o.ID).OrderStatus)
}

func TestOrderService_UpdateStatusEmptyKeepsStatus(t *testing.T) {
	f := newOrderFixture(t, Options{})
	p := f.product(t, "Widget", 5)
	o := f.order(t, userOne, models.OrderItem{Product: p.ID, Quantity: 1})

	got, err := f.orders.UpdateStatus(context.Background(), o.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.OrderStatus)
	assert.NotNil(t, got.DeliveredAt)
	assert.Equal(t, 4, f.store.product(p.ID).Stock)
}

func TestOrderService_UpdateStatusRollsBack(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(f *orderFixture, first, second *models.Product)
		items    func(first, second *models.Product) []models.OrderItem
		status   models.OrderStatus
		wantKind utils.Kind
	}{
		{
			name: "insufficient_stock_on_second_item",
			items: func(first, second *models.Product) []models.OrderItem {
				return []models.OrderItem{{Product: first.ID, Quantity: 2}, {Product: second.ID, Quantity: 5}}
			},
			status:   models.StatusDelivered,
			wantKind: utils.KindBadRequest,
		},
		{
			name: "missing_product",
			items: func(first, _ *models.Product) []models.OrderItem {
				return []models.OrderItem{{Product: first.ID, Quantity: 2}, {Product: "gone", Quantity: 1}}
			},
			status:   models.StatusDelivered,
			wantKind: utils.KindNotFound,
		},
		{
			name: "order_write_fails",
			setup: func(f *orderFixture, _, _ *models.Product) {
				f.store.orderUpdateErr = errors.New("connection reset")
			},
			items: func(first, second *models.Product) []models.OrderItem {
				return []models.OrderItem{{Product: first.ID, Quantity: 2}, {Product: second.ID, Quantity: 1}}
			},
			status:   models.StatusDelivered,
			wantKind: utils.KindInternal,
		},
		{
			name: "unknown_status",
			items: func(first, _ *models.Product) []models.OrderItem {
				return []models.OrderItem{{Product: first.ID, Quantity: 2}}
			},
			status:   "Lost",
			wantKind: utils.KindBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrderFixture(t, Options{})
			first := f.product(t, "First", 5)
			second := f.product(t, "Second", 3)
			o := f.order(t, userOne, tt.items(first, second)...)
			if tt.setup != nil {
				tt.setup(f, first, second)
			}
			before := f.store.order(o.ID)

			_, err := f.orders.UpdateStatus(context.Background(), o.ID, tt.status)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, utils.KindOf(err))

			assert.Equal(t, 5, f.store.product(first.ID).Stock)
			assert.Equal(t, 3, f.store.product(second.ID).Stock)
			assert.Equal(t, before, f.store.order(o.ID))
			assert.Equal(t, []string{models.EventOrderCreated}, f.events.types())
		})
	}
}

func TestOrderService_UpdateStatusConcurrentDelivery(t *testing.T) {
	f := newOrderFixture(t, Options{})
	p := f.product(t, "Widget", 5)
	o := f.order(t, userOne, models.OrderItem{Product: p.ID, Quantity: 2})

	// Another writer delivers the order after this update has read it.
	f.store.beforeOrderUpdate = func() {
		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		stored := f.store.orders[o.ID]
		stored.OrderStatus = models.StatusDelivered
		f.store.orders[o.ID] = stored
	}

	_, err := f.orders.UpdateStatus(context.Background(), o.ID, models.StatusDelivered)
	require.Error(t, err)
	assert.Equal(t, utils.KindBadRequest, utils.KindOf(err))
	assert.Equal(t, "You have already delivered this order", err.Error())
	assert.Equal(t, 5, f.store.product(p.ID).Stock)
	assert.Equal(t, []string{models.EventOrderCreated}, f.events.types())
}

func TestOrderService_UpdateStatusAllowNegative(t *testing.T) {
	f := newOrderFixture(t, Options{AllowNegativeStock: true})
	p := f.product(t, "Widget", 1)
	o := f.order(t, userOne, models.OrderItem{Product: p.ID, Quantity: 3})

	_, err := f.orders.UpdateStatus(context.Background(), o.ID, models.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, -2, f.store.product(p.ID).Stock)
}

func TestOrderService_UpdateStatusNotFound(t *testing.T) {
	f := newOrderFixture(t, Options{})

	_, err := f.orders.UpdateStatus(context.Background(), "missing", models.StatusDelivered)
	require.Error(t, err)
	assert.Equal(t, utils.KindNotFound, utils.KindOf(err))
	assert.Equal(t, "Order not found with id of missing", err.Error())
}

func TestOrderService_GetByID(t *testing.T) {
	f := newOrderFixture(t, Options{})
	p := f.product(t, "Widget", 5)
	o := f.order(t, userOne, models.OrderItem{Product: p.ID, Quantity: 1})

	tests := []struct {
		name      string
		principal models.Principal
		wantKind  utils.Kind
		wantErr   bool
	}{
		{name: "owner", principal: principalOf(userOne)},
		{name: "admin", principal: principalOf(admin)},
		{name: "other_user", principal: principalOf(userTwo), wantErr: true, wantKind: utils.KindForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.orders.GetByID(context.Background(), o.ID, tt.principal)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, utils.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.UserRef{ID: "u1", Name: "Alice", Email: "alice@example.com"}, got.User)
		})
	}
}

func TestOrderService_ListMine(t *testing.T) {
	f := newOrderFixture(t, Options{})
	p := f.product(t, "Widget", 5)
	mine1 := f.order(t, userOne, models.OrderItem{Product: p.ID, Quantity: 1})
	f.order(t, userTwo, models.OrderItem{Product: p.ID, Quantity: 1})
	mine2 := f.order(t, userOne, models.OrderItem{Product: p.ID, Quantity: 2})

	got, err := f.orders.ListMine(context.Background(), principalOf(userOne))
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, o := range got {
		ids = append(ids, o.ID)
		assert.Equal(t, "u1", o.User.ID)
	}
	assert.ElementsMatch(t, []string{mine1.ID, mine2.ID}, ids)
}

func TestOrderService_ListAllPopulatesName(t *testing.T) {
	f := newOrderFixture(t, Options{})
	p := f.product(t, "Widget", 5)
	f.order(t, userOne, models.OrderItem{Product: p.ID, Quantity: 1})
	f.order(t, userTwo, models.OrderItem{Product: p.ID, Quantity: 1})

	got, err := f.orders.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, o := range got {
		assert.NotEmpty(t, o.User.Name)
		assert.Empty(t, o.User.Email)
	}
}

func TestOrderService_Remove(t *testing.T) {
	f := newOrderFixture(t, Options{})
	ctx := context.Background()
	p := f.product(t, "Widget", 5)
	o := f.order(t, userOne, models.OrderItem{Product: p.ID, Quantity: 2})

	require.NoError(t, f.orders.Remove(ctx, o.ID))
	assert.Equal(t, 5, f.store.product(p.ID).Stock)
	assert.Equal(t, []string{models.EventOrderCreated, models.EventOrderDeleted}, f.events.types())

	err := f.orders.Remove(ctx, o.ID)
	require.Error(t, err)
	assert.Equal(t, utils.KindNotFound, utils.KindOf(err))
}

func TestOrderService_PublishFailureIsNotFatal(t *testing.T) {
	f := newOrderFixture(t, Options{})
	f.events.err = errors.New("broker down")
	p := f.product(t, "Widget", 5)

	o, err := f.orders.Create(context.Background(), models.OrderInput{
		OrderItems: []models.OrderItem{{Product: p.ID, Quantity: 1}},
	}, principalOf(userOne))
	require.NoError(t, err)
	assert.NotEmpty(t, o.ID)
}
