package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"shop-service/database"
	"shop-service/models"
)

// memStore is an in-memory Store. WithTx restores a snapshot when fn fails.
type memStore struct {
	mu       sync.Mutex
	seq      int
	products map[string]models.Product
	orders   map[string]models.Order
	users    map[string]models.User

	lastQuery      models.ListQuery
	orderUpdateErr error
	// beforeOrderUpdate runs at the start of memOrders.UpdateStatus, before
	// the lock is taken, to simulate a concurrent writer.
	beforeOrderUpdate func()
}

func newMemStore(users ...models.User) *memStore {
	m := &memStore{
		products: map[string]models.Product{},
		orders:   map[string]models.Order{},
		users:    map[string]models.User{},
	}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) Products() database.ProductRepository { return &memProducts{m} }
func (m *memStore) Orders() database.OrderRepository     { return &memOrders{m} }
func (m *memStore) Users() database.UserRepository       { return &memUsers{m} }
func (m *memStore) Ping(context.Context) error           { return nil }
func (m *memStore) Close(context.Context) error          { return nil }

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx database.Store) error) error {
	m.mu.Lock()
	products := make(map[string]models.Product, len(m.products))
	for k, v := range m.products {
		products[k] = v
	}
	orders := make(map[string]models.Order, len(m.orders))
	for k, v := range m.orders {
		orders[k] = cloneOrder(v)
	}
	m.mu.Unlock()

	if err := fn(ctx, m); err != nil {
		m.mu.Lock()
		m.products = products
		m.orders = orders
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) product(id string) models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id]
}

func (m *memStore) order(id string) models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneOrder(m.orders[id])
}

func cloneOrder(o models.Order) models.Order {
	o.OrderItems = append([]models.OrderItem(nil), o.OrderItems...)
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		o.DeliveredAt = &t
	}
	return o
}

type memProducts struct{ m *memStore }

func (r *memProducts) FindByID(_ context.Context, id string) (*models.Product, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.products[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &p, nil
}

func (r *memProducts) List(_ context.Context, q models.ListQuery) ([]models.Product, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.lastQuery = q

	all := make([]models.Product, 0, len(r.m.products))
	for _, p := range r.m.products {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	total := int64(len(all))
	start := q.Skip()
	if start > len(all) {
		start = len(all)
	}
	end := start + q.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (r *memProducts) FindByCategory(_ context.Context, categoryID string) ([]models.Product, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.Product
	for _, p := range r.m.products {
		if p.Category == categoryID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memProducts) Create(_ context.Context, p *models.Product) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if p.ID == "" {
		p.ID = r.m.nextID("p")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	r.m.products[p.ID] = *p
	return nil
}

func (r *memProducts) Update(_ context.Context, p *models.Product) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.products[p.ID]; !ok {
		return database.ErrNotFound
	}
	r.m.products[p.ID] = *p
	return nil
}

func (r *memProducts) Delete(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.products[id]; !ok {
		return database.ErrNotFound
	}
	delete(r.m.products, id)
	return nil
}

func (r *memProducts) DecrementStock(_ context.Context, id string, qty int, allowNegative bool) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.products[id]
	if !ok {
		return database.ErrNotFound
	}
	if !allowNegative && p.Stock < qty {
		return database.ErrInsufficientStock
	}
	p.Stock -= qty
	r.m.products[id] = p
	return nil
}

type memOrders struct{ m *memStore }

func (r *memOrders) FindByID(_ context.Context, id string) (*models.Order, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	o, ok := r.m.orders[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	o = cloneOrder(o)
	return &o, nil
}

func (r *memOrders) filter(keep func(models.Order) bool) []models.Order {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := []models.Order{}
	for _, o := range r.m.orders {
		if keep(o) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memOrders) FindByUser(_ context.Context, userID string) ([]models.Order, error) {
	return r.filter(func(o models.Order) bool { return o.User.ID == userID }), nil
}

func (r *memOrders) FindAll(context.Context) ([]models.Order, error) {
	return r.filter(func(models.Order) bool { return true }), nil
}

func (r *memOrders) Create(_ context.Context, o *models.Order) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if o.ID == "" {
		o.ID = r.m.nextID("o")
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	r.m.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (r *memOrders) UpdateStatus(_ context.Context, id string, status models.OrderStatus, deliveredAt time.Time) error {
	if hook := r.m.beforeOrderUpdate; hook != nil {
		hook()
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.orderUpdateErr != nil {
		return r.m.orderUpdateErr
	}
	o, ok := r.m.orders[id]
	if !ok {
		return database.ErrNotFound
	}
	if o.OrderStatus == models.StatusDelivered {
		return database.ErrOrderDelivered
	}
	o.OrderStatus = status
	o.DeliveredAt = &deliveredAt
	r.m.orders[id] = o
	return nil
}

func (r *memOrders) Delete(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.orders[id]; !ok {
		return database.ErrNotFound
	}
	delete(r.m.orders, id)
	return nil
}

type memUsers struct{ m *memStore }

func (r *memUsers) FindByID(_ context.Context, id string) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &u, nil
}

func (r *memUsers) FindByIDs(_ context.Context, ids []string) (map[string]models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make(map[string]models.User, len(ids))
	for _, id := range ids {
		if u, ok := r.m.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.OrderEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev models.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

var (
	userOne = models.User{ID: "u1", Name: "Alice", Email: "alice@example.com", Role: models.RoleUser}
	userTwo = models.User{ID: "u2", Name: "Bob", Email: "bob@example.com", Role: models.RoleUser}
	admin   = models.User{ID: "a1", Name: "Root", Email: "root@example.com", Role: models.RoleAdmin}
)

func principalOf(u models.User) models.Principal {
	return models.Principal{UserID: u.ID, Role: u.Role}
}
