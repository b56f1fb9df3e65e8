package database

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"shop-service/models"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrOrderDelivered    = errors.New("order already delivered")
)

type ProductRepository interface {
	FindByID(ctx context.Context, id string) (*models.Product, error)
	List(ctx context.Context, q models.ListQuery) ([]models.Product, int64, error)
	FindByCategory(ctx context.Context, categoryID string) ([]models.Product, error)
	Create(ctx context.Context, p *models.Product) error
	Update(ctx context.Context, p *models.Product) error
	Delete(ctx context.Context, id string) error
	// DecrementStock atomically subtracts qty from the product's stock. Unless
	// allowNegative is set, it fails with ErrInsufficientStock instead of
	// going below zero.
	DecrementStock(ctx context.Context, id string, qty int, allowNegative bool) error
}

type OrderRepository interface {
	FindByID(ctx context.Context, id string) (*models.Order, error)
	FindByUser(ctx context.Context, userID string) ([]models.Order, error)
	FindAll(ctx context.Context) ([]models.Order, error)
	Create(ctx context.Context, o *models.Order) error
	// UpdateStatus writes the status only while the stored order is not yet
	// delivered and returns ErrOrderDelivered otherwise.
	UpdateStatus(ctx context.Context, id string, status models.OrderStatus, deliveredAt time.Time) error
	Delete(ctx context.Context, id string) error
}

type UserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByIDs(ctx context.Context, ids []string) (map[string]models.User, error)
}

// Store is the persistence collaborator shared by the services.
type Store interface {
	Products() ProductRepository
	Orders() OrderRepository
	Users() UserRepository
	// WithTx runs fn with a Store whose writes commit together when fn
	// returns nil and are discarded otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// sortable product fields, keyed by the name used in listing queries.
var productSortFields = map[string]struct{}{
	"name":      {},
	"price":     {},
	"stock":     {},
	"createdAt": {},
}

var productFilterFields = map[string]struct{}{
	"name":     {},
	"price":    {},
	"stock":    {},
	"category": {},
	"user":     {},
}

// IsProductSortField reports whether listings can be ordered by field.
func IsProductSortField(field string) bool {
	_, ok := productSortFields[field]
	return ok
}

// IsProductFilterField reports whether listings can be filtered by field.
func IsProductFilterField(field string) bool {
	_, ok := productFilterFields[field]
	return ok
}
