package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"shop-service/database"
	"shop-service/models"
	"shop-service/utils"
)

type OrderService struct {
	store         database.Store
	publisher     EventPublisher
	allowNegative bool
	now           func() time.Time
}

func NewOrderService(store database.Store, publisher EventPublisher, opts Options) *OrderService {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &OrderService{
		store:         store,
		publisher:     publisher,
		allowNegative: opts.AllowNegativeStock,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func orderNotFound(id string) error {
	return utils.NotFound("Order not found with id of %s", id)
}

func (s *OrderService) find(ctx context.Context, orders database.OrderRepository, id string) (*models.Order, error) {
	o, err := orders.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, orderNotFound(id)
		}
		log.Error().Err(err).Str("order_id", id).Msg("service: failed to fetch order")
		return nil, errors.Wrapf(err, "find order %s", id)
	}
	return o, nil
}

// publish logs publishing failures instead of returning them.
func (s *OrderService) publish(ctx context.Context, eventType string, o *models.Order) {
	ev := models.OrderEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		OrderID:    o.ID,
		UserID:     o.User.ID,
		Status:     o.OrderStatus,
		TotalPrice: o.TotalPrice,
		Items:      o.OrderItems,
		Occurred:   s.now(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Str("event", eventType).Msg("service: failed to publish order event")
	}
}

// Create stores an order for the acting principal. Prices, shipping and
// payment data are taken from the input as they are.
func (s *OrderService) Create(ctx context.Context, in models.OrderInput, principal models.Principal) (*models.Order, error) {
	o := &models.Order{
		OrderItems:    in.OrderItems,
		ShippingInfo:  in.ShippingInfo,
		ItemsPrice:    in.ItemsPrice,
		TaxPrice:      in.TaxPrice,
		ShippingPrice: in.ShippingPrice,
		TotalPrice:    in.TotalPrice,
		PaymentInfo:   in.PaymentInfo,
		User:          models.UserRef{ID: principal.UserID},
		OrderStatus:   models.StatusProcessing,
	}
	if err := validate.Struct(o); err != nil {
		return nil, validationError(err)
	}

	if err := s.store.Orders().Create(ctx, o); err != nil {
		log.Error().Err(err).Str("user_id", principal.UserID).Msg("service: failed to create order")
		return nil, errors.Wrap(err, "create order")
	}

	log.Info().Str("order_id", o.ID).Str("user_id", principal.UserID).Msg("Order created")
	s.publish(ctx, models.EventOrderCreated, o)
	return o, nil
}

func (s *OrderService) GetByID(ctx context.Context, id string, principal models.Principal) (*models.Order, error) {
	o, err := s.find(ctx, s.store.Orders(), id)
	if err != nil {
		return nil, err
	}
	if !principal.Owns(o.User.ID) && !principal.IsAdmin() {
		log.Warn().Str("order_id", id).Str("user_id", principal.UserID).Msg("service: order access denied")
		return nil, utils.Forbidden("User %s is not authorized to view this order", principal.UserID)
	}

	if err := populate(ctx, s.store.Users(), true, &o.User); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *OrderService) ListMine(ctx context.Context, principal models.Principal) ([]models.Order, error) {
	orders, err := s.store.Orders().FindByUser(ctx, principal.UserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", principal.UserID).Msg("service: failed to list user orders")
		return nil, errors.Wrapf(err, "list orders of user %s", principal.UserID)
	}
	return orders, nil
}

// ListAll returns every order with the owner's name resolved.
func (s *OrderService) ListAll(ctx context.Context) ([]models.Order, error) {
	orders, err := s.store.Orders().FindAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list orders")
		return nil, errors.Wrap(err, "list orders")
	}

	refs := make([]*models.UserRef, len(orders))
	for i := range orders {
		refs[i] = &orders[i].User
	}
	if err := populate(ctx, s.store.Users(), false, refs...); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateStatus moves a non-delivered order to status, or keeps its current
// status when status is empty. Stock of every item is decremented first,
// one item at a time, and the order is written last; all of it commits
// together or not at all.
func (s *OrderService) UpdateStatus(ctx context.Context, id string, status models.OrderStatus) (*models.Order, error) {
	var updated *models.Order
	err := s.store.WithTx(ctx, func(ctx context.Context, tx database.Store) error {
		o, err := s.find(ctx, tx.Orders(), id)
		if err != nil {
			return err
		}
		if o.OrderStatus.IsTerminal() {
			return utils.BadRequest("You have already delivered this order")
		}
		if status != "" && !status.Valid() {
			return utils.BadRequest("Invalid order status %q", status)
		}

		if status != "" {
			o.OrderStatus = status
		}
		deliveredAt := s.now()
		o.DeliveredAt = &deliveredAt

		// The conditional write claims the order row before any stock moves, so
		// a concurrent delivery committed after the read above aborts here.
		if err := tx.Orders().UpdateStatus(ctx, o.ID, o.OrderStatus, deliveredAt); err != nil {
			switch {
			case errors.Is(err, database.ErrNotFound):
				return orderNotFound(id)
			case errors.Is(err, database.ErrOrderDelivered):
				return utils.BadRequest("You have already delivered this order")
			}
			return errors.Wrapf(err, "update status of order %s", id)
		}

		for _, item := range o.OrderItems {
			if err := s.decrement(ctx, tx.Products(), item); err != nil {
				return err
			}
		}
		updated = o
		return nil
	})
	if err != nil {
		if utils.KindOf(err) == utils.KindInternal {
			log.Error().Err(err).Str("order_id", id).Msg("service: failed to update order status")
		} else {
			log.Warn().Err(err).Str("order_id", id).Msg("service: order status update rejected")
		}
		return nil, err
	}

	log.Info().Str("order_id", id).Str("status", updated.OrderStatus.String()).Msg("Order status updated")
	s.publish(ctx, models.EventOrderStatusUpdated, updated)
	return updated, nil
}

func (s *OrderService) decrement(ctx context.Context, products database.ProductRepository, item models.OrderItem) error {
	err := products.DecrementStock(ctx, item.Product, item.Quantity, s.allowNegative)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, database.ErrNotFound):
		return utils.NotFound("Product not found with id of %s", item.Product)
	case errors.Is(err, database.ErrInsufficientStock):
		return utils.BadRequest("Insufficient stock for product %s", item.Product)
	default:
		return errors.Wrapf(err, "decrement stock of product %s", item.Product)
	}
}

// Remove deletes an order. Stock is not restored.
func (s *OrderService) Remove(ctx context.Context, id string) error {
	o, err := s.find(ctx, s.store.Orders(), id)
	if err != nil {
		return err
	}

	if err := s.store.Orders().Delete(ctx, id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return orderNotFound(id)
		}
		log.Error().Err(err).Str("order_id", id).Msg("service: failed to delete order")
		return errors.Wrapf(err, "delete order %s", id)
	}

	log.Info().Str("order_id", id).Msg("Order deleted")
	s.publish(ctx, models.EventOrderDeleted, o)
	return nil
}
