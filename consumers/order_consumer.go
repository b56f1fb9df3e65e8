package consumers

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"shop-service/config"
	"shop-service/database"
	"shop-service/middlewares"
	"shop-service/models"
)

var ErrMalformedEvent = errors.New("malformed order event")

type ProductReader interface {
	FindByID(ctx context.Context, id string) (*models.Product, error)
}

// Processor reacts to order events. After a status update it checks the
// stock of the order's products and flags those running low.
type Processor struct {
	products  ProductReader
	threshold int
}

func NewProcessor(products ProductReader, lowStockThreshold int) *Processor {
	return &Processor{products: products, threshold: lowStockThreshold}
}

func (p *Processor) Handle(ctx context.Context, body []byte) error {
	var ev models.OrderEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return errors.Wrap(ErrMalformedEvent, err.Error())
	}
	if ev.OrderID == "" {
		return errors.Wrap(ErrMalformedEvent, "missing order_id")
	}

	logger := log.With().Str("order_id", ev.OrderID).Str("event", ev.Type).Logger()

	switch ev.Type {
	case models.EventOrderCreated:
		logger.Info().Float64("total_price", ev.TotalPrice).Int("items", len(ev.Items)).Msg("Order created event received")
	case models.EventOrderDeleted:
		logger.Info().Msg("Order deleted event received")
	case models.EventOrderStatusUpdated:
		logger.Info().Str("status", ev.Status.String()).Msg("Order status updated event received")
		return p.checkStock(ctx, ev)
	default:
		return errors.Wrapf(ErrMalformedEvent, "unknown event type %q", ev.Type)
	}
	return nil
}

func (p *Processor) checkStock(ctx context.Context, ev models.OrderEvent) error {
	seen := make(map[string]struct{}, len(ev.Items))
	for _, item := range ev.Items {
		if _, ok := seen[item.Product]; ok {
			continue
		}
		seen[item.Product] = struct{}{}

		product, err := p.products.FindByID(ctx, item.Product)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				log.Warn().Str("product_id", item.Product).Str("order_id", ev.OrderID).Msg("Product of order no longer exists")
				continue
			}
			return errors.Wrapf(err, "load product %s", item.Product)
		}

		low := product.Stock <= p.threshold
		middlewares.SetLowStock(product.ID, product.Stock, low)
		if low {
			log.Warn().
				Str("product_id", product.ID).
				Str("name", product.Name).
				Int("stock", product.Stock).
				Int("threshold", p.threshold).
				Msg("Product stock is low")
		}
	}
	return nil
}

// processOrderMessage acks handled messages. Anything else is rejected
// without requeue so that it lands in the dead letter queue.
func (p *Processor) processOrderMessage(ctx context.Context, msg amqp.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("message_id", msg.MessageId).Msg("Recovered from panic in message processing")
			if err := msg.Nack(false, false); err != nil {
				log.Error().Err(err).Msg("Failed to nack message")
			}
		}
	}()

	if err := p.Handle(ctx, msg.Body); err != nil {
		log.Error().Err(err).Str("message_id", msg.MessageId).Msg("Failed to process order event")
		if err := msg.Nack(false, false); err != nil {
			log.Error().Err(err).Msg("Failed to nack message")
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		log.Error().Err(err).Str("message_id", msg.MessageId).Msg("Failed to ack message")
	}
}

func processDeadLetterMessage(msg amqp.Delivery) {
	var reason string
	if deaths, ok := msg.Headers["x-death"].([]interface{}); ok && len(deaths) > 0 {
		if death, ok := deaths[0].(amqp.Table); ok {
			reason, _ = death["reason"].(string)
		}
	}
	log.Warn().
		Str("message_id", msg.MessageId).
		Str("type", msg.Type).
		Str("reason", reason).
		Bytes("body", msg.Body).
		Msg("Received dead letter")

	if err := msg.Ack(false); err != nil {
		log.Error().Err(err).Msg("Failed to ack dead letter")
	}
}

// StartOrderConsumer consumes the order queue and the dead letter queue
// until ctx is cancelled or the broker closes the channel.
func StartOrderConsumer(ctx context.Context, ch *amqp.Channel, cfg *config.Config, p *Processor) error {
	msgs, err := ch.Consume(
		cfg.OrderQueue,
		"shop-service", // consumer tag
		false,          // auto-ack
		false,          // exclusive
		false,          // no-local
		false,          // no-wait
		nil,
	)
	if err != nil {
		return errors.Wrap(err, "register order consumer")
	}

	dlqMsgs, err := ch.Consume(
		cfg.DeadLetterQueue,
		"shop-service-dlq", // consumer tag
		false,              // auto-ack
		false,              // exclusive
		false,              // no-local
		false,              // no-wait
		nil,
	)
	if err != nil {
		return errors.Wrap(err, "register dead letter consumer")
	}

	log.Info().Str("queue", cfg.OrderQueue).Str("dlq", cfg.DeadLetterQueue).Msg("Order consumer started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Order consumer stopped")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("order queue delivery channel closed")
			}
			p.processOrderMessage(ctx, msg)
		case msg, ok := <-dlqMsgs:
			if !ok {
				return errors.New("dead letter delivery channel closed")
			}
			processDeadLetterMessage(msg)
		}
	}
}
