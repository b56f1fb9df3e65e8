package rabbitmq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"shop-service/config"
	"shop-service/models"
)

const (
	priorityHigh   uint8 = 9
	priorityDelete uint8 = 8
	priorityNormal uint8 = 5

	highValueOrder = 1000
)

type RabbitMQ struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
	Cfg     *config.Config

	mu sync.Mutex
}

func NewRabbitMQ(cfg *config.Config) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		return nil, errors.Wrap(err, "dial rabbitmq")
	}

	ch, err := conn.Channel()
	if err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close RabbitMQ connection")
		}
		return nil, errors.Wrap(err, "open channel")
	}

	return &RabbitMQ{
		Conn:    conn,
		Channel: ch,
		Cfg:     cfg,
	}, nil
}

func (r *RabbitMQ) deadLetterExchange() string {
	return r.Cfg.DeadLetterQueue + "_exchange"
}

// SetupQueues declares the order exchange, the priority order queue and the
// dead letter exchange and queue that rejected messages are routed to.
func (r *RabbitMQ) SetupQueues() error {
	if err := r.Channel.ExchangeDeclare(
		r.deadLetterExchange(),
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return errors.Wrap(err, "declare dead letter exchange")
	}

	if _, err := r.Channel.QueueDeclare(
		r.Cfg.DeadLetterQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-queue-type": "classic"},
	); err != nil {
		return errors.Wrap(err, "declare dead letter queue")
	}

	if err := r.Channel.QueueBind(
		r.Cfg.DeadLetterQueue,
		r.Cfg.DeadLetterQueue,
		r.deadLetterExchange(),
		false,
		nil,
	); err != nil {
		return errors.Wrap(err, "bind dead letter queue")
	}

	if err := r.Channel.ExchangeDeclare(
		r.Cfg.OrderExchange,
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return errors.Wrap(err, "declare order exchange")
	}

	if _, err := r.Channel.QueueDeclare(
		r.Cfg.OrderQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-max-priority":            r.Cfg.MaxPriority,
			"x-dead-letter-exchange":    r.deadLetterExchange(),
			"x-dead-letter-routing-key": r.Cfg.DeadLetterQueue,
		},
	); err != nil {
		return errors.Wrap(err, "declare order queue")
	}

	if err := r.Channel.QueueBind(
		r.Cfg.OrderQueue,
		"",
		r.Cfg.OrderExchange,
		false,
		nil,
	); err != nil {
		return errors.Wrap(err, "bind order queue")
	}

	log.Info().
		Str("exchange", r.Cfg.OrderExchange).
		Str("queue", r.Cfg.OrderQueue).
		Str("dlq", r.Cfg.DeadLetterQueue).
		Msg("RabbitMQ topology declared")
	return nil
}

// Priority maps an event to its message priority, capped at maxPriority.
func Priority(ev models.OrderEvent, maxPriority int) uint8 {
	p := priorityNormal
	switch {
	case ev.Type == models.EventOrderCreated && ev.TotalPrice > highValueOrder:
		p = priorityHigh
	case ev.Type == models.EventOrderDeleted:
		p = priorityDelete
	}
	if maxPriority > 0 && int(p) > maxPriority {
		p = uint8(maxPriority)
	}
	return p
}

// NewPublishing encodes ev as a persistent JSON message.
func NewPublishing(ev models.OrderEvent, maxPriority int) (amqp.Publishing, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Occurred.IsZero() {
		ev.Occurred = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, errors.Wrap(err, "encode order event")
	}

	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.Occurred,
		ContentType:  "application/json",
		MessageId:    ev.ID,
		Type:         ev.Type,
		Body:         body,
		Priority:     Priority(ev, maxPriority),
	}, nil
}

// Publish sends ev to the order exchange.
func (r *RabbitMQ) Publish(ctx context.Context, ev models.OrderEvent) error {
	msg, err := NewPublishing(ev, r.Cfg.MaxPriority)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.Channel.PublishWithContext(
		ctx,
		r.Cfg.OrderExchange,
		"",
		false, // mandatory
		false, // immediate
		msg,
	); err != nil {
		return errors.Wrapf(err, "publish %s event for order %s", ev.Type, ev.OrderID)
	}
	return nil
}

// ConsumerChannel opens a dedicated channel for consumers so deliveries do
// not share flow control with publishing.
func (r *RabbitMQ) ConsumerChannel(prefetch int) (*amqp.Channel, error) {
	ch, err := r.Conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open consumer channel")
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, errors.Wrap(err, "set prefetch")
	}
	return ch, nil
}

func (r *RabbitMQ) Close() {
	if r.Channel != nil {
		if err := r.Channel.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close RabbitMQ channel")
		}
	}
	if r.Conn != nil {
		if err := r.Conn.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}
}
