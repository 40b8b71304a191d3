// Package mq mirrors engine events onto a RabbitMQ topic exchange.
package mq

import (
	"context"
	"fmt"
	"time"

	"reservas/internal/events"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	publishTimeout = 2 * time.Second
	queueSize      = 1024
)

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher forwards every bus event to exchange, routed by event type.
// Bus handlers only queue; Run does the broker round trips.
type Publisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	queue    chan events.Event
	logger   *zerolog.Logger
}

func NewPublisher(url, exchange string, logger *zerolog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	p := newPublisher(ch, exchange, logger)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string, logger *zerolog.Logger) *Publisher {
	l := logger.With().Str("component", "mq").Str("exchange", exchange).Logger()
	return &Publisher{ch: ch, exchange: exchange, queue: make(chan events.Event, queueSize), logger: &l}
}

// Subscribe registers the publisher for every event type on bus.
func (p *Publisher) Subscribe(bus *events.EventBus) {
	bus.SubscribeAll(p.enqueue)
}

func (p *Publisher) enqueue(e events.Event) error {
	select {
	case p.queue <- e:
		return nil
	default:
		return fmt.Errorf("publish queue full, dropping %s %s", e.Type, e.Key)
	}
}

// Run publishes queued events until ctx is done, then flushes whatever is
// still queued.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case e := <-p.queue:
			p.publishLogged(ctx, e)
		case <-ctx.Done():
			flush := context.WithoutCancel(ctx)
			for {
				select {
				case e := <-p.queue:
					p.publishLogged(flush, e)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) publishLogged(ctx context.Context, e events.Event) {
	if err := p.Publish(ctx, e); err != nil {
		p.logger.Error().Err(err).Str("event", e.Type).Str("key", e.Key).Msg("Event not published")
	}
}

// Publish sends e as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, e events.Event) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := p.ch.PublishWithContext(ctx, p.exchange, e.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.Key,
		Type:         e.Type,
		Timestamp:    e.CreatedAt,
		Body:         e.Payload,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	p.logger.Debug().Str("event", e.Type).Str("key", e.Key).Msg("Event published")
	return nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
