package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/noah-isme/atb-stewardship-api/pkg/config"
)

// Publisher fans events out to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload interface{}) error
	Close() error
}

// AMQPPublisher publishes JSON events to a durable topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	timeout  time.Duration
	logger   *zap.Logger
	mu       sync.Mutex
}

// Dial connects to RabbitMQ and declares the exchange.
func Dial(cfg config.BrokerConfig, logger *zap.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Exchange == "" {
		return nil, fmt.Errorf("broker exchange required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		cfg.Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger.Info("broker connected", zap.String("exchange", cfg.Exchange))
	return &AMQPPublisher{conn: conn, ch: ch, exchange: cfg.Exchange, timeout: timeout, logger: logger}, nil
}

// Publish implements Publisher.
func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, payload interface{}) error {
	msg, err := encode(payload, time.Now().UTC())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil {
		p.logger.Warn("close broker channel", zap.Error(err))
	}
	return p.conn.Close()
}

func encode(payload interface{}, at time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    at,
		Body:         body,
	}, nil
}

// Noop drops every event. Used when the broker is disabled.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, string, interface{}) error { return nil }

// Close implements Publisher.
func (Noop) Close() error { return nil }
