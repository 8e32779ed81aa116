package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// RabbitPublisher publishes outbox records to a durable topic exchange.
type RabbitPublisher struct {
	url      string
	exchange string
	log      logrus.FieldLogger

	mu     sync.RWMutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

// DialRabbit connects with exponential backoff and declares the exchange.
func DialRabbit(ctx context.Context, url, exchange string, log logrus.FieldLogger) (*RabbitPublisher, error) {
	p := &RabbitPublisher{url: url, exchange: exchange, log: log}

	const maxRetries = 10
	delay := time.Second
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := p.connect()
		if err == nil {
			log.WithFields(logrus.Fields{"action": "rabbitmq_connected", "attempt": attempt, "exchange": exchange}).Info("connected to broker")
			return p, nil
		}
		log.WithFields(logrus.Fields{
			"action":       "rabbitmq_connection_attempt_failed",
			"attempt":      attempt,
			"max_retries":  maxRetries,
			"retry_in_sec": delay.Seconds(),
		}).WithError(err).Warn("broker unavailable")
		if attempt == maxRetries {
			return nil, fmt.Errorf("events: connect to rabbitmq after %d attempts: %w", maxRetries, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * 1.5)
			if delay > 30*time.Second {
				delay = 30 * time.Second
			}
		}
	}
	return nil, fmt.Errorf("events: retry loop completed without success")
}

func (p *RabbitPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}

	p.mu.Lock()
	p.conn = conn
	p.ch = ch
	p.mu.Unlock()
	return nil
}

// Publish sends body as a persistent JSON message. A closed channel is
// reopened once before giving up; the outbox retries later attempts.
func (p *RabbitPublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	p.mu.RLock()
	ch := p.ch
	p.mu.RUnlock()

	if ch == nil || ch.IsClosed() {
		if err := p.connect(); err != nil {
			return fmt.Errorf("events: reconnect: %w", err)
		}
		p.mu.RLock()
		ch = p.ch
		p.mu.RUnlock()
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return ch.PublishWithContext(
		publishCtx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

func (p *RabbitPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.log.WithField("action", "rabbitmq_closed").Info("connection closed")
}
