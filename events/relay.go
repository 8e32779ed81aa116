package events

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// MaxAttempts is how many failed publishes an outbox record survives before
// it is marked dead.
const MaxAttempts = 5

// Publisher delivers a message to the broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Outbox hands out pending records. Drain claims up to limit records, calls
// publish for each and records the outcome in the same transaction.
type Outbox interface {
	Drain(ctx context.Context, limit int, publish func(context.Context, Record) error) (int, error)
}

// Relay moves outbox records to the broker on a fixed interval.
type Relay struct {
	outbox    Outbox
	publisher Publisher
	log       logrus.FieldLogger
	interval  time.Duration
	batch     int
}

func NewRelay(outbox Outbox, publisher Publisher, log logrus.FieldLogger, interval time.Duration) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		log:       log.WithField("component", "outbox_relay"),
		interval:  interval,
		batch:     50,
	}
}

// Run drains the outbox until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
				r.log.WithError(err).Warn("outbox drain failed")
			}
		}
	}
}

// Flush performs a single drain pass and returns how many records were
// published.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	n, err := r.outbox.Drain(ctx, r.batch, func(ctx context.Context, rec Record) error {
		if err := r.publisher.Publish(ctx, string(rec.Topic), rec.Body); err != nil {
			r.log.WithFields(logrus.Fields{
				"action":   "outbox_publish_failed",
				"topic":    rec.Topic,
				"outbox":   rec.ID,
				"attempts": rec.Attempts + 1,
			}).WithError(err).Warn("publish failed")
			return err
		}
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("events: drain outbox: %w", err)
	}
	if n > 0 {
		r.log.WithField("published", n).Debug("outbox drained")
	}
	return n, nil
}

// LogPublisher writes events to the log instead of a broker.
type LogPublisher struct {
	Log logrus.FieldLogger
}

func (p LogPublisher) Publish(_ context.Context, routingKey string, body []byte) error {
	p.Log.WithFields(logrus.Fields{
		"action":      "event_published",
		"routing_key": routingKey,
	}).Info(string(body))
	return nil
}
