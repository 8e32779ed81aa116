package postgres

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"freightflow/events"
)

func (t *txStore) Enqueue(ctx context.Context, e events.Event) error {
	body, err := e.Body()
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO outbox (topic, aggregate_id, payload)
		VALUES ($1, $2, $3)
	`, string(e.Topic), e.AggregateID, body)
	return translate(err, "enqueue outbox")
}

// Drain claims pending records with SKIP LOCKED so several relays can run
// side by side. Each record ends processed, or pending with one more attempt,
// or dead once events.MaxAttempts is reached.
func (s *Store) Drain(ctx context.Context, limit int, publish func(context.Context, events.Record) error) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin drain: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, topic, aggregate_id, payload::text, attempts, created_at
		FROM outbox
		WHERE status = 'pending'
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return 0, fmt.Errorf("postgres: claim outbox: %w", err)
	}
	var batch []events.Record
	for rows.Next() {
		var (
			rec   events.Record
			topic string
			body  string
		)
		if err := rows.Scan(&rec.ID, &topic, &rec.AggregateID, &body, &rec.Attempts, &rec.CreatedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("postgres: scan outbox: %w", err)
		}
		rec.Topic = events.Topic(topic)
		rec.Body = []byte(body)
		batch = append(batch, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("postgres: iterate outbox: %w", err)
	}

	sent := 0
	for _, rec := range batch {
		if perr := publish(ctx, rec); perr != nil {
			status := "pending"
			if rec.Attempts+1 >= events.MaxAttempts {
				status = "dead"
				s.log.WithFields(logrus.Fields{"action": "outbox_dead", "outbox": rec.ID, "topic": rec.Topic}).WithError(perr).Error("outbox record dead-lettered")
			}
			if _, err := tx.Exec(ctx, `
				UPDATE outbox SET attempts = attempts + 1, status = $2, last_error = $3 WHERE id = $1
			`, rec.ID, status, perr.Error()); err != nil {
				return 0, fmt.Errorf("postgres: record outbox failure: %w", err)
			}
			continue
		}
		if _, err := tx.Exec(ctx, `
			UPDATE outbox SET status = 'processed', processed_at = now() WHERE id = $1
		`, rec.ID); err != nil {
			return 0, fmt.Errorf("postgres: mark outbox processed: %w", err)
		}
		sent++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit drain: %w", err)
	}
	return sent, nil
}
