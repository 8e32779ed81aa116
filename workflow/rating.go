package workflow

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"freightflow/auth"
	"freightflow/events"
	"freightflow/quote"
	"freightflow/rating"
	"freightflow/store"
)

// Evaluate rates the carrier of a finalized quote, once. It is what lifts
// the evaluation gate.
func (s *Service) Evaluate(ctx context.Context, actor Actor, quoteID string, stars int, comment string) (rating.Evaluation, error) {
	if err := requireRole(actor, auth.RoleClient); err != nil {
		return rating.Evaluation{}, err
	}
	now := s.now()
	var out rating.Evaluation
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		q, err := lockQuote(ctx, tx, quoteID)
		if err != nil {
			return err
		}
		if err := requireClientOwner(actor, q); err != nil {
			return err
		}
		ev := rating.Evaluation{
			ID:        s.newID(),
			QuoteID:   q.ID,
			ClientID:  q.ClientID,
			CarrierID: q.CarrierID(),
			Stars:     stars,
			Comment:   strings.TrimSpace(comment),
			CreatedAt: now,
		}
		if err := ev.Validate(); err != nil {
			return err
		}
		previous := q.Status
		if err := q.MarkEvaluated(now); err != nil {
			return err
		}
		if err := tx.InsertEvaluation(ctx, ev); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return quote.ErrAlreadyEvaluated
			}
			return err
		}
		profile, err := tx.LockCarrier(ctx, ev.CarrierID)
		if err != nil {
			return err
		}
		profile.RecordEvaluation(stars, now)
		if err := tx.SaveCarrier(ctx, profile); err != nil {
			return err
		}
		if err := saveQuote(ctx, tx, q, previous); err != nil {
			return err
		}
		out = ev
		return tx.Enqueue(ctx, statusEvent(events.TopicQuoteEvaluated, q, previous, map[string]any{
			"stars":          stars,
			"rating_average": profile.Rating.Average,
			"rating_count":   profile.Rating.Count,
		}))
	})
	if err != nil {
		return rating.Evaluation{}, err
	}
	s.logFor("quote_evaluated", actor).WithFields(logrus.Fields{"quote_id": quoteID, "stars": stars}).Info("carrier evaluated")
	return out, nil
}

// PendingEvaluations lists the client's finalized quotes still awaiting a
// rating, oldest first.
func (s *Service) PendingEvaluations(ctx context.Context, actor Actor) ([]rating.Pending, error) {
	if err := requireRole(actor, auth.RoleClient); err != nil {
		return nil, err
	}
	var out []rating.Pending
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListPendingEvaluations(ctx, actor.ID)
		return err
	})
	if out == nil {
		out = []rating.Pending{}
	}
	return out, err
}

// GateBlocked reports whether the client is currently barred from creating
// quotes.
func (s *Service) GateBlocked(ctx context.Context, actor Actor) (bool, error) {
	pending, err := s.PendingEvaluations(ctx, actor)
	if err != nil {
		return false, err
	}
	return rating.CheckGate(pending, s.now()) != nil, nil
}
