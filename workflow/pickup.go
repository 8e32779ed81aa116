package workflow

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"freightflow/auth"
	"freightflow/events"
	"freightflow/pickup"
	"freightflow/quote"
	"freightflow/store"
)

// GenerateDailyCode issues the carrier's code for today, replacing any
// earlier one. Accepted quotes of the carrier move to awaiting_pickup.
func (s *Service) GenerateDailyCode(ctx context.Context, actor Actor) (pickup.DailyCode, error) {
	if err := requireRole(actor, auth.RoleCarrier); err != nil {
		return pickup.DailyCode{}, err
	}
	now := s.now()
	code, err := pickup.Generate(actor.ID, now, s.loc, s.codeSource)
	if err != nil {
		return pickup.DailyCode{}, err
	}

	moved := 0
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.SaveDailyCode(ctx, code); err != nil {
			return err
		}
		accepted, err := tx.LockCarrierQuotes(ctx, actor.ID, quote.StatusAccepted)
		if err != nil {
			return err
		}
		for _, q := range accepted {
			previous := q.Status
			if err := q.AwaitPickup(now); err != nil {
				return err
			}
			if err := saveQuote(ctx, tx, q, previous); err != nil {
				return err
			}
			if err := tx.Enqueue(ctx, statusEvent(events.TopicAwaitingPickup, q, previous, nil)); err != nil {
				return err
			}
			moved++
		}
		return tx.Enqueue(ctx, events.New(events.TopicDailyCodeGenerated, actor.ID, map[string]any{
			"carrier_id":   actor.ID,
			"generated_on": code.GeneratedOn,
		}))
	})
	if err != nil {
		return pickup.DailyCode{}, err
	}
	s.logFor("daily_code_generated", actor).WithFields(logrus.Fields{
		"generated_on": code.GeneratedOn,
		"quotes_moved": moved,
	}).Info("daily code generated")
	return code, nil
}

// CurrentDailyCode returns today's code of the carrier, or
// pickup.ErrCodeNotGeneratedToday.
func (s *Service) CurrentDailyCode(ctx context.Context, actor Actor) (pickup.DailyCode, error) {
	if err := requireRole(actor, auth.RoleCarrier); err != nil {
		return pickup.DailyCode{}, err
	}
	var code pickup.DailyCode
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		code, err = tx.GetDailyCode(ctx, actor.ID)
		if errors.Is(err, store.ErrNotFound) {
			return pickup.ErrCodeNotGeneratedToday
		}
		return err
	})
	if err != nil {
		return pickup.DailyCode{}, err
	}
	if !code.ValidToday(s.now(), s.loc) {
		return pickup.DailyCode{}, pickup.ErrCodeNotGeneratedToday
	}
	return code, nil
}

// ConfirmPickup is the client checking the code shown by the driver. On a
// match the quote goes in_transit with the estimated delivery derived from
// the winning bid's lead time. A failed check writes nothing.
func (s *Service) ConfirmPickup(ctx context.Context, actor Actor, quoteID, typed string) (quote.Quote, error) {
	if err := requireRole(actor, auth.RoleClient); err != nil {
		return quote.Quote{}, err
	}
	now := s.now()
	var out quote.Quote
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		q, err := lockQuote(ctx, tx, quoteID)
		if err != nil {
			return err
		}
		if err := requireClientOwner(actor, q); err != nil {
			return err
		}
		if err := q.CanConfirmPickup(); err != nil {
			return err
		}
		if pickup.Normalize(typed) == "" {
			return validationErr("pickup code required")
		}
		code, err := tx.GetDailyCode(ctx, q.CarrierID())
		if errors.Is(err, store.ErrNotFound) {
			return pickup.ErrCodeNotGeneratedToday
		}
		if err != nil {
			return err
		}
		if err := code.Verify(typed, now, s.loc); err != nil {
			return err
		}
		previous := q.Status
		eta := pickup.EstimatedDelivery(now, q.Selection.LeadTimeDays, s.loc)
		if err := q.ConfirmPickup(now, eta); err != nil {
			return err
		}
		if err := saveQuote(ctx, tx, q, previous); err != nil {
			return err
		}
		out = q
		return tx.Enqueue(ctx, statusEvent(events.TopicPickupConfirmed, q, previous, map[string]any{
			"picked_up_at":       now,
			"estimated_delivery": eta,
		}))
	})
	if err != nil {
		s.logFor("pickup_confirm", actor).WithField("quote_id", quoteID).WithError(err).Warn("pickup confirmation refused")
		return quote.Quote{}, err
	}
	s.logFor("pickup_confirm", actor).WithField("quote_id", quoteID).Info("pickup confirmed")
	return out, nil
}
