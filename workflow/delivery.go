package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"freightflow/auth"
	"freightflow/events"
	"freightflow/negotiation"
	"freightflow/quote"
	"freightflow/settlement"
	"freightflow/store"
)

// carrierUpdate applies fn to a quote owned by the winning carrier under the
// quote lock.
func (s *Service) carrierUpdate(ctx context.Context, actor Actor, quoteID, action string, fn func(q *quote.Quote, now time.Time) (*events.Event, error)) (quote.Quote, error) {
	if err := requireRole(actor, auth.RoleCarrier); err != nil {
		return quote.Quote{}, err
	}
	now := s.now()
	var out quote.Quote
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		q, err := lockQuote(ctx, tx, quoteID)
		if err != nil {
			return err
		}
		if err := requireWinningCarrier(actor, q); err != nil {
			return err
		}
		previous := q.Status
		ev, err := fn(&q, now)
		if err != nil {
			return err
		}
		if err := saveQuote(ctx, tx, q, previous); err != nil {
			return err
		}
		out = q
		if ev == nil {
			return nil
		}
		return tx.Enqueue(ctx, *ev)
	})
	if err != nil {
		return quote.Quote{}, err
	}
	s.logFor(action, actor).WithField("quote_id", quoteID).Info("quote updated")
	return out, nil
}

func (s *Service) AttachDeliveryDocument(ctx context.Context, actor Actor, quoteID, ref string) (quote.Quote, error) {
	return s.carrierUpdate(ctx, actor, quoteID, "delivery_document_attached", func(q *quote.Quote, now time.Time) (*events.Event, error) {
		return nil, q.AttachDeliveryDocument(ref, now)
	})
}

func (s *Service) SetTracking(ctx context.Context, actor Actor, quoteID, url, code string) (quote.Quote, error) {
	return s.carrierUpdate(ctx, actor, quoteID, "tracking_set", func(q *quote.Quote, now time.Time) (*events.Event, error) {
		return nil, q.SetTracking(url, code, now)
	})
}

// ReportDelay records a revised delivery date. Missing that date as well
// blocks the carrier at finalization.
func (s *Service) ReportDelay(ctx context.Context, actor Actor, quoteID, reason string, revised time.Time) (quote.Quote, error) {
	return s.carrierUpdate(ctx, actor, quoteID, "delay_reported", func(q *quote.Quote, now time.Time) (*events.Event, error) {
		previous := q.Status
		if err := q.ReportDelay(reason, revised, now); err != nil {
			return nil, err
		}
		ev := statusEvent(events.TopicDelayReported, *q, previous, map[string]any{
			"reason":           reason,
			"revised_delivery": revised,
		})
		return &ev, nil
	})
}

// ReturnQuote sends the cargo back on the winning carrier's request. A quote
// stuck in a value dispute has its open cycle closed as a withdrawal.
func (s *Service) ReturnQuote(ctx context.Context, actor Actor, quoteID, reason string) (quote.Quote, error) {
	if err := requireRole(actor, auth.RoleCarrier); err != nil {
		return quote.Quote{}, err
	}
	now := s.now()
	var out quote.Quote
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		q, err := lockQuote(ctx, tx, quoteID)
		if err != nil {
			return err
		}
		if err := requireWinningCarrier(actor, q); err != nil {
			return err
		}
		previous := q.Status
		if err := q.Return(reason, now); err != nil {
			return err
		}
		if previous == quote.StatusAwaitingCTeApproval {
			if err := s.closeDispute(ctx, tx, q, actor.ID, reason, now); err != nil {
				return err
			}
		}
		if err := saveQuote(ctx, tx, q, previous); err != nil {
			return err
		}
		out = q
		return tx.Enqueue(ctx, statusEvent(events.TopicQuoteReturned, q, previous, map[string]any{
			"reason": q.ReturnReason,
		}))
	})
	if err != nil {
		return quote.Quote{}, err
	}
	s.logFor("quote_returned", actor).WithField("quote_id", quoteID).Info("cargo returned")
	return out, nil
}

func (s *Service) closeDispute(ctx context.Context, tx store.Tx, q quote.Quote, carrierID, reason string, now time.Time) error {
	c, err := tx.LockQuoteChat(ctx, q.ID, negotiation.KindValueRenegotiation)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	p, err := c.Withdraw(reason)
	if errors.Is(err, negotiation.ErrDecisionNotPending) {
		return nil
	}
	if err != nil {
		return err
	}
	c.UpdatedAt = now
	if err := tx.UpdateChat(ctx, c); err != nil {
		return err
	}
	_, err = s.appendPayload(ctx, tx, c, negotiation.SenderCarrier, carrierID, p, now)
	return err
}

// FinalizeResult carries the settlement booked by a finalization.
type FinalizeResult struct {
	Quote  quote.Quote
	Split  settlement.Split
	Ledger settlement.LedgerEntry
}

const maxLedgerRollover = 12

// openLedger locks the carrier's entry for period. A released entry takes no
// more items, so the booking rolls into the next unreleased month.
func (s *Service) openLedger(ctx context.Context, tx store.Tx, carrierID string, period settlement.Period) (settlement.LedgerEntry, error) {
	for i := 0; i < maxLedgerRollover; i++ {
		entry, err := tx.LockLedger(ctx, carrierID, period)
		if err != nil {
			return settlement.LedgerEntry{}, err
		}
		if !entry.Released {
			return entry, nil
		}
		period = period.Next()
	}
	return settlement.LedgerEntry{}, fmt.Errorf("workflow: no open ledger for carrier %s through %s: %w", carrierID, period, settlement.ErrLedgerReleased)
}

// Finalize closes a delivered quote. The agreed value is settled into the
// carrier's ledger for the current month, or the next open month when that one
// was already released. The lateness policy is applied to the carrier profile
// in the same transaction.
func (s *Service) Finalize(ctx context.Context, actor Actor, quoteID string) (FinalizeResult, error) {
	if err := requireRole(actor, auth.RoleCarrier); err != nil {
		return FinalizeResult{}, err
	}
	now := s.now()
	var out FinalizeResult
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		q, err := lockQuote(ctx, tx, quoteID)
		if err != nil {
			return err
		}
		if err := requireWinningCarrier(actor, q); err != nil {
			return err
		}
		previous := q.Status
		if err := q.Finalize(now); err != nil {
			return err
		}

		split := settlement.Compute(q.AgreedValue, q.Selection.InsuranceValue)
		entry, err := s.openLedger(ctx, tx, q.CarrierID(), settlement.PeriodOf(now, s.loc))
		if err != nil {
			return err
		}
		if err := entry.Add(settlement.LineItem{QuoteID: q.ID, Split: split, FinalizedAt: now}); err != nil {
			return err
		}
		if err := tx.SaveLedger(ctx, entry); err != nil {
			return err
		}

		profile, err := tx.LockCarrier(ctx, q.CarrierID())
		if err != nil {
			return err
		}
		profile.RecordFinalization(now, s.loc, q.DeliveredLate(), q.MissedRevisedDelivery())
		if err := tx.SaveCarrier(ctx, profile); err != nil {
			return err
		}

		if err := saveQuote(ctx, tx, q, previous); err != nil {
			return err
		}
		out = FinalizeResult{Quote: q, Split: split, Ledger: entry}

		if err := tx.Enqueue(ctx, statusEvent(events.TopicQuoteFinalized, q, previous, map[string]any{
			"late":          q.DeliveredLate(),
			"agreed_value":  q.AgreedValue.StringFixed(2),
			"carrier_block": profile.Blocked,
		})); err != nil {
			return err
		}
		return tx.Enqueue(ctx, events.New(events.TopicSettlementRecorded, q.ID, map[string]any{
			"quote_id":    q.ID,
			"carrier_id":  q.CarrierID(),
			"period":      entry.Period.String(),
			"gross":       split.Gross.StringFixed(2),
			"commission":  split.Commission.StringFixed(2),
			"insurance":   split.Insurance.StringFixed(2),
			"carrier_net": split.CarrierNet.StringFixed(2),
		}))
	})
	if err != nil {
		return FinalizeResult{}, err
	}
	s.logFor("quote_finalized", actor).WithFields(logrus.Fields{
		"quote_id":   quoteID,
		"gross":      out.Split.Gross.StringFixed(2),
		"commission": out.Split.Commission.StringFixed(2),
		"period":     out.Ledger.Period.String(),
	}).Info("quote finalized")
	return out, nil
}
