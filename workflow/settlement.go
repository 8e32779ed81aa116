package workflow

import (
	"context"
	"fmt"
	"time"

	"freightflow/auth"
	"freightflow/settlement"
	"freightflow/store"
)

// LedgerView is a ledger entry with its release schedule.
type LedgerView struct {
	Entry           settlement.LedgerEntry
	ReleaseAt       time.Time
	ReleaseEligible bool
}

// Ledger lists a carrier's monthly entries, newest first. Carriers read their
// own; admins read any.
func (s *Service) Ledger(ctx context.Context, actor Actor, carrierID string) ([]LedgerView, error) {
	if carrierID == "" {
		carrierID = actor.ID
	}
	switch {
	case actor.Role == auth.RoleAdmin:
	case actor.Role == auth.RoleCarrier && actor.ID == carrierID:
	default:
		return nil, fmt.Errorf("%w: ledger of %s", ErrForbidden, carrierID)
	}
	var entries []settlement.LedgerEntry
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		entries, err = tx.ListLedger(ctx, carrierID)
		return err
	})
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]LedgerView, 0, len(entries))
	for _, e := range entries {
		out = append(out, LedgerView{
			Entry:           e,
			ReleaseAt:       e.Period.ReleaseAt(s.loc, s.cutoffHour),
			ReleaseEligible: !e.Released && e.Period.ReleaseEligible(now, s.loc, s.cutoffHour),
		})
	}
	return out, nil
}
