package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"freightflow/auth"
	"freightflow/carrier"
	"freightflow/events"
	"freightflow/quote"
	"freightflow/rating"
	"freightflow/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type CreateQuoteParams struct {
	Cargo quote.Cargo
	Route quote.Route
}

// CreateQuote opens a quote for bidding. Clients with an evaluation overdue
// past the grace window are refused with rating.ErrEvaluationGateBlocked.
func (s *Service) CreateQuote(ctx context.Context, actor Actor, p CreateQuoteParams) (quote.Quote, error) {
	if err := requireRole(actor, auth.RoleClient); err != nil {
		return quote.Quote{}, err
	}
	now := s.now()
	q := quote.Quote{
		ID:          s.newID(),
		ClientID:    actor.ID,
		Status:      quote.StatusOpen,
		Cargo:       p.Cargo,
		Route:       p.Route,
		AgreedValue: decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := q.Validate(); err != nil {
		return quote.Quote{}, err
	}

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		pending, err := tx.ListPendingEvaluations(ctx, actor.ID)
		if err != nil {
			return err
		}
		if err := rating.CheckGate(pending, now); err != nil {
			return err
		}
		if err := tx.CreateQuote(ctx, q); err != nil {
			return fmt.Errorf("workflow: create quote: %w", err)
		}
		return tx.Enqueue(ctx, events.New(events.TopicQuoteCreated, q.ID, map[string]any{
			"quote_id":         q.ID,
			"client_id":        q.ClientID,
			"bidding_deadline": q.Route.BiddingDeadline,
			"pickup_city":      q.Route.Pickup.City,
			"destination_city": q.Route.Destination.City,
		}))
	})
	if err != nil {
		return quote.Quote{}, err
	}
	s.logFor("quote_created", actor).WithField("quote_id", q.ID).Info("quote created")
	return q, nil
}

func (s *Service) GetQuote(ctx context.Context, actor Actor, id string) (quote.Quote, error) {
	var q quote.Quote
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		q, err = tx.GetQuote(ctx, id)
		return mapNotFound(err)
	})
	if err != nil {
		return quote.Quote{}, err
	}
	if !canView(actor, q) {
		return quote.Quote{}, fmt.Errorf("%w: quote %s", ErrForbidden, id)
	}
	return q, nil
}

type ListQuotesParams struct {
	Statuses  []quote.Status
	ClientID  string
	CarrierID string
	Limit     int
	Offset    int
}

// ListQuotes scopes the filter to what the actor may see: clients only their
// own quotes, carriers their won quotes or the open bidding board.
func (s *Service) ListQuotes(ctx context.Context, actor Actor, p ListQuotesParams) ([]quote.Quote, error) {
	f := store.QuoteFilter{
		Statuses:  p.Statuses,
		ClientID:  p.ClientID,
		CarrierID: p.CarrierID,
		Limit:     p.Limit,
		Offset:    p.Offset,
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	switch actor.Role {
	case auth.RoleAdmin:
	case auth.RoleClient:
		if f.ClientID != "" && f.ClientID != actor.ID {
			return nil, fmt.Errorf("%w: cannot list another client's quotes", ErrForbidden)
		}
		f.ClientID = actor.ID
	case auth.RoleCarrier:
		switch {
		case f.CarrierID == actor.ID:
		case f.CarrierID != "":
			return nil, fmt.Errorf("%w: cannot list another carrier's quotes", ErrForbidden)
		default:
			f.Statuses = biddingOnly(f.Statuses)
			if len(f.Statuses) == 0 {
				return []quote.Quote{}, nil
			}
		}
	default:
		return nil, fmt.Errorf("%w: role %s", ErrForbidden, actor.Role)
	}

	var out []quote.Quote
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListQuotes(ctx, f)
		return err
	})
	if out == nil {
		out = []quote.Quote{}
	}
	return out, err
}

func biddingOnly(requested []quote.Status) []quote.Status {
	if len(requested) == 0 {
		return []quote.Status{quote.StatusOpen, quote.StatusResponded}
	}
	var out []quote.Status
	for _, st := range requested {
		if st.Bidding() {
			out = append(out, st)
		}
	}
	return out
}

type ResponseParams struct {
	TotalValue     decimal.Decimal
	LeadTimeDays   int
	InsuranceValue decimal.Decimal
}

// SubmitResponse records a carrier bid. The first bid moves an open quote to
// responded; bidding continues until acceptance or expiry.
func (s *Service) SubmitResponse(ctx context.Context, actor Actor, quoteID string, p ResponseParams) (quote.Response, error) {
	if err := requireRole(actor, auth.RoleCarrier); err != nil {
		return quote.Response{}, err
	}
	now := s.now()
	r := quote.Response{
		ID:             s.newID(),
		QuoteID:        quoteID,
		CarrierID:      actor.ID,
		TotalValue:     p.TotalValue.Round(2),
		LeadTimeDays:   p.LeadTimeDays,
		InsuranceValue: p.InsuranceValue.Round(2),
		CreatedAt:      now,
	}
	if err := r.Validate(); err != nil {
		return quote.Response{}, err
	}

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		q, err := lockQuote(ctx, tx, quoteID)
		if err != nil {
			return err
		}
		if err := q.AcceptsBids(now); err != nil {
			return err
		}
		profile, err := tx.GetCarrier(ctx, actor.ID)
		switch {
		case err == nil && profile.Blocked:
			return carrier.ErrBlocked
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return err
		}
		if err := tx.InsertResponse(ctx, r); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrDuplicateResponse
			}
			return fmt.Errorf("workflow: insert response: %w", err)
		}
		previous := q.Status
		if q.MarkResponded(now) {
			if err := saveQuote(ctx, tx, q, previous); err != nil {
				return err
			}
		}
		return tx.Enqueue(ctx, statusEvent(events.TopicResponseSubmitted, q, previous, map[string]any{
			"response_id":    r.ID,
			"carrier_id":     r.CarrierID,
			"total_value":    r.TotalValue.StringFixed(2),
			"lead_time_days": r.LeadTimeDays,
		}))
	})
	if err != nil {
		return quote.Response{}, err
	}
	s.logFor("response_submitted", actor).WithFields(logrus.Fields{"quote_id": quoteID, "response_id": r.ID}).Info("response submitted")
	return r, nil
}

// ListResponses shows every bid to the owning client; a carrier only sees
// its own.
func (s *Service) ListResponses(ctx context.Context, actor Actor, quoteID string) ([]quote.Response, error) {
	var out []quote.Response
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		q, err := tx.GetQuote(ctx, quoteID)
		if err != nil {
			return mapNotFound(err)
		}
		all, err := tx.ListResponses(ctx, quoteID)
		if err != nil {
			return err
		}
		switch {
		case actor.Role == auth.RoleAdmin, actor.Role == auth.RoleClient && actor.ID == q.ClientID:
			out = all
		case actor.Role == auth.RoleCarrier:
			for _, r := range all {
				if r.CarrierID == actor.ID {
					out = append(out, r)
				}
			}
		default:
			return fmt.Errorf("%w: quote %s", ErrForbidden, quoteID)
		}
		return nil
	})
	if out == nil {
		out = []quote.Response{}
	}
	return out, err
}

// AcceptResponse selects the winning bid. Under concurrent calls exactly one
// succeeds; the others observe quote.ErrAlreadyAccepted.
func (s *Service) AcceptResponse(ctx context.Context, actor Actor, quoteID, responseID string) (quote.Quote, error) {
	if err := requireRole(actor, auth.RoleClient); err != nil {
		return quote.Quote{}, err
	}
	if responseID == "" {
		return quote.Quote{}, validationErr("response id required")
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
		r, err := tx.GetResponse(ctx, responseID)
		if err != nil {
			return mapNotFound(err)
		}
		if r.QuoteID != q.ID {
			return fmt.Errorf("%w: response %s for quote %s", ErrNotFound, responseID, quoteID)
		}
		previous := q.Status
		if err := q.Accept(r, now); err != nil {
			return err
		}
		if err := tx.SelectResponse(ctx, r.ID); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return quote.ErrAlreadyAccepted
			}
			return err
		}
		if err := tx.UpdateQuote(ctx, q, previous); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return quote.ErrAlreadyAccepted
			}
			return err
		}
		out = q
		return tx.Enqueue(ctx, statusEvent(events.TopicQuoteAccepted, q, previous, map[string]any{
			"response_id":  r.ID,
			"agreed_value": q.AgreedValue.StringFixed(2),
		}))
	})
	if err != nil {
		return quote.Quote{}, err
	}
	s.logFor("quote_accepted", actor).WithFields(logrus.Fields{"quote_id": quoteID, "response_id": responseID}).Info("response accepted")
	return out, nil
}
