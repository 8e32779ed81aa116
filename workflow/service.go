package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"freightflow/auth"
	"freightflow/events"
	"freightflow/quote"
	"freightflow/settlement"
	"freightflow/store"
)

var (
	// ErrForbidden signals the actor is not a party allowed to perform the operation.
	ErrForbidden = errors.New("workflow: forbidden")
	// ErrNotFound signals a missing quote, response, chat or code.
	ErrNotFound = errors.New("workflow: not found")
	// ErrValidation signals malformed input.
	ErrValidation = errors.New("workflow: validation failed")
	// ErrDuplicateResponse signals a carrier bidding twice on the same quote.
	ErrDuplicateResponse = errors.New("workflow: carrier already responded to this quote")
)

// Actor is the authenticated principal of a request.
type Actor struct {
	ID   string
	Role auth.Role
}

// Service owns every quote lifecycle transition. Each operation runs in one
// store transaction: the quote row is locked, the transition is validated on
// a copy, and state, chat messages and outbox events commit together.
type Service struct {
	store      store.Store
	log        logrus.FieldLogger
	now        func() time.Time
	newID      func() string
	loc        *time.Location
	codeSource io.Reader
	cutoffHour int
}

// DefaultZone is the business time zone used until WithLocation overrides it.
const DefaultZone = "America/Sao_Paulo"

func NewService(st store.Store, log logrus.FieldLogger) *Service {
	return &Service{
		store:      st,
		log:        log,
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
		loc:        defaultLocation(time.LoadLocation, log),
		cutoffHour: settlement.DefaultCutoffHour,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.newID = gen
	return s
}

// WithLocation sets the zone that defines "today", delivery cut-offs and
// ledger months.
func (s *Service) WithLocation(loc *time.Location) *Service {
	if loc != nil {
		s.loc = loc
	}
	return s
}

// WithCodeSource overrides the randomness used for daily codes.
func (s *Service) WithCodeSource(r io.Reader) *Service {
	s.codeSource = r
	return s
}

func (s *Service) WithSettlementCutoff(hour int) *Service {
	if hour >= 0 && hour < 24 {
		s.cutoffHour = hour
	}
	return s
}

func (s *Service) Location() *time.Location { return s.loc }

// defaultLocation loads DefaultZone, warning and falling back to UTC when the
// zone database is unavailable.
func defaultLocation(load func(string) (*time.Location, error), log logrus.FieldLogger) *time.Location {
	loc, err := load(DefaultZone)
	if err != nil {
		log.WithFields(logrus.Fields{"action": "load_location", "zone": DefaultZone}).WithError(err).
			Warn("time zone unavailable, business dates fall back to UTC")
		return time.UTC
	}
	return loc
}

// Now is the service clock.
func (s *Service) Now() time.Time { return s.now() }

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// mapNotFound lifts store.ErrNotFound into the workflow taxonomy.
func mapNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func requireRole(actor Actor, roles ...auth.Role) error {
	if actor.ID == "" {
		return fmt.Errorf("%w: anonymous actor", ErrForbidden)
	}
	for _, r := range roles {
		if actor.Role == r {
			return nil
		}
	}
	return fmt.Errorf("%w: role %s", ErrForbidden, actor.Role)
}

func requireClientOwner(actor Actor, q quote.Quote) error {
	if actor.Role != auth.RoleClient || actor.ID != q.ClientID {
		return fmt.Errorf("%w: quote %s belongs to another client", ErrForbidden, q.ID)
	}
	return nil
}

func requireWinningCarrier(actor Actor, q quote.Quote) error {
	if actor.Role != auth.RoleCarrier || q.CarrierID() == "" || actor.ID != q.CarrierID() {
		return fmt.Errorf("%w: quote %s is not assigned to this carrier", ErrForbidden, q.ID)
	}
	return nil
}

// canView reports read access: admins, the owning client, the winning
// carrier, and any carrier while bidding is open.
func canView(actor Actor, q quote.Quote) bool {
	switch actor.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleClient:
		return actor.ID == q.ClientID
	case auth.RoleCarrier:
		return q.Status.Bidding() || actor.ID == q.CarrierID()
	default:
		return false
	}
}

func lockQuote(ctx context.Context, tx store.Tx, id string) (quote.Quote, error) {
	q, err := tx.LockQuote(ctx, id)
	if err != nil {
		return quote.Quote{}, mapNotFound(err)
	}
	return q, nil
}

// saveQuote persists q with a compare-and-swap on the status it was locked
// in. A lost swap means another transition won the race.
func saveQuote(ctx context.Context, tx store.Tx, q quote.Quote, expected quote.Status) error {
	if err := tx.UpdateQuote(ctx, q, expected); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: %v", quote.ErrInvalidStateTransition, err)
		}
		return err
	}
	return nil
}

func statusEvent(topic events.Topic, q quote.Quote, previous quote.Status, extra map[string]any) events.Event {
	payload := map[string]any{
		"quote_id":        q.ID,
		"client_id":       q.ClientID,
		"previous_status": previous,
		"status":          q.Status,
	}
	if id := q.CarrierID(); id != "" {
		payload["carrier_id"] = id
	}
	for k, v := range extra {
		payload[k] = v
	}
	return events.New(topic, q.ID, payload)
}

func (s *Service) logFor(action string, actor Actor) logrus.FieldLogger {
	return s.log.WithFields(logrus.Fields{
		"action":   action,
		"actor_id": actor.ID,
		"role":     actor.Role,
	})
}
