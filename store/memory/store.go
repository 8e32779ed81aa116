// Package memory is a process-local store.Store. Transactions run one at a
// time under a single mutex against a copy of the state, which replaces the
// live state only when the callback succeeds.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"freightflow/carrier"
	"freightflow/events"
	"freightflow/negotiation"
	"freightflow/pickup"
	"freightflow/quote"
	"freightflow/rating"
	"freightflow/settlement"
	"freightflow/store"
)

type outboxRecord struct {
	events.Record
	dead bool
}

type state struct {
	quotes      map[string]quote.Quote
	responses   map[string]quote.Response
	codes       map[string]pickup.DailyCode
	chats       map[string]negotiation.Chat
	messages    map[string][]negotiation.Message
	ledgers     map[string]settlement.LedgerEntry
	evaluations map[string]rating.Evaluation
	carriers    map[string]carrier.Profile
	outbox      []outboxRecord
	nextOutbox  int64
}

func newState() *state {
	return &state{
		quotes:      map[string]quote.Quote{},
		responses:   map[string]quote.Response{},
		codes:       map[string]pickup.DailyCode{},
		chats:       map[string]negotiation.Chat{},
		messages:    map[string][]negotiation.Message{},
		ledgers:     map[string]settlement.LedgerEntry{},
		evaluations: map[string]rating.Evaluation{},
		carriers:    map[string]carrier.Profile{},
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.quotes {
		out.quotes[k] = v.Clone()
	}
	for k, v := range s.responses {
		out.responses[k] = v
	}
	for k, v := range s.codes {
		out.codes[k] = v
	}
	for k, v := range s.chats {
		out.chats[k] = v.Clone()
	}
	for k, v := range s.messages {
		out.messages[k] = append([]negotiation.Message(nil), v...)
	}
	for k, v := range s.ledgers {
		v.Items = append([]settlement.LineItem(nil), v.Items...)
		out.ledgers[k] = v
	}
	for k, v := range s.evaluations {
		out.evaluations[k] = v
	}
	for k, v := range s.carriers {
		out.carriers[k] = v
	}
	out.outbox = append([]outboxRecord(nil), s.outbox...)
	out.nextOutbox = s.nextOutbox
	return out
}

// Store is safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time

	users *Users
}

func New() *Store {
	return &Store{state: newState(), now: time.Now, users: NewUsers()}
}

// WithClock overrides the timestamp source for created rows.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Users returns the auth repository sharing this store's carrier names.
func (s *Store) Users() *Users {
	return s.users
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&tx{st: work, now: s.now, users: s.users}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// PendingEvents lists outbox records not yet published.
func (s *Store) PendingEvents() []events.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Record
	for _, r := range s.state.outbox {
		if !r.dead {
			out = append(out, r.Record)
		}
	}
	return out
}

// Drain implements events.Outbox. Publishing happens outside the store lock.
func (s *Store) Drain(ctx context.Context, limit int, publish func(context.Context, events.Record) error) (int, error) {
	s.mu.Lock()
	var batch []events.Record
	for _, r := range s.state.outbox {
		if r.dead {
			continue
		}
		if len(batch) == limit {
			break
		}
		batch = append(batch, r.Record)
	}
	s.mu.Unlock()

	sent := map[int64]bool{}
	failed := map[int64]bool{}
	for _, rec := range batch {
		if err := publish(ctx, rec); err != nil {
			failed[rec.ID] = true
			continue
		}
		sent[rec.ID] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.state.outbox[:0:0]
	for _, r := range s.state.outbox {
		if sent[r.ID] {
			continue
		}
		if failed[r.ID] {
			r.Attempts++
			r.dead = r.Attempts >= events.MaxAttempts
		}
		kept = append(kept, r)
	}
	s.state.outbox = kept
	return len(sent), nil
}

// CarrierProfiles adapts the store to carrier.ProfileReader.
func (s *Store) CarrierProfiles() carrier.ProfileReader {
	return profileReader{s}
}

type profileReader struct{ s *Store }

func (r profileReader) GetByID(ctx context.Context, id string) (carrier.Profile, error) {
	var p carrier.Profile
	err := r.s.InTx(ctx, func(tx store.Tx) error {
		var err error
		p, err = tx.GetCarrier(ctx, id)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return carrier.Profile{}, carrier.ErrNotFound
	}
	return p, err
}

func (r profileReader) List(ctx context.Context, limit int) ([]carrier.Profile, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	r.s.mu.Lock()
	out := make([]carrier.Profile, 0, len(r.s.state.carriers))
	for _, p := range r.s.state.carriers {
		p.Name = r.s.users.name(p.ID)
		out = append(out, p)
	}
	r.s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating.Average != out[j].Rating.Average {
			return out[i].Rating.Average > out[j].Rating.Average
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newID() string { return uuid.NewString() }
