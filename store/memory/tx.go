package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"freightflow/auth"
	"freightflow/carrier"
	"freightflow/events"
	"freightflow/negotiation"
	"freightflow/pickup"
	"freightflow/quote"
	"freightflow/rating"
	"freightflow/settlement"
	"freightflow/store"
)

type tx struct {
	st    *state
	now   func() time.Time
	users *Users
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", store.ErrNotFound, kind, id)
}

func (t *tx) CreateQuote(_ context.Context, q quote.Quote) error {
	if _, ok := t.st.quotes[q.ID]; ok {
		return fmt.Errorf("%w: quote %s exists", store.ErrConflict, q.ID)
	}
	t.st.quotes[q.ID] = q.Clone()
	return nil
}

func (t *tx) GetQuote(_ context.Context, id string) (quote.Quote, error) {
	q, ok := t.st.quotes[id]
	if !ok {
		return quote.Quote{}, notFound("quote", id)
	}
	return q.Clone(), nil
}

func (t *tx) LockQuote(ctx context.Context, id string) (quote.Quote, error) {
	return t.GetQuote(ctx, id)
}

func (t *tx) LockCarrierQuotes(_ context.Context, carrierID string, status quote.Status) ([]quote.Quote, error) {
	var out []quote.Quote
	for _, q := range t.st.quotes {
		if q.CarrierID() == carrierID && q.Status == status {
			out = append(out, q.Clone())
		}
	}
	sortQuotes(out)
	return out, nil
}

func (t *tx) UpdateQuote(_ context.Context, q quote.Quote, expected quote.Status) error {
	current, ok := t.st.quotes[q.ID]
	if !ok {
		return notFound("quote", q.ID)
	}
	if current.Status != expected {
		return fmt.Errorf("%w: quote %s is %s, expected %s", store.ErrConflict, q.ID, current.Status, expected)
	}
	t.st.quotes[q.ID] = q.Clone()
	return nil
}

func (t *tx) ListQuotes(_ context.Context, f store.QuoteFilter) ([]quote.Quote, error) {
	statuses := map[quote.Status]bool{}
	for _, s := range f.Statuses {
		statuses[s] = true
	}
	var out []quote.Quote
	for _, q := range t.st.quotes {
		if len(statuses) > 0 && !statuses[q.Status] {
			continue
		}
		if f.ClientID != "" && q.ClientID != f.ClientID {
			continue
		}
		if f.CarrierID != "" && q.CarrierID() != f.CarrierID {
			continue
		}
		out = append(out, q.Clone())
	}
	sortQuotes(out)
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// sortQuotes orders newest first, ties broken by id.
func sortQuotes(qs []quote.Quote) {
	sort.Slice(qs, func(i, j int) bool {
		if !qs[i].CreatedAt.Equal(qs[j].CreatedAt) {
			return qs[i].CreatedAt.After(qs[j].CreatedAt)
		}
		return qs[i].ID < qs[j].ID
	})
}

func (t *tx) ListPendingEvaluations(_ context.Context, clientID string) ([]rating.Pending, error) {
	var out []rating.Pending
	for _, q := range t.st.quotes {
		if q.ClientID != clientID || q.Status != quote.StatusFinalized || q.Evaluated || q.FinalizedAt == nil {
			continue
		}
		out = append(out, rating.Pending{QuoteID: q.ID, CarrierID: q.CarrierID(), FinalizedAt: *q.FinalizedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FinalizedAt.Before(out[j].FinalizedAt) })
	return out, nil
}

func (t *tx) InsertResponse(_ context.Context, r quote.Response) error {
	for _, existing := range t.st.responses {
		if existing.QuoteID == r.QuoteID && existing.CarrierID == r.CarrierID {
			return fmt.Errorf("%w: carrier %s already responded to %s", store.ErrConflict, r.CarrierID, r.QuoteID)
		}
	}
	t.st.responses[r.ID] = r
	return nil
}

func (t *tx) GetResponse(_ context.Context, id string) (quote.Response, error) {
	r, ok := t.st.responses[id]
	if !ok {
		return quote.Response{}, notFound("response", id)
	}
	return r, nil
}

func (t *tx) ListResponses(_ context.Context, quoteID string) ([]quote.Response, error) {
	var out []quote.Response
	for _, r := range t.st.responses {
		if r.QuoteID == quoteID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TotalValue.Equal(out[j].TotalValue) {
			return out[i].TotalValue.LessThan(out[j].TotalValue)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *tx) SelectResponse(_ context.Context, id string) error {
	r, ok := t.st.responses[id]
	if !ok {
		return notFound("response", id)
	}
	for _, other := range t.st.responses {
		if other.QuoteID == r.QuoteID && other.Selected {
			return fmt.Errorf("%w: quote %s already has a selected response", store.ErrConflict, r.QuoteID)
		}
	}
	r.Selected = true
	t.st.responses[id] = r
	return nil
}

func (t *tx) SaveDailyCode(_ context.Context, c pickup.DailyCode) error {
	t.st.codes[c.CarrierID] = c
	return nil
}

func (t *tx) GetDailyCode(_ context.Context, carrierID string) (pickup.DailyCode, error) {
	c, ok := t.st.codes[carrierID]
	if !ok {
		return pickup.DailyCode{}, notFound("daily code", carrierID)
	}
	return c, nil
}

func (t *tx) CreateChat(_ context.Context, c negotiation.Chat) error {
	for _, existing := range t.st.chats {
		if existing.QuoteID == c.QuoteID && existing.Kind == c.Kind {
			return fmt.Errorf("%w: quote %s already has a %s chat", store.ErrConflict, c.QuoteID, c.Kind)
		}
	}
	t.st.chats[c.ID] = c.Clone()
	return nil
}

func (t *tx) GetChat(_ context.Context, id string) (negotiation.Chat, error) {
	c, ok := t.st.chats[id]
	if !ok {
		return negotiation.Chat{}, notFound("chat", id)
	}
	return c.Clone(), nil
}

func (t *tx) LockChat(ctx context.Context, id string) (negotiation.Chat, error) {
	return t.GetChat(ctx, id)
}

func (t *tx) LockQuoteChat(_ context.Context, quoteID string, kind negotiation.Kind) (negotiation.Chat, error) {
	for _, c := range t.st.chats {
		if c.QuoteID == quoteID && c.Kind == kind {
			return c.Clone(), nil
		}
	}
	return negotiation.Chat{}, notFound(string(kind)+" chat for quote", quoteID)
}

func (t *tx) ListChats(_ context.Context, quoteID string) ([]negotiation.Chat, error) {
	var out []negotiation.Chat
	for _, c := range t.st.chats {
		if c.QuoteID == quoteID {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *tx) UpdateChat(_ context.Context, c negotiation.Chat) error {
	if _, ok := t.st.chats[c.ID]; !ok {
		return notFound("chat", c.ID)
	}
	t.st.chats[c.ID] = c.Clone()
	return nil
}

func (t *tx) AppendMessage(_ context.Context, m negotiation.Message) (negotiation.Message, error) {
	if _, ok := t.st.chats[m.ChatID]; !ok {
		return negotiation.Message{}, notFound("chat", m.ChatID)
	}
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = t.now()
	}
	m.Seq = len(t.st.messages[m.ChatID]) + 1
	t.st.messages[m.ChatID] = append(t.st.messages[m.ChatID], m)
	return m, nil
}

func (t *tx) ListMessages(_ context.Context, chatID string) ([]negotiation.Message, error) {
	return append([]negotiation.Message(nil), t.st.messages[chatID]...), nil
}

func ledgerKey(carrierID string, p settlement.Period) string {
	return carrierID + "|" + p.String()
}

func (t *tx) LockLedger(_ context.Context, carrierID string, p settlement.Period) (settlement.LedgerEntry, error) {
	key := ledgerKey(carrierID, p)
	e, ok := t.st.ledgers[key]
	if !ok {
		e = settlement.NewLedgerEntry(newID(), carrierID, p)
		t.st.ledgers[key] = e
	}
	e.Items = append([]settlement.LineItem(nil), e.Items...)
	return e, nil
}

func (t *tx) SaveLedger(_ context.Context, e settlement.LedgerEntry) error {
	e.Items = append([]settlement.LineItem(nil), e.Items...)
	t.st.ledgers[ledgerKey(e.CarrierID, e.Period)] = e
	return nil
}

func (t *tx) ListLedger(_ context.Context, carrierID string) ([]settlement.LedgerEntry, error) {
	var out []settlement.LedgerEntry
	for _, e := range t.st.ledgers {
		if e.CarrierID == carrierID {
			e.Items = append([]settlement.LineItem(nil), e.Items...)
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.String() > out[j].Period.String() })
	return out, nil
}

func (t *tx) InsertEvaluation(_ context.Context, e rating.Evaluation) error {
	if _, ok := t.st.evaluations[e.QuoteID]; ok {
		return fmt.Errorf("%w: quote %s already evaluated", store.ErrConflict, e.QuoteID)
	}
	t.st.evaluations[e.QuoteID] = e
	return nil
}

func (t *tx) GetCarrier(_ context.Context, id string) (carrier.Profile, error) {
	p, ok := t.st.carriers[id]
	if !ok {
		u, err := t.users.byID(id)
		if err != nil || u.Role != auth.RoleCarrier {
			return carrier.Profile{}, notFound("carrier", id)
		}
		p = carrier.Profile{ID: id, CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt}
	}
	p.Name = t.users.name(id)
	return p, nil
}

func (t *tx) LockCarrier(_ context.Context, id string) (carrier.Profile, error) {
	p, ok := t.st.carriers[id]
	if !ok {
		now := t.now()
		p = carrier.Profile{ID: id, CreatedAt: now, UpdatedAt: now}
		t.st.carriers[id] = p
	}
	p.Name = t.users.name(id)
	return p, nil
}

func (t *tx) SaveCarrier(_ context.Context, p carrier.Profile) error {
	if _, ok := t.st.carriers[p.ID]; !ok {
		return notFound("carrier", p.ID)
	}
	t.st.carriers[p.ID] = p
	return nil
}

func (t *tx) Enqueue(_ context.Context, e events.Event) error {
	body, err := e.Body()
	if err != nil {
		return err
	}
	t.st.nextOutbox++
	t.st.outbox = append(t.st.outbox, outboxRecord{Record: events.Record{
		ID:          t.st.nextOutbox,
		Topic:       e.Topic,
		AggregateID: e.AggregateID,
		Body:        body,
		CreatedAt:   t.now(),
	}})
	return nil
}
