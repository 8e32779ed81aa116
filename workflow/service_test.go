package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"freightflow/auth"
	"freightflow/quote"
	"freightflow/store/memory"
)

var (
	client   = Actor{ID: "client-1", Role: auth.RoleClient}
	other    = Actor{ID: "client-2", Role: auth.RoleClient}
	carrierA = Actor{ID: "carrier-1", Role: auth.RoleCarrier}
	carrierB = Actor{ID: "carrier-2", Role: auth.RoleCarrier}
	carrierC = Actor{ID: "carrier-3", Role: auth.RoleCarrier}
	admin    = Actor{ID: "admin-1", Role: auth.RoleAdmin}
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type sequence struct {
	mu sync.Mutex
	n  int
}

func (s *sequence) next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%04d", s.n)
}

type fixture struct {
	svc   *Service
	st    *memory.Store
	clock *fakeClock
	ctx   context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)}
	ids := &sequence{}
	log := logrus.New()
	log.SetOutput(io.Discard)

	st := memory.New().WithClock(clock.Now)
	svc := NewService(st, log).
		WithClock(clock.Now).
		WithIDGenerator(ids.next).
		WithLocation(time.UTC)
	return &fixture{svc: svc, st: st, clock: clock, ctx: context.Background()}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (f *fixture) createQuote(t *testing.T, owner Actor) quote.Quote {
	t.Helper()
	q, err := f.svc.CreateQuote(f.ctx, owner, CreateQuoteParams{
		Cargo: quote.Cargo{
			Description:  "palletised auto parts",
			WeightKg:     dec("350.5"),
			Volumes:      4,
			InvoiceValue: dec("12000"),
			FreightPayer: quote.PayerOrigin,
		},
		Route: quote.Route{
			Pickup:          quote.Address{Street: "Rua A", Number: "10", City: "Sao Paulo", State: "SP"},
			Destination:     quote.Address{Street: "Rua B", Number: "20", City: "Curitiba", State: "PR"},
			BiddingDeadline: f.clock.Now().Add(48 * time.Hour),
		},
	})
	if err != nil {
		t.Fatalf("create quote: %v", err)
	}
	return q
}

func (f *fixture) bid(t *testing.T, c Actor, quoteID, value, insurance string) quote.Response {
	t.Helper()
	r, err := f.svc.SubmitResponse(f.ctx, c, quoteID, ResponseParams{
		TotalValue:     dec(value),
		LeadTimeDays:   2,
		InsuranceValue: dec(insurance),
	})
	if err != nil {
		t.Fatalf("submit response: %v", err)
	}
	return r
}

// accepted returns a quote won by carrierA at value with the given insurance.
func (f *fixture) accepted(t *testing.T, value, insurance string) quote.Quote {
	t.Helper()
	q := f.createQuote(t, client)
	r := f.bid(t, carrierA, q.ID, value, insurance)
	q, err := f.svc.AcceptResponse(f.ctx, client, q.ID, r.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	return q
}

func (f *fixture) inTransit(t *testing.T, value, insurance string) quote.Quote {
	t.Helper()
	q := f.accepted(t, value, insurance)
	code, err := f.svc.GenerateDailyCode(f.ctx, carrierA)
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	q, err = f.svc.ConfirmPickup(f.ctx, client, q.ID, code.Code)
	if err != nil {
		t.Fatalf("confirm pickup: %v", err)
	}
	return q
}

// ready brings an in-transit quote to the point where it can be finalized.
func (f *fixture) ready(t *testing.T, q quote.Quote) {
	t.Helper()
	if q.Document == nil {
		if _, err := f.svc.SubmitTransportDocument(f.ctx, carrierA, q.ID, DocumentParams{Code: "CTE-" + q.ID, DeclaredValue: q.AgreedValue}); err != nil {
			t.Fatalf("submit document: %v", err)
		}
	}
	if _, err := f.svc.AttachDeliveryDocument(f.ctx, carrierA, q.ID, "receipts/"+q.ID+".pdf"); err != nil {
		t.Fatalf("attach delivery document: %v", err)
	}
	if _, err := f.svc.SetTracking(f.ctx, carrierA, q.ID, "https://track.example/"+q.ID, "TRK"+q.ID); err != nil {
		t.Fatalf("set tracking: %v", err)
	}
}

func (f *fixture) finalized(t *testing.T, value, insurance string) FinalizeResult {
	t.Helper()
	q := f.inTransit(t, value, insurance)
	f.ready(t, q)
	res, err := f.svc.Finalize(f.ctx, carrierA, q.ID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return res
}

func (f *fixture) quote(t *testing.T, id string) quote.Quote {
	t.Helper()
	q, err := f.svc.GetQuote(f.ctx, admin, id)
	if err != nil {
		t.Fatalf("get quote: %v", err)
	}
	return q
}

func TestDefaultLocationWarnsOnFallback(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	loc := defaultLocation(func(string) (*time.Location, error) {
		return nil, errors.New("unknown time zone America/Sao_Paulo")
	}, log)
	if loc != time.UTC {
		t.Fatalf("expected UTC fallback, got %s", loc)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.WarnLevel || entry.Data["zone"] != DefaultZone {
		t.Fatalf("expected a warning naming %s, got %+v", DefaultZone, entry)
	}

	hook.Reset()
	sp := time.FixedZone("BRT", -3*3600)
	if got := defaultLocation(func(string) (*time.Location, error) { return sp, nil }, log); got != sp {
		t.Fatalf("expected loaded zone, got %s", got)
	}
	if len(hook.AllEntries()) != 0 {
		t.Fatalf("expected no log entries, got %d", len(hook.AllEntries()))
	}
}
