package workflow

import (
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"freightflow/carrier"
	"freightflow/events"
	"freightflow/quote"
)

func TestCreateQuoteEnqueuesEvent(t *testing.T) {
	f := newFixture(t)
	q := f.createQuote(t, client)
	if q.Status != quote.StatusOpen || q.ClientID != client.ID {
		t.Fatalf("unexpected quote %+v", q)
	}
	pending := f.st.PendingEvents()
	if len(pending) != 1 || pending[0].Topic != events.TopicQuoteCreated || pending[0].AggregateID != q.ID {
		t.Fatalf("expected one quote.created event, got %+v", pending)
	}
}

func TestCreateQuoteRequiresClient(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateQuote(f.ctx, carrierA, CreateQuoteParams{})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestFirstResponseMovesToResponded(t *testing.T) {
	f := newFixture(t)
	q := f.createQuote(t, client)
	f.bid(t, carrierA, q.ID, "1000", "0")
	if got := f.quote(t, q.ID).Status; got != quote.StatusResponded {
		t.Fatalf("expected responded, got %s", got)
	}
	f.bid(t, carrierB, q.ID, "900", "0")
	if got := f.quote(t, q.ID).Status; got != quote.StatusResponded {
		t.Fatalf("bidding must continue in responded, got %s", got)
	}
}

func TestDuplicateResponseRejected(t *testing.T) {
	f := newFixture(t)
	q := f.createQuote(t, client)
	f.bid(t, carrierA, q.ID, "1000", "0")
	_, err := f.svc.SubmitResponse(f.ctx, carrierA, q.ID, ResponseParams{TotalValue: dec("950"), LeadTimeDays: 1})
	if !errors.Is(err, ErrDuplicateResponse) {
		t.Fatalf("expected ErrDuplicateResponse, got %v", err)
	}
}

func TestResponseAfterDeadlineExpired(t *testing.T) {
	f := newFixture(t)
	q := f.createQuote(t, client)
	f.clock.Advance(49 * time.Hour)
	_, err := f.svc.SubmitResponse(f.ctx, carrierA, q.ID, ResponseParams{TotalValue: dec("1000"), LeadTimeDays: 1})
	if !errors.Is(err, quote.ErrExpiredWindow) {
		t.Fatalf("expected ErrExpiredWindow, got %v", err)
	}
}

func TestAcceptAfterDeadlineExpired(t *testing.T) {
	f := newFixture(t)
	q := f.createQuote(t, client)
	r := f.bid(t, carrierA, q.ID, "1000", "0")
	f.clock.Advance(49 * time.Hour)
	_, err := f.svc.AcceptResponse(f.ctx, client, q.ID, r.ID)
	if !errors.Is(err, quote.ErrExpiredWindow) {
		t.Fatalf("expected ErrExpiredWindow, got %v", err)
	}
	if got := f.quote(t, q.ID); got.Status != quote.StatusResponded || got.Selection != nil {
		t.Fatalf("failed accept must not write, got %+v", got)
	}
}

func TestAcceptByOtherClientForbidden(t *testing.T) {
	f := newFixture(t)
	q := f.createQuote(t, client)
	r := f.bid(t, carrierA, q.ID, "1000", "0")
	_, err := f.svc.AcceptResponse(f.ctx, other, q.ID, r.ID)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestConcurrentAcceptSelectsExactlyOne(t *testing.T) {
	f := newFixture(t)
	q := f.createQuote(t, client)
	responses := []quote.Response{
		f.bid(t, carrierA, q.ID, "1000", "0"),
		f.bid(t, carrierB, q.ID, "980", "0"),
		f.bid(t, carrierC, q.ID, "1010", "0"),
	}

	var (
		mu        sync.Mutex
		succeeded int
		lost      int
	)
	var g errgroup.Group
	for i := 0; i < 12; i++ {
		r := responses[i%len(responses)]
		g.Go(func() error {
			_, err := f.svc.AcceptResponse(f.ctx, client, q.ID, r.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, quote.ErrAlreadyAccepted):
				lost++
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if succeeded != 1 || lost != 11 {
		t.Fatalf("expected exactly one winner, got %d winners and %d losers", succeeded, lost)
	}

	all, err := f.svc.ListResponses(f.ctx, client, q.ID)
	if err != nil {
		t.Fatalf("list responses: %v", err)
	}
	selected := 0
	for _, r := range all {
		if r.Selected {
			selected++
			if r.CarrierID != f.quote(t, q.ID).CarrierID() {
				t.Fatalf("selected response %s does not match quote carrier", r.ID)
			}
		}
	}
	if selected != 1 {
		t.Fatalf("expected one selected response, got %d", selected)
	}
}

func TestListResponsesScopedToCarrier(t *testing.T) {
	f := newFixture(t)
	q := f.createQuote(t, client)
	f.bid(t, carrierA, q.ID, "1000", "0")
	f.bid(t, carrierB, q.ID, "900", "0")

	own, err := f.svc.ListResponses(f.ctx, carrierA, q.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(own) != 1 || own[0].CarrierID != carrierA.ID {
		t.Fatalf("carrier must only see its own bid, got %+v", own)
	}
	all, err := f.svc.ListResponses(f.ctx, client, q.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || !all[0].TotalValue.Equal(dec("900")) {
		t.Fatalf("client must see every bid cheapest first, got %+v", all)
	}
}

func TestListQuotesScoping(t *testing.T) {
	f := newFixture(t)
	mine := f.createQuote(t, client)
	f.createQuote(t, other)
	won := f.accepted(t, "800", "0")

	got, err := f.svc.ListQuotes(f.ctx, client, ListQuotesParams{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("client must see only own quotes, got %d", len(got))
	}

	board, err := f.svc.ListQuotes(f.ctx, carrierB, ListQuotesParams{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, q := range board {
		if !q.Status.Bidding() {
			t.Fatalf("bidding board leaked %s quote %s", q.Status, q.ID)
		}
	}
	if len(board) != 2 {
		t.Fatalf("expected both open quotes on the board, got %d", len(board))
	}

	assigned, err := f.svc.ListQuotes(f.ctx, carrierA, ListQuotesParams{CarrierID: carrierA.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(assigned) != 1 || assigned[0].ID != won.ID {
		t.Fatalf("expected the won quote, got %+v", assigned)
	}

	if _, err := f.svc.ListQuotes(f.ctx, carrierB, ListQuotesParams{CarrierID: carrierA.ID}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.GetQuote(f.ctx, carrierB, won.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("losing carrier must not read an accepted quote, got %v", err)
	}
	if _, err := f.svc.GetQuote(f.ctx, carrierB, mine.ID); err != nil {
		t.Fatalf("carriers read open quotes: %v", err)
	}
}

func TestBlockedCarrierCannotBid(t *testing.T) {
	f := newFixture(t)
	q := f.inTransit(t, "1000", "0")
	f.ready(t, q)
	if _, err := f.svc.ReportDelay(f.ctx, carrierA, q.ID, "truck broke down", f.clock.Now().Add(2*time.Hour)); err != nil {
		t.Fatalf("report delay: %v", err)
	}
	f.clock.Advance(72 * time.Hour)
	res, err := f.svc.Finalize(f.ctx, carrierA, q.ID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !res.Quote.DeliveredLate() || !res.Quote.MissedRevisedDelivery() {
		t.Fatalf("expected a late delivery that missed the revised date")
	}

	profile, err := f.st.CarrierProfiles().GetByID(f.ctx, carrierA.ID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if !profile.Blocked || profile.LateThisMonth != 1 {
		t.Fatalf("expected blocked carrier with one late delivery, got %+v", profile)
	}

	if _, err := f.svc.Evaluate(f.ctx, client, q.ID, 2, "late"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	fresh := f.createQuote(t, client)
	_, err = f.svc.SubmitResponse(f.ctx, carrierA, fresh.ID, ResponseParams{TotalValue: dec("700"), LeadTimeDays: 1})
	if !errors.Is(err, carrier.ErrBlocked) {
		t.Fatalf("expected carrier.ErrBlocked, got %v", err)
	}
}
