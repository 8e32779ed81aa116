package workflow

import (
	"errors"
	"math"
	"testing"
	"time"

	"freightflow/quote"
	"freightflow/rating"
)

func TestEvaluationGate(t *testing.T) {
	f := newFixture(t)
	done := f.finalized(t, "1000", "0")

	f.clock.Advance(10 * time.Hour)
	f.createQuote(t, client)
	blocked, err := f.svc.GateBlocked(f.ctx, client)
	if err != nil || blocked {
		t.Fatalf("10h after finalization the gate must be open: %v %v", blocked, err)
	}

	f.clock.Advance(15 * time.Hour)
	pending, err := f.svc.PendingEvaluations(f.ctx, client)
	if err != nil || len(pending) != 1 || pending[0].QuoteID != done.Quote.ID {
		t.Fatalf("expected one pending evaluation, got %+v %v", pending, err)
	}

	valid := CreateQuoteParams{
		Cargo: quote.Cargo{Description: "boxes", WeightKg: dec("10"), Volumes: 1, InvoiceValue: dec("100"), FreightPayer: quote.PayerDestination},
		Route: quote.Route{
			Pickup:          quote.Address{City: "Campinas"},
			Destination:     quote.Address{City: "Santos"},
			BiddingDeadline: f.clock.Now().Add(24 * time.Hour),
		},
	}
	if _, err := f.svc.CreateQuote(f.ctx, client, valid); !errors.Is(err, rating.ErrEvaluationGateBlocked) {
		t.Fatalf("25h after finalization the gate must block, got %v", err)
	}
	if _, err := f.svc.CreateQuote(f.ctx, other, valid); err != nil {
		t.Fatalf("other clients are not gated: %v", err)
	}

	if _, err := f.svc.Evaluate(f.ctx, client, done.Quote.ID, 5, "on time"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if _, err := f.svc.CreateQuote(f.ctx, client, valid); err != nil {
		t.Fatalf("evaluation must lift the gate: %v", err)
	}
}

func TestEvaluateUpdatesCarrierRating(t *testing.T) {
	f := newFixture(t)
	first := f.finalized(t, "1000", "0")
	second := f.finalized(t, "800", "0")

	if _, err := f.svc.Evaluate(f.ctx, client, first.Quote.ID, 5, ""); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if _, err := f.svc.Evaluate(f.ctx, client, second.Quote.ID, 4, "fine"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	profile, err := f.st.CarrierProfiles().GetByID(f.ctx, carrierA.ID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if math.Abs(profile.Rating.Average-4.5) > 1e-9 || profile.Rating.Count != 2 || profile.Deliveries != 2 {
		t.Fatalf("unexpected profile %+v", profile)
	}

	if _, err := f.svc.Evaluate(f.ctx, client, first.Quote.ID, 3, ""); !errors.Is(err, quote.ErrAlreadyEvaluated) {
		t.Fatalf("expected ErrAlreadyEvaluated, got %v", err)
	}
	if got := f.quote(t, first.Quote.ID); !got.Evaluated {
		t.Fatal("expected evaluated flag")
	}
}

func TestEvaluateValidation(t *testing.T) {
	f := newFixture(t)
	done := f.finalized(t, "1000", "0")
	if _, err := f.svc.Evaluate(f.ctx, client, done.Quote.ID, 6, ""); !errors.Is(err, rating.ErrInvalidStars) {
		t.Fatalf("expected ErrInvalidStars, got %v", err)
	}
	if _, err := f.svc.Evaluate(f.ctx, other, done.Quote.ID, 5, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	open := f.createQuote(t, client)
	if _, err := f.svc.Evaluate(f.ctx, client, open.ID, 5, ""); !errors.Is(err, quote.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}
