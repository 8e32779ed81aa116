package quote

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var base = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newQuote() Quote {
	return Quote{
		ID:       "q1",
		ClientID: "client-1",
		Status:   StatusOpen,
		Cargo: Cargo{
			Description:  "Pallets of tiles",
			WeightKg:     dec("1200"),
			Volumes:      8,
			InvoiceValue: dec("25000"),
			FreightPayer: PayerOrigin,
		},
		Route: Route{
			Pickup:          Address{City: "Campinas", State: "SP"},
			Destination:     Address{City: "Curitiba", State: "PR"},
			ScheduledPickup: base.Add(48 * time.Hour),
			BiddingDeadline: base.Add(24 * time.Hour),
		},
		CreatedAt: base,
	}
}

func response(id string) Response {
	return Response{ID: id, QuoteID: "q1", CarrierID: "carrier-" + id, TotalValue: dec("1000.00"), LeadTimeDays: 2}
}

func inTransit(t *testing.T) Quote {
	t.Helper()
	q := newQuote()
	if err := q.Accept(response("r1"), base.Add(time.Hour)); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := q.ConfirmPickup(base.Add(2*time.Hour), base.Add(72*time.Hour)); err != nil {
		t.Fatalf("confirm pickup: %v", err)
	}
	return q
}

func TestStatusGraph(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusOpen, StatusResponded, true},
		{StatusOpen, StatusAccepted, true},
		{StatusResponded, StatusAccepted, true},
		{StatusAccepted, StatusFinalized, false},
		{StatusAccepted, StatusInTransit, true},
		{StatusAwaitingPickup, StatusInTransit, true},
		{StatusInTransit, StatusAwaitingCTeApproval, true},
		{StatusAwaitingCTeApproval, StatusFinalized, false},
		{StatusAwaitingCTeApproval, StatusReturned, true},
		{StatusFinalized, StatusReturned, false},
		{StatusReturned, StatusInTransit, false},
		{StatusInTransit, StatusOpen, false},
		{Status("lost_in_space"), StatusFinalized, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: expected %v got %v", tc.from, tc.to, tc.ok, got)
		}
	}
	if Status("lost_in_space").Terminal() {
		t.Fatal("unknown status must not be terminal")
	}
	if Status("lost_in_space").Known() {
		t.Fatal("unknown status reported as known")
	}
}

func TestAcceptRules(t *testing.T) {
	q := newQuote()
	q.MarkResponded(base)
	if q.Status != StatusResponded {
		t.Fatalf("expected responded, got %s", q.Status)
	}

	late := q.Clone()
	if err := late.Accept(response("r1"), base.Add(25*time.Hour)); !errors.Is(err, ErrExpiredWindow) {
		t.Fatalf("expected ErrExpiredWindow, got %v", err)
	}
	if late.Selection != nil {
		t.Fatal("expired accept must not select")
	}

	if err := q.Accept(response("r1"), base.Add(time.Hour)); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !q.AgreedValue.Equal(dec("1000")) || q.CarrierID() != "carrier-r1" {
		t.Fatalf("unexpected selection: %+v value=%s", q.Selection, q.AgreedValue)
	}
	if err := q.Accept(response("r2"), base.Add(time.Hour)); !errors.Is(err, ErrAlreadyAccepted) {
		t.Fatalf("expected ErrAlreadyAccepted, got %v", err)
	}
}

func TestConfirmPickupRequiresAcceptedTrack(t *testing.T) {
	q := newQuote()
	if err := q.ConfirmPickup(base, base); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
	if err := q.Accept(response("r1"), base); err != nil {
		t.Fatal(err)
	}
	if err := q.AwaitPickup(base); err != nil {
		t.Fatalf("await pickup: %v", err)
	}
	if err := q.ConfirmPickup(base.Add(time.Hour), base.Add(30*time.Hour)); err != nil {
		t.Fatalf("confirm from awaiting_pickup: %v", err)
	}
	if q.Status != StatusInTransit || q.Pickup == nil || q.Pickup.Late {
		t.Fatalf("unexpected pickup state: %s %+v", q.Status, q.Pickup)
	}
}

func TestDocumentRenegotiationValues(t *testing.T) {
	q := inTransit(t)
	diff, err := q.RegisterDocument("CTE-1", dec("1200.00"), base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !diff.Equal(dec("200.00")) {
		t.Fatalf("expected difference 200.00, got %s", diff)
	}
	if q.Status != StatusAwaitingCTeApproval {
		t.Fatalf("expected awaiting_cte_approval, got %s", q.Status)
	}

	approved := q.Clone()
	if err := approved.ApproveDocument(base.Add(4 * time.Hour)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !approved.AgreedValue.Equal(dec("1200.00")) || approved.Status != StatusInTransit {
		t.Fatalf("approve: value=%s status=%s", approved.AgreedValue, approved.Status)
	}

	rejected := q.Clone()
	if err := rejected.RejectDocument("value too high", base.Add(4*time.Hour)); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if !rejected.AgreedValue.Equal(dec("1000.00")) || rejected.Status != StatusReturned {
		t.Fatalf("reject: value=%s status=%s", rejected.AgreedValue, rejected.Status)
	}
	if q.Status != StatusAwaitingCTeApproval {
		t.Fatal("clone mutation leaked into original")
	}
}

func TestMatchingDocumentIsApprovedImmediately(t *testing.T) {
	q := inTransit(t)
	diff, err := q.RegisterDocument("CTE-2", dec("1000"), base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !diff.IsZero() || q.Status != StatusInTransit || !q.Document.Approved() {
		t.Fatalf("expected immediate approval, got diff=%s status=%s", diff, q.Status)
	}
}

func TestAcceptOriginalValue(t *testing.T) {
	q := inTransit(t)
	if _, err := q.RegisterDocument("CTE-3", dec("900"), base); err != nil {
		t.Fatal(err)
	}
	if err := q.ReviseDocumentValue(dec("950"), base); err != nil {
		t.Fatalf("revise: %v", err)
	}
	if !q.Document.Difference.Equal(dec("-50")) {
		t.Fatalf("expected difference -50, got %s", q.Document.Difference)
	}
	if err := q.AcceptOriginalValue(base); err != nil {
		t.Fatalf("accept original: %v", err)
	}
	if !q.AgreedValue.Equal(dec("1000")) || !q.Document.Difference.IsZero() || q.Status != StatusInTransit {
		t.Fatalf("unexpected state: value=%s diff=%s status=%s", q.AgreedValue, q.Document.Difference, q.Status)
	}
}

func TestFinalizeReadiness(t *testing.T) {
	q := inTransit(t)
	now := base.Add(10 * time.Hour)

	if err := q.Finalize(now); !errors.Is(err, ErrMissingReadinessCondition) {
		t.Fatalf("expected ErrMissingReadinessCondition, got %v", err)
	}
	if _, err := q.RegisterDocument("CTE-4", dec("1000"), now); err != nil {
		t.Fatal(err)
	}
	if err := q.AttachDeliveryDocument("uploads/receipt.pdf", now); err != nil {
		t.Fatal(err)
	}
	if err := q.Finalize(now); !errors.Is(err, ErrMissingReadinessCondition) {
		t.Fatalf("expected missing tracking, got %v", err)
	}
	if err := q.SetTracking("https://track.example.com/x", "", now); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for half tracking, got %v", err)
	}
	if err := q.SetTracking("https://track.example.com/x", "TRK1", now); err != nil {
		t.Fatal(err)
	}
	if err := q.Finalize(now); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if q.Status != StatusFinalized || q.FinalizedAt == nil {
		t.Fatalf("unexpected finalized state: %s", q.Status)
	}
	if err := q.Return("too late", now); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("finalized quote must not return, got %v", err)
	}
}

func TestFinalizeRejectsSkippedStates(t *testing.T) {
	q := newQuote()
	if err := q.Accept(response("r1"), base); err != nil {
		t.Fatal(err)
	}
	if err := q.Finalize(base); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("accepted -> finalized must fail, got %v", err)
	}
}

func TestLatenessChecks(t *testing.T) {
	q := inTransit(t)
	revised := base.Add(100 * time.Hour)
	if err := q.ReportDelay("storm", revised, base.Add(50*time.Hour)); err != nil {
		t.Fatalf("report delay: %v", err)
	}
	at := base.Add(101 * time.Hour)
	q.FinalizedAt = &at
	if !q.DeliveredLate() || !q.MissedRevisedDelivery() {
		t.Fatal("expected late delivery past revised date")
	}
}

func TestMarkEvaluatedOnce(t *testing.T) {
	q := newQuote()
	if err := q.MarkEvaluated(base); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
	q.Status = StatusFinalized
	if err := q.MarkEvaluated(base); err != nil {
		t.Fatal(err)
	}
	if err := q.MarkEvaluated(base); !errors.Is(err, ErrAlreadyEvaluated) {
		t.Fatalf("expected ErrAlreadyEvaluated, got %v", err)
	}
}
