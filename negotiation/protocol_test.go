package negotiation

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func openChat(t *testing.T) Chat {
	t.Helper()
	c := NewRenegotiation("chat-1", "q1", "client-1", "carrier-1", time.Now())
	p, err := c.Begin("CTE-1", dec("1000.00"), dec("1200.00"), "toll increase")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if p.Type != PayloadProposal || !p.Difference.Equal(dec("200.00")) {
		t.Fatalf("unexpected proposal payload: %+v", p)
	}
	return c
}

func TestApproveClosesCycle(t *testing.T) {
	c := openChat(t)
	p, err := c.Approve()
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if p.Type != PayloadApproval || !p.ProposedValue.Equal(dec("1200")) {
		t.Fatalf("unexpected approval payload: %+v", p)
	}
	if c.Status() != StatusApproved {
		t.Fatalf("expected approved, got %s", c.Status())
	}
	if _, err := c.Reject("late"); !errors.Is(err, ErrDecisionNotPending) {
		t.Fatalf("expected ErrDecisionNotPending, got %v", err)
	}
}

func TestFreshCycleAfterResolution(t *testing.T) {
	c := openChat(t)
	if _, err := c.Begin("CTE-1b", dec("1000"), dec("1100"), ""); !errors.Is(err, ErrCycleOpen) {
		t.Fatalf("expected ErrCycleOpen, got %v", err)
	}
	if _, err := c.Approve(); err != nil {
		t.Fatal(err)
	}
	p, err := c.Begin("CTE-2", dec("1200"), dec("1250"), "extra stop")
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if p.Cycle != 2 || c.Renegotiation.Attempts != 0 {
		t.Fatalf("expected cycle 2 with reset attempts, got %+v", c.Renegotiation)
	}
}

func TestCounterProposalLimit(t *testing.T) {
	c := openChat(t)
	values := []string{"1150", "1120", "1100"}
	for _, v := range values {
		if _, err := c.CounterPropose(dec(v), "customer pushback"); err != nil {
			t.Fatalf("counter %s: %v", v, err)
		}
	}
	if _, err := c.CounterPropose(dec("1050"), "last try"); !errors.Is(err, ErrCounterProposalLimit) {
		t.Fatalf("expected ErrCounterProposalLimit, got %v", err)
	}
	if !c.Renegotiation.ProposedValue.Equal(dec("1100")) {
		t.Fatalf("expected proposed 1100, got %s", c.Renegotiation.ProposedValue)
	}
}

func TestCounterProposalValidation(t *testing.T) {
	c := openChat(t)
	if _, err := c.CounterPropose(dec("1000"), "same as original"); !errors.Is(err, ErrInvalidProposal) {
		t.Fatalf("expected ErrInvalidProposal, got %v", err)
	}
	if _, err := c.CounterPropose(dec("1100"), " "); !errors.Is(err, ErrInvalidProposal) {
		t.Fatalf("expected reason to be required, got %v", err)
	}
}

func TestAcceptOriginalIsZeroDifference(t *testing.T) {
	c := openChat(t)
	p, err := c.AcceptOriginal()
	if err != nil {
		t.Fatal(err)
	}
	if !p.Difference.IsZero() || p.Type != PayloadApproval || c.Status() != StatusApproved {
		t.Fatalf("unexpected payload %+v status %s", p, c.Status())
	}
}

func TestWithdrawAndReject(t *testing.T) {
	c := openChat(t)
	clone := c.Clone()

	p, err := c.Withdraw("cannot absorb cost")
	if err != nil || p.Type != PayloadWithdrawal || c.Status() != StatusRejected {
		t.Fatalf("withdraw: %+v %v %s", p, err, c.Status())
	}
	if clone.Status() != StatusAwaitingClientDecision {
		t.Fatal("clone shares renegotiation state")
	}
	p, err = clone.Reject("too expensive")
	if err != nil || p.Reason != "too expensive" {
		t.Fatalf("reject: %+v %v", p, err)
	}
}

func TestPlainChatHasNoProtocol(t *testing.T) {
	c := NewPlain("chat-2", "q1", "client-1", "carrier-1", time.Now())
	if _, err := c.Approve(); !errors.Is(err, ErrNotRenegotiation) {
		t.Fatalf("expected ErrNotRenegotiation, got %v", err)
	}
	if c.Status() != StatusActive {
		t.Fatalf("plain chat status %s", c.Status())
	}
	if !c.Participant("carrier-1") || c.Participant("stranger") {
		t.Fatal("participant check wrong")
	}
}

func TestDescribe(t *testing.T) {
	body := Describe(Payload{Type: PayloadProposal, DocumentCode: "CTE-1", OriginalValue: dec("1000"), ProposedValue: dec("1200"), Difference: dec("200")})
	want := "Transport document CTE-1 declares 1200.00 against the agreed 1000.00 (difference 200.00)."
	if body != want {
		t.Fatalf("expected %q got %q", want, body)
	}
}
