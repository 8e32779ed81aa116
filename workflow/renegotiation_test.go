package workflow

import (
	"errors"
	"sync"
	"testing"

	"freightflow/negotiation"
	"freightflow/quote"
)

func (f *fixture) discrepancy(t *testing.T, declared string) (quote.Quote, DocumentResult) {
	t.Helper()
	q := f.inTransit(t, "1000", "0")
	res, err := f.svc.SubmitTransportDocument(f.ctx, carrierA, q.ID, DocumentParams{
		Code:          "CTE-1",
		DeclaredValue: dec(declared),
		Reason:        "toll increase",
	})
	if err != nil {
		t.Fatalf("submit document: %v", err)
	}
	if res.Chat == nil || res.Message == nil {
		t.Fatalf("expected a renegotiation chat for %s", declared)
	}
	return res.Quote, res
}

func TestMatchingDocumentApprovedWithoutChat(t *testing.T) {
	f := newFixture(t)
	q := f.inTransit(t, "1000", "0")
	res, err := f.svc.SubmitTransportDocument(f.ctx, carrierA, q.ID, DocumentParams{Code: "CTE-1", DeclaredValue: dec("1000.00")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Chat != nil || res.Quote.Status != quote.StatusInTransit || !res.Quote.Document.Approved() {
		t.Fatalf("expected immediate approval, got %+v", res)
	}
	chats, err := f.svc.ListChats(f.ctx, client, q.ID)
	if err != nil || len(chats) != 0 {
		t.Fatalf("expected no chats, got %v %v", chats, err)
	}
}

func TestHigherValueNeedsReason(t *testing.T) {
	f := newFixture(t)
	q := f.inTransit(t, "1000", "0")
	_, err := f.svc.SubmitTransportDocument(f.ctx, carrierA, q.ID, DocumentParams{Code: "CTE-1", DeclaredValue: dec("1200")})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestApproveValue(t *testing.T) {
	f := newFixture(t)
	q, res := f.discrepancy(t, "1200")
	if q.Status != quote.StatusAwaitingCTeApproval {
		t.Fatalf("expected awaiting_cte_approval, got %s", q.Status)
	}
	p := res.Message.Payload
	if p == nil || p.Type != negotiation.PayloadProposal || !p.Difference.Equal(dec("200")) || !p.OriginalValue.Equal(dec("1000")) {
		t.Fatalf("unexpected proposal payload %+v", p)
	}

	out, err := f.svc.ApproveValue(f.ctx, client, res.Chat.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if out.Quote.Status != quote.StatusInTransit || !out.Quote.AgreedValue.Equal(dec("1200")) {
		t.Fatalf("expected in_transit at 1200, got %s %s", out.Quote.Status, out.Quote.AgreedValue)
	}
	if out.Chat.Status() != negotiation.StatusApproved || out.Message.Seq != 2 {
		t.Fatalf("unexpected chat state %s seq %d", out.Chat.Status(), out.Message.Seq)
	}
}

func TestApproveRequiresOwningClient(t *testing.T) {
	f := newFixture(t)
	_, res := f.discrepancy(t, "1200")
	if _, err := f.svc.ApproveValue(f.ctx, other, res.Chat.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.ApproveValue(f.ctx, carrierA, res.Chat.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("carrier cannot approve its own proposal, got %v", err)
	}
}

func TestRejectValueReturnsCargo(t *testing.T) {
	f := newFixture(t)
	q, res := f.discrepancy(t, "1200")
	out, err := f.svc.RejectValue(f.ctx, client, res.Chat.ID, "value not agreed")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if out.Quote.Status != quote.StatusReturned || !out.Quote.AgreedValue.Equal(dec("1000")) {
		t.Fatalf("expected returned at 1000, got %s %s", out.Quote.Status, out.Quote.AgreedValue)
	}
	if out.Quote.ReturnReason != "value not agreed" || out.Chat.Status() != negotiation.StatusRejected {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if _, err := f.svc.ApproveValue(f.ctx, client, res.Chat.ID); !errors.Is(err, negotiation.ErrDecisionNotPending) {
		t.Fatalf("expected ErrDecisionNotPending after rejection, got %v", err)
	}
	if got := f.quote(t, q.ID).Status; got != quote.StatusReturned {
		t.Fatalf("expected returned, got %s", got)
	}
}

func TestLowerValueApproved(t *testing.T) {
	f := newFixture(t)
	_, res := f.discrepancy(t, "900")
	if !res.Difference.Equal(dec("-100")) {
		t.Fatalf("expected -100 difference, got %s", res.Difference)
	}
	out, err := f.svc.ApproveValue(f.ctx, client, res.Chat.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !out.Quote.AgreedValue.Equal(dec("900")) {
		t.Fatalf("expected agreed value 900, got %s", out.Quote.AgreedValue)
	}
}

func TestFreshCycleKeepsHistory(t *testing.T) {
	f := newFixture(t)
	q, res := f.discrepancy(t, "1200")
	if _, err := f.svc.ApproveValue(f.ctx, client, res.Chat.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	second, err := f.svc.SubmitTransportDocument(f.ctx, carrierA, q.ID, DocumentParams{Code: "CTE-2", DeclaredValue: dec("1300"), Reason: "extra stop"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.Chat == nil || second.Chat.ID != res.Chat.ID {
		t.Fatalf("expected the same chat to be reused")
	}
	if second.Chat.Renegotiation.Cycle != 2 || !second.Message.Payload.OriginalValue.Equal(dec("1200")) {
		t.Fatalf("unexpected second cycle %+v", second.Chat.Renegotiation)
	}

	view, err := f.svc.GetChat(f.ctx, carrierA, res.Chat.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if len(view.Messages) != 3 {
		t.Fatalf("expected 3 messages across cycles, got %d", len(view.Messages))
	}
	for i, m := range view.Messages {
		if m.Seq != i+1 {
			t.Fatalf("message %d has seq %d", i, m.Seq)
		}
	}
}

func TestCounterProposalLimit(t *testing.T) {
	f := newFixture(t)
	q, res := f.discrepancy(t, "1200")
	for _, v := range []string{"1150", "1100", "1050"} {
		if _, err := f.svc.CounterPropose(f.ctx, carrierA, res.Chat.ID, dec(v), "discount"); err != nil {
			t.Fatalf("counter %s: %v", v, err)
		}
	}
	_, err := f.svc.CounterPropose(f.ctx, carrierA, res.Chat.ID, dec("1020"), "last try")
	if !errors.Is(err, negotiation.ErrCounterProposalLimit) {
		t.Fatalf("expected ErrCounterProposalLimit, got %v", err)
	}
	got := f.quote(t, q.ID)
	if !got.Document.DeclaredValue.Equal(dec("1050")) || !got.Document.Difference.Equal(dec("50")) {
		t.Fatalf("expected pending value 1050, got %+v", got.Document)
	}
	out, err := f.svc.ApproveValue(f.ctx, client, res.Chat.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !out.Quote.AgreedValue.Equal(dec("1050")) {
		t.Fatalf("expected 1050 agreed, got %s", out.Quote.AgreedValue)
	}
}

func TestAcceptOriginalValue(t *testing.T) {
	f := newFixture(t)
	_, res := f.discrepancy(t, "1200")
	out, err := f.svc.AcceptOriginalValue(f.ctx, carrierA, res.Chat.ID)
	if err != nil {
		t.Fatalf("accept original: %v", err)
	}
	if out.Quote.Status != quote.StatusInTransit || !out.Quote.AgreedValue.Equal(dec("1000")) {
		t.Fatalf("expected in_transit at 1000, got %s %s", out.Quote.Status, out.Quote.AgreedValue)
	}
	if out.Message.Sender != negotiation.SenderSystem || !out.Message.Payload.Difference.IsZero() {
		t.Fatalf("expected zero-difference system approval, got %+v", out.Message)
	}
}

func TestWithdrawReturnsCargo(t *testing.T) {
	f := newFixture(t)
	_, res := f.discrepancy(t, "1200")
	out, err := f.svc.Withdraw(f.ctx, carrierA, res.Chat.ID, "")
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if out.Quote.Status != quote.StatusReturned || out.Quote.ReturnReason != defaultWithdrawalReason {
		t.Fatalf("unexpected quote %+v", out.Quote)
	}
}

func TestReturnDuringDisputeClosesCycle(t *testing.T) {
	f := newFixture(t)
	q, res := f.discrepancy(t, "1200")
	if _, err := f.svc.ReturnQuote(f.ctx, carrierA, q.ID, "client unreachable"); err != nil {
		t.Fatalf("return: %v", err)
	}
	view, err := f.svc.GetChat(f.ctx, client, res.Chat.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if view.Chat.Status() != negotiation.StatusRejected || len(view.Messages) != 2 {
		t.Fatalf("expected closed cycle with withdrawal message, got %s and %d messages", view.Chat.Status(), len(view.Messages))
	}
}

func TestPlainChatConcurrentMessages(t *testing.T) {
	f := newFixture(t)
	q := f.accepted(t, "1000", "0")
	c, err := f.svc.OpenChat(f.ctx, client, q.ID)
	if err != nil {
		t.Fatalf("open chat: %v", err)
	}
	again, err := f.svc.OpenChat(f.ctx, carrierA, q.ID)
	if err != nil || again.ID != c.ID {
		t.Fatalf("expected the same plain chat, got %v %v", again.ID, err)
	}
	if _, err := f.svc.OpenChat(f.ctx, carrierB, q.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for a losing carrier, got %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		sender := client
		if i%2 == 1 {
			sender = carrierA
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.PostMessage(f.ctx, sender, c.ID, "hello"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("post: %v", err)
	}

	view, err := f.svc.GetChat(f.ctx, client, c.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if len(view.Messages) != 20 {
		t.Fatalf("expected 20 messages, got %d", len(view.Messages))
	}
	for i, m := range view.Messages {
		if m.Seq != i+1 {
			t.Fatalf("message %d has seq %d", i, m.Seq)
		}
	}
	if _, err := f.svc.PostMessage(f.ctx, carrierB, c.ID, "hi"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for outsider, got %v", err)
	}
}
