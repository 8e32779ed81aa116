// Package actors drives the quote workflow from many goroutines at once so
// the oracles can check the database for broken invariants.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"freightflow/carrier"
	"freightflow/events"
	"freightflow/negotiation"
	"freightflow/pickup"
	"freightflow/quote"
	"freightflow/rating"
	"freightflow/workflow"
)

// Fleet is the seeded population the actors act for.
type Fleet struct {
	Clients  []workflow.Actor
	Carriers []workflow.Actor
}

func (f Fleet) client(id string) (workflow.Actor, bool) {
	for _, c := range f.Clients {
		if c.ID == id {
			return c, true
		}
	}
	return workflow.Actor{}, false
}

// Stats counts outcomes across all actors.
type Stats struct {
	Succeeded  atomic.Int64
	Refused    atomic.Int64
	Unexpected atomic.Int64
	LastError  atomic.Value
}

func (s *Stats) String() string {
	last, _ := s.LastError.Load().(string)
	return fmt.Sprintf("ok=%d refused=%d unexpected=%d last=%q", s.Succeeded.Load(), s.Refused.Load(), s.Unexpected.Load(), last)
}

// refusals are the domain answers a racing actor is expected to get.
var refusals = []error{
	quote.ErrInvalidStateTransition,
	quote.ErrAlreadyAccepted,
	quote.ErrExpiredWindow,
	quote.ErrMissingReadinessCondition,
	quote.ErrAlreadyEvaluated,
	pickup.ErrCodeNotGeneratedToday,
	pickup.ErrCodeMismatch,
	rating.ErrEvaluationGateBlocked,
	negotiation.ErrDecisionNotPending,
	negotiation.ErrCycleOpen,
	negotiation.ErrCounterProposalLimit,
	carrier.ErrBlocked,
	workflow.ErrDuplicateResponse,
	workflow.ErrNotFound,
}

func (s *Stats) record(err error) {
	switch {
	case err == nil:
		s.Succeeded.Add(1)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	default:
		for _, r := range refusals {
			if errors.Is(err, r) {
				s.Refused.Add(1)
				return
			}
		}
		s.Unexpected.Add(1)
		s.LastError.Store(err.Error())
	}
}

func pause(base, jitter int) {
	time.Sleep(time.Duration(base+rand.Intn(jitter)) * time.Millisecond)
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func pick[T any](xs []T) T { return xs[rand.Intn(len(xs))] }

// Poster keeps a client's board stocked with open quotes.
func Poster(ctx context.Context, svc *workflow.Service, client workflow.Actor, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		_, err := svc.CreateQuote(ctx, client, workflow.CreateQuoteParams{
			Cargo: quote.Cargo{
				Description:  "stress cargo",
				WeightKg:     decimal.NewFromInt(int64(100 + rand.Intn(900))),
				Volumes:      1 + rand.Intn(10),
				InvoiceValue: decimal.NewFromInt(int64(5000 + rand.Intn(20000))),
				FreightPayer: quote.PayerOrigin,
			},
			Route: quote.Route{
				Pickup:          quote.Address{City: "Sao Paulo", State: "SP"},
				Destination:     quote.Address{City: "Porto Alegre", State: "RS"},
				BiddingDeadline: time.Now().Add(time.Hour),
			},
		})
		stats.record(err)
		pause(150, 100)
	}
	return nil
}

// Bidder responds to whatever is on the bidding board.
func Bidder(ctx context.Context, svc *workflow.Service, c workflow.Actor, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		board, err := svc.ListQuotes(ctx, c, workflow.ListQuotesParams{Limit: 20})
		if err == nil && len(board) > 0 {
			q := pick(board)
			_, err = svc.SubmitResponse(ctx, c, q.ID, workflow.ResponseParams{
				TotalValue:     decimal.NewFromInt(int64(500 + rand.Intn(1500))),
				LeadTimeDays:   1 + rand.Intn(4),
				InsuranceValue: decimal.NewFromInt(int64(rand.Intn(50))),
			})
		}
		stats.record(err)
		pause(20, 30)
	}
	return nil
}

// Acceptor races other acceptors of the same client to pick a winner.
func Acceptor(ctx context.Context, svc *workflow.Service, client workflow.Actor, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		quotes, err := svc.ListQuotes(ctx, client, workflow.ListQuotesParams{Statuses: []quote.Status{quote.StatusResponded}})
		if err == nil && len(quotes) > 0 {
			q := pick(quotes)
			var responses []quote.Response
			responses, err = svc.ListResponses(ctx, client, q.ID)
			if err == nil && len(responses) > 0 {
				_, err = svc.AcceptResponse(ctx, client, q.ID, pick(responses).ID)
			}
		}
		stats.record(err)
		pause(30, 40)
	}
	return nil
}

// Shipper walks a carrier's won quotes through pickup, a transport document
// with a random value discrepancy, delivery and finalization, then has the
// client rate it.
func Shipper(ctx context.Context, svc *workflow.Service, fleet Fleet, c workflow.Actor, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		won, err := svc.ListQuotes(ctx, c, workflow.ListQuotesParams{CarrierID: c.ID, Limit: 10})
		stats.record(err)
		if err != nil || len(won) == 0 {
			pause(50, 50)
			continue
		}
		q := pick(won)
		client, ok := fleet.client(q.ClientID)
		if !ok {
			continue
		}
		stats.record(advance(ctx, svc, client, c, q))
		pause(20, 30)
	}
	return nil
}

func advance(ctx context.Context, svc *workflow.Service, client, c workflow.Actor, q quote.Quote) error {
	switch q.Status {
	case quote.StatusAccepted, quote.StatusAwaitingPickup:
		code, err := svc.CurrentDailyCode(ctx, c)
		if errors.Is(err, pickup.ErrCodeNotGeneratedToday) {
			code, err = svc.GenerateDailyCode(ctx, c)
		}
		if err != nil {
			return err
		}
		_, err = svc.ConfirmPickup(ctx, client, q.ID, code.Code)
		return err
	case quote.StatusInTransit:
		if q.Document == nil || !q.Document.Approved() {
			declared := q.AgreedValue.Add(decimal.NewFromInt(int64(rand.Intn(3) * 50)))
			_, err := svc.SubmitTransportDocument(ctx, c, q.ID, workflow.DocumentParams{
				Code:          fmt.Sprintf("CTE-%d", rand.Int63()),
				DeclaredValue: declared,
				Reason:        "stress adjustment",
			})
			return err
		}
		if _, err := svc.AttachDeliveryDocument(ctx, c, q.ID, "NF-"+q.ID[:8]); err != nil {
			return err
		}
		if _, err := svc.SetTracking(ctx, c, q.ID, "https://track.example/"+q.ID, "TRK"); err != nil {
			return err
		}
		_, err := svc.Finalize(ctx, c, q.ID)
		return err
	case quote.StatusAwaitingCTeApproval:
		chats, err := svc.ListChats(ctx, client, q.ID)
		if err != nil {
			return err
		}
		for _, ch := range chats {
			if ch.Kind != negotiation.KindValueRenegotiation {
				continue
			}
			if rand.Intn(4) == 0 {
				_, err = svc.CounterPropose(ctx, c, ch.ID, q.AgreedValue, "meet halfway")
				return err
			}
			_, err = svc.ApproveValue(ctx, client, ch.ID)
			return err
		}
		return nil
	case quote.StatusFinalized:
		if q.Evaluated {
			return nil
		}
		_, err := svc.Evaluate(ctx, client, q.ID, 1+rand.Intn(5), "")
		return err
	}
	return nil
}

// Chatter posts plain messages from both parties of accepted quotes at once.
func Chatter(ctx context.Context, svc *workflow.Service, fleet Fleet, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		c := pick(fleet.Carriers)
		won, err := svc.ListQuotes(ctx, c, workflow.ListQuotesParams{CarrierID: c.ID, Limit: 10})
		if err == nil && len(won) > 0 {
			q := pick(won)
			var ch negotiation.Chat
			ch, err = svc.OpenChat(ctx, c, q.ID)
			if err == nil {
				sender := c
				if client, ok := fleet.client(q.ClientID); ok && rand.Intn(2) == 0 {
					sender = client
				}
				_, err = svc.PostMessage(ctx, sender, ch.ID, "status check")
			}
		}
		stats.record(err)
		pause(10, 20)
	}
	return nil
}

// flakyPublisher fails one publish in ten.
type flakyPublisher struct{}

func (flakyPublisher) Publish(context.Context, string, []byte) error {
	if rand.Intn(10) == 0 {
		return errors.New("broker unavailable")
	}
	return nil
}

// OutboxWorker drains the outbox through a publisher that fails now and then.
func OutboxWorker(ctx context.Context, outbox events.Outbox, log logrus.FieldLogger, stop <-chan struct{}) error {
	relay := events.NewRelay(outbox, flakyPublisher{}, log, 100*time.Millisecond)
	for !stopped(ctx, stop) {
		_, _ = relay.Flush(ctx)
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}
