package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"freightflow/auth"
	"freightflow/events"
	"freightflow/negotiation"
	"freightflow/quote"
	"freightflow/store"
)

const (
	maxMessageLength = 4000

	defaultRejectionReason  = "transport document value rejected by client"
	defaultWithdrawalReason = "carrier withdrew after transport document dispute"
)

type DocumentParams struct {
	Code          string
	DeclaredValue decimal.Decimal
	Reason        string
}

// DocumentResult is the outcome of a transport document submission. Chat and
// Message are nil when the declared value matched and was approved at once.
type DocumentResult struct {
	Quote      quote.Quote
	Difference decimal.Decimal
	Chat       *negotiation.Chat
	Message    *negotiation.Message
}

// SubmitTransportDocument registers the CT-e of an in-transit quote. A value
// that differs from the agreed one opens a renegotiation cycle in the quote's
// value_renegotiation chat and parks the quote in awaiting_cte_approval.
func (s *Service) SubmitTransportDocument(ctx context.Context, actor Actor, quoteID string, p DocumentParams) (DocumentResult, error) {
	if err := requireRole(actor, auth.RoleCarrier); err != nil {
		return DocumentResult{}, err
	}
	now := s.now()
	reason := strings.TrimSpace(p.Reason)
	var out DocumentResult
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		q, err := lockQuote(ctx, tx, quoteID)
		if err != nil {
			return err
		}
		if err := requireWinningCarrier(actor, q); err != nil {
			return err
		}
		previous := q.Status
		diff, err := q.RegisterDocument(p.Code, p.DeclaredValue, now)
		if err != nil {
			return err
		}
		if diff.IsPositive() && reason == "" {
			return validationErr("a reason is required when the declared value exceeds the agreed value")
		}
		out.Difference = diff

		if diff.IsZero() {
			if err := saveQuote(ctx, tx, q, previous); err != nil {
				return err
			}
			out.Quote = q
			return tx.Enqueue(ctx, statusEvent(events.TopicDocumentRegistered, q, previous, documentFields(q)))
		}

		c, err := s.renegotiationChat(ctx, tx, q, now)
		if err != nil {
			return err
		}
		payload, err := c.Begin(q.Document.Code, q.Document.OriginalValue, q.Document.DeclaredValue, reason)
		if err != nil {
			return err
		}
		c.UpdatedAt = now
		if err := tx.UpdateChat(ctx, c); err != nil {
			return err
		}
		msg, err := s.appendPayload(ctx, tx, c, negotiation.SenderCarrier, actor.ID, payload, now)
		if err != nil {
			return err
		}
		if err := saveQuote(ctx, tx, q, previous); err != nil {
			return err
		}
		out.Quote, out.Chat, out.Message = q, &c, &msg

		if err := tx.Enqueue(ctx, statusEvent(events.TopicDocumentRegistered, q, previous, documentFields(q))); err != nil {
			return err
		}
		return tx.Enqueue(ctx, statusEvent(events.TopicRenegotiationOpened, q, previous, payloadFields(c, payload)))
	})
	if err != nil {
		return DocumentResult{}, err
	}
	s.logFor("document_submitted", actor).WithFields(logrus.Fields{
		"quote_id":   quoteID,
		"difference": out.Difference.StringFixed(2),
	}).Info("transport document registered")
	return out, nil
}

// renegotiationChat returns the quote's value_renegotiation chat locked,
// creating it on the first discrepancy. The quote must already be locked.
func (s *Service) renegotiationChat(ctx context.Context, tx store.Tx, q quote.Quote, now time.Time) (negotiation.Chat, error) {
	c, err := tx.LockQuoteChat(ctx, q.ID, negotiation.KindValueRenegotiation)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return negotiation.Chat{}, err
	}
	c = negotiation.NewRenegotiation(s.newID(), q.ID, q.ClientID, q.CarrierID(), now)
	if err := tx.CreateChat(ctx, c); err != nil {
		return negotiation.Chat{}, err
	}
	return tx.LockQuoteChat(ctx, q.ID, negotiation.KindValueRenegotiation)
}

func (s *Service) appendPayload(ctx context.Context, tx store.Tx, c negotiation.Chat, sender negotiation.SenderRole, senderID string, p negotiation.Payload, now time.Time) (negotiation.Message, error) {
	return tx.AppendMessage(ctx, negotiation.Message{
		ID:        s.newID(),
		ChatID:    c.ID,
		Sender:    sender,
		SenderID:  senderID,
		Body:      negotiation.Describe(p),
		Payload:   &p,
		CreatedAt: now,
	})
}

func documentFields(q quote.Quote) map[string]any {
	if q.Document == nil {
		return nil
	}
	return map[string]any{
		"document_code":  q.Document.Code,
		"declared_value": q.Document.DeclaredValue.StringFixed(2),
		"difference":     q.Document.Difference.StringFixed(2),
		"approved":       q.Document.Approved(),
	}
}

func payloadFields(c negotiation.Chat, p negotiation.Payload) map[string]any {
	return map[string]any{
		"chat_id":        c.ID,
		"cycle":          p.Cycle,
		"original_value": p.OriginalValue.StringFixed(2),
		"proposed_value": p.ProposedValue.StringFixed(2),
		"difference":     p.Difference.StringFixed(2),
	}
}

// DecisionResult is the state after a renegotiation step.
type DecisionResult struct {
	Quote   quote.Quote
	Chat    negotiation.Chat
	Message negotiation.Message
}

type decision struct {
	action string
	role   auth.Role
	sender negotiation.SenderRole
	apply  func(q *quote.Quote, c *negotiation.Chat, now time.Time) (negotiation.Payload, error)
	topics []events.Topic
}

// decide runs one renegotiation step: quote then chat are locked, both are
// changed together and the protocol message is appended in the same
// transaction.
func (s *Service) decide(ctx context.Context, actor Actor, chatID string, d decision) (DecisionResult, error) {
	if err := requireRole(actor, d.role); err != nil {
		return DecisionResult{}, err
	}
	now := s.now()
	var out DecisionResult
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		peek, err := tx.GetChat(ctx, chatID)
		if err != nil {
			return mapNotFound(err)
		}
		q, err := lockQuote(ctx, tx, peek.QuoteID)
		if err != nil {
			return err
		}
		c, err := tx.LockChat(ctx, chatID)
		if err != nil {
			return mapNotFound(err)
		}
		if c.Kind != negotiation.KindValueRenegotiation {
			return negotiation.ErrNotRenegotiation
		}
		switch d.role {
		case auth.RoleClient:
			if c.ClientID != actor.ID {
				return fmt.Errorf("%w: only the quote's client decides on the value", ErrForbidden)
			}
		case auth.RoleCarrier:
			if c.CarrierID != actor.ID {
				return fmt.Errorf("%w: only the assigned carrier may do this", ErrForbidden)
			}
		}

		previous := q.Status
		payload, err := d.apply(&q, &c, now)
		if err != nil {
			return err
		}
		c.UpdatedAt = now
		if err := tx.UpdateChat(ctx, c); err != nil {
			return err
		}
		senderID := actor.ID
		if d.sender == negotiation.SenderSystem {
			senderID = ""
		}
		msg, err := s.appendPayload(ctx, tx, c, d.sender, senderID, payload, now)
		if err != nil {
			return err
		}
		if err := saveQuote(ctx, tx, q, previous); err != nil {
			return err
		}
		for _, topic := range d.topics {
			if err := tx.Enqueue(ctx, statusEvent(topic, q, previous, payloadFields(c, payload))); err != nil {
				return err
			}
		}
		out = DecisionResult{Quote: q, Chat: c, Message: msg}
		return nil
	})
	if err != nil {
		return DecisionResult{}, err
	}
	s.logFor(d.action, actor).WithFields(logrus.Fields{
		"chat_id":  chatID,
		"quote_id": out.Quote.ID,
		"status":   out.Quote.Status,
	}).Info("renegotiation step applied")
	return out, nil
}

// ApproveValue accepts the proposed value; it becomes the agreed value and
// the quote resumes transit.
func (s *Service) ApproveValue(ctx context.Context, actor Actor, chatID string) (DecisionResult, error) {
	return s.decide(ctx, actor, chatID, decision{
		action: "value_approved",
		role:   auth.RoleClient,
		sender: negotiation.SenderClient,
		apply: func(q *quote.Quote, c *negotiation.Chat, now time.Time) (negotiation.Payload, error) {
			p, err := c.Approve()
			if err != nil {
				return p, err
			}
			return p, q.ApproveDocument(now)
		},
		topics: []events.Topic{events.TopicValueApproved},
	})
}

// RejectValue refuses the proposed value and returns the cargo.
func (s *Service) RejectValue(ctx context.Context, actor Actor, chatID, justification string) (DecisionResult, error) {
	justification = strings.TrimSpace(justification)
	reason := justification
	if reason == "" {
		reason = defaultRejectionReason
	}
	return s.decide(ctx, actor, chatID, decision{
		action: "value_rejected",
		role:   auth.RoleClient,
		sender: negotiation.SenderClient,
		apply: func(q *quote.Quote, c *negotiation.Chat, now time.Time) (negotiation.Payload, error) {
			p, err := c.Reject(justification)
			if err != nil {
				return p, err
			}
			return p, q.RejectDocument(reason, now)
		},
		topics: []events.Topic{events.TopicValueRejected, events.TopicQuoteReturned},
	})
}

// CounterPropose lets the carrier revise the pending value, at most
// negotiation.MaxCounterProposals times per cycle.
func (s *Service) CounterPropose(ctx context.Context, actor Actor, chatID string, value decimal.Decimal, reason string) (DecisionResult, error) {
	return s.decide(ctx, actor, chatID, decision{
		action: "counter_proposal",
		role:   auth.RoleCarrier,
		sender: negotiation.SenderCarrier,
		apply: func(q *quote.Quote, c *negotiation.Chat, now time.Time) (negotiation.Payload, error) {
			p, err := c.CounterPropose(value, reason)
			if err != nil {
				return p, err
			}
			return p, q.ReviseDocumentValue(p.ProposedValue, now)
		},
		topics: []events.Topic{events.TopicCounterProposal},
	})
}

// AcceptOriginalValue is the carrier dropping the discrepancy; the agreed
// value stands and transit resumes.
func (s *Service) AcceptOriginalValue(ctx context.Context, actor Actor, chatID string) (DecisionResult, error) {
	return s.decide(ctx, actor, chatID, decision{
		action: "original_value_accepted",
		role:   auth.RoleCarrier,
		sender: negotiation.SenderSystem,
		apply: func(q *quote.Quote, c *negotiation.Chat, now time.Time) (negotiation.Payload, error) {
			p, err := c.AcceptOriginal()
			if err != nil {
				return p, err
			}
			return p, q.AcceptOriginalValue(now)
		},
		topics: []events.Topic{events.TopicValueApproved},
	})
}

// Withdraw is the carrier abandoning the shipment during a dispute.
func (s *Service) Withdraw(ctx context.Context, actor Actor, chatID, reason string) (DecisionResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultWithdrawalReason
	}
	return s.decide(ctx, actor, chatID, decision{
		action: "carrier_withdrew",
		role:   auth.RoleCarrier,
		sender: negotiation.SenderCarrier,
		apply: func(q *quote.Quote, c *negotiation.Chat, now time.Time) (negotiation.Payload, error) {
			p, err := c.Withdraw(reason)
			if err != nil {
				return p, err
			}
			return p, q.Return(reason, now)
		},
		topics: []events.Topic{events.TopicValueRejected, events.TopicQuoteReturned},
	})
}

// OpenChat returns the plain conversation of an accepted quote, creating it
// on first use.
func (s *Service) OpenChat(ctx context.Context, actor Actor, quoteID string) (negotiation.Chat, error) {
	if err := requireRole(actor, auth.RoleClient, auth.RoleCarrier); err != nil {
		return negotiation.Chat{}, err
	}
	now := s.now()
	var out negotiation.Chat
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		q, err := lockQuote(ctx, tx, quoteID)
		if err != nil {
			return err
		}
		if q.Selection == nil {
			return fmt.Errorf("%w: chat opens once a response is accepted", quote.ErrInvalidStateTransition)
		}
		if actor.ID != q.ClientID && actor.ID != q.CarrierID() {
			return fmt.Errorf("%w: not a party of quote %s", ErrForbidden, quoteID)
		}
		c, err := tx.LockQuoteChat(ctx, quoteID, negotiation.KindPlain)
		if err == nil {
			out = c
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		out = negotiation.NewPlain(s.newID(), q.ID, q.ClientID, q.CarrierID(), now)
		return tx.CreateChat(ctx, out)
	})
	if err != nil {
		return negotiation.Chat{}, err
	}
	return out, nil
}

// PostMessage appends a free-text message to any chat the actor is a party of.
func (s *Service) PostMessage(ctx context.Context, actor Actor, chatID, body string) (negotiation.Message, error) {
	if err := requireRole(actor, auth.RoleClient, auth.RoleCarrier); err != nil {
		return negotiation.Message{}, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return negotiation.Message{}, validationErr("message body required")
	}
	if len(body) > maxMessageLength {
		return negotiation.Message{}, validationErr("message longer than %d characters", maxMessageLength)
	}
	sender := negotiation.SenderClient
	if actor.Role == auth.RoleCarrier {
		sender = negotiation.SenderCarrier
	}
	now := s.now()
	var out negotiation.Message
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		c, err := tx.LockChat(ctx, chatID)
		if err != nil {
			return mapNotFound(err)
		}
		if !c.Participant(actor.ID) {
			return fmt.Errorf("%w: not a participant of chat %s", ErrForbidden, chatID)
		}
		out, err = tx.AppendMessage(ctx, negotiation.Message{
			ID:        s.newID(),
			ChatID:    c.ID,
			Sender:    sender,
			SenderID:  actor.ID,
			Body:      body,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		return tx.Enqueue(ctx, events.New(events.TopicChatMessage, c.QuoteID, map[string]any{
			"chat_id":    c.ID,
			"quote_id":   c.QuoteID,
			"message_id": out.ID,
			"seq":        out.Seq,
			"sender":     sender,
		}))
	})
	if err != nil {
		return negotiation.Message{}, err
	}
	return out, nil
}

// ChatView is a chat with its full message history in sequence order.
type ChatView struct {
	Chat     negotiation.Chat
	Messages []negotiation.Message
}

func (s *Service) GetChat(ctx context.Context, actor Actor, chatID string) (ChatView, error) {
	var out ChatView
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		c, err := tx.GetChat(ctx, chatID)
		if err != nil {
			return mapNotFound(err)
		}
		if actor.Role != auth.RoleAdmin && !c.Participant(actor.ID) {
			return fmt.Errorf("%w: not a participant of chat %s", ErrForbidden, chatID)
		}
		msgs, err := tx.ListMessages(ctx, chatID)
		if err != nil {
			return err
		}
		if msgs == nil {
			msgs = []negotiation.Message{}
		}
		out = ChatView{Chat: c, Messages: msgs}
		return nil
	})
	return out, err
}

func (s *Service) ListChats(ctx context.Context, actor Actor, quoteID string) ([]negotiation.Chat, error) {
	var out []negotiation.Chat
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		q, err := tx.GetQuote(ctx, quoteID)
		if err != nil {
			return mapNotFound(err)
		}
		if actor.Role != auth.RoleAdmin && actor.ID != q.ClientID && actor.ID != q.CarrierID() {
			return fmt.Errorf("%w: not a party of quote %s", ErrForbidden, quoteID)
		}
		out, err = tx.ListChats(ctx, quoteID)
		return err
	})
	if out == nil {
		out = []negotiation.Chat{}
	}
	return out, err
}
