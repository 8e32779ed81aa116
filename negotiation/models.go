package negotiation

import (
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindPlain              Kind = "plain"
	KindValueRenegotiation Kind = "value_renegotiation"
)

type Status string

const (
	StatusActive                 Status = "active"
	StatusAwaitingClientDecision Status = "awaiting_client_decision"
	StatusApproved               Status = "approved"
	StatusRejected               Status = "rejected"
)

type SenderRole string

const (
	SenderClient  SenderRole = "client"
	SenderCarrier SenderRole = "carrier"
	SenderSystem  SenderRole = "system"
)

type PayloadType string

const (
	PayloadProposal        PayloadType = "proposal"
	PayloadCounterProposal PayloadType = "counter_proposal"
	PayloadApproval        PayloadType = "approval"
	PayloadRejection       PayloadType = "rejection"
	PayloadWithdrawal      PayloadType = "withdrawal"
)

// Payload is the structured part of a renegotiation message.
type Payload struct {
	Type          PayloadType     `json:"type"`
	Cycle         int             `json:"cycle"`
	DocumentCode  string          `json:"documentCode,omitempty"`
	OriginalValue decimal.Decimal `json:"originalValue"`
	ProposedValue decimal.Decimal `json:"proposedValue"`
	Difference    decimal.Decimal `json:"difference"`
	Reason        string          `json:"reason,omitempty"`
}

// Message is append-only. Seq is assigned by the store under the chat lock
// and is strictly increasing per chat.
type Message struct {
	ID        string
	ChatID    string
	Seq       int
	Sender    SenderRole
	SenderID  string
	Body      string
	Payload   *Payload
	CreatedAt time.Time
}

// Conversation is the part shared by every chat kind.
type Conversation struct {
	ID        string
	QuoteID   string
	ClientID  string
	CarrierID string
	Kind      Kind
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Renegotiation is the protocol state carried by a value_renegotiation chat.
// It is reused across cycles; Cycle counts document submissions.
type Renegotiation struct {
	Status        Status
	Cycle         int
	Attempts      int
	DocumentCode  string
	OriginalValue decimal.Decimal
	ProposedValue decimal.Decimal
}

type Chat struct {
	Conversation
	Renegotiation *Renegotiation
}

// Status returns the chat status; plain chats are always active.
func (c Chat) Status() Status {
	if c.Renegotiation == nil {
		return StatusActive
	}
	return c.Renegotiation.Status
}

// Participant reports whether userID is the client or carrier of the chat.
func (c Chat) Participant(userID string) bool {
	return userID != "" && (userID == c.ClientID || userID == c.CarrierID)
}

func (c Chat) Clone() Chat {
	out := c
	if c.Renegotiation != nil {
		r := *c.Renegotiation
		out.Renegotiation = &r
	}
	return out
}

// NewPlain opens a free-text conversation between the parties of a quote.
func NewPlain(id, quoteID, clientID, carrierID string, now time.Time) Chat {
	return Chat{Conversation: Conversation{
		ID:        id,
		QuoteID:   quoteID,
		ClientID:  clientID,
		CarrierID: carrierID,
		Kind:      KindPlain,
		CreatedAt: now,
		UpdatedAt: now,
	}}
}

// NewRenegotiation opens an idle value_renegotiation chat; call Begin to
// start the first cycle.
func NewRenegotiation(id, quoteID, clientID, carrierID string, now time.Time) Chat {
	c := NewPlain(id, quoteID, clientID, carrierID, now)
	c.Kind = KindValueRenegotiation
	c.Renegotiation = &Renegotiation{Status: StatusActive}
	return c
}
