package negotiation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxCounterProposals bounds carrier counter-proposals per cycle.
const MaxCounterProposals = 3

var (
	ErrNotRenegotiation     = errors.New("negotiation: chat is not a value renegotiation")
	ErrDecisionNotPending   = errors.New("negotiation: no value decision pending")
	ErrCycleOpen            = errors.New("negotiation: a renegotiation cycle is still open")
	ErrCounterProposalLimit = errors.New("negotiation: counter-proposal limit reached")
	ErrInvalidProposal      = errors.New("negotiation: invalid proposal")
)

func (c *Chat) protocol() (*Renegotiation, error) {
	if c.Kind != KindValueRenegotiation || c.Renegotiation == nil {
		return nil, ErrNotRenegotiation
	}
	return c.Renegotiation, nil
}

func (c *Chat) pending() (*Renegotiation, error) {
	r, err := c.protocol()
	if err != nil {
		return nil, err
	}
	if r.Status != StatusAwaitingClientDecision {
		return nil, fmt.Errorf("%w (status=%s)", ErrDecisionNotPending, r.Status)
	}
	return r, nil
}

func (r *Renegotiation) payload(t PayloadType, reason string) Payload {
	return Payload{
		Type:          t,
		Cycle:         r.Cycle,
		DocumentCode:  r.DocumentCode,
		OriginalValue: r.OriginalValue,
		ProposedValue: r.ProposedValue,
		Difference:    r.ProposedValue.Sub(r.OriginalValue),
		Reason:        reason,
	}
}

// Begin opens a new cycle for a transport document whose value differs from
// the agreed one. Earlier cycles stay in the message history.
func (c *Chat) Begin(documentCode string, original, proposed decimal.Decimal, reason string) (Payload, error) {
	r, err := c.protocol()
	if err != nil {
		return Payload{}, err
	}
	if r.Status == StatusAwaitingClientDecision {
		return Payload{}, ErrCycleOpen
	}
	if original.Equal(proposed) {
		return Payload{}, fmt.Errorf("%w: proposed value equals original", ErrInvalidProposal)
	}
	r.Cycle++
	r.Attempts = 0
	r.Status = StatusAwaitingClientDecision
	r.DocumentCode = documentCode
	r.OriginalValue = original
	r.ProposedValue = proposed
	return r.payload(PayloadProposal, reason), nil
}

// Approve records the client's acceptance of the proposed value.
func (c *Chat) Approve() (Payload, error) {
	r, err := c.pending()
	if err != nil {
		return Payload{}, err
	}
	r.Status = StatusApproved
	return r.payload(PayloadApproval, ""), nil
}

// Reject records the client's refusal. The cargo is returned.
func (c *Chat) Reject(justification string) (Payload, error) {
	r, err := c.pending()
	if err != nil {
		return Payload{}, err
	}
	r.Status = StatusRejected
	return r.payload(PayloadRejection, strings.TrimSpace(justification)), nil
}

// CounterPropose lets the carrier revise the pending value.
func (c *Chat) CounterPropose(value decimal.Decimal, reason string) (Payload, error) {
	r, err := c.pending()
	if err != nil {
		return Payload{}, err
	}
	if r.Attempts >= MaxCounterProposals {
		return Payload{}, ErrCounterProposalLimit
	}
	if strings.TrimSpace(reason) == "" {
		return Payload{}, fmt.Errorf("%w: reason required", ErrInvalidProposal)
	}
	value = value.Round(2)
	if !value.IsPositive() || value.Equal(r.ProposedValue) || value.Equal(r.OriginalValue) {
		return Payload{}, fmt.Errorf("%w: value %s", ErrInvalidProposal, value)
	}
	r.Attempts++
	r.ProposedValue = value
	return r.payload(PayloadCounterProposal, reason), nil
}

// AcceptOriginal is the carrier settling for the agreed value; it produces a
// zero-difference approval without client input.
func (c *Chat) AcceptOriginal() (Payload, error) {
	r, err := c.pending()
	if err != nil {
		return Payload{}, err
	}
	r.ProposedValue = r.OriginalValue
	r.Status = StatusApproved
	return r.payload(PayloadApproval, "carrier accepted original value"), nil
}

// Withdraw is the carrier giving up on the shipment.
func (c *Chat) Withdraw(reason string) (Payload, error) {
	r, err := c.pending()
	if err != nil {
		return Payload{}, err
	}
	r.Status = StatusRejected
	return r.payload(PayloadWithdrawal, strings.TrimSpace(reason)), nil
}

// Describe renders a payload as the human-readable message body.
func Describe(p Payload) string {
	switch p.Type {
	case PayloadProposal:
		return fmt.Sprintf("Transport document %s declares %s against the agreed %s (difference %s).",
			p.DocumentCode, p.ProposedValue.StringFixed(2), p.OriginalValue.StringFixed(2), p.Difference.StringFixed(2))
	case PayloadCounterProposal:
		return fmt.Sprintf("Carrier proposes %s (difference %s): %s", p.ProposedValue.StringFixed(2), p.Difference.StringFixed(2), p.Reason)
	case PayloadApproval:
		return fmt.Sprintf("Value %s approved.", p.ProposedValue.StringFixed(2))
	case PayloadRejection:
		if p.Reason == "" {
			return fmt.Sprintf("Value %s rejected.", p.ProposedValue.StringFixed(2))
		}
		return fmt.Sprintf("Value %s rejected: %s", p.ProposedValue.StringFixed(2), p.Reason)
	case PayloadWithdrawal:
		return "Carrier withdrew from the shipment."
	default:
		return ""
	}
}
