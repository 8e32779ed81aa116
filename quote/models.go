package quote

import (
	"time"

	"github.com/shopspring/decimal"
)

type FreightPayer string

const (
	PayerOrigin      FreightPayer = "origin"
	PayerDestination FreightPayer = "destination"
)

// Address is a snapshot taken when the quote is created; later edits to the
// client's address book do not reach existing quotes.
type Address struct {
	Street     string `json:"street"`
	Number     string `json:"number"`
	District   string `json:"district"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
}

type Cargo struct {
	Description  string
	WeightKg     decimal.Decimal
	Volumes      int
	InvoiceValue decimal.Decimal
	FreightPayer FreightPayer
}

type Route struct {
	Pickup          Address
	Destination     Address
	ScheduledPickup time.Time
	BiddingDeadline time.Time
}

// Selection is set once a response is accepted and never changes afterwards.
type Selection struct {
	ResponseID     string
	CarrierID      string
	LeadTimeDays   int
	InsuranceValue decimal.Decimal
	AcceptedAt     time.Time
}

type Pickup struct {
	ConfirmedAt       time.Time
	EstimatedDelivery time.Time
	Late              bool
	DelayReason       string
	RevisedDelivery   *time.Time
}

// Document holds the transport document (CT-e) facts of the current
// negotiation cycle.
type Document struct {
	Code            string
	OriginalValue   decimal.Decimal
	DeclaredValue   decimal.Decimal
	Difference      decimal.Decimal
	RegisteredAt    time.Time
	ApprovedAt      *time.Time
	RejectionReason string
}

func (d *Document) Approved() bool {
	return d != nil && d.ApprovedAt != nil
}

type Delivery struct {
	Documents    []string
	TrackingURL  string
	TrackingCode string
}

// Quote is the aggregate root of the lifecycle. Optional sections are nil
// until the lifecycle reaches the state that produces them.
type Quote struct {
	ID       string
	ClientID string
	Status   Status
	Cargo    Cargo
	Route    Route

	// AgreedValue is the authoritative freight value: the accepted bid,
	// replaced by an approved transport document value.
	AgreedValue decimal.Decimal

	Selection *Selection
	Pickup    *Pickup
	Document  *Document
	Delivery  Delivery

	FinalizedAt  *time.Time
	ReturnedAt   *time.Time
	ReturnReason string
	Evaluated    bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CarrierID returns the winning carrier, or "" before acceptance.
func (q Quote) CarrierID() string {
	if q.Selection == nil {
		return ""
	}
	return q.Selection.CarrierID
}

// Clone returns a deep copy so callers can validate a transition on the copy
// and discard it on failure.
func (q Quote) Clone() Quote {
	out := q
	if q.Selection != nil {
		sel := *q.Selection
		out.Selection = &sel
	}
	if q.Pickup != nil {
		p := *q.Pickup
		if q.Pickup.RevisedDelivery != nil {
			t := *q.Pickup.RevisedDelivery
			p.RevisedDelivery = &t
		}
		out.Pickup = &p
	}
	if q.Document != nil {
		d := *q.Document
		if q.Document.ApprovedAt != nil {
			t := *q.Document.ApprovedAt
			d.ApprovedAt = &t
		}
		out.Document = &d
	}
	out.Delivery.Documents = append([]string(nil), q.Delivery.Documents...)
	if q.FinalizedAt != nil {
		t := *q.FinalizedAt
		out.FinalizedAt = &t
	}
	if q.ReturnedAt != nil {
		t := *q.ReturnedAt
		out.ReturnedAt = &t
	}
	return out
}

// Response is a carrier bid against a quote.
type Response struct {
	ID             string
	QuoteID        string
	CarrierID      string
	TotalValue     decimal.Decimal
	LeadTimeDays   int
	InsuranceValue decimal.Decimal
	Selected       bool
	CreatedAt      time.Time
}
