package quote

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidStateTransition signals a transition that is not an edge of the lifecycle graph.
	ErrInvalidStateTransition = errors.New("quote: invalid state transition")
	// ErrExpiredWindow signals the bidding window has closed.
	ErrExpiredWindow = errors.New("quote: bidding window expired")
	// ErrAlreadyAccepted signals a response has already been selected.
	ErrAlreadyAccepted = errors.New("quote: a response was already accepted")
	// ErrMissingReadinessCondition signals finalization before delivery prerequisites hold.
	ErrMissingReadinessCondition = errors.New("quote: missing delivery readiness condition")
	// ErrAlreadyEvaluated signals a second evaluation of the same quote.
	ErrAlreadyEvaluated = errors.New("quote: already evaluated")
	// ErrValidation signals malformed input.
	ErrValidation = errors.New("quote: validation failed")
)

func invalidTransition(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
}

func validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func (q *Quote) moveTo(to Status, now time.Time) error {
	if !q.Status.CanTransition(to) {
		return invalidTransition(q.Status, to)
	}
	q.Status = to
	q.UpdatedAt = now
	return nil
}

// Validate checks the fields a client supplies at creation.
func (q Quote) Validate() error {
	if q.ClientID == "" {
		return validation("client id required")
	}
	if strings.TrimSpace(q.Cargo.Description) == "" {
		return validation("product description required")
	}
	if !q.Cargo.WeightKg.IsPositive() {
		return validation("weight must be positive")
	}
	if q.Cargo.Volumes <= 0 {
		return validation("volume count must be positive")
	}
	if q.Cargo.InvoiceValue.IsNegative() {
		return validation("invoice value cannot be negative")
	}
	switch q.Cargo.FreightPayer {
	case PayerOrigin, PayerDestination:
	default:
		return validation("unknown freight payer %q", q.Cargo.FreightPayer)
	}
	if q.Route.Pickup.City == "" || q.Route.Destination.City == "" {
		return validation("pickup and destination cities required")
	}
	if q.Route.BiddingDeadline.IsZero() {
		return validation("bidding deadline required")
	}
	if !q.CreatedAt.IsZero() && !q.Route.BiddingDeadline.After(q.CreatedAt) {
		return validation("bidding deadline must be in the future")
	}
	return nil
}

// AcceptsBids reports whether a new response may be recorded at now.
func (q Quote) AcceptsBids(now time.Time) error {
	if !q.Status.Bidding() {
		return fmt.Errorf("%w: quote is %s", ErrInvalidStateTransition, q.Status)
	}
	if now.After(q.Route.BiddingDeadline) {
		return ErrExpiredWindow
	}
	return nil
}

// MarkResponded moves an open quote to responded. It reports whether the
// status changed; later states are left alone.
func (q *Quote) MarkResponded(now time.Time) bool {
	if q.Status != StatusOpen {
		return false
	}
	q.Status = StatusResponded
	q.UpdatedAt = now
	return true
}

// Accept selects r as the winning response.
func (q *Quote) Accept(r Response, now time.Time) error {
	if q.Selection != nil || r.Selected {
		return ErrAlreadyAccepted
	}
	if r.QuoteID != q.ID {
		return validation("response %s does not belong to quote %s", r.ID, q.ID)
	}
	if !q.Status.CanTransition(StatusAccepted) {
		return invalidTransition(q.Status, StatusAccepted)
	}
	if now.After(q.Route.BiddingDeadline) {
		return ErrExpiredWindow
	}
	q.Selection = &Selection{
		ResponseID:     r.ID,
		CarrierID:      r.CarrierID,
		LeadTimeDays:   r.LeadTimeDays,
		InsuranceValue: r.InsuranceValue,
		AcceptedAt:     now,
	}
	q.AgreedValue = r.TotalValue
	return q.moveTo(StatusAccepted, now)
}

// AwaitPickup parks an accepted quote until the carrier's driver shows the
// daily code.
func (q *Quote) AwaitPickup(now time.Time) error {
	if q.Status != StatusAccepted {
		return invalidTransition(q.Status, StatusAwaitingPickup)
	}
	return q.moveTo(StatusAwaitingPickup, now)
}

// CanConfirmPickup reports whether the quote is on the accepted track.
func (q Quote) CanConfirmPickup() error {
	if q.Status != StatusAccepted && q.Status != StatusAwaitingPickup {
		return invalidTransition(q.Status, StatusInTransit)
	}
	if q.Selection == nil {
		return fmt.Errorf("%w: no selected response", ErrInvalidStateTransition)
	}
	return nil
}

// ConfirmPickup starts the transit leg. Lateness flags and delay data from
// any earlier report are cleared.
func (q *Quote) ConfirmPickup(at, estimatedDelivery time.Time) error {
	if err := q.CanConfirmPickup(); err != nil {
		return err
	}
	q.Pickup = &Pickup{
		ConfirmedAt:       at,
		EstimatedDelivery: estimatedDelivery,
	}
	return q.moveTo(StatusInTransit, at)
}

// RegisterDocument records a transport document for a new negotiation cycle
// and returns the difference against the agreed value. A zero difference
// approves the document at once; otherwise the quote waits for a decision.
func (q *Quote) RegisterDocument(code string, declared decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if q.Status != StatusInTransit {
		return decimal.Zero, invalidTransition(q.Status, StatusAwaitingCTeApproval)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return decimal.Zero, validation("document code required")
	}
	if !declared.IsPositive() {
		return decimal.Zero, validation("declared value must be positive")
	}
	declared = declared.Round(2)
	diff := declared.Sub(q.AgreedValue)
	q.Document = &Document{
		Code:          code,
		OriginalValue: q.AgreedValue,
		DeclaredValue: declared,
		Difference:    diff,
		RegisteredAt:  now,
	}
	if diff.IsZero() {
		q.Document.ApprovedAt = &now
		q.UpdatedAt = now
		return diff, nil
	}
	return diff, q.moveTo(StatusAwaitingCTeApproval, now)
}

func (q *Quote) pendingDocument(to Status) error {
	if q.Status != StatusAwaitingCTeApproval || q.Document == nil {
		return invalidTransition(q.Status, to)
	}
	return nil
}

// ApproveDocument makes the declared value authoritative.
func (q *Quote) ApproveDocument(now time.Time) error {
	if err := q.pendingDocument(StatusInTransit); err != nil {
		return err
	}
	q.AgreedValue = q.Document.DeclaredValue
	q.Document.ApprovedAt = &now
	q.Document.RejectionReason = ""
	return q.moveTo(StatusInTransit, now)
}

// AcceptOriginalValue resolves the discrepancy in favour of the agreed value.
func (q *Quote) AcceptOriginalValue(now time.Time) error {
	if err := q.pendingDocument(StatusInTransit); err != nil {
		return err
	}
	q.Document.DeclaredValue = q.Document.OriginalValue
	q.Document.Difference = decimal.Zero
	q.Document.ApprovedAt = &now
	q.Document.RejectionReason = ""
	return q.moveTo(StatusInTransit, now)
}

// ReviseDocumentValue replaces the pending declared value with a carrier
// counter-proposal.
func (q *Quote) ReviseDocumentValue(value decimal.Decimal, now time.Time) error {
	if err := q.pendingDocument(StatusAwaitingCTeApproval); err != nil {
		return err
	}
	if !value.IsPositive() {
		return validation("proposed value must be positive")
	}
	value = value.Round(2)
	q.Document.DeclaredValue = value
	q.Document.Difference = value.Sub(q.Document.OriginalValue)
	q.UpdatedAt = now
	return nil
}

// RejectDocument ends the shipment after the client refuses the declared value.
// The agreed value is left untouched.
func (q *Quote) RejectDocument(reason string, now time.Time) error {
	if err := q.pendingDocument(StatusReturned); err != nil {
		return err
	}
	q.Document.RejectionReason = reason
	return q.returnCargo(reason, now)
}

// Return sends the cargo back from any post-acceptance state.
func (q *Quote) Return(reason string, now time.Time) error {
	if strings.TrimSpace(reason) == "" {
		return validation("return reason required")
	}
	return q.returnCargo(reason, now)
}

func (q *Quote) returnCargo(reason string, now time.Time) error {
	if err := q.moveTo(StatusReturned, now); err != nil {
		return err
	}
	q.ReturnedAt = &now
	q.ReturnReason = reason
	return nil
}

func (q *Quote) requireShipping(op string) error {
	if !q.Status.Shipping() {
		return fmt.Errorf("%w: cannot %s while %s", ErrInvalidStateTransition, op, q.Status)
	}
	return nil
}

// AttachDeliveryDocument stores an opaque reference to an uploaded delivery
// receipt.
func (q *Quote) AttachDeliveryDocument(ref string, now time.Time) error {
	if err := q.requireShipping("attach delivery document"); err != nil {
		return err
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return validation("document reference required")
	}
	for _, existing := range q.Delivery.Documents {
		if existing == ref {
			return nil
		}
	}
	q.Delivery.Documents = append(q.Delivery.Documents, ref)
	q.UpdatedAt = now
	return nil
}

func (q *Quote) SetTracking(url, code string, now time.Time) error {
	if err := q.requireShipping("set tracking"); err != nil {
		return err
	}
	url, code = strings.TrimSpace(url), strings.TrimSpace(code)
	if url == "" || code == "" {
		return validation("tracking url and code are both required")
	}
	q.Delivery.TrackingURL = url
	q.Delivery.TrackingCode = code
	q.UpdatedAt = now
	return nil
}

// ReportDelay flags the shipment late and records the carrier's revised
// delivery date.
func (q *Quote) ReportDelay(reason string, revised, now time.Time) error {
	if q.Status != StatusInTransit || q.Pickup == nil {
		return fmt.Errorf("%w: cannot report delay while %s", ErrInvalidStateTransition, q.Status)
	}
	if strings.TrimSpace(reason) == "" {
		return validation("delay reason required")
	}
	if !revised.After(now) {
		return validation("revised delivery must be in the future")
	}
	q.Pickup.Late = true
	q.Pickup.DelayReason = reason
	q.Pickup.RevisedDelivery = &revised
	q.UpdatedAt = now
	return nil
}

// Readiness lists the delivery prerequisites that are not yet met.
func (q Quote) Readiness() error {
	var missing []string
	if q.Document == nil {
		missing = append(missing, "transport document")
	} else if !q.Document.Approved() {
		missing = append(missing, "approved transport document value")
	}
	if len(q.Delivery.Documents) == 0 {
		missing = append(missing, "delivery document")
	}
	if q.Delivery.TrackingURL == "" || q.Delivery.TrackingCode == "" {
		missing = append(missing, "tracking url and code")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingReadinessCondition, strings.Join(missing, ", "))
	}
	return nil
}

func (q *Quote) Finalize(now time.Time) error {
	if !q.Status.CanTransition(StatusFinalized) {
		return invalidTransition(q.Status, StatusFinalized)
	}
	if err := q.Readiness(); err != nil {
		return err
	}
	q.FinalizedAt = &now
	return q.moveTo(StatusFinalized, now)
}

// DeliveredLate reports whether finalization happened after the estimated
// delivery or the carrier had already reported a delay.
func (q Quote) DeliveredLate() bool {
	if q.FinalizedAt == nil || q.Pickup == nil {
		return false
	}
	return q.Pickup.Late || q.FinalizedAt.After(q.Pickup.EstimatedDelivery)
}

// MissedRevisedDelivery reports whether finalization also overran the date
// promised in a delay report.
func (q Quote) MissedRevisedDelivery() bool {
	if q.FinalizedAt == nil || q.Pickup == nil || q.Pickup.RevisedDelivery == nil {
		return false
	}
	return q.FinalizedAt.After(*q.Pickup.RevisedDelivery)
}

func (q *Quote) MarkEvaluated(now time.Time) error {
	if q.Status != StatusFinalized {
		return fmt.Errorf("%w: only finalized quotes can be evaluated (status=%s)", ErrInvalidStateTransition, q.Status)
	}
	if q.Evaluated {
		return ErrAlreadyEvaluated
	}
	q.Evaluated = true
	q.UpdatedAt = now
	return nil
}

// Validate checks a bid before it is stored.
func (r Response) Validate() error {
	if r.QuoteID == "" || r.CarrierID == "" {
		return validation("quote and carrier ids required")
	}
	if !r.TotalValue.IsPositive() {
		return validation("quoted value must be positive")
	}
	if r.LeadTimeDays < 1 {
		return validation("lead time must be at least one day")
	}
	if r.InsuranceValue.IsNegative() {
		return validation("insurance value cannot be negative")
	}
	return nil
}
