package carrier

import (
	"errors"
	"time"

	"freightflow/rating"
	"freightflow/settlement"
)

var (
	// ErrNotFound signals the requested carrier does not exist.
	ErrNotFound = errors.New("carrier: not found")
	// ErrBlocked signals the carrier may not bid on new quotes.
	ErrBlocked = errors.New("carrier: blocked from bidding")
)

// Profile captures the carrier data exposed via the public API layer and the
// counters the workflow maintains on finalization and evaluation.
type Profile struct {
	ID         string
	Name       string
	Rating     rating.Summary
	Deliveries int

	LatePeriod    string
	LateThisMonth int
	LateYear      int
	LateThisYear  int

	Blocked   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecordFinalization applies the lateness policy. Late deliveries count
// towards the monthly and yearly totals; missing a revised date blocks the
// carrier until an on-time delivery lifts it.
func (p *Profile) RecordFinalization(at time.Time, loc *time.Location, late, missedRevised bool) {
	p.UpdatedAt = at

	period := settlement.PeriodOf(at, loc)
	if p.LatePeriod != period.String() {
		p.LatePeriod = period.String()
		p.LateThisMonth = 0
	}
	if p.LateYear != period.Year {
		p.LateYear = period.Year
		p.LateThisYear = 0
	}

	if !late {
		p.Blocked = false
		return
	}
	p.LateThisMonth++
	p.LateThisYear++
	if missedRevised {
		p.Blocked = true
	}
}

// RecordEvaluation folds a client rating into the running average. Only
// evaluated deliveries are counted.
func (p *Profile) RecordEvaluation(stars int, at time.Time) {
	p.Rating = p.Rating.With(stars)
	p.Deliveries++
	p.UpdatedAt = at
}
