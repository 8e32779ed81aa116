package settlement

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CommissionRate is the marketplace share of every finalized freight.
var CommissionRate = decimal.RequireFromString("0.05")

// ErrLedgerReleased signals an entry that was already paid out and takes no
// more items.
var ErrLedgerReleased = errors.New("settlement: ledger already released")

// DefaultCutoffHour is the local hour on the last day of the month from which
// ledger entries become eligible for release.
const DefaultCutoffHour = 12

// Split is the settlement of a single finalized quote.
type Split struct {
	Gross      decimal.Decimal
	Commission decimal.Decimal
	Insurance  decimal.Decimal
	CarrierNet decimal.Decimal
}

// Compute derives commission and carrier net from the gross value. A zero
// insurance value means no insurance was purchased.
func Compute(gross, insurance decimal.Decimal) Split {
	gross = gross.Round(2)
	insurance = insurance.Round(2)
	commission := gross.Mul(CommissionRate).Round(2)
	return Split{
		Gross:      gross,
		Commission: commission,
		Insurance:  insurance,
		CarrierNet: gross.Sub(commission).Sub(insurance),
	}
}

// Period identifies a ledger month.
type Period struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the local month containing t.
func PeriodOf(t time.Time, loc *time.Location) Period {
	local := t.In(loc)
	return Period{Year: local.Year(), Month: local.Month()}
}

func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("settlement: parse period %q: %w", s, err)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

// Next returns the following month.
func (p Period) Next() Period {
	if p.Month == time.December {
		return Period{Year: p.Year + 1, Month: time.January}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// ReleaseAt is the cutoff on the last calendar day of the period.
func (p Period) ReleaseAt(loc *time.Location, cutoffHour int) time.Time {
	firstOfNext := time.Date(p.Year, p.Month+1, 1, 0, 0, 0, 0, loc)
	last := firstOfNext.AddDate(0, 0, -1)
	return time.Date(last.Year(), last.Month(), last.Day(), cutoffHour, 0, 0, 0, loc)
}

// ReleaseEligible reports whether the period's entries may be paid out at now.
// The payout itself is performed by a separate scheduled process.
func (p Period) ReleaseEligible(now time.Time, loc *time.Location, cutoffHour int) bool {
	return !now.Before(p.ReleaseAt(loc, cutoffHour))
}

// LineItem is one finalized quote inside a ledger entry.
type LineItem struct {
	QuoteID     string
	Split       Split
	FinalizedAt time.Time
}

// LedgerEntry aggregates a carrier's finalized quotes for one month.
type LedgerEntry struct {
	ID         string
	CarrierID  string
	Period     Period
	Gross      decimal.Decimal
	Commission decimal.Decimal
	Insurance  decimal.Decimal
	CarrierNet decimal.Decimal
	Entries    int
	Released   bool
	Items      []LineItem
	UpdatedAt  time.Time
}

// NewLedgerEntry returns an empty entry for carrierID and p.
func NewLedgerEntry(id, carrierID string, p Period) LedgerEntry {
	return LedgerEntry{
		ID:         id,
		CarrierID:  carrierID,
		Period:     p,
		Gross:      decimal.Zero,
		Commission: decimal.Zero,
		Insurance:  decimal.Zero,
		CarrierNet: decimal.Zero,
	}
}

// Add accumulates item into the entry totals.
func (e *LedgerEntry) Add(item LineItem) error {
	if e.Released {
		return fmt.Errorf("%w: %s for %s", ErrLedgerReleased, e.Period, e.CarrierID)
	}
	for _, existing := range e.Items {
		if existing.QuoteID == item.QuoteID {
			return fmt.Errorf("settlement: quote %s already settled", item.QuoteID)
		}
	}
	e.Gross = e.Gross.Add(item.Split.Gross)
	e.Commission = e.Commission.Add(item.Split.Commission)
	e.Insurance = e.Insurance.Add(item.Split.Insurance)
	e.CarrierNet = e.CarrierNet.Add(item.Split.CarrierNet)
	e.Entries++
	e.Items = append(e.Items, item)
	e.UpdatedAt = item.FinalizedAt
	return nil
}
