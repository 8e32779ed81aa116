package rating

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// GracePeriod is how long a finalized quote may stay unevaluated before the
// client is barred from creating new quotes.
const GracePeriod = 24 * time.Hour

const maxCommentLength = 2000

var (
	// ErrEvaluationGateBlocked signals overdue evaluations block quote creation.
	ErrEvaluationGateBlocked = errors.New("rating: evaluation overdue, new quotes blocked")
	// ErrInvalidStars signals a rating outside 1..5.
	ErrInvalidStars = errors.New("rating: stars must be between 1 and 5")
)

// Pending is a finalized quote the client has not evaluated yet.
type Pending struct {
	QuoteID     string
	CarrierID   string
	FinalizedAt time.Time
}

// Overdue reports whether the grace window has elapsed at now.
func (p Pending) Overdue(now time.Time) bool {
	return now.Sub(p.FinalizedAt) > GracePeriod
}

// CheckGate returns ErrEvaluationGateBlocked when any pending evaluation is
// overdue.
func CheckGate(pending []Pending, now time.Time) error {
	var overdue []string
	for _, p := range pending {
		if p.Overdue(now) {
			overdue = append(overdue, p.QuoteID)
		}
	}
	if len(overdue) > 0 {
		return fmt.Errorf("%w: evaluate quotes %s", ErrEvaluationGateBlocked, strings.Join(overdue, ", "))
	}
	return nil
}

type Evaluation struct {
	ID        string
	QuoteID   string
	ClientID  string
	CarrierID string
	Stars     int
	Comment   string
	CreatedAt time.Time
}

func (e Evaluation) Validate() error {
	if e.Stars < 1 || e.Stars > 5 {
		return ErrInvalidStars
	}
	if len(e.Comment) > maxCommentLength {
		return fmt.Errorf("rating: comment longer than %d characters", maxCommentLength)
	}
	return nil
}

// Summary is a carrier's running rating.
type Summary struct {
	Average float64
	Count   int
}

// With folds one more rating into the running average.
func (s Summary) With(stars int) Summary {
	total := s.Average*float64(s.Count) + float64(stars)
	count := s.Count + 1
	return Summary{Average: total / float64(count), Count: count}
}
