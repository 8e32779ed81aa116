package pickup

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"
)

const (
	// CodeLength is the number of characters a driver reads out at pickup.
	CodeLength = 5
	alphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	dayLayout  = "2006-01-02"

	deliveryHour = 19
)

var (
	// ErrCodeNotGeneratedToday signals the carrier has no code for the current day.
	ErrCodeNotGeneratedToday = errors.New("pickup: daily code not generated today")
	// ErrCodeMismatch signals the typed code differs from the carrier's active code.
	ErrCodeMismatch = errors.New("pickup: code mismatch")
)

// DailyCode is the carrier-scoped secret for one calendar day. Any of the
// carrier's accepted quotes may be confirmed with it on that day.
type DailyCode struct {
	CarrierID   string
	Code        string
	GeneratedOn string
	GeneratedAt time.Time
}

// Day formats t as the calendar day in loc.
func Day(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dayLayout)
}

// NewCode draws CodeLength characters from src. Pass nil to use crypto/rand.
func NewCode(src io.Reader) (string, error) {
	if src == nil {
		src = rand.Reader
	}
	max := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(CodeLength)
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(src, max)
		if err != nil {
			return "", fmt.Errorf("pickup: draw code: %w", err)
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Generate issues a fresh code for carrierID dated today in loc.
func Generate(carrierID string, now time.Time, loc *time.Location, src io.Reader) (DailyCode, error) {
	if carrierID == "" {
		return DailyCode{}, fmt.Errorf("pickup: carrier id required")
	}
	code, err := NewCode(src)
	if err != nil {
		return DailyCode{}, err
	}
	return DailyCode{
		CarrierID:   carrierID,
		Code:        code,
		GeneratedOn: Day(now, loc),
		GeneratedAt: now,
	}, nil
}

// Normalize upper-cases input and drops anything outside A-Z0-9.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidToday reports whether c was generated on now's calendar day.
func (c DailyCode) ValidToday(now time.Time, loc *time.Location) bool {
	return c.Code != "" && c.GeneratedOn == Day(now, loc)
}

// Verify checks typed against c. A code from another day fails with
// ErrCodeNotGeneratedToday even when the strings match.
func (c DailyCode) Verify(typed string, now time.Time, loc *time.Location) error {
	if !c.ValidToday(now, loc) {
		return ErrCodeNotGeneratedToday
	}
	if subtle.ConstantTimeCompare([]byte(Normalize(typed)), []byte(c.Code)) != 1 {
		return ErrCodeMismatch
	}
	return nil
}

// EstimatedDelivery is 19:00 local on the day after pickup, plus one day for
// every lead-time day beyond the first.
func EstimatedDelivery(pickedUp time.Time, leadDays int, loc *time.Location) time.Time {
	if leadDays < 1 {
		leadDays = 1
	}
	local := pickedUp.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+leadDays, deliveryHour, 0, 0, 0, loc)
}
