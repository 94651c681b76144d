package domain

import (
	"fmt"
	"math"
	"time"
)

// Punch directions.
const (
	PunchIn  = 0
	PunchOut = 1
)

// AttendanceLogEntry is one punch read from a terminal. The terminal is
// authoritative; entries are never written back.
type AttendanceLogEntry struct {
	UID          int       `json:"uid"`
	UserID       string    `json:"user_id"`
	Timestamp    time.Time `json:"timestamp"`
	Punch        int       `json:"punch"`
	VerifyMethod int       `json:"verify_method"`
	Status       int       `json:"status"`
}

const dateLayout = "2006-01-02"

// DateRange is an inclusive range of calendar days. A zero bound is open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// ParseDateRange parses "YYYY-MM-DD" bounds in loc. Empty strings leave the
// corresponding end open.
func ParseDateRange(from, to string, loc *time.Location) (DateRange, error) {
	if loc == nil {
		loc = time.Local
	}

	var r DateRange
	if from != "" {
		t, err := time.ParseInLocation(dateLayout, from, loc)
		if err != nil {
			return DateRange{}, fmt.Errorf("%w: start date %q: %v", ErrInvalidDateRange, from, err)
		}
		r.From = t
	}
	if to != "" {
		t, err := time.ParseInLocation(dateLayout, to, loc)
		if err != nil {
			return DateRange{}, fmt.Errorf("%w: end date %q: %v", ErrInvalidDateRange, to, err)
		}
		r.To = t
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.From.After(r.To) {
		return DateRange{}, fmt.Errorf("%w: %s is after %s", ErrInvalidDateRange, from, to)
	}
	return r, nil
}

// IsOpen reports whether neither bound is set.
func (r DateRange) IsOpen() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// Start is 00:00:00 of the first day, zero when open.
func (r DateRange) Start() time.Time {
	if r.From.IsZero() {
		return time.Time{}
	}
	y, m, d := r.From.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, r.From.Location())
}

// End is 23:59:59 of the last day, zero when open.
func (r DateRange) End() time.Time {
	if r.To.IsZero() {
		return time.Time{}
	}
	y, m, d := r.To.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, r.To.Location())
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	if start := r.Start(); !start.IsZero() && t.Before(start) {
		return false
	}
	if end := r.End(); !end.IsZero() && t.After(end) {
		return false
	}
	return true
}

// EpochBounds returns the range as unix seconds; open ends become 0 and
// math.MaxUint32.
func (r DateRange) EpochBounds() (uint32, uint32) {
	start, end := uint32(0), uint32(math.MaxUint32)
	if s := r.Start(); !s.IsZero() {
		start = clampEpoch(s.Unix())
	}
	if e := r.End(); !e.IsZero() {
		end = clampEpoch(e.Unix())
	}
	return start, end
}

func clampEpoch(v int64) uint32 {
	switch {
	case v < 0:
		return 0
	case v > math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(v)
}
