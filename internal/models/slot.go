package models

import (
	"fmt"
	"time"
)

const (
	// DateLayout is the wire and storage format of a slot date.
	DateLayout = "2006-01-02"
	// ClockLayout is the wire format of a slot boundary.
	ClockLayout = "15:04"

	minutesPerDay = 24 * 60
)

// Slot is a half-open [Start, End) interval on one court and one calendar day.
// Start and End are minutes since midnight.
type Slot struct {
	CourtID int64     `json:"court_id"`
	Date    time.Time `json:"date"`
	Start   int       `json:"start_minute"`
	End     int       `json:"end_minute"`
}

// NewSlot parses "2006-01-02" and "15:04" strings into a validated slot.
func NewSlot(courtID int64, date, start, end string) (Slot, error) {
	d, err := ParseDate(date)
	if err != nil {
		return Slot{}, err
	}
	s, err := ParseClock(start)
	if err != nil {
		return Slot{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Slot{}, err
	}
	slot := Slot{CourtID: courtID, Date: d, Start: s, End: e}
	return slot, slot.Validate()
}

// ParseDate parses a civil date and normalizes it to UTC midnight.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q; expected YYYY-MM-DD", ErrInvalidSlot, s)
	}
	return d.UTC(), nil
}

// ParseClock parses "HH:MM" into minutes since midnight. "24:00" is accepted as end of day.
func ParseClock(s string) (int, error) {
	if s == "24:00" {
		return minutesPerDay, nil
	}
	t, err := time.Parse(ClockLayout, s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid time %q; expected HH:MM", ErrInvalidSlot, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Validate checks the slot is a non-empty interval inside one day.
func (s Slot) Validate() error {
	if s.CourtID <= 0 {
		return fmt.Errorf("%w: court_id is required", ErrInvalidSlot)
	}
	if s.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidSlot)
	}
	if s.Start < 0 || s.End > minutesPerDay {
		return fmt.Errorf("%w: times must be within the day", ErrInvalidSlot)
	}
	if s.End <= s.Start {
		return fmt.Errorf("%w: end must be after start", ErrInvalidSlot)
	}
	return nil
}

// DateKey returns the storage key of the slot date.
func (s Slot) DateKey() string {
	return s.Date.Format(DateLayout)
}

// Minutes is the slot length.
func (s Slot) Minutes() int {
	return s.End - s.Start
}

// Overlaps reports whether two slots collide.
// Uses half-open interval semantics: [a,b) and [c,d) overlap iff a < d && c < b.
func (s Slot) Overlaps(other Slot) bool {
	if s.CourtID != other.CourtID || s.DateKey() != other.DateKey() {
		return false
	}
	return s.Start < other.End && other.Start < s.End
}

func (s Slot) String() string {
	return fmt.Sprintf("court %d %s %s-%s", s.CourtID, s.DateKey(), FormatClock(s.Start), FormatClock(s.End))
}
