// Package schedule holds the recurring weekly availability template of a
// provider: which "HH:MM" slot labels are offered on each weekday.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidWeekday = errors.New("invalid weekday")

// Weekday is Monday-first, unlike time.Weekday.
type Weekday int

const (
	Monday Weekday = iota + 1
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// Week lists all weekdays in calendar order.
var Week = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

var weekdayNames = map[Weekday]string{
	Monday:    "monday",
	Tuesday:   "tuesday",
	Wednesday: "wednesday",
	Thursday:  "thursday",
	Friday:    "friday",
	Saturday:  "saturday",
	Sunday:    "sunday",
}

func (d Weekday) String() string {
	if name, ok := weekdayNames[d]; ok {
		return name
	}
	return fmt.Sprintf("weekday(%d)", int(d))
}

func (d Weekday) Valid() bool {
	return d >= Monday && d <= Sunday
}

// ParseWeekday accepts full names or three letter abbreviations, any case.
func ParseWeekday(s string) (Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, d := range Week {
		name := weekdayNames[d]
		if s == name || (len(s) == 3 && strings.HasPrefix(name, s)) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidWeekday, s)
}

// FromTime converts a time.Weekday.
func FromTime(d time.Weekday) Weekday {
	if d == time.Sunday {
		return Sunday
	}
	return Weekday(d)
}

// WeekdayOf returns the weekday of a calendar date.
func WeekdayOf(date time.Time) Weekday {
	return FromTime(date.Weekday())
}

func (d Weekday) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWeekday, int(d))
	}
	return []byte(d.String()), nil
}

func (d *Weekday) UnmarshalText(b []byte) error {
	parsed, err := ParseWeekday(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
