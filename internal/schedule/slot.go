package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	ErrInvalidSlotLabel = errors.New("invalid slot label, expected 24-hour HH:MM")
	ErrDuplicateSlot    = errors.New("duplicate slot label")
	ErrInvalidDate      = errors.New("invalid date, expected YYYY-MM-DD")
)

const (
	TimeFormat = "15:04"
	DateFormat = "2006-01-02"
)

var slotLabelPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// SlotLabel is a wall-clock time of day in provider-local time.
type SlotLabel string

func ParseSlotLabel(s string) (SlotLabel, error) {
	if !slotLabelPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSlotLabel, s)
	}
	return SlotLabel(s), nil
}

// Clock returns hour and minute. The label must be valid.
func (l SlotLabel) Clock() (hour, minute int) {
	t, err := time.Parse(TimeFormat, string(l))
	if err != nil {
		return 0, 0
	}
	return t.Hour(), t.Minute()
}

func (l SlotLabel) String() string { return string(l) }

// SlotList is an ordered set of slot labels for one weekday.
type SlotList []SlotLabel

// NewSlotList validates every label and rejects duplicates. Order is kept.
func NewSlotList(labels []string) (SlotList, error) {
	seen := make(map[SlotLabel]struct{}, len(labels))
	list := make(SlotList, 0, len(labels))
	for _, raw := range labels {
		label, err := ParseSlotLabel(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[label]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSlot, label)
		}
		seen[label] = struct{}{}
		list = append(list, label)
	}
	return list, nil
}

func (s SlotList) Contains(label SlotLabel) bool {
	for _, l := range s {
		if l == label {
			return true
		}
	}
	return false
}

// Without returns the labels not in taken, preserving order.
func (s SlotList) Without(taken []SlotLabel) SlotList {
	if len(taken) == 0 {
		return append(SlotList{}, s...)
	}
	skip := make(map[SlotLabel]struct{}, len(taken))
	for _, t := range taken {
		skip[t] = struct{}{}
	}
	out := make(SlotList, 0, len(s))
	for _, l := range s {
		if _, ok := skip[l]; !ok {
			out = append(out, l)
		}
	}
	return out
}

func (s SlotList) Strings() []string {
	out := make([]string, len(s))
	for i, l := range s {
		out[i] = string(l)
	}
	return out
}

// WeeklyTemplate maps each weekday to its slot list. Missing days are closed.
type WeeklyTemplate map[Weekday]SlotList

func (t WeeklyTemplate) For(d Weekday) SlotList {
	if t == nil {
		return SlotList{}
	}
	if list, ok := t[d]; ok {
		return list
	}
	return SlotList{}
}

// ParseDate parses a timezone-naive calendar date. The result is midnight UTC.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return d, nil
}

// DateIn returns the calendar day of t as seen in loc, as midnight UTC.
func DateIn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// At combines a calendar date and a slot label into an instant in loc.
func At(date time.Time, label SlotLabel, loc *time.Location) time.Time {
	y, m, d := date.Date()
	hour, minute := label.Clock()
	return time.Date(y, m, d, hour, minute, 0, 0, loc)
}
