package slot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the wire and storage format of a booking date.
const DateLayout = "2006-01-02"

var (
	ErrInvalidDate = errors.New("date must be formatted as YYYY-MM-DD")
	ErrInvalidTime = errors.New("time must be formatted as HH:MM or HH:MM AM/PM")
	ErrOffGrid     = errors.New("time is not on the daily booking grid")
)

// TimeOfDay is minutes past midnight in the clinic timezone.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

// String renders the grid label the booking screens use, e.g. "02:30 PM".
func (t TimeOfDay) String() string {
	h := t.Hour()
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	return fmt.Sprintf("%02d:%02d %s", h12, t.Minute(), suffix)
}

// Compact renders the 24h form used in storage keys, e.g. "1430".
func (t TimeOfDay) Compact() string {
	return fmt.Sprintf("%02d%02d", t.Hour(), t.Minute())
}

// ParseTimeOfDay accepts "10:00 AM", "10:00AM", "14:30" and "1430".
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	meridiem := ""
	for _, m := range []string{"AM", "PM"} {
		if strings.HasSuffix(s, m) {
			meridiem = m
			s = strings.TrimSpace(strings.TrimSuffix(s, m))
		}
	}

	var hh, mm string
	switch {
	case strings.Contains(s, ":"):
		parts := strings.SplitN(s, ":", 2)
		hh, mm = parts[0], parts[1]
	case len(s) == 4:
		hh, mm = s[:2], s[2:]
	default:
		return 0, ErrInvalidTime
	}

	hour, err := strconv.Atoi(hh)
	if err != nil {
		return 0, ErrInvalidTime
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, ErrInvalidTime
	}

	switch meridiem {
	case "":
		if hour < 0 || hour > 23 {
			return 0, ErrInvalidTime
		}
	default:
		if hour < 1 || hour > 12 {
			return 0, ErrInvalidTime
		}
		if hour == 12 {
			hour = 0
		}
		if meridiem == "PM" {
			hour += 12
		}
	}

	return NewTimeOfDay(hour, minute), nil
}

// ParseDate validates a YYYY-MM-DD date and returns it normalised.
func ParseDate(raw string) (string, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return "", ErrInvalidDate
	}
	return d.Format(DateLayout), nil
}

// Grid is the fixed set of bookable times in a day.
type Grid struct {
	times []TimeOfDay
}

// DefaultGrid is two shifts of half-hour slots: 09:00-12:00 and 14:00-18:00.
func DefaultGrid() Grid {
	var times []TimeOfDay
	for m := NewTimeOfDay(9, 0); m < NewTimeOfDay(12, 0); m += 30 {
		times = append(times, m)
	}
	for m := NewTimeOfDay(14, 0); m < NewTimeOfDay(18, 0); m += 30 {
		times = append(times, m)
	}
	return Grid{times: times}
}

func NewGrid(times ...TimeOfDay) Grid {
	out := make([]TimeOfDay, len(times))
	copy(out, times)
	return Grid{times: out}
}

func (g Grid) Times() []TimeOfDay {
	out := make([]TimeOfDay, len(g.times))
	copy(out, g.times)
	return out
}

func (g Grid) Contains(t TimeOfDay) bool {
	for _, gt := range g.times {
		if gt == t {
			return true
		}
	}
	return false
}

// Key identifies one bookable unit.
type Key struct {
	DoctorID uuid.UUID
	Date     string
	Time     TimeOfDay
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.DoctorID, k.Date, k.Time.Compact())
}

// StartsAt resolves the key to an instant in loc.
func (k Key) StartsAt(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(DateLayout, k.Date, loc)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return d.Add(time.Duration(k.Time) * time.Minute), nil
}
