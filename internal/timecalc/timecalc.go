// Package timecalc holds the calendar arithmetic behind list, export and
// report ranges. Dates are the YYYY-MM-DD strings stored on entries.
package timecalc

import (
	"fmt"
	"strings"
	"time"

	"github.com/Tiliavir/trivial-work-log/internal/model"
)

// WeekRange returns the Monday and Sunday of the ISO week containing t.
func WeekRange(t time.Time) (time.Time, time.Time) {
	// Go's weekday: Sunday=0, Monday=1, …, Saturday=6
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7 // treat Sunday as 7 (ISO)
	}
	monday := t.AddDate(0, 0, -(wd - 1))
	monday = time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, t.Location())
	sunday := monday.AddDate(0, 0, 6)
	sunday = time.Date(sunday.Year(), sunday.Month(), sunday.Day(), 23, 59, 59, 0, t.Location())
	return monday, sunday
}

// ISOWeekLabel returns a label like "2026-W09".
func ISOWeekLabel(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// StartOfDay returns 00:00:00 of the same day.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// SameDay reports whether two times fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DateRange is an inclusive range of entry dates. Empty bounds are open.
type DateRange struct {
	From string
	To   string
}

// Day returns the range covering the day of t.
func Day(t time.Time) DateRange {
	d := t.Format(model.DateLayout)
	return DateRange{From: d, To: d}
}

// Week returns the range covering the ISO week of t.
func Week(t time.Time) DateRange {
	monday, sunday := WeekRange(t)
	return DateRange{From: monday.Format(model.DateLayout), To: sunday.Format(model.DateLayout)}
}

// Contains reports whether date lies in r. YYYY-MM-DD strings order like
// the dates they name.
func (r DateRange) Contains(date string) bool {
	if r.From != "" && date < r.From {
		return false
	}
	if r.To != "" && date > r.To {
		return false
	}
	return true
}

// Filter returns the entries whose date lies in r.
func (r DateRange) Filter(entries []model.Entry) []model.Entry {
	out := make([]model.Entry, 0, len(entries))
	for _, e := range entries {
		if r.Contains(e.Date) {
			out = append(out, e)
		}
	}
	return out
}

// String renders the range for headings.
func (r DateRange) String() string {
	switch {
	case r.From == "" && r.To == "":
		return "all time"
	case r.From == r.To:
		return r.From
	default:
		return r.From + " – " + r.To
	}
}

// ParseDate accepts YYYY-MM-DD, "today" or "yesterday" relative to now.
func ParseDate(s string, now time.Time) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "today":
		return now.Format(model.DateLayout), nil
	case "yesterday":
		return now.AddDate(0, 0, -1).Format(model.DateLayout), nil
	}
	t, err := time.ParseInLocation(model.DateLayout, strings.TrimSpace(s), now.Location())
	if err != nil {
		return "", fmt.Errorf("invalid date %q (want YYYY-MM-DD, today or yesterday)", s)
	}
	return t.Format(model.DateLayout), nil
}

// ParseClock accepts HH:MM (or H:MM) and "now".
func ParseClock(s string, now time.Time) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "now") {
		return now.Format(model.TimeLayout), nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		if t, err = time.Parse("3:04", s); err != nil {
			return "", fmt.Errorf("invalid time %q (want HH:MM or now)", s)
		}
	}
	return t.Format(model.TimeLayout), nil
}

// DayLabel renders an entry date like "Mon, 06 May 2024". Malformed dates are
// returned unchanged.
func DayLabel(date string) string {
	t, err := time.Parse(model.DateLayout, date)
	if err != nil {
		return date
	}
	return t.Format("Mon, 02 Jan 2006")
}
