// Package period maps instants to biweekly reporting periods built from pairs
// of ISO weeks.
//
// ISO weeks {1,2} form period 1, {3,4} period 2 and so on. A period starts on
// the Monday of the first week of its pair and ends 13 days later. Pairing
// restarts in every ISO week-year, so a 53-week year ends with a period 27
// whose nominal span overlaps period 1 of the following year; every calendar
// date still resolves to exactly one period.
package period

import (
	"fmt"
	"sort"
	"time"
)

// KeyLayout is the layout of a period DateKey.
const KeyLayout = "2006-01-02"

// Length is the number of days covered by a period.
const Length = 14

// Period is a two-week reporting window made of ISO weeks 2n-1 and 2n.
type Period struct {
	DateKey      string    `json:"date_key"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
	Label        string    `json:"label"`
	ISOYear      int       `json:"iso_year"`
	PeriodNumber int       `json:"period_number"`
}

// Contains reports whether the calendar date of t (UTC) lies in the period.
func (p Period) Contains(t time.Time) bool {
	d := dateOf(t)
	return !d.Before(p.StartDate) && !d.After(p.EndDate)
}

// For returns the period containing the UTC calendar date of t.
func For(t time.Time) Period {
	d := dateOf(t)
	year, week := d.ISOWeek()
	number := (week + 1) / 2
	start := weekOneMonday(year).AddDate(0, 0, (2*number-2)*7)
	end := start.AddDate(0, 0, Length-1)
	return Period{
		DateKey:      start.Format(KeyLayout),
		StartDate:    start,
		EndDate:      end,
		Label:        label(number, year, start, end),
		ISOYear:      year,
		PeriodNumber: number,
	}
}

// Current returns the period containing now(). A nil now uses time.Now.
func Current(now func() time.Time) Period {
	if now == nil {
		now = time.Now
	}
	return For(now())
}

// InRange enumerates the periods touched by [from, to]. It walks from `from`
// in 14-day strides, then adds the period containing `to`. The result is
// sorted ascending by DateKey with no duplicates.
func InRange(from, to time.Time) []Period {
	start := dateOf(from)
	end := dateOf(to)
	seen := make(map[string]struct{})
	var out []Period
	add := func(p Period) {
		if _, ok := seen[p.DateKey]; ok {
			return
		}
		seen[p.DateKey] = struct{}{}
		out = append(out, p)
	}
	for cursor := start; !cursor.After(end); cursor = cursor.AddDate(0, 0, Length) {
		add(For(cursor))
	}
	add(For(end))
	sort.Slice(out, func(i, j int) bool { return out[i].DateKey < out[j].DateKey })
	return out
}

// Span returns the most periods InRange(from, to) can yield, without
// building them.
func Span(from, to time.Time) int {
	start, end := dateOf(from), dateOf(to)
	if start.After(end) {
		return 1
	}
	days := int(end.Sub(start).Hours() / 24)
	return days/Length + 2
}

// ParseKey parses a YYYY-MM-DD key as a UTC date.
func ParseKey(key string) (time.Time, error) {
	t, err := time.ParseInLocation(KeyLayout, key, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date key %q: %w", key, err)
	}
	return t, nil
}

// ForKey returns the period containing the date named by key.
func ForKey(key string) (Period, error) {
	t, err := ParseKey(key)
	if err != nil {
		return Period{}, err
	}
	return For(t), nil
}

func dateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// weekOneMonday returns the Monday of ISO week 1, the week holding January 4.
func weekOneMonday(isoYear int) time.Time {
	jan4 := time.Date(isoYear, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7
	return jan4.AddDate(0, 0, -offset)
}

func label(number, year int, start, end time.Time) string {
	return fmt.Sprintf("P%d %d: %s - %s", number, year, start.Format("Jan 2"), end.Format("Jan 2"))
}
