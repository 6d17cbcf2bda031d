// Package burndown derives chart series and scope-change markers from a
// program's snapshot history.
package burndown

import (
	"sort"

	"neuron/internal/domain"
	"neuron/internal/period"
)

// Point is one burndown sample. Remaining is total minus completed points.
type Point struct {
	DateKey   string `json:"date_key"`
	Label     string `json:"label"`
	Remaining int    `json:"remaining"`
	Total     int    `json:"total"`
}

// ScopeChange marks a snapshot whose total differs from the one before it.
type ScopeChange struct {
	DateKey string `json:"date_key"`
	From    int    `json:"from"`
	To      int    `json:"to"`
}

func (c ScopeChange) Delta() int { return c.To - c.From }

func (c ScopeChange) Increased() bool { return c.To > c.From }

// Series projects snapshots onto burndown points in date order. Missing
// periods are not filled in.
func Series(snaps []domain.Snapshot) []Point {
	ordered := sorted(snaps)
	out := make([]Point, 0, len(ordered))
	for _, s := range ordered {
		out = append(out, Point{
			DateKey:   s.DateKey,
			Label:     Label(s.DateKey),
			Remaining: s.TotalPoints - s.CompletedPoints,
			Total:     s.TotalPoints,
		})
	}
	return out
}

// ScopeChanges returns the date keys of snapshots whose total differs from
// the preceding snapshot.
func ScopeChanges(snaps []domain.Snapshot) []string {
	events := ScopeChangeEvents(snaps)
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.DateKey)
	}
	return out
}

// ScopeChangeEvents is ScopeChanges with the totals on either side.
func ScopeChangeEvents(snaps []domain.Snapshot) []ScopeChange {
	ordered := sorted(snaps)
	out := []ScopeChange{}
	for i := 1; i < len(ordered); i++ {
		prev, cur := ordered[i-1], ordered[i]
		if cur.TotalPoints != prev.TotalPoints {
			out = append(out, ScopeChange{DateKey: cur.DateKey, From: prev.TotalPoints, To: cur.TotalPoints})
		}
	}
	return out
}

// Label returns the period label for a date key, or the key itself when it
// does not parse.
func Label(dateKey string) string {
	p, err := period.ForKey(dateKey)
	if err != nil {
		return dateKey
	}
	return p.Label
}

func sorted(snaps []domain.Snapshot) []domain.Snapshot {
	out := make([]domain.Snapshot, len(snaps))
	copy(out, snaps)
	sort.SliceStable(out, func(i, j int) bool { return out[i].DateKey < out[j].DateKey })
	return out
}
