package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestForPairsISOWeeks(t *testing.T) {
	p := For(day(2026, time.February, 17))
	assert.Equal(t, "2026-02-09", p.DateKey)
	assert.Equal(t, 4, p.PeriodNumber)
	assert.Equal(t, 2026, p.ISOYear)
	assert.Equal(t, day(2026, time.February, 22), p.EndDate)
	assert.Equal(t, "P4 2026: Feb 9 - Feb 22", p.Label)

	// Sunday of week 7 and Monday of week 8 share the period.
	assert.Equal(t, p.DateKey, For(day(2026, time.February, 15)).DateKey)
	assert.Equal(t, p.DateKey, For(day(2026, time.February, 16)).DateKey)
}

func TestForUsesISOWeekYear(t *testing.T) {
	p := For(day(2025, time.December, 31))
	assert.Equal(t, 2026, p.ISOYear)
	assert.Equal(t, 1, p.PeriodNumber)
	assert.Equal(t, "2025-12-29", p.DateKey)
}

func TestForUsesUTCCalendarDate(t *testing.T) {
	east := time.FixedZone("UTC+5", 5*60*60)
	// 01:00 on Feb 9 at +05:00 is still Feb 8 in UTC.
	p := For(time.Date(2026, time.February, 9, 1, 0, 0, 0, east))
	assert.Equal(t, "2026-01-26", p.DateKey)
	assert.Equal(t, 3, p.PeriodNumber)
}

func TestFiftyThreeWeekYear(t *testing.T) {
	last := For(day(2026, time.December, 31))
	assert.Equal(t, 27, last.PeriodNumber)
	assert.Equal(t, 2026, last.ISOYear)
	assert.Equal(t, "2026-12-28", last.DateKey)
	assert.Equal(t, day(2027, time.January, 10), last.EndDate)

	first := For(day(2027, time.January, 4))
	assert.Equal(t, 1, first.PeriodNumber)
	assert.Equal(t, 2027, first.ISOYear)
	assert.Equal(t, "2027-01-04", first.DateKey)
}

func TestPeriodShapeForEveryDay(t *testing.T) {
	for d := day(2019, time.December, 1); d.Before(day(2031, time.February, 1)); d = d.AddDate(0, 0, 1) {
		p := For(d)
		require.Equal(t, time.Monday, p.StartDate.Weekday(), "start for %s", d)
		require.Equal(t, 13*24*time.Hour, p.EndDate.Sub(p.StartDate), "length for %s", d)
		require.True(t, p.Contains(d), "%s not inside %s", d, p.DateKey)
		require.Equal(t, p.StartDate.Format(KeyLayout), p.DateKey)
		require.Equal(t, p, For(d.Add(23*time.Hour)), "key depends on time of day for %s", d)
	}
}

func TestPeriodsAreContiguousWithinAYear(t *testing.T) {
	for d := day(2020, time.January, 1); d.Before(day(2030, time.December, 31)); d = d.AddDate(0, 0, 1) {
		cur, next := For(d), For(d.AddDate(0, 0, 1))
		if cur.DateKey == next.DateKey {
			continue
		}
		if cur.ISOYear != next.ISOYear {
			continue
		}
		require.Equal(t, cur.PeriodNumber+1, next.PeriodNumber, "at %s", d)
		require.Equal(t, cur.EndDate.AddDate(0, 0, 1), next.StartDate, "gap after %s", cur.DateKey)
	}
}

func TestCurrentUsesClock(t *testing.T) {
	p := Current(func() time.Time { return day(2026, time.March, 3) })
	assert.Equal(t, "2026-02-23", p.DateKey)
	assert.Equal(t, 5, p.PeriodNumber)
}

func TestInRange(t *testing.T) {
	got := InRange(day(2026, time.January, 1), day(2026, time.February, 17))
	assert.Equal(t, []string{"2025-12-29", "2026-01-12", "2026-01-26", "2026-02-09"}, keys(got))
}

func TestSpanBoundsInRange(t *testing.T) {
	cases := []struct{ from, to time.Time }{
		{day(2026, time.January, 1), day(2026, time.February, 17)},
		{day(2026, time.January, 11), day(2026, time.February, 10)},
		{day(2026, time.February, 9), day(2026, time.February, 9)},
		{day(2020, time.December, 20), day(2021, time.January, 10)},
		{day(2015, time.March, 3), day(2026, time.June, 30)},
		{day(2026, time.March, 1), day(2026, time.January, 1)},
	}
	for _, tc := range cases {
		assert.GreaterOrEqual(t, Span(tc.from, tc.to), len(InRange(tc.from, tc.to)), "%s..%s", tc.from, tc.to)
	}
	assert.Equal(t, 5, Span(day(2026, time.January, 1), day(2026, time.February, 17)))
	assert.Equal(t, 1, Span(day(2026, time.March, 1), day(2026, time.January, 1)))
}

func TestInRangeIncludesPeriodOfTo(t *testing.T) {
	// Strides land on Jan 11, Jan 25 and Feb 8; Feb 10 sits in the next period.
	got := InRange(day(2026, time.January, 11), day(2026, time.February, 10))
	assert.Equal(t, []string{"2025-12-29", "2026-01-12", "2026-01-26", "2026-02-09"}, keys(got))
}

func TestInRangeIsStrictlyAscending(t *testing.T) {
	from := day(2025, time.November, 5)
	for span := 0; span < 120; span++ {
		got := InRange(from, from.AddDate(0, 0, span))
		require.NotEmpty(t, got)
		for i := 1; i < len(got); i++ {
			require.Less(t, got[i-1].DateKey, got[i].DateKey, "span %d", span)
		}
		require.True(t, got[len(got)-1].Contains(from.AddDate(0, 0, span)))
	}
}

func TestInRangeSingleDay(t *testing.T) {
	d := day(2026, time.May, 20)
	got := InRange(d, d)
	require.Len(t, got, 1)
	assert.Equal(t, For(d).DateKey, got[0].DateKey)
}

func TestForKey(t *testing.T) {
	p, err := ForKey("2026-02-17")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-09", p.DateKey)

	_, err = ForKey("17/02/2026")
	assert.Error(t, err)
}

func keys(ps []Period) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.DateKey
	}
	return out
}
