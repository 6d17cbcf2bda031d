package burndown

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuron/internal/domain"
)

func snap(key string, total, completed int) domain.Snapshot {
	return domain.Snapshot{ProgramID: "p1", DateKey: key, TotalPoints: total, CompletedPoints: completed}
}

func TestScopeChangesExample(t *testing.T) {
	snaps := []domain.Snapshot{
		snap("2026-02-15", 100, 10),
		snap("2026-02-16", 100, 20),
		snap("2026-02-17", 120, 25),
	}
	assert.Equal(t, []string{"2026-02-17"}, ScopeChanges(snaps))
}

func TestScopeChangesIgnoresDirection(t *testing.T) {
	snaps := []domain.Snapshot{
		snap("2026-01-12", 50, 0),
		snap("2026-01-26", 40, 5),
		snap("2026-02-09", 40, 10),
		snap("2026-02-23", 55, 10),
	}
	assert.Equal(t, []string{"2026-01-26", "2026-02-23"}, ScopeChanges(snaps))

	events := ScopeChangeEvents(snaps)
	require.Len(t, events, 2)
	assert.False(t, events[0].Increased())
	assert.Equal(t, -10, events[0].Delta())
	assert.True(t, events[1].Increased())
	assert.Equal(t, 15, events[1].Delta())
}

func TestScopeChangesOrdersInput(t *testing.T) {
	snaps := []domain.Snapshot{
		snap("2026-02-17", 120, 25),
		snap("2026-02-15", 100, 10),
		snap("2026-02-16", 100, 20),
	}
	assert.Equal(t, []string{"2026-02-17"}, ScopeChanges(snaps))
	assert.Equal(t, "2026-02-17", snaps[0].DateKey, "input must not be reordered")
}

func TestScopeChangesShortHistory(t *testing.T) {
	assert.Empty(t, ScopeChanges(nil))
	assert.Empty(t, ScopeChanges([]domain.Snapshot{snap("2026-02-15", 10, 0)}))
}

func TestSeries(t *testing.T) {
	snaps := []domain.Snapshot{
		snap("2026-01-12", 100, 10),
		snap("2026-02-09", 120, 60),
	}
	got := Series(snaps)
	require.Len(t, got, 2)
	assert.Equal(t, Point{DateKey: "2026-01-12", Label: "P2 2026: Jan 12 - Jan 25", Remaining: 90, Total: 100}, got[0])
	assert.Equal(t, 60, got[1].Remaining)
	assert.Equal(t, 120, got[1].Total)
}

func TestSeriesKeepsUnparseableKeyAsLabel(t *testing.T) {
	got := Series([]domain.Snapshot{snap("week-7", 5, 1)})
	require.Len(t, got, 1)
	assert.Equal(t, "week-7", got[0].Label)
}

func TestAxisLeavesGaps(t *testing.T) {
	snaps := []domain.Snapshot{
		snap("2026-01-12", 100, 10),
		snap("2026-02-09", 120, 60),
	}
	from := time.Date(2026, time.January, 12, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, time.February, 9, 0, 0, 0, 0, time.UTC)
	labels, remaining, total := Axis(from, to, snaps)
	require.Len(t, labels, 3)
	assert.Equal(t, 90, remaining[0].Value)
	assert.Equal(t, "-", remaining[1].Value)
	assert.Equal(t, "-", total[1].Value)
	assert.Equal(t, 60, remaining[2].Value)
}

func TestBounds(t *testing.T) {
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	from, to := Bounds(nil, now)
	assert.Equal(t, now, from)
	assert.Equal(t, now, to)

	from, to = Bounds([]domain.Snapshot{snap("2026-02-09", 1, 0), snap("2026-01-12", 1, 0)}, now)
	assert.Equal(t, "2026-01-12", from.Format("2006-01-02"))
	assert.Equal(t, "2026-02-09", to.Format("2006-01-02"))
}

func TestChartRenders(t *testing.T) {
	snaps := []domain.Snapshot{snap("2026-01-12", 100, 10), snap("2026-02-09", 120, 60)}
	from, to := Bounds(snaps, time.Now())
	var buf bytes.Buffer
	require.NoError(t, Chart("Burndown", from, to, snaps).Render(&buf))
	assert.Contains(t, buf.String(), "Remaining")
	assert.Contains(t, buf.String(), "Total scope")
}
