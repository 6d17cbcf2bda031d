package snapshot

import (
	"math"

	"neuron/internal/domain"
)

// WorkTree is the read-only program hierarchy a snapshot is computed from.
// Archived initiatives are already excluded by the store.
type WorkTree struct {
	ProgramID   string
	Workstreams []WorkstreamNode
}

// WorkstreamNode is a workstream and its live initiatives.
type WorkstreamNode struct {
	ID          string
	Name        string
	Initiatives []InitiativeNode
}

// InitiativeNode is an initiative and its sub-tasks.
type InitiativeNode struct {
	ID       string
	Name     string
	SubTasks []SubTaskNode
}

// SubTaskNode carries what a sub-task contributes to the totals.
type SubTaskNode struct {
	Points            int
	CompletionPercent int
}

// Totals is the result of aggregating a WorkTree.
type Totals struct {
	TotalPoints     int
	CompletedPoints int
	WorkstreamData  domain.WorkstreamData
}

// CompletedPoints returns the rounded number of points earned by a sub-task.
// Rounding happens per sub-task so the sums at every level agree.
func CompletedPoints(points, completionPercent int) int {
	return int(math.Round(float64(points) * float64(completionPercent) / 100))
}

// PercentComplete returns completed/total*100, or 0 when total is 0.
func PercentComplete(total, completed int) float64 {
	if total == 0 {
		return 0
	}
	return float64(completed) / float64(total) * 100
}

// Aggregate sums sub-task points into initiative, workstream and program
// totals. Negative points or percentages outside 0..100 are rejected.
func Aggregate(tree WorkTree) (Totals, error) {
	out := Totals{WorkstreamData: domain.WorkstreamData{}}
	for _, ws := range tree.Workstreams {
		wsBreakdown := domain.WorkstreamBreakdown{
			Name:          ws.Name,
			Subcomponents: map[string]domain.InitiativeBreakdown{},
		}
		for _, in := range ws.Initiatives {
			inBreakdown := domain.InitiativeBreakdown{Name: in.Name}
			for _, st := range in.SubTasks {
				if st.Points < 0 {
					return Totals{}, domain.Invalid("points", "must not be negative")
				}
				if st.CompletionPercent < 0 || st.CompletionPercent > 100 {
					return Totals{}, domain.Invalid("completion_percent", "must be between 0 and 100")
				}
				inBreakdown.TotalPoints += st.Points
				inBreakdown.CompletedPoints += CompletedPoints(st.Points, st.CompletionPercent)
			}
			wsBreakdown.TotalPoints += inBreakdown.TotalPoints
			wsBreakdown.CompletedPoints += inBreakdown.CompletedPoints
			wsBreakdown.Subcomponents[in.ID] = inBreakdown
		}
		out.TotalPoints += wsBreakdown.TotalPoints
		out.CompletedPoints += wsBreakdown.CompletedPoints
		out.WorkstreamData[ws.ID] = wsBreakdown
	}
	return out, nil
}
