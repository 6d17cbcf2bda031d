package burndown

import (
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"neuron/internal/domain"
	"neuron/internal/period"
)

const (
	lineWidth = 2
	gap       = "-"
)

// Axis lays snapshots onto the period axis spanning [from, to]. Periods with
// no snapshot get the "-" placeholder so the chart shows a gap. When several
// snapshots fall into one period the latest key wins.
func Axis(from, to time.Time, snaps []domain.Snapshot) (labels []string, remaining, total []opts.LineData) {
	byPeriod := make(map[string]domain.Snapshot)
	for _, s := range sorted(snaps) {
		p, err := period.ForKey(s.DateKey)
		if err != nil {
			continue
		}
		byPeriod[p.DateKey] = s
	}
	periods := period.InRange(from, to)
	labels = make([]string, len(periods))
	remaining = make([]opts.LineData, len(periods))
	total = make([]opts.LineData, len(periods))
	for i, p := range periods {
		labels[i] = p.Label
		s, ok := byPeriod[p.DateKey]
		if !ok {
			remaining[i] = opts.LineData{Value: gap}
			total[i] = opts.LineData{Value: gap}
			continue
		}
		remaining[i] = opts.LineData{Value: s.TotalPoints - s.CompletedPoints}
		total[i] = opts.LineData{Value: s.TotalPoints}
	}
	return labels, remaining, total
}

// Bounds returns the first and last snapshot dates, falling back to now for
// an empty history.
func Bounds(snaps []domain.Snapshot, now time.Time) (time.Time, time.Time) {
	ordered := sorted(snaps)
	from, to := now, now
	if len(ordered) == 0 {
		return from, to
	}
	if t, err := period.ParseKey(ordered[0].DateKey); err == nil {
		from = t
	}
	if t, err := period.ParseKey(ordered[len(ordered)-1].DateKey); err == nil {
		to = t
	}
	return from, to
}

// Chart builds the burndown line chart. The ideal line runs from the first
// plotted remaining value down to zero at the end of the axis.
func Chart(title string, from, to time.Time, snaps []domain.Snapshot) *charts.Line {
	labels, remaining, total := Axis(from, to, snaps)

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Bottom: "0"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Points"}),
	)
	line.SetXAxis(labels)
	line.AddSeries("Remaining", remaining,
		charts.WithLineStyleOpts(opts.LineStyle{Width: lineWidth}),
	)
	line.AddSeries("Total scope", total,
		charts.WithLineChartOpts(opts.LineChart{Step: "end"}),
		charts.WithLineStyleOpts(opts.LineStyle{Width: 1, Type: "dashed"}),
	)
	line.AddSeries("Ideal", ideal(remaining),
		charts.WithLineStyleOpts(opts.LineStyle{Width: 1, Type: "dotted", Opacity: opts.Float(0.6)}),
	)
	return line
}

func ideal(remaining []opts.LineData) []opts.LineData {
	out := make([]opts.LineData, len(remaining))
	first := -1
	start := 0
	for i, d := range remaining {
		if v, ok := d.Value.(int); ok {
			first, start = i, v
			break
		}
	}
	for i := range out {
		if first < 0 || i < first {
			out[i] = opts.LineData{Value: gap}
			continue
		}
		steps := len(out) - 1 - first
		if steps == 0 {
			out[i] = opts.LineData{Value: start}
			continue
		}
		v := float64(start) * float64(len(out)-1-i) / float64(steps)
		out[i] = opts.LineData{Value: v}
	}
	return out
}
