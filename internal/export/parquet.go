package export

import (
	"fmt"
	"io"
	"sort"

	"github.com/parquet-go/parquet-go"

	"neuron/internal/burndown"
	"neuron/internal/domain"
)

// SnapshotRow is one snapshot flattened per workstream for columnar
// analysis. Program-level totals repeat on every row of the same snapshot.
type SnapshotRow struct {
	ProgramID       string  `parquet:"program_id,snappy,dict"`
	DateKey         string  `parquet:"date_key,snappy"`
	Period          string  `parquet:"period,snappy"`
	TotalPoints     int32   `parquet:"total_points,snappy"`
	CompletedPoints int32   `parquet:"completed_points,snappy"`
	PercentComplete float64 `parquet:"percent_complete,snappy"`

	// WorkstreamID is nil for snapshots without a breakdown.
	WorkstreamID              *string `parquet:"workstream_id,optional,snappy,dict"`
	WorkstreamName            *string `parquet:"workstream_name,optional,snappy,dict"`
	WorkstreamTotalPoints     *int32  `parquet:"workstream_total_points,optional,snappy"`
	WorkstreamCompletedPoints *int32  `parquet:"workstream_completed_points,optional,snappy"`
}

// SnapshotRows flattens snapshots in date order, workstreams by id.
func SnapshotRows(snaps []domain.Snapshot) []SnapshotRow {
	var rows []SnapshotRow
	ordered := make([]domain.Snapshot, len(snaps))
	copy(ordered, snaps)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].DateKey < ordered[j].DateKey })
	for _, s := range ordered {
		base := SnapshotRow{
			ProgramID:       s.ProgramID,
			DateKey:         s.DateKey,
			Period:          burndown.Label(s.DateKey),
			TotalPoints:     int32(s.TotalPoints),
			CompletedPoints: int32(s.CompletedPoints),
			PercentComplete: s.PercentComplete,
		}
		if len(s.WorkstreamData) == 0 {
			rows = append(rows, base)
			continue
		}
		ids := make([]string, 0, len(s.WorkstreamData))
		for id := range s.WorkstreamData {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			ws := s.WorkstreamData[id]
			row := base
			row.WorkstreamID = &id
			row.WorkstreamName = &ws.Name
			total, done := int32(ws.TotalPoints), int32(ws.CompletedPoints)
			row.WorkstreamTotalPoints = &total
			row.WorkstreamCompletedPoints = &done
			rows = append(rows, row)
		}
	}
	return rows
}

// WriteSnapshotsParquet writes SnapshotRows(snaps) as a Parquet file.
func WriteSnapshotsParquet(w io.Writer, snaps []domain.Snapshot) error {
	writer := parquet.NewGenericWriter[SnapshotRow](w)
	if _, err := writer.Write(SnapshotRows(snaps)); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}
