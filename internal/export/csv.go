// Package export writes reporting files for snapshot history and costs.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"neuron/internal/burndown"
	"neuron/internal/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// SnapshotHeader is the column order of WriteSnapshotsCSV.
var SnapshotHeader = []string{"date_key", "period", "total_points", "completed_points", "remaining_points", "percent_complete", "scope_change"}

// WriteSnapshotsCSV writes snapshots ascending by date key. scope_change is
// the signed change in total points against the previous row, empty when
// unchanged. Output starts with a UTF-8 BOM and uses CRLF line endings so
// spreadsheets open it as UTF-8.
func WriteSnapshotsCSV(w io.Writer, snaps []domain.Snapshot) error {
	changes := map[string]int{}
	for _, c := range burndown.ScopeChangeEvents(snaps) {
		changes[c.DateKey] = c.Delta()
	}
	cw, err := newWriter(w, SnapshotHeader)
	if err != nil {
		return err
	}
	for _, p := range burndown.Series(snaps) {
		s := find(snaps, p.DateKey)
		scope := ""
		if d, ok := changes[p.DateKey]; ok {
			scope = fmt.Sprintf("%+d", d)
		}
		if err := cw.Write([]string{
			p.DateKey,
			p.Label,
			strconv.Itoa(p.Total),
			strconv.Itoa(s.CompletedPoints),
			strconv.Itoa(p.Remaining),
			strconv.FormatFloat(s.PercentComplete, 'f', 2, 64),
			scope,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CostHeader is the column order of WriteCostsCSV.
var CostHeader = []string{"incurred_on", "description", "workstream", "amount"}

// WriteCostsCSV writes cost entries with amounts in major units. Workstream
// ids are resolved through names when present.
func WriteCostsCSV(w io.Writer, costs []domain.CostEntry, names map[string]string) error {
	cw, err := newWriter(w, CostHeader)
	if err != nil {
		return err
	}
	var total int64
	for _, c := range costs {
		ws := ""
		if c.WorkstreamID != nil {
			ws = *c.WorkstreamID
			if n, ok := names[ws]; ok {
				ws = n
			}
		}
		total += c.AmountCents
		if err := cw.Write([]string{c.IncurredOn, c.Description, ws, FormatCents(c.AmountCents)}); err != nil {
			return err
		}
	}
	if err := cw.Write([]string{"", "Total", "", FormatCents(total)}); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// FormatCents renders an amount in cents as a decimal with two places.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

func newWriter(w io.Writer, header []string) (*csv.Writer, error) {
	if _, err := w.Write(utf8BOM); err != nil {
		return nil, fmt.Errorf("write bom: %w", err)
	}
	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	if err := cw.Write(header); err != nil {
		return nil, err
	}
	return cw, nil
}

func find(snaps []domain.Snapshot, key string) domain.Snapshot {
	for _, s := range snaps {
		if s.DateKey == key {
			return s
		}
	}
	return domain.Snapshot{}
}
