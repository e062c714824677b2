package history

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ExportCSV writes the records as CSV, one row per session.
func ExportCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	header := []string{"id", "plan_name", "phases_completed", "total_secs", "avg_bpm", "started_at", "ended_at"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("history: write csv header: %w", err)
	}

	for _, rec := range records {
		row := []string{
			rec.ID,
			rec.Summary.PlanName,
			strconv.Itoa(rec.Summary.PhasesCompleted),
			strconv.FormatUint(uint64(rec.Summary.TotalSecs), 10),
			strconv.FormatFloat(rec.Summary.AvgBPM, 'f', 1, 64),
			rec.Summary.StartedAt.Format(time.RFC3339),
			rec.Summary.EndedAt.Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("history: write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
