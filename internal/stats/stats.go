// Package stats renders per-interval capture statistics: the ".stats"
// sidecar file schema and the optional ClickHouse sink.
package stats

import (
	"fmt"
	"io"
	"os"
	"time"

	"ChronoCap/internal/model"
)

// AggregateThreadID is the reserved thread id used for the summary lines
// that aggregate the valid counters of all reporting workers.
const AggregateThreadID = -1

// Aggregate sums the valid counters across all reporting workers.
func Aggregate(perWorker []model.CaptureStats) model.CaptureStats {
	var total model.CaptureStats
	for _, s := range perWorker {
		total.Merge(s)
	}
	return total
}

// Format writes the line-based stats schema:
//
//	time:<T0>
//	thread:<id> <field>_pkts:<n>     (one line per field per worker)
//	thread:-1 <field>_pkts:<sum>     (aggregated summary)
//	merge_duration_msec:<n>
//
// A value of -1 denotes a counter that is not valid for that thread.
func Format(w io.Writer, timestamp uint32, workerIDs []int,
	perWorker []model.CaptureStats, duration time.Duration) error {

	if _, err := fmt.Fprintf(w, "time:%d\n", timestamp); err != nil {
		return err
	}
	for i, st := range perWorker {
		if err := writeThread(w, workerIDs[i], st); err != nil {
			return err
		}
	}
	if err := writeThread(w, AggregateThreadID, Aggregate(perWorker)); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "merge_duration_msec:%d\n", duration.Milliseconds())
	return err
}

func writeThread(w io.Writer, threadID int, st model.CaptureStats) error {
	for _, f := range st.Fields() {
		value := int64(-1)
		if f.Value.Valid {
			value = f.Value.Value
		}
		if _, err := fmt.Fprintf(w, "thread:%d %s_pkts:%d\n", threadID, f.Name, value); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile renders the stats schema into the sidecar file at path.
func WriteFile(path string, timestamp uint32, workerIDs []int,
	perWorker []model.CaptureStats, duration time.Duration) error {

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create stats file %s: %w", path, err)
	}
	defer f.Close()

	if err := Format(f, timestamp, workerIDs, perWorker, duration); err != nil {
		return fmt.Errorf("failed to write stats file %s: %w", path, err)
	}
	return nil
}
