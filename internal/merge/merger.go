// Package merge implements the cold path: a single goroutine that collects
// per-worker interval completions, closes handed-off interim files, and
// k-way merges each completed interval into one chronologically ordered
// output trace.
package merge

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"

	"ChronoCap/internal/model"
	"ChronoCap/internal/naming"
	"ChronoCap/internal/notify"
	"ChronoCap/internal/stats"
)

// maxBadRecords bounds unknown coordination records before the process
// exits as a protective measure.
const maxBadRecords = 100

// pendingInterval tracks one interval awaiting completion reports from some
// subset of workers.
type pendingInterval struct {
	timestamp       uint32
	workersReported int
	workerIDs       []int
	workerStats     []model.CaptureStats
}

// Config holds the merger's construction parameters.
type Config struct {
	Workers    int
	SnapLen    uint32
	WriteStats bool
}

// Merger is the single consumer of the coordination channel.
type Merger struct {
	cfg    Config
	tmpl   *naming.Template
	coord  <-chan model.CoordinationRecord
	log    *zap.SugaredLogger
	status *model.Status

	// Optional collaborators; nil when disabled.
	notifier *notify.Publisher
	sink     *stats.ClickHouseSink

	// pending is ordered oldest interval first; in normal operation it
	// holds at most one entry.
	pending    []*pendingInterval
	badRecords int

	done chan struct{}
}

// NewMerger builds a merger consuming coord.
func NewMerger(cfg Config, tmpl *naming.Template, coord <-chan model.CoordinationRecord,
	status *model.Status, notifier *notify.Publisher, sink *stats.ClickHouseSink,
	log *zap.SugaredLogger) *Merger {

	return &Merger{
		cfg:      cfg,
		tmpl:     tmpl,
		coord:    coord,
		log:      log,
		status:   status,
		notifier: notifier,
		sink:     sink,
		done:     make(chan struct{}),
	}
}

// Done is closed when the merger loop has exited.
func (m *Merger) Done() <-chan struct{} {
	return m.done
}

// Run consumes coordination records until a stop record arrives. Intended to
// run in its own goroutine.
func (m *Merger) Run() {
	defer close(m.done)

	for rec := range m.coord {
		if rec.Type == model.RecordStop {
			break
		}
		if rec.Type != model.RecordIntervalDone {
			m.log.Warnf("received unexpected record (type %d) in merger", rec.Type)
			m.badRecords++
			if m.badRecords >= maxBadRecords {
				m.log.Errorf("too many bad records in merger -- exiting")
				os.Exit(1)
			}
			continue
		}

		// Close the descriptor used to write the interim file. The hand-off
		// channel delivers it only after the worker's asynchronous writes
		// have been flushed, and close itself blocks; both waits belong
		// here, not on the packet path.
		if rec.Src != nil {
			if f := <-rec.Src; f != nil {
				f.Close()
			}
		}

		m.intervalDone(rec)
	}

	if n := len(m.pending); n > 0 {
		m.log.Infof("merger exiting with %d incomplete interval(s) outstanding", n)
	}
}

// intervalDone updates the pending bookkeeping for one completion report and
// triggers the merge once every worker has reported the interval.
func (m *Merger) intervalDone(rec model.CoordinationRecord) {
	var fin *pendingInterval
	for _, p := range m.pending {
		if p.timestamp == rec.Timestamp {
			fin = p
			break
		}
	}
	if fin == nil {
		fin = &pendingInterval{
			timestamp:   rec.Timestamp,
			workerIDs:   make([]int, 0, m.cfg.Workers),
			workerStats: make([]model.CaptureStats, 0, m.cfg.Workers),
		}
		m.pending = append(m.pending, fin)
	}

	// Each worker sends exactly one completion per interval, so a plain
	// counter is enough to detect completion.
	fin.workerIDs = append(fin.workerIDs, rec.WorkerID)
	fin.workerStats = append(fin.workerStats, rec.Stats)
	fin.workersReported++

	if fin.workersReported < m.cfg.Workers {
		return
	}

	if fin != m.pending[0] {
		m.log.Warnf("completed an interval out of order (missing %d, got %d)",
			m.pending[0].timestamp, fin.timestamp)
	}

	if err := m.mergeInterval(fin); err != nil {
		m.log.Errorf("failed to merge interim output files for interval %d: %v",
			fin.timestamp, err)
	}

	for i, p := range m.pending {
		if p == fin {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			break
		}
	}
}

// mergeInterval performs the k-way chronological merge for one interval and
// emits the output trace, the ".done" marker and, when enabled, the stats
// sidecar. On error the merge is abandoned: no marker is created but interim
// files are still cleaned up, so a missing ".done" is the downstream-visible
// signal of data loss.
func (m *Merger) mergeInterval(fin *pendingInterval) error {
	start := time.Now()

	readers := make([]*interimReader, m.cfg.Workers)
	for i := range readers {
		uri, err := m.tmpl.Render(fin.timestamp,
			naming.Options{WorkerID: i, WithScheme: true})
		if err != nil {
			return fmt.Errorf("unable to derive interim file name for worker %d: %w", i, err)
		}
		readers[i] = openInterimReader(uri, m.log)
	}
	defer m.cleanupReaders(readers)

	var packets uint64
	mergeErr := m.writeMergedOutput(fin.timestamp, readers, &packets)

	duration := time.Since(start)

	if m.cfg.WriteStats {
		m.writeIntervalStats(fin, duration)
	}

	if mergeErr != nil {
		return mergeErr
	}

	// The output is complete; create the empty ".done" marker that archival
	// scripts poll for.
	doneURI, err := m.tmpl.Render(fin.timestamp,
		naming.Options{WorkerID: -1, Marker: naming.MarkerDone})
	if err != nil {
		return fmt.Errorf("unable to derive done marker name: %w", err)
	}
	f, err := os.Create(doneURI)
	if err != nil {
		return fmt.Errorf("unable to create done marker %s: %w", doneURI, err)
	}
	f.Close()

	m.status.RecordMerge(fin.timestamp, packets, duration)

	if m.notifier != nil {
		outURI, _ := m.tmpl.Render(fin.timestamp, naming.Options{WorkerID: -1})
		ev := notify.IntervalMerged{
			Timestamp:         fin.timestamp,
			Path:              outURI,
			Packets:           packets,
			MergeDurationMsec: duration.Milliseconds(),
		}
		if err := m.notifier.PublishMerged(ev); err != nil {
			m.log.Warnf("failed to publish interval event for %d: %v", fin.timestamp, err)
		}
	}

	m.log.Infof("done merging output files for %d", fin.timestamp)
	return nil
}

// writeMergedOutput drains the interim readers into the final trace file in
// timestamp order.
func (m *Merger) writeMergedOutput(timestamp uint32, readers []*interimReader,
	packets *uint64) error {

	outURI, err := m.tmpl.Render(timestamp,
		naming.Options{WorkerID: -1, WithScheme: true})
	if err != nil {
		return fmt.Errorf("unable to derive merged output name: %w", err)
	}
	outPath := naming.StripScheme(outURI)

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("unable to create merged output %s: %w", outPath, err)
	}
	defer f.Close()

	bw := bufio.NewWriterSize(f, 1<<16)
	pw := pcapgo.NewWriter(bw)
	if err := pw.WriteFileHeader(m.cfg.SnapLen, outputLinkType(readers)); err != nil {
		return fmt.Errorf("unable to write merged output header: %w", err)
	}

	for {
		cand := chooseNext(readers, m.log)
		if cand == -1 {
			break
		}
		r := readers[cand]
		if err := pw.WritePacket(r.next.Info, r.next.Data); err != nil {
			return fmt.Errorf("unable to write packet to merged output: %w", err)
		}
		*packets++
		// Force this reader to refill on the next round.
		r.status = statusNoPacket
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("unable to flush merged output: %w", err)
	}
	return nil
}

// outputLinkType takes the link type of the first interim file that exists;
// with none at all the output is an empty ethernet trace.
func outputLinkType(readers []*interimReader) layers.LinkType {
	for _, r := range readers {
		if r.existed() {
			return r.reader.LinkType()
		}
	}
	return layers.LinkTypeEthernet
}

// cleanupReaders closes every reader and deletes the interim files that
// existed at the start of the merge.
func (m *Merger) cleanupReaders(readers []*interimReader) {
	for _, r := range readers {
		if r == nil {
			continue
		}
		r.close()
		if r.existed() {
			if err := os.Remove(naming.StripScheme(r.uri)); err != nil {
				m.log.Warnf("unable to delete interim file %s: %v", r.uri, err)
			}
		}
	}
}

// writeIntervalStats emits the ".stats" sidecar and, when configured, the
// ClickHouse rows for one interval.
func (m *Merger) writeIntervalStats(fin *pendingInterval, duration time.Duration) {
	statsURI, err := m.tmpl.Render(fin.timestamp,
		naming.Options{WorkerID: -1, Marker: naming.MarkerStats})
	if err != nil {
		m.log.Errorf("unable to derive stats file name for %d: %v", fin.timestamp, err)
		return
	}
	if err := stats.WriteFile(statsURI, fin.timestamp, fin.workerIDs,
		fin.workerStats, duration); err != nil {
		m.log.Errorf("error while creating stats file '%s': %v", statsURI, err)
	}

	if m.sink != nil {
		if err := m.sink.WriteInterval(fin.timestamp, fin.workerIDs,
			fin.workerStats, duration); err != nil {
			m.log.Warnf("failed to write interval stats to clickhouse: %v", err)
		}
	}
}
