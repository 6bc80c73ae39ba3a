package capture

import (
	"encoding/binary"

	"github.com/google/gopacket/layers"
	"go.uber.org/zap"

	"ChronoCap/internal/model"
	"ChronoCap/internal/naming"
)

// WorkerConfig holds the per-worker settings shared by all workers.
type WorkerConfig struct {
	Interval   uint32
	SnapLen    uint32
	StripVLANs bool
	WriteStats bool
}

// Worker owns the hot path for one capture thread: it appends packets to the
// current interim file and reports interval boundaries to the merger. All of
// its state is exclusively owned by the source goroutine that invokes its
// callbacks.
type Worker struct {
	id     int
	cfg    WorkerConfig
	tmpl   *naming.Template
	source PacketSource
	writer *InterimWriter
	coord  chan<- model.CoordinationRecord
	life   *Lifecycle
	log    *zap.SugaredLogger

	currentIntervalStart uint32
	nextBoundary         uint32
	interimPath          string
	lastMissing          int64
	lastAccepted         int64
	ending               bool
}

// NewWorker creates the state for worker id.
func NewWorker(id int, cfg WorkerConfig, tmpl *naming.Template, source PacketSource,
	coord chan<- model.CoordinationRecord, life *Lifecycle,
	writeQueueDepth int, log *zap.SugaredLogger) *Worker {

	return &Worker{
		id:     id,
		cfg:    cfg,
		tmpl:   tmpl,
		source: source,
		writer: NewInterimWriter(log, writeQueueDepth),
		coord:  coord,
		life:   life,
		log:    log,
	}
}

// HandlePacket is the per-packet callback. Apart from creating the interim
// file on the first packet of an interval, the only potentially blocking
// operations here are the coordination-channel send and the write-queue
// enqueue, both sized to be non-blocking in practice.
func (w *Worker) HandlePacket(rec model.PacketRecord) {
	if w.ending {
		return
	}

	if w.currentIntervalStart == 0 {
		// First packet this worker has seen. Every worker derives its
		// starting interval from the globally-first packet so that the
		// merger sees all of them acknowledge the same first interval,
		// even if this worker's own first packet is already past the
		// first boundary.
		first, ok := w.source.FirstPacketTime()
		if !ok {
			w.log.Errorf("worker %d: no first packet recorded for capture source", w.id)
			w.life.RequestHalt()
			return
		}
		firstSec := uint32(first.Unix())
		w.currentIntervalStart = model.IntervalStart(firstSec, w.cfg.Interval)
		w.nextBoundary = w.currentIntervalStart + w.cfg.Interval
	}

	ts := uint32(rec.Info.Timestamp.Unix())

	for w.life.ReloadRequested() || ts >= w.nextBoundary {
		crec := model.CoordinationRecord{
			Type:      model.RecordIntervalDone,
			WorkerID:  w.id,
			Timestamp: w.currentIntervalStart,
		}
		if w.cfg.WriteStats {
			crec.Stats = w.source.WorkerStats(w.id)
		}

		// Never close the interim file here: close blocks even when the
		// writes themselves are asynchronous. Detach the file and let the
		// merger close it.
		if w.writer.Active() {
			crec.Src = w.writer.Detach()
			w.interimPath = ""
		}

		w.coord <- crec

		w.currentIntervalStart = w.nextBoundary
		w.nextBoundary += w.cfg.Interval

		if w.life.ReloadRequested() {
			// Drain for reload: this worker refuses all further packets.
			w.ending = true
			w.life.MarkWorkerEnded()
			w.log.Infof("marked capture worker %d as ending", w.id)
			return
		}
	}

	if !w.writer.Active() {
		path, err := w.tmpl.Render(w.currentIntervalStart,
			naming.Options{WorkerID: w.id})
		if err != nil {
			w.log.Errorf("worker %d: unable to derive interim file name: %v", w.id, err)
			w.life.RequestHalt()
			return
		}
		w.interimPath = path
		if err := w.writer.Start(path, w.source.LinkType(), w.cfg.SnapLen); err != nil {
			w.log.Errorf("worker %d: unable to open interim file: %v", w.id, err)
			w.life.RequestHalt()
			return
		}
	}

	// Only enable VLAN stripping when the capture actually carries tags;
	// checking and shifting every packet is real per-packet cost.
	if w.cfg.StripVLANs {
		rec = stripVLANTags(rec)
	}

	if err := w.writer.Write(rec); err != nil {
		w.log.Errorf("worker %d: %v", w.id, err)
		w.life.RequestHalt()
	}
}

// HandleTick runs at ~1 Hz with cumulative capture statistics and warns when
// packets were lost since the previous tick.
func (w *Worker) HandleTick(stats model.CaptureStats) {
	if stats.Missing.Valid && stats.Missing.Value > w.lastMissing {
		w.log.Warnf("thread %d dropped %d packets in last second (accepted %d)",
			w.id, stats.Missing.Value-w.lastMissing, stats.Accepted.Value-w.lastAccepted)
		w.lastMissing = stats.Missing.Value
	}
	if stats.Accepted.Valid {
		w.lastAccepted = stats.Accepted.Value
	}
}

// CloseInterim releases any interim file still open after the capture has
// stopped and the merger has exited. Such a file has no IntervalDone record
// and stays on disk for the operator to deal with.
func (w *Worker) CloseInterim() {
	handoff := w.writer.Detach()
	if handoff == nil {
		return
	}
	if f := <-handoff; f != nil {
		f.Close()
		w.log.Infof("worker %d left partial interim file %s on disk", w.id, w.interimPath)
	}
}

const (
	etherTypeOffset = 12
	vlanTagLen      = 4
	minTaggedFrame  = 18
)

// stripVLANTags removes 802.1Q and QinQ tags from the front of an ethernet
// frame. The record's data is owned by the worker, so the strip happens in
// place.
func stripVLANTags(rec model.PacketRecord) model.PacketRecord {
	data := rec.Data
	for len(data) >= minTaggedFrame {
		et := layers.EthernetType(binary.BigEndian.Uint16(data[etherTypeOffset : etherTypeOffset+2]))
		if et != layers.EthernetTypeDot1Q && et != layers.EthernetTypeQinQ {
			break
		}
		data = append(data[:etherTypeOffset], data[etherTypeOffset+vlanTagLen:]...)
		rec.Info.CaptureLength -= vlanTagLen
		rec.Info.Length -= vlanTagLen
	}
	rec.Data = data
	return rec
}
