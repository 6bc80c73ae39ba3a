package capture

import (
	"bufio"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"

	"ChronoCap/internal/model"
)

// InterimWriter streams one worker's packets to the current interim trace
// file. Appends are asynchronous: Write enqueues the record and returns, and
// a drain goroutine performs the actual file I/O. Nothing on the append path
// ever flushes or closes the file.
//
// When an interval rolls over the writer is detached: Detach hands back a
// channel that will deliver the open file once every queued write has been
// flushed, and resets the writer so it can be started for the next interval.
// Closing the file is the receiver's job; close is a blocking operation that
// must stay off the hot path.
type InterimWriter struct {
	log        *zap.SugaredLogger
	queueDepth int

	queue   chan model.PacketRecord
	handoff chan *os.File
	err     *atomic.Pointer[error]
	active  bool
}

// NewInterimWriter creates an idle writer whose append queue holds up to
// queueDepth records.
func NewInterimWriter(log *zap.SugaredLogger, queueDepth int) *InterimWriter {
	return &InterimWriter{log: log, queueDepth: queueDepth}
}

// Active reports whether the writer currently has an open interim file.
func (w *InterimWriter) Active() bool {
	return w.active
}

// Start opens the interim file at path, writes the trace file header and
// launches the drain goroutine. The writer must not already be active.
func (w *InterimWriter) Start(path string, linkType layers.LinkType, snapLen uint32) error {
	if w.active {
		return fmt.Errorf("interim writer already has an open file")
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create interim file %s: %w", path, err)
	}

	bw := bufio.NewWriterSize(f, 1<<16)
	pw := pcapgo.NewWriter(bw)
	if err := pw.WriteFileHeader(snapLen, linkType); err != nil {
		f.Close()
		return fmt.Errorf("failed to write trace header to %s: %w", path, err)
	}

	w.queue = make(chan model.PacketRecord, w.queueDepth)
	w.handoff = make(chan *os.File, 1)
	w.err = &atomic.Pointer[error]{}
	w.active = true

	go drain(w.log, w.queue, w.handoff, w.err, f, bw, pw)
	return nil
}

// Write enqueues one packet for the drain goroutine. It surfaces any error
// the drain goroutine has hit so far, so a failing file is noticed on the
// next append rather than silently swallowed.
func (w *InterimWriter) Write(rec model.PacketRecord) error {
	if !w.active {
		return fmt.Errorf("interim writer has no open file")
	}
	if errp := w.err.Load(); errp != nil {
		return *errp
	}
	w.queue <- rec
	return nil
}

// Detach closes the append queue and resets the writer. The returned channel
// delivers the interim file once the drain goroutine has flushed all queued
// writes; the receiver owns the file and must close it.
func (w *InterimWriter) Detach() <-chan *os.File {
	if !w.active {
		return nil
	}
	close(w.queue)
	handoff := w.handoff
	w.queue = nil
	w.handoff = nil
	w.err = nil
	w.active = false
	return handoff
}

// drain owns the file until all writes for this interval have completed,
// then hands it off. The file itself is never closed here.
func drain(log *zap.SugaredLogger, queue <-chan model.PacketRecord,
	handoff chan<- *os.File, errp *atomic.Pointer[error],
	f *os.File, bw *bufio.Writer, pw *pcapgo.Writer) {

	for rec := range queue {
		if errp.Load() != nil {
			continue
		}
		if err := pw.WritePacket(rec.Info, rec.Data); err != nil {
			werr := fmt.Errorf("failed to write packet to %s: %w", f.Name(), err)
			errp.Store(&werr)
			log.Errorf("interim writer: %v", werr)
		}
	}
	if err := bw.Flush(); err != nil {
		log.Errorf("interim writer: failed to flush %s: %v", f.Name(), err)
	}
	handoff <- f
	close(handoff)
}
