package merge

import (
	"io"
	"os"
	"time"

	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"

	"ChronoCap/internal/model"
	"ChronoCap/internal/naming"
)

type interimStatus int

const (
	statusNoPacket interimStatus = iota
	statusPacketBuffered
	statusEndOfStream
)

// interimReader streams one worker's interim file during a merge, buffering
// at most one packet ahead.
type interimReader struct {
	uri    string
	file   *os.File
	reader *pcapgo.Reader
	next   model.PacketRecord
	nextTS time.Time
	status interimStatus
}

// openInterimReader opens the interim file behind uri. A missing file is not
// an error: the worker simply saw no packets for the interval, and the
// reader starts out exhausted.
func openInterimReader(uri string, log *zap.SugaredLogger) *interimReader {
	r := &interimReader{uri: uri, status: statusEndOfStream}

	f, err := os.Open(naming.StripScheme(uri))
	if err != nil {
		return r
	}
	pr, err := pcapgo.NewReader(f)
	if err != nil {
		log.Warnf("unable to read trace header from interim file %s: %v", uri, err)
		f.Close()
		return r
	}
	r.file = f
	r.reader = pr
	r.status = statusNoPacket
	return r
}

// existed reports whether an interim file was actually opened; only such
// files are deleted after the merge.
func (r *interimReader) existed() bool {
	return r.file != nil
}

// readNext buffers the next packet, returning false once the stream is
// exhausted. The buffered packet may be held across many subsequent reads,
// so the reader takes its own copy of the data.
func (r *interimReader) readNext(log *zap.SugaredLogger) bool {
	data, ci, err := r.reader.ReadPacketData()
	if err != nil {
		if err != io.EOF {
			log.Warnf("error reading packet from interim file %s: %v", r.uri, err)
		}
		r.status = statusEndOfStream
		return false
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	r.next = model.PacketRecord{Info: ci, Data: buf}
	r.nextTS = ci.Timestamp
	r.status = statusPacketBuffered
	return true
}

func (r *interimReader) close() {
	if r.file != nil {
		r.file.Close()
	}
}

// chooseNext picks the reader holding the packet with the lowest timestamp,
// refilling any reader whose buffered packet has been consumed. Returns -1
// when every reader is exhausted. Ties go to the lowest worker index.
func chooseNext(readers []*interimReader, log *zap.SugaredLogger) int {
	cand := -1
	for i, r := range readers {
		if r.status == statusEndOfStream {
			continue
		}
		if r.status == statusNoPacket {
			if !r.readNext(log) {
				continue
			}
		}
		if cand == -1 || r.nextTS.Before(readers[cand].nextTS) {
			cand = i
		}
	}
	return cand
}
