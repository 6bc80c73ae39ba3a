package model

import (
	"os"

	"github.com/google/gopacket"
)

// PacketRecord is a single captured packet together with its capture
// metadata. Records handed to a worker callback own their Data slice; the
// packet source never reuses the underlying buffer.
type PacketRecord struct {
	Info gopacket.CaptureInfo
	Data []byte
}

// RecordType tags a CoordinationRecord.
type RecordType uint8

const (
	// RecordIntervalDone reports that a worker has finished writing an
	// interval to its interim file.
	RecordIntervalDone RecordType = iota + 1
	// RecordStop tells the merger to exit its loop.
	RecordStop
)

// CoordinationRecord is the fixed-shape message exchanged between the
// capture workers (plus the main goroutine) and the merger.
type CoordinationRecord struct {
	Type      RecordType
	WorkerID  int
	Timestamp uint32

	// Src delivers the interim file once the worker's asynchronous writes
	// have been flushed. The merger owns the file from the moment it
	// receives it and must close it. A nil channel means the worker never
	// opened an interim file for this interval.
	Src <-chan *os.File

	// Stats is a snapshot of the worker's cumulative capture statistics,
	// populated only when stats output is enabled.
	Stats CaptureStats
}

// IntervalStart returns the largest multiple of intervalLen that is <= ts.
func IntervalStart(ts uint32, intervalLen uint32) uint32 {
	return ts - ts%intervalLen
}
