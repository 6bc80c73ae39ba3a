package model

import (
	"sync/atomic"
	"time"
)

// Status is the shared runtime state exposed by the status API. The merger
// updates it after each interval; readers see a consistent-enough view via
// atomics.
type Status struct {
	startTime time.Time

	intervalsMerged atomic.Uint64
	packetsMerged   atomic.Uint64
	lastInterval    atomic.Uint32
	lastMergeMsec   atomic.Int64
}

// NewStatus creates a Status anchored at the current time.
func NewStatus() *Status {
	return &Status{startTime: time.Now()}
}

// RecordMerge notes a completed interval merge.
func (s *Status) RecordMerge(interval uint32, packets uint64, duration time.Duration) {
	s.intervalsMerged.Add(1)
	s.packetsMerged.Add(packets)
	s.lastInterval.Store(interval)
	s.lastMergeMsec.Store(duration.Milliseconds())
}

// UptimeSeconds returns the whole seconds since the status was created.
func (s *Status) UptimeSeconds() int64 {
	return int64(time.Since(s.startTime).Seconds())
}

// IntervalsMerged returns the number of intervals merged so far.
func (s *Status) IntervalsMerged() uint64 { return s.intervalsMerged.Load() }

// PacketsMerged returns the total packets written to merged output files.
func (s *Status) PacketsMerged() uint64 { return s.packetsMerged.Load() }

// LastInterval returns the timestamp of the most recently merged interval.
func (s *Status) LastInterval() uint32 { return s.lastInterval.Load() }

// LastMergeMsec returns the wall-clock duration of the last merge.
func (s *Status) LastMergeMsec() int64 { return s.lastMergeMsec.Load() }
