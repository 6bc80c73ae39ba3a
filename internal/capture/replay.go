package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/layers"

	"ChronoCap/internal/model"
)

// ReplaySource feeds pre-built per-worker packet sequences through the
// normal source callbacks. It backs tests and offline reprocessing of
// already-split traces.
type ReplaySource struct {
	feeds    [][]model.PacketRecord
	linkType layers.LinkType

	accepted  []atomic.Int64
	stopped   atomic.Bool
	feedsDone atomic.Int64

	firstTS time.Time
	hasTS   bool

	wg sync.WaitGroup
}

// NewReplaySource builds a replay source with one feed per worker. The
// globally-first packet time is computed up front across all feeds.
func NewReplaySource(feeds [][]model.PacketRecord, linkType layers.LinkType) *ReplaySource {
	s := &ReplaySource{
		feeds:    feeds,
		linkType: linkType,
		accepted: make([]atomic.Int64, len(feeds)),
	}
	for _, feed := range feeds {
		if len(feed) == 0 {
			continue
		}
		ts := feed[0].Info.Timestamp
		if !s.hasTS || ts.Before(s.firstTS) {
			s.firstTS = ts
			s.hasTS = true
		}
	}
	return s
}

// Start implements PacketSource. Replay delivers no ticks; callers that need
// tick behaviour drive it directly.
func (s *ReplaySource) Start(onPacket PacketFunc, onTick TickFunc) error {
	for i := range s.feeds {
		s.wg.Add(1)
		go func(id int) {
			defer s.wg.Done()
			defer s.feedsDone.Add(1)
			for _, rec := range s.feeds[id] {
				if s.stopped.Load() {
					return
				}
				s.accepted[id].Add(1)
				onPacket(id, rec)
			}
		}(i)
	}
	return nil
}

// LinkType implements PacketSource.
func (s *ReplaySource) LinkType() layers.LinkType {
	return s.linkType
}

// FirstPacketTime implements PacketSource.
func (s *ReplaySource) FirstPacketTime() (time.Time, bool) {
	return s.firstTS, s.hasTS
}

// WorkerStats implements PacketSource.
func (s *ReplaySource) WorkerStats(workerID int) model.CaptureStats {
	var st model.CaptureStats
	st.Accepted = model.StatValue{Value: s.accepted[workerID].Load(), Valid: true}
	return st
}

// Exhausted implements PacketSource.
func (s *ReplaySource) Exhausted() bool {
	return int(s.feedsDone.Load()) == len(s.feeds)
}

// Stop implements PacketSource.
func (s *ReplaySource) Stop() {
	s.stopped.Store(true)
}

// Wait implements PacketSource.
func (s *ReplaySource) Wait() {
	s.wg.Wait()
}
