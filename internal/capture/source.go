package capture

import (
	"fmt"
	"hash/fnv"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"ChronoCap/internal/model"
)

// PacketFunc is invoked by a packet source for every packet delivered to a
// worker. The record's Data is owned by the callee.
type PacketFunc func(workerID int, rec model.PacketRecord)

// TickFunc is invoked roughly once per second per worker with that worker's
// cumulative capture statistics.
type TickFunc func(workerID int, stats model.CaptureStats)

// PacketSource fans captured packets out to a fixed set of workers. Each
// worker sees its packets in arrival order.
type PacketSource interface {
	// Start begins capture and invokes the callbacks from per-worker
	// goroutines until the source is stopped or exhausted.
	Start(onPacket PacketFunc, onTick TickFunc) error
	// LinkType reports the layer-2 type of the captured packets.
	LinkType() layers.LinkType
	// FirstPacketTime returns the timestamp of the first packet observed
	// across all workers, once one has been seen.
	FirstPacketTime() (time.Time, bool)
	// WorkerStats returns cumulative statistics for one worker. Counters a
	// source cannot attribute are flagged invalid.
	WorkerStats(workerID int) model.CaptureStats
	// Exhausted reports that the source has run out of packets on its own,
	// which can only happen for finite (offline) inputs.
	Exhausted() bool
	// Stop halts capture; packets already queued to workers still drain.
	Stop()
	// Wait blocks until all worker goroutines have exited.
	Wait()
}

const (
	tickInterval  = time.Second
	perWorkerQLen = 2048
)

// LiveSource captures from a network device (or replays a trace file) via
// libpcap and balances packets across worker channels. A single dispatcher
// goroutine reads from the handle, so per-worker arrival order matches
// capture order.
type LiveSource struct {
	handle   *pcap.Handle
	offline  bool
	workers  int
	linkType layers.LinkType

	chans    []chan model.PacketRecord
	accepted []atomic.Int64

	firstMu sync.Mutex
	firstTS time.Time
	hasTS   bool

	exhausted atomic.Bool

	// handleMu serialises Stats against Close; the dispatcher's blocking
	// read is deliberately outside it, since closing the handle is what
	// unblocks that read.
	handleMu sync.Mutex
	closed   bool

	wg sync.WaitGroup
}

// NewLiveSource opens the capture handle for the given input. An input that
// names an existing regular file is opened for offline replay; anything else
// is treated as a device name for live capture.
func NewLiveSource(input string, snapLen int32, promisc bool, workers int) (*LiveSource, error) {
	var handle *pcap.Handle
	var err error
	offline := false

	if fi, statErr := os.Stat(input); statErr == nil && fi.Mode().IsRegular() {
		handle, err = pcap.OpenOffline(input)
		offline = true
	} else {
		handle, err = pcap.OpenLive(input, snapLen, promisc, pcap.BlockForever)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open capture source %s: %w", input, err)
	}

	s := &LiveSource{
		handle:   handle,
		offline:  offline,
		workers:  workers,
		linkType: handle.LinkType(),
		chans:    make([]chan model.PacketRecord, workers),
		accepted: make([]atomic.Int64, workers),
	}
	for i := range s.chans {
		s.chans[i] = make(chan model.PacketRecord, perWorkerQLen)
	}
	return s, nil
}

// Start launches the dispatcher and one goroutine per worker.
func (s *LiveSource) Start(onPacket PacketFunc, onTick TickFunc) error {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.runWorker(i, onPacket, onTick)
	}
	s.wg.Add(1)
	go s.dispatch()
	return nil
}

func (s *LiveSource) dispatch() {
	defer s.wg.Done()
	for {
		data, ci, err := s.handle.ReadPacketData()
		if err != nil {
			if err == pcap.NextErrorTimeoutExpired {
				continue
			}
			// EOF for offline replay, or the handle was closed by Stop.
			break
		}
		s.noteFirst(ci.Timestamp)
		s.chans[s.balance(data)] <- model.PacketRecord{Info: ci, Data: data}
	}
	s.exhausted.Store(true)
	for _, ch := range s.chans {
		close(ch)
	}
}

func (s *LiveSource) runWorker(id int, onPacket PacketFunc, onTick TickFunc) {
	defer s.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-s.chans[id]:
			if !ok {
				return
			}
			s.accepted[id].Add(1)
			onPacket(id, rec)
		case <-ticker.C:
			if onTick != nil {
				onTick(id, s.WorkerStats(id))
			}
		}
	}
}

// balance picks the worker for a packet by hashing a fixed 34-byte prefix of
// the raw frame, without the cost of full decoding. The prefix covers
// per-packet fields (for IPv4: total length, identification, checksum), so
// packets of one flow are not guaranteed to land on the same worker.
func (s *LiveSource) balance(data []byte) int {
	if s.workers == 1 {
		return 0
	}
	h := fnv.New32a()
	n := len(data)
	if n > 34 {
		n = 34
	}
	h.Write(data[:n])
	return int(h.Sum32() % uint32(s.workers))
}

func (s *LiveSource) noteFirst(ts time.Time) {
	if s.hasFirst() {
		return
	}
	s.firstMu.Lock()
	if !s.hasTS {
		s.firstTS = ts
		s.hasTS = true
	}
	s.firstMu.Unlock()
}

func (s *LiveSource) hasFirst() bool {
	s.firstMu.Lock()
	defer s.firstMu.Unlock()
	return s.hasTS
}

// FirstPacketTime implements PacketSource. The dispatcher records the first
// packet before any worker can observe it, so this is set whenever a worker
// asks from its packet callback.
func (s *LiveSource) FirstPacketTime() (time.Time, bool) {
	s.firstMu.Lock()
	defer s.firstMu.Unlock()
	return s.firstTS, s.hasTS
}

// LinkType implements PacketSource.
func (s *LiveSource) LinkType() layers.LinkType {
	return s.linkType
}

// WorkerStats implements PacketSource. Accepted counts are tracked per
// worker; the handle-wide receive and drop counters cannot be attributed to
// a single worker, so they are reported through worker 0 and flagged invalid
// elsewhere.
func (s *LiveSource) WorkerStats(workerID int) model.CaptureStats {
	var st model.CaptureStats
	st.Accepted = model.StatValue{Value: s.accepted[workerID].Load(), Valid: true}

	if workerID == 0 && !s.offline {
		s.handleMu.Lock()
		if !s.closed {
			if hs, err := s.handle.Stats(); err == nil {
				st.Received = model.StatValue{Value: int64(hs.PacketsReceived), Valid: true}
				st.Dropped = model.StatValue{Value: int64(hs.PacketsDropped), Valid: true}
				st.Missing = model.StatValue{Value: int64(hs.PacketsIfDropped), Valid: true}
			}
		}
		s.handleMu.Unlock()
	}
	return st
}

// Exhausted implements PacketSource.
func (s *LiveSource) Exhausted() bool {
	return s.exhausted.Load()
}

// Stop implements PacketSource. Closing the handle unblocks the dispatcher,
// which then closes the worker channels; queued packets still drain.
func (s *LiveSource) Stop() {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.handle.Close()
}

// Wait implements PacketSource.
func (s *LiveSource) Wait() {
	s.wg.Wait()
}
