package capture

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"

	"ChronoCap/internal/config"
	"ChronoCap/internal/merge"
	"ChronoCap/internal/model"
	"ChronoCap/internal/naming"
)

// TestCaptureMergePipeline drives two workers and the merger end to end over
// a replay source: both workers fill the first interval, roll over into the
// second, and the merger produces one ordered output file for the first.
func TestCaptureMergePipeline(t *testing.T) {
	dir := t.TempDir()
	tmpl := naming.New(config.OutputConfig{
		Template: filepath.Join(dir, "cap-%s.%f"),
		Format:   "pcapfile",
	})

	// Interval [1699999980, 1700000040).
	feeds := [][]model.PacketRecord{
		{
			testRecord(1699999990, 0, 0),
			testRecord(1700000010, 0, 0),
			testRecord(1700000041, 0, 0), // rolls worker 0 over
		},
		{
			testRecord(1700000000, 0, 1),
			testRecord(1700000042, 0, 1), // rolls worker 1 over
		},
	}
	source := NewReplaySource(feeds, layers.LinkTypeEthernet)

	life := NewLifecycle(2)
	coord := make(chan model.CoordinationRecord, 32)
	status := model.NewStatus()
	log := zap.NewNop().Sugar()

	merger := merge.NewMerger(merge.Config{Workers: 2, SnapLen: 65536},
		tmpl, coord, status, nil, nil, log)
	go merger.Run()

	wcfg := WorkerConfig{Interval: 60, SnapLen: 65536}
	workers := []*Worker{
		NewWorker(0, wcfg, tmpl, source, coord, life, 16, log),
		NewWorker(1, wcfg, tmpl, source, coord, life, 16, log),
	}

	if err := source.Start(
		func(id int, rec model.PacketRecord) { workers[id].HandlePacket(rec) },
		func(id int, st model.CaptureStats) { workers[id].HandleTick(st) },
	); err != nil {
		t.Fatalf("failed to start replay source: %v", err)
	}
	source.Wait()

	coord <- model.CoordinationRecord{Type: model.RecordStop}
	select {
	case <-merger.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("merger did not stop")
	}
	for _, w := range workers {
		w.CloseInterim()
	}

	outPath, _ := tmpl.Render(1699999980, naming.Options{WorkerID: -1})
	f, err := os.Open(outPath)
	if err != nil {
		t.Fatalf("merged output for first interval should exist: %v", err)
	}
	defer f.Close()
	r, err := pcapgo.NewReader(f)
	if err != nil {
		t.Fatalf("failed to read merged output: %v", err)
	}

	var markers []byte
	var last time.Time
	for {
		data, ci, err := r.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("error reading merged output: %v", err)
		}
		if ci.Timestamp.Before(last) {
			t.Errorf("merged output is not chronologically ordered")
		}
		last = ci.Timestamp
		markers = append(markers, data[0])
	}

	want := []byte{0, 1, 0}
	if len(markers) != len(want) {
		t.Fatalf("merged %d packets, want %d", len(markers), len(want))
	}
	for i := range want {
		if markers[i] != want[i] {
			t.Errorf("packet %d came from worker %d, want %d", i, markers[i], want[i])
		}
	}

	donePath, _ := tmpl.Render(1699999980,
		naming.Options{WorkerID: -1, Marker: naming.MarkerDone})
	if _, err := os.Stat(donePath); err != nil {
		t.Errorf(".done marker should exist: %v", err)
	}

	// The second interval never completed; its interim files stay on disk.
	for i := 0; i < 2; i++ {
		interim, _ := tmpl.Render(1700000040, naming.Options{WorkerID: i})
		if _, err := os.Stat(interim); err != nil {
			t.Errorf("partial interim file for worker %d should remain: %v", i, err)
		}
	}
}
