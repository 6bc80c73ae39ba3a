package capture

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"

	"ChronoCap/internal/model"
)

func testRecord(sec int64, nsec int64, marker byte) model.PacketRecord {
	data := make([]byte, 60)
	data[0] = marker
	// Plausible ethertype so VLAN stripping leaves the frame alone.
	data[12] = 0x08
	data[13] = 0x00
	return model.PacketRecord{
		Info: gopacket.CaptureInfo{
			Timestamp:     time.Unix(sec, nsec),
			CaptureLength: len(data),
			Length:        len(data),
		},
		Data: data,
	}
}

func TestInterimWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interim.pcap--0")
	w := NewInterimWriter(zap.NewNop().Sugar(), 16)

	if w.Active() {
		t.Fatal("new writer should be idle")
	}
	if err := w.Start(path, layers.LinkTypeEthernet, 65536); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !w.Active() {
		t.Fatal("writer should be active after Start")
	}

	for i := 0; i < 3; i++ {
		if err := w.Write(testRecord(1700000000+int64(i), 0, byte(i))); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	handoff := w.Detach()
	if handoff == nil {
		t.Fatal("Detach should return a hand-off channel")
	}
	if w.Active() {
		t.Fatal("writer should be idle after Detach")
	}

	// The file arrives only after all queued writes have been flushed.
	f := <-handoff
	if f == nil {
		t.Fatal("hand-off channel delivered no file")
	}
	f.Close()

	rf, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to reopen interim file: %v", err)
	}
	defer rf.Close()
	r, err := pcapgo.NewReader(rf)
	if err != nil {
		t.Fatalf("failed to read interim header: %v", err)
	}

	var count int
	for {
		data, ci, err := r.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read error after %d packets: %v", count, err)
		}
		if data[0] != byte(count) {
			t.Errorf("packet %d has marker %d, want %d", count, data[0], count)
		}
		if ci.Timestamp.Unix() != 1700000000+int64(count) {
			t.Errorf("packet %d has timestamp %d", count, ci.Timestamp.Unix())
		}
		count++
	}
	if count != 3 {
		t.Errorf("read %d packets back, want 3", count)
	}
}

func TestInterimWriterRotation(t *testing.T) {
	dir := t.TempDir()
	w := NewInterimWriter(zap.NewNop().Sugar(), 16)

	for i := 0; i < 2; i++ {
		path := filepath.Join(dir, fmt.Sprintf("rotate.pcap--%d", i))
		if err := w.Start(path, layers.LinkTypeEthernet, 65536); err != nil {
			t.Fatalf("Start %d failed: %v", i, err)
		}
		if err := w.Write(testRecord(1700000000, 0, byte(i))); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
		f := <-w.Detach()
		if f == nil {
			t.Fatalf("rotation %d delivered no file", i)
		}
		f.Close()
	}
}

func TestInterimWriterDetachIdle(t *testing.T) {
	w := NewInterimWriter(zap.NewNop().Sugar(), 16)
	if handoff := w.Detach(); handoff != nil {
		t.Errorf("Detach on an idle writer should return nil")
	}
}
