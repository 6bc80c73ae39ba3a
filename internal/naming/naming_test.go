package naming

import (
	"strings"
	"testing"

	"ChronoCap/internal/config"
)

func testTemplate(pattern string) *Template {
	return New(config.OutputConfig{
		Template:  pattern,
		MonitorID: "telescope-east",
		Format:    "pcapfile",
	})
}

func TestRenderCustomDirectives(t *testing.T) {
	tmpl := testTemplate("/data/%N-%P-%s.%f")

	got, err := tmpl.Render(1700000000, Options{WorkerID: -1})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	want := "/data/telescope-east-wdcap-1700000000.pcap"
	if got != want {
		t.Errorf("Render returned %q, want %q", got, want)
	}
}

func TestRenderTimeDirectives(t *testing.T) {
	tmpl := testTemplate("/data/%Y/%m/%d/trace-%H%M%S")

	// Unix epoch renders in UTC regardless of host timezone.
	got, err := tmpl.Render(0, Options{WorkerID: -1})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	want := "/data/1970/01/01/trace-000000"
	if got != want {
		t.Errorf("Render returned %q, want %q", got, want)
	}
}

func TestRenderWorkerSuffix(t *testing.T) {
	tmpl := testTemplate("/data/%s.%f")

	got, err := tmpl.Render(1700000000, Options{WorkerID: 3})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.HasSuffix(got, ".pcap--3") {
		t.Errorf("interim name %q should end with worker suffix --3", got)
	}
}

func TestRenderMarkersOnlyWithoutWorker(t *testing.T) {
	tmpl := testTemplate("/data/%s.%f")

	done, err := tmpl.Render(1700000000, Options{WorkerID: -1, Marker: MarkerDone})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.HasSuffix(done, ".pcap.done") {
		t.Errorf("done marker name %q should end with .done", done)
	}

	stats, err := tmpl.Render(1700000000, Options{WorkerID: -1, Marker: MarkerStats})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.HasSuffix(stats, ".pcap.stats") {
		t.Errorf("stats name %q should end with .stats", stats)
	}

	// A worker id suppresses markers entirely.
	interim, err := tmpl.Render(1700000000, Options{WorkerID: 0, Marker: MarkerDone})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if strings.Contains(interim, ".done") {
		t.Errorf("interim name %q must not carry a marker", interim)
	}
}

func TestRenderScheme(t *testing.T) {
	tmpl := testTemplate("/data/%s.%f")

	uri, err := tmpl.Render(1700000000, Options{WorkerID: -1, WithScheme: true})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.HasPrefix(uri, "pcapfile:") {
		t.Errorf("uri %q should carry the pcapfile: scheme", uri)
	}
	if StripScheme(uri) != "/data/1700000000.pcap" {
		t.Errorf("StripScheme(%q) = %q", uri, StripScheme(uri))
	}
	if StripScheme("/plain/path") != "/plain/path" {
		t.Errorf("StripScheme should pass through bare paths")
	}
}

func TestRenderDeterministic(t *testing.T) {
	tmpl := testTemplate("/data/%N/%Y%m%d-%H%M%S-%s.%f")

	first, err := tmpl.Render(1700000123, Options{WorkerID: 5})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	second, err := tmpl.Render(1700000123, Options{WorkerID: 5})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if first != second {
		t.Errorf("Render is not deterministic: %q vs %q", first, second)
	}
}

func TestRenderLiteralPercent(t *testing.T) {
	tmpl := testTemplate("/data/100%%-%s")

	got, err := tmpl.Render(42, Options{WorkerID: -1})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got != "/data/100%-42" {
		t.Errorf("Render returned %q, want /data/100%%-42", got)
	}
}

func TestRenderOverlongName(t *testing.T) {
	tmpl := testTemplate(strings.Repeat("%N", 1000))

	if _, err := tmpl.Render(0, Options{WorkerID: -1}); err == nil {
		t.Errorf("expected an error for an over-long rendered name")
	}
}
