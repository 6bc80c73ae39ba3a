package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

const minimalConfig = `
capture:
  input: eth0
  threads: 4
  interval: 300
output:
  template: /data/%N-%s.%f
  monitor_id: mon1
pidfile: /run/chronocapd.pid
`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Capture.SnapLen != 65536 {
		t.Errorf("snaplen default = %d, want 65536", cfg.Capture.SnapLen)
	}
	if cfg.Capture.SizeOfCoordChannel != 1024 {
		t.Errorf("coord channel default = %d, want 1024", cfg.Capture.SizeOfCoordChannel)
	}
	if cfg.Capture.SizeOfWriteQueue != 4096 {
		t.Errorf("write queue default = %d, want 4096", cfg.Capture.SizeOfWriteQueue)
	}
	if cfg.Output.Format != "pcapfile" {
		t.Errorf("format default = %q, want pcapfile", cfg.Output.Format)
	}
}

func TestLoadConfigRejectsMissingFields(t *testing.T) {
	cases := map[string]string{
		"missing input": `
capture:
  threads: 4
  interval: 300
output:
  template: /data/%s.%f
pidfile: /run/x.pid
`,
		"zero interval": `
capture:
  input: eth0
  threads: 4
output:
  template: /data/%s.%f
pidfile: /run/x.pid
`,
		"missing template": `
capture:
  input: eth0
  threads: 4
  interval: 300
pidfile: /run/x.pid
`,
		"missing pidfile": `
capture:
  input: eth0
  threads: 4
  interval: 300
output:
  template: /data/%s.%f
`,
	}

	for name, content := range cases {
		if _, err := LoadConfig(writeConfig(t, content)); err == nil {
			t.Errorf("%s: expected a validation error", name)
		}
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Errorf("expected an error for a missing config file")
	}
}
