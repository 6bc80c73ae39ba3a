// Package naming derives output file names from the configured template.
//
// The template language uses %-introduced directives: the usual strftime
// time directives (rendered in UTC from the interval timestamp) plus a few
// custom ones:
//
//	%N  monitor id
//	%P  plugin tag (always "wdcap", kept for backwards compatibility)
//	%f  trace format extension (e.g. "pcap")
//	%s  interval timestamp as unix seconds
//
// The renderer is pure: the same inputs always produce the same path. The
// merger relies on this to re-derive the interim file names that the capture
// workers wrote.
package naming

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"ChronoCap/internal/config"
)

// Marker selects an optional sidecar suffix for the rendered name.
type Marker int

const (
	MarkerNone Marker = iota
	// MarkerDone appends ".done"; used for the empty completion marker that
	// archival scripts poll for.
	MarkerDone
	// MarkerStats appends ".stats".
	MarkerStats
)

// Options control one render call.
type Options struct {
	// WorkerID is suffixed as "--<id>" for interim files. Use -1 when the
	// merger is the writer of the final output.
	WorkerID int
	// WithScheme prepends "<format>:" to produce a trace URI.
	WithScheme bool
	// Marker applies only when WorkerID < 0.
	Marker Marker
}

// maxNameLen bounds rendered names; a template whose expansion exceeds this
// is treated as a fatal template error by callers.
const maxNameLen = 4096

// Template renders output file names.
type Template struct {
	pattern   string
	monitorID string
	format    string
	ext       string
}

// New builds a Template from the output config block.
func New(cfg config.OutputConfig) *Template {
	format := cfg.Format
	if format == "" {
		format = "pcapfile"
	}
	ext := format
	if format == "pcapfile" {
		ext = "pcap"
	}
	return &Template{
		pattern:   cfg.Template,
		monitorID: cfg.MonitorID,
		format:    format,
		ext:       ext,
	}
}

// Format returns the configured trace format name.
func (t *Template) Format() string { return t.format }

// Render expands the template for the given interval timestamp.
func (t *Template) Render(timestamp uint32, opts Options) (string, error) {
	var b strings.Builder

	if opts.WithScheme {
		b.WriteString(t.format)
		b.WriteByte(':')
	}

	when := time.Unix(int64(timestamp), 0).UTC()
	pattern := t.pattern
	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		if ch != '%' {
			b.WriteByte(ch)
			continue
		}
		if i+1 >= len(pattern) {
			// Trailing bare % at end of template, keep it literal.
			b.WriteByte('%')
			break
		}
		i++
		switch pattern[i] {
		case 'N':
			b.WriteString(t.monitorID)
		case 'P':
			b.WriteString("wdcap")
		case 'f':
			b.WriteString(t.ext)
		case 's':
			b.WriteString(strconv.FormatUint(uint64(timestamp), 10))
		default:
			strftimeDirective(&b, pattern[i], when)
		}
		if b.Len() > maxNameLen {
			return "", fmt.Errorf("rendered output name exceeds %d characters", maxNameLen)
		}
	}

	if opts.WorkerID >= 0 {
		// Interim output files carry the writing worker's id so the merger
		// can find each one; markers never apply to them.
		fmt.Fprintf(&b, "--%d", opts.WorkerID)
	} else {
		switch opts.Marker {
		case MarkerDone:
			b.WriteString(".done")
		case MarkerStats:
			b.WriteString(".stats")
		}
	}

	if b.Len() > maxNameLen {
		return "", fmt.Errorf("rendered output name exceeds %d characters", maxNameLen)
	}
	return b.String(), nil
}

// strftimeDirective expands a single time directive in UTC. Unrecognised
// directives are kept verbatim, which matches how strftime treats them.
func strftimeDirective(b *strings.Builder, c byte, when time.Time) {
	switch c {
	case 'Y':
		fmt.Fprintf(b, "%04d", when.Year())
	case 'y':
		fmt.Fprintf(b, "%02d", when.Year()%100)
	case 'm':
		fmt.Fprintf(b, "%02d", int(when.Month()))
	case 'd':
		fmt.Fprintf(b, "%02d", when.Day())
	case 'j':
		fmt.Fprintf(b, "%03d", when.YearDay())
	case 'H':
		fmt.Fprintf(b, "%02d", when.Hour())
	case 'M':
		fmt.Fprintf(b, "%02d", when.Minute())
	case 'S':
		fmt.Fprintf(b, "%02d", when.Second())
	case 'b':
		b.WriteString(when.Format("Jan"))
	case 'B':
		b.WriteString(when.Format("January"))
	case 'a':
		b.WriteString(when.Format("Mon"))
	case 'A':
		b.WriteString(when.Format("Monday"))
	case 'e':
		fmt.Fprintf(b, "%2d", when.Day())
	case 'Z':
		b.WriteString("UTC")
	case '%':
		b.WriteByte('%')
	default:
		b.WriteByte('%')
		b.WriteByte(c)
	}
}

// StripScheme removes any leading "scheme:" prefix from a trace URI,
// returning the bare filesystem path.
func StripScheme(uri string) string {
	if idx := strings.IndexByte(uri, ':'); idx >= 0 {
		return uri[idx+1:]
	}
	return uri
}
