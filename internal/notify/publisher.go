// Package notify publishes interval-completion events so downstream
// archival can react without polling for marker files.
package notify

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"

	"ChronoCap/internal/config"
)

// IntervalMerged is the event published after a successful interval merge.
type IntervalMerged struct {
	Timestamp         uint32 `msgpack:"timestamp"`
	Path              string `msgpack:"path"`
	Packets           uint64 `msgpack:"packets"`
	MergeDurationMsec int64  `msgpack:"merge_duration_msec"`
}

// Publisher publishes interval events to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher connects to the configured NATS server.
func NewPublisher(cfg config.NotifyConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	return &Publisher{nc: nc, subject: cfg.Subject}, nil
}

// PublishMerged serializes the event to msgpack and publishes it.
func (p *Publisher) PublishMerged(ev IntervalMerged) error {
	data, err := msgpack.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("failed to encode interval event: %w", err)
	}
	return p.nc.Publish(p.subject, data)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
	}
}
