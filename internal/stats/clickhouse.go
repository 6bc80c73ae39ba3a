package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"ChronoCap/internal/config"
	"ChronoCap/internal/model"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS capture_intervals (
    IntervalStart     DateTime,
    ThreadID          Int32,
    AcceptedPkts      Nullable(Int64),
    FilteredPkts      Nullable(Int64),
    ReceivedPkts      Nullable(Int64),
    DroppedPkts       Nullable(Int64),
    CapturedPkts      Nullable(Int64),
    MissingPkts       Nullable(Int64),
    ErrorPkts         Nullable(Int64),
    MergeDurationMsec Int64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(IntervalStart)
ORDER BY (IntervalStart, ThreadID);
`

// ClickHouseSink batch-inserts per-interval statistics rows: one row per
// reporting worker plus one aggregate row with ThreadID -1.
type ClickHouseSink struct {
	conn driver.Conn
}

// NewClickHouseSink connects to ClickHouse and ensures the target table
// exists.
func NewClickHouseSink(cfg config.ClickHouseConfig) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		return nil, fmt.Errorf("failed to create capture_intervals table: %w", err)
	}
	return &ClickHouseSink{conn: conn}, nil
}

// WriteInterval inserts the statistics rows for one merged interval.
func (s *ClickHouseSink) WriteInterval(timestamp uint32, workerIDs []int,
	perWorker []model.CaptureStats, duration time.Duration) error {

	batch, err := s.conn.PrepareBatch(context.Background(),
		"INSERT INTO capture_intervals")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	when := time.Unix(int64(timestamp), 0).UTC()
	msec := duration.Milliseconds()

	for i, st := range perWorker {
		if err := appendRow(batch, when, int32(workerIDs[i]), st, msec); err != nil {
			return err
		}
	}
	if err := appendRow(batch, when, AggregateThreadID, Aggregate(perWorker), msec); err != nil {
		return err
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send stats batch: %w", err)
	}
	return nil
}

func appendRow(batch driver.Batch, when time.Time, threadID int32,
	st model.CaptureStats, msec int64) error {

	err := batch.Append(
		when,
		threadID,
		nullable(st.Accepted),
		nullable(st.Filtered),
		nullable(st.Received),
		nullable(st.Dropped),
		nullable(st.Captured),
		nullable(st.Missing),
		nullable(st.Errors),
		msec,
	)
	if err != nil {
		return fmt.Errorf("failed to append stats row: %w", err)
	}
	return nil
}

func nullable(v model.StatValue) *int64 {
	if !v.Valid {
		return nil
	}
	value := v.Value
	return &value
}

// Close shuts down the ClickHouse connection.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
