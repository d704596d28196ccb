package exporter

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"edr-agent/internal/schema"
)

// ClickHouseConfig configures the optional analytics warehouse sink.
// Grounded on the teacher's storage.ClickHouseConfig, trimmed to the
// fields this sink's single events table needs.
type ClickHouseConfig struct {
	Hosts        []string
	Database     string
	Username     string
	Password     string
	TLSEnabled   bool
	DialTimeout  time.Duration
	MaxOpenConns int
}

// DefaultClickHouseConfig mirrors storage.DefaultClickHouseConfig with
// this package's database name.
func DefaultClickHouseConfig() ClickHouseConfig {
	return ClickHouseConfig{
		Hosts:        []string{"localhost:9000"},
		Database:     "edr",
		Username:     "default",
		DialTimeout:  10 * time.Second,
		MaxOpenConns: 10,
	}
}

// ClickHouseSink batch-inserts events into a `events` MergeTree table
// for long-horizon analytics queries the embedded SQLite store isn't
// sized for.
type ClickHouseSink struct {
	conn driver.Conn
	cfg  ClickHouseConfig
}

// NewClickHouseSink opens and verifies a ClickHouse connection, then
// ensures the target table exists.
func NewClickHouseSink(cfg ClickHouseConfig) (*ClickHouseSink, error) {
	opts := &clickhouse.Options{
		Addr: cfg.Hosts,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionZSTD,
		},
		DialTimeout:  cfg.DialTimeout,
		MaxOpenConns: cfg.MaxOpenConns,
	}
	if cfg.TLSEnabled {
		opts.TLS = &tls.Config{InsecureSkipVerify: false}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("exporter: clickhouse open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("exporter: clickhouse ping: %w", err)
	}

	if err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			timestamp    DateTime64(3),
			event_type   String,
			pid          UInt32,
			process_name String,
			risk_score   UInt32,
			details      String
		) ENGINE = MergeTree()
		ORDER BY (timestamp, event_type)
	`); err != nil {
		return nil, fmt.Errorf("exporter: clickhouse create table: %w", err)
	}

	return &ClickHouseSink{conn: conn, cfg: cfg}, nil
}

// Name identifies this sink for log lines and metrics.
func (s *ClickHouseSink) Name() string { return "clickhouse" }

// WriteBatch appends every event to one ClickHouse batch insert.
func (s *ClickHouseSink) WriteBatch(ctx context.Context, events []schema.Event) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO events (timestamp, event_type, pid, process_name, risk_score, details)")
	if err != nil {
		return fmt.Errorf("exporter: clickhouse prepare batch: %w", err)
	}

	for _, e := range events {
		details, _ := json.Marshal(e.Metadata)
		riskScore := 0
		if v := e.Meta("risk_score"); v != "" {
			fmt.Sscanf(v, "%d", &riskScore)
		}
		if err := batch.Append(e.Timestamp(), string(e.Kind), uint32(e.PID), e.ProcessName, uint32(riskScore), string(details)); err != nil {
			return fmt.Errorf("exporter: clickhouse append: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("exporter: clickhouse send batch: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
