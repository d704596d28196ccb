// Package kafkabridge implements an inbound collector that bridges
// events produced by remote sensors onto a Kafka topic back onto the
// local bus, letting the agent ingest telemetry from sensors it does
// not run in-process (a fleet of lightweight collectors shipping JSON
// events to a shared topic, one EDR engine instance consuming them).
//
// Grounded on the teacher's internal/kafka package (Config/NewConsumer/
// consumeLoop shape), trimmed to the one operation this collector needs
// — decode a JSON-encoded schema.Event from each message and publish it
// — since the bridge has no producer side and does not need the
// teacher's SASL/TLS/compression knobs beyond what Config exposes.
package kafkabridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"edr-agent/internal/bus"
	"edr-agent/internal/schema"
)

// Config configures the Kafka bridge consumer. Trimmed from the
// teacher's kafka.Config to the fields a single read-only consumer
// needs; TLS/SASL are handled the same way via Dialer construction but
// are optional here since most deployments run the bridge against a
// trusted in-cluster broker.
type Config struct {
	Brokers        []string
	Topic          string
	ConsumerGroup  string
	MinBytes       int
	MaxBytes       int
	MaxWait        time.Duration
	CommitInterval time.Duration
	StartOffset    int64
}

// DefaultConfig mirrors the teacher's kafka.DefaultConfig consumer
// knobs, renamed for this bridge's own topic/group.
func DefaultConfig() Config {
	return Config{
		Brokers:        []string{"localhost:9092"},
		Topic:          "edr-agent-events",
		ConsumerGroup:  "edr-agent-bridge",
		MinBytes:       1,
		MaxBytes:       10 * 1024 * 1024,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	}
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafkabridge: at least one broker is required")
	}
	if c.Topic == "" {
		return errors.New("kafkabridge: topic is required")
	}
	return nil
}

// Bridge consumes schema.Event messages from a Kafka topic and
// republishes each onto the local bus, same as any other collector.
type Bridge struct {
	reader *kafka.Reader
	bus    *bus.Bus
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	consumed atomic.Int64
	decodeErrors atomic.Int64
}

// New constructs a Bridge that will publish decoded events onto b.
func New(cfg Config, b *bus.Bus, log *slog.Logger) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.ConsumerGroup,
		Topic:          cfg.Topic,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        cfg.MaxWait,
		CommitInterval: cfg.CommitInterval,
		StartOffset:    cfg.StartOffset,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Debug(fmt.Sprintf(msg, args...), "component", "kafkabridge-reader")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error(fmt.Sprintf(msg, args...), "component", "kafkabridge-reader")
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{reader: reader, bus: b, log: log, ctx: ctx, cancel: cancel}, nil
}

// Start begins consuming in a background goroutine. Returns immediately.
func (br *Bridge) Start() {
	br.wg.Add(1)
	go func() {
		defer br.wg.Done()
		if err := br.consumeLoop(); err != nil && !errors.Is(err, context.Canceled) {
			br.log.Error("kafka bridge consume loop exited", "error", err)
		}
	}()
}

func (br *Bridge) consumeLoop() error {
	for {
		msg, err := br.reader.FetchMessage(br.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			br.log.Error("kafka bridge fetch failed", "error", err)
			select {
			case <-br.ctx.Done():
				return br.ctx.Err()
			case <-time.After(time.Second):
				continue
			}
		}

		event, err := decodeEvent(msg.Value)
		if err != nil {
			br.decodeErrors.Add(1)
			br.log.Error("kafka bridge dropped undecodable message",
				"error", err, "partition", msg.Partition, "offset", msg.Offset)
		} else {
			br.bus.PublishAsync(event)
			br.consumed.Add(1)
		}

		if err := br.reader.CommitMessages(br.ctx, msg); err != nil {
			br.log.Error("kafka bridge commit failed", "error", err, "offset", msg.Offset)
		}
	}
}

func decodeEvent(payload []byte) (schema.Event, error) {
	var event schema.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return schema.Event{}, fmt.Errorf("kafkabridge: unmarshal event: %w", err)
	}
	if !event.Kind.IsValid() {
		return schema.Event{}, fmt.Errorf("kafkabridge: unknown event kind %q", event.Kind)
	}
	return event, nil
}

// Consumed reports how many events this bridge has published so far.
func (br *Bridge) Consumed() int64 { return br.consumed.Load() }

// DecodeErrors reports how many messages failed to decode.
func (br *Bridge) DecodeErrors() int64 { return br.decodeErrors.Load() }

// Stop cancels the consume loop, waits for it to exit, and closes the
// underlying reader.
func (br *Bridge) Stop() error {
	if br.closed.Swap(true) {
		return nil
	}
	br.cancel()
	br.wg.Wait()
	if err := br.reader.Close(); err != nil {
		return fmt.Errorf("kafkabridge: close reader: %w", err)
	}
	return nil
}
