// Package kafka implements a Kafka dispatch publisher.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JakeFAU/crawl-registry/internal/jobs"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config describes the Kafka cluster the publisher writes to.
type Config struct {
	Brokers      []string
	BatchTimeout time.Duration
}

// Publisher writes JSON payloads to Kafka topics. The topic is chosen per
// message so a single writer serves every topic.
type Publisher struct {
	writer messageWriter
	clock  jobs.Clock
	seq    atomic.Uint64
}

// New creates a Kafka publisher for the given brokers.
func New(cfg Config, clock jobs.Clock) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}
	return NewWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
	}, clock), nil
}

// NewWithWriter builds a publisher using a custom writer (tests).
func NewWithWriter(writer messageWriter, clock jobs.Clock) *Publisher {
	return &Publisher{writer: writer, clock: clock}
}

// Close shuts down the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Publish encodes payload and writes it to topic. Keyed payloads are hashed to
// a partition by their key so messages for one job stay ordered.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("kafka topic is required")
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := kafka.Message{
		Topic: topic,
		Value: value,
		Time:  p.clock.Now(),
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}
	id := "kafka-" + strconv.FormatUint(p.seq.Add(1), 10)
	if keyed, ok := payload.(jobs.Keyed); ok {
		msg.Key = []byte(keyed.MessageKey())
		id = keyed.MessageKey()
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write message to %s: %w", topic, err)
	}
	return id, nil
}
