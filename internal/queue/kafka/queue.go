// Package kafka provides a Kafka-backed job queue, letting submission and
// execution run in separate processes the way the original deployment split
// its API and worker containers.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/akarpov/tender-harvester/internal/crawler"
)

// Config captures broker connection details.
type Config struct {
	Broker  string
	Topic   string
	GroupID string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Queue implements crawler.Queue on top of a Kafka topic.
type Queue struct {
	writer messageWriter
	reader messageReader
}

// New creates a Queue for the given broker, topic and consumer group.
func New(cfg Config) *Queue {
	return &Queue{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Broker),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: []string{cfg.Broker},
			Topic:   cfg.Topic,
			GroupID: cfg.GroupID,
		}),
	}
}

// NewWithClients builds a Queue using custom writer/reader (tests).
func NewWithClients(writer messageWriter, reader messageReader) *Queue {
	return &Queue{writer: writer, reader: reader}
}

// Enqueue publishes the queue item keyed by job ID.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(item.JobID),
		Value: payload,
		Time:  time.Now().UTC(),
	}
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write queue message: %w", err)
	}
	return nil
}

// Dequeue blocks for the next queue item.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	msg, err := q.reader.ReadMessage(ctx)
	if err != nil {
		return crawler.QueueItem{}, fmt.Errorf("read queue message: %w", err)
	}
	var item crawler.QueueItem
	if err := json.Unmarshal(msg.Value, &item); err != nil {
		return crawler.QueueItem{}, fmt.Errorf("unmarshal queue item: %w", err)
	}
	return item, nil
}

// Close shuts down the underlying clients.
func (q *Queue) Close() error {
	werr := q.writer.Close()
	rerr := q.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
