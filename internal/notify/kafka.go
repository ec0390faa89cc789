// Package notify announces published detection runs on a Kafka topic.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"wardtrace/internal/core"
	"wardtrace/pkg/domain"
)

// ClusterSummary is the per-cluster part of a RunEvent.
type ClusterSummary struct {
	Infection     string      `json:"infection"`
	ClusterID     int         `json:"cluster_id"`
	Size          int         `json:"size"`
	Locations     []string    `json:"locations"`
	FirstPositive domain.Date `json:"first_positive"`
	LastPositive  domain.Date `json:"last_positive"`
}

// RunEvent is the message value written for each published run.
type RunEvent struct {
	RunID       string           `json:"run_id"`
	PublishedAt time.Time        `json:"published_at"`
	Stats       domain.Stats     `json:"stats"`
	Clusters    []ClusterSummary `json:"clusters"`
}

// NewRunEvent summarises p. Clusters are ordered by infection, then id.
func NewRunEvent(p core.Published) RunEvent {
	ev := RunEvent{
		RunID:       p.RunID,
		PublishedAt: p.PublishedAt,
		Stats:       p.Result.Stats,
		Clusters:    make([]ClusterSummary, 0, p.Result.Clusters.Total()),
	}
	for _, infection := range p.Result.Clusters.Infections() {
		for _, c := range p.Result.Clusters[infection] {
			ev.Clusters = append(ev.Clusters, ClusterSummary{
				Infection:     infection,
				ClusterID:     c.ClusterID,
				Size:          c.Size,
				Locations:     append([]string(nil), c.Locations...),
				FirstPositive: c.FirstPositive,
				LastPositive:  c.LastPositive,
			})
		}
	}
	return ev
}

// Message encodes p as a Kafka message keyed by run id.
func Message(p core.Published) (kafka.Message, error) {
	value, err := json.Marshal(NewRunEvent(p))
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode run event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(p.RunID),
		Value: value,
		Time:  p.PublishedAt,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}, nil
}

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher implements core.Publisher.
type KafkaPublisher struct {
	w       MessageWriter
	timeout time.Duration
}

var _ core.Publisher = (*KafkaPublisher)(nil)

// NewKafkaWriter returns a synchronous writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}
}

// NewKafkaPublisher publishes through w. Each publish is bounded by a
// 10 second timeout.
func NewKafkaPublisher(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{w: w, timeout: 10 * time.Second}
}

// Publish writes one message for p.
func (k *KafkaPublisher) Publish(ctx context.Context, p core.Published) error {
	msg, err := Message(p)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (k *KafkaPublisher) Close() error { return k.w.Close() }
