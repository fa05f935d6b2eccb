// Package audit publishes an append-only record of each commit attempt
// (committed, cooldown or failed) for external observability. The reference
// persistence layer's Kafka support is intentionally import-free (an
// abstracted KafkaProducer interface with no concrete client, so the demo
// never needs a broker); this module keeps that same narrow interface shape
// but backs it with a real producer (github.com/twmb/franz-go) when a broker
// is configured, and a NoopSink that discards records otherwise.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Record is one audit entry: the outcome of a single commit attempt.
type Record struct {
	CommitID  string    `json:"commit_id"`
	Timestamp time.Time `json:"ts"`
	Block     uint64    `json:"block"`
	Status    string    `json:"status"`
	TxMessage string    `json:"tx_message,omitempty"`
	RewardSum float64   `json:"reward_sum"`
	NumActive int       `json:"num_active"`
	EventID   string    `json:"event_id,omitempty"`
}

// Sink publishes audit records. Publish must not block the epoch driver for
// long; implementations should treat publish failure as non-fatal.
type Sink interface {
	Publish(ctx context.Context, rec Record) error
	Close() error
}

// NoopSink discards every record — the default when no broker is
// configured.
type NoopSink struct{}

func (NoopSink) Publish(context.Context, Record) error { return nil }
func (NoopSink) Close() error                           { return nil }

// KafkaSink publishes one JSON message per commit to a configured topic.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// NewKafkaSink dials the given brokers and returns a Sink publishing to
// topic. Returns an error only on client construction failure (e.g.
// malformed broker list); it does not probe connectivity eagerly.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("audit: new kafka client: %w", err)
	}
	return &KafkaSink{client: client, topic: topic}, nil
}

func (k *KafkaSink) Publish(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}
	result := k.client.ProduceSync(ctx, &kgo.Record{
		Topic: k.topic,
		Key:   []byte(rec.CommitID),
		Value: payload,
	})
	return result.FirstErr()
}

func (k *KafkaSink) Close() error {
	k.client.Close()
	return nil
}

// NewCommitID returns a fresh random UUID on every call. The epoch driver
// calls it once per commit attempt, after the commit manager's retry loop
// has returned, so each audit record carries exactly one ID; the ID is not
// passed to the chain client or used inside the retry loop.
func NewCommitID() string {
	return uuid.NewString()
}
