package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Kafka publishes notifications as JSON records keyed by user ID. Downstream
// feed consumers materialize them; this side only produces.
type Kafka struct {
	client *kgo.Client
	topic  string
}

// NewKafka connects a producer to the given brokers.
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchMaxBytes(1<<20),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: connect kafka: %w", err)
	}
	return &Kafka{client: client, topic: topic}, nil
}

type message struct {
	UserID    string         `json:"user_id"`
	Kind      string         `json:"kind"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func (k *Kafka) Notify(ctx context.Context, userID, kind, title, body string, data map[string]any) error {
	payload, err := json.Marshal(message{
		UserID:    userID,
		Kind:      kind,
		Title:     title,
		Message:   body,
		Data:      data,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("notify: marshal message: %w", err)
	}

	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(userID),
		Value: payload,
	}
	if err := k.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("notify: produce: %w", err)
	}
	return nil
}

// Close flushes and shuts down the producer.
func (k *Kafka) Close() {
	k.client.Close()
}
