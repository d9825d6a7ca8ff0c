package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Kafka publishes each notification as one JSON record keyed by taxonomy,
// so reports of one taxonomy stay ordered within a partition.
type Kafka struct {
	client producer
	topic  string
}

// NewKafka connects a producer to brokers.
func NewKafka(brokers []string, topic, clientID string) (*Kafka, error) {
	if clientID == "" {
		clientID = "symptomradar"
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerLinger(10*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Kafka{client: client, topic: topic}, nil
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Send(ctx context.Context, n *Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal kafka payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(n.Taxonomy),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "run_id", Value: []byte(n.RunID)},
			{Key: "status", Value: []byte(n.Status)},
		},
	}
	if err := k.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", k.topic, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	k.client.Close()
	return nil
}
