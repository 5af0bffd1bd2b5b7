package export

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/fastloop/fastloop/codec"
)

// syncProducer narrows sarama.SyncProducer to the two calls KafkaExporter
// makes, so tests can supply a small fake instead of a full sarama mock.
type syncProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

// KafkaConfig configures the Kafka realization of Exporter.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS"`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC"`
}

// KafkaExporter mirrors SERVER events onto a Kafka topic, keyed by
// loop_id so all events for one loop land in the same partition and a
// consumer sees them in emission order.
type KafkaExporter struct {
	producer syncProducer
	topic    string
}

// NewKafkaExporter dials brokers with a synchronous producer configured
// for idempotent, ordered, acked writes.
func NewKafkaExporter(cfg KafkaConfig) (*KafkaExporter, error) {
	conf := sarama.NewConfig()
	conf.Producer.RequiredAcks = sarama.WaitForAll
	conf.Producer.Retry.Max = 5
	conf.Producer.Return.Successes = true
	conf.Producer.Idempotent = true
	conf.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.Brokers, conf)
	if err != nil {
		return nil, fmt.Errorf("export: dial kafka: %w", err)
	}
	return &KafkaExporter{producer: producer, topic: cfg.Topic}, nil
}

func (e *KafkaExporter) Export(ctx context.Context, event codec.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("export: encode event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: e.topic,
		Key:   sarama.StringEncoder(event.LoopID),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := e.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("export: send to kafka: %w", err)
	}
	return nil
}

func (e *KafkaExporter) Close() error {
	return e.producer.Close()
}
