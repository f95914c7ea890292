// Package bus provides the Kafka transport for signal fan-out. Messages are
// keyed by signal type so every detector family lands on a stable partition
// and consumers see its signals in order.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/aristath/tradewinds/internal/domain"
)

// Producer publishes signals to the signals topic.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	log      zerolog.Logger
}

// NewProducer builds a synchronous producer. Publishes wait up to ten
// seconds for broker acknowledgement and are not retried; a lost signal is
// regenerated on the next detector pass.
func NewProducer(brokers []string, topic string, log zerolog.Logger) (*Producer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Timeout = 10 * time.Second
	cfg.Producer.Retry.Max = 0
	cfg.Producer.Return.Successes = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return &Producer{
		producer: producer,
		topic:    topic,
		log:      log.With().Str("component", "bus.producer").Logger(),
	}, nil
}

// Publish sends one signal, keyed by its type.
func (p *Producer) Publish(signal *domain.Signal) error {
	payload, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("failed to encode signal: %w", err)
	}
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(string(signal.SignalType)),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("failed to publish signal %s: %w", signal.SignalID, err)
	}
	p.log.Debug().
		Str("signal_id", signal.SignalID).
		Str("signal_type", string(signal.SignalType)).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("signal published")
	return nil
}

// Close shuts the producer down.
func (p *Producer) Close() error {
	return p.producer.Close()
}
