package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// KafkaMirror copies delivered tokens to a Kafka topic. The message key is
// the (first) message id and the "kind" header tells acks from outputs.
type KafkaMirror struct {
	writer messageWriter
	topic  string
}

func NewKafkaMirror(brokers []string, topic string) (*KafkaMirror, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafka mirror needs brokers and a topic")
	}
	return &KafkaMirror{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}, nil
}

func (m *KafkaMirror) Publish(ctx context.Context, kind Kind, key string, payload []byte) error {
	err := m.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   payload,
		Headers: []kafka.Header{{Key: "kind", Value: []byte(kind)}},
		Time:    time.Now(),
	})
	if err != nil {
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			return fmt.Errorf("kafka topic %q does not exist: %w", m.topic, err)
		}
		return err
	}
	return nil
}

func (m *KafkaMirror) Close() error {
	return m.writer.Close()
}
