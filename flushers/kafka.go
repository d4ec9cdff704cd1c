package flushers

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/pkg/errors"

	batchz "github.com/zoobzio/batchz"
)

// KafkaEncoder maps an item to a message key and value. A nil key lets the
// producer's partitioner pick the partition.
type KafkaEncoder[T any] func(item T) (key, value []byte, err error)

// KafkaValue adapts an Encoder into a KafkaEncoder with no message key.
func KafkaValue[T any](enc Encoder[T]) KafkaEncoder[T] {
	return func(item T) ([]byte, []byte, error) {
		v, err := enc(item)
		return nil, v, err
	}
}

// Kafka returns a flush function that publishes each batch to topic with a
// single SendMessages call. The batch fails as a whole if any message fails.
func Kafka[T any](producer sarama.SyncProducer, topic string, enc KafkaEncoder[T]) batchz.FlushFunc[T] {
	return func(ctx context.Context, batch []T) error {
		if len(batch) == 0 {
			return nil
		}

		msgs := make([]*sarama.ProducerMessage, 0, len(batch))
		for i, item := range batch {
			key, value, err := enc(item)
			if err != nil {
				return errors.Wrapf(err, "kafka: encode item %d", i)
			}
			msg := &sarama.ProducerMessage{Topic: topic, Value: sarama.ByteEncoder(value)}
			if key != nil {
				msg.Key = sarama.ByteEncoder(key)
			}
			msgs = append(msgs, msg)
		}

		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "kafka: flush canceled")
		}
		if err := producer.SendMessages(msgs); err != nil {
			return errors.Wrapf(err, "kafka: send %d messages to %s", len(msgs), topic)
		}
		return nil
	}
}
