package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nao1215/darc/internal/model"
)

// DefaultTopic is the topic outcomes are written to.
const DefaultTopic = "darc.visits"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes outcomes to a Kafka topic.
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink creates a sink for the given broker and topic.
func NewKafkaSink(broker, topic string) *KafkaSink {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(broker),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			BatchTimeout:           100 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}
}

func newKafkaSinkWithWriter(writer messageWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

// Publish implements Sink. Messages are keyed by URL so that all visits of
// one URL land in the same partition.
func (s *KafkaSink) Publish(ctx context.Context, v *model.VisitOutcome) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}
	ts := v.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := kafka.Message{
		Key:   []byte(v.URL),
		Value: payload,
		Time:  ts.UTC(),
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish outcome of %s: %w", v.URL, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
