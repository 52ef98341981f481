package ingest

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
)

// Writer is the producer side of the change topic. *kafka.Writer
// satisfies it
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a writer for the change topic
func NewKafkaWriter(cfg Config) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	return kafka.NewWriter(kafka.WriterConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
	}), nil
}

// Write produces records keyed by collection so changes of one collection
// keep their order
func Write(ctx context.Context, w Writer, recs ...Record) error {
	msgs := make([]kafka.Message, 0, len(recs))
	for _, r := range recs {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(r.Collection),
			Value: b,
		})
	}
	return w.WriteMessages(ctx, msgs...)
}
