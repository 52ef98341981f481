package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"fleetdash/internal/log"
)

type (
	// Reader is the consumer side of the change topic. *kafka.Reader
	// satisfies it
	Reader interface {
		FetchMessage(ctx context.Context) (kafka.Message, error)
		CommitMessages(ctx context.Context, msgs ...kafka.Message) error
		Close() error
	}

	// OpenFunc creates a fresh Reader for every run of the supervisor
	OpenFunc func() (Reader, error)

	// Config controls the consumer
	Config struct {
		Brokers    []string
		Topic      string
		GroupID    string
		MinBackoff time.Duration
		MaxBackoff time.Duration
		Logger     *slog.Logger
	}
)

const (
	DefaultMinBackoff = 500 * time.Millisecond
	DefaultMaxBackoff = 30 * time.Second
)

var ErrNoBrokers = errors.New("missing kafka brokers")

// NewKafkaReader returns an OpenFunc building group readers of the topic
func NewKafkaReader(cfg Config) OpenFunc {
	return func() (Reader, error) {
		if len(cfg.Brokers) == 0 {
			return nil, ErrNoBrokers
		}
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}), nil
	}
}

// Run consumes the change topic until ctx ends, restarting the reader with
// backoff after any failure
func Run(ctx context.Context, open OpenFunc, pub Publisher, cfg Config) error {
	if open == nil || pub == nil {
		return errors.New("ingest needs a reader and a publisher")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backoff := cfg.MinBackoff
	if backoff <= 0 {
		backoff = DefaultMinBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	maxBackoff = max(maxBackoff, backoff)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r, err := open()
		if err != nil {
			logger.Warn("Failed to open change reader", log.Error(err))
			sleep(ctx, backoff)
			backoff = incBackoff(backoff, maxBackoff)
			continue
		}
		logger.Info("Change reader started", slog.String("topic", cfg.Topic))

		n, err := consume(ctx, r, pub, logger)
		_ = r.Close()
		if n > 0 {
			backoff = cfg.MinBackoff
			if backoff <= 0 {
				backoff = DefaultMinBackoff
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.Warn("Restarting change reader", log.Error(err))
		sleep(ctx, backoff)
		backoff = incBackoff(backoff, maxBackoff)
	}
}

// consume handles records until the reader fails and returns how many
// were processed
func consume(
	ctx context.Context, r Reader, pub Publisher, logger *slog.Logger,
) (int, error) {
	n := 0
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			return n, fmt.Errorf("fetch: %w", err)
		}

		if err := handle(pub, msg); err != nil {
			recordsTotal.WithLabelValues("dropped").Inc()
			logger.Warn("Dropped change record",
				slog.Int64("offset", msg.Offset),
				log.Error(err))
		} else {
			recordsTotal.WithLabelValues("published").Inc()
		}

		if err := r.CommitMessages(ctx, msg); err != nil {
			return n, fmt.Errorf("commit: %w", err)
		}
		n++
	}
}

func handle(pub Publisher, msg kafka.Message) error {
	rec, err := ParseRecord(msg.Value)
	if err != nil {
		return err
	}
	_, err = Apply(pub, rec)
	return err
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func incBackoff(cur, max time.Duration) time.Duration {
	n := cur * 2
	if n > max {
		return max
	}
	return n
}
