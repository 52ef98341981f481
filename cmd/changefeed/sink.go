package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"fleetdash/internal/broker"
	"fleetdash/internal/config"
	"fleetdash/internal/ingest"
)

type (
	sink interface {
		Send(ctx context.Context, rec ingest.Record) error
		Close() error
	}

	kafkaSink struct {
		w ingest.Writer
	}

	// httpSink applies records locally and posts the resulting events to
	// pushd's publish endpoint
	httpSink struct {
		url    string
		client *http.Client
		logger *slog.Logger
	}

	publishCall struct {
		ctx context.Context
		s   *httpSink
	}
)

var errNoSink = errors.New("set kafka brokers or -pushd")

func newSink(cfg config.Config, pushd string, logger *slog.Logger) (sink, error) {
	if pushd != "" {
		return &httpSink{
			url:    strings.TrimRight(pushd, "/") + "/publish",
			client: &http.Client{Timeout: 10 * time.Second},
			logger: logger,
		}, nil
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, errNoSink
	}
	w, err := ingest.NewKafkaWriter(ingest.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
	})
	if err != nil {
		return nil, err
	}
	return &kafkaSink{w: w}, nil
}

func (k *kafkaSink) Send(ctx context.Context, rec ingest.Record) error {
	return ingest.Write(ctx, k.w, rec)
}

func (k *kafkaSink) Close() error {
	return k.w.Close()
}

func (h *httpSink) Send(ctx context.Context, rec ingest.Record) error {
	out, err := ingest.Apply(publishCall{ctx: ctx, s: h}, rec)
	if err != nil {
		return err
	}
	h.logger.Info("Published change",
		slog.String("collection", rec.Collection),
		slog.String("event", out.Event))
	return nil
}

func (h *httpSink) Close() error {
	return nil
}

func (p publishCall) Publish(room, event string, payload any) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	body, err := json.Marshal(broker.PublishRequest{
		Room:  room,
		Event: event,
		Data:  data,
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(p.ctx, http.MethodPost, p.s.url,
		bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("publish %s: %s: %s", event, resp.Status,
			bytes.TrimSpace(b))
	}
	var res struct {
		Delivered int `json:"delivered"`
	}
	if err := json.Unmarshal(b, &res); err != nil {
		return 0, err
	}
	return res.Delivered, nil
}
