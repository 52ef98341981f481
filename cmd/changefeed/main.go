// Command changefeed feeds entity-change records to the push server, either
// through the Kafka change topic or straight to pushd's publish endpoint.
// Records are read as JSON lines from stdin unless -collection is given
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"fleetdash/internal/config"
	"fleetdash/internal/ingest"
	"fleetdash/internal/log"
)

func main() {
	path := flag.String("config", os.Getenv("FLEETDASH_CONFIG"), "yaml config file")
	brokers := flag.String("kafka", "", "comma separated kafka brokers (overrides config)")
	pushd := flag.String("pushd", "", "pushd base url, e.g. http://localhost:8080; bypasses kafka")
	rec := ingest.Record{}
	doc := flag.String("doc", "", "document json")
	flag.StringVar(&rec.Collection, "collection", "", "collection of a single record")
	flag.StringVar(&rec.Op, "op", "update", "insert, update, delete or a collection-wide op")
	flag.StringVar(&rec.ID, "id", "", "document id")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "changefeed: %v\n", err)
		os.Exit(2)
	}
	if *brokers != "" {
		cfg.Kafka.Brokers = strings.Split(*brokers, ",")
	}
	logger := log.New("changefeed", log.ParseLevel(cfg.Log.Level))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := newSink(cfg, *pushd, logger)
	if err != nil {
		logger.Error("No sink", log.Error(err))
		os.Exit(2)
	}
	defer s.Close()

	if rec.Collection != "" {
		if *doc != "" {
			rec.Document = json.RawMessage(*doc)
		}
		err = send(ctx, s, rec)
	} else {
		err = feed(ctx, s, bufio.NewScanner(os.Stdin), logger)
	}
	if err != nil && ctx.Err() == nil {
		logger.Error("Changefeed failed", log.Error(err))
		os.Exit(1)
	}
}

// feed sends every valid line and skips the rest
func feed(ctx context.Context, s sink, in *bufio.Scanner, logger *slog.Logger) error {
	in.Buffer(make([]byte, 0, 64<<10), 4<<20)
	line := 0
	for in.Scan() {
		line++
		text := strings.TrimSpace(in.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		rec, err := ingest.ParseRecord([]byte(text))
		if err != nil {
			logger.Warn("Skipping line", slog.Int("line", line), log.Error(err))
			continue
		}
		if err := s.Send(ctx, rec); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return in.Err()
}

func send(ctx context.Context, s sink, rec ingest.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	rec, err = ingest.ParseRecord(b)
	if err != nil {
		return err
	}
	return s.Send(ctx, rec)
}
