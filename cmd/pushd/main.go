package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"fleetdash/internal/broker"
	"fleetdash/internal/config"
	"fleetdash/internal/ingest"
	"fleetdash/internal/log"
	"fleetdash/internal/rest"
	"fleetdash/internal/session"
)

func main() {
	path := flag.String("config", os.Getenv("FLEETDASH_CONFIG"), "yaml config file")
	listen := flag.String("listen", "", "http listen address (overrides config)")
	token := flag.String("token", os.Getenv("FLEETDASH_API_TOKEN"), "bearer token for the rest api")
	brokers := flag.String("kafka", "", "comma separated kafka brokers; enables change ingestion")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pushd: %v\n", err)
		os.Exit(2)
	}
	if *listen != "" {
		cfg.Push.Listen = *listen
	}
	if *brokers != "" {
		cfg.Kafka.Brokers = strings.Split(*brokers, ",")
	}
	logger := log.New("pushd", log.ParseLevel(cfg.Log.Level))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cfg, *token, logger); err != nil {
		logger.Error("Push server stopped", log.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, token string, logger *slog.Logger) error {
	sess := session.New("")
	if token != "" {
		if err := sess.Save(token, ""); err != nil {
			return err
		}
	}
	api := rest.New(cfg.API.BaseURL, sess,
		rest.WithTimeout(cfg.API.Timeout),
		rest.WithLogger(logger),
	)

	b := broker.NewBroker(broker.Config{
		RefreshRate:  rate.Limit(cfg.Push.RefreshRate),
		RefreshBurst: cfg.Push.RefreshBurst,
		SendBuffer:   cfg.Push.SendBuffer,
		Logger:       logger,
	})
	b.HandleRefresh(broker.SnapshotRefresher(api))
	b.HandleCommands(broker.VehicleCommands(api, b))

	srv := &http.Server{
		Addr:              cfg.Push.Listen,
		Handler:           broker.NewRouter(b, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("Push server listening",
			slog.String("addr", cfg.Push.Listen), slog.String("ws", "/ws"))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	if len(cfg.Kafka.Brokers) > 0 {
		icfg := ingest.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
			Logger:  logger,
		}
		go func() {
			if err := ingest.Run(ctx, ingest.NewKafkaReader(icfg), b, icfg); err != nil &&
				!errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("ingest: %w", err)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	var err error
	select {
	case <-sig:
	case err = <-errCh:
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.Close()
	_ = srv.Shutdown(shutdown)
	return err
}
