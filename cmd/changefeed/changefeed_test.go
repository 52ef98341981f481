package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetdash/internal/broker"
	"fleetdash/internal/config"
)

func TestFeedPostsToPushd(t *testing.T) {
	var mu sync.Mutex
	var got []broker.PublishRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/publish", r.URL.Path)
		var req broker.PublishRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		got = append(got, req)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"delivered":2}`))
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := newSink(config.NewDefaultConfig(), srv.URL+"/", logger)
	require.NoError(t, err)

	in := bufio.NewScanner(strings.NewReader(`
# vehicle went offline
{"collection":"vehicles","op":"update","id":"v1","document":{"status":"Inactive"}}
not json
{"collection":"drivers","op":"drop"}
`))
	require.NoError(t, feed(context.Background(), s, in, logger))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	assert.Equal(t, "vehicles", got[0].Room)
	assert.Equal(t, "Vehicles:update", got[0].Event)
	assert.JSONEq(t, `{"_id":"v1","status":"Inactive"}`, string(got[0].Data))
	assert.Equal(t, "directDbChange", got[1].Event)
	assert.Equal(t, "drivers", got[2].Room)
	assert.Equal(t, "directDbChange", got[2].Event)
}

func TestFeedStopsOnPublishError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad","status":400}`))
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := newSink(config.NewDefaultConfig(), srv.URL, logger)
	require.NoError(t, err)

	in := bufio.NewScanner(strings.NewReader(`{"collection":"admins","op":"delete","id":"a1"}`))
	err = feed(context.Background(), s, in, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestNewSinkNeedsTarget(t *testing.T) {
	_, err := newSink(config.NewDefaultConfig(), "", slog.Default())
	assert.ErrorIs(t, err, errNoSink)

	cfg := config.NewDefaultConfig()
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	s, err := newSink(cfg, "", slog.Default())
	require.NoError(t, err)
	assert.IsType(t, &kafkaSink{}, s)
	assert.NoError(t, s.Close())
}
