package ingest_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetdash/internal/events"
	"fleetdash/internal/ingest"
)

type (
	published struct {
		Room  string
		Event string
		Data  string
	}

	fakePublisher struct {
		mu   sync.Mutex
		sent []published
	}

	fakeReader struct {
		msgs      chan kafka.Message
		mu        sync.Mutex
		committed []int64
		closed    bool
	}

	fakeWriter struct {
		msgs []kafka.Message
	}
)

func (p *fakePublisher) Publish(room, event string, payload any) (int, error) {
	var data string
	switch v := payload.(type) {
	case json.RawMessage:
		data = string(v)
	default:
		b, _ := json.Marshal(v)
		data = string(b)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{Room: room, Event: event, Data: data})
	return 1, nil
}

func (p *fakePublisher) get() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.sent...)
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m, ok := <-r.msgs:
		if !ok {
			return kafka.Message{}, io.EOF
		}
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	return nil
}

func message(offset int64, v string) kafka.Message {
	return kafka.Message{Offset: offset, Value: []byte(v)}
}

func TestApplyInsert(t *testing.T) {
	pub := &fakePublisher{}
	rec, err := ingest.ParseRecord([]byte(
		`{"collection":"Admins","op":"insert","document":{"_id":"a1"}}`,
	))
	require.NoError(t, err)

	out, err := ingest.Apply(pub, rec)
	require.NoError(t, err)
	assert.Equal(t, events.Admins, out.Domain)
	assert.Equal(t, "Admins:insert", out.Event)

	assert.Equal(t, []published{
		{Room: "admin-management", Event: "Admins:insert", Data: `{"_id":"a1"}`},
		{
			Room:  "admin-management",
			Event: events.EventDirectDBChange,
			Data:  `{"collection":"Admins","operationType":"insert"}`,
		},
	}, pub.get())
}

func TestApplyDeleteByID(t *testing.T) {
	pub := &fakePublisher{}
	out, err := ingest.Apply(pub, ingest.Record{
		Collection: "invoices", Op: "delete", ID: "i3",
	})
	require.NoError(t, err)
	assert.Equal(t, "invoiceDeleted", out.Event)

	sent := pub.get()
	require.Len(t, sent, 2)
	assert.Equal(t, "billing", sent[0].Room)
	assert.JSONEq(t, `{"_id":"i3"}`, sent[0].Data)
}

func TestApplyUpdateAddsID(t *testing.T) {
	pub := &fakePublisher{}
	_, err := ingest.Apply(pub, ingest.Record{
		Collection: "vehicles",
		Op:         "update",
		ID:         "v1",
		Document:   json.RawMessage(`{"status":"Inactive"}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"_id":"v1","status":"Inactive"}`, pub.get()[0].Data)
}

func TestApplyCollectionOp(t *testing.T) {
	pub := &fakePublisher{}
	out, err := ingest.Apply(pub, ingest.Record{Collection: "drivers", Op: "drop"})
	require.NoError(t, err)
	assert.Empty(t, out.Event)

	sent := pub.get()
	require.Len(t, sent, 1)
	assert.Equal(t, events.EventDirectDBChange, sent[0].Event)
	assert.Equal(t, "drivers", sent[0].Room)
}

func TestApplyRejects(t *testing.T) {
	pub := &fakePublisher{}

	_, err := ingest.Apply(pub, ingest.Record{Collection: "planets", Op: "insert"})
	assert.ErrorIs(t, err, ingest.ErrUnknownCollection)

	_, err = ingest.Apply(pub, ingest.Record{Collection: "admins", Op: "upsert"})
	assert.ErrorIs(t, err, ingest.ErrMalformedRecord)

	_, err = ingest.Apply(pub, ingest.Record{Collection: "admins", Op: "delete"})
	assert.ErrorIs(t, err, ingest.ErrMalformedRecord)

	_, err = ingest.ParseRecord([]byte(`{"op":"insert"}`))
	assert.ErrorIs(t, err, ingest.ErrMalformedRecord)

	_, err = ingest.ParseRecord([]byte(`nope`))
	assert.ErrorIs(t, err, ingest.ErrMalformedRecord)

	assert.Empty(t, pub.get())
}

func TestRunCommitsAndRestarts(t *testing.T) {
	first := &fakeReader{msgs: make(chan kafka.Message, 4)}
	first.msgs <- message(1, `{"collection":"rides","op":"insert","document":{"_id":"r1"}}`)
	first.msgs <- message(2, `garbage`)
	close(first.msgs)

	second := &fakeReader{msgs: make(chan kafka.Message, 4)}
	second.msgs <- message(3, `{"collection":"vehicles","op":"delete","id":"v1"}`)

	var mu sync.Mutex
	readers := []*fakeReader{first, second}
	opens := 0
	open := func() (ingest.Reader, error) {
		mu.Lock()
		defer mu.Unlock()
		opens++
		if opens == 1 {
			return nil, errors.New("broker unavailable")
		}
		if len(readers) == 0 {
			return nil, errors.New("no more readers")
		}
		r := readers[0]
		readers = readers[1:]
		return r, nil
	}

	pub := &fakePublisher{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ingest.Run(ctx, open, pub, ingest.Config{
			MinBackoff: time.Millisecond,
			MaxBackoff: 5 * time.Millisecond,
			Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		})
	}()

	require.Eventually(t, func() bool {
		second.mu.Lock()
		defer second.mu.Unlock()
		return len(second.committed) == 1
	}, time.Second, 2*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	first.mu.Lock()
	assert.Equal(t, []int64{1, 2}, first.committed)
	assert.True(t, first.closed)
	first.mu.Unlock()

	var names []string
	for _, p := range pub.get() {
		names = append(names, p.Event)
	}
	assert.Equal(t, []string{
		"Rides:insert", events.EventDirectDBChange,
		"Vehicles:delete", events.EventDirectDBChange,
	}, names)
}

func TestWriteKeysByCollection(t *testing.T) {
	w := &fakeWriter{}
	err := ingest.Write(context.Background(), w,
		ingest.Record{Collection: "admins", Op: "insert",
			Document: json.RawMessage(`{"_id":"a1"}`)},
	)
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "admins", string(w.msgs[0].Key))

	rec, err := ingest.ParseRecord(w.msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, "insert", rec.Op)
}

func TestKafkaConfigRequiresBrokers(t *testing.T) {
	_, err := ingest.NewKafkaReader(ingest.Config{Topic: "changes"})()
	assert.ErrorIs(t, err, ingest.ErrNoBrokers)

	_, err = ingest.NewKafkaWriter(ingest.Config{Topic: "changes"})
	assert.ErrorIs(t, err, ingest.ErrNoBrokers)
}
