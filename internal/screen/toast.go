package screen

import (
	"encoding/json"
	"slices"
	"sync"
	"time"

	"fleetdash/internal/adapter"
	"fleetdash/internal/events"
)

type (
	// Level classifies a toast
	Level string

	// Toast is a transient user notification
	Toast struct {
		Level Level
		Text  string
		At    time.Time
	}

	// Toasts is a bounded queue of notifications shared by every screen
	Toasts struct {
		mu    sync.Mutex
		items []Toast
		limit int
	}
)

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"

	DefaultToastLimit = 50
)

// NewToasts creates a queue keeping at most limit toasts
func NewToasts(limit int) *Toasts {
	if limit <= 0 {
		limit = DefaultToastLimit
	}
	return &Toasts{limit: limit}
}

func (t *Toasts) Push(level Level, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, Toast{Level: level, Text: text, At: time.Now()})
	if n := len(t.items) - t.limit; n > 0 {
		t.items = slices.Delete(t.items, 0, n)
	}
}

func (t *Toasts) Success(text string) {
	t.Push(LevelSuccess, text)
}

func (t *Toasts) Error(text string) {
	t.Push(LevelError, text)
}

// Recent returns up to n toasts, newest last
func (t *Toasts) Recent(n int) []Toast {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n <= 0 || n > len(t.items) {
		n = len(t.items)
	}
	return slices.Clone(t.items[len(t.items)-n:])
}

func (t *Toasts) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// WatchErrors shows every server error notice once on toasts, however many
// screens are mounted. The returned func removes the handler
func WatchErrors(sub adapter.Subscriber, toasts *Toasts) func() {
	id := sub.On(events.EventError, func(data json.RawMessage) {
		toasts.Error(events.ErrorMessage(data))
	})
	return func() {
		sub.Off(events.EventError, id)
	}
}
