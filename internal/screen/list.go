// Package screen holds the per-domain screen models of the console. A screen
// loads its data over REST, keeps it current from the push channel and
// reports failures as toasts
package screen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"fleetdash/internal/adapter"
	"fleetdash/internal/events"
	"fleetdash/internal/log"
	"fleetdash/internal/store"
)

type (
	// Channel is the part of the connection manager a screen uses
	Channel interface {
		adapter.Subscriber
		JoinRoom(name string)
		LeaveRoom(name string)
		Emit(event string, payload any) bool
	}

	// API is the CRUD backend of list screens
	API interface {
		List(ctx context.Context, d events.Domain) ([]store.Entity, error)
		Create(
			ctx context.Context, d events.Domain, e store.Entity,
		) (store.Entity, error)
		Update(
			ctx context.Context, d events.Domain, id string, fields store.Entity,
		) (store.Entity, error)
		Delete(ctx context.Context, d events.Domain, id string) error
	}

	// Deps are shared by every screen
	Deps struct {
		Channel Channel
		API     API
		Toasts  *Toasts
		Logger  *slog.Logger
	}

	// ListScreen mirrors one domain collection
	ListScreen struct {
		deps   Deps
		domain events.Domain
		title  string
		noun   string
		list   *store.List
		logger *slog.Logger

		// called after an inbound event was applied to the list
		onEvent func(kind events.Kind, eventType string, data json.RawMessage)

		mu      sync.Mutex
		mounted bool
		gen     uint64
		adapter *adapter.Adapter
	}
)

var (
	ErrNotMounted = errors.New("screen is not mounted")
	ErrNoAPI      = errors.New("screen has no backend")
)

var nouns = map[events.Domain]string{
	events.Vehicles: "vehicle",
	events.Drivers:  "driver",
	events.Admins:   "admin",
	events.Rides:    "ride",
	events.Billing:  "invoice",
	events.Reports:  "report",
}

var titles = map[events.Domain]string{
	events.Billing: "invoices",
}

// NewList creates a list screen for the domain
func NewList(d events.Domain, deps Deps) *ListScreen {
	if deps.Toasts == nil {
		deps.Toasts = NewToasts(0)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	title := string(d)
	if t, ok := titles[d]; ok {
		title = t
	}
	return &ListScreen{
		deps:   deps,
		domain: d,
		title:  title,
		noun:   nouns[d],
		list:   store.NewList(d),
		logger: deps.Logger.With(log.Domain(d)),
	}
}

func (s *ListScreen) Domain() events.Domain {
	return s.domain
}

func (s *ListScreen) Title() string {
	return s.title
}

// List returns the mirror the screen renders
func (s *ListScreen) List() *store.List {
	return s.list
}

func (s *ListScreen) Mounted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mounted
}

// Mount subscribes to the domain's events, joins its room and loads the
// initial list. A failed load is reported as a toast and leaves the
// screen mounted
func (s *ListScreen) Mount(ctx context.Context) error {
	s.mu.Lock()
	if s.mounted {
		s.mu.Unlock()
		return nil
	}
	a, err := adapter.Subscribe(s.deps.Channel, s.domain, s.handle,
		adapter.WithLogger(s.deps.Logger))
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.mounted = true
	s.gen++
	s.adapter = a
	s.mu.Unlock()

	s.deps.Channel.JoinRoom(s.domain.Room())
	_ = s.Refresh(ctx)
	return nil
}

// Unmount removes the screen's registrations. In-flight loads are ignored
// when they complete
func (s *ListScreen) Unmount() {
	s.mu.Lock()
	if !s.mounted {
		s.mu.Unlock()
		return
	}
	a := s.adapter
	s.adapter = nil
	s.mounted = false
	s.gen++
	s.mu.Unlock()

	a.Close()
	s.deps.Channel.LeaveRoom(s.domain.Room())
}

// Refresh reloads the whole list over REST
func (s *ListScreen) Refresh(ctx context.Context) error {
	if s.deps.API == nil {
		return ErrNoAPI
	}
	gen, ok := s.generation()
	if !ok {
		return ErrNotMounted
	}

	items, err := s.deps.API.List(ctx, s.domain)
	if !s.current(gen) {
		return nil
	}
	if err != nil {
		s.deps.Toasts.Error(fmt.Sprintf("Failed to fetch %s: %v", s.title, err))
		return fmt.Errorf("fetch %s: %w", s.title, err)
	}
	s.list.ApplySnapshot(items)
	return nil
}

// Create adds an entity through the backend
func (s *ListScreen) Create(ctx context.Context, e store.Entity) error {
	return s.mutate(ctx, "create", func() error {
		created, err := s.deps.API.Create(ctx, s.domain, e)
		if err != nil {
			return err
		}
		if created.ID(s.domain) != "" {
			_ = s.list.ApplyCreated(created)
		}
		return nil
	})
}

// Update changes fields of one entity through the backend
func (s *ListScreen) Update(
	ctx context.Context, id string, fields store.Entity,
) error {
	return s.mutate(ctx, "update", func() error {
		updated, err := s.deps.API.Update(ctx, s.domain, id, fields)
		if err != nil {
			return err
		}
		if updated.ID(s.domain) == "" {
			updated = updated.Clone()
			updated["_id"] = id
		}
		_ = s.list.ApplyUpdated(updated)
		return nil
	})
}

// Delete removes one entity through the backend
func (s *ListScreen) Delete(ctx context.Context, id string) error {
	return s.mutate(ctx, "delete", func() error {
		if err := s.deps.API.Delete(ctx, s.domain, id); err != nil {
			return err
		}
		_ = s.list.ApplyDeleted(id)
		return nil
	})
}

func (s *ListScreen) mutate(ctx context.Context, verb string, fn func() error) error {
	if s.deps.API == nil {
		return ErrNoAPI
	}
	gen, ok := s.generation()
	if !ok {
		return ErrNotMounted
	}

	err := fn()
	if !s.current(gen) {
		return err
	}
	if err != nil {
		s.deps.Toasts.Error(
			fmt.Sprintf("Failed to %s %s: %v", verb, s.noun, err),
		)
		return fmt.Errorf("%s %s: %w", verb, s.noun, err)
	}
	s.deps.Toasts.Success(fmt.Sprintf("%s %sd", capitalize(s.noun), verb))
	s.deps.Channel.RequestRefresh(s.domain)
	return nil
}

func (s *ListScreen) handle(eventType string, data json.RawMessage) {
	kind, ok := events.KindFor(s.domain, eventType)
	if !ok {
		return
	}
	if err := s.apply(kind, data); err != nil {
		s.logger.Warn("Failed to apply event",
			log.Event(eventType),
			log.Error(err))
		return
	}
	if s.onEvent != nil {
		s.onEvent(kind, eventType, data)
	}
}

func (s *ListScreen) apply(kind events.Kind, data json.RawMessage) error {
	switch kind {
	case events.KindSnapshot:
		items, err := store.DecodeList(data)
		if err != nil {
			return err
		}
		s.list.ApplySnapshot(items)
	case events.KindCreated:
		e, err := store.DecodeEntity(data)
		if err != nil {
			return err
		}
		return s.list.ApplyCreated(e)
	case events.KindUpdated:
		e, err := store.DecodeEntity(data)
		if err != nil {
			return err
		}
		return s.list.ApplyUpdated(e)
	case events.KindDeleted:
		return s.list.ApplyDeleted(events.EntityID(data, s.domain))
	}
	return nil
}

func (s *ListScreen) generation() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen, s.mounted
}

func (s *ListScreen) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mounted && s.gen == gen
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
