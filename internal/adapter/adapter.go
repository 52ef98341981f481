// Package adapter binds one domain's raw push-channel events to a single
// screen callback with canonical event types
package adapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"fleetdash/internal/channel"
	"fleetdash/internal/events"
	"fleetdash/internal/log"
)

type (
	// Subscriber is the part of the connection manager an adapter needs
	Subscriber interface {
		On(event string, h channel.Handler) channel.HandlerID
		Off(event string, id channel.HandlerID) bool
		RequestRefresh(domains ...events.Domain) bool
	}

	// Callback receives the canonical event type and the validated payload
	Callback func(eventType string, data json.RawMessage)

	// Adapter holds the registrations made for one domain
	Adapter struct {
		sub    Subscriber
		domain events.Domain
		cb     Callback
		logger *slog.Logger

		mu     sync.Mutex
		regs   []registration
		closed bool
	}

	registration struct {
		event string
		id    channel.HandlerID
	}

	// Option tunes an Adapter
	Option func(*Adapter)
)

var (
	ErrNoCallback = errors.New("adapter callback is required")
	ErrNoDomain   = errors.New("adapter domain is unknown")
)

// WithLogger sets the logger for dropped events. slog.Default is used
// otherwise
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// Subscribe registers every raw event of the domain against sub. The
// shared error event is not routed here, see screen.WatchErrors
func Subscribe(
	sub Subscriber, d events.Domain, cb Callback, opts ...Option,
) (*Adapter, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrNoDomain, d)
	}
	if cb == nil {
		return nil, ErrNoCallback
	}

	a := &Adapter{
		sub:    sub,
		domain: d,
		cb:     cb,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(log.Domain(d))

	for _, r := range events.ForDomain(d) {
		a.register(r.Raw, a.route(r))
	}
	a.register(events.EventDirectDBChange, a.dbChange)
	return a, nil
}

// Domain returns the domain the adapter serves
func (a *Adapter) Domain() events.Domain {
	return a.domain
}

// Close removes every registration of the adapter. The connection itself
// stays open for other screens
func (a *Adapter) Close() {
	a.mu.Lock()
	regs := a.regs
	a.regs = nil
	a.closed = true
	a.mu.Unlock()

	for _, r := range regs {
		a.sub.Off(r.event, r.id)
	}
}

func (a *Adapter) register(event string, h channel.Handler) {
	id := a.sub.On(event, h)
	a.mu.Lock()
	a.regs = append(a.regs, registration{event: event, id: id})
	a.mu.Unlock()
}

func (a *Adapter) route(r events.Route) channel.Handler {
	return func(data json.RawMessage) {
		if a.isClosed() {
			return
		}
		ev, err := events.Decode(r, data)
		if err != nil {
			a.logger.Warn("Dropped inbound event",
				log.Event(r.Raw),
				log.Error(err))
			return
		}
		a.cb(ev.Type, ev.Data)
	}
}

func (a *Adapter) dbChange(data json.RawMessage) {
	if a.isClosed() {
		return
	}
	name, ok := events.Collection(data)
	if !ok {
		a.logger.Warn("Dropped inbound event",
			log.Event(events.EventDirectDBChange),
			log.ErrorString("missing collection"))
		return
	}
	d, ok := events.DomainForCollection(name)
	if !ok || d != a.domain {
		return
	}
	a.logger.Debug("Collection changed, requesting refresh",
		slog.String("collection", name))
	a.sub.RequestRefresh(d)
}

func (a *Adapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
