package screen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"fleetdash/internal/adapter"
	"fleetdash/internal/events"
	"fleetdash/internal/log"
	"fleetdash/internal/store"
)

type (
	// DashboardAPI is the backend of the dashboard screen
	DashboardAPI interface {
		DashboardStats(ctx context.Context) (store.Stats, error)
		RecentRides(ctx context.Context) ([]store.Entity, error)
		RevenueData(ctx context.Context) ([]store.Entity, error)
	}

	// Dashboard shows the counters, the recent rides and the revenue series
	Dashboard struct {
		deps   Deps
		api    DashboardAPI
		stats  store.StatsState
		rides  *store.List
		logger *slog.Logger

		mu      sync.Mutex
		revenue []store.Entity
		mounted bool
		gen     uint64
		adapter *adapter.Adapter
	}
)

func NewDashboard(api DashboardAPI, deps Deps) *Dashboard {
	if deps.Toasts == nil {
		deps.Toasts = NewToasts(0)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Dashboard{
		deps:   deps,
		api:    api,
		rides:  store.NewList(events.Rides),
		logger: deps.Logger.With(log.Domain(events.Dashboard)),
	}
}

func (d *Dashboard) Title() string {
	return string(events.Dashboard)
}

// Stats returns the last plausible counters
func (d *Dashboard) Stats() store.Stats {
	return d.stats.Snapshot()
}

func (d *Dashboard) Rides() *store.List {
	return d.rides
}

// Revenue returns the revenue series in server order
func (d *Dashboard) Revenue() []store.Entity {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := make([]store.Entity, len(d.revenue))
	for i, e := range d.revenue {
		res[i] = e.Clone()
	}
	return res
}

func (d *Dashboard) Mount(ctx context.Context) error {
	d.mu.Lock()
	if d.mounted {
		d.mu.Unlock()
		return nil
	}
	a, err := adapter.Subscribe(d.deps.Channel, events.Dashboard, d.handle,
		adapter.WithLogger(d.deps.Logger))
	if err != nil {
		d.mu.Unlock()
		return err
	}
	d.mounted = true
	d.gen++
	d.adapter = a
	d.mu.Unlock()

	d.deps.Channel.JoinRoom(events.Dashboard.Room())
	_ = d.Refresh(ctx)
	return nil
}

func (d *Dashboard) Unmount() {
	d.mu.Lock()
	if !d.mounted {
		d.mu.Unlock()
		return
	}
	a := d.adapter
	d.adapter = nil
	d.mounted = false
	d.gen++
	d.mu.Unlock()

	a.Close()
	d.deps.Channel.LeaveRoom(events.Dashboard.Room())
}

// Refresh reloads the counters, rides and revenue. Each part that fails is
// reported on its own and the others still apply
func (d *Dashboard) Refresh(ctx context.Context) error {
	if d.api == nil {
		return ErrNoAPI
	}
	d.mu.Lock()
	gen, mounted := d.gen, d.mounted
	d.mu.Unlock()
	if !mounted {
		return ErrNotMounted
	}

	stats, statsErr := d.api.DashboardStats(ctx)
	rides, ridesErr := d.api.RecentRides(ctx)
	revenue, revenueErr := d.api.RevenueData(ctx)

	d.mu.Lock()
	stale := !d.mounted || d.gen != gen
	d.mu.Unlock()
	if stale {
		return nil
	}

	var errs []error
	if statsErr != nil {
		errs = append(errs, d.failed("dashboard stats", statsErr))
	} else {
		d.stats.Apply(stats)
	}
	if ridesErr != nil {
		errs = append(errs, d.failed("recent rides", ridesErr))
	} else {
		d.rides.ApplySnapshot(rides)
	}
	if revenueErr != nil {
		errs = append(errs, d.failed("revenue data", revenueErr))
	} else {
		d.setRevenue(revenue)
	}
	return errors.Join(errs...)
}

func (d *Dashboard) failed(what string, err error) error {
	d.deps.Toasts.Error(fmt.Sprintf("Failed to fetch %s: %v", what, err))
	return fmt.Errorf("fetch %s: %w", what, err)
}

func (d *Dashboard) handle(eventType string, data json.RawMessage) {
	var err error
	switch eventType {
	case events.TypeStats:
		var s store.Stats
		if s, err = store.DecodeStats(data); err == nil {
			if !d.stats.Apply(s) {
				d.logger.Debug("Ignored implausible stats")
			}
		}
	case events.TypeRides:
		var items []store.Entity
		if items, err = store.DecodeList(data); err == nil {
			d.rides.ApplySnapshot(items)
		}
	case events.TypeRevenue:
		var items []store.Entity
		if items, err = store.DecodeList(data); err == nil {
			d.setRevenue(items)
		}
	}
	if err != nil {
		d.logger.Warn("Failed to apply event",
			log.Event(eventType),
			log.Error(err))
	}
}

func (d *Dashboard) setRevenue(items []store.Entity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.revenue = items
}
