package screen

import (
	"context"

	"fleetdash/internal/events"
)

// Screen is what the console mounts and renders
type Screen interface {
	Title() string
	Mount(ctx context.Context) error
	Unmount()
	Refresh(ctx context.Context) error
}

var (
	_ Screen = (*ListScreen)(nil)
	_ Screen = (*Vehicles)(nil)
	_ Screen = (*Dashboard)(nil)
)

func NewAdmins(deps Deps) *ListScreen {
	return NewList(events.Admins, deps)
}

func NewDrivers(deps Deps) *ListScreen {
	return NewList(events.Drivers, deps)
}

func NewBilling(deps Deps) *ListScreen {
	return NewList(events.Billing, deps)
}

func NewRides(deps Deps) *ListScreen {
	return NewList(events.Rides, deps)
}
