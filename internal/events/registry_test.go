package events_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fleetdash/internal/events"
)

func TestLookupAdminAliases(t *testing.T) {
	for _, raw := range []string{"admin:created", "Admins:insert"} {
		r, ok := events.Lookup(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, events.Admins, r.Domain)
		assert.Equal(t, events.TypeCreated, r.Type)
		assert.Equal(t, events.KindCreated, r.Kind)
	}
}

func TestLookupVehicleEvents(t *testing.T) {
	cases := map[string]string{
		"vehiclesUpdate":       events.TypeUpdate,
		"Vehicles:insert":      events.TypeAdded,
		"Vehicles:update":      events.TypeUpdated,
		"Vehicles:delete":      events.TypeDeleted,
		"vehicleStatusChanged": events.TypeStatusChanged,
	}
	for raw, typ := range cases {
		r, ok := events.Lookup(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, events.Vehicles, r.Domain)
		assert.Equal(t, typ, r.Type)
	}
}

func TestLookupUnknown(t *testing.T) {
	_, ok := events.Lookup("somethingElse")
	assert.False(t, ok)
}

func TestEveryRouteHasValidDomain(t *testing.T) {
	for _, d := range events.Domains() {
		assert.True(t, d.Valid())
		assert.NotEmpty(t, d.Room())
		for _, r := range events.ForDomain(d) {
			assert.Equal(t, d, r.Domain)
			got, ok := events.Lookup(r.Raw)
			assert.True(t, ok)
			assert.Equal(t, r, got)
		}
	}
}

func TestDashboardRoutes(t *testing.T) {
	routes := events.ForDomain(events.Dashboard)
	types := make([]string, 0, len(routes))
	for _, r := range routes {
		types = append(types, r.Type)
	}
	assert.ElementsMatch(t, []string{
		events.TypeStats, events.TypeRides, events.TypeRevenue,
	}, types)
}

func TestKindFor(t *testing.T) {
	k, ok := events.KindFor(events.Vehicles, events.TypeStatusChanged)
	assert.True(t, ok)
	assert.Equal(t, events.KindUpdated, k)

	k, ok = events.KindFor(events.Billing, events.TypeError)
	assert.True(t, ok)
	assert.Equal(t, events.KindError, k)

	_, ok = events.KindFor(events.Billing, events.TypeStatusChanged)
	assert.False(t, ok)
}

func TestChangeEvent(t *testing.T) {
	name, ok := events.ChangeEvent(events.Vehicles, "insert")
	assert.True(t, ok)
	assert.Equal(t, "Vehicles:insert", name)

	name, ok = events.ChangeEvent(events.Billing, "remove")
	assert.True(t, ok)
	assert.Equal(t, "invoiceDeleted", name)

	_, ok = events.ChangeEvent(events.Dashboard, "insert")
	assert.False(t, ok)

	_, ok = events.ChangeEvent(events.Vehicles, "drop")
	assert.False(t, ok)
}

func TestDomainForCollection(t *testing.T) {
	d, ok := events.DomainForCollection(" Invoices ")
	assert.True(t, ok)
	assert.Equal(t, events.Billing, d)

	_, ok = events.DomainForCollection("sessions")
	assert.False(t, ok)
}

func TestRooms(t *testing.T) {
	assert.Equal(t, "admin-management", events.Admins.Room())
	assert.Equal(t, "vehicles", events.Vehicles.Room())
	assert.False(t, events.Domain("users").Valid())
}
