package events_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetdash/internal/events"
)

func route(t *testing.T, raw string) events.Route {
	t.Helper()
	r, ok := events.Lookup(raw)
	require.True(t, ok, raw)
	return r
}

func TestDecodeSnapshot(t *testing.T) {
	ev, err := events.Decode(route(t, "vehiclesUpdate"),
		json.RawMessage(`[{"_id":"v1"},{"_id":"v2"}]`))
	require.NoError(t, err)
	assert.Equal(t, events.KindSnapshot, ev.Kind)
	assert.Equal(t, events.Vehicles, ev.Domain)
	assert.Equal(t, events.TypeUpdate, ev.Type)
}

func TestDecodeSnapshotNotArray(t *testing.T) {
	_, err := events.Decode(route(t, "vehiclesUpdate"),
		json.RawMessage(`{"_id":"v1"}`))
	assert.ErrorIs(t, err, events.ErrMalformed)
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, err := events.Decode(route(t, "admin:created"), json.RawMessage(`{`))
	assert.ErrorIs(t, err, events.ErrMalformed)

	_, err = events.Decode(route(t, "admin:created"), nil)
	assert.ErrorIs(t, err, events.ErrMalformed)
}

func TestDecodeCreatedNeedsID(t *testing.T) {
	_, err := events.Decode(route(t, "admin:created"),
		json.RawMessage(`{"name":"Ann"}`))
	assert.ErrorIs(t, err, events.ErrMalformed)

	ev, err := events.Decode(route(t, "admin:created"),
		json.RawMessage(`{"adminId":"a1","name":"Ann"}`))
	require.NoError(t, err)
	assert.Equal(t, events.KindCreated, ev.Kind)
}

func TestDecodeDeletedAcceptsBareID(t *testing.T) {
	_, err := events.Decode(route(t, "admin:deleted"), json.RawMessage(`"a1"`))
	assert.NoError(t, err)

	_, err = events.Decode(route(t, "admin:deleted"), json.RawMessage(`42`))
	assert.NoError(t, err)

	_, err = events.Decode(route(t, "admin:deleted"), json.RawMessage(`[]`))
	assert.ErrorIs(t, err, events.ErrMalformed)
}

func TestDecodeUnknownDomain(t *testing.T) {
	_, err := events.Decode(events.Route{Raw: "x", Kind: events.KindCreated},
		json.RawMessage(`{"id":"1"}`))
	assert.ErrorIs(t, err, events.ErrUnknownDomain)
}

func TestDecodeStats(t *testing.T) {
	_, err := events.Decode(route(t, "dashboardStats"),
		json.RawMessage(`[1,2]`))
	assert.ErrorIs(t, err, events.ErrMalformed)

	_, err = events.Decode(route(t, "dashboardStats"),
		json.RawMessage(`{"totalRides":3}`))
	assert.NoError(t, err)
}

func TestEntityID(t *testing.T) {
	assert.Equal(t, "v1", events.EntityID([]byte(`{"_id":"v1"}`), events.Vehicles))
	assert.Equal(t, "v2", events.EntityID([]byte(`{"vehicleId":"v2"}`), events.Vehicles))
	assert.Equal(t, "7", events.EntityID([]byte(`{"id":7}`), events.Drivers))
	assert.Equal(t, "abc",
		events.EntityID([]byte(`{"_id":{"$oid":"abc"}}`), events.Admins))
	assert.Equal(t, "", events.EntityID([]byte(`{"vehicleId":"v2"}`), events.Admins))
	assert.Equal(t, "", events.EntityID([]byte(`nope`), events.Admins))
}

func TestCollection(t *testing.T) {
	c, ok := events.Collection([]byte(`{"collection":"vehicles"}`))
	assert.True(t, ok)
	assert.Equal(t, "vehicles", c)

	_, ok = events.Collection([]byte(`{"collection":3}`))
	assert.False(t, ok)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "boom", events.ErrorMessage([]byte(`"boom"`)))
	assert.Equal(t, "bad", events.ErrorMessage([]byte(`{"message":"bad"}`)))
	assert.Equal(t, "worse", events.ErrorMessage([]byte(`{"error":"worse"}`)))
	assert.Equal(t, "12", events.ErrorMessage([]byte(`12`)))
}
