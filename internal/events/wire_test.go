package events_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetdash/internal/events"
)

func TestEncode(t *testing.T) {
	frame, err := events.Encode("ping", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"ping"}`, string(frame))

	frame, err = events.Encode("join", json.RawMessage(`"vehicles"`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"join","data":"vehicles"}`, string(frame))

	frame, err = events.Encode("connect", struct {
		ClientID string `json:"clientId"`
	}{"c1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"connect","data":{"clientId":"c1"}}`, string(frame))

	_, err = events.Encode("bad", make(chan int))
	assert.Error(t, err)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	frame, err := events.Encode("Vehicles:update", map[string]string{"_id": "v1"})
	require.NoError(t, err)

	var env events.Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, "Vehicles:update", env.Event)
	assert.JSONEq(t, `{"_id":"v1"}`, string(env.Data))
}
