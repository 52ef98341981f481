package log_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"fleetdash/internal/log"
)

type domain string

func TestRoom(t *testing.T) {
	assertAttrEqual(t, log.Room("vehicles"), "room", "vehicles")
}

func TestEvent(t *testing.T) {
	assertAttrEqual(t, log.Event("admin:created"), "event", "admin:created")
}

func TestClientID(t *testing.T) {
	assertAttrEqual(t, log.ClientID("abc123"), "client_id", "abc123")
}

func TestDomain(t *testing.T) {
	assertAttrEqual(t, log.Domain(domain("billing")), "domain", "billing")
}

func TestState(t *testing.T) {
	assertAttrEqual(t, log.State(domain("reconnecting")), "state", "reconnecting")
}

func TestError(t *testing.T) {
	assertAttrEqual(t, log.Error(nil), "error", "")
	assertAttrEqual(t, log.Error(errors.New("boom")), "error", "boom")
	assertAttrEqual(t, log.ErrorString("badness"), "error", "badness")
}

func assertAttrEqual(t *testing.T, attr slog.Attr, key, value string) {
	t.Helper()
	assert.Equal(t, key, attr.Key)
	assert.Equal(t, value, attr.Value.String())
}
