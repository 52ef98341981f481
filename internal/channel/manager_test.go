package channel_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetdash/internal/channel"
	"fleetdash/internal/channel/channeltest"
	"fleetdash/internal/events"
)

const (
	waitFor = time.Second
	tick    = 2 * time.Millisecond
)

func testConfig() channel.Config {
	return channel.Config{
		Page:              "vehicles",
		ConnectTimeout:    200 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		Reconnect: channel.Policy{
			MaxAttempts:  5,
			InitialDelay: 5 * time.Millisecond,
			MaxDelay:     20 * time.Millisecond,
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newManager(
	t *testing.T, tr *channeltest.Transport, cfg channel.Config,
) *channel.Manager {
	t.Helper()
	m := channel.New(tr, cfg)
	t.Cleanup(m.Close)
	return m
}

func connect(
	t *testing.T, m *channel.Manager, tr *channeltest.Transport,
) *channeltest.Conn {
	t.Helper()
	m.Connect()
	conn, ok := tr.NextConn(waitFor)
	require.True(t, ok, "no dial")
	waitState(t, m, channel.StateConnected)
	return conn
}

func waitState(t *testing.T, m *channel.Manager, st channel.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.Status().State == st
	}, waitFor, tick, "state %s never reached", st)
}

func waitJoined(t *testing.T, m *channel.Manager) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, r := range m.Rooms() {
			if r.JoinedAt.IsZero() {
				return false
			}
		}
		return true
	}, waitFor, tick)
}

func TestConnectHandshake(t *testing.T) {
	tr := channeltest.NewTransport()
	tr.AssignIDs("abc123")
	m := newManager(t, tr, testConfig())

	assert.Equal(t, channel.StateDisconnected, m.Status().State)
	conn := connect(t, m, tr)

	st := m.Status()
	assert.Equal(t, "abc123", st.ClientID)
	assert.False(t, st.ConnectedAt.IsZero())
	assert.Nil(t, st.Err)

	require.Eventually(t, func() bool {
		return len(conn.Sent(events.EventClientConnected)) == 1
	}, waitFor, tick)
	var meta events.ClientConnected
	env := conn.Sent(events.EventClientConnected)[0]
	require.NoError(t, json.Unmarshal(env.Data, &meta))
	assert.Equal(t, "vehicles", meta.Page)
	assert.NotZero(t, meta.Timestamp)
}

func TestConnectIsIdempotent(t *testing.T) {
	tr := channeltest.NewTransport()
	m := newManager(t, tr, testConfig())

	connect(t, m, tr)
	m.Connect()
	m.Connect()

	assert.Never(t, func() bool {
		return tr.Dials() > 1
	}, 50*time.Millisecond, tick)
}

func TestSelfHealingRooms(t *testing.T) {
	tr := channeltest.NewTransport()
	m := newManager(t, tr, testConfig())

	m.JoinRoom("vehicles")
	m.JoinRoom("drivers")
	first := connect(t, m, tr)
	require.Eventually(t, func() bool {
		return len(first.Joined()) == 2
	}, waitFor, tick)
	assert.Equal(t, []string{"vehicles", "drivers"}, first.Joined())
	assert.Empty(t, first.Sent(events.EventRefreshData))

	first.Drop()
	second, ok := tr.NextConn(waitFor)
	require.True(t, ok)
	waitState(t, m, channel.StateConnected)

	require.Eventually(t, func() bool {
		return len(second.Joined()) == 2 &&
			len(second.Sent(events.EventRefreshData)) == 1
	}, waitFor, tick)
	assert.Equal(t, []string{"vehicles", "drivers"}, second.Joined())

	var req events.RefreshRequest
	env := second.Sent(events.EventRefreshData)[0]
	require.NoError(t, json.Unmarshal(env.Data, &req))
	assert.Equal(t, []events.Domain{
		events.Vehicles, events.Drivers, events.Rides, events.Admins,
	}, req.Models)

	waitJoined(t, m)
}

func TestRoomsRejoinedAfterManualReconnect(t *testing.T) {
	tr := channeltest.NewTransport()
	m := newManager(t, tr, testConfig())

	m.JoinRoom("billing")
	connect(t, m, tr)
	waitJoined(t, m)

	m.Disconnect()
	assert.Equal(t, channel.StateDisconnected, m.Status().State)
	for _, r := range m.Rooms() {
		assert.True(t, r.JoinedAt.IsZero())
	}

	conn := connect(t, m, tr)
	require.Eventually(t, func() bool {
		return len(conn.Joined()) == 1
	}, waitFor, tick)
	assert.Equal(t, []string{"billing"}, conn.Joined())
}

func TestJoinRoomWhileConnected(t *testing.T) {
	tr := channeltest.NewTransport()
	m := newManager(t, tr, testConfig())
	conn := connect(t, m, tr)

	m.JoinRoom("dashboard")
	m.JoinRoom("dashboard")
	m.JoinRoom("")

	assert.Equal(t, []string{"dashboard"}, conn.Joined())
	rooms := m.Rooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, "dashboard", rooms[0].Name)
	assert.False(t, rooms[0].JoinedAt.IsZero())
}

func TestLeaveRoomCountsRequests(t *testing.T) {
	tr := channeltest.NewTransport()
	m := newManager(t, tr, testConfig())
	conn := connect(t, m, tr)

	m.JoinRoom("vehicles")
	m.JoinRoom("vehicles")

	m.LeaveRoom("vehicles")
	assert.Len(t, m.Rooms(), 1)
	assert.Empty(t, conn.Sent(events.EventLeaveRoom))

	m.LeaveRoom("vehicles")
	assert.Empty(t, m.Rooms())
	assert.Len(t, conn.Sent(events.EventLeaveRoom), 1)

	m.LeaveRoom("unknown")
}

func TestEmitRequiresConnection(t *testing.T) {
	tr := channeltest.NewTransport()
	m := newManager(t, tr, testConfig())

	assert.False(t, m.Emit(events.EventGetLatestVehicles, nil))
	assert.False(t, m.RequestRefresh(events.Vehicles))

	conn := connect(t, m, tr)
	assert.True(t, m.Emit(events.EventGetLatestVehicles, nil))
	assert.Len(t, conn.Sent(events.EventGetLatestVehicles), 1)

	assert.False(t, m.Emit("bad", func() {}))
}

func TestRequestRefreshDedupes(t *testing.T) {
	tr := channeltest.NewTransport()
	m := newManager(t, tr, testConfig())
	conn := connect(t, m, tr)

	assert.False(t, m.RequestRefresh(events.Domain("nope")))
	assert.True(t, m.RequestRefresh(
		events.Billing, events.Billing, events.Domain("nope"), events.Admins,
	))

	sent := conn.Sent(events.EventRefreshData)
	require.Len(t, sent, 1)
	var req events.RefreshRequest
	require.NoError(t, json.Unmarshal(sent[0].Data, &req))
	assert.Equal(t, []events.Domain{events.Billing, events.Admins}, req.Models)
}

func TestFanOutIsolation(t *testing.T) {
	tr := channeltest.NewTransport()
	m := newManager(t, tr, testConfig())
	conn := connect(t, m, tr)

	var mu sync.Mutex
	var got []string
	m.On("admin:created", func(json.RawMessage) {
		panic("first handler broke")
	})
	m.On("admin:created", func(data json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(data))
	})

	conn.Push("admin:created", map[string]string{"_id": "a1"})
	conn.Push("admin:created", map[string]string{"_id": "a2"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, waitFor, tick)
	assert.Equal(t, []string{`{"_id":"a1"}`, `{"_id":"a2"}`}, got)
	assert.Equal(t, channel.StateConnected, m.Status().State)
}

func TestOffRemovesHandler(t *testing.T) {
	tr := channeltest.NewTransport()
	m := newManager(t, tr, testConfig())
	conn := connect(t, m, tr)

	var mu sync.Mutex
	calls := map[string]int{}
	record := func(name string) channel.Handler {
		return func(json.RawMessage) {
			mu.Lock()
			defer mu.Unlock()
			calls[name]++
		}
	}
	id := m.On("dashboardStats", record("removed"))
	m.On("dashboardStats", record("kept"))

	assert.True(t, m.Off("dashboardStats", id))
	assert.False(t, m.Off("dashboardStats", id))
	assert.False(t, m.Off("other", id))

	conn.Push("dashboardStats", map[string]int{"totalRides": 1})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls["kept"] == 1
	}, waitFor, tick)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls["removed"])
}

func TestMalformedFramesDropped(t *testing.T) {
	tr := channeltest.NewTransport()
	m := newManager(t, tr, testConfig())
	conn := connect(t, m, tr)

	got := make(chan string, 1)
	m.On("adminsUpdate", func(data json.RawMessage) {
		got <- string(data)
	})

	conn.PushRaw([]byte("not json"))
	conn.PushRaw([]byte(`{"data":[]}`))
	conn.Push("adminsUpdate", []string{})

	select {
	case data := <-got:
		assert.Equal(t, "[]", data)
	case <-time.After(waitFor):
		t.Fatal("valid frame after malformed ones was not dispatched")
	}
	assert.Equal(t, channel.StateConnected, m.Status().State)
}

func TestConnectionLostRecorded(t *testing.T) {
	tr := channeltest.NewTransport()
	cfg := testConfig()
	cfg.Reconnect.InitialDelay = 100 * time.Millisecond
	cfg.Reconnect.MaxDelay = 100 * time.Millisecond
	m := newManager(t, tr, cfg)
	conn := connect(t, m, tr)

	reasons := make(chan string, 1)
	m.On(channel.LifecycleDisconnect, func(data json.RawMessage) {
		var info channel.DisconnectInfo
		_ = json.Unmarshal(data, &info)
		reasons <- info.Reason
	})

	conn.Drop()
	select {
	case r := <-reasons:
		assert.Equal(t, "transport close", r)
	case <-time.After(waitFor):
		t.Fatal("no disconnect event")
	}

	st := m.Status()
	assert.Equal(t, channel.StateReconnecting, st.State)
	assert.Empty(t, st.ClientID)
	assert.Equal(t, "Connection lost: transport close", st.ErrorMessage())

	waitState(t, m, channel.StateConnected)
	assert.Nil(t, m.Status().Err)
}

func TestReconnectEventCarriesAttempt(t *testing.T) {
	tr := channeltest.NewTransport()
	m := newManager(t, tr, testConfig())
	conn := connect(t, m, tr)

	attempts := make(chan int, 1)
	m.On(channel.LifecycleReconnect, func(data json.RawMessage) {
		var info channel.ReconnectInfo
		_ = json.Unmarshal(data, &info)
		attempts <- info.AttemptNumber
	})

	dialErr := errors.New("connection refused")
	tr.FailNext(dialErr, dialErr)
	conn.Drop()

	select {
	case n := <-attempts:
		assert.Equal(t, 3, n)
	case <-time.After(waitFor):
		t.Fatal("no reconnect event")
	}
}

func TestFailedAfterMaxAttempts(t *testing.T) {
	tr := channeltest.NewTransport()
	cfg := testConfig()
	cfg.Reconnect.MaxAttempts = 2
	m := newManager(t, tr, cfg)

	failed := make(chan int, 1)
	m.On(channel.LifecycleReconnectFailed, func(data json.RawMessage) {
		var info channel.ReconnectInfo
		_ = json.Unmarshal(data, &info)
		failed <- info.AttemptNumber
	})

	dialErr := errors.New("connection refused")
	tr.FailNext(dialErr, dialErr, dialErr)
	m.Connect()

	select {
	case n := <-failed:
		assert.Equal(t, 2, n)
	case <-time.After(waitFor):
		t.Fatal("never gave up")
	}
	st := m.Status()
	assert.Equal(t, channel.StateFailed, st.State)
	assert.Contains(t, st.ErrorMessage(), "Reconnection failed after 2 attempts")
	assert.Equal(t, 3, tr.Dials())

	// a manual connect restarts the cycle
	connect(t, m, tr)
	assert.Equal(t, 4, tr.Dials())
}

func TestHandshakeTimeout(t *testing.T) {
	tr := channeltest.NewTransport()
	tr.Silent = true
	cfg := testConfig()
	cfg.ConnectTimeout = 20 * time.Millisecond
	cfg.Reconnect.MaxAttempts = 1
	m := newManager(t, tr, cfg)

	m.Connect()
	waitState(t, m, channel.StateFailed)
	assert.Equal(t, 2, tr.Dials())
}

func TestHandshakeRejectsOtherEvents(t *testing.T) {
	tr := channeltest.NewTransport()
	tr.Silent = true
	cfg := testConfig()
	cfg.Reconnect.MaxAttempts = 1
	m := newManager(t, tr, cfg)

	m.Connect()
	conn, ok := tr.NextConn(waitFor)
	require.True(t, ok)
	conn.Push("dashboardStats", map[string]int{})

	require.Eventually(t, func() bool {
		return m.Status().Err != nil
	}, waitFor, tick)
	assert.Contains(t, m.Status().ErrorMessage(), "handshake")
	assert.True(t, conn.Closed())
}

func TestStatusListener(t *testing.T) {
	tr := channeltest.NewTransport()
	m := newManager(t, tr, testConfig())

	var mu sync.Mutex
	var states []channel.State
	stop := m.OnStatus(func(st channel.Status) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, st.State)
	})

	seen := func() []channel.State {
		mu.Lock()
		defer mu.Unlock()
		return append([]channel.State(nil), states...)
	}

	connect(t, m, tr)
	require.Eventually(t, func() bool {
		return len(seen()) == 2
	}, waitFor, tick)

	m.Disconnect()
	stop()
	connect(t, m, tr)

	assert.Equal(t, []channel.State{
		channel.StateConnecting,
		channel.StateConnected,
		channel.StateDisconnected,
	}, seen())
}

func TestHeartbeat(t *testing.T) {
	tr := channeltest.NewTransport()
	tr.AssignIDs("hb-client")
	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	m := newManager(t, tr, cfg)
	conn := connect(t, m, tr)

	require.Eventually(t, func() bool {
		return len(conn.Sent(events.EventHeartbeat)) >= 2
	}, waitFor, tick)

	var hb events.Heartbeat
	env := conn.Sent(events.EventHeartbeat)[0]
	require.NoError(t, json.Unmarshal(env.Data, &hb))
	assert.Equal(t, "hb-client", hb.ClientID)
	assert.NotZero(t, hb.Timestamp)
	assert.False(t, m.Status().LastHeartbeatAt.IsZero())
}

func TestCloseIsFinal(t *testing.T) {
	tr := channeltest.NewTransport()
	m := channel.New(tr, testConfig())
	conn := connect(t, m, tr)

	m.Close()
	assert.True(t, conn.Closed())
	m.Connect()
	assert.Equal(t, channel.StateDisconnected, m.Status().State)
	assert.Equal(t, 1, tr.Dials())
}

func TestProviderSharesManager(t *testing.T) {
	tr := channeltest.NewTransport()
	p := channel.NewProvider(tr, testConfig())
	defer p.Shutdown()

	vehicles := p.Manager()
	admins := p.Manager()
	assert.Same(t, vehicles, admins)

	vehicles.Connect()
	admins.Connect()
	_, ok := tr.NextConn(waitFor)
	require.True(t, ok)
	waitState(t, admins, channel.StateConnected)
	assert.Equal(t, vehicles.Status().ClientID, admins.Status().ClientID)
	assert.Equal(t, 1, tr.Dials())
}

func TestProviderShutdownWithoutManager(t *testing.T) {
	p := channel.NewProvider(channeltest.NewTransport(), testConfig())
	p.Shutdown()
}

func TestServerFramesDoNotFireLifecycle(t *testing.T) {
	tr := channeltest.NewTransport()
	m := newManager(t, tr, testConfig())
	conn := connect(t, m, tr)

	var mu sync.Mutex
	var local, server []string
	for _, ev := range []string{channel.LifecycleConnect, channel.LifecycleDisconnect} {
		m.On(ev, func(json.RawMessage) {
			mu.Lock()
			local = append(local, ev)
			mu.Unlock()
		})
	}
	m.On("disconnect", func(data json.RawMessage) {
		mu.Lock()
		server = append(server, string(data))
		mu.Unlock()
	})

	conn.Push("connect", map[string]string{"clientId": "spoof"})
	conn.Push("disconnect", "bye")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(server) == 1
	}, waitFor, tick)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{`"bye"`}, server)
	assert.Empty(t, local)
	assert.Equal(t, channel.StateConnected, m.Status().State)
}

func TestStateChangesLogged(t *testing.T) {
	var out syncBuffer
	cfg := testConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(&out,
		&slog.HandlerOptions{Level: slog.LevelDebug}))
	tr := channeltest.NewTransport()
	m := newManager(t, tr, cfg)
	connect(t, m, tr)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "state=connected")
	}, waitFor, tick)
	assert.Contains(t, out.String(), "state=connecting")
	assert.Contains(t, out.String(), "from=disconnected")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
