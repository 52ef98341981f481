package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"fleetdash/internal/events"
	"fleetdash/internal/log"
)

type (
	// Handler receives the data of one inbound event
	Handler func(data json.RawMessage)

	// HandlerID identifies a registration made with On or OnStatus
	HandlerID uint64

	// Config controls a Manager. Zero fields take the package defaults
	Config struct {
		Page              string
		ConnectTimeout    time.Duration
		HeartbeatInterval time.Duration
		Reconnect         Policy
		RefreshModels     []events.Domain
		Logger            *slog.Logger
	}

	// Manager owns the single push-channel connection of the process and
	// keeps room membership alive across reconnects
	Manager struct {
		cfg       Config
		transport Transport
		logger    *slog.Logger

		mu        sync.Mutex
		status    Status
		conn      Conn
		cancel    context.CancelFunc
		rooms     map[string]*room
		roomOrder []string
		handlers  map[string][]handlerEntry
		statusFns map[HandlerID]func(Status)
		nextID    HandlerID
		closed    bool

		heartbeatOnce sync.Once
		done          chan struct{}
	}

	// DisconnectInfo is the data of the local disconnect event
	DisconnectInfo struct {
		Reason string `json:"reason"`
	}

	// ReconnectInfo is the data of the local reconnect events
	ReconnectInfo struct {
		AttemptNumber int `json:"attemptNumber"`
	}

	room struct {
		Membership
		refs int
	}

	handlerEntry struct {
		id HandlerID
		fn Handler
	}
)

// Local lifecycle events, delivered through On like server events. The
// prefix keeps server frames of the same name from triggering them
const (
	LifecycleConnect         = "local:connect"
	LifecycleDisconnect      = "local:disconnect"
	LifecycleReconnect       = "local:reconnect"
	LifecycleReconnectFailed = "local:reconnect_failed"
)

const (
	DefaultConnectTimeout    = 20 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultPage              = "dashboard"

	clientDisconnectReason = "io client disconnect"
)

var ErrHandshake = errors.New("push channel handshake failed")

// New creates a disconnected Manager. Nothing is dialed until Connect
func New(t Transport, cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:       cfg,
		transport: t,
		logger:    cfg.Logger,
		status:    Status{State: StateDisconnected},
		rooms:     map[string]*room{},
		handlers:  map[string][]handlerEntry{},
		statusFns: map[HandlerID]func(Status){},
		done:      make(chan struct{}),
	}
}

func (c Config) withDefaults() Config {
	if c.Page == "" {
		c.Page = DefaultPage
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Reconnect == (Policy{}) {
		c.Reconnect = DefaultPolicy()
	}
	if len(c.RefreshModels) == 0 {
		c.RefreshModels = slices.Clone(events.DefaultRefreshModels)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Connect starts the connection loop. It is a no-op while a loop is
// already connecting, connected or reconnecting, and restarts the cycle
// from StateFailed or StateDisconnected
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.closed || m.status.State.active() {
		m.mu.Unlock()
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.status.ReconnectAttempts = 0
	m.setStateLocked(StateConnecting)
	st := m.status
	m.mu.Unlock()

	m.heartbeatOnce.Do(func() { go m.heartbeatLoop() })
	m.notify(st)
	go m.run(ctx)
}

// Disconnect tears the transport down. Requested rooms are kept and joined
// again on the next Connect
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	conn := m.conn
	m.conn = nil
	wasDown := m.status.State == StateDisconnected
	m.invalidateRoomsLocked()
	m.status.ClientID = ""
	m.status.ReconnectAttempts = 0
	m.setStateLocked(StateDisconnected)
	st := m.status
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if wasDown {
		return
	}
	m.logger.Info("Push channel disconnected")
	m.notify(st)
	m.dispatchLocal(LifecycleDisconnect,
		DisconnectInfo{Reason: clientDisconnectReason})
}

// Close disconnects and stops the heartbeat. The Manager cannot be
// reconnected afterwards
func (m *Manager) Close() {
	m.Disconnect()
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
}

// Status returns a copy of the current connection status
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// OnStatus registers fn to receive every status change. The returned func
// removes the registration
func (m *Manager) OnStatus(fn func(Status)) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.statusFns[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.statusFns, id)
		m.mu.Unlock()
	}
}

// On registers h for the named event. Several handlers may share an event;
// they run in registration order
func (m *Manager) On(event string, h Handler) HandlerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.handlers[event] = append(m.handlers[event], handlerEntry{id: id, fn: h})
	return id
}

// Off removes a registration made with On
func (m *Manager) Off(event string, id HandlerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	hs := m.handlers[event]
	for i, e := range hs {
		if e.id != id {
			continue
		}
		hs = slices.Delete(hs, i, i+1)
		if len(hs) == 0 {
			delete(m.handlers, event)
		} else {
			m.handlers[event] = hs
		}
		return true
	}
	return false
}

// Emit sends an event if the connection is up. A false result means the
// event was not delivered and should not be reported as an error
func (m *Manager) Emit(event string, payload any) bool {
	_, ok := m.emit(event, payload)
	return ok
}

func (m *Manager) emit(event string, payload any) (Conn, bool) {
	frame, err := events.Encode(event, payload)
	if err != nil {
		m.logger.Warn("Failed to encode outbound event",
			log.Event(event),
			log.Error(err))
		outboundFrames.WithLabelValues("invalid").Inc()
		return nil, false
	}

	m.mu.Lock()
	conn := m.conn
	connected := m.status.Connected()
	m.mu.Unlock()

	if !connected || conn == nil {
		outboundFrames.WithLabelValues("dropped").Inc()
		return nil, false
	}
	if err := conn.Write(frame); err != nil {
		m.logger.Debug("Outbound event not delivered",
			log.Event(event),
			log.Error(err))
		outboundFrames.WithLabelValues("failed").Inc()
		return nil, false
	}
	outboundFrames.WithLabelValues("sent").Inc()
	return conn, true
}

// RequestRefresh asks the server to push full snapshots for the domains
func (m *Manager) RequestRefresh(domains ...events.Domain) bool {
	models := make([]events.Domain, 0, len(domains))
	for _, d := range domains {
		if d.Valid() && !slices.Contains(models, d) {
			models = append(models, d)
		}
	}
	if len(models) == 0 {
		return false
	}
	return m.Emit(events.EventRefreshData, events.RefreshRequest{Models: models})
}

// JoinRoom records the room as requested and joins it now if connected.
// Every requested room is joined again after each reconnect
func (m *Manager) JoinRoom(name string) {
	if name == "" {
		return
	}
	m.mu.Lock()
	r, ok := m.rooms[name]
	if !ok {
		r = &room{Membership: Membership{Name: name}}
		m.rooms[name] = r
		m.roomOrder = append(m.roomOrder, name)
	}
	r.refs++
	send := m.status.Connected() && r.JoinedAt.IsZero()
	m.mu.Unlock()

	if send {
		m.sendJoin(name)
	}
}

// LeaveRoom drops one request for the room; the room is left when no
// requests remain
func (m *Manager) LeaveRoom(name string) {
	m.mu.Lock()
	r, ok := m.rooms[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	r.refs--
	if r.refs > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, name)
	if i := slices.Index(m.roomOrder, name); i >= 0 {
		m.roomOrder = slices.Delete(m.roomOrder, i, i+1)
	}
	send := m.status.Connected()
	m.mu.Unlock()

	if send {
		m.Emit(events.EventLeaveRoom, name)
	}
}

// Rooms lists requested rooms in the order they were first requested
func (m *Manager) Rooms() []Membership {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]Membership, 0, len(m.roomOrder))
	for _, name := range m.roomOrder {
		res = append(res, m.rooms[name].Membership)
	}
	return res
}

func (m *Manager) run(ctx context.Context) {
	attempt := 0
	established := false

	for {
		if attempt > 0 {
			if m.cfg.Reconnect.Exhausted(attempt) {
				m.fail(ctx, attempt-1)
				return
			}
			if !sleep(ctx, m.cfg.Reconnect.Delay(attempt)) {
				return
			}
			if !m.beginAttempt(ctx, attempt) {
				return
			}
			reconnectAttempts.Inc()
		}

		conn, clientID, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.recordError(ctx, "Connection error: "+err.Error())
			attempt++
			continue
		}

		if !m.startSession(ctx, conn, clientID, established, attempt) {
			_ = conn.Close()
			return
		}
		established = true

		err = m.serve(ctx, conn)
		_ = conn.Close()
		if !m.endSession(ctx, conn, err) {
			return
		}
		attempt = 1
	}
}

func (m *Manager) dial(ctx context.Context) (Conn, string, error) {
	dctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	conn, err := m.transport.Dial(dctx)
	if err != nil {
		return nil, "", err
	}

	type hello struct {
		id  string
		err error
	}
	ch := make(chan hello, 1)
	go func() {
		id, err := readGreeting(conn)
		ch <- hello{id: id, err: err}
	}()

	select {
	case h := <-ch:
		if h.err != nil {
			_ = conn.Close()
			return nil, "", h.err
		}
		return conn, h.id, nil
	case <-dctx.Done():
		_ = conn.Close()
		return nil, "", fmt.Errorf("%w: %w", ErrHandshake, dctx.Err())
	}
}

func readGreeting(conn Conn) (string, error) {
	frame, err := conn.Read()
	if err != nil {
		return "", err
	}
	var env events.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	if env.Event != events.EventConnect {
		return "", fmt.Errorf("%w: unexpected event %q", ErrHandshake, env.Event)
	}
	var g events.Greeting
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &g); err != nil {
			return "", fmt.Errorf("%w: %w", ErrHandshake, err)
		}
	}
	return g.ClientID, nil
}

func (m *Manager) startSession(
	ctx context.Context, conn Conn, clientID string, reconnect bool,
	attempt int,
) bool {
	now := time.Now()
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return false
	}
	m.conn = conn
	m.status.ClientID = clientID
	m.status.ConnectedAt = now
	m.status.ReconnectAttempts = 0
	m.status.Err = nil
	m.setStateLocked(StateConnected)
	st := m.status
	rooms := slices.Clone(m.roomOrder)
	m.mu.Unlock()

	m.logger.Info("Push channel connected",
		log.ClientID(clientID),
		slog.Bool("reconnect", reconnect))
	m.notify(st)

	m.Emit(events.EventClientConnected, events.ClientConnected{
		Page:      m.cfg.Page,
		Timestamp: now.UnixMilli(),
	})
	for _, name := range rooms {
		m.sendJoin(name)
	}
	if reconnect {
		m.RequestRefresh(m.cfg.RefreshModels...)
		m.dispatchLocal(LifecycleReconnect, ReconnectInfo{AttemptNumber: attempt})
	}
	m.dispatchLocal(LifecycleConnect, events.Greeting{ClientID: clientID})
	return true
}

func (m *Manager) serve(ctx context.Context, conn Conn) error {
	stop := make(chan struct{})
	defer close(stop)

	// Ensure Read unblocks on ctx cancellation
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		frame, err := conn.Read()
		if err != nil {
			return err
		}

		var env events.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			inboundFrames.WithLabelValues("malformed").Inc()
			m.logger.Warn("Dropping malformed frame", log.Error(err))
			continue
		}
		if env.Event == "" {
			inboundFrames.WithLabelValues("malformed").Inc()
			m.logger.Warn("Dropping frame without event name")
			continue
		}
		m.dispatch(env.Event, env.Data)
	}
}

func (m *Manager) endSession(ctx context.Context, conn Conn, err error) bool {
	reason := closeReason(err)
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	if ctx.Err() != nil {
		m.mu.Unlock()
		return false
	}
	m.invalidateRoomsLocked()
	m.status.ClientID = ""
	m.status.ReconnectAttempts = 0
	m.status.Err = &ConnError{
		Message: "Connection lost: " + reason,
		At:      time.Now(),
	}
	m.setStateLocked(StateReconnecting)
	st := m.status
	m.mu.Unlock()

	m.logger.Warn("Push channel connection lost", slog.String("reason", reason))
	m.notify(st)
	m.dispatchLocal(LifecycleDisconnect, DisconnectInfo{Reason: reason})
	return true
}

func (m *Manager) beginAttempt(ctx context.Context, attempt int) bool {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return false
	}
	m.status.ReconnectAttempts = attempt
	m.setStateLocked(StateReconnecting)
	st := m.status
	m.mu.Unlock()

	m.logger.Debug("Reconnecting push channel", slog.Int("attempt", attempt))
	m.notify(st)
	return true
}

func (m *Manager) recordError(ctx context.Context, msg string) {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.status.Err = &ConnError{Message: msg, At: time.Now()}
	st := m.status
	m.mu.Unlock()

	m.logger.Warn("Push channel connection failed", log.ErrorString(msg))
	m.notify(st)
}

func (m *Manager) fail(ctx context.Context, attempts int) {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.status.Err = &ConnError{
		Message: fmt.Sprintf("Reconnection failed after %d attempts", attempts),
		At:      time.Now(),
	}
	m.setStateLocked(StateFailed)
	st := m.status
	m.mu.Unlock()

	m.logger.Error("Push channel gave up reconnecting",
		slog.Int("attempts", attempts))
	m.notify(st)
	m.dispatchLocal(LifecycleReconnectFailed,
		ReconnectInfo{AttemptNumber: attempts})
}

func (m *Manager) sendJoin(name string) {
	conn, ok := m.emit(events.EventJoinRoom, name)
	if !ok {
		return
	}
	m.mu.Lock()
	if r, ok := m.rooms[name]; ok && m.conn == conn {
		r.JoinedAt = time.Now()
	}
	m.mu.Unlock()
	m.logger.Debug("Joined room", log.Room(name))
}

func (m *Manager) invalidateRoomsLocked() {
	for _, r := range m.rooms {
		r.JoinedAt = time.Time{}
	}
}

func (m *Manager) setStateLocked(s State) {
	prev := m.status.State
	if prev == s {
		return
	}
	m.status.State = s
	stateTransitions.WithLabelValues(string(s)).Inc()
	m.logger.Debug("Push channel state changed",
		log.State(s),
		slog.String("from", string(prev)))
}

func (m *Manager) heartbeatLoop() {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.beat()
		case <-m.done:
			return
		}
	}
}

func (m *Manager) beat() {
	m.mu.Lock()
	id := m.status.ClientID
	connected := m.status.Connected()
	m.mu.Unlock()
	if !connected {
		return
	}

	now := time.Now()
	sent := m.Emit(events.EventHeartbeat, events.Heartbeat{
		Timestamp: now.UnixMilli(),
		ClientID:  id,
	})
	if !sent {
		return
	}
	m.mu.Lock()
	m.status.LastHeartbeatAt = now
	m.mu.Unlock()
}

func (m *Manager) dispatch(event string, data json.RawMessage) {
	m.mu.Lock()
	hs := slices.Clone(m.handlers[event])
	m.mu.Unlock()

	if len(hs) == 0 {
		inboundFrames.WithLabelValues("unhandled").Inc()
		m.logger.Debug("Ignoring unhandled event", log.Event(event))
		return
	}
	inboundFrames.WithLabelValues("dispatched").Inc()
	for _, h := range hs {
		m.invoke(event, h.fn, data)
	}
}

func (m *Manager) dispatchLocal(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	m.dispatch(event, data)
}

func (m *Manager) invoke(event string, fn Handler, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			handlerPanics.Inc()
			m.logger.Error("Event handler panicked",
				log.Event(event),
				slog.Any("panic", r))
		}
	}()
	fn(data)
}

func (m *Manager) notify(st Status) {
	m.mu.Lock()
	fns := make([]func(Status), 0, len(m.statusFns))
	for _, fn := range m.statusFns {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("Status listener panicked", slog.Any("panic", r))
				}
			}()
			fn(st)
		}()
	}
}
