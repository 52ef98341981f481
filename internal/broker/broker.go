package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"fleetdash/internal/events"
	"fleetdash/internal/log"
)

type (
	// Broker is the room-based push server. Clients join rooms by name and
	// receive every event published into them
	Broker struct {
		cfg    Config
		logger *slog.Logger

		mu      sync.RWMutex
		rooms   map[string]map[*Client]struct{}
		clients map[*Client]struct{}
		refresh RefreshFunc
		command CommandFunc
	}

	// Config controls a Broker. Zero fields take the package defaults
	Config struct {
		RefreshRate  rate.Limit
		RefreshBurst int
		SendBuffer   int
		Logger       *slog.Logger
	}

	// Snapshot is one event sent in answer to a request
	Snapshot struct {
		Event string
		Data  any
	}

	// RefreshFunc produces the snapshots answering a refresh-data request
	RefreshFunc func(
		ctx context.Context, models []events.Domain,
	) ([]Snapshot, error)

	// CommandFunc handles client commands such as updateVehicleStatus
	CommandFunc func(
		ctx context.Context, c *Client, event string, data json.RawMessage,
	) error

	// Client is one connected websocket session
	Client struct {
		id      string
		conn    *websocket.Conn
		send    chan []byte
		done    chan struct{}
		once    sync.Once
		limiter *rate.Limiter

		mu       sync.Mutex
		rooms    map[string]struct{}
		page     string
		lastSeen time.Time
	}
)

const (
	DefaultRefreshRate  = rate.Limit(1)
	DefaultRefreshBurst = 3
	DefaultSendBuffer   = 256

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewBroker(cfg Config) *Broker {
	if cfg.RefreshRate <= 0 {
		cfg.RefreshRate = DefaultRefreshRate
	}
	if cfg.RefreshBurst <= 0 {
		cfg.RefreshBurst = DefaultRefreshBurst
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Broker{
		cfg:     cfg,
		logger:  cfg.Logger,
		rooms:   map[string]map[*Client]struct{}{},
		clients: map[*Client]struct{}{},
	}
}

// HandleRefresh sets the producer of refresh-data answers
func (b *Broker) HandleRefresh(fn RefreshFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh = fn
}

// HandleCommands sets the handler of client commands
func (b *Broker) HandleCommands(fn CommandFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.command = fn
}

// ServeWS upgrades the request, greets the client with its id and serves
// it until the connection ends
func (b *Broker) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error("WebSocket upgrade failed", log.Error(err))
		return
	}

	c := &Client{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, b.cfg.SendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(b.cfg.RefreshRate, b.cfg.RefreshBurst),
		rooms:   map[string]struct{}{},
	}
	c.Send(events.EventConnect, events.Greeting{ClientID: c.id})
	b.register(c)
	b.logger.Info("Client connected", log.ClientID(c.id))

	go b.writeLoop(c)
	b.readLoop(r.Context(), c)
}

// Publish sends the event to every member of the room and returns how many
// clients it was queued for
func (b *Broker) Publish(room, event string, payload any) (int, error) {
	frame, err := events.Encode(event, payload)
	if err != nil {
		return 0, err
	}

	b.mu.RLock()
	targets := make([]*Client, 0, len(b.rooms[room]))
	for c := range b.rooms[room] {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	n := b.deliver(targets, frame)
	publishedEvents.WithLabelValues(roomLabel(room)).Inc()
	b.logger.Debug("Published event",
		log.Room(room),
		log.Event(event),
		slog.Int("clients", n))
	return n, nil
}

// Broadcast sends the event to every connected client
func (b *Broker) Broadcast(event string, payload any) (int, error) {
	frame, err := events.Encode(event, payload)
	if err != nil {
		return 0, err
	}

	b.mu.RLock()
	targets := make([]*Client, 0, len(b.clients))
	for c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	n := b.deliver(targets, frame)
	publishedEvents.WithLabelValues("*").Inc()
	return n, nil
}

// Rooms returns the member count of every non-empty room
func (b *Broker) Rooms() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	res := make(map[string]int, len(b.rooms))
	for name, members := range b.rooms {
		res[name] = len(members)
	}
	return res
}

// ClientCount returns the number of connected clients
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every client
func (b *Broker) Close() {
	b.mu.RLock()
	targets := make([]*Client, 0, len(b.clients))
	for c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	for _, c := range targets {
		c.Close()
	}
}

func (b *Broker) deliver(targets []*Client, frame []byte) int {
	n := 0
	for _, c := range targets {
		if c.enqueue(frame) {
			n++
			continue
		}
		droppedFrames.Inc()
		b.logger.Warn("Disconnecting slow client", log.ClientID(c.id))
	}
	return n
}

func (b *Broker) readLoop(ctx context.Context, c *Client) {
	defer b.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env events.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.SendError("invalid frame")
			continue
		}
		b.handle(ctx, c, env)
	}
}

func (b *Broker) writeLoop(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (b *Broker) handle(ctx context.Context, c *Client, env events.Envelope) {
	inboundEvents.WithLabelValues(eventLabel(env.Event)).Inc()

	switch env.Event {
	case events.EventJoinRoom:
		name, ok := roomName(env.Data)
		if !ok {
			c.SendError("missing room")
			return
		}
		b.join(c, name)

	case events.EventLeaveRoom:
		name, ok := roomName(env.Data)
		if !ok {
			c.SendError("missing room")
			return
		}
		b.leave(c, name)

	case events.EventClientConnected:
		var meta events.ClientConnected
		_ = json.Unmarshal(env.Data, &meta)
		c.mu.Lock()
		c.page = meta.Page
		c.lastSeen = time.Now()
		c.mu.Unlock()
		b.logger.Info("Client ready",
			log.ClientID(c.id),
			slog.String("page", meta.Page))

	case events.EventHeartbeat:
		c.mu.Lock()
		c.lastSeen = time.Now()
		c.mu.Unlock()

	case events.EventRefreshData:
		b.handleRefresh(ctx, c, env.Data)

	case events.EventUpdateVehicleStatus, events.EventGetLatestVehicles:
		b.mu.RLock()
		fn := b.command
		b.mu.RUnlock()
		if fn == nil {
			c.SendError("unsupported command: " + env.Event)
			return
		}
		if err := fn(ctx, c, env.Event, env.Data); err != nil {
			b.logger.Warn("Command failed",
				log.ClientID(c.id),
				log.Event(env.Event),
				log.Error(err))
			c.SendError(err.Error())
		}

	default:
		c.SendError("unknown event: " + env.Event)
	}
}

func (b *Broker) handleRefresh(
	ctx context.Context, c *Client, data json.RawMessage,
) {
	if !c.limiter.Allow() {
		throttledRefreshes.Inc()
		b.logger.Debug("Refresh throttled", log.ClientID(c.id))
		return
	}

	b.mu.RLock()
	fn := b.refresh
	b.mu.RUnlock()
	if fn == nil {
		return
	}

	var req events.RefreshRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.SendError("invalid refresh request")
		return
	}
	models := make([]events.Domain, 0, len(req.Models))
	for _, d := range req.Models {
		if d.Valid() && !slices.Contains(models, d) {
			models = append(models, d)
		}
	}
	if len(models) == 0 {
		return
	}

	// Fetches may outlast pongWait, keep the read loop free
	go func() {
		snaps, err := fn(ctx, models)
		if err != nil {
			b.logger.Warn("Refresh incomplete",
				log.ClientID(c.id),
				log.Error(err))
		}
		for _, s := range snaps {
			c.Send(s.Event, s.Data)
		}
	}()
}

func (b *Broker) register(c *Client) {
	b.mu.Lock()
	b.clients[c] = struct{}{}
	n := len(b.clients)
	b.mu.Unlock()
	connectedClients.Set(float64(n))
}

func (b *Broker) unregister(c *Client) {
	c.Close()

	c.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for name := range c.rooms {
		rooms = append(rooms, name)
	}
	c.mu.Unlock()

	for _, name := range rooms {
		b.leave(c, name)
	}

	b.mu.Lock()
	delete(b.clients, c)
	n := len(b.clients)
	b.mu.Unlock()
	connectedClients.Set(float64(n))
	b.logger.Info("Client disconnected", log.ClientID(c.id))
}

func (b *Broker) join(c *Client, name string) {
	b.mu.Lock()
	members, ok := b.rooms[name]
	if !ok {
		members = map[*Client]struct{}{}
		b.rooms[name] = members
	}
	members[c] = struct{}{}
	b.mu.Unlock()

	c.mu.Lock()
	c.rooms[name] = struct{}{}
	c.mu.Unlock()
	b.logger.Debug("Client joined room", log.ClientID(c.id), log.Room(name))
}

func (b *Broker) leave(c *Client, name string) {
	b.mu.Lock()
	if members, ok := b.rooms[name]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(b.rooms, name)
		}
	}
	b.mu.Unlock()

	c.mu.Lock()
	delete(c.rooms, name)
	c.mu.Unlock()
}

// ID returns the id the client was greeted with
func (c *Client) ID() string {
	return c.id
}

// Page returns the page the client reported in client-connected
func (c *Client) Page() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// LastSeen returns when the client last sent a heartbeat
func (c *Client) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// Send queues one event for the client
func (c *Client) Send(event string, payload any) bool {
	frame, err := events.Encode(event, payload)
	if err != nil {
		return false
	}
	return c.enqueue(frame)
}

// SendError queues an error notice for the client
func (c *Client) SendError(msg string) bool {
	return c.Send(events.EventError, events.ErrorNotice{Message: msg})
}

// Close ends the session with a normal close frame. It is safe to call
// more than once
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// enqueue never blocks. A full buffer means the client cannot keep up and
// it is disconnected
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.Close()
		return false
	}
}

func roomName(data json.RawMessage) (string, bool) {
	var name string
	if err := json.Unmarshal(data, &name); err == nil && name != "" {
		return name, true
	}
	var obj struct {
		Room string `json:"room"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Room != "" {
		return obj.Room, true
	}
	return "", false
}
