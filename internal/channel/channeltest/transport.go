// Package channeltest provides an in-memory push-channel transport for
// exercising the connection manager and everything built on it
package channeltest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"slices"
	"sync"
	"time"

	"fleetdash/internal/channel"
	"fleetdash/internal/events"
)

type (
	// Transport hands out Conns and records every dial. By default each
	// new Conn is greeted with a client id of the form "client-N"
	Transport struct {
		// Silent disables the automatic greeting
		Silent bool

		mu       sync.Mutex
		dials    int
		failures []error
		ids      []string
		conns    chan *Conn
	}

	// Conn is one fake session. Tests push inbound frames and inspect what
	// the client wrote
	Conn struct {
		inbound   chan []byte
		closed    chan struct{}
		closeOnce sync.Once

		mu     sync.Mutex
		writes []events.Envelope
		err    error
	}
)

var _ channel.Transport = (*Transport)(nil)

func NewTransport() *Transport {
	return &Transport{
		conns: make(chan *Conn, 64),
	}
}

// FailNext makes the next dials fail with the given errors, in order
func (t *Transport) FailNext(errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = append(t.failures, errs...)
}

// AssignIDs sets the client ids greeted on the next dials, in order
func (t *Transport) AssignIDs(ids ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids = append(t.ids, ids...)
}

// Dials returns how many dials were attempted
func (t *Transport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *Transport) Dial(ctx context.Context) (channel.Conn, error) {
	t.mu.Lock()
	t.dials++
	n := t.dials
	if len(t.failures) > 0 {
		err := t.failures[0]
		t.failures = t.failures[1:]
		t.mu.Unlock()
		return nil, err
	}
	id := fmt.Sprintf("client-%d", n)
	if len(t.ids) > 0 {
		id = t.ids[0]
		t.ids = t.ids[1:]
	}
	silent := t.Silent
	t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := NewConn()
	if !silent {
		c.Push(events.EventConnect, events.Greeting{ClientID: id})
	}
	t.conns <- c
	return c, nil
}

// NextConn waits for the next successful dial
func (t *Transport) NextConn(timeout time.Duration) (*Conn, bool) {
	select {
	case c := <-t.conns:
		return c, true
	case <-time.After(timeout):
		return nil, false
	}
}

func NewConn() *Conn {
	return &Conn{
		inbound: make(chan []byte, 256),
		closed:  make(chan struct{}),
	}
}

func (c *Conn) Read() ([]byte, error) {
	select {
	case <-c.closed:
		return nil, c.closeErr()
	default:
	}
	select {
	case f := <-c.inbound:
		return f, nil
	case <-c.closed:
		return nil, c.closeErr()
	}
}

func (c *Conn) Write(frame []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	env, err := decode(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.writes = append(c.writes, env)
	c.mu.Unlock()
	return nil
}

func (c *Conn) Close() error {
	c.drop(net.ErrClosed)
	return nil
}

// Drop ends the session as if the server went away
func (c *Conn) Drop() {
	c.drop(io.EOF)
}

// Closed reports whether the session has ended
func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Push queues an inbound event
func (c *Conn) Push(event string, payload any) {
	frame, err := events.Encode(event, payload)
	if err != nil {
		panic(err)
	}
	c.PushRaw(frame)
}

// PushRaw queues an inbound frame as-is
func (c *Conn) PushRaw(frame []byte) {
	select {
	case c.inbound <- frame:
	case <-c.closed:
	}
}

// Writes returns every frame written so far
func (c *Conn) Writes() []events.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.writes)
}

// Sent returns the frames written for one event name
func (c *Conn) Sent(event string) []events.Envelope {
	var res []events.Envelope
	for _, env := range c.Writes() {
		if env.Event == event {
			res = append(res, env)
		}
	}
	return res
}

// Joined returns the room names sent with join-room, in order
func (c *Conn) Joined() []string {
	var res []string
	for _, env := range c.Sent(events.EventJoinRoom) {
		var name string
		if err := json.Unmarshal(env.Data, &name); err == nil {
			res = append(res, name)
		}
	}
	return res
}

func (c *Conn) drop(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.closed)
	})
}

func (c *Conn) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func decode(frame []byte) (events.Envelope, error) {
	var env events.Envelope
	err := json.Unmarshal(frame, &env)
	return env, err
}
