// Package store holds the per-screen mirrors of server state. Every apply
// operation is idempotent so replayed or duplicated events are harmless
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"fleetdash/internal/events"
)

type (
	// Entity is one JSON object as delivered by the REST API or the push
	// channel
	Entity map[string]any

	// List mirrors one collection of a domain in server order
	List struct {
		domain events.Domain

		mu      sync.RWMutex
		items   []Entity
		index   map[string]int
		version uint64
	}
)

var (
	ErrNoID      = errors.New("entity has no id")
	ErrNotObject = errors.New("entity is not a json object")
	ErrNotList   = errors.New("payload is not a json array")
)

// DecodeEntity parses one JSON object
func DecodeEntity(data []byte) (Entity, error) {
	var e Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotObject, err)
	}
	if e == nil {
		return nil, ErrNotObject
	}
	return e, nil
}

// DecodeList parses a JSON array of objects. Elements that are not objects
// are skipped
func DecodeList(data []byte) ([]Entity, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotList, err)
	}
	res := make([]Entity, 0, len(raw))
	for _, r := range raw {
		if e, err := DecodeEntity(r); err == nil {
			res = append(res, e)
		}
	}
	return res, nil
}

// ID returns the entity id for the domain, or "" if none is present
func (e Entity) ID(d events.Domain) string {
	for _, key := range d.IDKeys() {
		switch v := e[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprint(v)
		case json.Number:
			return v.String()
		case map[string]any:
			if oid, ok := v["$oid"].(string); ok && oid != "" {
				return oid
			}
		}
	}
	return ""
}

// String returns the field formatted for display
func (e Entity) String(key string) string {
	switch v := e[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return fmt.Sprint(v)
	case bool:
		return fmt.Sprint(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

// Clone returns a shallow copy of the entity
func (e Entity) Clone() Entity {
	return maps.Clone(e)
}

// NewList creates an empty mirror for the domain
func NewList(d events.Domain) *List {
	return &List{
		domain: d,
		index:  map[string]int{},
	}
}

func (l *List) Domain() events.Domain {
	return l.domain
}

// ApplyCreated appends the entity unless its id is already present
func (l *List) ApplyCreated(e Entity) error {
	id := e.ID(l.domain)
	if id == "" {
		return ErrNoID
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.index[id]; ok {
		return nil
	}
	l.index[id] = len(l.items)
	l.items = append(l.items, e.Clone())
	l.version++
	return nil
}

// ApplyUpdated merges the entity's fields into the matching entry, or
// appends it when the id is unknown
func (l *List) ApplyUpdated(e Entity) error {
	id := e.ID(l.domain)
	if id == "" {
		return ErrNoID
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		l.index[id] = len(l.items)
		l.items = append(l.items, e.Clone())
		l.version++
		return nil
	}

	cur := l.items[i]
	changed := false
	next := cur.Clone()
	for k, v := range e {
		if old, ok := cur[k]; ok && jsonEqual(old, v) {
			continue
		}
		next[k] = v
		changed = true
	}
	if changed {
		l.items[i] = next
		l.version++
	}
	return nil
}

// ApplyDeleted removes an entry. The argument may be the id itself or an
// entity carrying it. Deleting an absent id is a no-op
func (l *List) ApplyDeleted(idOrEntity any) error {
	var id string
	switch v := idOrEntity.(type) {
	case string:
		id = v
	case Entity:
		id = v.ID(l.domain)
	case map[string]any:
		id = Entity(v).ID(l.domain)
	case float64:
		id = fmt.Sprint(v)
	}
	if id == "" {
		return ErrNoID
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		return nil
	}
	l.items = slices.Delete(l.items, i, i+1)
	l.reindexLocked()
	l.version++
	return nil
}

// ApplySnapshot replaces the whole list. Entries without an id are dropped
// and later duplicates of an id are ignored
func (l *List) ApplySnapshot(list []Entity) {
	items := make([]Entity, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, e := range list {
		id := e.ID(l.domain)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		items = append(items, e.Clone())
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = items
	l.reindexLocked()
	l.version++
}

// Items returns a copy of the current entries
func (l *List) Items() []Entity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res := make([]Entity, len(l.items))
	for i, e := range l.items {
		res[i] = e.Clone()
	}
	return res
}

func (l *List) Get(id string) (Entity, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return nil, false
	}
	return l.items[i].Clone(), true
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Version increases on every change that altered the list
func (l *List) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

func (l *List) reindexLocked() {
	clear(l.index)
	for i, e := range l.items {
		l.index[e.ID(l.domain)] = i
	}
}

func jsonEqual(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}
