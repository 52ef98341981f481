// Package ingest turns entity-change records from Kafka into push-channel
// events published into the broker's rooms
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"fleetdash/internal/events"
)

type (
	// Record is one entity change as written to the change topic
	Record struct {
		Collection string          `json:"collection"`
		Op         string          `json:"op"`
		ID         string          `json:"id,omitempty"`
		Document   json.RawMessage `json:"document,omitempty"`
	}

	// Publisher fans events out into rooms
	Publisher interface {
		Publish(room, event string, payload any) (int, error)
	}

	// Outcome reports what a record turned into
	Outcome struct {
		Domain events.Domain
		Event  string
	}
)

var (
	ErrMalformedRecord   = errors.New("malformed change record")
	ErrUnknownCollection = errors.New("unknown collection")
)

// collection-wide operations only announce that the collection changed
var collectionOps = map[string]struct{}{
	"drop":       {},
	"rename":     {},
	"invalidate": {},
	"refresh":    {},
	"bulk":       {},
}

// ParseRecord decodes and validates one record
func ParseRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	r.Op = strings.ToLower(strings.TrimSpace(r.Op))
	if r.Collection == "" || r.Op == "" {
		return Record{}, fmt.Errorf("%w: collection and op are required",
			ErrMalformedRecord)
	}
	if len(r.Document) > 0 && !gjson.ValidBytes(r.Document) {
		return Record{}, fmt.Errorf("%w: document is not json",
			ErrMalformedRecord)
	}
	return r, nil
}

// Apply publishes the record into its domain's room. Single-document
// changes become the domain's change event; every record is followed by a
// directDbChange notice
func Apply(pub Publisher, r Record) (Outcome, error) {
	d, ok := events.DomainForCollection(r.Collection)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownCollection,
			r.Collection)
	}
	room := d.Room()
	out := Outcome{Domain: d}

	if _, whole := collectionOps[r.Op]; !whole {
		name, ok := events.ChangeEvent(d, r.Op)
		if !ok {
			return Outcome{}, fmt.Errorf("%w: op %q for %s",
				ErrMalformedRecord, r.Op, d)
		}
		payload, err := r.payload(d)
		if err != nil {
			return Outcome{}, err
		}
		if _, err := pub.Publish(room, name, payload); err != nil {
			return Outcome{}, err
		}
		out.Event = name
	}

	_, err := pub.Publish(room, events.EventDirectDBChange, events.DBChange{
		Collection:    r.Collection,
		OperationType: r.Op,
	})
	return out, err
}

// payload is the document, or an id-only object when the record carries
// no document (typically deletes)
func (r Record) payload(d events.Domain) (json.RawMessage, error) {
	if len(r.Document) > 0 && events.EntityID(r.Document, d) != "" {
		return r.Document, nil
	}
	if r.ID == "" {
		return nil, fmt.Errorf("%w: %s record has no id", ErrMalformedRecord,
			r.Op)
	}
	if len(r.Document) > 0 && gjson.ParseBytes(r.Document).IsObject() {
		var doc map[string]any
		if err := json.Unmarshal(r.Document, &doc); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
		}
		doc["_id"] = r.ID
		return json.Marshal(doc)
	}
	return json.Marshal(map[string]string{"_id": r.ID})
}
