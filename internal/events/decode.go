package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	ErrMalformed     = errors.New("malformed event payload")
	ErrUnknownDomain = errors.New("unknown domain")
)

// Decode validates a raw payload against the shape its route expects. A
// payload that fails validation must be dropped by the caller
func Decode(r Route, data json.RawMessage) (InboundEvent, error) {
	if !r.Domain.Valid() {
		return InboundEvent{}, fmt.Errorf("%w: %s: %q", ErrUnknownDomain, r.Raw,
			r.Domain)
	}
	if len(data) == 0 || !gjson.ValidBytes(data) {
		return InboundEvent{}, fmt.Errorf("%w: %s: invalid json", ErrMalformed,
			r.Raw)
	}

	res := gjson.ParseBytes(data)
	switch r.Kind {
	case KindSnapshot:
		if !res.IsArray() {
			return InboundEvent{}, fmt.Errorf("%w: %s: expected array",
				ErrMalformed, r.Raw)
		}
	case KindCreated, KindUpdated:
		if !res.IsObject() {
			return InboundEvent{}, fmt.Errorf("%w: %s: expected object",
				ErrMalformed, r.Raw)
		}
		if resultID(res, r.Domain) == "" {
			return InboundEvent{}, fmt.Errorf("%w: %s: missing id",
				ErrMalformed, r.Raw)
		}
	case KindDeleted:
		if resultID(res, r.Domain) == "" {
			return InboundEvent{}, fmt.Errorf("%w: %s: missing id",
				ErrMalformed, r.Raw)
		}
	case KindStats:
		if !res.IsObject() {
			return InboundEvent{}, fmt.Errorf("%w: %s: expected object",
				ErrMalformed, r.Raw)
		}
	}

	return InboundEvent{
		Raw:    r.Raw,
		Domain: r.Domain,
		Type:   r.Type,
		Kind:   r.Kind,
		Data:   data,
	}, nil
}

// EntityID extracts the id of an entity payload, which may also be a bare
// string or number id
func EntityID(data []byte, d Domain) string {
	if !gjson.ValidBytes(data) {
		return ""
	}
	return resultID(gjson.ParseBytes(data), d)
}

// Collection returns the collection named by a directDbChange payload
func Collection(data []byte) (string, bool) {
	res := gjson.GetBytes(data, "collection")
	if res.Type != gjson.String || res.Str == "" {
		return "", false
	}
	return res.Str, true
}

// ErrorMessage extracts a human readable message from an error notice
func ErrorMessage(data []byte) string {
	res := gjson.ParseBytes(data)
	switch {
	case res.Type == gjson.String:
		return res.Str
	case res.IsObject():
		for _, key := range []string{"message", "error", "msg"} {
			if v := res.Get(key); v.Type == gjson.String {
				return v.Str
			}
		}
	}
	return res.Raw
}

func resultID(res gjson.Result, d Domain) string {
	switch res.Type {
	case gjson.String:
		return res.Str
	case gjson.Number:
		return res.Raw
	}
	if !res.IsObject() {
		return ""
	}
	for _, key := range d.IDKeys() {
		v := res.Get(key)
		switch {
		case v.Type == gjson.String && v.Str != "":
			return v.Str
		case v.Type == gjson.Number:
			return v.Raw
		case v.IsObject():
			if oid := v.Get("$oid"); oid.Type == gjson.String {
				return oid.Str
			}
		}
	}
	return ""
}
