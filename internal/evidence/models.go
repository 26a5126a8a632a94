// Package evidence models the captured interaction records the engine reads.
// Evidence is owned by an external capture pipeline and is never mutated here.
package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	id "dossier/pkg/domain"
)

// Kind is the evidence type assigned by the capture pipeline.
type Kind string

const (
	KindCall     Kind = "call"
	KindChat     Kind = "chat"
	KindMessage  Kind = "message"
	KindPosition Kind = "position"
)

// Evidence is one captured record.
type Evidence struct {
	ID         id.EvidenceID
	SubjectID  id.SubjectID
	AgentID    id.AgentID
	Kind       Kind
	AcquiredAt time.Time
	Payload    Payload
}

// Store is the read side of the external evidence store.
type Store interface {
	Get(ctx context.Context, evidenceID id.EvidenceID) (*Evidence, error)
}

// Payload is the loosely-typed evidence body. Agents of different generations
// encode the same field as bool, number or string, so accessors coerce.
type Payload map[string]any

// ParsePayload decodes a JSON object, keeping numbers as json.Number.
func ParsePayload(raw []byte) (Payload, error) {
	if len(raw) == 0 {
		return Payload{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	if p == nil {
		p = Payload{}
	}
	return p, nil
}

// Has reports whether key is present, even with an empty value.
func (p Payload) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// String returns the value at key rendered as a string, or "".
func (p Payload) String(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Bool interprets true/1/"1"/"true"/"yes" as true. ok is false when the key is
// absent or the value cannot be read as a flag.
func (p Payload) Bool(key string) (value bool, ok bool) {
	switch v := p[key].(type) {
	case bool:
		return v, true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return false, false
		}
		return f != 0, true
	case float64:
		return v != 0, true
	case int:
		return v != 0, true
	case int64:
		return v != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes":
			return true, true
		case "0", "false", "no":
			return false, true
		}
	}
	return false, false
}

// Float returns the numeric value at key.
func (p Payload) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// Int returns the numeric value at key truncated to whole units.
func (p Payload) Int(key string) (int64, bool) {
	f, ok := p.Float(key)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}

// Time reads RFC3339 strings or unix seconds.
func (p Payload) Time(key string) (time.Time, bool) {
	if s, ok := p[key].(string); ok {
		t, err := time.Parse(time.RFC3339Nano, s)
		return t.UTC(), err == nil
	}
	secs, ok := p.Float(key)
	if !ok {
		return time.Time{}, false
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC(), true
}

// Objects returns the list of nested objects at key.
func (p Payload) Objects(key string) []Payload {
	raw, ok := p[key].([]any)
	if !ok {
		return nil
	}
	out := make([]Payload, 0, len(raw))
	for _, item := range raw {
		switch obj := item.(type) {
		case map[string]any:
			out = append(out, Payload(obj))
		case Payload:
			out = append(out, obj)
		}
	}
	return out
}

// Object returns the nested object at key.
func (p Payload) Object(key string) (Payload, bool) {
	switch obj := p[key].(type) {
	case map[string]any:
		return Payload(obj), true
	case Payload:
		return obj, true
	}
	return nil, false
}
