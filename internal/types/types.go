// Package types provides the value types shared by every layer of the engine:
// entity instances, references between them, and raw uploads held in drafts.
// These are the Go representation of records fetched from (and sent back to)
// the transport collaborator.
package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// EntityType names one kind of record, e.g. "Users" or "CoachContent".
// It is the join key across the registry, the policy table, the edit
// controller and the renderer.
type EntityType string

// Ref is a lightweight reference to another entity. The referring entity
// never owns the lifecycle of the target.
type Ref struct {
	ID       string         `json:"id"`
	Display  string         `json:"display,omitempty"`
	Type     EntityType     `json:"type,omitempty"`
	Image    string         `json:"image,omitempty"`
	Snapshot map[string]any `json:"snapshot,omitempty"` // partial embedded copy of the target's fields
}

// Upload is a raw binary value placed in a draft field. Its presence in a
// change-set switches the payload to multipart encoding.
type Upload struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"-"`
}

// Instance is a client-side copy of one record.
type Instance struct {
	ID     string
	Type   EntityType
	Fields map[string]any
}

// NewInstance returns an instance with an initialised field map.
func NewInstance(t EntityType, id string) *Instance {
	return &Instance{ID: id, Type: t, Fields: make(map[string]any)}
}

// Get returns the raw value of a field, or nil.
func (in *Instance) Get(name string) any {
	if in == nil || in.Fields == nil {
		return nil
	}
	return in.Fields[name]
}

// MarshalJSON flattens the instance into {"id":…, "type":…, <fields>…}.
func (in Instance) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(in.Fields)+2)
	for k, v := range in.Fields {
		out[k] = v
	}
	out["id"] = in.ID
	out["type"] = in.Type
	return json.Marshal(out)
}

// UnmarshalJSON reads the flat form written by MarshalJSON.
func (in *Instance) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	in.Fields = make(map[string]any, len(raw))
	for k, v := range raw {
		switch k {
		case "id":
			in.ID = idString(v)
		case "type":
			s, _ := v.(string)
			in.Type = EntityType(s)
		default:
			in.Fields[k] = v
		}
	}
	return nil
}

// RefOf interprets a relation value as a single reference. It accepts Ref,
// *Ref, a bare id string, and the map shape produced by decoding JSON.
func RefOf(v any) (Ref, bool) {
	switch r := v.(type) {
	case Ref:
		return r, r.ID != ""
	case *Ref:
		if r == nil {
			return Ref{}, false
		}
		return *r, r.ID != ""
	case string:
		return Ref{ID: r}, r != ""
	case map[string]any:
		id := idString(r["id"])
		if id == "" {
			return Ref{}, false
		}
		ref := Ref{ID: id}
		ref.Display, _ = r["display"].(string)
		ref.Image, _ = r["image"].(string)
		if t, ok := r["type"].(string); ok {
			ref.Type = EntityType(t)
		}
		ref.Snapshot, _ = r["snapshot"].(map[string]any)
		return ref, true
	default:
		return Ref{}, false
	}
}

// RefsOf interprets a relation value of unbounded cardinality. A single
// reference is returned as a one-element slice.
func RefsOf(v any) ([]Ref, bool) {
	switch list := v.(type) {
	case nil:
		return nil, false
	case []Ref:
		return list, true
	case []*Ref:
		out := make([]Ref, 0, len(list))
		for _, r := range list {
			if r != nil {
				out = append(out, *r)
			}
		}
		return out, true
	case []string:
		out := make([]Ref, 0, len(list))
		for _, id := range list {
			out = append(out, Ref{ID: id})
		}
		return out, true
	case []any:
		out := make([]Ref, 0, len(list))
		for _, item := range list {
			if r, ok := RefOf(item); ok {
				out = append(out, r)
			}
		}
		return out, true
	default:
		if r, ok := RefOf(v); ok {
			return []Ref{r}, true
		}
		return nil, false
	}
}

// idString normalises ids that arrive as JSON numbers.
func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case json.Number:
		return id.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}
