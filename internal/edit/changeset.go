package edit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/matthewbaird/entitykit/internal/schema"
	"github.com/matthewbaird/entitykit/internal/types"
)

// DateLayout is the wire form of date fields.
const DateLayout = "2006-01-02"

// inputLayouts are the string forms accepted for date and datetime fields,
// tried in order.
var inputLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", DateLayout}

// ChangeSet is the minimal set of field values that differ between an
// original instance and its draft, already serialised for the transport.
type ChangeSet struct {
	ID     string
	Type   types.EntityType
	Fields map[string]any
}

// Empty reports whether there is nothing to send.
func (cs ChangeSet) Empty() bool { return len(cs.Fields) == 0 }

// Names returns the changed field names, sorted.
func (cs ChangeSet) Names() []string {
	names := make([]string, 0, len(cs.Fields))
	for name := range cs.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasUploads reports whether any value is a raw binary upload.
func (cs ChangeSet) HasUploads() bool {
	for _, v := range cs.Fields {
		if isUpload(v) {
			return true
		}
	}
	return false
}

// Encoding selects multipart when the change-set carries an upload.
func (cs ChangeSet) Encoding() Encoding {
	if cs.HasUploads() {
		return EncodingMultipart
	}
	return EncodingJSON
}

// MarshalJSON writes {id, type} plus the changed fields as one flat object.
// The id is omitted for creates. Uploads appear as their metadata only.
func (cs ChangeSet) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(cs.Fields)+2)
	for k, v := range cs.Fields {
		out[k] = v
	}
	if cs.ID != "" {
		out["id"] = cs.ID
	}
	out["type"] = cs.Type
	return json.Marshal(out)
}

func isUpload(v any) bool {
	switch x := v.(type) {
	case types.Upload:
		return true
	case *types.Upload:
		return x != nil
	case []types.Upload:
		return len(x) > 0
	case []any:
		for _, item := range x {
			if isUpload(item) {
				return true
			}
		}
	}
	return false
}

// Diff computes the change-set between original and draft. Only fields the
// schema declares are considered; values are serialised per field kind.
func Diff(es *schema.EntitySchema, original, draft *types.Instance) ChangeSet {
	cs := ChangeSet{ID: draft.ID, Type: draft.Type, Fields: make(map[string]any)}
	if original != nil && cs.ID == "" {
		cs.ID = original.ID
	}
	for _, f := range es.Fields {
		dv := draft.Get(f.Name)
		if valuesEqual(original.Get(f.Name), dv) {
			continue
		}
		cs.Fields[f.Name] = Serialize(f, dv)
	}
	return cs
}

// Serialize converts one draft value to its wire form.
func Serialize(f schema.FieldDefinition, v any) any {
	switch f.Kind {
	case schema.KindDate:
		return mapList(v, func(x any) any { return formatTime(x, false) })
	case schema.KindDateTime:
		return mapList(v, func(x any) any { return formatTime(x, true) })
	case schema.KindMultiChoice:
		return joinChoices(v)
	case schema.KindRelation:
		return relationIDs(v, f.Many())
	case schema.KindText, schema.KindLongText, schema.KindEmail, schema.KindEnum,
		schema.KindBool, schema.KindInt, schema.KindDecimal,
		schema.KindImage, schema.KindAudio, schema.KindVideo, schema.KindJSON:
		return v
	default:
		panic(fmt.Sprintf("edit: unhandled field kind %s", f.Kind))
	}
}

func mapList(v any, fn func(any) any) any {
	switch list := v.(type) {
	case []any:
		out := make([]any, len(list))
		for i, x := range list {
			out[i] = fn(x)
		}
		return out
	case []time.Time:
		out := make([]any, len(list))
		for i, x := range list {
			out[i] = fn(x)
		}
		return out
	case []string:
		out := make([]any, len(list))
		for i, x := range list {
			out[i] = fn(x)
		}
		return out
	default:
		return fn(v)
	}
}

// formatTime renders a time value as YYYY-MM-DD or as an RFC 3339 UTC
// instant. Strings that do not parse are passed through for the backend to
// reject.
func formatTime(v any, withClock bool) any {
	var t time.Time
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		t = x
	case *time.Time:
		if x == nil {
			return nil
		}
		t = *x
	case string:
		if x == "" {
			return nil
		}
		parsed, ok := parseTime(x)
		if !ok {
			return x
		}
		t = parsed
	default:
		return v
	}
	if withClock {
		return t.UTC().Format(time.RFC3339)
	}
	return t.Format(DateLayout)
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range inputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// joinChoices serialises a multi-choice value as a comma-joined string.
func joinChoices(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	case []string:
		return strings.Join(x, ",")
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			if item == nil {
				continue
			}
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(x)
	}
}

// relationIDs reduces a relation value to an id, or an ordered list of ids
// for many-valued relations. An empty many-valued relation is an empty list,
// not null, so the backend clears it.
func relationIDs(v any, many bool) any {
	if !many {
		if ref, ok := types.RefOf(v); ok {
			return ref.ID
		}
		return nil
	}
	refs, _ := types.RefsOf(v)
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		if r.ID != "" {
			ids = append(ids, r.ID)
		}
	}
	return ids
}
