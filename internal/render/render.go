// Package render turns entity instances into ordered display items without
// per-type templates. Output depends only on the schema and the instance's
// values, never on map iteration order, so repeated renders are identical.
package render

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/matthewbaird/entitykit/internal/policy"
	"github.com/matthewbaird/entitykit/internal/schema"
	"github.com/matthewbaird/entitykit/internal/types"
)

// ItemKind is the presentation chosen for a display item.
type ItemKind int

const (
	ItemTitle ItemKind = iota
	ItemSubtitle
	ItemText
	ItemMedia
	ItemReference
	ItemList
	ItemBlock
	ItemError
)

var itemKindNames = [...]string{
	ItemTitle:     "title",
	ItemSubtitle:  "subtitle",
	ItemText:      "text",
	ItemMedia:     "media",
	ItemReference: "reference",
	ItemList:      "list",
	ItemBlock:     "block",
	ItemError:     "error",
}

func (k ItemKind) String() string {
	if k < 0 || int(k) >= len(itemKindNames) {
		return "unknown"
	}
	return itemKindNames[k]
}

// MarshalText encodes the kind by name.
func (k ItemKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Item is one display line.
type Item struct {
	Field    string   `json:"field,omitempty"`
	Label    string   `json:"label,omitempty"`
	Kind     ItemKind `json:"kind"`
	Value    string   `json:"value,omitempty"`
	Caption  string   `json:"caption,omitempty"`
	Link     string   `json:"link,omitempty"`
	Image    string   `json:"image,omitempty"`
	Media    string   `json:"media,omitempty"` // image, audio or video
	Children []Item   `json:"children,omitempty"`
}

// Renderer produces display items for any registered type.
type Renderer struct {
	reg  *schema.Registry
	eval *policy.Evaluator
}

// New creates a renderer. A nil evaluator disables the view check.
func New(reg *schema.Registry, eval *policy.Evaluator) *Renderer {
	return &Renderer{reg: reg, eval: eval}
}

// Render returns the display items of inst as seen by subject.
//
// An unregistered type returns *schema.UnknownTypeError and no items. A view
// denial returns a single ItemError carrying the reason together with the
// *policy.Denial; no field of a denied instance is rendered.
func (r *Renderer) Render(inst *types.Instance, s *policy.Subject) ([]Item, error) {
	es, ok := r.reg.Lookup(inst.Type)
	if !ok {
		return nil, &schema.UnknownTypeError{Type: inst.Type}
	}
	if r.eval != nil {
		if err := r.eval.CanDo(policy.VerbView, inst, s); err != nil {
			return []Item{{Kind: ItemError, Value: err.Error()}}, err
		}
	}

	h := schema.HeadingOf(inst.ID, inst.Fields)
	items := []Item{{Kind: ItemTitle, Value: h.Title, Link: detailLink(es.Nav, inst.ID)}}
	if h.Subtitle != nil {
		f, _ := es.Field(h.SubtitleField)
		items = append(items, Item{
			Field: h.SubtitleField,
			Label: label(f, h.SubtitleField),
			Kind:  ItemSubtitle,
			Value: formatTimestamp(h.Subtitle, f.Kind == schema.KindDate),
		})
	}

	consumed := make(map[string]bool, len(h.Consumed))
	for _, name := range h.Consumed {
		consumed[name] = true
	}
	for _, f := range es.Fields {
		if consumed[f.Name] {
			continue
		}
		v := inst.Fields[f.Name]
		if schema.IsEmpty(v) {
			continue
		}
		items = append(items, r.field(f, v))
	}
	return items, nil
}

func (r *Renderer) field(f schema.FieldDefinition, v any) Item {
	switch f.Kind {
	case schema.KindImage, schema.KindAudio, schema.KindVideo:
		if f.Many() {
			return list(f, v, func(x any) Item { return media(f, x) })
		}
		return media(f, v)
	case schema.KindRelation:
		if f.Many() {
			refs, _ := types.RefsOf(v)
			children := make([]Item, 0, len(refs))
			for _, ref := range refs {
				children = append(children, r.reference(f, ref))
			}
			return Item{Field: f.Name, Label: pluralLabel(f), Kind: ItemList, Children: children}
		}
		ref, ok := types.RefOf(v)
		if !ok {
			return block(f, v)
		}
		return r.reference(f, ref)
	case schema.KindJSON:
		return block(f, v)
	case schema.KindBool:
		return text(f, "Yes")
	case schema.KindEnum:
		if isObject(v) {
			return block(f, v)
		}
		return text(f, f.OptionLabel(scalar(v)))
	case schema.KindMultiChoice:
		vals := choices(v)
		labels := make([]string, len(vals))
		for i, c := range vals {
			labels[i] = f.OptionLabel(c)
		}
		return text(f, strings.Join(labels, ", "))
	case schema.KindDate, schema.KindDateTime:
		if f.Many() {
			return list(f, v, func(x any) Item { return text(f, formatTimestamp(x, f.Kind == schema.KindDate)) })
		}
		return text(f, formatTimestamp(v, f.Kind == schema.KindDate))
	case schema.KindText, schema.KindLongText, schema.KindEmail, schema.KindInt, schema.KindDecimal:
		if isObject(v) {
			return block(f, v)
		}
		if vals, ok := v.([]any); ok {
			parts := make([]string, 0, len(vals))
			for _, x := range vals {
				parts = append(parts, scalar(x))
			}
			return text(f, strings.Join(parts, ", "))
		}
		return text(f, scalar(v))
	default:
		panic(fmt.Sprintf("render: unhandled field kind %s", f.Kind))
	}
}

// reference renders a related entity one level deep: its own title and
// subtitle only, never its relations.
func (r *Renderer) reference(f schema.FieldDefinition, ref types.Ref) Item {
	it := Item{Field: f.Name, Label: label(f, f.Name), Kind: ItemReference, Image: ref.Image}
	h := schema.HeadingOf(ref.ID, ref.Snapshot)
	it.Value = h.Title
	if ref.Display != "" {
		it.Value = ref.Display
	}
	if h.Subtitle != nil {
		it.Caption = formatTimestamp(h.Subtitle, h.SubtitleField == "date")
	}
	target := f.Target
	if ref.Type != "" {
		target = ref.Type
	}
	if es, ok := r.reg.Lookup(target); ok {
		it.Link = detailLink(es.Nav, ref.ID)
	}
	return it
}

func list(f schema.FieldDefinition, v any, each func(any) Item) Item {
	var values []any
	switch x := v.(type) {
	case []any:
		values = x
	case []string:
		for _, s := range x {
			values = append(values, s)
		}
	default:
		values = []any{v}
	}
	children := make([]Item, 0, len(values))
	for _, x := range values {
		if !schema.IsEmpty(x) {
			children = append(children, each(x))
		}
	}
	return Item{Field: f.Name, Label: pluralLabel(f), Kind: ItemList, Children: children}
}

func media(f schema.FieldDefinition, v any) Item {
	it := Item{Field: f.Name, Label: label(f, f.Name), Kind: ItemMedia, Media: f.Kind.String(), Caption: label(f, f.Name)}
	switch x := v.(type) {
	case string:
		it.Value = x
	case types.Upload:
		it.Value = x.Filename
	case map[string]any:
		for _, key := range []string{"url", "src", "file"} {
			if s, ok := x[key].(string); ok && s != "" {
				it.Value = s
				break
			}
		}
		if c, ok := x["caption"].(string); ok && c != "" {
			it.Caption = c
		}
	default:
		if ref, ok := types.RefOf(v); ok {
			it.Value = ref.Image
			if ref.Display != "" {
				it.Caption = ref.Display
			}
		}
	}
	return it
}

func block(f schema.FieldDefinition, v any) Item {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return text(f, fmt.Sprint(v))
	}
	return Item{Field: f.Name, Label: label(f, f.Name), Kind: ItemBlock, Value: string(b)}
}

func text(f schema.FieldDefinition, s string) Item {
	return Item{Field: f.Name, Label: label(f, f.Name), Kind: ItemText, Value: s}
}

func detailLink(nav schema.NavDescriptor, id string) string {
	if nav.DetailRoute == "" || id == "" {
		return ""
	}
	return nav.DetailPath(id)
}

func isObject(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

func choices(v any) []string {
	switch x := v.(type) {
	case string:
		var out []string
		for _, part := range strings.Split(x, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			out = append(out, scalar(item))
		}
		return out
	default:
		return []string{scalar(v)}
	}
}

func scalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case json.Number:
		return x.String()
	case bool:
		if x {
			return "Yes"
		}
		return "No"
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

var timestampLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// formatTimestamp renders dates as "Jan 2, 2006" and instants as
// "Jan 2, 2006 15:04 UTC". Values that do not parse are shown as-is.
func formatTimestamp(v any, dateOnly bool) string {
	var t time.Time
	switch x := v.(type) {
	case time.Time:
		t = x
	case string:
		parsed, ok := parseTimestamp(x)
		if !ok {
			return x
		}
		t = parsed
		if len(x) == len("2006-01-02") {
			dateOnly = true
		}
	default:
		return scalar(v)
	}
	if dateOnly {
		return t.Format("Jan 2, 2006")
	}
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Humanize turns a machine field name into a display label:
// "author_id" becomes "Author", "first_name" becomes "First Name".
func Humanize(name string) string {
	if name == "" {
		return ""
	}
	clean := strings.TrimSuffix(strings.TrimSuffix(name, "_ids"), "_id")
	clean = strings.NewReplacer("_", " ", ".", " ", "-", " ").Replace(clean)
	return cases.Title(language.English).String(strings.Join(strings.Fields(clean), " "))
}

func label(f schema.FieldDefinition, name string) string {
	if f.Label != "" {
		return f.Label
	}
	return Humanize(name)
}

func pluralLabel(f schema.FieldDefinition) string {
	if f.LabelPlural != "" {
		return f.LabelPlural
	}
	return label(f, f.Name)
}
