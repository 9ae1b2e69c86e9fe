// Package schema provides the entity metadata registry.
//
// The registry is built once at process start from the catalogue (see
// LoadBytes) and consumed by the policy evaluator (ownership), the edit
// controller (field semantics) and the renderer (labels, ordering, links).
// It is read-only after construction and safe for concurrent use.
package schema

import (
	"fmt"
	"strings"

	"github.com/matthewbaird/entitykit/internal/types"
)

// Kind classifies a field's semantics. The set is closed: every switch over
// Kind in this module lists all of them and panics in default, so adding a
// kind fails loudly wherever it is not handled.
type Kind int

const (
	KindText Kind = iota
	KindLongText
	KindEmail
	KindEnum
	KindMultiChoice
	KindBool
	KindInt
	KindDecimal
	KindDate
	KindDateTime
	KindImage
	KindAudio
	KindVideo
	KindRelation
	KindJSON
)

var kindNames = [...]string{
	KindText:        "text",
	KindLongText:    "long_text",
	KindEmail:       "email",
	KindEnum:        "enum",
	KindMultiChoice: "multi_choice",
	KindBool:        "bool",
	KindInt:         "int",
	KindDecimal:     "decimal",
	KindDate:        "date",
	KindDateTime:    "datetime",
	KindImage:       "image",
	KindAudio:       "audio",
	KindVideo:       "video",
	KindRelation:    "relation",
	KindJSON:        "json",
}

// String returns the catalogue spelling of the kind.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// ParseKind maps a catalogue spelling back to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown field kind %q", s)
}

// IsMedia reports whether values of this kind are media references.
func (k Kind) IsMedia() bool {
	return k == KindImage || k == KindAudio || k == KindVideo
}

// HasOptions reports whether the kind draws values from an option list.
func (k Kind) HasOptions() bool {
	return k == KindEnum || k == KindMultiChoice
}

// Cardinality is the number of values a field holds.
type Cardinality int

const (
	One Cardinality = iota
	Many
)

func (c Cardinality) String() string {
	if c == Many {
		return "many"
	}
	return "one"
}

// Option is one allowed value of an enumerated field.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// FieldDefinition describes a single field on an entity type.
type FieldDefinition struct {
	Name        string           `json:"name"`
	Label       string           `json:"label,omitempty"`
	LabelPlural string           `json:"label_plural,omitempty"`
	Kind        Kind             `json:"-"`
	Cardinality Cardinality      `json:"-"`
	Target      types.EntityType `json:"target,omitempty"` // relation kinds only
	Required    bool             `json:"required"`
	Default     any              `json:"default,omitempty"`
	Options     []Option         `json:"options,omitempty"`
}

// Many reports whether the field holds an ordered list of values.
func (f FieldDefinition) Many() bool { return f.Cardinality == Many }

// OptionLabel returns the display label for an option value, or the value
// itself when no option matches.
func (f FieldDefinition) OptionLabel(value string) string {
	for _, o := range f.Options {
		if o.Value == value && o.Label != "" {
			return o.Label
		}
	}
	return value
}

// NavDescriptor carries the navigation metadata for one entity type.
type NavDescriptor struct {
	Type        types.EntityType `json:"type"`
	Label       string           `json:"label"`
	LabelPlural string           `json:"label_plural"`
	Endpoint    string           `json:"endpoint"`     // list endpoint and API base path
	DetailRoute string           `json:"detail_route"` // e.g. "/users/{id}"
	Searchable  []string         `json:"searchable,omitempty"`
	Roles       []string         `json:"roles,omitempty"` // roles that see the type in navigation
}

// DetailPath fills the detail route template with an id.
func (n NavDescriptor) DetailPath(id string) string {
	return strings.ReplaceAll(n.DetailRoute, "{id}", id)
}

// ItemPath returns the API path of one record.
func (n NavDescriptor) ItemPath(id string) string {
	return strings.TrimSuffix(n.Endpoint, "/") + "/" + id
}

// EntitySchema holds the complete metadata for one entity type.
type EntitySchema struct {
	Type       types.EntityType
	Fields     []FieldDefinition // declaration order
	Nav        NavDescriptor
	OwnerField string // "" means the default ownership rule

	index map[string]int
}

// Field returns the definition of a named field.
func (es *EntitySchema) Field(name string) (FieldDefinition, bool) {
	i, ok := es.index[name]
	if !ok {
		return FieldDefinition{}, false
	}
	return es.Fields[i], true
}

// FieldNames returns all field names in declaration order.
func (es *EntitySchema) FieldNames() []string {
	names := make([]string, len(es.Fields))
	for i, f := range es.Fields {
		names[i] = f.Name
	}
	return names
}

// UnknownTypeError reports a lookup of an entity type the registry does not
// hold. The set of types is closed at load time, so this is a programmer or
// configuration error rather than something an end user can fix.
type UnknownTypeError struct {
	Type types.EntityType
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("schema: unknown entity type %q", string(e.Type))
}

// Registry holds schema metadata for all entity types.
type Registry struct {
	entities map[types.EntityType]*EntitySchema
	order    []types.EntityType
}

// NewRegistry builds a registry from fully populated schemas. Later schemas
// with a duplicate type replace earlier ones but keep the original position.
func NewRegistry(schemas ...*EntitySchema) *Registry {
	r := &Registry{entities: make(map[types.EntityType]*EntitySchema, len(schemas))}
	for _, es := range schemas {
		es.index = make(map[string]int, len(es.Fields))
		for i, f := range es.Fields {
			es.index[f.Name] = i
		}
		if es.Nav.Type == "" {
			es.Nav.Type = es.Type
		}
		if _, dup := r.entities[es.Type]; !dup {
			r.order = append(r.order, es.Type)
		}
		r.entities[es.Type] = es
	}
	return r
}

// Lookup returns the schema for a type, reporting whether it exists.
func (r *Registry) Lookup(t types.EntityType) (*EntitySchema, bool) {
	es, ok := r.entities[t]
	return es, ok
}

// Schema returns the schema for a type. It panics with *UnknownTypeError when
// the type is not registered.
func (r *Registry) Schema(t types.EntityType) *EntitySchema {
	es, ok := r.entities[t]
	if !ok {
		panic(&UnknownTypeError{Type: t})
	}
	return es
}

// Fields returns the ordered field definitions of a type.
func (r *Registry) Fields(t types.EntityType) []FieldDefinition {
	return r.Schema(t).Fields
}

// Field returns one field definition of a type.
func (r *Registry) Field(t types.EntityType, name string) (FieldDefinition, bool) {
	return r.Schema(t).Field(name)
}

// Nav returns the navigation descriptor of a type.
func (r *Registry) Nav(t types.EntityType) NavDescriptor {
	return r.Schema(t).Nav
}

// Types returns all registered types in catalogue order.
func (r *Registry) Types() []types.EntityType {
	out := make([]types.EntityType, len(r.order))
	copy(out, r.order)
	return out
}

// NavDescriptors returns every descriptor in catalogue order.
func (r *Registry) NavDescriptors() []NavDescriptor {
	out := make([]NavDescriptor, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.entities[t].Nav)
	}
	return out
}
