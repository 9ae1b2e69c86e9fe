package schema

import (
	"errors"
	"fmt"

	"cuelang.org/go/cue"

	"github.com/matthewbaird/entitykit/internal/catalog"
	"github.com/matthewbaird/entitykit/internal/types"
)

// fieldDoc mirrors #Field in the catalogue. Kind and cardinality arrive as
// strings and are converted after decoding.
type fieldDoc struct {
	Kind        string   `json:"kind"`
	Label       string   `json:"label"`
	LabelPlural string   `json:"label_plural"`
	Cardinality string   `json:"cardinality"`
	Target      string   `json:"target"`
	Required    bool     `json:"required"`
	Default     any      `json:"default"`
	Options     []Option `json:"options"`
}

// LoadBytes compiles a catalogue document and builds a registry from it.
func LoadBytes(filename string, src []byte) (*Registry, error) {
	v, err := catalog.Compile(filename, src)
	if err != nil {
		return nil, err
	}
	return FromValue(v)
}

// LoadFile reads and compiles a catalogue file. An empty path loads the
// embedded default catalogue.
func LoadFile(path string) (*Registry, error) {
	v, err := catalog.Load(path)
	if err != nil {
		return nil, err
	}
	return FromValue(v)
}

// FromValue builds a registry from a compiled catalogue. Entities and their
// fields keep declaration order, which the renderer relies on.
func FromValue(v cue.Value) (*Registry, error) {
	ents := v.LookupPath(cue.ParsePath("entities"))
	if !ents.Exists() {
		return nil, errors.New("schema: catalogue has no entities")
	}

	owners := map[string]string{}
	if ov := v.LookupPath(cue.ParsePath("owner_fields")); ov.Exists() {
		if err := ov.Decode(&owners); err != nil {
			return nil, fmt.Errorf("schema: decoding owner_fields: %w", err)
		}
	}

	navs := map[types.EntityType]NavDescriptor{}
	if nv := v.LookupPath(cue.ParsePath("nav")); nv.Exists() {
		var list []NavDescriptor
		if err := nv.Decode(&list); err != nil {
			return nil, fmt.Errorf("schema: decoding nav: %w", err)
		}
		for _, n := range list {
			navs[n.Type] = n
		}
	}

	it, err := ents.Fields()
	if err != nil {
		return nil, fmt.Errorf("schema: iterating entities: %w", err)
	}
	var schemas []*EntitySchema
	for it.Next() {
		t := types.EntityType(it.Selector().Unquoted())
		es := &EntitySchema{
			Type:       t,
			Nav:        navs[t],
			OwnerField: owners[string(t)],
		}
		delete(navs, t)

		fit, err := it.Value().Fields()
		if err != nil {
			return nil, fmt.Errorf("schema: iterating fields of %s: %w", t, err)
		}
		for fit.Next() {
			name := fit.Selector().Unquoted()
			var doc fieldDoc
			if err := fit.Value().Decode(&doc); err != nil {
				return nil, fmt.Errorf("schema: decoding %s.%s: %w", t, name, err)
			}
			fd, err := doc.definition(name)
			if err != nil {
				return nil, fmt.Errorf("schema: %s.%s: %w", t, name, err)
			}
			es.Fields = append(es.Fields, fd)
		}
		schemas = append(schemas, es)
	}

	for t := range navs {
		return nil, fmt.Errorf("schema: nav descriptor for unknown entity type %q", string(t))
	}
	return NewRegistry(schemas...), nil
}

func (d fieldDoc) definition(name string) (FieldDefinition, error) {
	kind, err := ParseKind(d.Kind)
	if err != nil {
		return FieldDefinition{}, err
	}
	card := One
	switch d.Cardinality {
	case "", "one":
	case "many":
		card = Many
	default:
		return FieldDefinition{}, fmt.Errorf("unknown cardinality %q", d.Cardinality)
	}
	opts := make([]Option, len(d.Options))
	for i, o := range d.Options {
		if o.Label == "" {
			o.Label = o.Value
		}
		opts[i] = o
	}
	return FieldDefinition{
		Name:        name,
		Label:       d.Label,
		LabelPlural: d.LabelPlural,
		Kind:        kind,
		Cardinality: card,
		Target:      types.EntityType(d.Target),
		Required:    d.Required,
		Default:     d.Default,
		Options:     opts,
	}, nil
}

// Validate checks the catalogue invariants: relation fields name a
// registered target with navigation metadata, enumerated fields carry
// options, and field names are unique within a type.
func (r *Registry) Validate() error {
	var errs []error
	for _, t := range r.order {
		es := r.entities[t]
		if len(es.index) != len(es.Fields) {
			errs = append(errs, fmt.Errorf("%s: duplicate field names", t))
		}
		for _, f := range es.Fields {
			switch {
			case f.Kind == KindRelation && f.Target == "":
				errs = append(errs, fmt.Errorf("%s.%s: relation without target", t, f.Name))
			case f.Kind == KindRelation:
				target, ok := r.entities[f.Target]
				if !ok {
					errs = append(errs, fmt.Errorf("%s.%s: unknown relation target %q", t, f.Name, string(f.Target)))
				} else if target.Nav.Endpoint == "" && target.Nav.DetailRoute == "" {
					errs = append(errs, fmt.Errorf("%s.%s: relation target %q has no nav descriptor", t, f.Name, string(f.Target)))
				}
			case f.Target != "":
				errs = append(errs, fmt.Errorf("%s.%s: target set on %s field", t, f.Name, f.Kind))
			}
			if f.Kind.HasOptions() && len(f.Options) == 0 {
				errs = append(errs, fmt.Errorf("%s.%s: %s field without options", t, f.Name, f.Kind))
			}
		}
		if es.OwnerField != "" && es.OwnerField != "id" {
			if _, ok := es.index[es.OwnerField]; !ok {
				errs = append(errs, fmt.Errorf("%s: owner field %q is not declared", t, es.OwnerField))
			}
		}
	}
	return errors.Join(errs...)
}
