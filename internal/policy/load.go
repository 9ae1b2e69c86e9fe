package policy

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/matthewbaird/entitykit/internal/catalog"
)

// LoadFile builds a table from the catalogue at path, or from the embedded
// default catalogue when path is empty.
func LoadFile(path string) (*Table, error) {
	v, err := catalog.Load(path)
	if err != nil {
		return nil, err
	}
	return FromValue(v)
}

// LoadBytes compiles a catalogue document and builds a table from it.
func LoadBytes(filename string, src []byte) (*Table, error) {
	v, err := catalog.Compile(filename, src)
	if err != nil {
		return nil, err
	}
	return FromValue(v)
}

// FromValue reads default_policy and policies from a compiled catalogue.
// A catalogue without default_policy uses AuthenticatedOrReadOnly.
func FromValue(v cue.Value) (*Table, error) {
	def := AuthenticatedOrReadOnly
	if dv := v.LookupPath(cue.ParsePath("default_policy")); dv.Exists() {
		s, err := dv.String()
		if err != nil {
			return nil, fmt.Errorf("%w: default_policy: %v", ErrInvalidPolicy, err)
		}
		if def, err = ParseDefault(s); err != nil {
			return nil, err
		}
	}

	var rules []Rule
	if pv := v.LookupPath(cue.ParsePath("policies")); pv.Exists() {
		if err := pv.Decode(&rules); err != nil {
			return nil, fmt.Errorf("%w: decoding policies: %v", ErrInvalidPolicy, err)
		}
	}
	for i, r := range rules {
		if _, err := ParseVerb(string(r.Verb)); err != nil {
			return nil, fmt.Errorf("policies[%d]: %w", i, err)
		}
		if r.Ownership != OwnershipOwn && r.Ownership != OwnershipOthers {
			return nil, fmt.Errorf("%w: policies[%d]: unknown ownership %q", ErrInvalidPolicy, i, string(r.Ownership))
		}
		if r.Type == "" {
			return nil, fmt.Errorf("%w: policies[%d]: missing type", ErrInvalidPolicy, i)
		}
	}
	return NewTable(def, rules...), nil
}
