// Package catalog holds the declarative entity catalogue and compiles it with
// CUE. The same compiled value feeds the schema registry and the policy table.
package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// DefaultName is the filename reported in errors for the embedded catalogue.
const DefaultName = "catalog.cue"

//go:embed catalog.cue
var defaultSource []byte

// Default returns the embedded catalogue source.
func Default() []byte {
	out := make([]byte, len(defaultSource))
	copy(out, defaultSource)
	return out
}

// Compile compiles a catalogue document and checks that it is concrete.
func Compile(filename string, src []byte) (cue.Value, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compiling %s: %w", filename, err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, fmt.Errorf("validating %s: %w", filename, err)
	}
	return v, nil
}

// Load compiles the catalogue at path, or the embedded default when path is
// empty.
func Load(path string) (cue.Value, error) {
	if path == "" {
		return Compile(DefaultName, defaultSource)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, fmt.Errorf("reading catalogue: %w", err)
	}
	return Compile(path, src)
}
