// Package policy decides who may act on which entity instances.
//
// A Table holds the policy rows for every (entity type, verb) pair plus a
// process-wide default used when no row applies. The Evaluator is a pure
// function over a Table: it never caches subjects and has no suspension
// points, so one Evaluator can serve every request in the process.
package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/matthewbaird/entitykit/internal/types"
)

// Verb is an action attempted on an entity.
type Verb string

const (
	VerbView   Verb = "view"
	VerbAdd    Verb = "add"
	VerbEdit   Verb = "edit"
	VerbDelete Verb = "delete"
)

// IsWrite reports whether the verb mutates data.
func (v Verb) IsWrite() bool { return v != VerbView }

// ParseVerb validates a verb spelling.
func ParseVerb(s string) (Verb, error) {
	switch v := Verb(strings.ToLower(strings.TrimSpace(s))); v {
	case VerbView, VerbAdd, VerbEdit, VerbDelete:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown verb %q", ErrInvalidPolicy, s)
}

// Ownership qualifies which rule applies, based on the caller's relationship
// to the instance.
type Ownership string

const (
	OwnershipOwn    Ownership = "own"
	OwnershipOthers Ownership = "others"
)

// Synthetic roles added to every effective role set.
const (
	RoleAnonymous     = "anonymous"
	RoleAuthenticated = "authenticated"
)

// Default is the process-wide fallback policy.
type Default string

const (
	AllowAll                Default = "allow_all"
	RequireAuthenticated    Default = "authenticated"
	AuthenticatedOrReadOnly Default = "authenticated_or_read_only"
)

// ParseDefault validates a default policy spelling.
func ParseDefault(s string) (Default, error) {
	switch d := Default(strings.ToLower(strings.TrimSpace(s))); d {
	case AllowAll, RequireAuthenticated, AuthenticatedOrReadOnly:
		return d, nil
	}
	return "", fmt.Errorf("%w: unknown default policy %q", ErrInvalidPolicy, s)
}

// Rule is one policy row.
type Rule struct {
	Verb      Verb             `json:"verb"`
	Type      types.EntityType `json:"type"`
	Ownership Ownership        `json:"ownership"`
	Roles     []string         `json:"roles"`
}

// Subject is the acting user. It is supplied by the caller on every
// evaluation and never retained.
type Subject struct {
	ID            string
	Roles         []string
	Authenticated bool
}

// Anonymous reports whether the subject counts as no subject at all.
func (s *Subject) Anonymous() bool {
	return s == nil || !s.Authenticated
}

var (
	// ErrDenied matches every *Denial via errors.Is.
	ErrDenied = errors.New("policy: denied")
	// ErrInvalidPolicy reports malformed policy input.
	ErrInvalidPolicy = errors.New("policy: invalid policy")
)

// Denial is a refused permission. Reason is rendered to end users, so its
// wording is part of the contract.
type Denial struct {
	Verb     Verb
	Type     types.EntityType
	Required []string // roles that would have been accepted; empty when none can
	Default  Default  // set when the default policy decided
	Reason   string
}

func (d *Denial) Error() string { return d.Reason }

// Is lets errors.Is(err, ErrDenied) match.
func (d *Denial) Is(target error) bool { return target == ErrDenied }

type ruleKey struct {
	typ  types.EntityType
	verb Verb
}

// Table is an immutable set of policy rows and the default policy.
type Table struct {
	def   Default
	rules map[ruleKey][]Rule
}

// NewTable builds a table. Rows keep their order; when two rows share a
// (type, verb, ownership) triple the first wins.
func NewTable(def Default, rules ...Rule) *Table {
	t := &Table{def: def, rules: make(map[ruleKey][]Rule)}
	for _, r := range rules {
		k := ruleKey{typ: r.Type, verb: r.Verb}
		roles := make([]string, len(r.Roles))
		copy(roles, r.Roles)
		r.Roles = roles
		t.rules[k] = append(t.rules[k], r)
	}
	return t
}

// Default returns the table's fallback policy.
func (t *Table) Default() Default { return t.def }

// WithDefault returns a copy of the table using a different fallback policy.
func (t *Table) WithDefault(def Default) *Table {
	return &Table{def: def, rules: t.rules}
}

// Rules returns the rows registered for a (type, verb) pair.
func (t *Table) Rules(typ types.EntityType, verb Verb) []Rule {
	return t.rules[ruleKey{typ: typ, verb: verb}]
}

// Len returns the number of rows in the table.
func (t *Table) Len() int {
	n := 0
	for _, rs := range t.rules {
		n += len(rs)
	}
	return n
}
