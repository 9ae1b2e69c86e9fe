package policy

import (
	"fmt"
	"strings"

	"github.com/matthewbaird/entitykit/internal/schema"
	"github.com/matthewbaird/entitykit/internal/types"
)

// usersType is the entity type whose instances are owned by themselves.
const usersType types.EntityType = "Users"

// authorField is the relation that marks ownership on every other type.
const authorField = "author"

// OwnerFunc reports whether subject owns instance. It is never called for
// VerbAdd and never with a nil subject.
type OwnerFunc func(inst *types.Instance, s *Subject) bool

// DefaultOwner implements the built-in ownership rule: a Users instance is
// owned by the user with the same id; any other instance is owned by the user
// its author relation points at. No author relation means no owner.
func DefaultOwner(inst *types.Instance, s *Subject) bool {
	if s.ID == "" {
		return false
	}
	if inst.Type == usersType {
		return inst.ID == s.ID
	}
	ref, ok := types.RefOf(inst.Get(authorField))
	return ok && ref.ID == s.ID
}

// RegistryOwner resolves ownership through the owner field a schema
// declares. "id" means self-ownership. Types without a declared owner field
// use DefaultOwner.
func RegistryOwner(reg *schema.Registry) OwnerFunc {
	return func(inst *types.Instance, s *Subject) bool {
		es, ok := reg.Lookup(inst.Type)
		if !ok || es.OwnerField == "" || s.ID == "" {
			return DefaultOwner(inst, s)
		}
		if es.OwnerField == "id" {
			return inst.ID == s.ID
		}
		ref, ok := types.RefOf(inst.Get(es.OwnerField))
		return ok && ref.ID == s.ID
	}
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithOwnership replaces the ownership rule.
func WithOwnership(fn OwnerFunc) Option {
	return func(e *Evaluator) { e.owner = fn }
}

// WithRegistry resolves ownership from schema-declared owner fields.
func WithRegistry(reg *schema.Registry) Option {
	return func(e *Evaluator) { e.owner = RegistryOwner(reg) }
}

// Evaluator answers permission questions against one Table.
type Evaluator struct {
	table *Table
	owner OwnerFunc
}

// NewEvaluator creates an evaluator for table.
func NewEvaluator(table *Table, opts ...Option) *Evaluator {
	e := &Evaluator{table: table, owner: DefaultOwner}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Table returns the table the evaluator reads.
func (e *Evaluator) Table() *Table { return e.table }

// Can reports whether CanDo allows the action.
func (e *Evaluator) Can(verb Verb, inst *types.Instance, s *Subject) bool {
	return e.CanDo(verb, inst, s) == nil
}

// CanDo decides whether subject may perform verb on inst. It returns nil when
// allowed and a *Denial otherwise. A nil subject is anonymous.
func (e *Evaluator) CanDo(verb Verb, inst *types.Instance, s *Subject) error {
	if s != nil && !s.Authenticated {
		s = nil
	}

	rules := e.table.Rules(inst.Type, verb)
	if len(rules) == 0 {
		return e.applyDefault(verb, inst.Type, s)
	}

	owner := verb == VerbAdd || (s != nil && e.owner(inst, s))
	want := OwnershipOthers
	if owner {
		want = OwnershipOwn
	}

	rule, ok := pick(rules, want)
	if !ok {
		return e.applyDefault(verb, inst.Type, s)
	}

	if len(rule.Roles) == 0 {
		return &Denial{
			Verb:   verb,
			Type:   inst.Type,
			Reason: fmt.Sprintf("no role is permitted to %s %s", verb, describe(inst.Type, want, verb)),
		}
	}

	effective := effectiveRoles(s)
	for _, r := range rule.Roles {
		if _, ok := effective[r]; ok {
			return nil
		}
	}
	return &Denial{
		Verb:     verb,
		Type:     inst.Type,
		Required: rule.Roles,
		Reason: fmt.Sprintf("you need the %s to %s %s",
			roleList(rule.Roles), verb, describe(inst.Type, want, verb)),
	}
}

// applyDefault evaluates the table's default policy. It is reached at most
// once per CanDo call.
func (e *Evaluator) applyDefault(verb Verb, t types.EntityType, s *Subject) error {
	def := e.table.def
	switch def {
	case AllowAll:
		return nil
	case RequireAuthenticated:
		if s != nil {
			return nil
		}
	case AuthenticatedOrReadOnly:
		if s != nil || !verb.IsWrite() {
			return nil
		}
	default:
		return &Denial{
			Verb:    verb,
			Type:    t,
			Default: def,
			Reason:  fmt.Sprintf("cannot %s %s: default policy %q is not recognised", verb, t, string(def)),
		}
	}
	return &Denial{
		Verb:     verb,
		Type:     t,
		Required: []string{RoleAuthenticated},
		Default:  def,
		Reason:   fmt.Sprintf("you must be signed in to %s %s (default policy %q)", verb, t, string(def)),
	}
}

// VisibleNav returns the navigation descriptors a subject may see. A
// descriptor without roles is visible to everyone.
func VisibleNav(reg *schema.Registry, s *Subject) []schema.NavDescriptor {
	if s != nil && !s.Authenticated {
		s = nil
	}
	effective := effectiveRoles(s)
	var out []schema.NavDescriptor
	for _, nav := range reg.NavDescriptors() {
		if len(nav.Roles) == 0 {
			out = append(out, nav)
			continue
		}
		for _, r := range nav.Roles {
			if _, ok := effective[r]; ok {
				out = append(out, nav)
				break
			}
		}
	}
	return out
}

// effectiveRoles returns explicit roles plus the synthetic anonymous or
// authenticated marker. s must already be nil for unauthenticated callers.
func effectiveRoles(s *Subject) map[string]struct{} {
	if s == nil {
		return map[string]struct{}{RoleAnonymous: {}}
	}
	set := make(map[string]struct{}, len(s.Roles)+1)
	for _, r := range s.Roles {
		set[r] = struct{}{}
	}
	set[RoleAuthenticated] = struct{}{}
	return set
}

func pick(rules []Rule, want Ownership) (Rule, bool) {
	for _, r := range rules {
		if r.Ownership == want {
			return r, true
		}
	}
	return Rule{}, false
}

func describe(t types.EntityType, o Ownership, verb Verb) string {
	switch {
	case verb == VerbAdd:
		return string(t)
	case o == OwnershipOwn:
		return "your own " + string(t)
	default:
		return string(t) + " owned by someone else"
	}
}

func roleList(roles []string) string {
	quoted := make([]string, len(roles))
	for i, r := range roles {
		quoted[i] = fmt.Sprintf("%q", r)
	}
	if len(quoted) == 1 {
		return "role " + quoted[0]
	}
	return "role " + strings.Join(quoted[:len(quoted)-1], ", ") + " or " + quoted[len(quoted)-1]
}
