// Package edit implements the generic edit controller: a draft of one entity
// instance, a minimal change-set computed against the original, and the
// create, update and delete round-trips through a Transport.
//
// A Controller is bound to one instance. Each submission captures the
// controller's generation; Discard bumps it, so a response that arrives after
// the draft was discarded is dropped instead of overwriting newer state.
package edit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/matthewbaird/entitykit/internal/event"
	"github.com/matthewbaird/entitykit/internal/policy"
	"github.com/matthewbaird/entitykit/internal/schema"
	"github.com/matthewbaird/entitykit/internal/types"
)

// SubjectFunc returns the acting subject for a request. Nil means anonymous.
type SubjectFunc func(ctx context.Context) *policy.Subject

// Option configures a Controller.
type Option func(*Controller)

// WithPolicy gates Submit and Remove through an evaluator. Without it the
// controller leaves authorisation to the backend.
func WithPolicy(eval *policy.Evaluator, subject SubjectFunc) Option {
	return func(c *Controller) {
		c.eval = eval
		c.subject = subject
	}
}

// WithConfirmer sets the confirmation step used by Remove. Without one,
// Remove always fails with ErrNotConfirmed.
func WithConfirmer(cf Confirmer) Option {
	return func(c *Controller) { c.confirm = cf }
}

// WithPublisher sends controller notifications to p.
func WithPublisher(p event.Publisher) Option {
	return func(c *Controller) { c.events = p }
}

// WithLogger sets the controller's logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// Controller holds the editing state of one entity instance. It is safe for
// concurrent use; at most one submission or removal is in flight at a time.
type Controller struct {
	schema    *schema.EntitySchema
	transport Transport
	eval      *policy.Evaluator
	subject   SubjectFunc
	confirm   Confirmer
	events    event.Publisher
	log       *slog.Logger

	mu           sync.Mutex
	original     *types.Instance
	draft        *types.Instance
	fieldErrors  map[string][]string
	generalError string
	submitting   bool
	removed      bool
	generation   uint64
}

// New creates a controller editing an existing instance. It panics with
// *schema.UnknownTypeError when the instance's type is not registered.
func New(reg *schema.Registry, tr Transport, original *types.Instance, opts ...Option) *Controller {
	c := &Controller{
		schema:      reg.Schema(original.Type),
		transport:   tr,
		events:      event.Discard,
		log:         slog.Default(),
		original:    cloneInstance(original),
		fieldErrors: map[string][]string{},
	}
	if c.original.Fields == nil {
		c.original.Fields = map[string]any{}
	}
	c.draft = cloneInstance(c.original)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewDraft creates a controller for an instance that does not exist yet. The
// draft starts with the schema's declared defaults, so a fresh draft already
// differs from its empty original when defaults exist.
func NewDraft(reg *schema.Registry, tr Transport, t types.EntityType, opts ...Option) *Controller {
	c := New(reg, tr, types.NewInstance(t, ""), opts...)
	for _, f := range c.schema.Fields {
		if f.Default != nil {
			c.draft.Fields[f.Name] = cloneValue(f.Default)
		}
	}
	return c
}

// Type returns the entity type being edited.
func (c *Controller) Type() types.EntityType { return c.schema.Type }

// Original returns a copy of the last persisted state.
func (c *Controller) Original() *types.Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneInstance(c.original)
}

// Draft returns a copy of the working state.
func (c *Controller) Draft() *types.Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneInstance(c.draft)
}

// Field returns a copy of one draft value.
func (c *Controller) Field(name string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneValue(c.draft.Get(name))
}

// FieldErrors returns the per-field errors from the last rejected request.
func (c *Controller) FieldErrors() map[string][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyFieldErrors()
}

// GeneralError returns the error not attributable to a single field, if any.
func (c *Controller) GeneralError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generalError
}

// Submitting reports whether a submission or removal is in flight.
func (c *Controller) Submitting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitting
}

// HasChanges reports whether the draft differs from the original.
func (c *Controller) HasChanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !instancesEqual(c.original, c.draft)
}

// SetField replaces one draft value and clears that field's errors.
func (c *Controller) SetField(name string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.schema.Field(name); !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, c.schema.Type, name)
	}
	c.draft.Fields[name] = cloneValue(value)
	delete(c.fieldErrors, name)
	c.publishField(name)
	return nil
}

// SetFieldAt replaces the element at index of a list-valued field. index
// equal to the current length appends; a nil value removes the element. The
// order of the other elements is preserved.
func (c *Controller) SetFieldAt(name string, value any, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.schema.Field(name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, c.schema.Type, name)
	}
	if !f.Many() {
		return fmt.Errorf("%w: %s.%s", ErrNotList, c.schema.Type, name)
	}
	next, err := spliceAt(c.draft.Get(name), cloneValue(value), index)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", c.schema.Type, name, err)
	}
	c.draft.Fields[name] = next
	delete(c.fieldErrors, name)
	c.publishField(name)
	return nil
}

// BuildChangeSet computes the serialised difference between the original and
// the draft.
func (c *Controller) BuildChangeSet() ChangeSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Diff(c.schema, c.original, c.draft)
}

// Discard reverts the draft to the original, clears errors and abandons any
// in-flight submission.
func (c *Controller) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.submitting = false
	c.draft = cloneInstance(c.original)
	c.fieldErrors = map[string][]string{}
	c.generalError = ""
	ch := event.New(event.Discarded, c.schema.Type, c.original.ID)
	ch.Generation = c.generation
	c.events.Publish(context.Background(), ch)
}

// Submit creates or updates the instance. When cs is nil the change-set is
// computed from the draft. On success the response becomes both the original
// and the draft, errors are cleared, and a copy of the persisted instance is
// returned.
func (c *Controller) Submit(ctx context.Context, cs *ChangeSet) (*types.Instance, error) {
	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return nil, ErrSubmitInFlight
	}
	if c.removed {
		c.mu.Unlock()
		return nil, ErrRemoved
	}

	var payload ChangeSet
	if cs != nil {
		payload = *cs
	} else {
		payload = Diff(c.schema, c.original, c.draft)
	}
	if payload.Empty() {
		c.mu.Unlock()
		return nil, ErrNoChanges
	}
	payload.Type = c.schema.Type

	// Ownership of an existing record is decided by what is stored, not by
	// the draft; only a new record is checked as drafted.
	verb, method, path, target := policy.VerbEdit, MethodUpdate, c.schema.Nav.ItemPath(c.original.ID), c.original
	if c.original.ID == "" {
		verb, method, path, target = policy.VerbAdd, MethodCreate, c.schema.Nav.Endpoint, c.draft
	}
	if err := c.authorize(ctx, verb, target); err != nil {
		c.generalError = err.Error()
		c.mu.Unlock()
		return nil, err
	}

	c.submitting = true
	gen := c.generation
	req := Request{Method: method, Path: path, Encoding: payload.Encoding(), ChangeSet: payload}
	c.mu.Unlock()

	c.log.DebugContext(ctx, "edit: submitting",
		"type", req.ChangeSet.Type, "method", req.Method, "path", req.Path,
		"encoding", req.Encoding.String(), "fields", payload.Names())
	resp, err := c.transport.Do(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return nil, ErrStale
	}
	c.submitting = false

	if err := c.applyFailure(ctx, resp, err); err != nil {
		return nil, err
	}

	saved := resp.Data
	if saved == nil {
		saved = cloneInstance(c.draft)
	}
	if saved.Type == "" {
		saved.Type = c.schema.Type
	}
	if saved.Fields == nil {
		saved.Fields = map[string]any{}
	}
	c.original = cloneInstance(saved)
	c.draft = cloneInstance(saved)
	c.fieldErrors = map[string][]string{}
	c.generalError = ""

	ch := event.New(event.Submitted, c.schema.Type, saved.ID)
	ch.Generation = gen
	ch.Summary = fmt.Sprintf("%s %d field(s)", verb, len(payload.Fields))
	c.events.Publish(ctx, ch)
	return cloneInstance(saved), nil
}

// Remove deletes the persisted instance after confirmation. A declined
// confirmation returns ErrNotConfirmed and leaves the instance untouched.
func (c *Controller) Remove(ctx context.Context) error {
	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return ErrSubmitInFlight
	}
	if c.removed {
		c.mu.Unlock()
		return ErrRemoved
	}
	if c.original.ID == "" {
		c.mu.Unlock()
		return ErrNotPersisted
	}
	if err := c.authorize(ctx, policy.VerbDelete, c.original); err != nil {
		c.generalError = err.Error()
		c.mu.Unlock()
		return err
	}
	c.submitting = true
	gen := c.generation
	id := c.original.ID
	title := schema.HeadingOf(id, c.original.Fields).Title
	c.mu.Unlock()

	if ok, err := c.confirmDelete(ctx, title); !ok {
		c.mu.Lock()
		if gen == c.generation {
			c.submitting = false
		}
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotConfirmed, err)
		}
		return ErrNotConfirmed
	}

	resp, err := c.transport.Do(ctx, Request{
		Method:    MethodDelete,
		Path:      c.schema.Nav.ItemPath(id),
		Encoding:  EncodingJSON,
		ChangeSet: ChangeSet{ID: id, Type: c.schema.Type},
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return ErrStale
	}
	c.submitting = false
	if err := c.applyFailure(ctx, resp, err); err != nil {
		return err
	}
	c.removed = true
	c.fieldErrors = map[string][]string{}
	c.generalError = ""
	ch := event.New(event.Removed, c.schema.Type, id)
	ch.Generation = gen
	c.events.Publish(ctx, ch)
	return nil
}

// Removed reports whether the instance has been deleted.
func (c *Controller) Removed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removed
}

func (c *Controller) confirmDelete(ctx context.Context, title string) (bool, error) {
	if c.confirm == nil {
		return false, nil
	}
	return c.confirm.Confirm(ctx, fmt.Sprintf("Delete %s %q?", c.schema.Type, title))
}

// authorize runs the policy check. Callers hold c.mu.
func (c *Controller) authorize(ctx context.Context, verb policy.Verb, inst *types.Instance) error {
	if c.eval == nil {
		return nil
	}
	var s *policy.Subject
	if c.subject != nil {
		s = c.subject(ctx)
	}
	return c.eval.CanDo(verb, inst, s)
}

// applyFailure records a failed round-trip in the controller state and
// returns the matching error, or nil when the response succeeded. Callers
// hold c.mu.
func (c *Controller) applyFailure(ctx context.Context, resp Response, err error) error {
	var out error
	switch {
	case err != nil:
		c.fieldErrors = map[string][]string{}
		c.generalError = err.Error()
		out = &TransportError{Err: err}
	case resp.Success:
		return nil
	case len(resp.Errors) > 0:
		c.fieldErrors = make(map[string][]string, len(resp.Errors))
		for k, v := range resp.Errors {
			c.fieldErrors[k] = append([]string(nil), v...)
		}
		c.generalError = resp.Error
		out = &ValidationError{Fields: c.copyFieldErrors(), Message: resp.Error}
	default:
		msg := resp.Error
		if msg == "" {
			msg = "request failed"
		}
		c.fieldErrors = map[string][]string{}
		c.generalError = msg
		out = &ServerError{Message: msg}
	}
	c.log.WarnContext(ctx, "edit: request failed", "type", c.schema.Type, "id", c.original.ID, "err", out)
	ch := event.New(event.SubmitFailed, c.schema.Type, c.original.ID)
	ch.Summary = out.Error()
	c.events.Publish(ctx, ch)
	return out
}

// copyFieldErrors copies the field errors. Callers hold c.mu.
func (c *Controller) copyFieldErrors() map[string][]string {
	out := make(map[string][]string, len(c.fieldErrors))
	for k, v := range c.fieldErrors {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func (c *Controller) publishField(name string) {
	ch := event.New(event.FieldChanged, c.schema.Type, c.original.ID)
	ch.Field = name
	c.events.Publish(context.Background(), ch)
}
