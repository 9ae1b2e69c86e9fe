package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/matthewbaird/entitykit/internal/edit"
	"github.com/matthewbaird/entitykit/internal/schema"
	"github.com/matthewbaird/entitykit/internal/types"
)

var _ edit.Transport = (*Store)(nil)

// Do serves an edit controller's request in-process. The path is resolved
// through the registry the same way the HTTP API resolves it. Rejections
// (validation, unknown records) come back as unsuccessful responses; only
// database failures are returned as errors.
func (s *Store) Do(ctx context.Context, req edit.Request) (edit.Response, error) {
	m, ok := s.reg.ResolveByRoute(req.Path)
	if !ok {
		return edit.Response{Error: fmt.Sprintf("no entity type serves %s", req.Path)}, nil
	}
	t := m.Nav.Type
	if req.ChangeSet.Type != "" && req.ChangeSet.Type != t {
		return edit.Response{Error: fmt.Sprintf("%s does not serve %s", req.Path, req.ChangeSet.Type)}, nil
	}

	var (
		inst *types.Instance
		err  error
	)
	switch req.Method {
	case edit.MethodCreate:
		if m.ID != "" {
			return edit.Response{Error: "create must target the list endpoint"}, nil
		}
		inst, err = s.Create(ctx, t, req.ChangeSet.Fields)
	case edit.MethodUpdate:
		if m.ID == "" {
			return edit.Response{Error: "update needs a record id"}, nil
		}
		inst, err = s.Update(ctx, t, m.ID, req.ChangeSet.Fields)
	case edit.MethodDelete:
		if m.ID == "" {
			return edit.Response{Error: "delete needs a record id"}, nil
		}
		err = s.Delete(ctx, t, m.ID)
	default:
		return edit.Response{Error: fmt.Sprintf("method %s not supported", req.Method)}, nil
	}
	return response(inst, err)
}

func response(inst *types.Instance, err error) (edit.Response, error) {
	var (
		verr    *edit.ValidationError
		unknown *schema.UnknownTypeError
	)
	switch {
	case err == nil:
		return edit.Response{Success: true, Data: inst}, nil
	case errors.As(err, &verr):
		return edit.Response{Error: verr.Message, Errors: verr.Fields}, nil
	case errors.Is(err, ErrNotFound), errors.As(err, &unknown):
		return edit.Response{Error: err.Error()}, nil
	default:
		return edit.Response{}, err
	}
}
