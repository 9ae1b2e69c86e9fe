package handler

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/matthewbaird/entitykit/internal/activity"
	"github.com/matthewbaird/entitykit/internal/event"
	"github.com/matthewbaird/entitykit/internal/policy"
	"github.com/matthewbaird/entitykit/internal/render"
	"github.com/matthewbaird/entitykit/internal/schema"
	"github.com/matthewbaird/entitykit/internal/store"
	"github.com/matthewbaird/entitykit/internal/types"
)

// maxUploadMemory bounds the part of a multipart body kept in memory.
const maxUploadMemory = 32 << 20

// EntityHandler serves the generic CRUD routes of every registered type. The
// entity type and id come from resolving the request path against the
// registry's navigation descriptors, so adding a type to the catalogue is
// enough to expose it.
type EntityHandler struct {
	reg      *schema.Registry
	store    *store.Store
	eval     *policy.Evaluator
	renderer *render.Renderer
	activity activity.Store
}

// NewEntityHandler creates a new EntityHandler. feed may be nil, in which
// case the activity route is not served.
func NewEntityHandler(st *store.Store, eval *policy.Evaluator, renderer *render.Renderer, feed activity.Store) *EntityHandler {
	return &EntityHandler{reg: st.Registry(), store: st, eval: eval, renderer: renderer, activity: feed}
}

// ListResponse is one page of a list endpoint.
type ListResponse struct {
	Items    []*types.Instance `json:"items"`
	Total    int               `json:"total"`
	PageSize int               `json:"page_size"`
	Offset   int               `json:"offset"`
}

// DisplayResponse carries renderer output.
type DisplayResponse struct {
	Type  types.EntityType `json:"type"`
	ID    string           `json:"id"`
	Items []render.Item    `json:"items"`
}

// ActivityResponse is one page of an entity's activity stream.
type ActivityResponse struct {
	Items      []activity.Entry `json:"items"`
	Total      int              `json:"total"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

func (h *EntityHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m, ok := h.reg.ResolveByRoute(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "UNKNOWN_ROUTE", "no entity type serves "+r.URL.Path)
		return
	}
	t := m.Nav.Type

	switch {
	case m.ID == "":
		switch r.Method {
		case http.MethodGet:
			h.list(w, r, t)
		case http.MethodPost:
			h.create(w, r, t)
		default:
			methodNotAllowed(w, "GET, POST")
		}
	case len(m.Rest) == 0:
		switch r.Method {
		case http.MethodGet:
			h.get(w, r, t, m.ID)
		case http.MethodPatch:
			h.update(w, r, t, m.ID)
		case http.MethodDelete:
			h.delete(w, r, t, m.ID)
		default:
			methodNotAllowed(w, "GET, PATCH, DELETE")
		}
	case len(m.Rest) == 1 && m.Rest[0] == "display":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, "GET")
			return
		}
		h.display(w, r, t, m.ID)
	case len(m.Rest) == 1 && m.Rest[0] == "activity" && h.activity != nil:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, "GET")
			return
		}
		h.listActivity(w, r, t, m.ID)
	default:
		writeError(w, http.StatusNotFound, "UNKNOWN_ROUTE", "no entity type serves "+r.URL.Path)
	}
}

func (h *EntityHandler) list(w http.ResponseWriter, r *http.Request, t types.EntityType) {
	subject := subjectFromRequest(r)
	page := parsePagination(r)
	items, total, err := h.store.List(r.Context(), t, store.ListOptions{
		Limit:  page.Limit,
		Offset: page.Offset,
		Query:  r.URL.Query().Get("q"),
	})
	if err != nil {
		errorToHTTP(w, err)
		return
	}

	// Ownership differs per record, so view is checked item by item.
	visible := make([]*types.Instance, 0, len(items))
	var denied error
	for _, inst := range items {
		if err := h.eval.CanDo(policy.VerbView, inst, subject); err != nil {
			denied = err
			continue
		}
		visible = append(visible, inst)
	}
	if len(visible) == 0 && denied != nil {
		errorToHTTP(w, denied)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Items: visible, Total: total, PageSize: page.Limit, Offset: page.Offset})
}

func (h *EntityHandler) get(w http.ResponseWriter, r *http.Request, t types.EntityType, id string) {
	inst, ok := h.load(w, r, policy.VerbView, t, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (h *EntityHandler) create(w http.ResponseWriter, r *http.Request, t types.EntityType) {
	values, err := readValues(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	draft := &types.Instance{Type: t, Fields: values}
	if err := h.eval.CanDo(policy.VerbAdd, draft, subjectFromRequest(r)); err != nil {
		errorToHTTP(w, err)
		return
	}
	inst, err := h.store.Create(r.Context(), t, values)
	if err != nil {
		errorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (h *EntityHandler) update(w http.ResponseWriter, r *http.Request, t types.EntityType, id string) {
	values, err := readValues(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if _, ok := h.load(w, r, policy.VerbEdit, t, id); !ok {
		return
	}
	inst, err := h.store.Update(r.Context(), t, id, values)
	if err != nil {
		errorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (h *EntityHandler) delete(w http.ResponseWriter, r *http.Request, t types.EntityType, id string) {
	if _, ok := h.load(w, r, policy.VerbDelete, t, id); !ok {
		return
	}
	if err := h.store.Delete(r.Context(), t, id); err != nil {
		errorToHTTP(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EntityHandler) display(w http.ResponseWriter, r *http.Request, t types.EntityType, id string) {
	inst, err := h.store.Get(r.Context(), t, id)
	if err != nil {
		errorToHTTP(w, err)
		return
	}
	items, err := h.renderer.Render(inst, subjectFromRequest(r))
	if err != nil {
		errorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DisplayResponse{Type: t, ID: id, Items: items})
}

// listActivity serves the change history of one record. Viewing the
// history requires view permission on the record itself.
func (h *EntityHandler) listActivity(w http.ResponseWriter, r *http.Request, t types.EntityType, id string) {
	if _, ok := h.load(w, r, policy.VerbView, t, id); !ok {
		return
	}

	opts := activity.DefaultQueryOptions()
	q := r.URL.Query()
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "since must be an RFC 3339 timestamp")
			return
		}
		opts.Since = &ts
	}
	if v := q.Get("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "until must be an RFC 3339 timestamp")
			return
		}
		opts.Until = &ts
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	for _, k := range q["kind"] {
		opts.Kinds = append(opts.Kinds, event.Kind(k))
	}
	opts.Cursor = q.Get("cursor")

	entries, next, total, err := h.activity.QueryByEntity(r.Context(), t, id, opts)
	if err != nil {
		errorToHTTP(w, err)
		return
	}
	if entries == nil {
		entries = []activity.Entry{}
	}
	writeJSON(w, http.StatusOK, ActivityResponse{Items: entries, Total: total, NextCursor: next})
}

// load fetches a record and checks verb against it, writing the error
// response itself when either fails.
func (h *EntityHandler) load(w http.ResponseWriter, r *http.Request, verb policy.Verb, t types.EntityType, id string) (*types.Instance, bool) {
	inst, err := h.store.Get(r.Context(), t, id)
	if err != nil {
		errorToHTTP(w, err)
		return nil, false
	}
	if err := h.eval.CanDo(verb, inst, subjectFromRequest(r)); err != nil {
		errorToHTTP(w, err)
		return nil, false
	}
	return inst, true
}

// readValues decodes a JSON object or a multipart form into field values.
// File parts become types.Upload values.
func readValues(r *http.Request) (map[string]any, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = "application/json"
	}
	if mediaType != "multipart/form-data" {
		values := map[string]any{}
		if err := decodeJSON(r, &values); err != nil {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		return values, nil
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return nil, fmt.Errorf("invalid multipart body: %w", err)
	}
	values := make(map[string]any, len(r.MultipartForm.Value)+len(r.MultipartForm.File))
	for name, vals := range r.MultipartForm.Value {
		if len(vals) == 1 {
			values[name] = vals[0]
			continue
		}
		values[name] = vals
	}
	for name, files := range r.MultipartForm.File {
		uploads := make([]any, 0, len(files))
		for _, fh := range files {
			up, err := readUpload(fh)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", name, err)
			}
			uploads = append(uploads, up)
		}
		if len(uploads) == 1 {
			values[name] = uploads[0]
			continue
		}
		values[name] = uploads
	}
	return values, nil
}

func readUpload(fh *multipart.FileHeader) (types.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return types.Upload{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return types.Upload{}, err
	}
	if fh.Filename == "" {
		return types.Upload{}, errors.New("file part has no name")
	}
	return types.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}
