package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/matthewbaird/entitykit/internal/policy"
	"github.com/matthewbaird/entitykit/internal/schema"
	"github.com/matthewbaird/entitykit/internal/types"
)

// MetaHandler exposes registry metadata: navigation, field schemas and route
// resolution.
type MetaHandler struct {
	reg *schema.Registry
}

// NewMetaHandler creates a new MetaHandler.
func NewMetaHandler(reg *schema.Registry) *MetaHandler {
	return &MetaHandler{reg: reg}
}

type fieldView struct {
	Name        string           `json:"name"`
	Label       string           `json:"label,omitempty"`
	LabelPlural string           `json:"label_plural,omitempty"`
	Kind        string           `json:"kind"`
	Cardinality string           `json:"cardinality"`
	Target      types.EntityType `json:"target,omitempty"`
	Required    bool             `json:"required"`
	Default     any              `json:"default,omitempty"`
	Options     []schema.Option  `json:"options,omitempty"`
}

type schemaView struct {
	Type       types.EntityType     `json:"type"`
	Fields     []fieldView          `json:"fields"`
	Nav        schema.NavDescriptor `json:"nav"`
	OwnerField string               `json:"owner_field,omitempty"`
}

type resolveView struct {
	Type     types.EntityType `json:"type"`
	ID       string           `json:"id,omitempty"`
	Rest     []string         `json:"rest,omitempty"`
	Endpoint string           `json:"endpoint"`
	Detail   string           `json:"detail,omitempty"`
}

// Nav lists the navigation descriptors visible to the caller.
func (h *MetaHandler) Nav(w http.ResponseWriter, r *http.Request) {
	nav := policy.VisibleNav(h.reg, subjectFromRequest(r))
	if nav == nil {
		nav = []schema.NavDescriptor{}
	}
	writeJSON(w, http.StatusOK, nav)
}

// Schema describes one entity type.
func (h *MetaHandler) Schema(w http.ResponseWriter, r *http.Request) {
	t := types.EntityType(chi.URLParam(r, "type"))
	es, ok := h.reg.Lookup(t)
	if !ok {
		errorToHTTP(w, &schema.UnknownTypeError{Type: t})
		return
	}
	view := schemaView{Type: es.Type, Nav: es.Nav, OwnerField: es.OwnerField}
	for _, f := range es.Fields {
		view.Fields = append(view.Fields, fieldView{
			Name:        f.Name,
			Label:       f.Label,
			LabelPlural: f.LabelPlural,
			Kind:        f.Kind.String(),
			Cardinality: f.Cardinality.String(),
			Target:      f.Target,
			Required:    f.Required,
			Default:     f.Default,
			Options:     f.Options,
		})
	}
	writeJSON(w, http.StatusOK, view)
}

// Resolve maps a screen path or API endpoint back to its entity type.
func (h *MetaHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PATH", "path query parameter is required")
		return
	}
	m, ok := h.reg.ResolveByRoute(path)
	if !ok {
		writeError(w, http.StatusNotFound, "UNKNOWN_ROUTE", "no entity type serves "+path)
		return
	}
	view := resolveView{Type: m.Nav.Type, ID: m.ID, Rest: m.Rest, Endpoint: m.Nav.Endpoint}
	if m.ID != "" {
		view.Detail = m.Nav.DetailPath(m.ID)
	}
	writeJSON(w, http.StatusOK, view)
}
