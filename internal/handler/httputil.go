package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/matthewbaird/entitykit/internal/edit"
	"github.com/matthewbaird/entitykit/internal/policy"
	"github.com/matthewbaird/entitykit/internal/schema"
	"github.com/matthewbaird/entitykit/internal/store"
)

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON encode error", "error", err)
	}
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, edit.Response{Error: message, Code: code})
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	return dec.Decode(v)
}

// Pagination holds parsed pagination parameters.
type Pagination struct {
	Limit  int
	Offset int
}

// parsePagination extracts page_size and offset from query params.
func parsePagination(r *http.Request) Pagination {
	p := Pagination{Limit: 20, Offset: 0}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Limit = n
		}
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			p.Offset = n
		}
	}
	return p
}

// subjectFromRequest builds the acting subject from the X-Subject-ID and
// X-Subject-Roles headers. A request without an id is anonymous.
func subjectFromRequest(r *http.Request) *policy.Subject {
	id := strings.TrimSpace(r.Header.Get("X-Subject-ID"))
	if id == "" {
		return nil
	}
	s := &policy.Subject{ID: id, Authenticated: true}
	for _, role := range strings.Split(r.Header.Get("X-Subject-Roles"), ",") {
		if role = strings.TrimSpace(role); role != "" {
			s.Roles = append(s.Roles, role)
		}
	}
	return s
}

// errorToHTTP maps engine errors to HTTP responses.
func errorToHTTP(w http.ResponseWriter, err error) {
	var (
		denial  *policy.Denial
		verr    *edit.ValidationError
		unknown *schema.UnknownTypeError
	)
	switch {
	case errors.As(err, &denial):
		writeError(w, http.StatusForbidden, "FORBIDDEN", denial.Reason)
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, edit.Response{
			Error:  verr.Message,
			Code:   "VALIDATION_ERROR",
			Errors: verr.Fields,
		})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.As(err, &unknown):
		writeError(w, http.StatusNotFound, "UNKNOWN_TYPE", err.Error())
	default:
		slog.Error("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
