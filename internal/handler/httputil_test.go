package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/matthewbaird/entitykit/internal/edit"
	"github.com/matthewbaird/entitykit/internal/policy"
	"github.com/matthewbaird/entitykit/internal/schema"
	"github.com/matthewbaird/entitykit/internal/store"
)

func TestSubjectFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, subjectFromRequest(r))

	r.Header.Set("X-Subject-ID", "7")
	r.Header.Set("X-Subject-Roles", " coach, ,admin")
	assert.Equal(t, &policy.Subject{ID: "7", Roles: []string{"coach", "admin"}, Authenticated: true}, subjectFromRequest(r))
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query string
		want  Pagination
	}{
		{"", Pagination{Limit: 20}},
		{"page_size=5&offset=10", Pagination{Limit: 5, Offset: 10}},
		{"page_size=500", Pagination{Limit: 100}},
		{"page_size=-1&offset=-3", Pagination{Limit: 20}},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
		assert.Equal(t, tt.want, parsePagination(r), tt.query)
	}
}

func TestErrorToHTTP(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"denial", &policy.Denial{Verb: policy.VerbEdit, Type: "Users", Reason: "no"}, http.StatusForbidden, "FORBIDDEN"},
		{"validation", &edit.ValidationError{Fields: map[string][]string{"email": {"bad"}}}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"not found", fmt.Errorf("%w: Users 1", store.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"unknown type", &schema.UnknownTypeError{Type: "Nope"}, http.StatusNotFound, "UNKNOWN_TYPE"},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			errorToHTTP(rec, tt.err)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"code":"`+tt.code+`"`)
		})
	}
}

func TestRecoveryTurnsPanicInto500(t *testing.T) {
	h := Recovery(Logging(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
