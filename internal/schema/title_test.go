package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeadingOf(t *testing.T) {
	tests := []struct {
		name     string
		fields   map[string]any
		title    string
		subtitle any
		consumed []string
	}{
		{"title wins", map[string]any{"title": "T", "name": "N"}, "T", nil, []string{"title"}},
		{"name", map[string]any{"name": "N", "slug": "s"}, "N", nil, []string{"name"}},
		{"full name", map[string]any{"first_name": "Ada", "last_name": "Lovelace"}, "Ada Lovelace", nil, []string{"first_name", "last_name"}},
		{"first name only", map[string]any{"first_name": "Ada"}, "Ada", nil, []string{"first_name"}},
		{"slug", map[string]any{"slug": "intro", "title": ""}, "intro", nil, []string{"slug"}},
		{"numeric name", map[string]any{"name": 1000000.0}, "1000000", nil, []string{"name"}},
		{"id fallback", map[string]any{}, "x1", nil, nil},
		{"subtitle", map[string]any{"title": "T", "updated_at": "u", "created_at": "c"}, "T", "c", []string{"title", "created_at"}},
		{"empty subtitle skipped", map[string]any{"title": "T", "created_at": "", "date": "d"}, "T", "d", []string{"title", "date"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := HeadingOf("x1", tt.fields)
			assert.Equal(t, tt.title, h.Title)
			assert.Equal(t, tt.subtitle, h.Subtitle)
			assert.Equal(t, tt.consumed, h.Consumed)
		})
	}
}

func TestIsEmpty(t *testing.T) {
	for _, v := range []any{nil, "", false, 0, 0.0, []any{}, []string{}, map[string]any{}, []int{}, (*int)(nil)} {
		assert.True(t, IsEmpty(v), "%#v", v)
	}
	for _, v := range []any{"a", true, 1, 2.5, []any{1}, map[string]any{"a": 1}} {
		assert.False(t, IsEmpty(v), "%#v", v)
	}
}
