package edit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/entitykit/internal/schema"
	"github.com/matthewbaird/entitykit/internal/types"
)

func TestSerialize(t *testing.T) {
	tests := []struct {
		name  string
		field schema.FieldDefinition
		in    any
		want  any
	}{
		{"date from time", schema.FieldDefinition{Kind: schema.KindDate}, time.Date(2023, 12, 31, 8, 0, 0, 0, time.UTC), "2023-12-31"},
		{"date from string", schema.FieldDefinition{Kind: schema.KindDate}, "2023-12-31T08:00:00Z", "2023-12-31"},
		{"date unparsable passes through", schema.FieldDefinition{Kind: schema.KindDate}, "someday", "someday"},
		{"empty date is null", schema.FieldDefinition{Kind: schema.KindDate}, "", nil},
		{"datetime to utc", schema.FieldDefinition{Kind: schema.KindDateTime}, time.Date(2023, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600)), "2023-01-02T02:04:05Z"},
		{"datetime local input", schema.FieldDefinition{Kind: schema.KindDateTime}, "2023-01-02T03:04", "2023-01-02T03:04:00Z"},
		{"multi choice any", schema.FieldDefinition{Kind: schema.KindMultiChoice}, []any{"a", "b", nil}, "a,b"},
		{"multi choice string", schema.FieldDefinition{Kind: schema.KindMultiChoice}, "a", "a"},
		{"relation one ref", schema.FieldDefinition{Kind: schema.KindRelation}, &types.Ref{ID: "7"}, "7"},
		{"relation one empty", schema.FieldDefinition{Kind: schema.KindRelation}, nil, nil},
		{"relation many maps", schema.FieldDefinition{Kind: schema.KindRelation, Cardinality: schema.Many}, []any{map[string]any{"id": "1"}, "2"}, []string{"1", "2"}},
		{"relation many cleared", schema.FieldDefinition{Kind: schema.KindRelation, Cardinality: schema.Many}, nil, []string{}},
		{"text untouched", schema.FieldDefinition{Kind: schema.KindText}, "hi", "hi"},
		{"json untouched", schema.FieldDefinition{Kind: schema.KindJSON}, map[string]any{"a": 1.0}, map[string]any{"a": 1.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Serialize(tt.field, tt.in))
		})
	}
}

func TestSerializePanicsOnUnknownKind(t *testing.T) {
	assert.Panics(t, func() {
		Serialize(schema.FieldDefinition{Kind: schema.Kind(99)}, "x")
	})
}

func TestChangeSetJSONIsFlat(t *testing.T) {
	cs := ChangeSet{ID: "c1", Type: "Courses", Fields: map[string]any{
		"title": "x",
		"cover": types.Upload{Filename: "a.png", Data: []byte("raw")},
	}}
	assert.True(t, cs.HasUploads())

	b, err := json.Marshal(cs)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"c1","type":"Courses","title":"x","cover":{"filename":"a.png"}}`, string(b))
}

func TestDiffIgnoresUndeclaredFields(t *testing.T) {
	es := testRegistry().Schema("Courses")
	orig := testCourse()
	draft := testCourse()
	draft.Fields["created_at"] = "2024-01-01"

	assert.True(t, Diff(es, orig, draft).Empty())
}
