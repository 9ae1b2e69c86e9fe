package render

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/entitykit/internal/policy"
	"github.com/matthewbaird/entitykit/internal/schema"
	"github.com/matthewbaird/entitykit/internal/types"
)

func testRegistry() *schema.Registry {
	return schema.NewRegistry(
		&schema.EntitySchema{
			Type: "Users",
			Fields: []schema.FieldDefinition{
				{Name: "first_name", Kind: schema.KindText},
				{Name: "last_name", Kind: schema.KindText},
				{Name: "created_at", Kind: schema.KindDateTime},
				{Name: "friend", Kind: schema.KindRelation, Target: "Users"},
			},
			Nav: schema.NavDescriptor{Endpoint: "/api/users", DetailRoute: "/users/{id}"},
		},
		&schema.EntitySchema{
			Type:   "Categories",
			Fields: []schema.FieldDefinition{{Name: "name", Kind: schema.KindText}},
			Nav:    schema.NavDescriptor{Endpoint: "/api/categories", DetailRoute: "/categories/{id}"},
		},
		&schema.EntitySchema{
			Type: "Posts",
			Fields: []schema.FieldDefinition{
				{Name: "title", Kind: schema.KindText},
				{Name: "author", Kind: schema.KindRelation, Target: "Users"},
				{Name: "published_at", Kind: schema.KindDateTime, Label: "Published"},
				{Name: "tags", Kind: schema.KindMultiChoice, Options: []schema.Option{{Value: "workout", Label: "Workout"}, {Value: "tip", Label: "Tip"}}},
				{Name: "cover", Kind: schema.KindImage, Label: "Cover image"},
				{Name: "level", Kind: schema.KindEnum, Options: []schema.Option{{Value: "adv", Label: "Advanced"}}},
				{Name: "published", Kind: schema.KindBool},
				{Name: "meta", Kind: schema.KindJSON},
				{Name: "categories", Kind: schema.KindRelation, Cardinality: schema.Many, Target: "Categories", Label: "Category", LabelPlural: "Categories"},
				{Name: "body", Kind: schema.KindLongText},
			},
			Nav: schema.NavDescriptor{Endpoint: "/api/posts", DetailRoute: "/posts/{id}"},
		},
	)
}

func testPost() *types.Instance {
	in := types.NewInstance("Posts", "p1")
	in.Fields["title"] = "Hello"
	in.Fields["author"] = map[string]any{
		"id": "u1",
		"snapshot": map[string]any{
			"first_name": "Ada",
			"last_name":  "Lovelace",
			"created_at": "2024-01-02T03:04:05Z",
			"friend":     map[string]any{"id": "u2", "display": "Charles"},
		},
	}
	in.Fields["published_at"] = "2024-03-05T10:30:00Z"
	in.Fields["tags"] = "workout,tip"
	in.Fields["cover"] = "https://cdn.example.com/x.png"
	in.Fields["level"] = "adv"
	in.Fields["published"] = true
	in.Fields["meta"] = map[string]any{"b": 1.0, "a": 2.0}
	in.Fields["categories"] = []any{
		map[string]any{"id": "c1", "display": "Go"},
		map[string]any{"id": "c2", "display": "SQL"},
	}
	in.Fields["body"] = ""
	return in
}

func TestRenderOrderAndPresentation(t *testing.T) {
	r := New(testRegistry(), nil)
	items, err := r.Render(testPost(), nil)
	require.NoError(t, err)

	want := []Item{
		{Kind: ItemTitle, Value: "Hello", Link: "/posts/p1"},
		{Field: "published_at", Label: "Published", Kind: ItemSubtitle, Value: "Mar 5, 2024 10:30 UTC"},
		{Field: "author", Label: "Author", Kind: ItemReference, Value: "Ada Lovelace", Caption: "Jan 2, 2024 03:04 UTC", Link: "/users/u1"},
		{Field: "tags", Label: "Tags", Kind: ItemText, Value: "Workout, Tip"},
		{Field: "cover", Label: "Cover image", Kind: ItemMedia, Value: "https://cdn.example.com/x.png", Caption: "Cover image", Media: "image"},
		{Field: "level", Label: "Level", Kind: ItemText, Value: "Advanced"},
		{Field: "published", Label: "Published", Kind: ItemText, Value: "Yes"},
		{Field: "meta", Label: "Meta", Kind: ItemBlock, Value: "{\n  \"a\": 2,\n  \"b\": 1\n}"},
		{Field: "categories", Label: "Categories", Kind: ItemList, Children: []Item{
			{Field: "categories", Label: "Category", Kind: ItemReference, Value: "Go", Link: "/categories/c1"},
			{Field: "categories", Label: "Category", Kind: ItemReference, Value: "SQL", Link: "/categories/c2"},
		}},
	}
	assert.Equal(t, want, items)
}

func TestRenderIsDeterministic(t *testing.T) {
	r := New(testRegistry(), nil)

	a := testPost()
	b := types.NewInstance("Posts", "p1")
	names := []string{"body", "categories", "meta", "published", "level", "cover", "tags", "published_at", "author", "title"}
	for _, n := range names {
		b.Fields[n] = a.Fields[n]
	}

	first, err := r.Render(a, nil)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := r.Render(b, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRenderSkipsEmptyValues(t *testing.T) {
	r := New(testRegistry(), nil)
	in := types.NewInstance("Posts", "p2")
	in.Fields["published"] = false
	in.Fields["categories"] = []any{}
	in.Fields["meta"] = map[string]any{}

	items, err := r.Render(in, nil)
	require.NoError(t, err)
	assert.Equal(t, []Item{{Kind: ItemTitle, Value: "p2", Link: "/posts/p2"}}, items)
}

func TestRenderUnknownType(t *testing.T) {
	r := New(testRegistry(), nil)
	items, err := r.Render(types.NewInstance("Nope", "1"), nil)
	assert.Nil(t, items)
	var unknown *schema.UnknownTypeError
	assert.True(t, errors.As(err, &unknown))
}

func TestRenderDeniedShowsOnlyReason(t *testing.T) {
	table := policy.NewTable(policy.AllowAll,
		policy.Rule{Verb: policy.VerbView, Type: "Posts", Ownership: policy.OwnershipOwn, Roles: []string{"authenticated"}},
		policy.Rule{Verb: policy.VerbView, Type: "Posts", Ownership: policy.OwnershipOthers, Roles: []string{"admin"}},
	)
	r := New(testRegistry(), policy.NewEvaluator(table))

	stranger := &policy.Subject{ID: "u9", Authenticated: true}
	items, err := r.Render(testPost(), stranger)
	require.ErrorIs(t, err, policy.ErrDenied)
	require.Len(t, items, 1)
	assert.Equal(t, ItemError, items[0].Kind)
	assert.Contains(t, items[0].Value, `"admin"`)

	owner := &policy.Subject{ID: "u1", Authenticated: true}
	items, err = r.Render(testPost(), owner)
	require.NoError(t, err)
	assert.Equal(t, "Hello", items[0].Value)
}

func TestReferenceStopsAtOneLevel(t *testing.T) {
	r := New(testRegistry(), nil)
	in := types.NewInstance("Users", "u1")
	in.Fields["first_name"] = "Ada"
	in.Fields["friend"] = map[string]any{
		"id": "u2",
		"snapshot": map[string]any{
			"first_name": "Charles",
			"friend":     map[string]any{"id": "u1", "display": "Ada"},
		},
	}

	items, err := r.Render(in, nil)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, Item{Field: "friend", Label: "Friend", Kind: ItemReference, Value: "Charles", Link: "/users/u2"}, items[1])
}

func TestHumanize(t *testing.T) {
	tests := map[string]string{
		"author_id":      "Author",
		"first_name":     "First Name",
		"duration_weeks": "Duration Weeks",
		"lesson_ids":     "Lesson",
		"meta.source":    "Meta Source",
		"":               "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Humanize(in), in)
	}
}

func TestItemKindJSONName(t *testing.T) {
	b, err := ItemReference.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "reference", string(b))
}
