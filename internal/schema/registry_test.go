package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/entitykit/internal/types"
)

func loadDefault(t *testing.T) *Registry {
	t.Helper()
	reg, err := LoadFile("")
	require.NoError(t, err)
	return reg
}

func TestLoadDefaultCatalogue(t *testing.T) {
	reg := loadDefault(t)
	require.NoError(t, reg.Validate())

	assert.Equal(t, []types.EntityType{
		"Users", "Categories", "Courses", "Lessons", "Enrollments",
		"Payments", "CoachContent", "Comments", "Events", "Reviews",
	}, reg.Types())

	fields := reg.Fields("Courses")
	require.NotEmpty(t, fields)
	assert.Equal(t, "title", fields[0].Name)
	assert.True(t, fields[0].Required)

	author, ok := reg.Field("Courses", "author")
	require.True(t, ok)
	assert.Equal(t, KindRelation, author.Kind)
	assert.Equal(t, types.EntityType("Users"), author.Target)
	assert.False(t, author.Many())
	assert.Equal(t, "Coach", author.Label)

	cats, ok := reg.Field("Courses", "categories")
	require.True(t, ok)
	assert.True(t, cats.Many())
	assert.Equal(t, "Categories", cats.LabelPlural)

	level, ok := reg.Field("Courses", "level")
	require.True(t, ok)
	assert.Equal(t, KindEnum, level.Kind)
	assert.Equal(t, "beginner", level.OptionLabel("beginner"))

	role, ok := reg.Field("Users", "role")
	require.True(t, ok)
	assert.Equal(t, "student", role.Default)
	assert.Equal(t, "Administrator", role.OptionLabel("admin"))

	active, ok := reg.Field("Users", "is_active")
	require.True(t, ok)
	assert.Equal(t, true, active.Default)

	nav := reg.Nav("Lessons")
	assert.Equal(t, types.EntityType("Lessons"), nav.Type)
	assert.Equal(t, "/courses/{course}/lessons/{id}", nav.DetailRoute)
	assert.Equal(t, "/api/lessons/9", nav.ItemPath("9"))

	assert.Equal(t, "id", reg.Schema("Users").OwnerField)
	assert.Equal(t, "host", reg.Schema("Events").OwnerField)
	assert.Empty(t, reg.Schema("Categories").OwnerField)
}

func TestSchemaPanicsOnUnknownType(t *testing.T) {
	reg := loadDefault(t)
	_, ok := reg.Lookup("Nope")
	assert.False(t, ok)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(*UnknownTypeError)
		require.True(t, ok)
		assert.Equal(t, `schema: unknown entity type "Nope"`, err.Error())
	}()
	reg.Fields("Nope")
}

func TestValidateReportsEveryProblem(t *testing.T) {
	reg := NewRegistry(
		&EntitySchema{
			Type: "Posts",
			Fields: []FieldDefinition{
				{Name: "author", Kind: KindRelation, Target: "Ghosts"},
				{Name: "editor", Kind: KindRelation},
				{Name: "status", Kind: KindEnum},
				{Name: "title", Kind: KindText, Target: "Users"},
				{Name: "title", Kind: KindText},
			},
			OwnerField: "owner",
		},
		&EntitySchema{
			Type:   "Tags",
			Fields: []FieldDefinition{{Name: "post", Kind: KindRelation, Target: "Posts"}},
		},
	)
	err := reg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"Posts: duplicate field names",
		`Posts.author: unknown relation target "Ghosts"`,
		"Posts.editor: relation without target",
		"Posts.status: enum field without options",
		"Posts.title: target set on text field",
		`Posts: owner field "owner" is not declared`,
		`Tags.post: relation target "Posts" has no nav descriptor`,
	} {
		assert.Contains(t, msg, want)
	}
}

func TestLoadBytesRejectsNavForUnknownType(t *testing.T) {
	src := []byte(`
entities: Posts: title: {kind: "text"}
nav: [{type: "Ghosts", label: "Ghost", label_plural: "Ghosts", endpoint: "/api/ghosts", detail_route: "/ghosts/{id}"}]
`)
	_, err := LoadBytes("bad.cue", src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"Ghosts"`)
}

func TestLoadBytesRejectsUnknownKind(t *testing.T) {
	src := []byte(`entities: Posts: title: {kind: "rich_text"}`)
	_, err := LoadBytes("bad.cue", src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Posts.title")
}

func TestLoadBytesRejectsIncompleteCatalogue(t *testing.T) {
	_, err := LoadBytes("bad.cue", []byte(`entities: Posts: title: {kind: string}`))
	require.Error(t, err)
}

func TestKindRoundTrip(t *testing.T) {
	for k := KindText; k <= KindJSON; k++ {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseKind("blob")
	assert.Error(t, err)
	assert.True(t, KindVideo.IsMedia())
	assert.False(t, KindRelation.IsMedia())
	assert.True(t, KindMultiChoice.HasOptions())
}
