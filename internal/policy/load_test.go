package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/entitykit/internal/schema"
	"github.com/matthewbaird/entitykit/internal/types"
)

func TestLoadDefaultCatalogue(t *testing.T) {
	table, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, AuthenticatedOrReadOnly, table.Default())
	assert.Greater(t, table.Len(), 20)

	rules := table.Rules("CoachContent", VerbDelete)
	require.Len(t, rules, 2)
	assert.Equal(t, OwnershipOwn, rules[0].Ownership)
	assert.Equal(t, []string{"coach"}, rules[0].Roles)

	reg, err := schema.LoadFile("")
	require.NoError(t, err)
	e := NewEvaluator(table, WithRegistry(reg))

	post := types.NewInstance("CoachContent", "cc1")
	post.Fields["author"] = map[string]any{"id": "3"}
	assert.True(t, e.Can(VerbDelete, post, user("3", "coach")))
	assert.False(t, e.Can(VerbDelete, post, user("9", "coach")))
	assert.True(t, e.Can(VerbView, post, nil))

	pay := types.NewInstance("Payments", "p1")
	pay.Fields["author"] = map[string]any{"id": "3"}
	err = e.CanDo(VerbEdit, pay, user("3", "admin"))
	assert.ErrorIs(t, err, ErrDenied)
}

func TestLoadBytesDefaultPolicy(t *testing.T) {
	table, err := LoadBytes("p.cue", []byte(`default_policy: "allow_all"`))
	require.NoError(t, err)
	assert.Equal(t, AllowAll, table.Default())
	assert.Equal(t, 0, table.Len())

	table, err = LoadBytes("p.cue", []byte(`entities: {}`))
	require.NoError(t, err)
	assert.Equal(t, AuthenticatedOrReadOnly, table.Default())
}

func TestLoadBytesRejectsBadRules(t *testing.T) {
	tests := map[string]string{
		"verb":      `policies: [{verb: "fly", type: "Users", ownership: "own", roles: []}]`,
		"ownership": `policies: [{verb: "view", type: "Users", ownership: "mine", roles: []}]`,
		"type":      `policies: [{verb: "view", type: "", ownership: "own", roles: []}]`,
		"default":   `default_policy: "deny_all"`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadBytes("p.cue", []byte(src))
			assert.ErrorIs(t, err, ErrInvalidPolicy)
		})
	}
}

func TestParse(t *testing.T) {
	v, err := ParseVerb(" Edit ")
	require.NoError(t, err)
	assert.Equal(t, VerbEdit, v)
	assert.True(t, v.IsWrite())
	assert.False(t, VerbView.IsWrite())

	d, err := ParseDefault("AUTHENTICATED")
	require.NoError(t, err)
	assert.Equal(t, RequireAuthenticated, d)
}
