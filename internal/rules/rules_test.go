package rules

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePrecedenceOrLooserThanAnd(t *testing.T) {
	// a=false || b=true && c=false  =>  false || (true && false) => false
	ctx := EvalContext{
		Record: map[string]any{"a": false, "b": true, "c": false},
	}
	ok, err := Evaluate(`a = true || b = true && c = true`, ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestParsePrecedenceWithExplicitParens(t *testing.T) {
	ctx := EvalContext{Record: map[string]any{"a": false, "b": true, "c": false}}
	ok, err := Evaluate(`(a = true || b = true) && c = false`, ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAdminShortCircuits(t *testing.T) {
	ok, err := Evaluate(`totally not even valid &&&`, EvalContext{IsAdmin: true})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestUnauthenticatedAuthAtomsResolveToEmptyString(t *testing.T) {
	ok, err := Evaluate(`@request.auth.id = ""`, EvalContext{Auth: AuthContext{Present: false}})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAuthAtomFields(t *testing.T) {
	ctx := EvalContext{
		Auth: AuthContext{Present: true, ID: "u1", Email: "a@b.com", Verified: true, CollectionID: "c1", CollectionName: "users"},
	}
	ok, err := Evaluate(`@request.auth.email = "a@b.com" && @request.auth.verified = true`, ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRecordAndBodyAtoms(t *testing.T) {
	ctx := EvalContext{
		Record: map[string]any{"owner": "u1"},
		Body:   map[string]any{"owner": "u1"},
	}
	ok, err := Evaluate(`owner = @request.body.owner`, ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNumericComparison(t *testing.T) {
	ctx := EvalContext{Record: map[string]any{"views": float64(42)}}
	ok, err := Evaluate(`views >= 10 && views <= 100`, ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMalformedRuleDenies(t *testing.T) {
	ok, err := Evaluate(`owner = = "x"`, EvalContext{})
	require.Error(t, err)
	require.False(t, ok)
}

func TestEngineCheckNilRuleIsAdminOnly(t *testing.T) {
	e := NewEngine()
	ok, err := e.Check(nil, EvalContext{IsAdmin: false})
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = e.Check(nil, EvalContext{IsAdmin: true})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEngineCheckEmptyRuleIsPublic(t *testing.T) {
	e := NewEngine()
	empty := ""
	ok, err := e.Check(&empty, EvalContext{})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEngineCheckMalformedRuleDeniesWithoutError(t *testing.T) {
	e := NewEngine()
	bad := `owner = = "x"`
	ok, err := e.Check(&bad, EvalContext{})
	require.NoError(t, err)
	require.False(t, ok)

	// Repeated evaluation hits the cached-invalid path.
	ok, err = e.Check(&bad, EvalContext{})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEngineCheckCachesCompiledRule(t *testing.T) {
	e := NewEngine()
	rule := `owner = @request.auth.id`
	ctx := EvalContext{Auth: AuthContext{Present: true, ID: "u1"}, Record: map[string]any{"owner": "u1"}}

	ok, err := e.Check(&rule, ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ctx.Record["owner"] = "other"
	ok, err = e.Check(&rule, ctx)
	require.NoError(t, err)
	require.False(t, ok)
}
