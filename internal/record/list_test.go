package record

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bunbase/bunbase/internal/apierror"
	"github.com/bunbase/bunbase/internal/hooks"
	"github.com/bunbase/bunbase/internal/schema"
	"github.com/bunbase/bunbase/internal/store"
)

func seedPosts(t *testing.T, e *Engine, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		_, err := e.Create(ctx, "posts", adminIdentity(), map[string]any{
			"title": "post",
			"views": float64(i),
		}, hooks.RequestDescriptor{})
		require.NoError(t, err)
	}
}

func TestListPaginationMath(t *testing.T) {
	e, mgr, _ := testEngine(t)
	createPostsCollection(t, mgr)
	seedPosts(t, e, 61)

	list, err := e.List(context.Background(), "posts", adminIdentity(), ListOptions{Page: 3, PerPage: 20})
	require.NoError(t, err)
	require.Equal(t, 61, list.TotalItems)
	require.Equal(t, 4, list.TotalPages)
	require.Equal(t, 3, list.Page)
	require.Equal(t, 20, list.PerPage)
	require.Len(t, list.Items, 20)
}

func TestListPaginationLastPagePartial(t *testing.T) {
	e, mgr, _ := testEngine(t)
	createPostsCollection(t, mgr)
	seedPosts(t, e, 61)

	list, err := e.List(context.Background(), "posts", adminIdentity(), ListOptions{Page: 4, PerPage: 20})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
}

func TestListDefaultsWhenUnset(t *testing.T) {
	e, mgr, _ := testEngine(t)
	createPostsCollection(t, mgr)
	seedPosts(t, e, 3)

	list, err := e.List(context.Background(), "posts", adminIdentity(), ListOptions{PerPage: DefaultPerPage})
	require.NoError(t, err)
	require.Equal(t, 1, list.Page)
	require.Equal(t, DefaultPerPage, list.PerPage)
	require.Equal(t, 3, list.TotalItems)
}

func TestListPageAndPerPageClampToOne(t *testing.T) {
	// spec §8 Boundary behaviors: page=0 and perPage=0 clamp to 1, not to
	// the "unset" default of 30 (the caller, e.g. the HTTP handler, is
	// responsible for substituting 30 when the wire parameter is absent).
	e, mgr, _ := testEngine(t)
	createPostsCollection(t, mgr)
	seedPosts(t, e, 3)

	list, err := e.List(context.Background(), "posts", adminIdentity(), ListOptions{Page: 0, PerPage: 0})
	require.NoError(t, err)
	require.Equal(t, 1, list.Page)
	require.Equal(t, 1, list.PerPage)
	require.Len(t, list.Items, 1)
}

func TestListFilterLikeEscapesWildcards(t *testing.T) {
	e, mgr, _ := testEngine(t)
	createPostsCollection(t, mgr)
	ctx := context.Background()

	_, err := e.Create(ctx, "posts", adminIdentity(), map[string]any{"title": "50%_off"}, hooks.RequestDescriptor{})
	require.NoError(t, err)
	_, err = e.Create(ctx, "posts", adminIdentity(), map[string]any{"title": "full price"}, hooks.RequestDescriptor{})
	require.NoError(t, err)

	list, err := e.List(ctx, "posts", adminIdentity(), ListOptions{
		Filters: []store.Filter{{Field: "title", Op: store.OpLike, Value: "50%_off"}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, list.TotalItems)
	require.Equal(t, "50%_off", list.Items[0]["title"])
}

func TestListFilterUnknownFieldRejected(t *testing.T) {
	e, mgr, _ := testEngine(t)
	createPostsCollection(t, mgr)

	_, err := e.List(context.Background(), "posts", adminIdentity(), ListOptions{
		Filters: []store.Filter{{Field: "bogus", Op: store.OpEq, Value: "x"}},
	})
	require.Error(t, err)
	require.Equal(t, apierror.CodeBadRequest, errorKind(t, err))
}

func TestListSortUnknownFieldRejected(t *testing.T) {
	e, mgr, _ := testEngine(t)
	createPostsCollection(t, mgr)

	_, err := e.List(context.Background(), "posts", adminIdentity(), ListOptions{
		Sorts: []store.Sort{{Field: "bogus"}},
	})
	require.Error(t, err)
}

func TestListSortDescendingOrdersByField(t *testing.T) {
	e, mgr, _ := testEngine(t)
	createPostsCollection(t, mgr)
	seedPosts(t, e, 5)

	list, err := e.List(context.Background(), "posts", adminIdentity(), ListOptions{
		PerPage: DefaultPerPage,
		Sorts:   []store.Sort{{Field: "views", Desc: true}},
	})
	require.NoError(t, err)
	require.Equal(t, float64(4), list.Items[0]["views"])
	require.Equal(t, float64(0), list.Items[len(list.Items)-1]["views"])
}

func TestListExpandAttachesRelatedRecord(t *testing.T) {
	e, mgr, _ := testEngine(t)
	createPostsCollection(t, mgr)
	ctx := context.Background()

	post, err := e.Create(ctx, "posts", adminIdentity(), map[string]any{"title": "parent"}, hooks.RequestDescriptor{})
	require.NoError(t, err)

	_, err = mgr.CreateCollection(ctx, schema.CreateCollectionInput{
		Name: "comments",
		Type: schema.CollectionBase,
		Fields: []schema.FieldInput{
			{Name: "post", Type: schema.FieldRelation, Options: []byte(`{"targetCollection":"posts"}`)},
		},
	})
	require.NoError(t, err)

	_, err = e.Create(ctx, "comments", adminIdentity(), map[string]any{"post": post["id"]}, hooks.RequestDescriptor{})
	require.NoError(t, err)

	list, err := e.List(ctx, "comments", adminIdentity(), ListOptions{Expand: []string{"post"}})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	expand, ok := list.Items[0]["expand"].(map[string]any)
	require.True(t, ok)
	expandedPost, ok := expand["post"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "parent", expandedPost["title"])
}

func TestListExpandSkipsMissingTarget(t *testing.T) {
	e, mgr, _ := testEngine(t)
	createPostsCollection(t, mgr)
	ctx := context.Background()

	_, err := mgr.CreateCollection(ctx, schema.CreateCollectionInput{
		Name: "comments",
		Type: schema.CollectionBase,
		Fields: []schema.FieldInput{
			{Name: "post", Type: schema.FieldRelation, Options: []byte(`{"targetCollection":"posts"}`)},
		},
	})
	require.NoError(t, err)

	_, err = e.Create(ctx, "comments", adminIdentity(), map[string]any{}, hooks.RequestDescriptor{})
	require.NoError(t, err)

	list, err := e.List(ctx, "comments", adminIdentity(), ListOptions{Expand: []string{"post"}})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	_, hasExpand := list.Items[0]["expand"]
	require.False(t, hasExpand)
}

func TestListRuleDenialForbidsUnauthenticatedList(t *testing.T) {
	e, mgr, _ := testEngine(t)
	ctx := context.Background()

	_, err := mgr.CreateCollection(ctx, schema.CreateCollectionInput{
		Name:   "posts",
		Type:   schema.CollectionBase,
		Rules:  schema.Rules{ListRule: nil},
		Fields: []schema.FieldInput{{Name: "title", Type: schema.FieldText}},
	})
	require.NoError(t, err)

	anon := Identity{IsAdmin: false}
	_, err = e.List(ctx, "posts", anon, ListOptions{})
	require.Error(t, err)
	require.Equal(t, apierror.CodeForbidden, errorKind(t, err))
}
