package realtime

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bunbase/bunbase/internal/config"
	"github.com/bunbase/bunbase/internal/rules"
	"github.com/bunbase/bunbase/internal/schema"
	"github.com/bunbase/bunbase/internal/store"
)

func testSchemaManager(t *testing.T) *schema.Manager {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		WALMode:      true,
		ForeignKeys:  true,
		CacheSize:    -2000,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
	db, err := store.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, schema.Bootstrap(context.Background(), db))
	return schema.NewManager(db)
}

func createPostsCollectionFor(t *testing.T, mgr *schema.Manager, viewRule *string) {
	t.Helper()
	_, err := mgr.CreateCollection(context.Background(), schema.CreateCollectionInput{
		Name: "posts",
		Type: schema.CollectionBase,
		Rules: schema.Rules{
			ViewRule: viewRule,
		},
		Fields: []schema.FieldInput{
			{Name: "title", Type: schema.FieldText},
		},
	})
	require.NoError(t, err)
}

func TestConnectAndDisconnect(t *testing.T) {
	mgr := testSchemaManager(t)
	createPostsCollectionFor(t, mgr, nil)
	reg := NewRegistry(mgr, rules.NewEngine(), time.Minute)

	c := reg.Connect(true, rules.AuthContext{})
	require.Equal(t, 1, reg.ClientCount())

	reg.Disconnect(c.ID)
	require.Equal(t, 0, reg.ClientCount())

	// disconnecting twice, or an unknown id, is a no-op
	reg.Disconnect(c.ID)
	reg.Disconnect("does-not-exist")
}

func TestSubscribeRejectsUnknownCollection(t *testing.T) {
	mgr := testSchemaManager(t)
	reg := NewRegistry(mgr, rules.NewEngine(), time.Minute)
	ctx := context.Background()

	c := reg.Connect(true, rules.AuthContext{})
	err := reg.Subscribe(ctx, c.ID, []string{"ghosts"})
	require.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestSubscribeRejectsUnknownClient(t *testing.T) {
	mgr := testSchemaManager(t)
	createPostsCollectionFor(t, mgr, nil)
	reg := NewRegistry(mgr, rules.NewEngine(), time.Minute)

	err := reg.Subscribe(context.Background(), "no-such-client", []string{"posts"})
	require.ErrorIs(t, err, ErrClientNotFound)
}

func TestBroadcastDeliversToWildcardSubscriber(t *testing.T) {
	mgr := testSchemaManager(t)
	createPostsCollectionFor(t, mgr, nil)
	reg := NewRegistry(mgr, rules.NewEngine(), time.Minute)
	ctx := context.Background()

	c := reg.Connect(true, rules.AuthContext{})
	require.NoError(t, reg.Subscribe(ctx, c.ID, []string{"posts"}))

	reg.Broadcast(ctx, Event{Collection: "posts", RecordID: "rec1", Action: ActionCreate, Record: map[string]any{"id": "rec1"}})

	select {
	case frame := <-c.Messages():
		require.Contains(t, string(frame), "event: posts")
		require.Contains(t, string(frame), `"action":"create"`)
	case <-time.After(time.Second):
		t.Fatal("expected a broadcast frame")
	}
}

func TestBroadcastSkipsNonMatchingRecordID(t *testing.T) {
	mgr := testSchemaManager(t)
	createPostsCollectionFor(t, mgr, nil)
	reg := NewRegistry(mgr, rules.NewEngine(), time.Minute)
	ctx := context.Background()

	c := reg.Connect(true, rules.AuthContext{})
	require.NoError(t, reg.Subscribe(ctx, c.ID, []string{"posts/rec1"}))

	reg.Broadcast(ctx, Event{Collection: "posts", RecordID: "rec2", Action: ActionUpdate})

	select {
	case frame := <-c.Messages():
		t.Fatalf("unexpected frame delivered: %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastSkipsOtherCollection(t *testing.T) {
	mgr := testSchemaManager(t)
	createPostsCollectionFor(t, mgr, nil)
	_, err := mgr.CreateCollection(context.Background(), schema.CreateCollectionInput{
		Name:   "comments",
		Type:   schema.CollectionBase,
		Fields: []schema.FieldInput{{Name: "body", Type: schema.FieldText}},
	})
	require.NoError(t, err)

	reg := NewRegistry(mgr, rules.NewEngine(), time.Minute)
	ctx := context.Background()

	c := reg.Connect(true, rules.AuthContext{})
	require.NoError(t, reg.Subscribe(ctx, c.ID, []string{"comments"}))

	reg.Broadcast(ctx, Event{Collection: "posts", RecordID: "rec1", Action: ActionCreate})

	select {
	case frame := <-c.Messages():
		t.Fatalf("unexpected frame delivered: %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastDeniesByViewRule(t *testing.T) {
	mgr := testSchemaManager(t)
	deny := "@request.auth.id != \"\""
	createPostsCollectionFor(t, mgr, &deny)
	reg := NewRegistry(mgr, rules.NewEngine(), time.Minute)
	ctx := context.Background()

	// anonymous (non-admin, no auth) client fails the viewRule
	c := reg.Connect(false, rules.AuthContext{Present: false})
	require.NoError(t, reg.Subscribe(ctx, c.ID, []string{"posts"}))

	reg.Broadcast(ctx, Event{Collection: "posts", RecordID: "rec1", Action: ActionCreate})

	select {
	case frame := <-c.Messages():
		t.Fatalf("unexpected frame delivered: %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastAdminBypassesViewRule(t *testing.T) {
	mgr := testSchemaManager(t)
	deny := "@request.auth.id != \"\""
	createPostsCollectionFor(t, mgr, &deny)
	reg := NewRegistry(mgr, rules.NewEngine(), time.Minute)
	ctx := context.Background()

	c := reg.Connect(true, rules.AuthContext{})
	require.NoError(t, reg.Subscribe(ctx, c.ID, []string{"posts"}))

	reg.Broadcast(ctx, Event{Collection: "posts", RecordID: "rec1", Action: ActionDelete})

	select {
	case <-c.Messages():
	case <-time.After(time.Second):
		t.Fatal("expected admin client to receive broadcast")
	}
}

func TestDisconnectedClientDoesNotPanicOnBroadcast(t *testing.T) {
	mgr := testSchemaManager(t)
	createPostsCollectionFor(t, mgr, nil)
	reg := NewRegistry(mgr, rules.NewEngine(), time.Minute)
	ctx := context.Background()

	c := reg.Connect(true, rules.AuthContext{})
	require.NoError(t, reg.Subscribe(ctx, c.ID, []string{"posts"}))
	reg.Disconnect(c.ID)

	reg.Broadcast(ctx, Event{Collection: "posts", RecordID: "rec1", Action: ActionCreate})
	require.Equal(t, 0, reg.ClientCount())
}

func TestSweepEvictsInactiveClients(t *testing.T) {
	mgr := testSchemaManager(t)
	createPostsCollectionFor(t, mgr, nil)
	reg := NewRegistry(mgr, rules.NewEngine(), time.Millisecond)
	ctx := context.Background()

	c := reg.Connect(true, rules.AuthContext{})
	require.NoError(t, reg.Subscribe(ctx, c.ID, []string{"posts"}))

	time.Sleep(5 * time.Millisecond)
	reg.sweep()

	require.Equal(t, 0, reg.ClientCount())
}

func TestParseSubscriptionPattern(t *testing.T) {
	collection, recordPattern, err := parseSubscriptionPattern("posts")
	require.NoError(t, err)
	require.Equal(t, "posts", collection)
	require.Equal(t, "*", recordPattern)

	collection, recordPattern, err = parseSubscriptionPattern("posts/rec1")
	require.NoError(t, err)
	require.Equal(t, "posts", collection)
	require.Equal(t, "rec1", recordPattern)

	_, _, err = parseSubscriptionPattern("")
	require.ErrorIs(t, err, ErrInvalidSubscription)

	_, _, err = parseSubscriptionPattern("/rec1")
	require.ErrorIs(t, err, ErrInvalidSubscription)
}
