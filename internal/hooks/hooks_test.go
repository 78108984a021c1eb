package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bunbase/bunbase/internal/apierror"
)

func TestGlobalAndCollectionScopedHandlersRunInOrder(t *testing.T) {
	r := NewRegistry()
	var order []string

	r.On(BeforeCreate, "", func(ctx context.Context, hctx *Context, next Next) error {
		order = append(order, "global")
		return next()
	})
	r.On(BeforeCreate, "posts", func(ctx context.Context, hctx *Context, next Next) error {
		order = append(order, "posts")
		return next()
	})
	r.On(BeforeCreate, "comments", func(ctx context.Context, hctx *Context, next Next) error {
		order = append(order, "comments")
		return next()
	})

	err := r.Trigger(context.Background(), &Context{Event: BeforeCreate, Collection: "posts"})
	require.NoError(t, err)
	require.Equal(t, []string{"global", "posts"}, order)
}

func TestSoftCancelStopsChainWithoutError(t *testing.T) {
	r := NewRegistry()
	ran := false

	r.On(BeforeCreate, "", func(ctx context.Context, hctx *Context, next Next) error {
		return nil // soft-cancel: never calls next
	})
	r.On(BeforeCreate, "", func(ctx context.Context, hctx *Context, next Next) error {
		ran = true
		return next()
	})

	err := r.Trigger(context.Background(), &Context{Event: BeforeCreate, Collection: "posts"})
	require.NoError(t, err)
	require.False(t, ran)
}

func TestThrowCancelPropagatesError(t *testing.T) {
	r := NewRegistry()
	r.On(BeforeCreate, "", func(ctx context.Context, hctx *Context, next Next) error {
		return errors.New("denied by policy")
	})

	err := r.Trigger(context.Background(), &Context{Event: BeforeCreate, Collection: "posts"})
	require.Error(t, err)
}

func TestTriggerBeforeWrapsAsHookCancelled(t *testing.T) {
	r := NewRegistry()
	r.On(BeforeCreate, "", func(ctx context.Context, hctx *Context, next Next) error {
		return errors.New("nope")
	})

	err := r.TriggerBefore(context.Background(), &Context{Event: BeforeCreate, Collection: "posts"})
	require.Error(t, err)

	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	require.Equal(t, apierror.CodeHookCancelled, apiErr.Kind)
	require.Equal(t, "nope", apiErr.Message)
}

func TestTriggerAfterSwallowsError(t *testing.T) {
	r := NewRegistry()
	r.On(AfterCreate, "", func(ctx context.Context, hctx *Context, next Next) error {
		return errors.New("logged but ignored")
	})

	require.NotPanics(t, func() {
		r.TriggerAfter(context.Background(), &Context{Event: AfterCreate, Collection: "posts"})
	})
}

func TestHandlerCanRunCodeBeforeAndAfterNext(t *testing.T) {
	r := NewRegistry()
	var order []string

	r.On(BeforeCreate, "", func(ctx context.Context, hctx *Context, next Next) error {
		order = append(order, "before")
		err := next()
		order = append(order, "after")
		return err
	})

	err := r.Trigger(context.Background(), &Context{Event: BeforeCreate})
	require.NoError(t, err)
	require.Equal(t, []string{"before", "after"}, order)
}

func TestBeforeHookCanMutateData(t *testing.T) {
	r := NewRegistry()
	r.On(BeforeCreate, "", func(ctx context.Context, hctx *Context, next Next) error {
		hctx.Data["injected"] = true
		return next()
	})

	hctx := &Context{Event: BeforeCreate, Data: map[string]any{}}
	err := r.Trigger(context.Background(), hctx)
	require.NoError(t, err)
	require.Equal(t, true, hctx.Data["injected"])
}
