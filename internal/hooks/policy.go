package hooks

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/bunbase/bunbase/internal/apierror"
)

// TriggerBefore runs a before* chain. A thrown error aborts the operation:
// no write happens, and the caller gets a HookCancelled API error carrying
// the thrown message (spec §4.6, §7).
func (r *Registry) TriggerBefore(ctx context.Context, hctx *Context) error {
	if err := r.Trigger(ctx, hctx); err != nil {
		return apierror.HookCancelled(err.Error())
	}
	return nil
}

// TriggerAfter runs an after* chain. A thrown error is logged and
// swallowed: the write already committed and the response is unaffected
// (spec §4.6, §7).
func (r *Registry) TriggerAfter(ctx context.Context, hctx *Context) {
	if err := r.Trigger(ctx, hctx); err != nil {
		log.Error().
			Err(err).
			Str("event", string(hctx.Event)).
			Str("collection", hctx.Collection).
			Msg("after-hook error (swallowed)")
	}
}
