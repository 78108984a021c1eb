package hooks

import (
	"context"
	"sync"
)

// Next invokes the remainder of the chain. A handler that returns without
// calling Next silently ends the chain (soft-cancel, spec §4.6).
type Next func() error

// Handler is a single hook binding. Awaiting next() runs the remainder of
// the chain; code may run both before and after that call.
type Handler func(ctx context.Context, hctx *Context, next Next) error

type registration struct {
	collection string // empty means global
	handler    Handler
}

// Registry holds the ordered handler bindings for every event and runs the
// continuation-passing chain on Trigger.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Event][]registration
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Event][]registration)}
}

// On registers handler for event, either globally (collection == "") or
// scoped to a single collection name.
func (r *Registry) On(event Event, collection string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = append(r.handlers[event], registration{collection: collection, handler: handler})
}

// Trigger runs every global handler plus those bound to hctx.Collection for
// hctx.Event, in registration order (spec §4.6). The returned error is the
// first thrown error encountered (propagated from inside the chain);
// callers are responsible for the before/after error policy (§7): before*
// errors abort the write, after* errors are logged and swallowed.
func (r *Registry) Trigger(ctx context.Context, hctx *Context) error {
	r.mu.RLock()
	all := r.handlers[hctx.Event]
	active := make([]Handler, 0, len(all))
	for _, reg := range all {
		if reg.collection == "" || reg.collection == hctx.Collection {
			active = append(active, reg.handler)
		}
	}
	r.mu.RUnlock()

	chain := buildChain(ctx, hctx, active, 0)
	return chain()
}

func buildChain(ctx context.Context, hctx *Context, handlers []Handler, idx int) Next {
	if idx >= len(handlers) {
		return func() error { return nil }
	}
	return func() error {
		return handlers[idx](ctx, hctx, buildChain(ctx, hctx, handlers, idx+1))
	}
}
