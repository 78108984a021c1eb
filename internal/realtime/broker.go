package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/bunbase/bunbase/internal/rules"
	"github.com/bunbase/bunbase/internal/schema"
	"github.com/bunbase/bunbase/internal/store"
)

// SchemaManager is the subset of schema.Manager the registry needs to
// resolve a collection's viewRule for broadcast filtering.
type SchemaManager interface {
	GetCollection(ctx context.Context, name string) (*schema.Collection, error)
}

// Registry is the shared, mutex-protected client/subscription table
// driving SSE fan-out (spec §4.9). Unlike the donor's WebSocket broker, it
// never polls the database for changes: Broadcast is called directly from
// the core's global after-hooks with the record that just committed.
type Registry struct {
	schema SchemaManager
	rules  *rules.Engine

	inactivityTimeout time.Duration

	mu      sync.RWMutex
	clients map[string]*Client

	sweeper *cron.Cron
}

func NewRegistry(schemaMgr SchemaManager, rulesEngine *rules.Engine, inactivityTimeout time.Duration) *Registry {
	if inactivityTimeout <= 0 {
		inactivityTimeout = defaultInactivityTimeout
	}
	return &Registry{
		schema:            schemaMgr,
		rules:             rulesEngine,
		inactivityTimeout: inactivityTimeout,
		clients:           make(map[string]*Client),
	}
}

// Start launches the inactivity sweep on a cron schedule running twice
// per timeout window. It returns immediately.
func (r *Registry) Start(ctx context.Context) {
	r.sweeper = cron.New()
	_, _ = r.sweeper.AddFunc(fmt.Sprintf("@every %s", r.inactivityTimeout/2), r.sweep)
	r.sweeper.Start()

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
}

// Stop evicts every client and halts the sweep loop.
func (r *Registry) Stop() {
	if r.sweeper != nil {
		r.sweeper.Stop()
	}

	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// Connect registers a new client and returns it; the caller (the SSE
// handler) owns writing ConnectFrame and then draining Messages().
func (r *Registry) Connect(isAdmin bool, auth rules.AuthContext) *Client {
	client := newClient(store.GenerateShortID())
	client.IsAdmin = isAdmin
	client.Auth = auth

	r.mu.Lock()
	r.clients[client.ID] = client
	r.mu.Unlock()

	log.Debug().Str("client_id", client.ID).Msg("realtime client connected")
	return client
}

// Disconnect removes and closes a client. Safe to call on an unknown id.
func (r *Registry) Disconnect(clientID string) {
	r.mu.Lock()
	client, ok := r.clients[clientID]
	if ok {
		delete(r.clients, clientID)
	}
	r.mu.Unlock()

	if ok {
		client.close()
		log.Debug().Str("client_id", clientID).Msg("realtime client disconnected")
	}
}

// Subscribe idempotently replaces clientID's subscription set, parsing
// each entry as "collection" (implying recordId "*") or
// "collection/recordPattern" (spec §4.9).
func (r *Registry) Subscribe(ctx context.Context, clientID string, patterns []string) error {
	r.mu.RLock()
	client, ok := r.clients[clientID]
	r.mu.RUnlock()
	if !ok {
		return ErrClientNotFound
	}

	subs := make([]subscription, 0, len(patterns))
	for _, p := range patterns {
		collection, recordPattern, err := parseSubscriptionPattern(p)
		if err != nil {
			return err
		}
		if _, err := r.schema.GetCollection(ctx, collection); err != nil {
			return ErrCollectionNotFound
		}
		subs = append(subs, compileSubscription(collection, recordPattern))
	}

	client.setSubscriptions(subs)
	return nil
}

func parseSubscriptionPattern(p string) (collection, recordPattern string, err error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", "", ErrInvalidSubscription
	}
	if idx := strings.IndexByte(p, '/'); idx >= 0 {
		collection = p[:idx]
		recordPattern = p[idx+1:]
	} else {
		collection = p
		recordPattern = "*"
	}
	if collection == "" || recordPattern == "" {
		return "", "", ErrInvalidSubscription
	}
	return collection, recordPattern, nil
}

// Broadcast delivers ev to every client subscribed to
// {ev.Collection, *}/{ev.Collection, ev.RecordID} whose identity passes the
// collection's viewRule (spec §4.9). Delivery is best-effort: a client
// whose channel is full is dropped rather than blocking the caller, which
// runs from inside the after-hook of the request that produced ev.
func (r *Registry) Broadcast(ctx context.Context, ev Event) {
	coll, err := r.schema.GetCollection(ctx, ev.Collection)
	if err != nil {
		return
	}

	r.mu.RLock()
	candidates := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		if c.matchingSubscriptions(ev.Collection, ev.RecordID) {
			candidates = append(candidates, c)
		}
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return
	}

	frame := FormatSSE(ev)
	for _, c := range candidates {
		if !r.canRead(coll, c) {
			continue
		}
		if !c.send(frame) {
			log.Debug().Str("client_id", c.ID).Msg("realtime client dropped: delivery failed")
			r.Disconnect(c.ID)
		}
	}
}

func (r *Registry) canRead(coll *schema.Collection, c *Client) bool {
	if r.rules == nil {
		return true
	}
	allowed, err := r.rules.Check(coll.Rules.ViewRule, rules.EvalContext{IsAdmin: c.IsAdmin, Auth: c.Auth})
	if err != nil {
		return false
	}
	return allowed
}

func (r *Registry) sweep() {
	now := time.Now()

	r.mu.RLock()
	var stale []string
	for id, c := range r.clients {
		if c.idleSince(now) > r.inactivityTimeout {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		log.Debug().Str("client_id", id).Msg("realtime client evicted: inactive")
		r.Disconnect(id)
	}
}

// ClientCount reports the number of connected clients, for health/metrics.
func (r *Registry) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
