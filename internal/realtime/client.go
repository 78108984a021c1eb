package realtime

import (
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/bunbase/bunbase/internal/rules"
)

// subscription is one {collection, recordId} pair from a client's
// subscription set, compiled to a glob so a wildcard recordId (or any
// glob pattern) matches cheaply on every broadcast.
type subscription struct {
	collection string
	pattern    string
	match      glob.Glob
}

func compileSubscription(collection, recordPattern string) subscription {
	g, err := glob.Compile(recordPattern)
	if err != nil {
		// An unparseable pattern matches nothing rather than panicking or
		// falling back to "match everything".
		g, _ = glob.Compile("\x00unmatchable\x00")
	}
	return subscription{collection: collection, pattern: recordPattern, match: g}
}

func (s subscription) matches(collection, recordID string) bool {
	return s.collection == collection && s.match.Match(recordID)
}

// Client is one open SSE connection. Message delivery is best-effort: a
// full or closed channel is treated as a dead client and dropped by the
// registry (spec §4.9).
type Client struct {
	ID string

	// IsAdmin and Auth authorize broadcast delivery against a collection's
	// viewRule, same as any other read (spec §4.7, §4.9).
	IsAdmin bool
	Auth    rules.AuthContext

	messages chan []byte

	mu            sync.Mutex
	subscriptions []subscription
	lastActivity  time.Time
	closed        bool
}

func newClient(id string) *Client {
	return &Client{
		ID:           id,
		messages:     make(chan []byte, 64),
		lastActivity: time.Now(),
	}
}

// Messages is the channel the SSE handler drains to write frames to the
// underlying response writer.
func (c *Client) Messages() <-chan []byte {
	return c.messages
}

// Touch refreshes lastActivity; called on every outbound send and after
// each heartbeat comment the SSE handler writes.
func (c *Client) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Client) idleSince(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastActivity)
}

// setSubscriptions idempotently replaces the client's subscription set
// (spec §4.9).
func (c *Client) setSubscriptions(subs []subscription) {
	c.mu.Lock()
	c.subscriptions = subs
	c.mu.Unlock()
}

func (c *Client) matchingSubscriptions(collection, recordID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.subscriptions {
		if s.matches(collection, recordID) {
			return true
		}
	}
	return false
}

// send delivers frame without blocking; a full channel means the client
// isn't draining fast enough and is reported as dead.
func (c *Client) send(frame []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	select {
	case c.messages <- frame:
		c.Touch()
		return true
	default:
		return false
	}
}

// close marks the client dead and closes its delivery channel. Safe to
// call more than once.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.messages)
}
