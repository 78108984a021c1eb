// Package hooks implements the in-process, ordered, cancellable
// continuation-passing middleware engine described in spec §4.6.
package hooks

// Event is one of the six lifecycle events a handler can bind to.
type Event string

const (
	BeforeCreate Event = "beforeCreate"
	AfterCreate  Event = "afterCreate"
	BeforeUpdate Event = "beforeUpdate"
	AfterUpdate  Event = "afterUpdate"
	BeforeDelete Event = "beforeDelete"
	AfterDelete  Event = "afterDelete"
)

// IsBefore reports whether e is one of the before* events, whose handler
// errors abort the operation (spec §4.6, §7).
func (e Event) IsBefore() bool {
	switch e {
	case BeforeCreate, BeforeUpdate, BeforeDelete:
		return true
	default:
		return false
	}
}

// RequestDescriptor is the `{method, path, headers}` view of the inbound
// HTTP request passed to handlers; the core never exposes the raw
// transport object (spec §4.6).
type RequestDescriptor struct {
	Method  string
	Path    string
	Headers map[string][]string
}

// Context is the per-event context passed to handlers. Only the fields
// relevant to the active Event are populated; see the table in spec §4.6.
type Context struct {
	Event      Event
	Collection string
	Request    RequestDescriptor

	// ID is set for beforeUpdate, afterUpdate (via Record), beforeDelete,
	// afterDelete.
	ID string

	// Data is the mutable create/update payload (beforeCreate, beforeUpdate).
	// Handlers mutate it in place to influence the write.
	Data map[string]any

	// Existing is the pre-write row (beforeUpdate, beforeDelete).
	Existing map[string]any

	// Record is the post-write row (afterCreate, afterUpdate).
	Record map[string]any
}
