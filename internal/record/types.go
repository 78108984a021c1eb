package record

import (
	"context"

	"github.com/bunbase/bunbase/internal/hooks"
	"github.com/bunbase/bunbase/internal/rules"
	"github.com/bunbase/bunbase/internal/schema"
	"github.com/bunbase/bunbase/internal/store"
)

// Identity is the caller's authorization context, threaded through every
// operation to build the rule evaluator's EvalContext (spec §4.7).
type Identity struct {
	IsAdmin bool
	Auth    rules.AuthContext
}

// ListOptions are the parsed inputs to a list operation (spec §4.4).
type ListOptions struct {
	Page    int
	PerPage int
	Sorts   []store.Sort
	Filters []store.Filter
	Expand  []string
}

const (
	DefaultPerPage = 30
	MaxPerPage     = 500
)

// Normalize clamps Page/PerPage into their spec-mandated ranges (spec §8
// Boundary behaviors: page=0 clamps to 1, perPage=0 clamps to 1,
// perPage>500 clamps to 500). Callers apply the "absent parameter defaults
// to 30" rule themselves before calling Normalize; a present-but-zero
// perPage is a boundary case, not an absent one, and must clamp to 1.
func (o ListOptions) Normalize() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PerPage < 1 {
		o.PerPage = 1
	}
	if o.PerPage > MaxPerPage {
		o.PerPage = MaxPerPage
	}
	return o
}

// ListResult is the paginated response body for a list operation.
type ListResult struct {
	Page       int              `json:"page"`
	PerPage    int              `json:"perPage"`
	TotalItems int              `json:"totalItems"`
	TotalPages int              `json:"totalPages"`
	Items      []map[string]any `json:"items"`
}

// SchemaManager is the subset of *schema.Manager the record engine needs,
// declared as an interface so tests can substitute a fake.
type SchemaManager interface {
	GetCollection(ctx context.Context, name string) (*schema.Collection, error)
}

// Engine ties the schema, rule, and hook engines together behind the
// record CRUD pipeline (spec §4.5).
type Engine struct {
	db     *store.DB
	schema SchemaManager
	rules  *rules.Engine
	hooks  *hooks.Registry
}

func NewEngine(db *store.DB, schemaMgr SchemaManager, rulesEngine *rules.Engine, hooksRegistry *hooks.Registry) *Engine {
	return &Engine{db: db, schema: schemaMgr, rules: rulesEngine, hooks: hooksRegistry}
}
