package rules

import (
	"sync"
)

// Engine caches parsed rule ASTs by expression string so repeated
// evaluations of the same collection rule skip re-parsing. Safe for
// concurrent use.
type Engine struct {
	mu      sync.RWMutex
	cache   map[string]Node
	invalid map[string]bool
}

func NewEngine() *Engine {
	return &Engine{
		cache:   make(map[string]Node),
		invalid: make(map[string]bool),
	}
}

// compile returns the cached AST for expr, parsing and caching on first use.
// A previously-seen invalid expression is remembered so repeated denials
// don't re-pay the parse cost.
func (e *Engine) compile(expr string) (Node, error) {
	e.mu.RLock()
	if node, ok := e.cache[expr]; ok {
		e.mu.RUnlock()
		return node, nil
	}
	if e.invalid[expr] {
		e.mu.RUnlock()
		return nil, errInvalidCached
	}
	e.mu.RUnlock()

	node, err := Parse(expr)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.invalid[expr] = true
		return nil, err
	}
	e.cache[expr] = node
	return node, nil
}

var errInvalidCached = &cachedParseError{}

type cachedParseError struct{}

func (*cachedParseError) Error() string { return "rule previously failed to parse (denying)" }

// Check evaluates the rule for a single list/view/create/update/delete
// decision (spec §4.7):
//
//   - a nil rule means admin-only: deny unless ctx.IsAdmin
//   - an empty rule means public: always allow
//   - otherwise the rule expression is evaluated against ctx
func (e *Engine) Check(rule *string, ctx EvalContext) (bool, error) {
	if ctx.IsAdmin {
		return true, nil
	}
	if rule == nil {
		return false, nil
	}
	if *rule == "" {
		return true, nil
	}

	node, err := e.compile(*rule)
	if err != nil {
		return false, nil
	}

	result, err := evalNode(node, ctx)
	if err != nil {
		return false, nil
	}
	return truthy(result), nil
}
