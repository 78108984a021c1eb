package rules

import (
	"fmt"
)

// AuthContext carries the @request.auth.* atoms (spec §4.7). When Present is
// false the evaluator resolves every @request.auth.* atom to the empty
// string, per spec's unauthenticated-access rule.
type AuthContext struct {
	Present        bool
	ID             string
	Email          string
	Verified       bool
	CollectionID   string
	CollectionName string
}

// EvalContext is the `{isAdmin, auth, record?, body?}` context a rule is
// evaluated against (spec §4.7).
type EvalContext struct {
	IsAdmin bool
	Auth    AuthContext
	Record  map[string]any
	Body    map[string]any
}

// Evaluate parses and evaluates expr against ctx. Admin identity
// short-circuits to allow without parsing the rule at all. A malformed
// rule denies (returns false, non-nil error) — callers must treat any
// error here as a denial, never surface it as a server fault.
func Evaluate(expr string, ctx EvalContext) (bool, error) {
	if ctx.IsAdmin {
		return true, nil
	}

	node, err := Parse(expr)
	if err != nil {
		return false, fmt.Errorf("rule parse error (denying): %w", err)
	}

	result, err := evalNode(node, ctx)
	if err != nil {
		return false, fmt.Errorf("rule evaluation error (denying): %w", err)
	}

	return truthy(result), nil
}

func evalNode(n Node, ctx EvalContext) (any, error) {
	switch v := n.(type) {
	case Literal:
		return v.Value, nil
	case AuthAtom:
		return resolveAuthAtom(v.Field, ctx.Auth), nil
	case BodyAtom:
		return lookupField(ctx.Body, v.Field), nil
	case RecordAtom:
		return lookupField(ctx.Record, v.Field), nil
	case Compare:
		return evalCompare(v, ctx)
	case Logical:
		return evalLogical(v, ctx)
	default:
		return nil, fmt.Errorf("unknown node type %T", n)
	}
}

func resolveAuthAtom(field string, auth AuthContext) any {
	if !auth.Present {
		return ""
	}
	switch field {
	case "id":
		return auth.ID
	case "email":
		return auth.Email
	case "verified":
		return auth.Verified
	case "collectionId":
		return auth.CollectionID
	case "collectionName":
		return auth.CollectionName
	default:
		return ""
	}
}

func lookupField(m map[string]any, field string) any {
	if m == nil {
		return nil
	}
	return m[field]
}

func evalLogical(n Logical, ctx EvalContext) (any, error) {
	left, err := evalNode(n.Left, ctx)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case OpAnd:
		if !truthy(left) {
			return false, nil
		}
		right, err := evalNode(n.Right, ctx)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	case OpOr:
		if truthy(left) {
			return true, nil
		}
		right, err := evalNode(n.Right, ctx)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	default:
		return nil, fmt.Errorf("unknown logical operator %q", n.Op)
	}
}

func evalCompare(n Compare, ctx EvalContext) (any, error) {
	left, err := evalNode(n.Left, ctx)
	if err != nil {
		return nil, err
	}
	right, err := evalNode(n.Right, ctx)
	if err != nil {
		return nil, err
	}

	cmp, comparable := compareValues(left, right)
	switch n.Op {
	case CmpEq:
		return valuesEqual(left, right), nil
	case CmpNe:
		return !valuesEqual(left, right), nil
	case CmpLt:
		return comparable && cmp < 0, nil
	case CmpLte:
		return comparable && cmp <= 0, nil
	case CmpGt:
		return comparable && cmp > 0, nil
	case CmpGte:
		return comparable && cmp >= 0, nil
	default:
		return nil, fmt.Errorf("unknown comparison operator %q", n.Op)
	}
}

// truthy coerces an atom's resolved value to a boolean, used both for
// short-circuit evaluation and for a rule whose entire body is a bare atom.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case nil:
		return false
	default:
		return true
	}
}

func valuesEqual(a, b any) bool {
	if cmp, ok := compareValues(a, b); ok {
		return cmp == 0
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compareValues attempts a numeric or string comparison, returning
// (-1|0|1, true) on success, or (0, false) when the two values are not
// comparable (e.g. a number against a bool).
func compareValues(a, b any) (int, bool) {
	if an, aok := asFloat(a); aok {
		if bn, bok := asFloat(b); bok {
			switch {
			case an < bn:
				return -1, true
			case an > bn:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		default:
			return 0, true
		}
	}

	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
