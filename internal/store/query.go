package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidIdentifier is returned when a filter or sort field is not a
// member of a collection's identifier whitelist (system columns plus
// declared fields). Such a field is never substituted into SQL.
var ErrInvalidIdentifier = errors.New("invalid filter/sort field")

// FilterOp is one of the comparison operators the query builder understands.
type FilterOp string

const (
	OpEq      FilterOp = "="
	OpNe      FilterOp = "!="
	OpLt      FilterOp = "<"
	OpLte     FilterOp = "<="
	OpGt      FilterOp = ">"
	OpGte     FilterOp = ">="
	OpLike    FilterOp = "~"
	OpNotLike FilterOp = "!~"
)

// ParseFilterOp maps the wire-level operator token to a FilterOp.
func ParseFilterOp(s string) (FilterOp, bool) {
	switch FilterOp(s) {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte, OpLike, OpNotLike:
		return FilterOp(s), true
	default:
		return "", false
	}
}

// Filter is a single `field op value` predicate.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// Sort is a single `field [asc|desc]` ordering clause.
type Sort struct {
	Field string
	Desc  bool
}

// SystemColumns are always part of the identifier whitelist.
var SystemColumns = []string{"id", "created_at", "updated_at"}

// QueryBuilder assembles whitelisted, parameterized SELECT queries for the
// record engine's list operation. Every field name passed to AddFilter or
// AddSort is checked against the allowed set before it is ever written into
// a SQL string.
type QueryBuilder struct {
	table   string
	allowed map[string]bool
	filters []Filter
	sorts   []Sort
	limit   int
	offset  int
}

// NewQueryBuilder creates a builder scoped to table, whitelisting
// SystemColumns plus the given declared field names.
func NewQueryBuilder(table string, declaredFields []string) *QueryBuilder {
	allowed := make(map[string]bool, len(declaredFields)+len(SystemColumns))
	for _, c := range SystemColumns {
		allowed[c] = true
	}
	for _, f := range declaredFields {
		allowed[f] = true
	}
	return &QueryBuilder{table: table, allowed: allowed}
}

func (b *QueryBuilder) AddFilter(f Filter) error {
	if !b.allowed[f.Field] {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, f.Field)
	}
	b.filters = append(b.filters, f)
	return nil
}

func (b *QueryBuilder) AddSort(s Sort) error {
	if !b.allowed[s.Field] {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, s.Field)
	}
	b.sorts = append(b.sorts, s)
	return nil
}

func (b *QueryBuilder) Limit(n int) *QueryBuilder {
	b.limit = n
	return b
}

func (b *QueryBuilder) Offset(n int) *QueryBuilder {
	b.offset = n
	return b
}

// escapeLike escapes % and _ with a backslash so they match literally, per
// the spec's ESCAPE '\' convention.
func escapeLike(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, "%", `\%`)
	v = strings.ReplaceAll(v, "_", `\_`)
	return v
}

func (b *QueryBuilder) whereClause() (string, []sql.NamedArg) {
	if len(b.filters) == 0 {
		return "", nil
	}

	var conds []string
	var args []sql.NamedArg

	for i, f := range b.filters {
		name := fmt.Sprintf("filter_%d", i)
		switch f.Op {
		case OpLike, OpNotLike:
			op := "LIKE"
			if f.Op == OpNotLike {
				op = "NOT LIKE"
			}
			escaped := "%" + escapeLike(fmt.Sprint(f.Value)) + "%"
			conds = append(conds, fmt.Sprintf("%s %s :%s ESCAPE '\\'", f.Field, op, name))
			args = append(args, sql.Named(name, escaped))
		default:
			conds = append(conds, fmt.Sprintf("%s %s :%s", f.Field, string(f.Op), name))
			args = append(args, sql.Named(name, f.Value))
		}
	}

	return strings.Join(conds, " AND "), args
}

// Build returns the data query (with ORDER BY / LIMIT / OFFSET) and the
// count query (sharing the same WHERE clause, without ORDER BY / LIMIT),
// plus the bound named parameters shared by both.
func (b *QueryBuilder) Build() (dataSQL string, countSQL string, args []sql.NamedArg) {
	where, args := b.whereClause()

	var data, count strings.Builder
	data.WriteString("SELECT * FROM ")
	data.WriteString(b.table)
	count.WriteString("SELECT COUNT(*) FROM ")
	count.WriteString(b.table)

	if where != "" {
		data.WriteString(" WHERE ")
		data.WriteString(where)
		count.WriteString(" WHERE ")
		count.WriteString(where)
	}

	if len(b.sorts) > 0 {
		clauses := make([]string, len(b.sorts))
		for i, s := range b.sorts {
			dir := "ASC"
			if s.Desc {
				dir = "DESC"
			}
			clauses[i] = fmt.Sprintf("%s %s", s.Field, dir)
		}
		data.WriteString(" ORDER BY ")
		data.WriteString(strings.Join(clauses, ", "))
	}

	if b.limit > 0 {
		data.WriteString(fmt.Sprintf(" LIMIT %d", b.limit))
	}
	if b.offset > 0 {
		data.WriteString(fmt.Sprintf(" OFFSET %d", b.offset))
	}

	return data.String(), count.String(), args
}

// ParseSortString splits a `-field`/`+field`/`field` token into a Sort.
func ParseSortString(s string) Sort {
	if strings.HasPrefix(s, "-") {
		return Sort{Field: s[1:], Desc: true}
	}
	if strings.HasPrefix(s, "+") {
		return Sort{Field: s[1:]}
	}
	return Sort{Field: s}
}

// NamedArgsToAny adapts a []sql.NamedArg to the variadic []any that
// database/sql's Query/Exec methods accept.
func NamedArgsToAny(args []sql.NamedArg) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}
