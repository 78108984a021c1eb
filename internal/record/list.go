package record

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bunbase/bunbase/internal/apierror"
	"github.com/bunbase/bunbase/internal/schema"
	"github.com/bunbase/bunbase/internal/store"
)

// List runs the read-only list pipeline (spec §4.5, §4.4): resolve
// collection, authorize (list rule is evaluated once, with neither a
// record nor a request body), build the
// whitelisted data+count queries, deserialize, and attach expand maps.
func (e *Engine) List(ctx context.Context, collectionName string, identity Identity, opts ListOptions) (*ListResult, error) {
	coll, err := e.schema.GetCollection(ctx, collectionName)
	if err != nil {
		return nil, apierror.NotFound("collection %q not found", collectionName)
	}

	allowed, err := e.rules.Check(coll.Rules.ListRule, e.evalCtx(identity, nil, nil))
	if err != nil {
		return nil, apierror.Internal(err)
	}
	if !allowed {
		return nil, apierror.Forbidden("not allowed to list records in %q", collectionName)
	}

	opts = opts.Normalize()

	qb := store.NewQueryBuilder(coll.Name, allColumns(coll))
	for _, f := range opts.Filters {
		if err := qb.AddFilter(f); err != nil {
			return nil, apierror.BadRequest("%s", err.Error())
		}
	}
	for _, s := range opts.Sorts {
		if err := qb.AddSort(s); err != nil {
			return nil, apierror.BadRequest("%s", err.Error())
		}
	}
	qb.Limit(opts.PerPage).Offset((opts.Page - 1) * opts.PerPage)

	dataSQL, countSQL, namedArgs := qb.Build()
	args := store.NamedArgsToAny(namedArgs)

	var totalItems int
	if err := e.db.QueryRowContext(ctx, countSQL, args...).Scan(&totalItems); err != nil {
		return nil, apierror.Internal(err)
	}

	rows, err := e.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, apierror.Internal(err)
	}
	defer rows.Close()

	scanned, err := store.ScanRows(rows)
	if err != nil {
		return nil, apierror.Internal(err)
	}

	items := make([]map[string]any, len(scanned))
	for i, row := range scanned {
		items[i] = deserialize(coll, row)
	}

	if len(opts.Expand) > 0 {
		e.attachExpand(ctx, coll, items, opts.Expand)
	}

	totalPages := totalItems / opts.PerPage
	if totalItems%opts.PerPage != 0 {
		totalPages++
	}

	return &ListResult{
		Page:       opts.Page,
		PerPage:    opts.PerPage,
		TotalItems: totalItems,
		TotalPages: totalPages,
		Items:      items,
	}, nil
}

// attachExpand resolves each requested relation field by a single
// `WHERE id = ?` lookup into its target collection, attaching the result
// under `expand.<field>`. Unknown targets and missing rows are silently
// skipped rather than failing the list (spec §4.5).
func (e *Engine) attachExpand(ctx context.Context, coll *schema.Collection, items []map[string]any, expand []string) {
	wanted := make(map[string]bool, len(expand))
	for _, name := range expand {
		wanted[name] = true
	}

	targetCache := make(map[string]*schema.Collection)

	for _, item := range items {
		expanded := make(map[string]any)

		for _, f := range coll.Fields {
			if f.Type != schema.FieldRelation || !wanted[f.Name] {
				continue
			}
			id, ok := item[f.Name].(string)
			if !ok || id == "" {
				continue
			}

			var relOpts schema.RelationOptions
			if err := unmarshalOptions(f.Options, &relOpts); err != nil || relOpts.TargetCollection == "" {
				continue
			}

			target, ok := targetCache[relOpts.TargetCollection]
			if !ok {
				resolved, err := e.schema.GetCollection(ctx, relOpts.TargetCollection)
				if err != nil {
					targetCache[relOpts.TargetCollection] = nil
					continue
				}
				target = resolved
				targetCache[relOpts.TargetCollection] = target
			}
			if target == nil {
				continue
			}

			row := e.db.QueryRowContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE id = ?", target.Name), id)
			scanned, err := store.ScanRow(row, allColumns(target))
			if err == sql.ErrNoRows || err != nil {
				continue
			}
			expanded[f.Name] = deserialize(target, scanned)
		}

		if len(expanded) > 0 {
			item["expand"] = expanded
		}
	}
}
