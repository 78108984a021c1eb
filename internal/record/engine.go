package record

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bunbase/bunbase/internal/apierror"
	"github.com/bunbase/bunbase/internal/hooks"
	"github.com/bunbase/bunbase/internal/rules"
	"github.com/bunbase/bunbase/internal/schema"
	"github.com/bunbase/bunbase/internal/store"
)

func (e *Engine) evalCtx(identity Identity, rec, body map[string]any) rules.EvalContext {
	return rules.EvalContext{
		IsAdmin: identity.IsAdmin,
		Auth:    identity.Auth,
		Record:  rec,
		Body:    body,
	}
}

// Create runs the full create pipeline (spec §4.5): resolve, authorize,
// before-hook (may mutate data), validate shape, validate relations,
// serialize, write, reload, deserialize, after-hook.
func (e *Engine) Create(ctx context.Context, collectionName string, identity Identity, data map[string]any, req hooks.RequestDescriptor) (map[string]any, error) {
	coll, err := e.schema.GetCollection(ctx, collectionName)
	if err != nil {
		return nil, apierror.NotFound("collection %q not found", collectionName)
	}

	allowed, err := e.rules.Check(coll.Rules.CreateRule, e.evalCtx(identity, nil, data))
	if err != nil {
		return nil, apierror.Internal(err)
	}
	if !allowed {
		return nil, apierror.Forbidden("not allowed to create records in %q", collectionName)
	}

	hctx := &hooks.Context{Event: hooks.BeforeCreate, Collection: collectionName, Data: data, Request: req}
	if err := e.hooks.TriggerBefore(ctx, hctx); err != nil {
		return nil, err
	}
	data = hctx.Data

	if fieldErrs := validateShape(coll, data, false); len(fieldErrs) > 0 {
		return nil, apierror.ValidationFailed(fieldErrs)
	}
	relErrs, err := validateRelations(ctx, e.db, coll, data)
	if err != nil {
		return nil, apierror.Internal(err)
	}
	if len(relErrs) > 0 {
		return nil, apierror.BadRequest("relation validation failed").WithData(relErrs)
	}

	serialized, err := serialize(coll, data)
	if err != nil {
		return nil, apierror.Internal(err)
	}

	id := store.GenerateShortID()
	now := store.Now()

	cols := []string{"id", "created_at", "updated_at"}
	vals := []any{id, now, now}
	for name, v := range serialized {
		cols = append(cols, name)
		vals = append(vals, v)
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = "?"
	}

	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", coll.Name, joinCols(cols), joinCols(placeholders))

	err = e.db.Transaction(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(insertSQL, vals...)
		return err
	})
	if err != nil {
		if ce := store.AsConstraintError(store.ClassifyError(err)); ce != nil && ce.Type == "unique" {
			return nil, apierror.Conflict("unique constraint violated")
		}
		return nil, apierror.Internal(err)
	}

	row, err := e.reload(ctx, coll, id)
	if err != nil {
		return nil, apierror.Internal(err)
	}
	result := deserialize(coll, row)

	e.hooks.TriggerAfter(ctx, &hooks.Context{Event: hooks.AfterCreate, Collection: collectionName, Record: result, Request: req})

	return result, nil
}

// Get loads a single record by id, enforcing the view rule.
func (e *Engine) Get(ctx context.Context, collectionName, id string, identity Identity) (map[string]any, error) {
	coll, err := e.schema.GetCollection(ctx, collectionName)
	if err != nil {
		return nil, apierror.NotFound("collection %q not found", collectionName)
	}

	row, err := e.reload(ctx, coll, id)
	if err == sql.ErrNoRows {
		return nil, apierror.NotFound("record %q not found in %q", id, collectionName)
	} else if err != nil {
		return nil, apierror.Internal(err)
	}
	result := deserialize(coll, row)

	allowed, err := e.rules.Check(coll.Rules.ViewRule, e.evalCtx(identity, result, nil))
	if err != nil {
		return nil, apierror.Internal(err)
	}
	if !allowed {
		return nil, apierror.Forbidden("not allowed to view this record")
	}

	return result, nil
}

// Update runs the full update pipeline: resolve, load existing, authorize,
// before-hook (may mutate patch), validate shape (partial), validate
// relations, serialize, write, reload, deserialize, after-hook.
func (e *Engine) Update(ctx context.Context, collectionName, id string, identity Identity, patch map[string]any, req hooks.RequestDescriptor) (map[string]any, error) {
	coll, err := e.schema.GetCollection(ctx, collectionName)
	if err != nil {
		return nil, apierror.NotFound("collection %q not found", collectionName)
	}

	existingRow, err := e.reload(ctx, coll, id)
	if err == sql.ErrNoRows {
		return nil, apierror.NotFound("record %q not found in %q", id, collectionName)
	} else if err != nil {
		return nil, apierror.Internal(err)
	}
	existing := deserialize(coll, existingRow)

	allowed, err := e.rules.Check(coll.Rules.UpdateRule, e.evalCtx(identity, existing, patch))
	if err != nil {
		return nil, apierror.Internal(err)
	}
	if !allowed {
		return nil, apierror.Forbidden("not allowed to update this record")
	}

	hctx := &hooks.Context{Event: hooks.BeforeUpdate, Collection: collectionName, ID: id, Data: patch, Existing: existing, Request: req}
	if err := e.hooks.TriggerBefore(ctx, hctx); err != nil {
		return nil, err
	}
	patch = hctx.Data

	if fieldErrs := validateShape(coll, patch, true); len(fieldErrs) > 0 {
		return nil, apierror.ValidationFailed(fieldErrs)
	}
	relErrs, err := validateRelations(ctx, e.db, coll, patch)
	if err != nil {
		return nil, apierror.Internal(err)
	}
	if len(relErrs) > 0 {
		return nil, apierror.BadRequest("relation validation failed").WithData(relErrs)
	}

	serialized, err := serialize(coll, patch)
	if err != nil {
		return nil, apierror.Internal(err)
	}

	now := store.Now()
	setClauses := []string{"updated_at = ?"}
	vals := []any{now}
	for name, v := range serialized {
		setClauses = append(setClauses, name+" = ?")
		vals = append(vals, v)
	}
	vals = append(vals, id)

	updateSQL := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", coll.Name, joinCols(setClauses))

	err = e.db.Transaction(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(updateSQL, vals...)
		return err
	})
	if err != nil {
		if ce := store.AsConstraintError(store.ClassifyError(err)); ce != nil && ce.Type == "unique" {
			return nil, apierror.Conflict("unique constraint violated")
		}
		return nil, apierror.Internal(err)
	}

	row, err := e.reload(ctx, coll, id)
	if err != nil {
		return nil, apierror.Internal(err)
	}
	result := deserialize(coll, row)

	e.hooks.TriggerAfter(ctx, &hooks.Context{Event: hooks.AfterUpdate, Collection: collectionName, Record: result, Request: req})

	return result, nil
}

// Delete runs the full delete pipeline: resolve, load existing, authorize,
// before-hook, delete row, after-hook. Per-record file cleanup is wired in
// as a registered afterDelete hook (spec §4.8), not performed here.
func (e *Engine) Delete(ctx context.Context, collectionName, id string, identity Identity, req hooks.RequestDescriptor) error {
	coll, err := e.schema.GetCollection(ctx, collectionName)
	if err != nil {
		return apierror.NotFound("collection %q not found", collectionName)
	}

	existingRow, err := e.reload(ctx, coll, id)
	if err == sql.ErrNoRows {
		return apierror.NotFound("record %q not found in %q", id, collectionName)
	} else if err != nil {
		return apierror.Internal(err)
	}
	existing := deserialize(coll, existingRow)

	allowed, err := e.rules.Check(coll.Rules.DeleteRule, e.evalCtx(identity, existing, nil))
	if err != nil {
		return apierror.Internal(err)
	}
	if !allowed {
		return apierror.Forbidden("not allowed to delete this record")
	}

	hctx := &hooks.Context{Event: hooks.BeforeDelete, Collection: collectionName, ID: id, Existing: existing, Request: req}
	if err := e.hooks.TriggerBefore(ctx, hctx); err != nil {
		return err
	}

	err = e.db.Transaction(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", coll.Name), id)
		return err
	})
	if err != nil {
		return apierror.Internal(err)
	}

	e.hooks.TriggerAfter(ctx, &hooks.Context{Event: hooks.AfterDelete, Collection: collectionName, ID: id, Request: req})

	return nil
}

func (e *Engine) reload(ctx context.Context, coll *schema.Collection, id string) (store.Row, error) {
	row := e.db.QueryRowContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE id = ?", coll.Name), id)
	return store.ScanRow(row, append([]string{}, allColumns(coll)...))
}

func allColumns(coll *schema.Collection) []string {
	cols := append([]string{}, schema.SystemColumns...)
	if coll.Type == schema.CollectionAuth {
		cols = append(cols, schema.AuthSystemColumns...)
	}
	for _, f := range coll.Fields {
		cols = append(cols, f.Name)
	}
	return cols
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
