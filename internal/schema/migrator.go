package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bunbase/bunbase/internal/store"
)

// AddField inserts a field metadata row and appends a column to the backing
// table. A required column is given a type-appropriate default so existing
// rows remain valid (spec §4.2).
func (m *Manager) AddField(ctx context.Context, collectionName string, in FieldInput) (*Field, error) {
	coll, err := m.GetCollection(ctx, collectionName)
	if err != nil {
		return nil, err
	}
	if err := ValidateFieldName(in.Name, coll.Type); err != nil {
		return nil, err
	}
	if coll.FieldByName(in.Name) != nil {
		return nil, fmt.Errorf("field %q already exists on collection %q", in.Name, collectionName)
	}

	relationTarget := ""
	if in.Type == FieldRelation {
		var relOpts RelationOptions
		if err := json.Unmarshal(in.Options, &relOpts); err == nil {
			relationTarget = relOpts.TargetCollection
		}
	}

	now := store.Now()
	field := &Field{
		ID:           store.GenerateShortID(),
		CollectionID: coll.ID,
		Name:         in.Name,
		Type:         in.Type,
		Required:     in.Required,
		Options:      in.Options,
	}
	if field.Options == nil {
		field.Options = []byte("{}")
	}

	ddl := columnDDL(field, relationTarget)
	if field.Required {
		ddl += fmt.Sprintf(" DEFAULT %s", zeroValueLiteral(field.Type))
	}

	err = m.db.Transaction(ctx, func(tx *store.Tx) error {
		if _, err := tx.Exec(
			`INSERT INTO _fields (id, collection_id, name, type, required, options, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			field.ID, field.CollectionID, field.Name, string(field.Type), field.Required, string(field.Options), now,
		); err != nil {
			return fmt.Errorf("inserting field metadata: %w", err)
		}
		if _, err := tx.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", coll.Name, ddl)); err != nil {
			return fmt.Errorf("adding column: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return field, nil
}

// UpdateFieldInput describes a field change. A nil Type/Required leaves that
// aspect unchanged; a rename-only change (Type and Required both nil, Name
// different) takes the fast path.
type UpdateFieldInput struct {
	NewName  string
	Type     *FieldType
	Required *bool
	Options  []byte
}

// UpdateField renames a field in place, or, when its type or required-ness
// changes, runs the table-copy migration (spec §4.2 step 2).
func (m *Manager) UpdateField(ctx context.Context, collectionName, fieldName string, in UpdateFieldInput) error {
	coll, err := m.GetCollection(ctx, collectionName)
	if err != nil {
		return err
	}
	field := coll.FieldByName(fieldName)
	if field == nil {
		return fmt.Errorf("field %q not found on collection %q", fieldName, collectionName)
	}

	renameOnly := in.Type == nil && in.Required == nil
	newName := field.Name
	if in.NewName != "" {
		newName = in.NewName
	}

	if renameOnly {
		if newName == field.Name {
			return nil
		}
		if err := ValidateFieldName(newName, coll.Type); err != nil {
			return err
		}
		return m.db.Transaction(ctx, func(tx *store.Tx) error {
			if _, err := tx.Exec(`UPDATE _fields SET name = ? WHERE id = ?`, newName, field.ID); err != nil {
				return fmt.Errorf("renaming field metadata: %w", err)
			}
			if _, err := tx.Exec(fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", coll.Name, field.Name, newName)); err != nil {
				return fmt.Errorf("renaming column: %w", err)
			}
			return nil
		})
	}

	updated := *field
	updated.Name = newName
	if in.Type != nil {
		updated.Type = *in.Type
	}
	if in.Required != nil {
		updated.Required = *in.Required
	}
	if in.Options != nil {
		updated.Options = in.Options
	}

	newFields := make([]*Field, len(coll.Fields))
	for i, f := range coll.Fields {
		if f.ID == field.ID {
			newFields[i] = &updated
		} else {
			newFields[i] = f
		}
	}

	commonColumns := []string{field.Name + " AS " + updated.Name}
	for _, f := range coll.Fields {
		if f.ID != field.ID {
			commonColumns = append(commonColumns, f.Name)
		}
	}

	if err := m.tableCopyMigration(ctx, coll, newFields, commonColumns); err != nil {
		return err
	}

	return m.db.Transaction(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(`UPDATE _fields SET name = ?, type = ?, required = ?, options = ? WHERE id = ?`,
			updated.Name, string(updated.Type), updated.Required, string(updated.Options), field.ID)
		return err
	})
}

// DropField removes a field's metadata and column via the table-copy
// procedure (spec §4.2).
func (m *Manager) DropField(ctx context.Context, collectionName, fieldName string) error {
	coll, err := m.GetCollection(ctx, collectionName)
	if err != nil {
		return err
	}
	field := coll.FieldByName(fieldName)
	if field == nil {
		return fmt.Errorf("field %q not found on collection %q", fieldName, collectionName)
	}

	var newFields []*Field
	var commonColumns []string
	for _, f := range coll.Fields {
		if f.ID == field.ID {
			continue
		}
		newFields = append(newFields, f)
		commonColumns = append(commonColumns, f.Name)
	}

	if err := m.tableCopyMigration(ctx, coll, newFields, commonColumns); err != nil {
		return err
	}

	return m.db.Transaction(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(`DELETE FROM _fields WHERE id = ?`, field.ID)
		return err
	})
}

// tableCopyMigration performs the generalized 12-step shadow-table
// migration (spec §4.2):
//
//  1. disable FK enforcement
//  2. snapshot indexes and triggers defined on the table
//  3. create a temporary table with the new schema
//  4. copy rows, projecting only columns present in both old and new (plus system columns)
//  5. drop the old table
//  6. rename the temporary table
//  7. recreate indexes and triggers (best-effort; skip those referencing removed columns)
//  8. run FK integrity check; abort on any violation
//  9. re-enable FK enforcement
//
// SQLite refuses to toggle the foreign_keys pragma inside a transaction, so
// steps 1 and 9 happen outside the transaction that performs 2-8.
func (m *Manager) tableCopyMigration(ctx context.Context, coll *Collection, newFields []*Field, commonColumns []string) error {
	if _, err := m.db.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("disabling foreign keys: %w", err)
	}
	defer func() {
		_, _ = m.db.ExecContext(ctx, "PRAGMA foreign_keys = ON")
	}()

	indexes, triggers, err := m.snapshotIndexesAndTriggers(ctx, coll.Name)
	if err != nil {
		return fmt.Errorf("snapshotting indexes/triggers: %w", err)
	}

	newColl := &Collection{Name: coll.Name, Type: coll.Type, Fields: newFields}
	relationTargets := relationTargetsOf(newFields)

	tmpName := coll.Name + "__migrate_tmp"

	err = m.db.Transaction(ctx, func(tx *store.Tx) error {
		tmpDDL := backingTableDDL(&Collection{Name: tmpName, Type: newColl.Type, Fields: newColl.Fields}, relationTargets)
		if _, err := tx.Exec(tmpDDL); err != nil {
			return fmt.Errorf("creating temp table: %w", err)
		}

		destCols := append([]string{}, SystemColumns...)
		if coll.Type == CollectionAuth {
			destCols = append(destCols, AuthSystemColumns...)
		}

		srcExprs := append([]string{}, SystemColumns...)
		if coll.Type == CollectionAuth {
			srcExprs = append(srcExprs, AuthSystemColumns...)
		}
		srcExprs = append(srcExprs, commonColumns...)

		for _, c := range commonColumns {
			// commonColumns entries are either "old AS new" (rename) or a bare name.
			parts := strings.SplitN(c, " AS ", 2)
			if len(parts) == 2 {
				destCols = append(destCols, parts[1])
			} else {
				destCols = append(destCols, c)
			}
		}

		copySQL := fmt.Sprintf(
			"INSERT INTO %s (%s) SELECT %s FROM %s",
			tmpName, strings.Join(destCols, ", "), strings.Join(srcExprs, ", "), coll.Name,
		)
		if _, err := tx.Exec(copySQL); err != nil {
			return fmt.Errorf("copying rows: %w", err)
		}

		if _, err := tx.Exec(fmt.Sprintf("DROP TABLE %s", coll.Name)); err != nil {
			return fmt.Errorf("dropping old table: %w", err)
		}

		if _, err := tx.Exec(fmt.Sprintf("ALTER TABLE %s RENAME TO %s", tmpName, coll.Name)); err != nil {
			return fmt.Errorf("renaming temp table: %w", err)
		}

		droppedColumns := droppedColumnNames(coll, destCols)
		for _, idxSQL := range indexes {
			if !mentionsAnyColumn(idxSQL, droppedColumns) {
				if _, err := tx.Exec(idxSQL); err != nil {
					return fmt.Errorf("recreating index: %w", err)
				}
			}
		}
		for _, trigSQL := range triggers {
			if !mentionsAnyColumn(trigSQL, droppedColumns) {
				if _, err := tx.Exec(trigSQL); err != nil {
					return fmt.Errorf("recreating trigger: %w", err)
				}
			}
		}

		rows, err := tx.Query("PRAGMA foreign_key_check")
		if err != nil {
			return fmt.Errorf("running foreign key check: %w", err)
		}
		violated := rows.Next()
		rows.Close()
		if violated {
			return fmt.Errorf("foreign key check failed after migration")
		}

		return nil
	})

	return err
}

func relationTargetsOf(fields []*Field) map[string]string {
	out := make(map[string]string)
	for _, f := range fields {
		if f.Type != FieldRelation {
			continue
		}
		var opts RelationOptions
		if err := json.Unmarshal(f.Options, &opts); err == nil && opts.TargetCollection != "" {
			out[f.Name] = opts.TargetCollection
		}
	}
	return out
}

func (m *Manager) snapshotIndexesAndTriggers(ctx context.Context, table string) (indexes []string, triggers []string, err error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT type, sql FROM sqlite_master WHERE tbl_name = ? AND sql IS NOT NULL AND type IN ('index', 'trigger')`,
		table)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var typ, sqlText string
		if err := rows.Scan(&typ, &sqlText); err != nil {
			return nil, nil, err
		}
		switch typ {
		case "index":
			indexes = append(indexes, sqlText)
		case "trigger":
			triggers = append(triggers, sqlText)
		}
	}
	return indexes, triggers, rows.Err()
}

// droppedColumnNames returns the old table's column names that are absent
// from the new column set.
func droppedColumnNames(oldColl *Collection, newColumns []string) []string {
	kept := make(map[string]bool, len(newColumns))
	for _, c := range newColumns {
		kept[c] = true
	}

	var dropped []string
	old := append([]string{}, SystemColumns...)
	if oldColl.Type == CollectionAuth {
		old = append(old, AuthSystemColumns...)
	}
	for _, f := range oldColl.Fields {
		old = append(old, f.Name)
	}
	for _, name := range old {
		if !kept[name] {
			dropped = append(dropped, name)
		}
	}
	return dropped
}

// mentionsAnyColumn is a best-effort token-boundary check for whether an
// index/trigger definition references one of the given column names, per
// spec §4.2 step 7 ("silently skip those referencing removed columns"). A
// full SQL parse is out of scope; this catches the common case of a column
// name appearing as its own identifier token.
func mentionsAnyColumn(ddl string, columns []string) bool {
	lower := strings.ToLower(ddl)
	for _, col := range columns {
		needle := strings.ToLower(col)
		idx := 0
		for {
			pos := strings.Index(lower[idx:], needle)
			if pos < 0 {
				break
			}
			pos += idx
			before := byte(' ')
			if pos > 0 {
				before = lower[pos-1]
			}
			after := byte(' ')
			if pos+len(needle) < len(lower) {
				after = lower[pos+len(needle)]
			}
			if !isIdentByte(before) && !isIdentByte(after) {
				return true
			}
			idx = pos + len(needle)
		}
	}
	return false
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
