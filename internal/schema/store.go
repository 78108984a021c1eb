package schema

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bunbase/bunbase/internal/store"
)

// bootstrapDDL creates the metadata tables described in spec §3.1. It runs
// once at startup in place of the donor's file-based migration runner.
const bootstrapDDL = `
CREATE TABLE IF NOT EXISTS _collections (
	id TEXT PRIMARY KEY,
	name TEXT UNIQUE NOT NULL,
	type TEXT NOT NULL,
	options TEXT NOT NULL DEFAULT '{}',
	list_rule TEXT,
	view_rule TEXT,
	create_rule TEXT,
	update_rule TEXT,
	delete_rule TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS _fields (
	id TEXT PRIMARY KEY,
	collection_id TEXT NOT NULL REFERENCES _collections(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	required INTEGER NOT NULL DEFAULT 0,
	options TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	UNIQUE(collection_id, name)
);

CREATE TABLE IF NOT EXISTS _admins (
	id TEXT PRIMARY KEY,
	email TEXT UNIQUE NOT NULL,
	password_hash TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS _refresh_tokens (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	collection_id TEXT NOT NULL,
	token_id TEXT UNIQUE NOT NULL,
	created_at TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	revoked INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user_id ON _refresh_tokens(user_id);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_token_id ON _refresh_tokens(token_id);

CREATE TABLE IF NOT EXISTS _verification_tokens (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	collection_name TEXT NOT NULL,
	token_hash TEXT UNIQUE NOT NULL,
	type TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	used INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS _files (
	id TEXT PRIMARY KEY,
	collection_name TEXT NOT NULL,
	record_id TEXT NOT NULL,
	field_name TEXT NOT NULL,
	filename TEXT NOT NULL,
	original_name TEXT NOT NULL,
	size INTEGER NOT NULL,
	mime_type TEXT NOT NULL,
	checksum TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_record ON _files(collection_name, record_id);
`

// Bootstrap creates the metadata tables if they do not already exist.
func Bootstrap(ctx context.Context, db *store.DB) error {
	_, err := db.ExecContext(ctx, bootstrapDDL)
	if err != nil {
		return fmt.Errorf("bootstrapping metadata tables: %w", err)
	}
	return nil
}

// Manager is the schema engine: it owns collection/field metadata and their
// backing tables.
type Manager struct {
	db *store.DB
}

func NewManager(db *store.DB) *Manager {
	return &Manager{db: db}
}

// CreateCollectionInput describes a new collection (spec §4.2).
type CreateCollectionInput struct {
	Name    string
	Type    CollectionType
	Options []byte
	Rules   Rules
	Fields  []FieldInput
}

// FieldInput describes a field being declared on a collection.
type FieldInput struct {
	Name     string
	Type     FieldType
	Required bool
	Options  []byte
}

// CreateCollection validates the name and field set, inserts metadata, and
// materializes the backing table, all within one transaction (spec §4.2).
func (m *Manager) CreateCollection(ctx context.Context, in CreateCollectionInput) (*Collection, error) {
	if err := ValidateIdentifier(in.Name); err != nil {
		return nil, err
	}

	for _, f := range in.Fields {
		if err := ValidateFieldName(f.Name, in.Type); err != nil {
			return nil, err
		}
	}

	if exists, err := m.collectionExists(ctx, in.Name); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("collection %q already exists", in.Name)
	}

	now := store.Now()
	coll := &Collection{
		ID:      store.GenerateShortID(),
		Name:    in.Name,
		Type:    in.Type,
		Options: in.Options,
		Rules:   in.Rules,
	}
	if coll.Options == nil {
		coll.Options = []byte("{}")
	}

	relationTargets := make(map[string]string)
	for _, fi := range in.Fields {
		field := &Field{
			ID:           store.GenerateShortID(),
			CollectionID: coll.ID,
			Name:         fi.Name,
			Type:         fi.Type,
			Required:     fi.Required,
			Options:      fi.Options,
		}
		if field.Options == nil {
			field.Options = []byte("{}")
		}
		coll.Fields = append(coll.Fields, field)

		if fi.Type == FieldRelation {
			var relOpts RelationOptions
			if err := json.Unmarshal(fi.Options, &relOpts); err == nil && relOpts.TargetCollection != "" {
				if err := ValidateIdentifier(relOpts.TargetCollection); err != nil {
					return nil, err
				}
				relationTargets[fi.Name] = relOpts.TargetCollection
			}
		}
	}

	err := m.db.Transaction(ctx, func(tx *store.Tx) error {
		if _, err := tx.Exec(
			`INSERT INTO _collections (id, name, type, options, list_rule, view_rule, create_rule, update_rule, delete_rule, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			coll.ID, coll.Name, string(coll.Type), string(coll.Options),
			coll.Rules.ListRule, coll.Rules.ViewRule, coll.Rules.CreateRule, coll.Rules.UpdateRule, coll.Rules.DeleteRule,
			now, now,
		); err != nil {
			return fmt.Errorf("inserting collection metadata: %w", err)
		}

		for _, f := range coll.Fields {
			if _, err := tx.Exec(
				`INSERT INTO _fields (id, collection_id, name, type, required, options, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				f.ID, f.CollectionID, f.Name, string(f.Type), f.Required, string(f.Options), now,
			); err != nil {
				return fmt.Errorf("inserting field metadata: %w", err)
			}
		}

		ddl := backingTableDDL(coll, relationTargets)
		if _, err := tx.Exec(ddl); err != nil {
			return fmt.Errorf("materializing backing table: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	createdAt, _ := time.Parse(time.RFC3339, now)
	coll.CreatedAt, coll.UpdatedAt = createdAt, createdAt

	return coll, nil
}

func (m *Manager) collectionExists(ctx context.Context, name string) (bool, error) {
	var count int
	err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM _collections WHERE name = ?`, name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking collection existence: %w", err)
	}
	return count > 0, nil
}

// GetCollection loads a collection and its fields by name.
func (m *Manager) GetCollection(ctx context.Context, name string) (*Collection, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT id, name, type, options, list_rule, view_rule, create_rule, update_rule, delete_rule, created_at, updated_at
		 FROM _collections WHERE name = ?`, name)

	coll, err := scanCollection(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("collection %q not found", name)
	} else if err != nil {
		return nil, err
	}

	fields, err := m.loadFields(ctx, coll.ID)
	if err != nil {
		return nil, err
	}
	coll.Fields = fields

	return coll, nil
}

// ListCollections loads every collection with its fields.
func (m *Manager) ListCollections(ctx context.Context) ([]*Collection, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, name, type, options, list_rule, view_rule, create_rule, update_rule, delete_rule, created_at, updated_at
		 FROM _collections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer rows.Close()

	var out []*Collection
	for rows.Next() {
		coll, err := scanCollectionRows(rows)
		if err != nil {
			return nil, err
		}
		fields, err := m.loadFields(context.Background(), coll.ID)
		if err != nil {
			return nil, err
		}
		coll.Fields = fields
		out = append(out, coll)
	}
	return out, rows.Err()
}

func (m *Manager) loadFields(ctx context.Context, collectionID string) ([]*Field, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, collection_id, name, type, required, options, created_at FROM _fields WHERE collection_id = ? ORDER BY rowid`,
		collectionID)
	if err != nil {
		return nil, fmt.Errorf("loading fields: %w", err)
	}
	defer rows.Close()

	var fields []*Field
	for rows.Next() {
		f := &Field{}
		var required int
		var createdAt string
		if err := rows.Scan(&f.ID, &f.CollectionID, &f.Name, &f.Type, &required, &f.Options, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning field: %w", err)
		}
		f.Required = required != 0
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCollection(row *sql.Row) (*Collection, error) {
	return scanCollectionInto(row)
}

func scanCollectionRows(rows *sql.Rows) (*Collection, error) {
	return scanCollectionInto(rows)
}

func scanCollectionInto(s scannable) (*Collection, error) {
	c := &Collection{}
	var typ, createdAt, updatedAt string
	var listRule, viewRule, createRule, updateRule, deleteRule sql.NullString

	if err := s.Scan(&c.ID, &c.Name, &typ, &c.Options, &listRule, &viewRule, &createRule, &updateRule, &deleteRule, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	c.Type = CollectionType(typ)
	c.Rules = Rules{
		ListRule:   nullToPtr(listRule),
		ViewRule:   nullToPtr(viewRule),
		CreateRule: nullToPtr(createRule),
		UpdateRule: nullToPtr(updateRule),
		DeleteRule: nullToPtr(deleteRule),
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return c, nil
}

func nullToPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

// DeleteCollection drops the backing table and cascades metadata deletion
// (spec §3.5, §4.2).
func (m *Manager) DeleteCollection(ctx context.Context, name string) error {
	coll, err := m.GetCollection(ctx, name)
	if err != nil {
		return err
	}

	return m.db.Transaction(ctx, func(tx *store.Tx) error {
		if _, err := tx.Exec(`DELETE FROM _collections WHERE id = ?`, coll.ID); err != nil {
			return fmt.Errorf("deleting collection metadata: %w", err)
		}
		if _, err := tx.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", coll.Name)); err != nil {
			return fmt.Errorf("dropping backing table: %w", err)
		}
		return nil
	})
}
