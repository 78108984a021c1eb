package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bunbase/bunbase/internal/store"
)

// FileMeta is a row of the _files metadata table (spec §4.8), keyed by
// (collection, recordId, field, filename). The record's own column stores
// the filename(s); this table tracks the rest — size, mime type, original
// name — for download and bookkeeping.
type FileMeta struct {
	ID             string
	CollectionName string
	RecordID       string
	FieldName      string
	Filename       string
	OriginalName   string
	Size           int64
	MimeType       string
	Checksum       string
	CreatedAt      time.Time
}

// MetadataStore persists FileMeta rows in the _files table created by
// schema.Bootstrap.
type MetadataStore struct {
	db *store.DB
}

func NewMetadataStore(db *store.DB) *MetadataStore {
	return &MetadataStore{db: db}
}

// Create inserts a file metadata row. If tx is non-nil the insert runs
// within it, so it commits or rolls back with the record mutation that
// produced it.
func (s *MetadataStore) Create(ctx context.Context, tx *store.Tx, meta *FileMeta) error {
	if meta.ID == "" {
		meta.ID = store.GenerateShortID()
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO _files (id, collection_name, record_id, field_name, filename, original_name, size, mime_type, checksum, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	args := []any{
		meta.ID, meta.CollectionName, meta.RecordID, meta.FieldName,
		meta.Filename, meta.OriginalName, meta.Size, meta.MimeType, meta.Checksum,
		meta.CreatedAt.Format(time.RFC3339),
	}

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, args...)
	} else {
		_, err = s.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return fmt.Errorf("inserting file metadata: %w", err)
	}
	return nil
}

// Get retrieves a single file's metadata, or ErrNotFound.
func (s *MetadataStore) Get(ctx context.Context, collectionName, recordID, filename string) (*FileMeta, error) {
	const query = `
		SELECT id, collection_name, record_id, field_name, filename, original_name, size, mime_type, checksum, created_at
		FROM _files WHERE collection_name = ? AND record_id = ? AND filename = ?
	`
	row := s.db.QueryRowContext(ctx, query, collectionName, recordID, filename)
	meta, err := scanFileMetaRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting file metadata: %w", err)
	}
	return meta, nil
}

// ListForRecord returns every file tracked for one record, across all
// fields.
func (s *MetadataStore) ListForRecord(ctx context.Context, collectionName, recordID string) ([]*FileMeta, error) {
	const query = `
		SELECT id, collection_name, record_id, field_name, filename, original_name, size, mime_type, checksum, created_at
		FROM _files WHERE collection_name = ? AND record_id = ?
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, collectionName, recordID)
	if err != nil {
		return nil, fmt.Errorf("listing file metadata: %w", err)
	}
	defer rows.Close()

	var metas []*FileMeta
	for rows.Next() {
		meta, err := scanFileMetaRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file metadata: %w", err)
		}
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

// DeleteForRecord removes every tracked file row for a record, used
// alongside Backend.DeleteDir when a record is deleted (spec §4.8).
func (s *MetadataStore) DeleteForRecord(ctx context.Context, tx *store.Tx, collectionName, recordID string) error {
	const query = `DELETE FROM _files WHERE collection_name = ? AND record_id = ?`
	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, collectionName, recordID)
	} else {
		_, err = s.db.ExecContext(ctx, query, collectionName, recordID)
	}
	if err != nil {
		return fmt.Errorf("deleting file metadata: %w", err)
	}
	return nil
}

// DeleteByFilename removes the metadata row for one filename, used when a
// multi-file field's update drops an individual file.
func (s *MetadataStore) DeleteByFilename(ctx context.Context, tx *store.Tx, collectionName, recordID, filename string) error {
	const query = `DELETE FROM _files WHERE collection_name = ? AND record_id = ? AND filename = ?`
	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, collectionName, recordID, filename)
	} else {
		_, err = s.db.ExecContext(ctx, query, collectionName, recordID, filename)
	}
	if err != nil {
		return fmt.Errorf("deleting file metadata row: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFileMetaRow(row scanner) (*FileMeta, error) {
	var meta FileMeta
	var createdAt string
	if err := row.Scan(
		&meta.ID, &meta.CollectionName, &meta.RecordID, &meta.FieldName,
		&meta.Filename, &meta.OriginalName, &meta.Size, &meta.MimeType, &meta.Checksum,
		&createdAt,
	); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	meta.CreatedAt = t
	return &meta, nil
}
