package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/bunbase/bunbase/internal/schema"
	"github.com/bunbase/bunbase/internal/store"
)

var (
	ErrFileTooLarge   = errors.New("file exceeds the field's max size")
	ErrMimeNotAllowed = errors.New("file type not allowed for this field")
	ErrTooManyFiles   = errors.New("too many files for this field")
)

// signatures is a fixed magic-byte table for the handful of formats
// BunBase sniffs explicitly (spec §4.8: MIME header alone is not trusted;
// magic-byte verification is recommended when implementable). It is the
// only sniff: http.DetectContentType is not consulted, and when no entry
// matches, the declared MIME type is checked against the allow-list.
var signatures = []struct {
	mime   string
	prefix []byte
}{
	{"image/png", []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}},
	{"image/jpeg", []byte{0xFF, 0xD8, 0xFF}},
	{"image/gif", []byte("GIF87a")},
	{"image/gif", []byte("GIF89a")},
	{"application/pdf", []byte("%PDF-")},
	{"image/webp", []byte("RIFF")}, // followed by size then "WEBP"; good enough at this prefix length
}

// sniffMime matches data against the fixed signature table, returning ""
// if nothing recognized it — callers fall back to the declared MIME type
// in that case (Open Question 4).
func sniffMime(data []byte) string {
	for _, sig := range signatures {
		if bytes.HasPrefix(data, sig.prefix) {
			return sig.mime
		}
	}
	return ""
}

// mimeAllowed reports whether mimeType matches one of the field's declared
// prefixes, where a prefix ending in "/*" matches any subtype (spec §4.8).
func mimeAllowed(mimeType string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, pattern := range allowed {
		if strings.HasSuffix(pattern, "/*") {
			if strings.HasPrefix(mimeType, strings.TrimSuffix(pattern, "*")) {
				return true
			}
			continue
		}
		if mimeType == pattern {
			return true
		}
	}
	return false
}

func decodeFileOptions(raw []byte) schema.FileOptions {
	var opts schema.FileOptions
	if len(raw) == 0 {
		return opts
	}
	_ = json.Unmarshal(raw, &opts)
	return opts
}

// Service is the per-record file service: it validates uploads against a
// field's declared options, writes accepted files to the configured
// Backend under <collection>/<recordId>/<filename>, and tracks their
// metadata in the _files table (spec §4.8).
type Service struct {
	backend Backend
	meta    *MetadataStore
}

func NewService(backend Backend, meta *MetadataStore) *Service {
	return &Service{backend: backend, meta: meta}
}

// Upload is one file read into memory by the multipart handler, ready for
// validation and storage. DeclaredMimeType is whatever the client's
// multipart part header claimed — trusted only as a fallback when the
// fixed signature table doesn't recognize the content (Open Question 4:
// magic-byte depth).
type Upload struct {
	OriginalName     string
	DeclaredMimeType string
	Data             []byte
}

// ValidateUploads checks count and per-file size/MIME against field's
// declared FileOptions. It returns the resolved MIME type for each upload,
// in the same order, so callers don't re-resolve.
func ValidateUploads(field *schema.Field, uploads []Upload, existingCount int) ([]string, error) {
	opts := decodeFileOptions(field.Options)

	if opts.MaxCount > 0 && existingCount+len(uploads) > opts.MaxCount {
		return nil, fmt.Errorf("%w: field %q allows at most %d file(s)", ErrTooManyFiles, field.Name, opts.MaxCount)
	}

	mimes := make([]string, len(uploads))
	for i, u := range uploads {
		if opts.MaxSize > 0 && int64(len(u.Data)) > opts.MaxSize {
			return nil, fmt.Errorf("%w: field %q (%d bytes, max %d)", ErrFileTooLarge, field.Name, len(u.Data), opts.MaxSize)
		}
		mimeType := sniffMime(u.Data)
		if mimeType == "" {
			mimeType = u.DeclaredMimeType
		}
		if !mimeAllowed(mimeType, opts.MimeTypes) {
			return nil, fmt.Errorf("%w: field %q rejected mime %q", ErrMimeNotAllowed, field.Name, mimeType)
		}
		mimes[i] = mimeType
	}
	return mimes, nil
}

// opaqueFilename generates the stored filename: an opaque id plus the
// original extension, never the client-supplied name (spec §4.8).
func opaqueFilename(originalName string) string {
	ext := filepath.Ext(originalName)
	return store.GenerateShortID() + ext
}

// Save writes one validated upload to the backend and records its
// metadata. If tx is non-nil, the metadata insert is part of that
// transaction so it commits atomically with the record mutation that
// triggered it; the backend write itself happens outside any DB
// transaction since filesystem writes can't be rolled back by SQLite.
func (s *Service) Save(ctx context.Context, tx *store.Tx, collectionName, recordID, fieldName string, upload Upload, mimeType string) (*FileMeta, error) {
	filename := opaqueFilename(upload.OriginalName)
	key := recordID + "/" + filename

	if err := s.backend.Put(ctx, collectionName, key, bytes.NewReader(upload.Data), int64(len(upload.Data))); err != nil {
		return nil, fmt.Errorf("writing file: %w", err)
	}

	sum := sha256.Sum256(upload.Data)
	meta := &FileMeta{
		CollectionName: collectionName,
		RecordID:       recordID,
		FieldName:      fieldName,
		Filename:       filename,
		OriginalName:   upload.OriginalName,
		Size:           int64(len(upload.Data)),
		MimeType:       mimeType,
		Checksum:       hex.EncodeToString(sum[:]),
	}
	if err := s.meta.Create(ctx, tx, meta); err != nil {
		_ = s.backend.Delete(ctx, collectionName, key)
		return nil, err
	}
	return meta, nil
}

// Open returns the file's metadata and a reader over its contents, for
// the download endpoint (spec §6.3).
func (s *Service) Open(ctx context.Context, collectionName, recordID, filename string) (io.ReadCloser, *FileMeta, error) {
	meta, err := s.meta.Get(ctx, collectionName, recordID, filename)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.backend.Get(ctx, collectionName, recordID+"/"+filename)
	if err != nil {
		return nil, nil, err
	}
	return rc, meta, nil
}

// DeleteFile removes one tracked file, used when a multi-file field's
// update drops a filename from its list.
func (s *Service) DeleteFile(ctx context.Context, tx *store.Tx, collectionName, recordID, filename string) error {
	if err := s.backend.Delete(ctx, collectionName, recordID+"/"+filename); err != nil {
		return err
	}
	return s.meta.DeleteByFilename(ctx, tx, collectionName, recordID, filename)
}

// DeleteRecord removes a record's entire file directory and all tracked
// metadata, via the after-delete hook the core registers for every
// collection with a file field (spec §4.8).
func (s *Service) DeleteRecord(ctx context.Context, tx *store.Tx, collectionName, recordID string) error {
	if err := s.backend.DeleteDir(ctx, collectionName, recordID); err != nil {
		return err
	}
	return s.meta.DeleteForRecord(ctx, tx, collectionName, recordID)
}
