package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/bunbase/bunbase/internal/apierror"
	"github.com/bunbase/bunbase/internal/auth"
	"github.com/bunbase/bunbase/internal/hooks"
	"github.com/bunbase/bunbase/internal/record"
	"github.com/bunbase/bunbase/internal/rules"
	"github.com/bunbase/bunbase/internal/schema"
	"github.com/bunbase/bunbase/internal/storage"
	"github.com/bunbase/bunbase/internal/store"
)

// RecordHandlers serves the record CRUD surface (spec §6.1, §4.5) on top of
// record.Engine, saving any multipart file uploads through storage.Service.
// Realtime fan-out is not driven from here: it runs off the core's global
// afterCreate/afterUpdate/afterDelete hooks (spec §4.9), so it also covers
// mutations that never pass through this handler (e.g. auth registration).
type RecordHandlers struct {
	db      *store.DB
	schema  record.SchemaManager
	records *record.Engine
	files   *storage.Service
	devMode bool
}

func NewRecordHandlers(db *store.DB, schemaMgr record.SchemaManager, records *record.Engine, files *storage.Service, devMode bool) *RecordHandlers {
	return &RecordHandlers{db: db, schema: schemaMgr, records: records, files: files, devMode: devMode}
}

func identityFromRequest(r *http.Request) record.Identity {
	return recordIdentity(auth.IdentityFromContext(r.Context()))
}

// recordIdentity converts the auth package's transport-level identity into
// the record engine's rule-evaluation identity (spec §4.7).
func recordIdentity(id auth.Identity) record.Identity {
	if id.Admin != nil {
		return record.Identity{IsAdmin: true}
	}
	if id.User != nil {
		return record.Identity{
			Auth: rules.AuthContext{
				Present:        true,
				ID:             id.User.ID,
				Email:          id.User.Email,
				Verified:       id.User.Verified,
				CollectionID:   id.User.CollectionID,
				CollectionName: id.User.CollectionName,
			},
		}
	}
	return record.Identity{}
}

func requestDescriptor(r *http.Request) hooks.RequestDescriptor {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	return hooks.RequestDescriptor{Method: r.Method, Path: r.URL.Path, Headers: headers}
}

func (h *RecordHandlers) List(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	identity := identityFromRequest(r)

	opts, err := parseListOptions(r)
	if err != nil {
		WriteError(w, apierror.BadRequest("%s", err.Error()), h.devMode)
		return
	}

	result, err := h.records.List(r.Context(), collection, identity, opts)
	if err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	JSON(w, http.StatusOK, result)
}

func (h *RecordHandlers) Get(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	id := r.PathValue("id")
	identity := identityFromRequest(r)

	result, err := h.records.Get(r.Context(), collection, id, identity)
	if err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	JSON(w, http.StatusOK, result)
}

func (h *RecordHandlers) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	collection := r.PathValue("collection")
	identity := identityFromRequest(r)

	data, uploads, err := decodeRecordBody(r)
	if err != nil {
		WriteError(w, apierror.BadRequest("invalid request body: %s", err.Error()), h.devMode)
		return
	}

	if len(uploads) > 0 {
		if err := placeholderForUploads(data, uploads); err != nil {
			WriteError(w, apierror.BadRequest("%s", err.Error()), h.devMode)
			return
		}
	}

	result, err := h.records.Create(ctx, collection, identity, data, requestDescriptor(r))
	if err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	if len(uploads) > 0 {
		recordID, _ := result["id"].(string)
		result, err = h.applyUploads(ctx, collection, recordID, identity, uploads, nil)
		if err != nil {
			WriteError(w, err, h.devMode)
			return
		}
	}

	JSON(w, http.StatusCreated, result)
}

func (h *RecordHandlers) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	collection := r.PathValue("collection")
	id := r.PathValue("id")
	identity := identityFromRequest(r)

	patch, uploads, err := decodeRecordBody(r)
	if err != nil {
		WriteError(w, apierror.BadRequest("invalid request body: %s", err.Error()), h.devMode)
		return
	}

	result, err := h.records.Update(ctx, collection, id, identity, patch, requestDescriptor(r))
	if err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	if len(uploads) > 0 {
		existing := make(map[string][]string, len(uploads))
		for fieldName := range uploads {
			names, _ := result[fieldName].([]any)
			for _, n := range names {
				if s, ok := n.(string); ok {
					existing[fieldName] = append(existing[fieldName], s)
				}
			}
		}
		result, err = h.applyUploads(ctx, collection, id, identity, uploads, existing)
		if err != nil {
			WriteError(w, err, h.devMode)
			return
		}
	}

	JSON(w, http.StatusOK, result)
}

func (h *RecordHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	id := r.PathValue("id")
	identity := identityFromRequest(r)

	if err := h.records.Delete(r.Context(), collection, id, identity, requestDescriptor(r)); err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// applyUploads validates and saves every pending upload against its field's
// declared options, then updates the record so each file field holds the
// JSON array of stored filenames (spec §4.8). existing, when non-nil, seeds
// the per-field filename list already on the record (update semantics).
func (h *RecordHandlers) applyUploads(ctx context.Context, collection, recordID string, identity record.Identity, uploads map[string][]storage.Upload, existing map[string][]string) (map[string]any, error) {
	coll, err := h.schema.GetCollection(ctx, collection)
	if err != nil {
		return nil, apierror.NotFound("collection %q not found", collection)
	}

	patch := make(map[string]any, len(uploads))
	for fieldName, fieldUploads := range uploads {
		field := coll.FieldByName(fieldName)
		if field == nil || field.Type != schema.FieldFile {
			return nil, apierror.BadRequest("field %q is not a file field", fieldName)
		}

		existingNames := existing[fieldName]
		mimes, err := storage.ValidateUploads(field, fieldUploads, len(existingNames))
		if err != nil {
			return nil, apierror.BadRequest("%s", err.Error())
		}

		filenames := append([]string{}, existingNames...)
		err = h.db.Transaction(ctx, func(tx *store.Tx) error {
			for i, upload := range fieldUploads {
				meta, err := h.files.Save(ctx, tx, collection, recordID, fieldName, upload, mimes[i])
				if err != nil {
					return err
				}
				filenames = append(filenames, meta.Filename)
			}
			return nil
		})
		if err != nil {
			return nil, apierror.Internal(err)
		}

		patch[fieldName] = filenames
	}

	return h.records.Update(ctx, collection, recordID, identity, patch, hooks.RequestDescriptor{Method: http.MethodPatch, Path: "/internal/file-upload"})
}

func decodeRecordBody(r *http.Request) (map[string]any, map[string][]storage.Upload, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		return decodeMultipartBody(r)
	}

	data := make(map[string]any)
	if r.ContentLength == 0 {
		return data, nil, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		return nil, nil, err
	}
	return data, nil, nil
}

// decodeMultipartBody flattens a multipart create/update request into the
// record engine's map shape: plain fields decode as JSON when possible
// (falling back to the raw string); file parts are collected separately
// by field name, not merged into the data map (file fields are validated
// and applied outside the body validator, spec §4.3/§4.8).
func decodeMultipartBody(r *http.Request) (map[string]any, map[string][]storage.Upload, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, nil, err
	}

	data := make(map[string]any)
	for field, values := range r.MultipartForm.Value {
		if len(values) == 0 {
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(values[0]), &decoded); err == nil {
			data[field] = decoded
		} else {
			data[field] = values[0]
		}
	}

	uploads := make(map[string][]storage.Upload)
	for field, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				return nil, nil, err
			}
			content := make([]byte, fh.Size)
			if fh.Size > 0 {
				if _, err := f.Read(content); err != nil {
					f.Close()
					return nil, nil, err
				}
			}
			f.Close()
			uploads[field] = append(uploads[field], storage.Upload{
				OriginalName:     fh.Filename,
				DeclaredMimeType: fh.Header.Get("Content-Type"),
				Data:             content,
			})
		}
	}

	return data, uploads, nil
}

// placeholderForUploads seeds data with an empty-string placeholder for
// every field that has a pending upload, so the create pipeline's
// required-field presence check passes; applyUploads overwrites it with
// the real filename list once the record exists.
func placeholderForUploads(data map[string]any, uploads map[string][]storage.Upload) error {
	for field := range uploads {
		if _, present := data[field]; !present {
			data[field] = []string{}
		}
	}
	return nil
}

func parseListOptions(r *http.Request) (record.ListOptions, error) {
	query := r.URL.Query()
	opts := record.ListOptions{Page: 1, PerPage: record.DefaultPerPage}

	// page=0 and perPage=0 are valid on the wire and clamp to 1 in
	// ListOptions.Normalize (spec §8 Boundary behaviors); only a
	// non-numeric or negative value is a bad request.
	if v := query.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, errInvalidQueryParam("page")
		}
		opts.Page = n
	}
	if v := query.Get("perPage"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, errInvalidQueryParam("perPage")
		}
		opts.PerPage = n
	}

	for key, values := range query {
		field, op, ok := parseFilterKey(key)
		if !ok {
			continue
		}
		filterOp, ok := store.ParseFilterOp(op)
		if !ok {
			return opts, errInvalidQueryParam(key)
		}
		for _, v := range values {
			opts.Filters = append(opts.Filters, store.Filter{Field: field, Op: filterOp, Value: v})
		}
	}

	if sortParam := query.Get("sort"); sortParam != "" {
		for _, s := range strings.Split(sortParam, ",") {
			opts.Sorts = append(opts.Sorts, store.ParseSortString(strings.TrimSpace(s)))
		}
	}

	if expandParam := query.Get("expand"); expandParam != "" {
		opts.Expand = strings.Split(expandParam, ",")
	}

	return opts, nil
}

type invalidQueryParamError struct{ param string }

func (e invalidQueryParamError) Error() string { return "invalid query parameter: " + e.param }

func errInvalidQueryParam(param string) error { return invalidQueryParamError{param: param} }

func parseFilterKey(key string) (field, op string, ok bool) {
	open := strings.IndexByte(key, '[')
	if open == -1 || !strings.HasSuffix(key, "]") {
		return "", "", false
	}
	field = key[:open]
	op = key[open+1 : len(key)-1]
	if field == "" || op == "" {
		return "", "", false
	}
	return field, op, true
}
