package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/bunbase/bunbase/internal/apierror"
	"github.com/bunbase/bunbase/internal/auth"
	"github.com/bunbase/bunbase/internal/schema"
)

// AdminHandlers serves the admin-only surface (spec §3.4, §6.1): admin
// login/password-change, and collection/field schema management.
type AdminHandlers struct {
	auth    *auth.Service
	schema  *schema.Manager
	devMode bool
}

func NewAdminHandlers(authService *auth.Service, schemaMgr *schema.Manager, devMode bool) *AdminHandlers {
	return &AdminHandlers{auth: authService, schema: schemaMgr, devMode: devMode}
}

func (h *AdminHandlers) requireAdmin(r *http.Request) error {
	if !auth.IdentityFromContext(r.Context()).IsAdmin() {
		return apierror.Forbidden("admin authentication required")
	}
	return nil
}

type adminLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AdminHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		WriteError(w, apierror.BadRequest("email and password are required"), h.devMode)
		return
	}

	admin, token, expiresAt, err := h.auth.AdminLogin(r.Context(), req.Email, req.Password)
	if err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"admin": admin,
		"token": token,
		"expiresAt": expiresAt,
	})
}

func (h *AdminHandlers) Me(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity.Admin == nil {
		WriteError(w, apierror.Unauthorized("not authenticated"), h.devMode)
		return
	}
	JSON(w, http.StatusOK, identity.Admin)
}

type adminChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (h *AdminHandlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity.Admin == nil {
		WriteError(w, apierror.Unauthorized("not authenticated"), h.devMode)
		return
	}

	var req adminChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apierror.BadRequest("invalid JSON body"), h.devMode)
		return
	}

	if err := h.auth.ChangeAdminPassword(r.Context(), identity.Admin.ID, req.OldPassword, req.NewPassword); err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) ListCollections(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r); err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	collections, err := h.schema.ListCollections(r.Context())
	if err != nil {
		WriteError(w, apierror.Internal(err), h.devMode)
		return
	}

	JSON(w, http.StatusOK, collections)
}

func (h *AdminHandlers) GetCollection(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r); err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	name := r.PathValue("name")
	coll, err := h.schema.GetCollection(r.Context(), name)
	if err != nil {
		WriteError(w, apierror.NotFound("collection %q not found", name), h.devMode)
		return
	}

	JSON(w, http.StatusOK, coll)
}

type createCollectionRequest struct {
	Name   string               `json:"name"`
	Type   schema.CollectionType `json:"type"`
	Rules  schema.Rules          `json:"rules"`
	Fields []fieldRequest        `json:"fields"`
}

type fieldRequest struct {
	Name     string          `json:"name"`
	Type     schema.FieldType `json:"type"`
	Required bool            `json:"required"`
	Options  json.RawMessage `json:"options,omitempty"`
}

func (h *AdminHandlers) CreateCollection(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r); err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	var req createCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apierror.BadRequest("invalid JSON body"), h.devMode)
		return
	}
	if req.Type == "" {
		req.Type = schema.CollectionBase
	}

	fields := make([]schema.FieldInput, len(req.Fields))
	for i, f := range req.Fields {
		fields[i] = schema.FieldInput{Name: f.Name, Type: f.Type, Required: f.Required, Options: []byte(f.Options)}
	}

	coll, err := h.schema.CreateCollection(r.Context(), schema.CreateCollectionInput{
		Name:   req.Name,
		Type:   req.Type,
		Rules:  req.Rules,
		Fields: fields,
	})
	if err != nil {
		WriteError(w, apierror.BadRequest("%s", err.Error()), h.devMode)
		return
	}

	JSON(w, http.StatusCreated, coll)
}

func (h *AdminHandlers) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r); err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	name := r.PathValue("name")
	if err := h.schema.DeleteCollection(r.Context(), name); err != nil {
		WriteError(w, apierror.Internal(err), h.devMode)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) AddField(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r); err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	name := r.PathValue("name")
	var req fieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apierror.BadRequest("invalid JSON body"), h.devMode)
		return
	}

	field, err := h.schema.AddField(r.Context(), name, schema.FieldInput{
		Name:     req.Name,
		Type:     req.Type,
		Required: req.Required,
		Options:  []byte(req.Options),
	})
	if err != nil {
		WriteError(w, apierror.BadRequest("%s", err.Error()), h.devMode)
		return
	}

	JSON(w, http.StatusCreated, field)
}

type updateFieldRequest struct {
	NewName  string           `json:"newName,omitempty"`
	Type     *schema.FieldType `json:"type,omitempty"`
	Required *bool            `json:"required,omitempty"`
	Options  json.RawMessage  `json:"options,omitempty"`
}

func (h *AdminHandlers) UpdateField(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r); err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	name := r.PathValue("name")
	fieldName := r.PathValue("field")

	var req updateFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apierror.BadRequest("invalid JSON body"), h.devMode)
		return
	}

	if err := h.schema.UpdateField(r.Context(), name, fieldName, schema.UpdateFieldInput{
		NewName:  req.NewName,
		Type:     req.Type,
		Required: req.Required,
		Options:  []byte(req.Options),
	}); err != nil {
		WriteError(w, apierror.BadRequest("%s", err.Error()), h.devMode)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetSchemaRaw exports every collection and its fields as YAML, letting an
// operator read and diff the schema outside the database
// (SPEC_FULL.md's Domain Stack: schema export/import).
func (h *AdminHandlers) GetSchemaRaw(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r); err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	doc, err := h.schema.ExportYAML(r.Context())
	if err != nil {
		WriteError(w, apierror.Internal(err), h.devMode)
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// PutSchemaRaw restores collections/fields described in a YAML body that are
// missing from the store; it never drops or retypes what already exists.
func (h *AdminHandlers) PutSchemaRaw(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r); err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		WriteError(w, apierror.BadRequest("reading request body"), h.devMode)
		return
	}

	created, fieldsAdded, err := h.schema.ImportYAML(r.Context(), body)
	if err != nil {
		WriteError(w, apierror.BadRequest("%s", err.Error()), h.devMode)
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"collectionsCreated": created,
		"fieldsAdded":        fieldsAdded,
	})
}

func (h *AdminHandlers) DropField(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r); err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	name := r.PathValue("name")
	fieldName := r.PathValue("field")

	if err := h.schema.DropField(r.Context(), name, fieldName); err != nil {
		WriteError(w, apierror.BadRequest("%s", err.Error()), h.devMode)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
