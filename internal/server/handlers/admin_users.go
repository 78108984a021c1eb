package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/bunbase/bunbase/internal/apierror"
	"github.com/bunbase/bunbase/internal/auth"
)

// AdminUserHandlers serves the admin-only per-auth-collection user
// management surface (SPEC_FULL.md's supplemental features), adapted from
// the donor's global user-admin endpoints to operate against whichever auth
// collection the path names.
type AdminUserHandlers struct {
	auth    *auth.Service
	devMode bool
}

func NewAdminUserHandlers(authService *auth.Service, devMode bool) *AdminUserHandlers {
	return &AdminUserHandlers{auth: authService, devMode: devMode}
}

func (h *AdminUserHandlers) requireAdmin(r *http.Request) error {
	if !auth.IdentityFromContext(r.Context()).IsAdmin() {
		return apierror.Forbidden("admin authentication required")
	}
	return nil
}

func (h *AdminUserHandlers) List(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r); err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	collection := r.PathValue("name")
	page, perPage := 1, 30
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			page = n
		}
	}
	if v := r.URL.Query().Get("perPage"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			perPage = n
		}
	}

	users, total, err := h.auth.AdminListUsers(r.Context(), collection, page, perPage)
	if err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"page":    page,
		"perPage": perPage,
		"total":   total,
		"items":   users,
	})
}

func (h *AdminUserHandlers) Get(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r); err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	collection := r.PathValue("name")
	id := r.PathValue("id")

	user, err := h.auth.AdminGetUser(r.Context(), collection, id)
	if err != nil {
		WriteError(w, err, h.devMode)
		return
	}
	JSON(w, http.StatusOK, user)
}

type adminUpdateUserRequest struct {
	Email    *string        `json:"email,omitempty"`
	Verified *bool          `json:"verified,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

func (h *AdminUserHandlers) Update(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r); err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	collection := r.PathValue("name")
	id := r.PathValue("id")

	var req adminUpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apierror.BadRequest("invalid JSON body"), h.devMode)
		return
	}

	user, err := h.auth.AdminUpdateUser(r.Context(), collection, id, auth.AdminUpdateUserInput{
		Email:    req.Email,
		Verified: req.Verified,
		Extra:    req.Extra,
	})
	if err != nil {
		WriteError(w, err, h.devMode)
		return
	}
	JSON(w, http.StatusOK, user)
}

func (h *AdminUserHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r); err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	collection := r.PathValue("name")
	id := r.PathValue("id")

	if err := h.auth.AdminDeleteUser(r.Context(), collection, id); err != nil {
		WriteError(w, err, h.devMode)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type adminSetPasswordRequest struct {
	Password string `json:"password"`
}

func (h *AdminUserHandlers) SetPassword(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r); err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	collection := r.PathValue("name")
	id := r.PathValue("id")

	var req adminSetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apierror.BadRequest("invalid JSON body"), h.devMode)
		return
	}

	if err := h.auth.AdminSetPassword(r.Context(), collection, id, req.Password); err != nil {
		WriteError(w, err, h.devMode)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
