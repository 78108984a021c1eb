package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/bunbase/bunbase/internal/apierror"
	"github.com/bunbase/bunbase/internal/auth"
)

// AuthHandlers serves the per-auth-collection user surface (spec §4.7,
// §6.1): register, login, refresh, me, password change/reset, and email
// verification, all scoped to the {collection} path segment.
type AuthHandlers struct {
	service *auth.Service
	devMode bool
}

func NewAuthHandlers(service *auth.Service, devMode bool) *AuthHandlers {
	return &AuthHandlers{service: service, devMode: devMode}
}

type registerRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Extra    map[string]any `json:"data,omitempty"`
}

func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apierror.BadRequest("invalid JSON body"), h.devMode)
		return
	}
	if req.Email == "" || req.Password == "" {
		WriteError(w, apierror.BadRequest("email and password are required"), h.devMode)
		return
	}

	user, err := h.service.Register(r.Context(), collection, req.Email, req.Password, req.Extra)
	if err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	JSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apierror.BadRequest("invalid JSON body"), h.devMode)
		return
	}

	user, tokens, err := h.service.Login(r.Context(), collection, req.Email, req.Password)
	if err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	JSON(w, http.StatusOK, map[string]any{"user": user, "tokens": tokens})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		WriteError(w, apierror.BadRequest("refreshToken is required"), h.devMode)
		return
	}

	user, tokens, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	JSON(w, http.StatusOK, map[string]any{"user": user, "tokens": tokens})
}

func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	identity := auth.IdentityFromContext(r.Context())
	if identity.User == nil {
		WriteError(w, apierror.Unauthorized("not authenticated"), h.devMode)
		return
	}

	user, err := h.service.Me(r.Context(), collection, identity.User.ID)
	if err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	JSON(w, http.StatusOK, user)
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (h *AuthHandlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	identity := auth.IdentityFromContext(r.Context())
	if identity.User == nil {
		WriteError(w, apierror.Unauthorized("not authenticated"), h.devMode)
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apierror.BadRequest("invalid JSON body"), h.devMode)
		return
	}

	if err := h.service.ChangePassword(r.Context(), collection, identity.User.ID, req.OldPassword, req.NewPassword); err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type requestPasswordResetRequest struct {
	Email string `json:"email"`
}

func (h *AuthHandlers) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")

	var req requestPasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		WriteError(w, apierror.BadRequest("email is required"), h.devMode)
		return
	}

	token, err := h.service.RequestPasswordReset(r.Context(), collection, req.Email)
	if err != nil {
		log.Error().Err(err).Msg("requesting password reset")
	}

	resp := map[string]any{"message": "if the account exists, a reset link has been sent"}
	if h.devMode && token != "" {
		resp["token"] = token
	}
	JSON(w, http.StatusOK, resp)
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (h *AuthHandlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" || req.NewPassword == "" {
		WriteError(w, apierror.BadRequest("token and newPassword are required"), h.devMode)
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandlers) RequestVerification(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	identity := auth.IdentityFromContext(r.Context())
	if identity.User == nil {
		WriteError(w, apierror.Unauthorized("not authenticated"), h.devMode)
		return
	}

	token, err := h.service.IssueVerificationToken(r.Context(), identity.User.ID, collection, auth.VerifyEmail)
	if err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	resp := map[string]any{"message": "verification email sent"}
	if h.devMode {
		resp["token"] = token
	}
	JSON(w, http.StatusOK, resp)
}

type confirmVerificationRequest struct {
	Token string `json:"token"`
}

func (h *AuthHandlers) ConfirmVerification(w http.ResponseWriter, r *http.Request) {
	var req confirmVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		WriteError(w, apierror.BadRequest("token is required"), h.devMode)
		return
	}

	if err := h.service.VerifyEmailToken(r.Context(), req.Token); err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
