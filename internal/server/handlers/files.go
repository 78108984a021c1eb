package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/bunbase/bunbase/internal/apierror"
	"github.com/bunbase/bunbase/internal/auth"
	"github.com/bunbase/bunbase/internal/record"
	"github.com/bunbase/bunbase/internal/storage"
)

// FileHandlers serves protected file downloads (spec §6.1, §6.3). Access
// reuses the record engine's own authorization path: a download is only
// served once record.Engine.Get confirms the owning record exists and the
// collection's viewRule allows the caller to see it.
type FileHandlers struct {
	auth    *auth.Service
	records *record.Engine
	files   *storage.Service
	devMode bool
}

func NewFileHandlers(authService *auth.Service, records *record.Engine, files *storage.Service, devMode bool) *FileHandlers {
	return &FileHandlers{auth: authService, records: records, files: files, devMode: devMode}
}

// Download serves GET /api/files/{collection}/{record}/{filename}. The
// caller's identity comes from the Authorization header via the auth
// middleware, or, when that's absent, from a `?token=` query parameter so
// plain `<img src>`/browser navigation can carry credentials (spec §6.1).
func (h *FileHandlers) Download(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	recordID := r.PathValue("record")
	filename := r.PathValue("filename")

	identity := auth.IdentityFromContext(r.Context())
	if !identity.IsAuthenticated() {
		if token := r.URL.Query().Get("token"); token != "" {
			identity = h.auth.Resolve(r.Context(), token)
		}
	}

	if _, err := h.records.Get(r.Context(), collection, recordID, recordIdentity(identity)); err != nil {
		WriteError(w, err, h.devMode)
		return
	}

	rc, meta, err := h.files.Open(r.Context(), collection, recordID, filename)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteError(w, apierror.NotFound("file %q not found", filename), h.devMode)
			return
		}
		WriteError(w, apierror.Internal(err), h.devMode)
		return
	}
	defer rc.Close()

	if meta.MimeType != "" {
		w.Header().Set("Content-Type", meta.MimeType)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.Header().Set("Content-Disposition", `inline; filename="`+meta.OriginalName+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}
