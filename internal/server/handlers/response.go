package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/bunbase/bunbase/internal/apierror"
)

// JSON writes v as a JSON response body with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError renders err as the standard {code, message, data} envelope,
// converting a plain error into an internal apierror.Error first.
func WriteError(w http.ResponseWriter, err error, devMode bool) {
	apierror.WriteJSON(w, err, devMode)
}
