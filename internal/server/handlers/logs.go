package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bunbase/bunbase/internal/server/requestlog"
)

// LogsHandlers serves the in-memory request log captured by requestlog.Store
// (spec §6.5, dev/observability surface).
type LogsHandlers struct {
	store   *requestlog.Store
	devMode bool
}

func NewLogsHandlers(store *requestlog.Store, devMode bool) *LogsHandlers {
	return &LogsHandlers{store: store, devMode: devMode}
}

func (h *LogsHandlers) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := requestlog.FilterOptions{Limit: 100}

	if v := query.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	if v := query.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			opts.Offset = n
		}
	}
	opts.Method = query.Get("method")
	opts.Path = query.Get("path")
	opts.ExcludePathPrefix = query.Get("exclude_path_prefix")
	opts.UserID = query.Get("user_id")

	if v := query.Get("status"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Status = n
		}
	}
	if v := query.Get("min_status"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.MinStatus = n
		}
	}
	if v := query.Get("max_status"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.MaxStatus = n
		}
	}
	if v := query.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Since = t
		}
	}
	if v := query.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Until = t
		}
	}

	JSON(w, http.StatusOK, h.store.List(opts))
}

func (h *LogsHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.store.Stats())
}

func (h *LogsHandlers) Clear(w http.ResponseWriter, r *http.Request) {
	h.store.Clear()
	JSON(w, http.StatusOK, map[string]string{"message": "logs cleared"})
}
