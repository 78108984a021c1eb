package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/bunbase/bunbase/internal/auth"
	"github.com/bunbase/bunbase/internal/server/handlers"
	"github.com/bunbase/bunbase/internal/server/requestlog"
)

type Router struct {
	server      *Server
	mux         *http.ServeMux
	middlewares []Middleware
}

type Middleware func(http.Handler) http.Handler

func NewRouter(srv *Server) *Router {
	r := &Router{
		server: srv,
		mux:    http.NewServeMux(),
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

func (r *Router) setupMiddleware() {
	r.Use(RecoveryMiddleware)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(AuthMiddleware(r.server.Auth()))
	r.Use(requestlog.Middleware(r.server.RequestLogs(), RequestID, identityUserID))
	r.Use(GzipMiddleware)

	if r.server.cfg.Server.CORS.Enabled {
		r.Use(CORSMiddleware(r.server.cfg.Server.CORS))
	}
	if r.server.cfg.Server.MaxBodySize > 0 {
		r.Use(MaxBodySizeMiddleware(r.server.cfg.Server.MaxBodySize))
	}
}

// identityUserID resolves the authenticated admin or user id for request log
// entries; it runs after AuthMiddleware has attached the identity.
func identityUserID(ctx context.Context) string {
	identity := auth.IdentityFromContext(ctx)
	if identity.Admin != nil {
		return identity.Admin.ID
	}
	if identity.User != nil {
		return identity.User.ID
	}
	return ""
}

func (r *Router) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

func (r *Router) setupRoutes() {
	devMode := r.server.cfg.Dev.Enabled

	h := handlers.NewRecordHandlers(r.server.DB(), r.server.Schema(), r.server.Records(), r.server.Files(), devMode)
	authH := handlers.NewAuthHandlers(r.server.Auth(), devMode)
	adminH := handlers.NewAdminHandlers(r.server.Auth(), r.server.Schema(), devMode)
	adminUsersH := handlers.NewAdminUserHandlers(r.server.Auth(), devMode)
	filesH := handlers.NewFileHandlers(r.server.Auth(), r.server.Records(), r.server.Files(), devMode)
	rtH := handlers.NewRealtimeHandler(r.server.Realtime(), r.server.cfg.Realtime.HeartbeatInterval, devMode)
	healthH := handlers.NewHealthHandlers(r.server.DB(), r.server.Realtime(), "0.1.0")
	logsH := handlers.NewLogsHandlers(r.server.RequestLogs(), devMode)

	r.mux.HandleFunc("GET /health", healthH.Health)
	r.mux.HandleFunc("GET /health/live", healthH.Liveness)
	r.mux.HandleFunc("GET /health/ready", healthH.Readiness)
	r.mux.HandleFunc("GET /health/stats", healthH.Stats)
	r.mux.Handle("GET /metrics", handlers.MetricsHandler())

	r.mux.HandleFunc("GET /api/collections/{collection}/records", h.List)
	r.mux.HandleFunc("POST /api/collections/{collection}/records", h.Create)
	r.mux.HandleFunc("GET /api/collections/{collection}/records/{id}", h.Get)
	r.mux.HandleFunc("PATCH /api/collections/{collection}/records/{id}", h.Update)
	r.mux.HandleFunc("DELETE /api/collections/{collection}/records/{id}", h.Delete)

	r.mux.HandleFunc("POST /api/collections/{collection}/auth/register", authH.Register)
	r.mux.HandleFunc("POST /api/collections/{collection}/auth/login", authH.Login)
	r.mux.HandleFunc("POST /api/collections/{collection}/auth/refresh", authH.Refresh)
	r.mux.HandleFunc("GET /api/collections/{collection}/auth/me", authH.Me)
	r.mux.HandleFunc("POST /api/collections/{collection}/auth/password-change", authH.ChangePassword)
	r.mux.HandleFunc("POST /api/collections/{collection}/auth/password-reset/request", authH.RequestPasswordReset)
	r.mux.HandleFunc("POST /api/collections/{collection}/auth/password-reset/confirm", authH.ResetPassword)
	r.mux.HandleFunc("POST /api/collections/{collection}/auth/verify/request", authH.RequestVerification)
	r.mux.HandleFunc("POST /api/collections/{collection}/auth/verify/confirm", authH.ConfirmVerification)

	r.mux.HandleFunc("GET /api/files/{collection}/{record}/{filename}", filesH.Download)

	r.mux.HandleFunc("GET /api/realtime", rtH.Open)
	r.mux.HandleFunc("POST /api/realtime", rtH.Subscribe)

	r.mux.HandleFunc("POST /_/api/auth/login", adminH.Login)
	r.mux.HandleFunc("GET /_/api/auth/me", adminH.Me)
	r.mux.HandleFunc("POST /_/api/auth/password-change", adminH.ChangePassword)

	r.mux.HandleFunc("GET /_/api/collections", adminH.ListCollections)
	r.mux.HandleFunc("POST /_/api/collections", adminH.CreateCollection)
	r.mux.HandleFunc("GET /_/api/collections/{name}", adminH.GetCollection)
	r.mux.HandleFunc("DELETE /_/api/collections/{name}", adminH.DeleteCollection)
	r.mux.HandleFunc("POST /_/api/collections/{name}/fields", adminH.AddField)
	r.mux.HandleFunc("PATCH /_/api/collections/{name}/fields/{field}", adminH.UpdateField)
	r.mux.HandleFunc("DELETE /_/api/collections/{name}/fields/{field}", adminH.DropField)

	r.mux.HandleFunc("GET /api/admin/schema/raw", adminH.GetSchemaRaw)
	r.mux.HandleFunc("PUT /api/admin/schema/raw", adminH.PutSchemaRaw)

	r.mux.HandleFunc("GET /api/admin/collections/{name}/users", adminUsersH.List)
	r.mux.HandleFunc("GET /api/admin/collections/{name}/users/{id}", adminUsersH.Get)
	r.mux.HandleFunc("PATCH /api/admin/collections/{name}/users/{id}", adminUsersH.Update)
	r.mux.HandleFunc("DELETE /api/admin/collections/{name}/users/{id}", adminUsersH.Delete)
	r.mux.HandleFunc("POST /api/admin/collections/{name}/users/{id}/password", adminUsersH.SetPassword)

	r.mux.HandleFunc("GET /api/admin/logs", logsH.List)
	r.mux.HandleFunc("GET /api/admin/logs/stats", logsH.Stats)
	r.mux.HandleFunc("POST /api/admin/logs/clear", logsH.Clear)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	handler := http.Handler(r.mux)

	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}

	handler.ServeHTTP(w, req)
}

func PathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

func QueryParams(r *http.Request, name string) []string {
	return r.URL.Query()[name]
}

func QueryParam(r *http.Request, name string) string {
	return r.URL.Query().Get(name)
}

func ParseSorts(r *http.Request) []string {
	sortParam := QueryParam(r, "sort")
	if sortParam == "" {
		return nil
	}
	return strings.Split(sortParam, ",")
}

func ParseExpand(r *http.Request) []string {
	expandParam := QueryParam(r, "expand")
	if expandParam == "" {
		return nil
	}
	return strings.Split(expandParam, ",")
}

// ParseFilters parses the field[op]=value wire format from the query string
// into FilterParam values, skipping keys that don't match.
func ParseFilters(r *http.Request) []FilterParam {
	var filters []FilterParam
	for key, values := range r.URL.Query() {
		field, op, ok := parseFilterKey(key)
		if !ok {
			continue
		}
		for _, v := range values {
			filters = append(filters, FilterParam{Field: field, Op: op, Value: v})
		}
	}
	return filters
}

// FilterParam is the parsed form of a field[op]=value query parameter.
type FilterParam struct {
	Field string
	Op    string
	Value string
}

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
