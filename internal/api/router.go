package api

import (
	"net/http"

	"github.com/meteorlabs/kookbridge/internal/auth"
	"github.com/meteorlabs/kookbridge/internal/link"
	"github.com/meteorlabs/kookbridge/internal/storage"
)

// Router holds the HTTP routes and dependencies
type Router struct {
	mux   *http.ServeMux
	store *storage.Store
	links *link.Service
	auth  *auth.Service

	gameConnected func() bool
	botInvalid    func() bool
}

// NewRouter creates a new HTTP router. pluginWS is the game plugin's
// websocket endpoint; gameConnected and botInvalid feed the status report.
func NewRouter(store *storage.Store, links *link.Service, authService *auth.Service,
	pluginWS http.Handler, gameConnected, botInvalid func() bool) *Router {
	r := &Router{
		mux:           http.NewServeMux(),
		store:         store,
		links:         links,
		auth:          authService,
		gameConnected: gameConnected,
		botInvalid:    botInvalid,
	}

	// Auth routes
	r.mux.HandleFunc("POST /api/auth/login", r.handleLogin)
	r.mux.HandleFunc("POST /api/auth/logout", r.handleLogout)
	r.mux.HandleFunc("GET /api/auth/check", r.handleAuthCheck)
	r.mux.HandleFunc("POST /api/auth/change-password", r.requireAuth(r.handleChangePassword))

	// Link routes
	r.mux.HandleFunc("GET /api/links", r.requireAuth(r.handleListLinks))
	r.mux.HandleFunc("GET /api/links/player/{name}", r.requireAuth(r.handleGetLinkByPlayer))
	r.mux.HandleFunc("GET /api/links/kook/{id}", r.requireAuth(r.handleGetLinkByKook))
	r.mux.HandleFunc("POST /api/links", r.requireAdmin(r.handleCreateLink))
	r.mux.HandleFunc("DELETE /api/links/player/{name}", r.requireAdmin(r.handleDeleteLinkByPlayer))
	r.mux.HandleFunc("DELETE /api/links/kook/{id}", r.requireAdmin(r.handleDeleteLinkByKook))

	// Status and health
	r.mux.HandleFunc("GET /api/status", r.requireAuth(r.handleStatus))
	r.mux.HandleFunc("GET /health", r.handleHealth)

	// Game plugin websocket
	if pluginWS != nil {
		r.mux.Handle("GET /ws/plugin", pluginWS)
	}

	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// CORS headers for API
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)
}
