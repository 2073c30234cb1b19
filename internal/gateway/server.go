package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(g.observe)

	// Public.
	r.Get("/health", g.handleHealth())
	if g.metrics != nil {
		r.Handle("/metrics", g.metrics.Handler())
	}
	r.Post("/api/login", g.handleLogin())
	r.Post("/api/token", g.handleLogin())
	r.Post("/api/logout", g.handleLogout())

	// Websocket clients may pass the token as a query parameter.
	r.With(g.authMiddleware(true)).Get("/api/lib/log/{key}/ws", g.handleTailLog())

	r.Group(func(r chi.Router) {
		r.Use(g.authMiddleware(false))
		r.Get("/status", g.handleStatus())
		if g.config.mcpEnabled() {
			r.Handle("/mcp", g.mcpHandler())
		}
		r.Route("/api", func(r chi.Router) {
			r.Get("/libs", g.handleListLibs())
			r.Post("/libs", g.handleAddLib())
			r.Get("/lib/{key}", g.handleGetLib())
			r.Put("/lib/{key}", g.handleUpdateLib())
			r.Delete("/lib/{key}", g.handleDeleteLib())
			r.Post("/lib/sync/{key}", g.handleSyncLib())
			r.Post("/lib/stop/{key}", g.handleStopLib())
			r.Get("/lib/log/{key}", g.handleReadLog())

			r.Get("/oo5list", g.handleListAccounts())
			r.Post("/oo5list", g.handleAddAccount())
			r.Get("/oo5/{key}", g.handleGetAccount())
			r.Put("/oo5/{key}", g.handleUpdateAccount())
			r.Delete("/oo5/{key}", g.handleDeleteAccount())

			r.Get("/settings", g.handleGetSettings())
			r.Post("/settings", g.handleUpdateSettings())
			r.Post("/dir", g.handleListDirs())
			r.Get("/job", g.handleStartByPath())
		})
	})

	return r
}

// observe records every request in the HTTP metrics under its route
// pattern.
func (g *Gateway) observe(next http.Handler) http.Handler {
	if g.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		g.metrics.HTTPRequest(route, r.Method, status)
	})
}
