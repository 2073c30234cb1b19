package gateway

import (
	"fmt"
	"net/http"

	"github.com/flemzord/strmsync/internal/library"
	"github.com/flemzord/strmsync/internal/metrics"
	"github.com/flemzord/strmsync/internal/security"
	"github.com/go-chi/chi/v5"
)

func (g *Gateway) handleListLibs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dirs, err := g.store.ListDirectories(r.Context())
		if err != nil {
			g.failErr(w, r, err)
			return
		}
		if dirs == nil {
			dirs = []library.Directory{}
		}
		ok(w, "", dirs)
	}
}

func (g *Gateway) handleAddLib() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var def library.Definition
		if err := security.ReadJSONBody(r.Body, g.config.MaxBodyBytes, &def); err != nil {
			g.failErr(w, r, err)
			return
		}
		dir, err := g.store.AddDirectory(r.Context(), library.Directory{Definition: def})
		if err != nil {
			g.failErr(w, r, err)
			return
		}
		g.emit(r, security.AuditEvent{Type: security.EventDirectoryChange, Key: dir.Key, Detail: "add"})
		ok(w, "", dir)
	}
}

func (g *Gateway) handleGetLib() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dir, err := g.store.GetDirectory(r.Context(), chi.URLParam(r, "key"))
		if err != nil {
			g.failErr(w, r, err)
			return
		}
		ok(w, "", dir)
	}
}

func (g *Gateway) handleUpdateLib() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		var patch library.DirectoryPatch
		if err := security.ReadJSONBody(r.Body, g.config.MaxBodyBytes, &patch); err != nil {
			g.failErr(w, r, err)
			return
		}
		dir, err := g.store.UpdateDirectory(r.Context(), key, patch)
		if err != nil {
			g.failErr(w, r, err)
			return
		}
		g.emit(r, security.AuditEvent{Type: security.EventDirectoryChange, Key: key, Detail: "update"})
		ok(w, "", dir)
	}
}

func (g *Gateway) handleDeleteLib() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		if err := g.store.DeleteDirectory(r.Context(), key); err != nil {
			g.failErr(w, r, err)
			return
		}
		g.emit(r, security.AuditEvent{Type: security.EventDirectoryChange, Key: key, Detail: "delete"})
		ok(w, "", struct{}{})
	}
}

func (g *Gateway) handleSyncLib() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		if err := g.jobs.Start(metrics.WithTrigger(r.Context(), metrics.TriggerAPI), key); err != nil {
			g.failErr(w, r, err)
			return
		}
		g.emit(r, security.AuditEvent{Type: security.EventJobStart, Key: key})
		ok(w, "job started", struct{}{})
	}
}

func (g *Gateway) handleStopLib() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		if err := g.jobs.Stop(r.Context(), key); err != nil {
			g.failErr(w, r, err)
			return
		}
		g.emit(r, security.AuditEvent{Type: security.EventJobStop, Key: key})
		ok(w, "job stopped", struct{}{})
	}
}

// handleStartByPath starts the directory whose source path is the path
// query parameter.
func (g *Gateway) handleStartByPath() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get("path")
		if path == "" {
			fail(w, http.StatusNotFound, "sync directory not found")
			return
		}
		dir, err := g.store.DirectoryByPath(r.Context(), path)
		if err != nil {
			g.failErr(w, r, err)
			return
		}
		if err := g.jobs.Start(metrics.WithTrigger(r.Context(), metrics.TriggerAPI), dir.Key); err != nil {
			g.failErr(w, r, err)
			return
		}
		g.emit(r, security.AuditEvent{Type: security.EventJobStart, Key: dir.Key, Detail: "by path"})
		ok(w, fmt.Sprintf("job started, query its status at /api/lib/%s", dir.Key), struct{}{})
	}
}

// handleReadLog returns the log of the last run, or "" when there is none.
func (g *Gateway) handleReadLog() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		text, err := g.jobs.ReadLog(chi.URLParam(r, "key"))
		if err != nil {
			g.failErr(w, r, err)
			return
		}
		ok(w, "", text)
	}
}
