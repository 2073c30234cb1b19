package gateway

import (
	"net/http"

	"github.com/flemzord/strmsync/internal/library"
	"github.com/flemzord/strmsync/internal/security"
	"github.com/go-chi/chi/v5"
)

type accountRequest struct {
	Name   string `json:"name"`
	Cookie string `json:"cookie"`
}

func (g *Gateway) handleListAccounts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := g.store.ListAccounts(r.Context())
		if err != nil {
			g.failErr(w, r, err)
			return
		}
		if accounts == nil {
			accounts = []library.Account{}
		}
		ok(w, "", accounts)
	}
}

func (g *Gateway) handleAddAccount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req accountRequest
		if err := security.ReadJSONBody(r.Body, g.config.MaxBodyBytes, &req); err != nil {
			g.failErr(w, r, err)
			return
		}
		a, err := g.store.AddAccount(r.Context(), req.Name, req.Cookie)
		if err != nil {
			g.failErr(w, r, err)
			return
		}
		g.emit(r, security.AuditEvent{Type: security.EventAccountChange, Key: a.Key, Detail: "add"})
		ok(w, "", a)
	}
}

func (g *Gateway) handleGetAccount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := g.store.GetAccount(r.Context(), chi.URLParam(r, "key"))
		if err != nil {
			g.failErr(w, r, err)
			return
		}
		ok(w, "", a)
	}
}

func (g *Gateway) handleUpdateAccount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		var patch library.AccountPatch
		if err := security.ReadJSONBody(r.Body, g.config.MaxBodyBytes, &patch); err != nil {
			g.failErr(w, r, err)
			return
		}
		a, err := g.store.UpdateAccount(r.Context(), key, patch)
		if err != nil {
			g.failErr(w, r, err)
			return
		}
		g.emit(r, security.AuditEvent{Type: security.EventAccountChange, Key: key, Detail: "update"})
		ok(w, "", a)
	}
}

func (g *Gateway) handleDeleteAccount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		if err := g.store.DeleteAccount(r.Context(), key); err != nil {
			g.failErr(w, r, err)
			return
		}
		g.emit(r, security.AuditEvent{Type: security.EventAccountChange, Key: key, Detail: "delete"})
		ok(w, "", struct{}{})
	}
}
