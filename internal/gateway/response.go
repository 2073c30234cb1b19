package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/flemzord/strmsync/internal/fault"
	"github.com/flemzord/strmsync/internal/security"
	"github.com/flemzord/strmsync/internal/session"
)

// envelope is the body of every API response except the token endpoints.
type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter, msg string, data any) {
	writeJSON(w, http.StatusOK, envelope{Code: http.StatusOK, Msg: msg, Data: data})
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Code: status, Msg: msg})
}

// statusOf maps an error to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, security.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, security.ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, session.ErrTooManySessions):
		return http.StatusBadRequest
	}
	switch fault.KindOf(err) {
	case fault.Validation:
		return http.StatusBadRequest
	case fault.NotFound:
		return http.StatusNotFound
	case fault.Conflict:
		return http.StatusConflict
	case fault.Auth:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// failErr writes err. Infrastructure failures are logged and reported
// without their cause.
func (g *Gateway) failErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		g.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		fail(w, status, "internal error")
		return
	}
	fail(w, status, err.Error())
}
