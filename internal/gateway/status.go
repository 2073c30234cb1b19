package gateway

import (
	"net/http"
	"time"

	"github.com/flemzord/strmsync/internal/schedule"
	"github.com/flemzord/strmsync/internal/supervisor"
)

// StatusResponse is the data of GET /status.
type StatusResponse struct {
	Uptime    int64                `json:"uptime_seconds"`
	Running   []supervisor.Tracked `json:"running"`
	Schedules []schedule.Entry     `json:"schedules"`
	Watches   []string             `json:"watches"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := StatusResponse{
			Uptime:    int64(time.Since(g.startedAt).Seconds()),
			Running:   g.jobs.Tracked(),
			Schedules: []schedule.Entry{},
			Watches:   []string{},
		}
		if resp.Running == nil {
			resp.Running = []supervisor.Tracked{}
		}
		if g.schedules != nil {
			resp.Schedules = append(resp.Schedules, g.schedules.Entries()...)
		}
		if g.watches != nil {
			resp.Watches = append(resp.Watches, g.watches.Keys()...)
		}
		ok(w, "", resp)
	}
}
