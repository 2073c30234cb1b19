package gateway

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/flemzord/strmsync/internal/library"
	"github.com/flemzord/strmsync/internal/metrics"
	"github.com/flemzord/strmsync/internal/security"
	"github.com/flemzord/strmsync/internal/supervisor"
)

func addLib(t *testing.T, hs *harness, name, path string) library.Directory {
	t.Helper()
	rr := hs.do(t, http.MethodPost, "/api/libs", map[string]any{
		"name":           name,
		"path":           path,
		"strm_root_path": "/strm/" + name,
		"sync_type":      "manual",
	}, testToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("add %s: status = %d, body = %s", name, rr.Code, rr.Body)
	}
	var dir library.Directory
	decodeData(t, rr, &dir)
	return dir
}

func TestLibs_CRUD(t *testing.T) {
	t.Parallel()
	hs := newHarness(t, nil)

	dir := addLib(t, hs, "Movies", "/media/movies")
	if dir.Key == "" || dir.SyncType != library.ModeManual {
		t.Fatalf("added = %+v", dir)
	}

	var list []library.Directory
	decodeData(t, hs.do(t, http.MethodGet, "/api/libs", nil, testToken), &list)
	if len(list) != 1 || list[0].Key != dir.Key {
		t.Fatalf("list = %+v", list)
	}

	var got library.Directory
	decodeData(t, hs.do(t, http.MethodGet, "/api/lib/"+dir.Key, nil, testToken), &got)
	if got.Name != "Movies" {
		t.Errorf("get = %+v", got)
	}

	rr := hs.do(t, http.MethodPut, "/api/lib/"+dir.Key, map[string]any{"name": "Films"}, testToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("update: status = %d, body = %s", rr.Code, rr.Body)
	}
	decodeData(t, rr, &got)
	if got.Name != "Films" || got.Path != "/media/movies" {
		t.Errorf("updated = %+v", got)
	}

	if rr := hs.do(t, http.MethodDelete, "/api/lib/"+dir.Key, nil, testToken); rr.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", rr.Code)
	}
	if rr := hs.do(t, http.MethodGet, "/api/lib/"+dir.Key, nil, testToken); rr.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d", rr.Code)
	}

	if !hasEvent(hs.events(), security.EventDirectoryChange) {
		t.Error("no directory_change audit event")
	}
}

func TestLibs_Errors(t *testing.T) {
	t.Parallel()
	hs := newHarness(t, nil)
	addLib(t, hs, "Movies", "/media/movies")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"duplicate path", http.MethodPost, "/api/libs", map[string]any{"name": "Other", "path": "/media/movies"}, http.StatusBadRequest},
		{"missing name", http.MethodPost, "/api/libs", map[string]any{"path": "/x"}, http.StatusBadRequest},
		{"bad sync type", http.MethodPost, "/api/libs", map[string]any{"name": "X", "path": "/x", "sync_type": "hourly"}, http.StatusBadRequest},
		{"unknown key", http.MethodGet, "/api/lib/0123456789abcdef0123456789abcdef", nil, http.StatusNotFound},
		{"update unknown", http.MethodPut, "/api/lib/0123456789abcdef0123456789abcdef", map[string]any{"name": "Y"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := hs.do(t, tt.method, tt.path, tt.body, testToken)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d, body = %s", rr.Code, tt.want, rr.Body)
			}
		})
	}
}

func TestSyncAndStop(t *testing.T) {
	t.Parallel()
	hs := newHarness(t, nil)
	dir := addLib(t, hs, "Movies", "/media/movies")

	rr := hs.do(t, http.MethodPost, "/api/lib/sync/"+dir.Key, nil, testToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("sync: status = %d", rr.Code)
	}
	calls := hs.jobs.startCalls()
	if len(calls) != 1 || calls[0].key != dir.Key || calls[0].trigger != metrics.TriggerAPI {
		t.Errorf("starts = %+v", calls)
	}

	if rr := hs.do(t, http.MethodPost, "/api/lib/stop/"+dir.Key, nil, testToken); rr.Code != http.StatusOK {
		t.Fatalf("stop: status = %d", rr.Code)
	}
	if len(hs.jobs.stops) != 1 {
		t.Errorf("stops = %v", hs.jobs.stops)
	}

	events := hs.events()
	if !hasEvent(events, security.EventJobStart) || !hasEvent(events, security.EventJobStop) {
		t.Error("missing job audit events")
	}
}

func TestSync_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"already running", supervisor.ErrAlreadyRunning, http.StatusConflict},
		{"unknown", library.ErrDirNotFound, http.StatusNotFound},
		{"invalid key", supervisor.ErrInvalidKey, http.StatusBadRequest},
		{"infrastructure", context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			hs := newHarness(t, nil)
			hs.jobs.startErr = tt.err

			rr := hs.do(t, http.MethodPost, "/api/lib/sync/abc", nil, testToken)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
			env := decodeEnvelope(t, rr)
			if tt.want == http.StatusInternalServerError && env.Msg != "internal error" {
				t.Errorf("infrastructure cause leaked: %q", env.Msg)
			}
		})
	}
}

func TestStartByPath(t *testing.T) {
	t.Parallel()
	hs := newHarness(t, nil)
	dir := addLib(t, hs, "Movies", "/media/movies")

	if rr := hs.do(t, http.MethodGet, "/api/job", nil, testToken); rr.Code != http.StatusNotFound {
		t.Errorf("missing path: status = %d", rr.Code)
	}
	if rr := hs.do(t, http.MethodGet, "/api/job?path=/nowhere", nil, testToken); rr.Code != http.StatusNotFound {
		t.Errorf("unknown path: status = %d", rr.Code)
	}

	rr := hs.do(t, http.MethodGet, "/api/job?path=/media/movies", nil, testToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	env := decodeEnvelope(t, rr)
	if !strings.Contains(env.Msg, "/api/lib/"+dir.Key) {
		t.Errorf("msg = %q", env.Msg)
	}
	if calls := hs.jobs.startCalls(); len(calls) != 1 || calls[0].key != dir.Key {
		t.Errorf("starts = %+v", calls)
	}
}

func TestReadLog(t *testing.T) {
	t.Parallel()
	hs := newHarness(t, nil)
	hs.jobs.logs["abc"] = "line 1<br />line 2"

	var text string
	decodeData(t, hs.do(t, http.MethodGet, "/api/lib/log/abc", nil, testToken), &text)
	if text != "line 1<br />line 2" {
		t.Errorf("log = %q", text)
	}

	decodeData(t, hs.do(t, http.MethodGet, "/api/lib/log/never", nil, testToken), &text)
	if text != "" {
		t.Errorf("missing log = %q", text)
	}
}

func TestAccounts(t *testing.T) {
	t.Parallel()
	hs := newHarness(t, nil)

	rr := hs.do(t, http.MethodPost, "/api/oo5list", map[string]string{"name": "main", "cookie": "UID=1"}, testToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("add: status = %d, body = %s", rr.Code, rr.Body)
	}
	var acct library.Account
	decodeData(t, rr, &acct)

	if rr := hs.do(t, http.MethodPost, "/api/oo5list", map[string]string{"name": "main", "cookie": "UID=2"}, testToken); rr.Code != http.StatusBadRequest {
		t.Errorf("duplicate: status = %d", rr.Code)
	}

	var list []library.Account
	decodeData(t, hs.do(t, http.MethodGet, "/api/oo5list", nil, testToken), &list)
	if len(list) != 1 {
		t.Fatalf("list = %+v", list)
	}

	rr = hs.do(t, http.MethodPut, "/api/oo5/"+acct.Key, map[string]string{"cookie": "UID=3"}, testToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("update: status = %d", rr.Code)
	}
	decodeData(t, rr, &acct)
	if acct.Cookie != "UID=3" || acct.UpdatedAt == "" {
		t.Errorf("updated = %+v", acct)
	}

	// An account referenced by a directory cannot be deleted.
	rr = hs.do(t, http.MethodPost, "/api/libs", map[string]any{
		"name": "Cloud", "path": "/cloud", "id_of_115": acct.Key,
	}, testToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("add lib: %d %s", rr.Code, rr.Body)
	}
	if rr := hs.do(t, http.MethodDelete, "/api/oo5/"+acct.Key, nil, testToken); rr.Code != http.StatusConflict {
		t.Errorf("delete in use: status = %d", rr.Code)
	}

	if rr := hs.do(t, http.MethodGet, "/api/oo5/unknown", nil, testToken); rr.Code != http.StatusNotFound {
		t.Errorf("get unknown: status = %d", rr.Code)
	}
	if !hasEvent(hs.events(), security.EventAccountChange) {
		t.Error("no account_change audit event")
	}
}
