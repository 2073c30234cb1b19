package gateway

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/flemzord/strmsync/internal/library"
	"github.com/flemzord/strmsync/internal/metrics"
	"github.com/flemzord/strmsync/internal/security"
	"github.com/flemzord/strmsync/internal/security/securitytest"
	"github.com/flemzord/strmsync/internal/session"
	"github.com/flemzord/strmsync/internal/supervisor"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const testToken = "good-token"

// fakeSessions accepts admin/secret and the tokens it issued.
type fakeSessions struct {
	mu       sync.Mutex
	issued   int
	tokens   map[string]bool
	revoked  []string
	issueErr error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{tokens: map[string]bool{testToken: true}}
}

func (s *fakeSessions) Issue(_ context.Context, username, password string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.issueErr != nil {
		return "", s.issueErr
	}
	if username != "admin" || password != "secret" {
		return "", session.ErrBadCredentials
	}
	s.issued++
	tok := fmt.Sprintf("token-%d", s.issued)
	s.tokens[tok] = true
	return tok, nil
}

func (s *fakeSessions) Verify(token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tokens[token] {
		return "", session.ErrInvalid
	}
	return "admin", nil
}

func (s *fakeSessions) Revoke(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	s.revoked = append(s.revoked, token)
	return nil
}

type startCall struct {
	key     string
	trigger string
}

// fakeJobs records job control calls.
type fakeJobs struct {
	mu       sync.Mutex
	starts   []startCall
	stops    []string
	startErr error
	stopErr  error
	logs     map[string]string
	tracked  []supervisor.Tracked
}

func (j *fakeJobs) Start(ctx context.Context, key string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.startErr != nil {
		return j.startErr
	}
	j.starts = append(j.starts, startCall{key: key, trigger: metrics.TriggerFrom(ctx)})
	return nil
}

func (j *fakeJobs) Stop(_ context.Context, key string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stopErr != nil {
		return j.stopErr
	}
	j.stops = append(j.stops, key)
	return nil
}

func (j *fakeJobs) ReadLog(key string) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.logs[key], nil
}

func (j *fakeJobs) TailLog(key string, offset int64) ([]byte, int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	data := j.logs[key]
	if int(offset) >= len(data) {
		return nil, int64(len(data)), nil
	}
	return []byte(data[offset:]), int64(len(data)), nil
}

func (j *fakeJobs) Tracked() []supervisor.Tracked {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.tracked
}

func (j *fakeJobs) startCalls() []startCall {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]startCall(nil), j.starts...)
}

type fakeNotifier struct {
	mu    sync.Mutex
	tests []library.Settings
	err   error
}

func (n *fakeNotifier) Test(_ context.Context, s library.Settings) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tests = append(n.tests, s)
	return n.err
}

type harness struct {
	g        *Gateway
	h        http.Handler
	store    *library.Store
	sessions *fakeSessions
	jobs     *fakeJobs
	notifier *fakeNotifier
	events   func() []security.AuditEvent
}

func newStore(t *testing.T) *library.Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	store, err := library.New(context.Background(), db)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

// newHarness builds a gateway over a real store and fake sessions, jobs
// and notifier. configure may adjust the config before the router is built.
func newHarness(t *testing.T, configure func(*Gateway)) *harness {
	t.Helper()

	audit, events := securitytest.NewTestAuditLogger()
	hs := &harness{
		store:    newStore(t),
		sessions: newFakeSessions(),
		jobs:     &fakeJobs{logs: map[string]string{}},
		notifier: &fakeNotifier{},
		events:   events,
	}
	g := &Gateway{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		store:    hs.store,
		sessions: hs.sessions,
		jobs:     hs.jobs,
		notifier: hs.notifier,
		metrics:  metrics.New(),
		audit:    audit,
		limiter:  security.NewRateLimiter(security.RateLimitConfig{}),
		creds:    securitytest.NewTestCredentialStore(security.CredSessionSecret, "test-secret"),
	}
	g.config.defaults()
	if configure != nil {
		configure(g)
	}
	hs.g = g
	hs.h = g.buildRouter()
	return hs
}

func (hs *harness) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	hs.h.ServeHTTP(rr, req)
	return rr
}

type testEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder, v any) testEnvelope {
	t.Helper()
	env := decodeEnvelope(t, rr)
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
	return env
}

func hasEvent(events []security.AuditEvent, typ security.EventType) bool {
	for _, e := range events {
		if e.Type == typ {
			return true
		}
	}
	return false
}
