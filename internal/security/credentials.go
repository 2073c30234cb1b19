// Package security holds the runtime secrets of the process and the
// machinery that keeps them out of logs and child processes: literal and
// pattern redaction, a redacting slog handler, the audit log, per-client
// rate limits and request body checks.
package security

import (
	"slices"
	"sync"
)

// Service names the security primitives are registered under.
const (
	CredentialsService = "security.credentials"
	RedactorService    = "security.redactor"
	AuditService       = "security.audit"
	RateLimiterService = "security.ratelimit"
)

// Well-known credential names.
const (
	CredSessionSecret = "session.secret"
	CredTelegramToken = "telegram.bot_token"
)

// CredentialStore holds the secrets known at runtime (JWT signing secret,
// Telegram bot token, account cookies). When a Redactor is attached every
// change is mirrored into its literal list.
type CredentialStore struct {
	mu       sync.RWMutex
	creds    map[string]string
	redactor *Redactor
}

// NewCredentialStore creates an empty credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{creds: make(map[string]string)}
}

// AttachRedactor mirrors the store's values into r, now and on every change.
func (s *CredentialStore) AttachRedactor(r *Redactor) {
	s.mu.Lock()
	s.redactor = r
	s.mu.Unlock()
	r.SyncCredentials(s)
}

// Set stores a credential, overwriting any previous value. An empty value
// deletes it.
func (s *CredentialStore) Set(name, value string) {
	s.mu.Lock()
	if value == "" {
		delete(s.creds, name)
	} else {
		s.creds[name] = value
	}
	r := s.redactor
	s.mu.Unlock()

	if r != nil {
		r.SyncCredentials(s)
	}
}

// Get returns the credential value and whether it exists.
func (s *CredentialStore) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.creds[name]
	return v, ok
}

// Names returns the sorted credential names.
func (s *CredentialStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.creds))
	for name := range s.creds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Values returns all credential values in no particular order.
func (s *CredentialStore) Values() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values := make([]string, 0, len(s.creds))
	for _, v := range s.creds {
		values = append(values, v)
	}
	return values
}
