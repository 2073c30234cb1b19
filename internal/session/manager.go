// Package session issues and verifies the signed bearer tokens of the
// administrator. A user holds at most a fixed number of live tokens, and
// logged-out tokens stay revoked until they would have expired anyway.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flemzord/strmsync/internal/fault"
	"github.com/flemzord/strmsync/internal/library"
	"github.com/flemzord/strmsync/internal/metrics"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"
)

// Failures returned by the manager.
var (
	ErrBadCredentials  = fault.New(fault.Auth, "incorrect username or password")
	ErrTooManySessions = fault.New(fault.Auth, "maximum number of sessions reached, log out elsewhere first")
	ErrRevoked         = fault.New(fault.Auth, "token has been revoked")
	ErrExpired         = fault.New(fault.Auth, "token has expired")
	ErrInvalid         = fault.New(fault.Auth, "could not validate credentials")
)

// Defaults.
const (
	DefaultTTL         = 7 * 24 * time.Hour
	DefaultMaxSessions = 3
)

const dayLayout = "2006-01-02"

// Credentials is where the administrator credentials are stored.
// *library.Store implements it.
type Credentials interface {
	Settings(ctx context.Context) (library.Settings, bool, error)
	SaveSettings(ctx context.Context, s library.Settings) error
}

// Options configures a Manager.
type Options struct {
	Secret      []byte
	TTL         time.Duration
	MaxSessions int
	Now         func() time.Time
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Manager is the session manager.
type Manager struct {
	creds   Credentials
	active  *ActiveTokens
	revoked *Revocations
	secret  []byte
	ttl     time.Duration
	max     int
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	// mu makes the prune, count and add of Issue one step.
	mu sync.Mutex
}

// NewManager returns a manager over the given stores.
func NewManager(creds Credentials, active *ActiveTokens, revoked *Revocations, opts Options) *Manager {
	m := &Manager{
		creds:   creds,
		active:  active,
		revoked: revoked,
		secret:  opts.Secret,
		ttl:     opts.TTL,
		max:     opts.MaxSessions,
		now:     opts.Now,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  otel.Tracer("github.com/flemzord/strmsync/internal/session"),
	}
	if m.ttl <= 0 {
		m.ttl = DefaultTTL
	}
	if m.max <= 0 {
		m.max = DefaultMaxSessions
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// TTL returns the token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue checks the credentials and mints a new token for username.
func (m *Manager) Issue(ctx context.Context, username, password string) (token string, err error) {
	ctx, span := m.tracer.Start(ctx, "session.Issue", trace.WithAttributes(attribute.String("strmsync.user", username)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := m.checkCredentials(ctx, username, password); err != nil {
		m.metrics.Login("bad_credentials")
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if _, err := m.active.Retain(username, func(tok string) bool { return m.live(tok, now) }); err != nil {
		return "", err
	}
	if m.active.Count(username) >= m.max {
		m.metrics.Login("too_many_sessions")
		return "", fmt.Errorf("session: %s holds %d tokens: %w", username, m.max, ErrTooManySessions)
	}

	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		ID:        uuid.NewString(),
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("session: sign token: %w", err)
	}
	if err := m.active.Add(username, token); err != nil {
		return "", err
	}

	m.metrics.Login("ok")
	m.logger.Info("session issued", "user", username, "jti", claims.ID)
	return token, nil
}

func (m *Manager) checkCredentials(ctx context.Context, username, password string) error {
	settings, ok, err := m.creds.Settings(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBadCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(settings.Username)) == 1
	passErr := bcrypt.CompareHashAndPassword([]byte(settings.PasswordHash), []byte(password))
	if !userOK || passErr != nil {
		return ErrBadCredentials
	}
	return nil
}

// parse verifies the signature and algorithm of token without looking at
// its expiry.
func (m *Manager) parse(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func expired(claims *jwt.RegisteredClaims, now time.Time) bool {
	return claims.ExpiresAt == nil || !now.Before(claims.ExpiresAt.Time)
}

// live reports whether token carries a valid signature and has not expired.
func (m *Manager) live(token string, now time.Time) bool {
	claims, err := m.parse(token)
	return err == nil && !expired(claims, now)
}

// Verify returns the username of a valid, unrevoked token.
func (m *Manager) Verify(token string) (string, error) {
	claims, err := m.parse(token)
	if err != nil {
		return "", fmt.Errorf("session: %w", ErrInvalid)
	}

	since := ""
	if claims.IssuedAt != nil {
		since = claims.IssuedAt.UTC().Format(dayLayout)
	}
	if m.revoked.Contains(token, since) {
		return "", ErrRevoked
	}
	if expired(claims, m.now()) {
		return "", ErrExpired
	}
	if claims.Subject == "" {
		return "", ErrInvalid
	}
	return claims.Subject, nil
}

// Revoke logs token out: it leaves its owner's active set when it can be
// decoded, and is added to today's revocation bucket in every case.
func (m *Manager) Revoke(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if claims, err := m.parse(token); err == nil && claims.Subject != "" {
		if _, err := m.active.Remove(claims.Subject, token); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.revoked.Add(m.now().UTC().Format(dayLayout), token); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Sweep drops expired tokens from the active sets and revocation buckets
// old enough that every token in them has expired. It returns the number
// of tokens dropped.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	active, err := m.active.Retain("", func(tok string) bool { return m.live(tok, now) })
	if err != nil {
		m.logger.Error("session sweep: active tokens", "error", err)
	}
	revoked, err := m.revoked.DropBefore(now.Add(-m.ttl).UTC().Format(dayLayout))
	if err != nil {
		m.logger.Error("session sweep: revocations", "error", err)
	}
	return active + revoked
}

// HashPassword returns the bcrypt hash stored for password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("session: hash password: %w", err)
	}
	return string(hash), nil
}
