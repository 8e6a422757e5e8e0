// Package auth holds the player's bearer token and renews it when the
// backend rejects it. New installs bootstrap an anonymous account the way
// the mobile client does.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/playperu/geoquest/internal/geoquest"
)

// ErrNoCredentials is returned by a CredentialStore that holds nothing yet.
var ErrNoCredentials = errors.New("no stored credentials")

// Credentials are the username/password pair used to obtain tokens.
type Credentials struct {
	Username string
	Password string
}

// Authenticator is the backend side of account management.
type Authenticator interface {
	Register(ctx context.Context, username, password string) error
	Login(ctx context.Context, username, password string) (string, error)
}

// CredentialStore persists credentials between runs.
type CredentialStore interface {
	LoadCredentials(ctx context.Context) (Credentials, error)
	SaveCredentials(ctx context.Context, c Credentials) error
}

// Session is the token provider and re-authentication collaborator.
type Session struct {
	api    Authenticator
	store  CredentialStore
	logger *slog.Logger

	renew sync.Mutex

	mu      sync.RWMutex
	token   string
	subject geoquest.PlayerID
}

// NewSession creates a session. store may be nil, in which case credentials
// live only in memory.
func NewSession(api Authenticator, store CredentialStore, logger *slog.Logger) *Session {
	if store == nil {
		store = &memoryStore{}
	}
	return &Session{api: api, store: store, logger: logger}
}

// Token returns the current bearer token.
func (s *Session) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// PlayerID returns the subject of the current token.
func (s *Session) PlayerID() (geoquest.PlayerID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", geoquest.ErrUnauthenticated
	}
	if s.subject == "" {
		return "", fmt.Errorf("token carries no subject: %w", geoquest.ErrUnauthenticated)
	}
	return s.subject, nil
}

// SetToken installs token and extracts its subject.
func (s *Session) SetToken(token string) {
	sub, err := Subject(token)
	if err != nil {
		s.logger.Warn("token subject unreadable", "error", err)
	}

	s.mu.Lock()
	s.token = token
	s.subject = sub
	s.mu.Unlock()
}

// Login authenticates with explicit credentials and remembers them.
func (s *Session) Login(ctx context.Context, username, password string) error {
	s.renew.Lock()
	defer s.renew.Unlock()

	token, err := s.api.Login(ctx, username, password)
	if err != nil {
		return err
	}
	if err := s.store.SaveCredentials(ctx, Credentials{Username: username, Password: password}); err != nil {
		s.logger.Error("saving credentials", "error", err)
	}
	s.SetToken(token)
	return nil
}

// Reauthenticate obtains a fresh token with the stored credentials, creating
// an anonymous account first when none exist.
func (s *Session) Reauthenticate(ctx context.Context) error {
	s.renew.Lock()
	defer s.renew.Unlock()

	creds, err := s.store.LoadCredentials(ctx)
	if errors.Is(err, ErrNoCredentials) {
		creds, err = s.createAnonymous(ctx)
	}
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	token, err := s.api.Login(ctx, creds.Username, creds.Password)
	if err != nil {
		return err
	}
	s.SetToken(token)
	s.logger.Info("re-authenticated", "username", creds.Username)
	return nil
}

func (s *Session) createAnonymous(ctx context.Context) (Credentials, error) {
	creds := Credentials{
		Username: "explorer_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:7],
		Password: uuid.NewString(),
	}
	if err := s.api.Register(ctx, creds.Username, creds.Password); err != nil {
		return Credentials{}, fmt.Errorf("creating anonymous user: %w", err)
	}
	if err := s.store.SaveCredentials(ctx, creds); err != nil {
		return Credentials{}, fmt.Errorf("saving anonymous user: %w", err)
	}
	s.logger.Info("anonymous user created", "username", creds.Username)
	return creds, nil
}

// Subject reads the "sub" claim of a JWT without verifying its signature;
// the backend is the only party that verifies tokens.
func Subject(token string) (geoquest.PlayerID, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("reading subject: %w", err)
	}
	return geoquest.PlayerID(sub), nil
}

type memoryStore struct {
	mu    sync.Mutex
	creds *Credentials
}

func (m *memoryStore) LoadCredentials(context.Context) (Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return Credentials{}, ErrNoCredentials
	}
	return *m.creds, nil
}

func (m *memoryStore) SaveCredentials(_ context.Context, c Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = &c
	return nil
}
