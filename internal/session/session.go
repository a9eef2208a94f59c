// Package session holds the bearer credential for the signed-in account.
//
// The credential is process-wide state with an explicit lifecycle:
// Initialize restores it at startup, Login sets and persists it, Logout
// clears and un-persists it. Everything else receives the token through
// WithCredential / CredentialFrom or as an explicit argument.
package session

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gopkg.in/yaml.v3"

	"famcal/internal/config"
	appLog "famcal/internal/log"
)

// Credentials is the persisted form of a session.
type Credentials struct {
	Token   string    `yaml:"token"`
	Email   string    `yaml:"email,omitempty"`
	SavedAt time.Time `yaml:"saved_at"`
}

// Persister stores credentials between runs.
type Persister interface {
	Load() (Credentials, error)
	Save(Credentials) error
	Clear() error
}

// FileStore persists credentials as YAML, written atomically with 0600
// permissions.
type FileStore struct {
	Path string
}

// NewFileStore returns a FileStore for <dir>/credentials.yaml.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Path: filepath.Join(dir, "credentials.yaml")}
}

func (f *FileStore) Load() (Credentials, error) {
	var c Credentials
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Credentials{}, err
	}
	return c, nil
}

func (f *FileStore) Save(c Credentials) error {
	data, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(f.Path, data)
}

func (f *FileStore) Clear() error {
	err := os.Remove(f.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Session is the current authentication state.
type Session struct {
	store Persister
	now   func() time.Time

	mu    sync.RWMutex
	token string
	email string
}

// New returns a logged-out session backed by store. A nil store keeps the
// session in memory only.
func New(store Persister) *Session {
	return &Session{store: store, now: time.Now}
}

// Initialize restores the persisted credential. A missing file is not an
// error. A JWT whose exp claim has passed is discarded.
func (s *Session) Initialize() error {
	if s.store == nil {
		return nil
	}
	c, err := s.store.Load()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	tok := strings.TrimSpace(c.Token)
	if tok == "" {
		return nil
	}
	if exp, ok := tokenExpiry(tok); ok && !exp.After(s.now()) {
		appLog.Info("stored session expired; discarding", "expired_at", exp.Format(time.RFC3339))
		return s.store.Clear()
	}

	s.mu.Lock()
	s.token = tok
	s.email = c.Email
	s.mu.Unlock()
	return nil
}

// Login sets and persists token. The in-memory credential is only replaced
// once persistence succeeded.
func (s *Session) Login(token, email string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("session: token is empty")
	}
	if s.store != nil {
		if err := s.store.Save(Credentials{Token: token, Email: email, SavedAt: s.now().UTC()}); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.token = token
	s.email = email
	s.mu.Unlock()
	return nil
}

// Logout clears the credential in memory and on disk.
func (s *Session) Logout() error {
	s.mu.Lock()
	s.token = ""
	s.email = ""
	s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	return s.store.Clear()
}

// Token returns the current bearer token, "" when logged out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Email returns the account the session was opened for, if known.
func (s *Session) Email() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.email
}

// LoggedIn reports whether a token is present.
func (s *Session) LoggedIn() bool {
	return s.Token() != ""
}

// Context returns ctx carrying the current credential.
func (s *Session) Context(ctx context.Context) context.Context {
	return WithCredential(ctx, s.Token())
}

// tokenExpiry reads the exp claim without verifying the signature; the
// client never holds the signing key.
func tokenExpiry(tok string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

type ctxKey int

const credentialCtxKey ctxKey = 1

// WithCredential attaches a bearer token to ctx.
func WithCredential(ctx context.Context, token string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, credentialCtxKey, token)
}

// CredentialFrom returns the token attached by WithCredential, or "".
func CredentialFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(credentialCtxKey).(string)
	return v
}
