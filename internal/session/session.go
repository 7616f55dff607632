// Package session issues and verifies the signed tokens that identify a user
// across runs. Tokens are HS256 JWTs whose subject is the user id.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/julianstephens/habitual/internal/constants"
	"github.com/julianstephens/habitual/internal/keyring"
)

var (
	// ErrNoSession is returned when no token has been stored yet.
	ErrNoSession = errors.New("no active session")
	// ErrInvalidSession is returned for expired, tampered or malformed tokens.
	ErrInvalidSession = errors.New("invalid session token")
)

// Claims carried by a session token.
type Claims struct {
	Anonymous bool `json:"anon"`
	jwt.RegisteredClaims
}

// Store persists the encoded token between runs.
type Store interface {
	Token() (string, error)
	SaveToken(token string) error
	ClearToken() error
}

// KeyringStore keeps the token in the OS keyring.
type KeyringStore struct{}

func (KeyringStore) Token() (string, error) {
	token, err := keyring.GetSessionToken()
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNoSession
	}
	return token, err
}

func (KeyringStore) SaveToken(token string) error {
	return keyring.SetSessionToken(token)
}

func (KeyringStore) ClearToken() error {
	err := keyring.DeleteSessionToken()
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// LoadOrCreateSecret returns the signing key from the keyring, generating and
// storing a random one on first use.
func LoadOrCreateSecret() ([]byte, error) {
	secret, err := keyring.GetSessionSecret()
	if err == nil {
		return []byte(secret), nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return nil, err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate session secret: %w", err)
	}
	secret = hex.EncodeToString(buf)
	if err := keyring.SetSessionSecret(secret); err != nil {
		return nil, err
	}
	return []byte(secret), nil
}

type Manager struct {
	store  Store
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for issuing and validating tokens.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

func NewManager(store Store, secret []byte, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		secret: secret,
		ttl:    constants.SessionTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Issue signs a token for userID and stores it as the current session.
func (m *Manager) Issue(userID string, anonymous bool) (string, error) {
	if userID == "" {
		return "", errors.New("user id cannot be empty")
	}
	now := m.now()
	claims := Claims{
		Anonymous: anonymous,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    constants.AppName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	if err := m.store.SaveToken(token); err != nil {
		return "", fmt.Errorf("failed to save session token: %w", err)
	}
	return token, nil
}

// Current returns the claims of the stored session.
func (m *Manager) Current() (*Claims, error) {
	token, err := m.store.Token()
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNoSession
	}
	return m.Parse(token)
}

// UserID returns the subject of the stored session.
func (m *Manager) UserID() (string, error) {
	claims, err := m.Current()
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Parse verifies a token against the manager's key and clock.
func (m *Manager) Parse(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(constants.AppName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidSession
	}
	return claims, nil
}

// Clear forgets the stored session.
func (m *Manager) Clear() error {
	return m.store.ClearToken()
}
