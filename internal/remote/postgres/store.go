// Package postgres is the remote.Store backed by PostgreSQL. Habit documents
// live in a JSONB column; a trigger publishes the owner id on the
// habit_changes channel and listeners re-read the owner's collection.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	pq "github.com/lib/pq"

	"github.com/julianstephens/habitual/internal/constants"
	"github.com/julianstephens/habitual/internal/keyring"
	"github.com/julianstephens/habitual/internal/logger"
	"github.com/julianstephens/habitual/internal/migration"
	"github.com/julianstephens/habitual/internal/models"
	"github.com/julianstephens/habitual/internal/remote"
	"github.com/julianstephens/habitual/migrations"
)

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	listenerPingInterval = 90 * time.Second

	// ConnStringEnv names the environment variable holding the connection string.
	ConnStringEnv = constants.EnvPrefix + "DATABASE_URL"
)

var (
	ErrInvalidConnectionString = errors.New("invalid PostgreSQL connection string")
	ErrEmbeddedCredentials     = errors.New("connection string must not contain a password")
	ErrNoConnectionString      = errors.New("no remote connection string configured")
)

type Store struct {
	connStr string
	db      *sql.DB
}

var _ remote.Store = (*Store)(nil)

func New(connStr string) *Store {
	s := &Store{
		connStr: connStr,
	}
	s.ensureSearchPath()
	return s
}

// Open validates connStr, connects and applies pending migrations.
func Open(ctx context.Context, connStr string) (*Store, error) {
	if _, err := ValidateConnString(connStr); err != nil {
		return nil, err
	}
	s := New(connStr)
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ResolveConnString picks the connection string from the environment, then
// the OS keyring, then the configured value.
func ResolveConnString(configured string) (string, error) {
	if env := strings.TrimSpace(os.Getenv(ConnStringEnv)); env != "" {
		return env, nil
	}
	stored, err := keyring.GetConnectionString()
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		logger.Warn("Keyring lookup failed", "error", err)
	}
	if strings.TrimSpace(configured) != "" {
		return configured, nil
	}
	return "", ErrNoConnectionString
}

// Connect resolves the connection string and opens the store. A password is
// tolerated from the environment or keyring, never from the config file.
func Connect(ctx context.Context, configured string) (*Store, error) {
	connStr, err := ResolveConnString(configured)
	if err != nil {
		return nil, err
	}
	if _, err := ValidateConnString(connStr); err != nil {
		if !errors.Is(err, ErrEmbeddedCredentials) || connStr == configured {
			return nil, err
		}
	}
	s := New(connStr)
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSearchPath() {
	if strings.HasPrefix(s.connStr, "postgres://") || strings.HasPrefix(s.connStr, "postgresql://") {
		u, err := url.Parse(s.connStr)
		if err != nil {
			logger.Warn("Failed to parse Postgres connection string", "error", err)
			return
		}
		q := u.Query()
		if q.Get("search_path") == "" {
			q.Set("search_path", constants.AppName)
			u.RawQuery = q.Encode()
			s.connStr = u.String()
		}
	} else if !hasParam(s.connStr, "search_path") {
		s.connStr = strings.TrimSpace(s.connStr) + " search_path=" + constants.AppName
	}
}

// hasParam reports whether a DSN-style connection string sets key
// (case-insensitive).
func hasParam(connStr, key string) bool {
	for _, part := range strings.Fields(connStr) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 && strings.EqualFold(kv[0], key) {
			return true
		}
	}
	return false
}

// hasSSLMode checks URL-style and DSN-style connection strings for sslmode.
func hasSSLMode(connStr string) bool {
	if u, err := url.Parse(connStr); err == nil && u.Scheme != "" {
		for key := range u.Query() {
			if strings.EqualFold(key, "sslmode") {
				return true
			}
		}
	}
	return hasParam(connStr, "sslmode")
}

// ValidateConnString checks that connStr is a PostgreSQL URI or DSN without an
// embedded password.
func ValidateConnString(connStr string) (bool, error) {
	if strings.TrimSpace(connStr) == "" {
		return false, fmt.Errorf("%w: connection string cannot be empty", ErrInvalidConnectionString)
	}

	if _, err := pq.NewConnector(connStr); err != nil {
		return false, fmt.Errorf("%w: invalid connection string format: %v", ErrInvalidConnectionString, err)
	}

	if strings.HasPrefix(connStr, "postgres://") || strings.HasPrefix(connStr, "postgresql://") {
		parsedURL, err := url.Parse(connStr)
		if err != nil {
			return false, fmt.Errorf("%w: failed to parse connection URL: %v", ErrInvalidConnectionString, err)
		}
		if _, isSet := parsedURL.User.Password(); isSet {
			return false, ErrEmbeddedCredentials
		}
		if parsedURL.Host == "" && parsedURL.User == nil && (parsedURL.Path == "" || parsedURL.Path == "/") {
			return false, fmt.Errorf("%w: connection URL is incomplete", ErrInvalidConnectionString)
		}
	} else if hasParam(connStr, "password") {
		return false, ErrEmbeddedCredentials
	}

	return true, nil
}

func (s *Store) Init(ctx context.Context) error {
	db, err := sql.Open("postgres", s.connStr)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		if strings.Contains(err.Error(), "SSL is not enabled on the server") && !hasSSLMode(s.connStr) {
			return fmt.Errorf("%w: %v (hint: try adding ?sslmode=disable to your connection string)", remote.ErrUnavailable, err)
		}
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}

	return s.attach(ctx, db)
}

// attach prepares the schema on db and adopts it. db is closed when any step
// fails.
func (s *Store) attach(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+constants.AppName); err != nil {
		db.Close()
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	s.db = db
	return nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	subFS, err := migrations.Postgres()
	if err != nil {
		return fmt.Errorf("failed to access postgres migrations: %w", err)
	}
	_, err = migration.NewRunner(db, subFS, migration.Postgres).Apply(ctx)
	return err
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) SignInAnonymously(ctx context.Context) (string, error) {
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO app_users (id, anonymous) VALUES ($1, TRUE)`, id); err != nil {
		return "", fmt.Errorf("%w: anonymous sign-in failed: %v", remote.ErrUnavailable, err)
	}
	return id, nil
}

func (s *Store) Create(ctx context.Context, userID string, doc models.Document) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, userID, id, doc); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Set(ctx context.Context, userID, id string, doc models.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", id, err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO habit_documents (id, owner_id, doc, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()
		WHERE habit_documents.owner_id = EXCLUDED.owner_id`,
		id, userID, string(body))
	if err != nil {
		return fmt.Errorf("%w: failed to write document %s: %v", remote.ErrUnavailable, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("document %s belongs to another user", id)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM habit_documents WHERE id = $1 AND owner_id = $2`, id, userID); err != nil {
		return fmt.Errorf("%w: failed to delete document %s: %v", remote.ErrUnavailable, id, err)
	}
	return nil
}

// Snapshot reads the full collection of a user.
func (s *Store) Snapshot(ctx context.Context, userID string) ([]remote.DocumentSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, doc FROM habit_documents WHERE owner_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read documents: %v", remote.ErrUnavailable, err)
	}
	defer rows.Close()

	docs := []remote.DocumentSnapshot{}
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		var doc models.Document
		if err := json.Unmarshal(body, &doc); err != nil {
			logger.Warn("Skipping undecodable document", "id", id, "error", err)
			continue
		}
		docs = append(docs, remote.DocumentSnapshot{ID: id, Data: doc})
	}
	return docs, rows.Err()
}

// Listen delivers the initial snapshot before returning, then re-reads the
// collection on every notification for userID and after every reconnect.
func (s *Store) Listen(ctx context.Context, userID string, onSnapshot remote.SnapshotFunc, onError remote.ErrorFunc) (remote.Subscription, error) {
	initial, err := s.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := func(err error) {
		if onError != nil {
			onError(fmt.Errorf("%w: %v", remote.ErrUnavailable, err))
		}
	}

	l := pq.NewListener(s.connStr, minReconnectInterval, maxReconnectInterval, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("Remote listener event", "event", ev, "error", err)
			report(err)
		}
	})
	if err := l.Listen(constants.RemoteChangesChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("%w: failed to listen: %v", remote.ErrUnavailable, err)
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{cancel: cancel}

	onSnapshot(initial)
	go s.watch(subCtx, l, userID, onSnapshot, report)
	return sub, nil
}

func (s *Store) watch(ctx context.Context, l *pq.Listener, userID string, onSnapshot remote.SnapshotFunc, report func(error)) {
	defer l.Close()

	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-l.Notify:
			if !ok {
				return
			}
			// A nil notification means the connection was re-established and
			// changes may have been missed.
			if n != nil && n.Extra != userID {
				continue
			}
			docs, err := s.Snapshot(ctx, userID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				report(err)
				continue
			}
			onSnapshot(docs)
		case <-ticker.C:
			go func() {
				if err := l.Ping(); err != nil {
					logger.Debug("Remote listener ping failed", "error", err)
				}
			}()
		}
	}
}

type subscription struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (sub *subscription) Remove() {
	sub.once.Do(sub.cancel)
}
