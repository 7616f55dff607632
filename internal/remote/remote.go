// Package remote defines the document store the habit repository syncs with.
// Each user owns a collection of habit documents; listeners receive the whole
// collection again after every change.
package remote

import (
	"context"
	"errors"

	"github.com/julianstephens/habitual/internal/models"
)

// ErrUnavailable reports that the remote could not be reached.
var ErrUnavailable = errors.New("remote store unavailable")

// DocumentSnapshot is one document of a collection snapshot.
type DocumentSnapshot struct {
	ID   string
	Data models.Document
}

// Subscription is a live listener registration.
type Subscription interface {
	// Remove stops delivery. It is safe to call more than once.
	Remove()
}

// SnapshotFunc receives the full current collection of a user.
type SnapshotFunc func(docs []DocumentSnapshot)

// ErrorFunc receives transport failures of a live subscription.
type ErrorFunc func(err error)

// Store is a per-user document collection with push notifications.
type Store interface {
	// SignInAnonymously registers a new anonymous user and returns its id.
	SignInAnonymously(ctx context.Context) (string, error)
	// Create stores a new document and returns the id the store assigned.
	Create(ctx context.Context, userID string, doc models.Document) (string, error)
	// Set overwrites the document with the given id, creating it if missing.
	Set(ctx context.Context, userID, id string, doc models.Document) error
	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, userID, id string) error
	// Listen delivers the user's collection now and after every change.
	Listen(ctx context.Context, userID string, onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error)
	Close() error
}
