// Package memory is an in-process remote.Store. Documents are round-tripped
// through JSON so readers see the same value types a network store returns.
// Listeners run synchronously on the goroutine that made the change.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/julianstephens/habitual/internal/models"
	"github.com/julianstephens/habitual/internal/remote"
)

type listener struct {
	id         int
	userID     string
	onSnapshot remote.SnapshotFunc
	onError    remote.ErrorFunc
}

type Store struct {
	mu        sync.Mutex
	docs      map[string]map[string][]byte // userID -> docID -> JSON
	listeners map[int]*listener
	nextID    int
	failure   error
	closed    bool
}

var _ remote.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		docs:      make(map[string]map[string][]byte),
		listeners: make(map[int]*listener),
	}
}

// SetFailure makes every subsequent call fail with err wrapped in
// remote.ErrUnavailable. A nil err restores normal operation.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

// Disconnect reports err to every live listener without removing them.
func (s *Store) Disconnect(err error) {
	s.mu.Lock()
	ls := s.allListeners()
	s.mu.Unlock()

	for _, l := range ls {
		if l.onError != nil {
			l.onError(fmt.Errorf("%w: %v", remote.ErrUnavailable, err))
		}
	}
}

// Documents returns the current collection of a user.
func (s *Store) Documents(userID string) []remote.DocumentSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(userID)
}

// Put stores a raw document, bypassing validation, and notifies listeners.
func (s *Store) Put(userID, id string, doc models.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.putLocked(userID, id, raw)
	s.mu.Unlock()
	s.notify(userID)
	return nil
}

func (s *Store) checkLocked() error {
	if s.closed {
		return fmt.Errorf("%w: store closed", remote.ErrUnavailable)
	}
	if s.failure != nil {
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, s.failure)
	}
	return nil
}

func (s *Store) SignInAnonymously(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return "", err
	}
	return uuid.NewString(), nil
}

func (s *Store) Create(ctx context.Context, userID string, doc models.Document) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, userID, id, doc); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Set(ctx context.Context, userID, id string, doc models.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", id, err)
	}

	s.mu.Lock()
	if err := s.checkLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.putLocked(userID, id, raw)
	s.mu.Unlock()

	s.notify(userID)
	return nil
}

func (s *Store) Delete(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.checkLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	_, existed := s.docs[userID][id]
	delete(s.docs[userID], id)
	s.mu.Unlock()

	if existed {
		s.notify(userID)
	}
	return nil
}

func (s *Store) Listen(ctx context.Context, userID string, onSnapshot remote.SnapshotFunc, onError remote.ErrorFunc) (remote.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if err := s.checkLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.nextID++
	l := &listener{id: s.nextID, userID: userID, onSnapshot: onSnapshot, onError: onError}
	s.listeners[l.id] = l
	initial := s.snapshotLocked(userID)
	s.mu.Unlock()

	onSnapshot(initial)
	return &subscription{store: s, id: l.id}, nil
}

// ListenerCount returns the number of live subscriptions.
func (s *Store) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.listeners = make(map[int]*listener)
	return nil
}

func (s *Store) putLocked(userID, id string, raw []byte) {
	coll, ok := s.docs[userID]
	if !ok {
		coll = make(map[string][]byte)
		s.docs[userID] = coll
	}
	coll[id] = raw
}

func (s *Store) snapshotLocked(userID string) []remote.DocumentSnapshot {
	coll := s.docs[userID]
	ids := make([]string, 0, len(coll))
	for id := range coll {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]remote.DocumentSnapshot, 0, len(ids))
	for _, id := range ids {
		var doc models.Document
		if err := json.Unmarshal(coll[id], &doc); err != nil {
			continue
		}
		out = append(out, remote.DocumentSnapshot{ID: id, Data: doc})
	}
	return out
}

func (s *Store) allListeners() []*listener {
	ls := make([]*listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	sort.Slice(ls, func(i, j int) bool { return ls[i].id < ls[j].id })
	return ls
}

func (s *Store) notify(userID string) {
	s.mu.Lock()
	var targets []*listener
	for _, l := range s.allListeners() {
		if l.userID == userID {
			targets = append(targets, l)
		}
	}
	snap := s.snapshotLocked(userID)
	s.mu.Unlock()

	for _, l := range targets {
		l.onSnapshot(snap)
	}
}

type subscription struct {
	store *Store
	id    int
	once  sync.Once
}

func (sub *subscription) Remove() {
	sub.once.Do(func() {
		sub.store.mu.Lock()
		defer sub.store.mu.Unlock()
		delete(sub.store.listeners, sub.id)
	})
}
