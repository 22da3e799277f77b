package client

import (
	"sync"

	"beadboard/internal/models"
)

/*
LEARNING: REVISION-ORDERED REPLICA

Envelopes can arrive duplicated or out of order (retried sends, races
between message types). The store replays them into a locally consistent
replica by revision number:

- anything at or below the last seen revision is discarded silently
- snapshots rebuild the whole replica
- upserts merge IN PLACE so view layers holding an old *Issue see the
  same identity with new field values

Staleness is not an error here - discards are the expected mechanism.
*/

// IssueStore is the client-side replica for ONE subscription id.
type IssueStore struct {
	id string

	mu           sync.Mutex
	itemsByID    map[string]*models.Issue
	ordered      []*models.Issue // derived, re-sorted on every mutation
	lastRevision uint64
	disposed     bool

	listeners    map[int]func()
	nextListener int
}

func NewIssueStore(id string) *IssueStore {
	return &IssueStore{
		id:        id,
		itemsByID: make(map[string]*models.Issue),
		listeners: make(map[int]func()),
	}
}

// ID returns the subscription id this store replicates.
func (s *IssueStore) ID() string {
	return s.id
}

// LastRevision returns the highest revision applied so far.
func (s *IssueStore) LastRevision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRevision
}

// ApplyPush replays one envelope into the replica. Listeners are
// notified at most once per call, never once per item.
func (s *IssueStore) ApplyPush(env *models.PushEnvelope) {
	s.mu.Lock()

	// Routing should already guarantee the id matches; drop defensively.
	if s.disposed || env.ID != s.id {
		s.mu.Unlock()
		return
	}

	rev := env.Revision
	if rev <= s.lastRevision {
		// Stale or duplicate delivery.
		s.mu.Unlock()
		return
	}

	changed := false
	switch env.Type {
	case models.MsgSnapshot:
		s.itemsByID = make(map[string]*models.Issue, len(env.Issues))
		for _, issue := range env.Issues {
			s.itemsByID[issue.ID] = issue
		}
		changed = true

	case models.MsgUpsert:
		if env.Issue != nil {
			changed = s.applyUpsert(env.Issue)
		}

	case models.MsgDelete:
		if _, ok := s.itemsByID[env.IssueID]; ok {
			delete(s.itemsByID, env.IssueID)
			changed = true
		}

	default:
		s.mu.Unlock()
		return
	}

	// Revision tracking advances even when the item-level logic declined
	// the content change; they are separate concerns.
	s.lastRevision = rev

	if changed {
		s.resortLocked()
	}

	listeners := s.listenersSnapshotLocked()
	s.mu.Unlock()

	if changed {
		for _, fn := range listeners {
			fn()
		}
	}
}

// applyUpsert inserts a new issue or merges into the existing one.
// UpdatedAt arbitrates: older incoming content is dropped (the revision
// still advances in the caller). Ties favor the incoming value.
func (s *IssueStore) applyUpsert(incoming *models.Issue) bool {
	existing, ok := s.itemsByID[incoming.ID]
	if !ok {
		s.itemsByID[incoming.ID] = incoming
		return true
	}
	if incoming.UpdatedAt.Before(existing.UpdatedAt) {
		return false
	}
	existing.MergeFrom(incoming)
	return true
}

func (s *IssueStore) resortLocked() {
	s.ordered = make([]*models.Issue, 0, len(s.itemsByID))
	for _, issue := range s.itemsByID {
		s.ordered = append(s.ordered, issue)
	}
	models.SortIssues(s.ordered)
}

func (s *IssueStore) listenersSnapshotLocked() []func() {
	out := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

// Snapshot returns the ordered view. Treat as immutable.
func (s *IssueStore) Snapshot() []*models.Issue {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Issue, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// Get returns the issue with the given id, if present.
func (s *IssueStore) Get(issueID string) (*models.Issue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	issue, ok := s.itemsByID[issueID]
	return issue, ok
}

// Subscribe registers a listener called after each applied envelope.
// Returns a cancel function.
func (s *IssueStore) Subscribe(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return func() {}
	}
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Dispose clears all state and listeners. Subsequent ApplyPush calls are
// no-ops. Used when a subscription id is retired or its spec changes.
func (s *IssueStore) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disposed = true
	s.itemsByID = make(map[string]*models.Issue)
	s.ordered = nil
	s.listeners = make(map[int]func())
}
