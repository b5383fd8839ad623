package auth

import (
	"context"
	"sync"

	"github.com/bluesky-social/indigo/atproto/syntax"
)

// SubjectStore persists the subject (DID) of the most recently authenticated
// session across process restarts. A single slot: absence is a valid state
// meaning "no prior session".
//
// Only the Controller writes to the store, synchronously with session
// transitions, so implementations do not need to coordinate writers.
type SubjectStore interface {
	// Get returns the persisted subject, or nil if the slot is empty.
	Get(ctx context.Context) (*syntax.DID, error)
	Put(ctx context.Context, did syntax.DID) error
	Clear(ctx context.Context) error
}

// In-memory SubjectStore, for tests and ephemeral deployments.
type MemSubjectStore struct {
	mu  sync.Mutex
	did *syntax.DID
}

var _ SubjectStore = (*MemSubjectStore)(nil)

func NewMemSubjectStore() *MemSubjectStore {
	return &MemSubjectStore{}
}

func (s *MemSubjectStore) Get(ctx context.Context) (*syntax.DID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.did == nil {
		return nil, nil
	}
	d := *s.did
	return &d, nil
}

func (s *MemSubjectStore) Put(ctx context.Context, did syntax.DID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.did = &did
	return nil
}

func (s *MemSubjectStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.did = nil
	return nil
}
