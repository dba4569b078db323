package runtimeconfig

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/upb/llm-chat-gateway/services"
)

// SnapshotStore holds the current and previous snapshots.
//
// Current is lock-free and never blocks on I/O. Publish and Revoke are
// serialized by a mutex that is never held across network calls.
type SnapshotStore struct {
	current   atomic.Pointer[Snapshot]
	previous  atomic.Pointer[Snapshot]
	revoked   atomic.Bool
	bootstrap *Snapshot

	writeMu sync.Mutex
}

// StoreOption configures a SnapshotStore.
type StoreOption func(*SnapshotStore)

// WithBootstrap serves snap until the first Publish. A nil snap is ignored.
func WithBootstrap(snap *Snapshot) StoreOption {
	return func(s *SnapshotStore) {
		s.bootstrap = snap
	}
}

// NewSnapshotStore creates an empty store.
func NewSnapshotStore(opts ...StoreOption) *SnapshotStore {
	s := &SnapshotStore{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current returns the most recently published snapshot, the bootstrap
// snapshot when nothing was published yet, or ErrNotYetConfigured.
// After Revoke it returns ErrNotYetConfigured until the next Publish.
func (s *SnapshotStore) Current() (*Snapshot, error) {
	if snap := s.current.Load(); snap != nil {
		return snap, nil
	}
	if s.bootstrap != nil && !s.revoked.Load() {
		return s.bootstrap, nil
	}
	return nil, services.ErrNotYetConfigured
}

// Publish atomically makes snap current and retains the replaced snapshot as previous.
func (s *SnapshotStore) Publish(snap *Snapshot) error {
	if snap == nil {
		return errors.New("cannot publish nil snapshot")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if old := s.current.Swap(snap); old != nil {
		s.previous.Store(old)
	}
	s.revoked.Store(false)
	return nil
}

// Previous returns the snapshot replaced by the last Publish or Revoke, if any.
func (s *SnapshotStore) Previous() *Snapshot {
	return s.previous.Load()
}

// Revoke withdraws the current snapshot so readers fail with ErrNotYetConfigured.
// It is used when the staleness ceiling is reached.
func (s *SnapshotStore) Revoke() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.revoked.Store(true)
	if old := s.current.Swap(nil); old != nil {
		s.previous.Store(old)
	}
}

// Revoked reports whether the store was revoked and not republished since.
func (s *SnapshotStore) Revoked() bool {
	return s.revoked.Load()
}

// IsBootstrap reports whether Current is serving the bootstrap snapshot.
func (s *SnapshotStore) IsBootstrap() bool {
	return s.current.Load() == nil && s.bootstrap != nil && !s.revoked.Load()
}
