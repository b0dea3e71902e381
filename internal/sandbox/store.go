package sandbox

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Store is a session-id-keyed registry of scopes. It is passed explicitly
// to whoever needs session lookup, never held as a process-wide mutable
// singleton, so concurrent conversations cannot cross-contaminate.
type Store struct {
	cacheRoot string
	logger    *zap.Logger

	mu     sync.RWMutex
	scopes map[string]*SessionScope
}

// NewStore creates an empty store rooted at cacheRoot.
func NewStore(cacheRoot string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		cacheRoot: cacheRoot,
		logger:    logger,
		scopes:    make(map[string]*SessionScope),
	}
}

// Get returns the scope for id, creating it lazily on first use.
func (st *Store) Get(id string) (*SessionScope, error) {
	st.mu.RLock()
	scope, ok := st.scopes[id]
	st.mu.RUnlock()
	if ok {
		return scope, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	// Re-check under the write lock; another goroutine may have won.
	if scope, ok := st.scopes[id]; ok {
		return scope, nil
	}

	scope, err := NewSessionScope(st.cacheRoot, id, st.logger)
	if err != nil {
		return nil, err
	}
	st.scopes[id] = scope
	return scope, nil
}

// Lookup returns the scope for id without creating one.
func (st *Store) Lookup(id string) (*SessionScope, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	scope, ok := st.scopes[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return scope, nil
}

// Remove tears down the scope for id and forgets it. Removing an unknown
// or already-removed session is a no-op.
func (st *Store) Remove(id string) error {
	st.mu.Lock()
	scope, ok := st.scopes[id]
	delete(st.scopes, id)
	st.mu.Unlock()

	if !ok {
		return nil
	}
	return scope.Cleanup()
}

// List returns the known session ids in sorted order.
func (st *Store) List() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	ids := make([]string, 0, len(st.scopes))
	for id := range st.scopes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of live sessions.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.scopes)
}
