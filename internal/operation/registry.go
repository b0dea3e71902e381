package operation

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps operation names to implementations. Registration happens at
// startup before the first conversation; afterwards the registry is only
// read, so concurrent conversations can share it freely.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]Operation
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]Operation)}
}

// Register adds an operation. Duplicate names are rejected.
func (r *Registry) Register(op Operation) error {
	if op == nil || op.Name() == "" {
		return ErrNameEmpty
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ops[op.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, op.Name())
	}
	r.ops[op.Name()] = op
	return nil
}

// MustRegister registers an operation and panics on error. Use for static
// registration at startup.
func (r *Registry) MustRegister(op Operation) {
	if err := r.Register(op); err != nil {
		panic(fmt.Sprintf("failed to register operation %s: %v", op.Name(), err))
	}
}

// Get returns the operation with the given name.
func (r *Registry) Get(name string) (Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return op, nil
}

// Has reports whether an operation with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ops[name]
	return ok
}

// Names returns all registered operation names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered operations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ops)
}
