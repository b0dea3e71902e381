package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// SessionScope owns one conversation's sandbox: an immutable session id, a
// root directory under the cache root, and a mutable working directory that
// is always a descendant of the root.
type SessionScope struct {
	id   string
	root string

	mu      sync.Mutex
	workDir string

	logger *zap.Logger
}

// NewSessionScope creates the sandbox root for id under cacheRoot. Root
// creation is idempotent; the working directory starts at the root.
func NewSessionScope(cacheRoot, id string, logger *zap.Logger) (*SessionScope, error) {
	if id == "" {
		return nil, ErrEmptySessionID
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	absCache, err := filepath.Abs(cacheRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache root: %w", err)
	}

	// The id becomes a directory name, so it must not itself smuggle in
	// path separators or traversal segments.
	root := filepath.Join(absCache, id)
	if !Contains(absCache, root) || filepath.Dir(root) != absCache {
		return nil, fmt.Errorf("%w: session id %q", ErrBoundaryViolation, id)
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session root: %w", err)
	}

	logger.Debug("session scope created",
		zap.String("session_id", id),
		zap.String("root", root))

	return &SessionScope{
		id:      id,
		root:    root,
		workDir: root,
		logger:  logger,
	}, nil
}

// ID returns the opaque session identifier.
func (s *SessionScope) ID() string { return s.id }

// Root returns the absolute session root directory.
func (s *SessionScope) Root() string { return s.root }

// WorkingDirectory returns the current working directory.
func (s *SessionScope) WorkingDirectory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workDir
}

// Resolve resolves rel against the working directory and rejects anything
// outside the session root. Intermediate directories are not created; use
// ResolveDir when the caller needs the parent to exist.
func (s *SessionScope) Resolve(rel string) (string, error) {
	s.mu.Lock()
	wd := s.workDir
	s.mu.Unlock()
	return ResolveWithin(s.root, wd, rel)
}

// ResolveDir resolves rel like Resolve and then creates the parent
// directory chain for it, never operating above the root.
func (s *SessionScope) ResolveDir(rel string) (string, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}
	return abs, nil
}

// Navigate changes the working directory to rel if it resolves inside the
// boundary, creating it if absent. On failure the working directory is
// unchanged.
func (s *SessionScope) Navigate(rel string) (string, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	s.mu.Lock()
	s.workDir = abs
	s.mu.Unlock()

	s.logger.Debug("session navigated",
		zap.String("session_id", s.id),
		zap.String("working_dir", abs))
	return abs, nil
}

// DisplayPath renders abs relative to the session root, or the outside
// sentinel for any path beyond the boundary.
func (s *SessionScope) DisplayPath(abs string) string {
	return DisplayPath(s.root, abs)
}

// Cleanup removes the entire session subtree. Idempotent: deleting an
// absent root is not an error.
func (s *SessionScope) Cleanup() error {
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("failed to remove session root: %w", err)
	}
	s.mu.Lock()
	s.workDir = s.root
	s.mu.Unlock()

	s.logger.Debug("session scope cleaned up", zap.String("session_id", s.id))
	return nil
}
