// Package sandbox confines every filesystem effect an agent triggers to a
// private per-session directory. Isolation is enforced by path-prefix
// validation after lexical resolution, not by OS primitives: any path that
// does not resolve to a descendant of the session root is rejected with
// ErrBoundaryViolation before anything touches the disk.
package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"
)

// OutsideSentinel is the fixed display value for any path outside a session
// boundary. External paths are never echoed verbatim to the backend, so the
// host filesystem topology cannot leak through tool output.
const OutsideSentinel = "<outside-session>"

// ResolveWithin resolves rel against workDir and verifies the result stays
// inside root. Both root and workDir must be absolute; rel may contain any
// number of ".." segments. The returned path is absolute and cleaned.
//
// Absolute rel paths are reinterpreted relative to root rather than the
// host filesystem, matching how agents tend to write "/output/foo" when
// they mean the sandbox top level.
func ResolveWithin(root, workDir, rel string) (string, error) {
	if !filepath.IsAbs(root) {
		return "", fmt.Errorf("session root must be absolute, got %q", root)
	}

	var resolved string
	if filepath.IsAbs(rel) {
		resolved = filepath.Join(root, rel)
	} else {
		base := workDir
		if base == "" {
			base = root
		}
		resolved = filepath.Join(base, rel)
	}
	resolved = filepath.Clean(resolved)

	if !Contains(root, resolved) {
		return "", fmt.Errorf("%w: %q", ErrBoundaryViolation, rel)
	}
	return resolved, nil
}

// Contains reports whether candidate equals root or is a strict descendant
// of it. Pure lexical check; both paths must already be cleaned and
// absolute.
func Contains(root, candidate string) bool {
	root = filepath.Clean(root)
	candidate = filepath.Clean(candidate)
	if candidate == root {
		return true
	}
	return strings.HasPrefix(candidate, root+string(filepath.Separator))
}

// DisplayPath renders abs relative to root for paths inside the boundary,
// and OutsideSentinel for everything else.
func DisplayPath(root, abs string) string {
	if !Contains(root, abs) {
		return OutsideSentinel
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return OutsideSentinel
	}
	if rel == "." {
		return "/"
	}
	return "/" + filepath.ToSlash(rel)
}
