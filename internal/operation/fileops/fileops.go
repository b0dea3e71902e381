package fileops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"taskforge/internal/operation"
)

// errNoScope is the failure message for a filesystem operation invoked
// without a session scope.
const errNoScope = "no session scope attached to invocation"

// fsBase supplies the contract answers shared by every filesystem
// operation.
type fsBase struct {
	operation.Base
}

func (fsBase) RequiresNetwork() bool    { return false }
func (fsBase) RequiresFileSystem() bool { return true }

// DirectoryCreate creates a directory tree inside the sandbox.
type DirectoryCreate struct {
	fsBase
}

func (DirectoryCreate) Name() string                 { return "DirectoryCreate" }
func (DirectoryCreate) Capabilities() []string       { return []string{"filesystem", "create"} }
func (DirectoryCreate) AlternativeMethods() []string { return []string{"incremental"} }

func (DirectoryCreate) Run(ctx context.Context, opCtx *operation.Context) (*operation.Result, error) {
	abs, display, err := resolvePath(opCtx, "path")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return operation.Ok(fmt.Sprintf("created directory %s", display)), nil
}

// RunAlternative creates the tree one segment at a time. MkdirAll can fail
// opaquely when a mid-path segment exists as a file; the incremental walk
// names the offending segment instead.
func (d DirectoryCreate) RunAlternative(ctx context.Context, opCtx *operation.Context, method string) (*operation.Result, error) {
	if method != "incremental" {
		return nil, operation.ErrUnknownMethod
	}
	abs, display, err := resolvePath(opCtx, "path")
	if err != nil {
		return nil, err
	}

	root := opCtx.Scope.Root()
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return nil, fmt.Errorf("failed to relativize path: %w", err)
	}

	current := root
	for _, segment := range strings.Split(rel, string(filepath.Separator)) {
		if segment == "" || segment == "." {
			continue
		}
		current = filepath.Join(current, segment)
		if info, err := os.Stat(current); err == nil {
			if !info.IsDir() {
				return nil, fmt.Errorf("segment %q exists and is not a directory", segment)
			}
			continue
		}
		if err := os.Mkdir(current, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create segment %q: %w", segment, err)
		}
	}
	return operation.Ok(fmt.Sprintf("created directory %s", display)), nil
}

func (DirectoryCreate) EstimateCost(*operation.Context) decimal.Decimal {
	return decimal.NewFromFloat(0.01)
}

// DirectoryList lists a directory and publishes fileCount and totalSize
// into the shared state for downstream operations.
type DirectoryList struct {
	fsBase
}

func (DirectoryList) Name() string           { return "DirectoryList" }
func (DirectoryList) Capabilities() []string { return []string{"filesystem", "read"} }

func (DirectoryList) Run(ctx context.Context, opCtx *operation.Context) (*operation.Result, error) {
	if opCtx.Scope == nil {
		return operation.Fail(errNoScope), nil
	}
	rel := opCtx.OptionalString("path", ".")
	abs, err := opCtx.Scope.Resolve(rel)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory: %w", err)
	}

	var lines []string
	var totalSize int64
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if entry.IsDir() {
			lines = append(lines, entry.Name()+"/")
		} else {
			lines = append(lines, fmt.Sprintf("%s (%d bytes)", entry.Name(), info.Size()))
			totalSize += info.Size()
		}
	}
	sort.Strings(lines)

	opCtx.State["fileCount"] = len(entries)
	opCtx.State["totalSize"] = totalSize

	return operation.Ok(strings.Join(lines, "\n")), nil
}

// FileWrite writes content to a file via a temp file and rename, so a
// failed attempt never leaves a half-written file for the retry to trip on.
type FileWrite struct {
	fsBase
}

func (FileWrite) Name() string                 { return "FileWrite" }
func (FileWrite) Capabilities() []string       { return []string{"filesystem", "write"} }
func (FileWrite) AlternativeMethods() []string { return []string{"direct"} }

func (FileWrite) Run(ctx context.Context, opCtx *operation.Context) (*operation.Result, error) {
	abs, display, content, err := writeArgs(opCtx)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), ".write-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("failed to move file into place: %w", err)
	}

	return operation.Ok(fmt.Sprintf("wrote %d bytes to %s", len(content), display)), nil
}

// RunAlternative falls back to a plain WriteFile for filesystems where
// cross-directory rename or temp creation misbehaves.
func (FileWrite) RunAlternative(ctx context.Context, opCtx *operation.Context, method string) (*operation.Result, error) {
	if method != "direct" {
		return nil, operation.ErrUnknownMethod
	}
	abs, display, content, err := writeArgs(opCtx)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	return operation.Ok(fmt.Sprintf("wrote %d bytes to %s", len(content), display)), nil
}

func (FileWrite) EstimateCost(opCtx *operation.Context) decimal.Decimal {
	content := opCtx.OptionalString("content", "")
	// One cost unit per kilobyte written.
	return decimal.NewFromInt(int64(len(content))).Div(decimal.NewFromInt(1024))
}

// FileRead reads a file's contents, optionally capped at maxBytes.
type FileRead struct {
	fsBase
}

func (FileRead) Name() string           { return "FileRead" }
func (FileRead) Capabilities() []string { return []string{"filesystem", "read"} }

func (FileRead) Run(ctx context.Context, opCtx *operation.Context) (*operation.Result, error) {
	abs, _, err := resolvePath(opCtx, "path")
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if max := opCtx.OptionalInt("maxBytes", 0); max > 0 && len(content) > max {
		content = content[:max]
	}
	return operation.Ok(string(content)), nil
}

// FileDelete removes a file or an empty directory.
type FileDelete struct {
	fsBase
}

func (FileDelete) Name() string           { return "FileDelete" }
func (FileDelete) Capabilities() []string { return []string{"filesystem", "delete"} }

func (FileDelete) Run(ctx context.Context, opCtx *operation.Context) (*operation.Result, error) {
	abs, display, err := resolvePath(opCtx, "path")
	if err != nil {
		return nil, err
	}
	if err := os.Remove(abs); err != nil {
		return nil, fmt.Errorf("failed to delete: %w", err)
	}
	return operation.Ok(fmt.Sprintf("deleted %s", display)), nil
}

// FileStats stats a path and publishes the numbers into shared state so a
// chained operation can consume them.
type FileStats struct {
	fsBase
}

func (FileStats) Name() string           { return "FileStats" }
func (FileStats) Capabilities() []string { return []string{"filesystem", "read"} }

func (FileStats) Run(ctx context.Context, opCtx *operation.Context) (*operation.Result, error) {
	abs, display, err := resolvePath(opCtx, "path")
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat: %w", err)
	}

	opCtx.State["fileSize"] = info.Size()
	opCtx.State["fileMode"] = info.Mode().String()
	opCtx.State["fileModTime"] = info.ModTime()

	return operation.Ok(fmt.Sprintf("%s: %d bytes, mode %s, modified %s",
		display, info.Size(), info.Mode(), info.ModTime().Format("2006-01-02 15:04:05"))), nil
}

// Navigate changes the session's working directory inside the boundary.
type Navigate struct {
	fsBase
}

func (Navigate) Name() string           { return "Navigate" }
func (Navigate) Capabilities() []string { return []string{"filesystem", "navigate"} }

func (Navigate) Run(ctx context.Context, opCtx *operation.Context) (*operation.Result, error) {
	if opCtx.Scope == nil {
		return operation.Fail(errNoScope), nil
	}
	rel, err := opCtx.StringParam("path")
	if err != nil {
		return nil, err
	}
	abs, err := opCtx.Scope.Navigate(rel)
	if err != nil {
		return nil, err
	}
	return operation.Ok(fmt.Sprintf("working directory is now %s", opCtx.Scope.DisplayPath(abs))), nil
}

// RegisterAll registers the filesystem catalog with the given registry.
func RegisterAll(registry *operation.Registry) error {
	ops := []operation.Operation{
		DirectoryCreate{},
		DirectoryList{},
		FileWrite{},
		FileRead{},
		FileDelete{},
		FileStats{},
		Navigate{},
	}
	for _, op := range ops {
		if err := registry.Register(op); err != nil {
			return err
		}
	}
	return nil
}

// resolvePath extracts the required "path" parameter and resolves it
// through the scope, creating parent directories.
func resolvePath(opCtx *operation.Context, key string) (abs, display string, err error) {
	if opCtx.Scope == nil {
		return "", "", fmt.Errorf("%s", errNoScope)
	}
	rel, err := opCtx.StringParam(key)
	if err != nil {
		return "", "", err
	}
	abs, err = opCtx.Scope.ResolveDir(rel)
	if err != nil {
		return "", "", err
	}
	return abs, opCtx.Scope.DisplayPath(abs), nil
}

func writeArgs(opCtx *operation.Context) (abs, display, content string, err error) {
	abs, display, err = resolvePath(opCtx, "path")
	if err != nil {
		return "", "", "", err
	}
	content = opCtx.OptionalString("content", "")
	return abs, display, content, nil
}
