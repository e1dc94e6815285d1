// Package memory provides the assistant's long-term memory: a sandboxed
// per-owner file workspace, pinned context entries, and the global context
// block injected into every conversation.
package memory

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	maxReadBytes   = 1 * 1024 * 1024 // 1 MB
	maxListEntries = 500
)

// FileInfo describes a single directory entry.
type FileInfo struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// Workspace is a sandboxed file tree rooted at one owner's memory directory.
// Every path is validated against the root; relative segments and symlinks
// cannot reach outside it.
type Workspace struct {
	rootDir string
}

// NewWorkspace creates a Workspace rooted at rootDir, creating the directory
// if needed. The root is symlink-resolved up front so containment checks
// compare real paths.
func NewWorkspace(rootDir string) (*Workspace, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	return &Workspace{rootDir: real}, nil
}

// Root returns the workspace's resolved root directory.
func (w *Workspace) Root() string {
	return w.rootDir
}

// resolve maps a workspace-relative path to a real filesystem path, or
// errors if the path would land outside the root.
func (w *Workspace) resolve(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute path not allowed: %s", path)
	}

	rel := filepath.Clean(path)
	if escapesRoot(rel) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}

	real, err := resolveExisting(filepath.Join(w.rootDir, rel))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}

	// Symlinks inside the tree may still point out; re-check after
	// resolution.
	contained, err := filepath.Rel(w.rootDir, real)
	if err != nil || escapesRoot(contained) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return real, nil
}

func escapesRoot(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolveExisting symlink-resolves the deepest existing ancestor of p and
// re-appends the not-yet-existing remainder, so paths about to be created
// can still be containment-checked.
func resolveExisting(p string) (string, error) {
	suffix := ""
	for dir := p; ; dir = filepath.Dir(dir) {
		real, err := filepath.EvalSymlinks(dir)
		if err == nil {
			return filepath.Join(real, suffix), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		if dir == filepath.Dir(dir) {
			return "", fmt.Errorf("no existing ancestor for %s", p)
		}
		suffix = filepath.Join(filepath.Base(dir), suffix)
	}
}

// Read returns the contents of a file, capped at 1 MB.
func (w *Workspace) Read(path string) (string, error) {
	real, err := w.resolve(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(real)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("read %s: is a directory", path)
	}
	if info.Size() > maxReadBytes {
		return "", fmt.Errorf("read %s: %d bytes exceeds %d limit", path, info.Size(), maxReadBytes)
	}

	data, err := os.ReadFile(real)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// Write replaces a file's contents atomically, creating parent directories
// as needed. Readers never observe a half-written file.
func (w *Workspace) Write(path, content string) error {
	real, err := w.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(real), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := writeAtomic(real, content); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func writeAtomic(dest, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".swap-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.WriteString(tmp, content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// Append appends content to a file, creating it if missing.
func (w *Workspace) Append(path, content string) error {
	real, err := w.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(real), 0o755); err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}

	f, err := os.OpenFile(real, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	_, werr := f.WriteString(content)
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("append %s: %w", path, werr)
	}
	if cerr != nil {
		return fmt.Errorf("append %s: %w", path, cerr)
	}
	return nil
}

// List returns up to 500 entries of a directory.
func (w *Workspace) List(dir string) ([]FileInfo, error) {
	real, err := w.resolve(dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(real)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	if len(entries) > maxListEntries {
		entries = entries[:maxListEntries]
	}

	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		fi := FileInfo{Name: e.Name(), IsDir: e.IsDir()}
		if info, err := e.Info(); err == nil {
			fi.Size = info.Size()
		}
		out = append(out, fi)
	}
	return out, nil
}

// Delete removes a single file. Directories are refused.
func (w *Workspace) Delete(path string) error {
	real, err := w.resolve(path)
	if err != nil {
		return err
	}

	info, err := os.Stat(real)
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("delete %s: is a directory", path)
	}
	if err := os.Remove(real); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}
