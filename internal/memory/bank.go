package memory

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sync"
)

// CoreFile is the owner's free-form long-term memory document. The assistant
// reads it into every conversation and rewrites it through memory tools.
const CoreFile = "MEMORY.md"

var ownerIDPattern = regexp.MustCompile(`^[0-9]{6}$`)

// Bank manages one sandboxed Workspace per owner under a shared root
// directory. Owner ids double as directory names, so only the canonical
// six-digit form is accepted.
type Bank struct {
	root string

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

// NewBank creates a Bank rooted at root, typically <home>/memory_bank.
func NewBank(root string) *Bank {
	return &Bank{
		root:       root,
		workspaces: make(map[string]*Workspace),
	}
}

// ForOwner returns the owner's workspace, creating its directory on first
// use. Owner ids that are not six digits are rejected before they can reach
// the filesystem.
func (b *Bank) ForOwner(ownerID string) (*Workspace, error) {
	if !ownerIDPattern.MatchString(ownerID) {
		return nil, fmt.Errorf("memory: invalid owner id %q", ownerID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if ws, ok := b.workspaces[ownerID]; ok {
		return ws, nil
	}
	ws, err := NewWorkspace(filepath.Join(b.root, ownerID))
	if err != nil {
		return nil, err
	}
	b.workspaces[ownerID] = ws
	return ws, nil
}

// ReadCore returns the owner's core memory document, or "" when it does not
// exist yet.
func (b *Bank) ReadCore(ownerID string) (string, error) {
	ws, err := b.ForOwner(ownerID)
	if err != nil {
		return "", err
	}
	content, err := ws.Read(CoreFile)
	if errors.Is(err, fs.ErrNotExist) {
		// First run: no core memory yet.
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return content, nil
}

// WriteCore replaces the owner's core memory document.
func (b *Bank) WriteCore(ownerID, content string) error {
	ws, err := b.ForOwner(ownerID)
	if err != nil {
		return err
	}
	return ws.Write(CoreFile, content)
}
