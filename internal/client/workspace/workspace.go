package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/openmined/treesync/internal/syncignore"
	"github.com/openmined/treesync/internal/utils"
)

const (
	metadataDir = ".data"
	lockFile    = "treesync.lock"
	storeFile   = "local.db"
)

var (
	ErrWorkspaceLocked = errors.New("workspace locked by another process")
)

// Workspace is the data directory of one sync pair: the local store, the
// ignore file and the process lock.
type Workspace struct {
	Root        string
	MetadataDir string
	StorePath   string
	IgnoreFile  string

	flock *flock.Flock
}

func NewWorkspace(rootDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", rootDir, err)
	}

	metadata := filepath.Join(root, metadataDir)
	return &Workspace{
		Root:        root,
		MetadataDir: metadata,
		StorePath:   filepath.Join(metadata, storeFile),
		IgnoreFile:  filepath.Join(root, syncignore.FileName),
		flock:       flock.New(filepath.Join(metadata, lockFile)),
	}, nil
}

// Lock takes the workspace for this process. Only one process may run passes
// against a workspace at a time.
func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.MetadataDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.MetadataDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}

	return nil
}

func (w *Workspace) Unlock() error {
	// a lock file held by another process is not ours to remove
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}

	return os.Remove(w.flock.Path())
}

// Setup locks the workspace and creates its directories.
func (w *Workspace) Setup() error {
	if err := w.Lock(); err != nil {
		return err
	}

	slog.Info("workspace", "root", w.Root)

	if err := utils.EnsureDir(w.MetadataDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.MetadataDir, err)
	}

	return nil
}

// Initialized reports whether a local store exists.
func (w *Workspace) Initialized() bool {
	return utils.FileExists(w.StorePath)
}
