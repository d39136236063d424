// Package storage keeps the work-log tree in a single JSON file under the
// data directory.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Tiliavir/trivial-work-log/internal/logging"
	"github.com/Tiliavir/trivial-work-log/internal/remote/memstore"
)

// FileName is the name of the tree file inside the data directory.
const FileName = "worklog.json"

const fileVersion = 1

// BaseDir returns the root data directory (~/.twl).
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".twl"), nil
}

// DataFile is the top-level structure stored in the tree file.
type DataFile struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Tree      any       `json:"tree"`
}

// File is the on-disk tree. It remembers the file it last read or wrote so
// that changes from other processes can be told apart. Every Save renames a
// new file into place, so a foreign write shows up as a different file even
// when modification time and size match.
type File struct {
	path string

	mu   sync.Mutex
	info os.FileInfo
}

// NewFile returns a File at path. Nothing is read until Load.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the file location.
func (f *File) Path() string { return f.path }

// Load reads the tree. A missing file yields a nil tree. A corrupt file is
// renamed to <path>.corrupt and reported as an error.
func (f *File) Load() (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

func (f *File) load() (any, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.info = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage error reading %s: %w", f.path, err)
	}

	var df DataFile
	if err := json.Unmarshal(data, &df); err != nil {
		backupPath := f.path + ".corrupt"
		_ = os.Rename(f.path, backupPath)
		return nil, fmt.Errorf("corrupt JSON in %s (backed up to %s): %w", f.path, backupPath, err)
	}
	f.remember()
	return df.Tree, nil
}

// Save atomically writes the tree.
func (f *File) Save(tree any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("storage error creating directories: %w", err)
	}

	data, err := json.MarshalIndent(DataFile{Version: fileVersion, UpdatedAt: time.Now().UTC(), Tree: tree}, "", "  ")
	if err != nil {
		return fmt.Errorf("storage error marshalling JSON: %w", err)
	}

	tmpPath := f.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("storage error writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage error renaming temp file: %w", err)
	}
	f.remember()
	return nil
}

func (f *File) remember() {
	if info, err := os.Stat(f.path); err == nil {
		f.info = info
	}
}

// Changed reports whether the file differs from what this File last read or
// wrote.
func (f *File) Changed() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changed()
}

func (f *File) changed() (bool, error) {
	info, err := os.Stat(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return f.info != nil, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage error checking %s: %w", f.path, err)
	}
	if f.info == nil {
		return true, nil
	}
	return !os.SameFile(info, f.info) || !info.ModTime().Equal(f.info.ModTime()) || info.Size() != f.info.Size(), nil
}

// LoadIfChanged reads the tree when the file changed since the last Load or
// Save. It reports false and a nil tree otherwise.
func (f *File) LoadIfChanged() (any, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	changed, err := f.changed()
	if err != nil || !changed {
		return nil, false, err
	}
	tree, err := f.load()
	if err != nil {
		return nil, false, err
	}
	return tree, true, nil
}

// Store is a memstore persisted to a File on every write. Each write first
// reloads the file if another process changed it, so writes to different
// children from several processes are all kept.
type Store struct {
	*memstore.Store
	file *File
	log  *logging.Logger
}

// Open loads path and returns a store that saves to it on every write.
func Open(path string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	file := NewFile(path)
	tree, err := file.Load()
	if err != nil {
		return nil, err
	}
	mem, err := memstore.New(
		memstore.WithTree(tree),
		memstore.WithRefresh(file.LoadIfChanged),
		memstore.WithPersistence(file.Save),
	)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return &Store{Store: mem, file: file, log: logger.WithComponent("storage")}, nil
}

// File returns the backing file.
func (s *Store) File() *File { return s.file }

// Reload re-reads the file if another process changed it and notifies
// listeners. It reports whether a reload happened.
func (s *Store) Reload() (bool, error) {
	reloaded, err := s.Refresh()
	if err != nil {
		return false, fmt.Errorf("reloading %s: %w", s.file.Path(), err)
	}
	if reloaded {
		s.log.Debug("reloaded tree file", "path", s.file.Path())
	}
	return reloaded, nil
}

// NotifyChanged implements remote.Notifier. The file is reloaded first when
// another process wrote it.
func (s *Store) NotifyChanged(path string) {
	reloaded, err := s.Reload()
	if err != nil {
		s.log.Warn("reloading tree file failed", "path", s.file.Path(), "error", err)
	}
	if !reloaded {
		s.Store.NotifyChanged(path)
	}
}

// Watch polls the file every interval until ctx is done.
func (s *Store) Watch(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Reload(); err != nil {
				s.log.Warn("reloading tree file failed", "path", s.file.Path(), "error", err)
			}
		}
	}
}
