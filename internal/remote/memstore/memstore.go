// Package memstore is an in-process implementation of remote.Store.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/Tiliavir/trivial-work-log/internal/remote"
)

// Store keeps the whole tree in memory. Writes are applied and published
// under a single lock, so listeners observe commits in order.
type Store struct {
	mu      sync.Mutex
	tree    *remote.Tree
	hub     *remote.Hub
	persist func(root any) error
	refresh func() (root any, changed bool, err error)
	closed  bool
}

// Option configures a Store.
type Option func(*Store) error

// WithTree seeds the store with root.
func WithTree(root any) Option {
	return func(s *Store) error {
		tree, err := remote.NewTree(root)
		if err != nil {
			return fmt.Errorf("seeding tree: %w", err)
		}
		s.tree = tree
		return nil
	}
}

// WithPersistence calls fn with the canonical root after every write. A
// failing fn rolls the write back and fails it.
func WithPersistence(fn func(root any) error) Option {
	return func(s *Store) error {
		s.persist = fn
		return nil
	}
}

// WithRefresh calls fn under the write lock before every write and on
// Refresh. When fn reports a change, its root replaces the tree and the
// write is applied on top of it.
func WithRefresh(fn func() (root any, changed bool, err error)) Option {
	return func(s *Store) error {
		s.refresh = fn
		return nil
	}
}

// New returns an empty store configured by opts.
func New(opts ...Option) (*Store, error) {
	s := &Store{hub: remote.NewHub()}
	s.tree, _ = remote.NewTree(nil)
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) read(path string) (any, error) {
	return s.tree.Get(path), nil
}

// Subscribe implements remote.Store.
func (s *Store) Subscribe(ctx context.Context, path string, onChange remote.ChangeFunc, onError remote.ErrorFunc) (remote.Unsubscribe, error) {
	p, err := remote.CleanPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, remote.ErrClosed
	}
	return s.hub.Add(ctx, p, s.tree.Get(p), onChange, onError), nil
}

// Set implements remote.Store.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	return s.commit(ctx, path, func(t *remote.Tree, p string) error {
		return t.Set(p, value)
	})
}

// Update implements remote.Store.
func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	return s.commit(ctx, path, func(t *remote.Tree, p string) error {
		return t.Update(p, fields)
	})
}

// Push implements remote.Store.
func (s *Store) Push(ctx context.Context, path string, value any) (string, error) {
	key := remote.NewKey()
	if err := s.Set(ctx, remote.Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

// Remove implements remote.Store.
func (s *Store) Remove(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

func (s *Store) commit(ctx context.Context, path string, apply func(*remote.Tree, string) error) error {
	p, err := remote.CleanPath(path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return remote.ErrClosed
	}

	reloaded, err := s.refreshLocked()
	if err != nil {
		return fmt.Errorf("refreshing before %s: %w", p, err)
	}
	changed := p
	if reloaded {
		changed = ""
	}

	next := s.tree.Clone()
	if err := apply(next, p); err != nil {
		s.publishReload(reloaded)
		return err
	}
	if s.persist != nil {
		if err := s.persist(next.Root()); err != nil {
			s.publishReload(reloaded)
			return fmt.Errorf("persisting %s: %w", p, err)
		}
	}
	s.tree = next
	s.hub.Publish(changed, s.read)
	return nil
}

// refreshLocked runs the refresh hook and swaps in the newer tree.
func (s *Store) refreshLocked() (bool, error) {
	if s.refresh == nil {
		return false, nil
	}
	root, changed, err := s.refresh()
	if err != nil || !changed {
		return false, err
	}
	tree, err := remote.NewTree(root)
	if err != nil {
		return false, err
	}
	s.tree = tree
	return true, nil
}

func (s *Store) publishReload(reloaded bool) {
	if reloaded {
		s.hub.Publish("", s.read)
	}
}

// Refresh runs the refresh hook under the write lock and notifies every
// listener when the tree was replaced.
func (s *Store) Refresh() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, remote.ErrClosed
	}
	reloaded, err := s.refreshLocked()
	s.publishReload(reloaded)
	return reloaded, err
}

// Replace swaps the whole tree, e.g. after reloading it from disk, and
// notifies every listener. It does not call the persistence hook.
func (s *Store) Replace(root any) error {
	tree, err := remote.NewTree(root)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree = tree
	s.hub.Publish("", s.read)
	return nil
}

// NotifyChanged implements remote.Notifier.
func (s *Store) NotifyChanged(path string) {
	p, err := remote.CleanPath(path)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hub.Publish(p, s.read)
}

// Snapshot returns the current value at path.
func (s *Store) Snapshot(path string) (remote.Snapshot, error) {
	p, err := remote.CleanPath(path)
	if err != nil {
		return remote.Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return remote.Snapshot{Path: p, Value: s.tree.Get(p)}, nil
}

// Close implements remote.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.hub.Close()
	return nil
}
