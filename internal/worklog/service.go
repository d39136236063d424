// Package worklog keeps the local projection of a user's entries and
// category taxonomy in sync with a remote.Store and issues the writes.
package worklog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Tiliavir/trivial-work-log/internal/auth"
	"github.com/Tiliavir/trivial-work-log/internal/logging"
	"github.com/Tiliavir/trivial-work-log/internal/model"
	"github.com/Tiliavir/trivial-work-log/internal/remote"
)

var (
	// ErrNotSynced is returned by category mutations before the first
	// categories snapshot arrived.
	ErrNotSynced = errors.New("categories not synced yet")
	// ErrMissingID is returned when an entry id is required but empty.
	ErrMissingID = errors.New("entry id is required")
	// ErrClosed is returned by Bind after Close.
	ErrClosed = errors.New("worklog service closed")
)

// Layout decides where a user's collections live in the tree.
type Layout int

const (
	// ScopedLayout keeps every user under users/{uid}.
	ScopedLayout Layout = iota
	// SharedLayout uses top-level collections shared by all users.
	SharedLayout
)

// ParseLayout converts a config value into a Layout.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "user":
		return ScopedLayout, nil
	case "shared":
		return SharedLayout, nil
	default:
		return 0, fmt.Errorf("unknown layout %q (want user or shared)", s)
	}
}

func (l Layout) String() string {
	if l == SharedLayout {
		return "shared"
	}
	return "user"
}

// EntriesPath returns the entries collection of uid.
func (l Layout) EntriesPath(uid string) string {
	if l == SharedLayout {
		return "entries"
	}
	return remote.Join("users", uid, "entries")
}

// CategoriesPath returns the taxonomy document of uid.
func (l Layout) CategoriesPath(uid string) string {
	if l == SharedLayout {
		return "categories"
	}
	return remote.Join("users", uid, "categories")
}

// Options configures a Service.
type Options struct {
	Layout Layout
}

// State is a consistent view of the projection. Entries are in store key
// order; use SortHistory or Service.History for display order.
type State struct {
	Entries          []model.Entry
	Taxonomy         model.Taxonomy
	EntriesSynced    bool
	CategoriesSynced bool
}

// Synced reports whether both collections delivered a first snapshot.
func (s State) Synced() bool { return s.EntriesSynced && s.CategoriesSynced }

// Service mirrors the remote collections of one identity. Local state only
// ever changes through subscription callbacks; writes never touch it.
type Service struct {
	store  remote.Store
	log    *logging.Logger
	layout Layout

	mu       sync.Mutex
	identity *auth.Identity
	gen      uint64
	unsubs   []remote.Unsubscribe
	state    State
	changed  chan struct{}
	watchers map[int]chan State
	nextID   int
	closed   bool
}

// New returns an unbound service writing through store.
func New(store remote.Store, logger *logging.Logger, opts Options) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		store:    store,
		log:      logger.WithComponent("worklog"),
		layout:   opts.Layout,
		state:    State{Taxonomy: model.EmptyTaxonomy()},
		changed:  make(chan struct{}),
		watchers: make(map[int]chan State),
	}
}

// Layout returns the configured layout.
func (s *Service) Layout() Layout { return s.layout }

// Bind subscribes to the collections of id, releasing any previous binding.
// The subscriptions end on Unbind, Close or when ctx is done. A failed Bind
// leaves the service unbound.
func (s *Service) Bind(ctx context.Context, id auth.Identity) error {
	if id.UID == "" {
		return fmt.Errorf("binding: %w", auth.ErrUnresolved)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.releaseLocked()
	s.gen++
	gen := s.gen
	s.identity = &id
	s.state = State{Taxonomy: model.EmptyTaxonomy()}
	s.publishLocked()
	s.mu.Unlock()

	entriesPath := s.layout.EntriesPath(id.UID)
	categoriesPath := s.layout.CategoriesPath(id.UID)

	var g errgroup.Group
	var unsubEntries, unsubCategories remote.Unsubscribe
	g.Go(func() error {
		u, err := s.store.Subscribe(ctx, entriesPath,
			func(snap remote.Snapshot) { s.onEntries(gen, snap) },
			func(err error) { s.onSubscriptionError(gen, entriesPath, err) })
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", entriesPath, err)
		}
		unsubEntries = u
		return nil
	})
	g.Go(func() error {
		u, err := s.store.Subscribe(ctx, categoriesPath,
			func(snap remote.Snapshot) { s.onCategories(gen, snap) },
			func(err error) { s.onSubscriptionError(gen, categoriesPath, err) })
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", categoriesPath, err)
		}
		unsubCategories = u
		return nil
	})
	err := g.Wait()

	var acquired []remote.Unsubscribe
	for _, u := range []remote.Unsubscribe{unsubEntries, unsubCategories} {
		if u != nil {
			acquired = append(acquired, u)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || err != nil {
		for _, u := range acquired {
			u()
		}
		if s.gen == gen {
			s.identity = nil
			s.gen++
			s.log.Error("binding failed", "uid", id.UID, "error", err)
		}
		return err
	}
	s.unsubs = acquired
	s.log.Debug("bound", "uid", id.UID, "entries", entriesPath, "categories", categoriesPath)
	return nil
}

// Unbind releases the current subscriptions. The projection is cleared and
// writes become no-ops until the next Bind.
func (s *Service) Unbind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
	s.gen++
	s.identity = nil
	s.state = State{Taxonomy: model.EmptyTaxonomy()}
	s.publishLocked()
}

// Close unbinds and ends every Watch channel.
func (s *Service) Close() error {
	s.Unbind()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, ch := range s.watchers {
		close(ch)
		delete(s.watchers, id)
	}
	return nil
}

func (s *Service) releaseLocked() {
	for _, u := range s.unsubs {
		u()
	}
	s.unsubs = nil
}

// Identity returns the bound identity, if any.
func (s *Service) Identity() (auth.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return auth.Identity{}, false
	}
	return *s.identity, true
}

func (s *Service) onEntries(gen uint64, snap remote.Snapshot) {
	entries := parseEntries(snap, s.log)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.state.Entries = entries
	s.state.EntriesSynced = true
	s.publishLocked()
}

// parseEntries rebuilds the projection from an entries snapshot. Children
// that do not decode as an entry are skipped.
func parseEntries(snap remote.Snapshot, log *logging.Logger) []model.Entry {
	children := snap.Children()
	entries := make([]model.Entry, 0, len(children))
	for _, c := range children {
		if _, ok := c.Value.(map[string]any); !ok {
			log.Warn("skipping malformed entry", "id", c.Key, "reason", "not an object")
			continue
		}
		var e model.Entry
		if err := (remote.Snapshot{Path: snap.Path, Value: c.Value}).Decode(&e); err != nil {
			log.Warn("skipping malformed entry", "id", c.Key, "error", err)
			continue
		}
		e.ID = c.Key
		entries = append(entries, e)
	}
	return entries
}

func (s *Service) onCategories(gen uint64, snap remote.Snapshot) {
	taxonomy := model.NormalizeTaxonomy(snap.Value)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.state.Taxonomy = taxonomy
	s.state.CategoriesSynced = true
	s.publishLocked()
}

func (s *Service) onSubscriptionError(gen uint64, path string, err error) {
	s.mu.Lock()
	current := gen == s.gen
	s.mu.Unlock()
	if current {
		s.log.Error("subscription ended", "path", path, "error", err)
	}
}

// publishLocked wakes WaitFor callers and hands the latest state to every
// watcher, replacing any value it did not consume yet.
func (s *Service) publishLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
	st := s.stateLocked()
	for _, ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}

func (s *Service) stateLocked() State {
	st := s.state
	st.Entries = append([]model.Entry(nil), s.state.Entries...)
	return st
}

// State returns a copy of the projection.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// History returns the entries newest first.
func (s *Service) History() []model.Entry {
	return model.SortHistory(s.State().Entries)
}

// Entry returns the projected entry with id.
func (s *Service) Entry(id string) (model.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.state.Entries {
		if e.ID == id {
			return e, true
		}
	}
	return model.Entry{}, false
}

// Watch returns a channel carrying the latest state after every change.
// Slow readers only see the newest state. The channel closes when ctx is
// done or the service is closed.
func (s *Service) Watch(ctx context.Context) <-chan State {
	ch := make(chan State, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch
	}
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	ch <- s.stateLocked()

	context.AfterFunc(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if w, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(w)
		}
	})
	return ch
}

// WaitFor blocks until pred holds for the projection or ctx is done.
func (s *Service) WaitFor(ctx context.Context, pred func(State) bool) (State, error) {
	for {
		s.mu.Lock()
		st := s.stateLocked()
		changed := s.changed
		s.mu.Unlock()
		if pred(st) {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-changed:
		}
	}
}

// WaitSynced blocks until both collections delivered a first snapshot.
func (s *Service) WaitSynced(ctx context.Context) (State, error) {
	return s.WaitFor(ctx, State.Synced)
}

// target returns the bound identity. Callers treat !ok as a silent no-op.
func (s *Service) target(op string) (auth.Identity, bool) {
	id, ok := s.Identity()
	if !ok {
		s.log.Debug("no identity bound, skipping", "op", op)
	}
	return id, ok
}

func (s *Service) entryPath(uid, id string) (string, error) {
	if id == "" {
		return "", ErrMissingID
	}
	if err := remote.CheckKey(id); err != nil {
		return "", fmt.Errorf("%w: entry id: %v", remote.ErrInvalidPath, err)
	}
	return remote.Join(s.layout.EntriesPath(uid), id), nil
}

// AddEntry validates e and appends it under a new store-minted id.
func (s *Service) AddEntry(ctx context.Context, e model.Entry) (string, error) {
	key, _, err := s.addEntry(ctx, e)
	return key, err
}

// addEntry is AddEntry that also reports whether anything was written.
func (s *Service) addEntry(ctx context.Context, e model.Entry) (string, bool, error) {
	id, ok := s.target("add entry")
	if !ok {
		return "", false, nil
	}
	if err := e.Validate(); err != nil {
		return "", false, err
	}
	key, err := s.store.Push(ctx, s.layout.EntriesPath(id.UID), e.Fields())
	if err != nil {
		s.log.Error("adding entry failed", "error", err)
		return "", false, fmt.Errorf("adding entry: %w", err)
	}
	s.log.Debug("entry added", "id", key)
	return key, true, nil
}

// UpdateEntry merges the full field set of e into the record at e.ID.
func (s *Service) UpdateEntry(ctx context.Context, e model.Entry) error {
	_, err := s.updateEntry(ctx, e)
	return err
}

func (s *Service) updateEntry(ctx context.Context, e model.Entry) (bool, error) {
	id, ok := s.target("update entry")
	if !ok {
		return false, nil
	}
	path, err := s.entryPath(id.UID, e.ID)
	if err != nil {
		return false, err
	}
	if err := e.Validate(); err != nil {
		return false, err
	}
	if err := s.store.Update(ctx, path, e.Fields()); err != nil {
		s.log.Error("updating entry failed", "id", e.ID, "error", err)
		return false, fmt.Errorf("updating entry %s: %w", e.ID, err)
	}
	return true, nil
}

// DeleteEntry removes the record at entryID.
func (s *Service) DeleteEntry(ctx context.Context, entryID string) error {
	id, ok := s.target("delete entry")
	if !ok {
		return nil
	}
	path, err := s.entryPath(id.UID, entryID)
	if err != nil {
		return err
	}
	if err := s.store.Remove(ctx, path); err != nil {
		s.log.Error("deleting entry failed", "id", entryID, "error", err)
		return fmt.Errorf("deleting entry %s: %w", entryID, err)
	}
	return nil
}

// AddCategory adds name to the items of c. It reports false without writing
// when name is blank or already present.
//
// The whole taxonomy is overwritten from the last snapshot, so a concurrent
// writer's change that has not reached this projection yet is lost.
func (s *Service) AddCategory(ctx context.Context, c model.Category, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, nil
	}
	return s.writeTaxonomy(ctx, "add category", c, func(t model.Taxonomy) (model.Taxonomy, bool) {
		return t.With(c, name)
	})
}

// DeleteCategory removes name from the items of c. It reports false without
// writing when name is not present. The lost-update race of AddCategory
// applies.
func (s *Service) DeleteCategory(ctx context.Context, c model.Category, name string) (bool, error) {
	return s.writeTaxonomy(ctx, "delete category", c, func(t model.Taxonomy) (model.Taxonomy, bool) {
		return t.Without(c, name)
	})
}

func (s *Service) writeTaxonomy(ctx context.Context, op string, c model.Category, change func(model.Taxonomy) (model.Taxonomy, bool)) (bool, error) {
	id, ok := s.target(op)
	if !ok {
		return false, nil
	}
	if !c.IsValid() {
		return false, fmt.Errorf("unknown category %q", c)
	}

	s.mu.Lock()
	synced := s.state.CategoriesSynced
	current := s.state.Taxonomy
	s.mu.Unlock()
	if !synced {
		return false, ErrNotSynced
	}

	next, changed := change(current)
	if !changed {
		return false, nil
	}
	path := s.layout.CategoriesPath(id.UID)
	if err := s.store.Set(ctx, path, next.Value()); err != nil {
		s.log.Error(op+" failed", "category", string(c), "error", err)
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}
