// Package sqlitestore implements remote.Store on SQLite. Every leaf of the
// tree is one row keyed by its full path.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Tiliavir/trivial-work-log/internal/logging"
	"github.com/Tiliavir/trivial-work-log/internal/remote"
)

// Store is a SQLite-backed tree. It holds a single connection so that
// PRAGMA data_version reflects only writes made by other processes.
type Store struct {
	db  *sql.DB
	hub *remote.Hub
	log *logging.Logger

	mu          sync.Mutex
	dataVersion int64
	closed      bool
}

// Open creates or opens the database at path and applies migrations.
func Open(path string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dataSource(path)
	if err := RunMigrations(dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, hub: remote.NewHub(), log: logger.WithComponent("sqlitestore")}
	if s.dataVersion, err = s.version(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// uriPath escapes the bytes SQLite treats specially in a file: URI.
var uriPath = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

// dataSource returns the file: URI for the database at path.
func dataSource(path string) string {
	return "file:" + uriPath.Replace(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (s *Store) version(ctx context.Context) (int64, error) {
	var v int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA data_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read data_version: %w", err)
	}
	return v, nil
}

// subtreeWhere selects the row at p and every row below it. '0' is the byte
// after '/', so the range matches exactly the paths prefixed by p + "/".
func subtreeWhere(p string) (string, []any) {
	if p == "" {
		return "1 = 1", nil
	}
	return "(path = ? OR (path > ? AND path < ?))", []any{p, p + "/", p + "0"}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) readWith(ctx context.Context, q querier, p string) (any, error) {
	where, args := subtreeWhere(p)
	rows, err := q.QueryContext(ctx, `SELECT path, value FROM nodes WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", p, err)
	}
	defer rows.Close()

	tree, _ := remote.NewTree(nil)
	for rows.Next() {
		var path, raw string
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		var leaf any
		if err := json.Unmarshal([]byte(raw), &leaf); err != nil {
			return nil, fmt.Errorf("decode node %q: %w", path, err)
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(path, p), "/")
		if err := tree.Set(rel, leaf); err != nil {
			return nil, fmt.Errorf("rebuild node %q: %w", path, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return tree.Get(""), nil
}

func (s *Store) read(p string) (any, error) {
	return s.readWith(context.Background(), s.db, p)
}

// put replaces the subtree at p with value inside tx.
func put(ctx context.Context, tx querier, p string, value any) error {
	v, err := remote.Normalize(value)
	if err != nil {
		return err
	}

	where, args := subtreeWhere(p)
	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE `+where, args...); err != nil {
		return fmt.Errorf("clear %q: %w", p, err)
	}
	if v == nil {
		return nil
	}

	// A leaf on an ancestor becomes a branch.
	segs := remote.Segments(p)
	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE path = ''`); err != nil {
		return fmt.Errorf("clear root leaf: %w", err)
	}
	for i := 1; i < len(segs); i++ {
		if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE path = ?`, strings.Join(segs[:i], "/")); err != nil {
			return fmt.Errorf("clear ancestor leaf: %w", err)
		}
	}

	var insertErr error
	remote.Flatten(v, func(rel string, leaf any) {
		if insertErr != nil {
			return
		}
		raw, err := json.Marshal(leaf)
		if err != nil {
			insertErr = fmt.Errorf("encode leaf: %w", err)
			return
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO nodes (path, value, updated_at) VALUES (?, ?, ?)`,
			remote.Join(p, rel), string(raw), time.Now().Unix())
		if err != nil {
			insertErr = fmt.Errorf("insert %q: %w", remote.Join(p, rel), err)
		}
	})
	return insertErr
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
	initial, err := s.readWith(ctx, s.db, p)
	if err != nil {
		return nil, err
	}
	return s.hub.Add(ctx, p, initial, onChange, onError), nil
}

// Set implements remote.Store.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	return s.commit(ctx, path, func(tx *sql.Tx, p string) error {
		return put(ctx, tx, p, value)
	})
}

// Update implements remote.Store.
func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	return s.commit(ctx, path, func(tx *sql.Tx, p string) error {
		for k, v := range fields {
			rel, err := remote.CleanPath(k)
			if err != nil {
				return err
			}
			if rel == "" {
				return fmt.Errorf("%w: empty update key", remote.ErrInvalidPath)
			}
			if err := put(ctx, tx, remote.Join(p, rel), v); err != nil {
				return err
			}
		}
		return nil
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

func (s *Store) commit(ctx context.Context, path string, apply func(*sql.Tx, string) error) error {
	p, err := remote.CleanPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return remote.ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := apply(tx, p); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %q: %w", p, err)
	}
	s.hub.Publish(p, s.read)
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
	if !s.closed {
		s.hub.Publish(p, s.read)
	}
}

// Poll checks whether another process committed since the last check and
// notifies every listener if so.
func (s *Store) Poll(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, remote.ErrClosed
	}
	v, err := s.version(ctx)
	if err != nil {
		return false, err
	}
	if v == s.dataVersion {
		return false, nil
	}
	s.dataVersion = v
	s.hub.Publish("", s.read)
	return true, nil
}

// Watch calls Poll every interval until ctx is done.
func (s *Store) Watch(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Poll(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.log.Warn("polling data_version failed", "error", err)
			}
		}
	}
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
	return s.db.Close()
}
