// Package remote defines the tree-shaped realtime store the work log syncs
// against, plus the path, tree and listener plumbing shared by the local
// implementations.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Snapshot is the full value at Path at one point in time. Value is nil when
// nothing is stored there. Snapshots are never mutated after delivery.
type Snapshot struct {
	Path  string
	Value any
}

// Exists reports whether the snapshot holds a value.
func (s Snapshot) Exists() bool { return s.Value != nil }

// Decode unmarshals the snapshot value into v.
func (s Snapshot) Decode(v any) error {
	data, err := json.Marshal(s.Value)
	if err != nil {
		return fmt.Errorf("encoding snapshot %s: %w", s.Path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding snapshot %s: %w", s.Path, err)
	}
	return nil
}

// Child is one direct child of a snapshot.
type Child struct {
	Key   string
	Value any
}

// Children lists the direct children ordered by key. Scalars have none.
func (s Snapshot) Children() []Child {
	var out []Child
	switch v := s.Value.(type) {
	case map[string]any:
		out = make([]Child, 0, len(v))
		for k, c := range v {
			out = append(out, Child{Key: k, Value: c})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	case []any:
		out = make([]Child, 0, len(v))
		for i, c := range v {
			if c == nil {
				continue
			}
			out = append(out, Child{Key: fmt.Sprint(i), Value: c})
		}
	}
	return out
}

// ChangeFunc receives every new value of a subscribed path.
type ChangeFunc func(Snapshot)

// ErrorFunc receives the error that ended a subscription.
type ErrorFunc func(error)

// Unsubscribe releases a subscription. It is safe to call more than once.
type Unsubscribe func()

// Store is the remote collaborator: a JSON tree with live listeners.
//
// Subscribe delivers the value at path at subscribe time and then again
// after every change that touches path. Deliveries for one subscription
// never overlap and intermediate values may be skipped. The subscription
// ends when the returned Unsubscribe is called or ctx is done.
type Store interface {
	Subscribe(ctx context.Context, path string, onChange ChangeFunc, onError ErrorFunc) (Unsubscribe, error)
	// Set overwrites the value at path. A nil value deletes it.
	Set(ctx context.Context, path string, value any) error
	// Update merges fields into path. Keys may be relative sub-paths.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Push stores value under a new, time-ordered child key of path.
	Push(ctx context.Context, path string, value any) (string, error)
	// Remove deletes the subtree at path.
	Remove(ctx context.Context, path string) error
	Close() error
}

// Notifier is implemented by stores that can be told that path changed
// outside of their own writes.
type Notifier interface {
	NotifyChanged(path string)
}

// NewKey mints a push key. Keys sort in creation order.
func NewKey() string {
	return uuid.Must(uuid.NewV7()).String()
}
