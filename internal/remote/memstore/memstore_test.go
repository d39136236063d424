package memstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/trivial-work-log/internal/remote"
	"github.com/Tiliavir/trivial-work-log/internal/remote/memstore"
)

func subscribe(t *testing.T, s remote.Store, path string) <-chan remote.Snapshot {
	t.Helper()
	ch := make(chan remote.Snapshot, 32)
	unsub, err := s.Subscribe(context.Background(), path, func(snap remote.Snapshot) { ch <- snap }, nil)
	require.NoError(t, err)
	t.Cleanup(unsub)
	return ch
}

func next(t *testing.T, ch <-chan remote.Snapshot) remote.Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return remote.Snapshot{}
	}
}

func TestPushSetRemove(t *testing.T) {
	ctx := context.Background()
	s, err := memstore.New()
	require.NoError(t, err)
	defer s.Close()

	ch := subscribe(t, s, "users/u1/entries")
	assert.False(t, next(t, ch).Exists())

	key, err := s.Push(ctx, "users/u1/entries", map[string]any{"date": "2024-01-15", "articleQuantity": 3})
	require.NoError(t, err)
	require.NotEmpty(t, key)

	snap := next(t, ch)
	require.Len(t, snap.Children(), 1)
	assert.Equal(t, key, snap.Children()[0].Key)

	require.NoError(t, s.Remove(ctx, "users/u1/entries/"+key))
	assert.False(t, next(t, ch).Exists())
}

func TestUpdateMerges(t *testing.T) {
	ctx := context.Background()
	s, err := memstore.New(memstore.WithTree(map[string]any{
		"entries": map[string]any{"k1": map[string]any{"date": "2024-01-15", "comments": "a"}},
	}))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Update(ctx, "entries/k1", map[string]any{"comments": "b"}))
	snap, err := s.Snapshot("entries/k1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"date": "2024-01-15", "comments": "b"}, snap.Value)
}

func TestUnrelatedWritesAreNotDelivered(t *testing.T) {
	s, err := memstore.New()
	require.NoError(t, err)
	defer s.Close()

	ch := subscribe(t, s, "users/u1/categories")
	next(t, ch)

	require.NoError(t, s.Set(context.Background(), "users/u2/categories", map[string]any{"clients": []string{"X"}}))
	select {
	case snap := <-ch:
		t.Fatalf("unexpected delivery %v", snap)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPersistenceFailureRollsBack(t *testing.T) {
	fail := true
	s, err := memstore.New(memstore.WithPersistence(func(any) error {
		if fail {
			return errors.New("disk full")
		}
		return nil
	}))
	require.NoError(t, err)
	defer s.Close()

	err = s.Set(context.Background(), "a", "b")
	require.Error(t, err)
	snap, _ := s.Snapshot("a")
	assert.False(t, snap.Exists())

	fail = false
	require.NoError(t, s.Set(context.Background(), "a", "b"))
	snap, _ = s.Snapshot("a")
	assert.Equal(t, "b", snap.Value)
}

func TestInvalidPathIsRejected(t *testing.T) {
	s, err := memstore.New()
	require.NoError(t, err)
	defer s.Close()

	assert.ErrorIs(t, s.Set(context.Background(), "a.b", 1), remote.ErrInvalidPath)
	_, err = s.Subscribe(context.Background(), "x//y", func(remote.Snapshot) {}, nil)
	assert.ErrorIs(t, err, remote.ErrInvalidPath)
}

func TestCanceledContextFailsWrite(t *testing.T) {
	s, err := memstore.New()
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Set(ctx, "a", 1), context.Canceled)
}

func TestClosedStore(t *testing.T) {
	s, err := memstore.New()
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Set(context.Background(), "a", 1), remote.ErrClosed)
	_, err = s.Subscribe(context.Background(), "a", func(remote.Snapshot) {}, nil)
	assert.ErrorIs(t, err, remote.ErrClosed)
}

func TestReplaceNotifiesListeners(t *testing.T) {
	s, err := memstore.New()
	require.NoError(t, err)
	defer s.Close()

	ch := subscribe(t, s, "categories")
	next(t, ch)

	require.NoError(t, s.Replace(map[string]any{"categories": map[string]any{"clients": []string{"Acme"}}}))
	assert.Equal(t, map[string]any{"clients": []any{"Acme"}}, next(t, ch).Value)
}

func TestWritesApplyOnTopOfRefreshedTree(t *testing.T) {
	var pending any
	s, err := memstore.New(
		memstore.WithTree(map[string]any{"entries": map[string]any{"a": 1}}),
		memstore.WithRefresh(func() (any, bool, error) {
			if pending == nil {
				return nil, false, nil
			}
			root := pending
			pending = nil
			return root, true, nil
		}),
	)
	require.NoError(t, err)
	defer s.Close()

	ch := subscribe(t, s, "entries")
	next(t, ch)

	pending = map[string]any{"entries": map[string]any{"a": 1, "b": 2}}
	require.NoError(t, s.Set(context.Background(), "entries/c", 3))
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0, "c": 3.0}, next(t, ch).Value)

	pending = map[string]any{"entries": map[string]any{"d": 4}}
	reloaded, err := s.Refresh()
	require.NoError(t, err)
	assert.True(t, reloaded)
	assert.Equal(t, map[string]any{"d": 4.0}, next(t, ch).Value)

	reloaded, err = s.Refresh()
	require.NoError(t, err)
	assert.False(t, reloaded)
}

func TestFailedRefreshFailsWrite(t *testing.T) {
	boom := errors.New("boom")
	s, err := memstore.New(memstore.WithRefresh(func() (any, bool, error) { return nil, false, boom }))
	require.NoError(t, err)
	defer s.Close()

	assert.ErrorIs(t, s.Set(context.Background(), "a", 1), boom)
	snap, err := s.Snapshot("a")
	require.NoError(t, err)
	assert.Nil(t, snap.Value)
}
