package remote_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/trivial-work-log/internal/remote"
)

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: ""},
		{in: "/", want: ""},
		{in: "/users/abc/entries/", want: "users/abc/entries"},
		{in: "users//entries", wantErr: true},
		{in: "users/a.b", wantErr: true},
		{in: "users/$id", wantErr: true},
		{in: "entries/[0]", wantErr: true},
	}
	for _, tt := range tests {
		got, err := remote.CleanPath(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, remote.ErrInvalidPath, "CleanPath(%q)", tt.in)
			continue
		}
		require.NoError(t, err, "CleanPath(%q)", tt.in)
		assert.Equal(t, tt.want, got, "CleanPath(%q)", tt.in)
	}
}

func TestJoinAndRelated(t *testing.T) {
	assert.Equal(t, "users/u1/entries", remote.Join("users", "", "/u1/", "entries"))
	assert.Equal(t, "", remote.Join())

	assert.True(t, remote.Related("users/u1", "users/u1/entries/k"))
	assert.True(t, remote.Related("users/u1/entries/k", "users/u1"))
	assert.True(t, remote.Related("", "anything"))
	assert.False(t, remote.Related("users/u1", "users/u10"))
	assert.False(t, remote.Related("users/u1/entries", "users/u1/categories"))
}

func TestTreeSetAndGet(t *testing.T) {
	tree, err := remote.NewTree(nil)
	require.NoError(t, err)

	require.NoError(t, tree.Set("users/u1/categories", map[string]any{
		"clients": []string{"Acme", "Globex"},
		"family":  []string{},
	}))

	got := tree.Get("users/u1/categories")
	want := map[string]any{"clients": []any{"Acme", "Globex"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Get mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, tree.Set("users/u1/categories", nil))
	assert.Nil(t, tree.Get("users/u1"), "empty parents are pruned")
	assert.Nil(t, tree.Root())
}

func TestTreeSetReplacesScalarAncestor(t *testing.T) {
	tree, err := remote.NewTree(map[string]any{"a": "leaf"})
	require.NoError(t, err)
	require.NoError(t, tree.Set("a/b", 1))
	assert.Equal(t, map[string]any{"b": 1.0}, tree.Get("a"))
}

func TestTreeUpdateMerges(t *testing.T) {
	tree, err := remote.NewTree(map[string]any{
		"entries": map[string]any{"k1": map[string]any{"date": "2024-01-15", "comments": "old", "extra": true}},
	})
	require.NoError(t, err)

	require.NoError(t, tree.Update("entries/k1", map[string]any{"comments": "new", "articleQuantity": 2}))
	want := map[string]any{"date": "2024-01-15", "comments": "new", "extra": true, "articleQuantity": 2.0}
	assert.Equal(t, want, tree.Get("entries/k1"))

	require.NoError(t, tree.Update("", map[string]any{"entries/k1/extra": nil}))
	assert.NotContains(t, tree.Get("entries/k1"), "extra")
}

func TestTreeUpdateIsAtomic(t *testing.T) {
	tree, err := remote.NewTree(map[string]any{"a": "x"})
	require.NoError(t, err)

	err = tree.Update("", map[string]any{"a": "y", "bad.key": 1})
	require.ErrorIs(t, err, remote.ErrInvalidPath)
	assert.Equal(t, "x", tree.Get("a"))
}

func TestTreeRejectsInvalidKeys(t *testing.T) {
	tree, err := remote.NewTree(nil)
	require.NoError(t, err)
	err = tree.Set("x", map[string]any{"a.b": 1})
	assert.ErrorIs(t, err, remote.ErrInvalidPath)
}

func TestExportKeepsSparseArraysAsObjects(t *testing.T) {
	tree, err := remote.NewTree(map[string]any{"list": map[string]any{"0": "a", "2": "c"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"0": "a", "2": "c"}, tree.Get("list"))
}

func TestCloneIsIndependent(t *testing.T) {
	tree, err := remote.NewTree(map[string]any{"a": map[string]any{"b": "c"}})
	require.NoError(t, err)
	clone := tree.Clone()
	require.NoError(t, tree.Set("a/b", "changed"))
	assert.Equal(t, "c", clone.Get("a/b"))
}

func TestFlatten(t *testing.T) {
	v, err := remote.Normalize(map[string]any{"a": map[string]any{"b": 1, "c": []string{"x"}}, "d": "e"})
	require.NoError(t, err)
	leaves := map[string]any{}
	remote.Flatten(v, func(p string, leaf any) { leaves[p] = leaf })
	assert.Equal(t, map[string]any{"a/b": 1.0, "a/c/0": "x", "d": "e"}, leaves)
}

func TestSnapshotChildren(t *testing.T) {
	s := remote.Snapshot{Value: map[string]any{"b": 2.0, "a": 1.0}}
	children := s.Children()
	require.Len(t, children, 2)
	assert.Equal(t, "a", children[0].Key)
	assert.Equal(t, "b", children[1].Key)

	assert.Empty(t, remote.Snapshot{Value: "scalar"}.Children())
	assert.False(t, remote.Snapshot{}.Exists())
}

func TestNewKeySortsInCreationOrder(t *testing.T) {
	a := remote.NewKey()
	time.Sleep(2 * time.Millisecond)
	b := remote.NewKey()
	assert.Less(t, a, b)
	assert.NoError(t, remote.CheckKey(a))
}

type recorder struct {
	mu     sync.Mutex
	values []any
	errs   []error
	ch     chan struct{}
}

func newRecorder() *recorder { return &recorder{ch: make(chan struct{}, 64)} }

func (r *recorder) onChange(s remote.Snapshot) {
	r.mu.Lock()
	r.values = append(r.values, s.Value)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func (r *recorder) last() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[len(r.values)-1]
}

func TestHubDeliversInitialAndRelatedChanges(t *testing.T) {
	hub := remote.NewHub()
	defer hub.Close()
	rec := newRecorder()

	unsub := hub.Add(context.Background(), "users/u1/entries", nil, rec.onChange, rec.onError)
	defer unsub()
	rec.wait(t)
	assert.Nil(t, rec.last())

	hub.Publish("users/u1/entries/k1", func(string) (any, error) { return "v1", nil })
	rec.wait(t)
	assert.Equal(t, "v1", rec.last())

	hub.Publish("users/u1/categories", func(string) (any, error) { return "unrelated", nil })
	select {
	case <-rec.ch:
		t.Fatal("unrelated change was delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := remote.NewHub()
	defer hub.Close()
	rec := newRecorder()

	unsub := hub.Add(context.Background(), "p", "v0", rec.onChange, rec.onError)
	rec.wait(t)
	unsub()
	unsub()
	assert.Equal(t, 0, hub.Len())

	hub.Publish("p", func(string) (any, error) { return "v1", nil })
	select {
	case <-rec.ch:
		t.Fatal("delivery after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubContextCancelUnsubscribes(t *testing.T) {
	hub := remote.NewHub()
	defer hub.Close()
	rec := newRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	hub.Add(ctx, "p", "v0", rec.onChange, rec.onError)
	rec.wait(t)
	cancel()
	assert.Eventually(t, func() bool { return hub.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubReadErrorEndsListener(t *testing.T) {
	hub := remote.NewHub()
	defer hub.Close()
	rec := newRecorder()

	hub.Add(context.Background(), "p", "v0", rec.onChange, rec.onError)
	rec.wait(t)

	boom := errors.New("boom")
	hub.Publish("p", func(string) (any, error) { return nil, boom })
	rec.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], boom)
	assert.Equal(t, 0, hub.Len())
}
