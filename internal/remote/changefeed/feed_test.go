package changefeed_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/trivial-work-log/internal/remote"
	"github.com/Tiliavir/trivial-work-log/internal/remote/changefeed"
	"github.com/Tiliavir/trivial-work-log/internal/remote/memstore"
	"github.com/Tiliavir/trivial-work-log/internal/storage"
)

// recorder is a Transport that keeps what was published and replays a
// fixed list on Consume.
type recorder struct {
	mu        sync.Mutex
	published []*changefeed.Message
	replay    []*changefeed.Message
	failing   bool
}

func (r *recorder) Publish(ctx context.Context, msg *changefeed.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return errors.New("broker down")
	}
	r.published = append(r.published, msg)
	return nil
}

func (r *recorder) Consume(ctx context.Context, handler func(*changefeed.Message) error) error {
	for _, m := range r.replay {
		_ = handler(m)
	}
	<-ctx.Done()
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.published {
		out = append(out, m.Path)
	}
	return out
}

func TestWritesAreAnnounced(t *testing.T) {
	ms, err := memstore.New()
	require.NoError(t, err)
	tr := &recorder{}
	feed := changefeed.New(ms, tr, nil)
	defer feed.Close()
	ctx := context.Background()

	require.NoError(t, feed.Set(ctx, "users/u/categories", map[string]any{"clients": []string{"Acme"}}))
	key, err := feed.Push(ctx, "users/u/entries", map[string]any{"date": "2024-05-01"})
	require.NoError(t, err)
	require.NoError(t, feed.Update(ctx, "users/u/entries/"+key, map[string]any{"time": "09:00"}))
	require.NoError(t, feed.Remove(ctx, "users/u/entries/"+key))

	assert.Equal(t, []string{
		"users/u/categories",
		"users/u/entries/" + key,
		"users/u/entries/" + key,
		"users/u/entries/" + key,
	}, tr.paths())
	for _, m := range tr.published {
		assert.Equal(t, feed.Origin(), m.Origin)
	}
}

func TestFailedWritesAreNotAnnounced(t *testing.T) {
	ms, err := memstore.New()
	require.NoError(t, err)
	tr := &recorder{}
	feed := changefeed.New(ms, tr, nil)
	defer feed.Close()

	err = feed.Set(context.Background(), "bad.path", "x")
	require.ErrorIs(t, err, remote.ErrInvalidPath)
	assert.Empty(t, tr.paths())
}

func TestPublishFailureKeepsWrite(t *testing.T) {
	ms, err := memstore.New()
	require.NoError(t, err)
	feed := changefeed.New(ms, &recorder{failing: true}, nil)
	defer feed.Close()

	require.NoError(t, feed.Set(context.Background(), "a", "b"))
	snap, err := ms.Snapshot("a")
	require.NoError(t, err)
	assert.Equal(t, "b", snap.Value)
}

func TestForeignChangeReloadsSharedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worklog.json")
	ctx := context.Background()

	storeA, err := storage.Open(path, nil)
	require.NoError(t, err)
	storeB, err := storage.Open(path, nil)
	require.NoError(t, err)

	trA := &recorder{}
	feedA := changefeed.New(storeA, trA, nil)
	defer feedA.Close()
	feedB := changefeed.New(storeB, &recorder{}, nil)
	defer feedB.Close()

	got := make(chan any, 8)
	unsub, err := feedB.Subscribe(ctx, "users/u/categories", func(s remote.Snapshot) { got <- s.Value }, nil)
	require.NoError(t, err)
	defer unsub()
	assert.Nil(t, <-got)

	require.NoError(t, feedA.Set(ctx, "users/u/categories", map[string]any{"clients": []string{"Acme"}}))
	for _, m := range trA.published {
		require.NoError(t, feedB.Handle(m))
	}

	select {
	case v := <-got:
		assert.Equal(t, map[string]any{"clients": []any{"Acme"}}, v)
	case <-time.After(2 * time.Second):
		t.Fatal("foreign change not delivered")
	}
}

func TestHandleIgnoresOwnAndRejectsBadPaths(t *testing.T) {
	ms, err := memstore.New()
	require.NoError(t, err)
	feed := changefeed.New(ms, &recorder{}, nil)
	defer feed.Close()

	assert.NoError(t, feed.Handle(&changefeed.Message{Origin: feed.Origin(), Path: "a"}))
	assert.ErrorIs(t, feed.Handle(&changefeed.Message{Origin: "other", Path: "a#b"}), remote.ErrInvalidPath)
}

func TestRunReplaysTransport(t *testing.T) {
	ms, err := memstore.New(memstore.WithTree(map[string]any{"a": "1"}))
	require.NoError(t, err)
	tr := &recorder{replay: []*changefeed.Message{{Origin: "other", Path: "a"}}}
	feed := changefeed.New(ms, tr, nil)
	defer feed.Close()

	got := make(chan any, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err = feed.Subscribe(ctx, "a", func(s remote.Snapshot) { got <- s.Value }, nil)
	require.NoError(t, err)
	assert.Equal(t, "1", <-got)

	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	select {
	case v := <-got:
		assert.Equal(t, "1", v)
	case <-time.After(2 * time.Second):
		t.Fatal("replayed change not delivered")
	}
	cancel()
	assert.NoError(t, <-done)
}
