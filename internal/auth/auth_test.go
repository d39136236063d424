package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/Tiliavir/trivial-work-log/internal/auth"
)

type fakeProvider struct {
	calls atomic.Int32
	id    auth.Identity
	ts    oauth2.TokenSource
	err   error
	gate  chan struct{}
}

func (p *fakeProvider) SignInAnonymously(ctx context.Context) (auth.Identity, oauth2.TokenSource, error) {
	p.calls.Add(1)
	if p.gate != nil {
		<-p.gate
	}
	return p.id, p.ts, p.err
}

func TestSessionResolvesOnce(t *testing.T) {
	p := &fakeProvider{id: auth.Identity{UID: "u1", Provider: auth.ProviderLocal}}
	s := auth.NewSession(p, nil)

	_, ok := s.Identity()
	assert.False(t, ok, "unresolved before Start")

	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx)

	id, err := s.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UID)
	assert.EqualValues(t, 1, p.calls.Load())

	got, ok := s.Identity()
	assert.True(t, ok)
	assert.Equal(t, id, got)
}

func TestSessionFailureIsPermanent(t *testing.T) {
	boom := errors.New("network down")
	p := &fakeProvider{err: boom}
	s := auth.NewSession(p, nil)
	ctx := context.Background()

	s.Start(ctx)
	_, err := s.Wait(ctx)
	require.ErrorIs(t, err, auth.ErrUnresolved)
	assert.Contains(t, err.Error(), "network down")

	s.Start(ctx)
	_, err = s.Wait(ctx)
	require.ErrorIs(t, err, auth.ErrUnresolved)
	assert.EqualValues(t, 1, p.calls.Load(), "no retry after failure")
	assert.ErrorIs(t, s.Err(), boom)

	_, err = s.TokenSource().Token()
	assert.ErrorIs(t, err, auth.ErrUnresolved)

	fired := false
	s.OnIdentityChange(func(auth.Identity) { fired = true })
	assert.False(t, fired)
}

func TestSessionRejectsEmptyUID(t *testing.T) {
	s := auth.NewSession(&fakeProvider{}, nil)
	s.Start(context.Background())
	_, err := s.Wait(context.Background())
	assert.ErrorIs(t, err, auth.ErrUnresolved)
}

func TestOnIdentityChange(t *testing.T) {
	p := &fakeProvider{id: auth.Identity{UID: "u1"}, gate: make(chan struct{})}
	s := auth.NewSession(p, nil)

	got := make(chan auth.Identity, 2)
	s.OnIdentityChange(func(id auth.Identity) { got <- id })
	cancel := s.OnIdentityChange(func(id auth.Identity) { t.Error("canceled watcher fired") })
	cancel()

	s.Start(context.Background())
	close(p.gate)

	select {
	case id := <-got:
		assert.Equal(t, "u1", id.UID)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher not called")
	}

	// Late watchers fire immediately.
	s.OnIdentityChange(func(id auth.Identity) { got <- id })
	assert.Equal(t, "u1", (<-got).UID)
}

func TestWaitHonorsContext(t *testing.T) {
	p := &fakeProvider{id: auth.Identity{UID: "u1"}, gate: make(chan struct{})}
	defer close(p.gate)
	s := auth.NewSession(p, nil)
	s.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSessionTokenSourceDelegates(t *testing.T) {
	p := &fakeProvider{id: auth.Identity{UID: "u1"}, ts: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "abc"})}
	s := auth.NewSession(p, nil)
	s.Start(context.Background())
	_, err := s.Wait(context.Background())
	require.NoError(t, err)

	tok, err := s.TokenSource().Token()
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.AccessToken)
}

func TestLocalProviderPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth", "session.json")
	ctx := context.Background()

	first, ts, err := auth.NewLocalProvider(path).SignInAnonymously(ctx)
	require.NoError(t, err)
	assert.Nil(t, ts)
	assert.NotEmpty(t, first.UID)
	assert.Equal(t, auth.ProviderLocal, first.Provider)

	second, _, err := auth.NewLocalProvider(path).SignInAnonymously(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.UID, second.UID)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLocalProviderWithoutFileMintsFresh(t *testing.T) {
	ctx := context.Background()
	a, _, err := auth.NewLocalProvider("").SignInAnonymously(ctx)
	require.NoError(t, err)
	b, _, err := auth.NewLocalProvider("").SignInAnonymously(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, a.UID, b.UID)
}

func signedIDToken(t *testing.T, uid string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": uid,
		"sub":     uid,
		"exp":     exp.Unix(),
	})
	raw, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

type identityServer struct {
	t       *testing.T
	signUps atomic.Int32
	refresh atomic.Int32
	uid     string
	fail    bool
}

func (s *identityServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(s.t, "test-key", r.URL.Query().Get("key"))
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/signUp":
		s.signUps.Add(1)
		if s.fail {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"ADMIN_ONLY_OPERATION"}}`))
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(s.t, true, body["returnSecureToken"])
		json.NewEncoder(w).Encode(map[string]any{
			"idToken":      signedIDToken(s.t, s.uid, time.Now().Add(time.Hour)),
			"refreshToken": "refresh-1",
			"expiresIn":    "3600",
			"localId":      s.uid,
		})
	case "/token":
		s.refresh.Add(1)
		assert.NoError(s.t, r.ParseForm())
		assert.Equal(s.t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(s.t, "refresh-1", r.PostForm.Get("refresh_token"))
		id := signedIDToken(s.t, s.uid, time.Now().Add(time.Hour))
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  id,
			"id_token":      id,
			"expires_in":    3600,
			"token_type":    "Bearer",
			"refresh_token": "refresh-1",
			"user_id":       s.uid,
		})
	default:
		http.NotFound(w, r)
	}
}

func newFirebaseProvider(srv *httptest.Server, sessionPath string) *auth.FirebaseProvider {
	return auth.NewFirebaseProvider("test-key",
		auth.WithEndpoints(srv.URL+"/signUp", srv.URL+"/token"),
		auth.WithSessionFile(sessionPath),
	)
}

func TestFirebaseSignUp(t *testing.T) {
	is := &identityServer{t: t, uid: "anon-1"}
	srv := httptest.NewServer(is)
	defer srv.Close()
	path := filepath.Join(t.TempDir(), "session.json")

	id, ts, err := newFirebaseProvider(srv, path).SignInAnonymously(context.Background())
	require.NoError(t, err)
	assert.Equal(t, auth.Identity{UID: "anon-1", Provider: auth.ProviderFirebase}, id)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.NotEmpty(t, tok.AccessToken)
	assert.True(t, tok.Valid())
	assert.EqualValues(t, 1, is.signUps.Load())
	assert.EqualValues(t, 0, is.refresh.Load())

	_, err = os.Stat(path)
	assert.NoError(t, err, "session persisted")
}

func TestFirebaseRestoresSavedSession(t *testing.T) {
	is := &identityServer{t: t, uid: "anon-1"}
	srv := httptest.NewServer(is)
	defer srv.Close()
	path := filepath.Join(t.TempDir(), "session.json")

	expired := map[string]any{
		"provider": auth.ProviderFirebase,
		"uid":      "anon-1",
		"token": map[string]any{
			"access_token":  signedIDToken(t, "anon-1", time.Now().Add(-time.Hour)),
			"refresh_token": "refresh-1",
			"expiry":        time.Now().Add(-time.Hour),
		},
	}
	data, err := json.Marshal(expired)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	id, _, err := newFirebaseProvider(srv, path).SignInAnonymously(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "anon-1", id.UID)
	assert.EqualValues(t, 0, is.signUps.Load(), "saved session reused")
	assert.EqualValues(t, 1, is.refresh.Load())
}

func TestFirebaseSignUpFailure(t *testing.T) {
	is := &identityServer{t: t, uid: "anon-1", fail: true}
	srv := httptest.NewServer(is)
	defer srv.Close()

	_, _, err := newFirebaseProvider(srv, "").SignInAnonymously(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identity toolkit error 400")
}

func TestFirebaseRequiresAPIKey(t *testing.T) {
	_, _, err := auth.NewFirebaseProvider("").SignInAnonymously(context.Background())
	assert.Error(t, err)
}
