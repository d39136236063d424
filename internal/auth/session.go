// Package auth resolves the anonymous identity that scopes a user's data.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/oauth2"

	"github.com/Tiliavir/trivial-work-log/internal/logging"
)

// ErrUnresolved is returned while no identity is available, and for the rest
// of the process once sign-in has failed.
var ErrUnresolved = errors.New("identity not resolved")

// Provider names.
const (
	ProviderLocal    = "local"
	ProviderFirebase = "firebase"
)

// Identity is the anonymous user all remote paths are scoped under.
type Identity struct {
	UID      string `json:"uid"`
	Provider string `json:"provider"`
}

// Provider obtains an anonymous identity. The token source is nil when the
// backend needs no credentials.
type Provider interface {
	SignInAnonymously(ctx context.Context) (Identity, oauth2.TokenSource, error)
}

// Session resolves one identity per process. Sign-in runs once; if it fails
// the failure is logged and the session stays unresolved for good.
type Session struct {
	provider Provider
	log      *logging.Logger

	once sync.Once
	done chan struct{}

	mu       sync.Mutex
	identity *Identity
	ts       oauth2.TokenSource
	err      error
	watchers map[int]func(Identity)
	nextID   int
}

// NewSession returns an unresolved session for provider.
func NewSession(provider Provider, logger *logging.Logger) *Session {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Session{
		provider: provider,
		log:      logger.WithComponent("auth"),
		done:     make(chan struct{}),
		watchers: make(map[int]func(Identity)),
	}
}

// Start begins sign-in in the background. Later calls do nothing.
func (s *Session) Start(ctx context.Context) {
	s.once.Do(func() { go s.resolve(ctx) })
}

func (s *Session) resolve(ctx context.Context) {
	id, ts, err := s.provider.SignInAnonymously(ctx)
	if err == nil && id.UID == "" {
		err = errors.New("provider returned an empty uid")
	}

	s.mu.Lock()
	if err != nil {
		s.err = err
		s.mu.Unlock()
		s.log.Error("anonymous sign-in failed", "error", err)
		close(s.done)
		return
	}
	s.identity = &id
	s.ts = ts
	watchers := make([]func(Identity), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.watchers = nil
	s.mu.Unlock()

	s.log.Info("signed in", "uid", id.UID, "provider", id.Provider)
	close(s.done)
	for _, fn := range watchers {
		fn(id)
	}
}

// Done is closed once sign-in finished, successfully or not.
func (s *Session) Done() <-chan struct{} { return s.done }

// Identity returns the resolved identity, if any.
func (s *Session) Identity() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return Identity{}, false
	}
	return *s.identity, true
}

// Err returns the sign-in failure, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Wait blocks until sign-in finished or ctx is done.
func (s *Session) Wait(ctx context.Context) (Identity, error) {
	select {
	case <-ctx.Done():
		return Identity{}, ctx.Err()
	case <-s.done:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnresolved, s.err)
	}
	return *s.identity, nil
}

// OnIdentityChange calls fn once the identity resolves, right away if it
// already has. fn never runs if sign-in fails.
func (s *Session) OnIdentityChange(fn func(Identity)) (cancel func()) {
	s.mu.Lock()
	if s.identity != nil {
		id := *s.identity
		s.mu.Unlock()
		fn(id)
		return func() {}
	}
	if s.err != nil {
		s.mu.Unlock()
		return func() {}
	}
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}

// TokenSource returns credentials of the resolved identity. Tokens fail with
// ErrUnresolved until then.
func (s *Session) TokenSource() oauth2.TokenSource {
	return sessionTokenSource{s: s}
}

type sessionTokenSource struct {
	s *Session
}

func (t sessionTokenSource) Token() (*oauth2.Token, error) {
	t.s.mu.Lock()
	ts := t.s.ts
	resolved := t.s.identity != nil
	t.s.mu.Unlock()
	if !resolved {
		return nil, ErrUnresolved
	}
	if ts == nil {
		return nil, errors.New("identity has no credentials")
	}
	return ts.Token()
}
