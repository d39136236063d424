package auth

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// LocalProvider mints identities for stores that live on this machine. With
// a session file the same identity is reused across runs.
type LocalProvider struct {
	sessionPath string
}

// NewLocalProvider returns a provider persisting to sessionPath; an empty
// path mints a new identity every run.
func NewLocalProvider(sessionPath string) *LocalProvider {
	return &LocalProvider{sessionPath: sessionPath}
}

// SignInAnonymously implements Provider.
func (p *LocalProvider) SignInAnonymously(ctx context.Context) (Identity, oauth2.TokenSource, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, nil, err
	}
	if p.sessionPath != "" {
		rec, err := loadSession(p.sessionPath)
		if err != nil {
			return Identity{}, nil, err
		}
		if rec != nil && rec.Provider == ProviderLocal && rec.UID != "" {
			return Identity{UID: rec.UID, Provider: ProviderLocal}, nil, nil
		}
	}

	id := Identity{UID: uuid.NewString(), Provider: ProviderLocal}
	if p.sessionPath != "" {
		if err := saveSession(p.sessionPath, &sessionRecord{Provider: ProviderLocal, UID: id.UID}); err != nil {
			return Identity{}, nil, err
		}
	}
	return id, nil, nil
}
