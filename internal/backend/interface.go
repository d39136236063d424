package backend

import (
	"context"

	"github.com/Tiliavir/trivial-work-log/internal/auth"
	"github.com/Tiliavir/trivial-work-log/internal/remote"
)

// CleanupFunc releases backend resources.
type CleanupFunc func() error

// RunFunc runs a background loop until ctx is done.
type RunFunc func(ctx context.Context) error

// Result is a ready store together with the session that scopes it.
type Result struct {
	Type    Type
	Store   remote.Store
	Session *auth.Session
	// Loops pick up writes made by other processes. Empty for backends that
	// push changes themselves.
	Loops   []RunFunc
	Cleanup CleanupFunc
}

// Type represents the type of backend.
type Type string

const (
	MemoryBackend   Type = "memory"
	FileBackend     Type = "file"
	SQLiteBackend   Type = "sqlite"
	FirebaseBackend Type = "firebase"
)

// String implements fmt.Stringer.
func (t Type) String() string {
	return string(t)
}

// IsValid returns true if the backend type is valid.
func (t Type) IsValid() bool {
	switch t {
	case MemoryBackend, FileBackend, SQLiteBackend, FirebaseBackend:
		return true
	default:
		return false
	}
}

// Local reports whether the store lives on this machine.
func (t Type) Local() bool {
	return t != FirebaseBackend
}
