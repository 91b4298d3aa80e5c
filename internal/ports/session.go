package ports

import (
	"context"

	"qxGateway/internal/domain"
)

// SessionStore persists the single upstream session record.
type SessionStore interface {
	// Save overwrites the record in full.
	Save(ctx context.Context, sess *domain.Session) error
	// Load returns nil, nil when no usable record exists.
	Load(ctx context.Context) (*domain.Session, error)
	// Invalidate removes the record so the next Load returns nil.
	Invalidate(ctx context.Context) error
}

// Authenticator runs the upstream web login and returns a fresh session.
type Authenticator interface {
	Login(ctx context.Context, creds domain.Credentials) (*domain.Session, error)
}

// CredentialSource resolves the account used for login. Resolution happens
// lazily, the first time a login is needed.
type CredentialSource interface {
	Credentials(ctx context.Context) (domain.Credentials, error)
}

// CodeProvider solicits a two-factor code from a human.
// RequestCode blocks until a code arrives, the provider is aborted, or ctx ends.
type CodeProvider interface {
	RequestCode(ctx context.Context, prompt string) (string, error)
}

// StateObserver is notified of connection state transitions.
type StateObserver interface {
	ObserveState(state domain.ConnState)
}
