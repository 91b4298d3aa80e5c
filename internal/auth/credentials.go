package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"qxGateway/internal/domain"
	"qxGateway/internal/ports"
)

// PromptedCredentials asks a human for the account the first time it is
// needed and remembers the answer for the life of the process.
type PromptedCredentials struct {
	prompter ports.CodeProvider

	mu    sync.Mutex
	creds domain.Credentials
}

// NewPromptedCredentials asks through prompter, typically the terminal code provider.
func NewPromptedCredentials(prompter ports.CodeProvider) *PromptedCredentials {
	return &PromptedCredentials{prompter: prompter}
}

// Credentials returns the remembered pair, prompting when there is none yet.
func (p *PromptedCredentials) Credentials(ctx context.Context) (domain.Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.creds.IsZero() {
		return p.creds, nil
	}

	email, err := p.prompter.RequestCode(ctx, "Email: ")
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("%w: read email: %w", ports.ErrConfigurationError, err)
	}
	password, err := p.prompter.RequestCode(ctx, "Password: ")
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("%w: read password: %w", ports.ErrConfigurationError, err)
	}
	creds := domain.Credentials{Email: strings.TrimSpace(email), Password: strings.TrimSpace(password)}
	if creds.IsZero() {
		return domain.Credentials{}, fmt.Errorf("%w: upstream email and password are not set", ports.ErrConfigurationError)
	}
	p.creds = creds
	return creds, nil
}

var _ ports.CredentialSource = (*PromptedCredentials)(nil)
