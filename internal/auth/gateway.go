package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/gluk-w/termspace/internal/identity"
)

var (
	// ErrOAuthNotConfigured is returned when no provider is available yet.
	ErrOAuthNotConfigured = errors.New("oauth not configured")
	// ErrProvider wraps failures talking to the identity provider.
	ErrProvider = errors.New("identity provider error")
)

// BypassUsername is the local account used when OAuth is disabled.
const BypassUsername = "claude"

// BypassIdentity is the fixed identity for single-tenant mode without OAuth.
var BypassIdentity = identity.External{
	Subject: "local-user",
	Name:    "Local User",
	Email:   "user@localhost",
}

// Provider is the OIDC collaborator used by the Gateway.
type Provider interface {
	// AuthCodeURL returns the provider authorization URL carrying state.
	AuthCodeURL(state string) string
	// Exchange trades an authorization code for the verified identity.
	Exchange(ctx context.Context, code string) (*identity.External, error)
}

// Gateway drives the OAuth authorization-code handshake.
//
//	START -> REDIRECTED(state) -> CALLBACK_RECEIVED -> VERIFIED -> IDENTITY_RESOLVED
//	                                                \-> FAILED
type Gateway struct {
	states *StateStore

	mu       sync.RWMutex
	provider Provider
}

// NewGateway creates a Gateway. provider may be nil and set later with
// SetProvider once discovery has completed.
func NewGateway(states *StateStore, provider Provider) *Gateway {
	return &Gateway{states: states, provider: provider}
}

// SetProvider installs the provider after asynchronous initialisation.
func (g *Gateway) SetProvider(p Provider) {
	g.mu.Lock()
	g.provider = p
	g.mu.Unlock()
}

func (g *Gateway) getProvider() Provider {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.provider
}

// Ready reports whether a provider is installed.
func (g *Gateway) Ready() bool {
	return g.getProvider() != nil
}

// Begin starts a handshake. The returned token must be stored client side
// (cookie) and presented again on the callback.
func (g *Gateway) Begin() (stateToken, authURL string, err error) {
	p := g.getProvider()
	if p == nil {
		return "", "", ErrOAuthNotConfigured
	}
	stateToken, state, err := g.states.Issue()
	if err != nil {
		return "", "", err
	}
	return stateToken, p.AuthCodeURL(state), nil
}

// Complete verifies the callback and resolves the caller's identity. The
// state check happens before any network traffic, and the pending handshake
// is consumed so a replayed callback fails with ErrInvalidState.
func (g *Gateway) Complete(ctx context.Context, stateToken, state, code string) (*identity.External, error) {
	p := g.getProvider()
	if p == nil {
		return nil, ErrOAuthNotConfigured
	}
	if err := g.states.Consume(stateToken, state); err != nil {
		return nil, err
	}
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrProvider)
	}

	ext, err := p.Exchange(ctx, code)
	if err != nil {
		log.Printf("[auth] code exchange failed: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	if ext == nil || ext.Subject == "" {
		return nil, fmt.Errorf("%w: identity has no subject", ErrProvider)
	}
	return ext, nil
}
