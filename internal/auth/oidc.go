package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/gluk-w/termspace/internal/identity"
)

// OIDCConfig configures the upstream identity provider.
type OIDCConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
}

// Validate checks that all required fields are set.
func (c *OIDCConfig) Validate() error {
	switch {
	case c.Issuer == "":
		return errors.New("issuer is required")
	case c.ClientID == "":
		return errors.New("client ID is required")
	case c.ClientSecret == "":
		return errors.New("client secret is required")
	case c.RedirectURI == "":
		return errors.New("redirect URI is required")
	}
	return nil
}

// OIDCProvider implements Provider against a discoverable OIDC issuer.
type OIDCProvider struct {
	provider   *oidc.Provider
	oauth2     *oauth2.Config
	verifier   *oidc.IDTokenVerifier
	httpClient *http.Client
}

// NewOIDCProvider performs discovery against cfg.Issuer.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid oidc config: %w", err)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover oidc endpoints: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}

	p := &OIDCProvider{
		provider: provider,
		oauth2: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
		verifier:   provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		httpClient: httpClient,
	}
	log.Printf("[auth] OIDC provider initialized (issuer=%s)", cfg.Issuer)
	return p, nil
}

func (p *OIDCProvider) AuthCodeURL(state string) string {
	return p.oauth2.AuthCodeURL(state)
}

// Exchange redeems code, verifies the ID token and merges the userinfo
// claims into the returned identity.
func (p *OIDCProvider) Exchange(ctx context.Context, code string) (*identity.External, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.oauth2.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("token response has no id_token")
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}

	var claims struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse id token claims: %w", err)
	}
	ext := &identity.External{
		Subject: idToken.Subject,
		Name:    claims.Name,
		Email:   claims.Email,
	}

	info, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	if info.Subject != idToken.Subject {
		return nil, fmt.Errorf("userinfo subject %q does not match id token", info.Subject)
	}
	var profile struct {
		Name string `json:"name"`
	}
	if err := info.Claims(&profile); err == nil && profile.Name != "" {
		ext.Name = profile.Name
	}
	if info.Email != "" {
		ext.Email = info.Email
	}
	return ext, nil
}
