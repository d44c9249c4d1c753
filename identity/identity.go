// Package identity abstracts where the subject identifier and identity
// proof come from. The gateway never mints credentials itself; it consumes
// them from a Provider, typically backed by an OAuth2 token source whose
// access token doubles as the key-derivation proof.
package identity

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// ErrNoCredentials is returned when a provider has nothing to hand out,
// for example before the user has completed authentication.
var ErrNoCredentials = errors.New("identity: no credentials available")

// Credentials binds a stable subject identifier to its current proof
// token. The access token is the secret the secure store derives key
// material from, so it must never be logged.
type Credentials struct {
	SubjectID string
	Token     *oauth2.Token
}

// Proof returns the secret string used for key derivation.
func (c Credentials) Proof() string {
	if c.Token == nil {
		return ""
	}
	return c.Token.AccessToken
}

// Valid reports whether the credentials carry a usable proof.
func (c Credentials) Valid() bool {
	return c.SubjectID != "" && c.Token != nil && c.Token.Valid()
}

// Provider supplies the gateway with subject credentials.
type Provider interface {
	// Credentials returns the current credentials.
	Credentials(ctx context.Context) (Credentials, error)

	// Refresh obtains fresh credentials, exchanging a refresh token where
	// the underlying source supports it.
	Refresh(ctx context.Context) (Credentials, error)
}

// TokenSourceProvider adapts an oauth2.TokenSource to the Provider
// interface. Refresh delegates to the source, which transparently renews
// expired tokens.
type TokenSourceProvider struct {
	subjectID string
	source    oauth2.TokenSource
}

// NewTokenSourceProvider wires a token source to a fixed subject ID.
func NewTokenSourceProvider(subjectID string, source oauth2.TokenSource) (*TokenSourceProvider, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("identity: subject ID must not be empty")
	}
	if source == nil {
		return nil, fmt.Errorf("identity: token source must not be nil")
	}
	return &TokenSourceProvider{subjectID: subjectID, source: source}, nil
}

// Credentials returns the source's current token bound to the subject.
func (p *TokenSourceProvider) Credentials(_ context.Context) (Credentials, error) {
	token, err := p.source.Token()
	if err != nil {
		return Credentials{}, fmt.Errorf("identity: fetching token: %w", err)
	}
	return Credentials{SubjectID: p.subjectID, Token: token}, nil
}

// Refresh re-reads the source. oauth2 token sources renew on read, so a
// refresh is just another fetch.
func (p *TokenSourceProvider) Refresh(ctx context.Context) (Credentials, error) {
	return p.Credentials(ctx)
}

// StaticProvider hands out one fixed set of credentials. Intended for
// tests and single-tenant embedding where the proof is provisioned out of
// band.
type StaticProvider struct {
	creds Credentials
}

// NewStaticProvider builds a provider around a subject ID and a raw proof
// string.
func NewStaticProvider(subjectID, proof string) *StaticProvider {
	return &StaticProvider{creds: Credentials{
		SubjectID: subjectID,
		Token:     &oauth2.Token{AccessToken: proof},
	}}
}

// Credentials returns the fixed credentials.
func (p *StaticProvider) Credentials(_ context.Context) (Credentials, error) {
	if p.creds.SubjectID == "" || p.creds.Proof() == "" {
		return Credentials{}, ErrNoCredentials
	}
	return p.creds, nil
}

// Refresh returns the same fixed credentials.
func (p *StaticProvider) Refresh(ctx context.Context) (Credentials, error) {
	return p.Credentials(ctx)
}
