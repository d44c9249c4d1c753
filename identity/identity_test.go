package identity

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/oauth2"
)

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider("u1", "proof-token")

	creds, err := p.Credentials(context.Background())
	if err != nil {
		t.Fatalf("Credentials() error: %v", err)
	}
	if creds.SubjectID != "u1" {
		t.Errorf("SubjectID = %q, want u1", creds.SubjectID)
	}
	if creds.Proof() != "proof-token" {
		t.Errorf("Proof() = %q, want proof-token", creds.Proof())
	}

	refreshed, err := p.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	if refreshed.Proof() != creds.Proof() {
		t.Error("static provider should return the same proof on refresh")
	}
}

func TestStaticProvider_Empty(t *testing.T) {
	p := NewStaticProvider("", "")
	if _, err := p.Credentials(context.Background()); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("error = %v, want ErrNoCredentials", err)
	}
}

func TestTokenSourceProvider(t *testing.T) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "at-1"})

	p, err := NewTokenSourceProvider("u1", src)
	if err != nil {
		t.Fatalf("NewTokenSourceProvider() error: %v", err)
	}

	creds, err := p.Credentials(context.Background())
	if err != nil {
		t.Fatalf("Credentials() error: %v", err)
	}
	if creds.Proof() != "at-1" {
		t.Errorf("Proof() = %q, want at-1", creds.Proof())
	}
	if !creds.Valid() {
		t.Error("credentials from a static source should be valid")
	}
}

func TestNewTokenSourceProvider_Validation(t *testing.T) {
	if _, err := NewTokenSourceProvider("", oauth2.StaticTokenSource(&oauth2.Token{})); err == nil {
		t.Error("empty subject ID should be rejected")
	}
	if _, err := NewTokenSourceProvider("u1", nil); err == nil {
		t.Error("nil token source should be rejected")
	}
}

func TestCredentials_ProofWithNilToken(t *testing.T) {
	c := Credentials{SubjectID: "u1"}
	if c.Proof() != "" {
		t.Error("nil token should yield an empty proof")
	}
	if c.Valid() {
		t.Error("credentials without a token must not be valid")
	}
}
