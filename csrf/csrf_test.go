package csrf

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/manglanigaurav01-jpg/trustgate/audit"
	"github.com/manglanigaurav01-jpg/trustgate/internal/clock"
	"github.com/manglanigaurav01-jpg/trustgate/securestore"
	"github.com/manglanigaurav01-jpg/trustgate/storage/memory"
)

func newTestGuard(t *testing.T, opts ...Option) (*Guard, *clock.Fake, *audit.Log) {
	t.Helper()

	store := securestore.New(memory.New(),
		securestore.WithKDFParams(securestore.InteractiveKDFParams()))
	if err := store.Initialize(context.Background(), "u1", "proof"); err != nil {
		t.Fatalf("initializing store: %v", err)
	}

	fc := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	trail := audit.New(store, audit.WithClock(fc))
	g := New(store, trail, append([]Option{WithClock(fc)}, opts...)...)
	return g, fc, trail
}

func TestGuard_IssueAndValidate(t *testing.T) {
	g, _, _ := newTestGuard(t)
	ctx := context.Background()

	token, err := g.Issue(ctx, "s1")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if token == "" {
		t.Fatal("Issue() returned empty token")
	}

	if err := g.Validate(ctx, "s1", "POST", token, ""); err != nil {
		t.Errorf("first Validate() error: %v", err)
	}

	// Tokens are single-use.
	if err := g.Validate(ctx, "s1", "POST", token, ""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("second Validate() error = %v, want ErrInvalidToken", err)
	}
}

func TestGuard_SafeMethodsBypass(t *testing.T) {
	g, _, _ := newTestGuard(t)
	ctx := context.Background()

	for _, method := range []string{"GET", "HEAD", "OPTIONS", "get"} {
		if err := g.Validate(ctx, "s1", method, "", ""); err != nil {
			t.Errorf("Validate(%s) error = %v, want nil", method, err)
		}
	}
}

func TestGuard_MissingToken(t *testing.T) {
	g, _, trail := newTestGuard(t)

	err := g.Validate(context.Background(), "s1", "POST", "", "")
	if !errors.Is(err, ErrMissingToken) {
		t.Fatalf("error = %v, want ErrMissingToken", err)
	}

	events := trail.Query(audit.Filter{Type: audit.EventCSRFValidationFailed})
	if len(events) != 1 {
		t.Errorf("audit events = %d, want 1", len(events))
	}
}

func TestGuard_HeaderBodyMismatch(t *testing.T) {
	g, _, _ := newTestGuard(t)
	ctx := context.Background()

	token, err := g.Issue(ctx, "s1")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if err := g.Validate(ctx, "s1", "POST", token, "different"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("mismatched copies: error = %v, want ErrInvalidToken", err)
	}

	// The mismatch must not have consumed the stored token.
	if err := g.Validate(ctx, "s1", "POST", "", token); err != nil {
		t.Errorf("body-channel Validate() error: %v", err)
	}
}

func TestGuard_ExpiredToken(t *testing.T) {
	g, fc, _ := newTestGuard(t, WithConfig(Config{TTL: time.Minute}))
	ctx := context.Background()

	token, err := g.Issue(ctx, "s1")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	fc.Advance(2 * time.Minute)
	if err := g.Validate(ctx, "s1", "POST", token, ""); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("error = %v, want ErrExpiredToken", err)
	}

	// The expired record was purged, so a retry is invalid, not expired.
	if err := g.Validate(ctx, "s1", "POST", token, ""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("retry error = %v, want ErrInvalidToken", err)
	}
}

func TestGuard_WrongSession(t *testing.T) {
	g, _, _ := newTestGuard(t)
	ctx := context.Background()

	token, err := g.Issue(ctx, "s1")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if err := g.Validate(ctx, "s2", "POST", token, ""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("cross-session Validate() error = %v, want ErrInvalidToken", err)
	}
}

func TestGuard_Refresh(t *testing.T) {
	g, _, _ := newTestGuard(t)
	ctx := context.Background()

	old, err := g.Issue(ctx, "s1")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	fresh, err := g.Refresh(ctx, "s1")
	if err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	if fresh == old {
		t.Error("Refresh() returned the old token")
	}

	// The rotation revoked every prior token for the session.
	if err := g.Validate(ctx, "s1", "POST", old, ""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("old token after refresh: error = %v, want ErrInvalidToken", err)
	}
	if err := g.Validate(ctx, "s1", "POST", fresh, ""); err != nil {
		t.Errorf("fresh token Validate() error: %v", err)
	}
}

func TestGuard_RevokeAll(t *testing.T) {
	g, _, trail := newTestGuard(t)
	ctx := context.Background()

	t1, _ := g.Issue(ctx, "s1")
	t2, _ := g.Issue(ctx, "s1")
	other, _ := g.Issue(ctx, "s2")

	if err := g.RevokeAll(ctx, "s1"); err != nil {
		t.Fatalf("RevokeAll() error: %v", err)
	}

	for _, token := range []string{t1, t2} {
		if err := g.Validate(ctx, "s1", "POST", token, ""); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("revoked token: error = %v, want ErrInvalidToken", err)
		}
	}
	if err := g.Validate(ctx, "s2", "POST", other, ""); err != nil {
		t.Errorf("other session's token: error = %v, want nil", err)
	}

	events := trail.Query(audit.Filter{Type: audit.EventCSRFTokensRevoked})
	if len(events) != 1 {
		t.Errorf("revocation audit events = %d, want 1", len(events))
	}
}

type fakeJar struct {
	mu      sync.Mutex
	cookies map[string]string
}

func newFakeJar() *fakeJar {
	return &fakeJar{cookies: make(map[string]string)}
}

func (j *fakeJar) SetCookie(name, value string, _ time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cookies[name] = value
}

func (j *fakeJar) Cookie(name string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	v, ok := j.cookies[name]
	return v, ok
}

func (j *fakeJar) ClearCookie(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.cookies, name)
}

func TestGuard_CookieJar(t *testing.T) {
	jar := newFakeJar()
	g, _, _ := newTestGuard(t, WithCookieJar(jar))
	ctx := context.Background()

	token, err := g.Issue(ctx, "s1")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if v, ok := jar.Cookie(DefaultCookieName); !ok || v != token {
		t.Errorf("cookie = (%q, %v), want the issued token", v, ok)
	}

	if err := g.RevokeAll(ctx, "s1"); err != nil {
		t.Fatalf("RevokeAll() error: %v", err)
	}
	if _, ok := jar.Cookie(DefaultCookieName); ok {
		t.Error("cookie should be cleared after RevokeAll")
	}
}

func TestGuard_ConcurrentValidateSingleWinner(t *testing.T) {
	g, _, _ := newTestGuard(t)
	ctx := context.Background()

	token, err := g.Issue(ctx, "s1")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	const attempts = 8
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- g.Validate(ctx, "s1", "POST", token, "")
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrInvalidToken) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("successful validations = %d, want exactly 1", succeeded)
	}
}

func TestGuard_Stats(t *testing.T) {
	g, _, _ := newTestGuard(t)
	ctx := context.Background()

	token, _ := g.Issue(ctx, "s1")
	_ = g.Validate(ctx, "s1", "POST", token, "")
	_ = g.Validate(ctx, "s1", "POST", token, "")

	s := g.Stats()
	if s.Issued != 1 || s.Validated != 1 || s.Rejected != 1 {
		t.Errorf("Stats = %+v, want {Issued:1 Validated:1 Rejected:1}", s)
	}
}
