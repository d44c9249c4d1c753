package session

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

type fakeRevoker struct {
	mu       sync.Mutex
	sessions []string
}

func (r *fakeRevoker) RevokeAll(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, sessionID)
	return nil
}

type fakeResetter struct {
	mu   sync.Mutex
	keys []string
}

func (r *fakeResetter) ResetKey(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
}

type fixture struct {
	store    *securestore.Store
	fc       *clock.Fake
	trail    *audit.Log
	revoker  *fakeRevoker
	resetter *fakeResetter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := securestore.New(memory.New(),
		securestore.WithKDFParams(securestore.InteractiveKDFParams()))
	if err := store.Initialize(context.Background(), "u1", "proof"); err != nil {
		t.Fatalf("initializing store: %v", err)
	}

	fc := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return &fixture{
		store:    store,
		fc:       fc,
		trail:    audit.New(store, audit.WithClock(fc)),
		revoker:  &fakeRevoker{},
		resetter: &fakeResetter{},
	}
}

func (f *fixture) newManager(t *testing.T, cfg Config) *Manager {
	t.Helper()

	m := New(f.store, f.trail,
		WithClock(f.fc),
		WithConfig(cfg),
		WithTokenRevoker(f.revoker),
		WithBudgetResetter(f.resetter))
	t.Cleanup(m.Close)
	return m
}

func TestManager_CreateAndStatus(t *testing.T) {
	f := newFixture(t)
	m := f.newManager(t, Config{MaxDuration: time.Hour, InactivityTimeout: 30 * time.Minute})

	rec, err := m.Create(context.Background(), "u1", "proof", "fp-abc")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if rec.SessionID == "" {
		t.Fatal("empty session ID")
	}
	if rec.DeviceFingerprint != "fp-abc" {
		t.Errorf("DeviceFingerprint = %q, want fp-abc", rec.DeviceFingerprint)
	}
	if !m.HasActiveSession() {
		t.Error("HasActiveSession() = false after Create")
	}

	st := m.Status()
	if !st.Active || st.SubjectID != "u1" {
		t.Errorf("Status = %+v, want active for u1", st)
	}
	if st.TimeRemaining != time.Hour {
		t.Errorf("TimeRemaining = %v, want 1h", st.TimeRemaining)
	}
	if st.ExpiringSoon {
		t.Error("a fresh one-hour session is not expiring soon")
	}

	events := f.trail.Query(audit.Filter{Type: audit.EventSessionStarted})
	if len(events) != 1 {
		t.Errorf("session_started events = %d, want 1", len(events))
	}
}

func TestManager_CreateValidation(t *testing.T) {
	f := newFixture(t)
	m := f.newManager(t, Config{})

	if _, err := m.Create(context.Background(), "", "proof", ""); err == nil {
		t.Error("empty subject ID should be rejected")
	}
	if _, err := m.Create(context.Background(), "u1", "", ""); err == nil {
		t.Error("empty proof should be rejected")
	}
}

func TestManager_ExpiryTimer(t *testing.T) {
	f := newFixture(t)
	m := f.newManager(t, Config{MaxDuration: time.Hour, InactivityTimeout: 2 * time.Hour})

	if _, err := m.Create(context.Background(), "u1", "proof", ""); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	f.fc.Advance(59 * time.Minute)
	if !m.HasActiveSession() {
		t.Fatal("session ended before its lifetime elapsed")
	}

	f.fc.Advance(2 * time.Minute)
	if m.HasActiveSession() {
		t.Fatal("session survived its absolute lifetime")
	}

	events := f.trail.Query(audit.Filter{Type: audit.EventSessionExpired})
	if len(events) != 1 {
		t.Errorf("session_expired events = %d, want 1", len(events))
	}
}

func TestManager_InactivityTimer(t *testing.T) {
	f := newFixture(t)
	m := f.newManager(t, Config{MaxDuration: 24 * time.Hour, InactivityTimeout: 30 * time.Minute})

	if _, err := m.Create(context.Background(), "u1", "proof", ""); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	f.fc.Advance(31 * time.Minute)
	if m.HasActiveSession() {
		t.Fatal("session survived the inactivity timeout")
	}

	events := f.trail.Query(audit.Filter{Type: audit.EventSessionInactive})
	if len(events) != 1 {
		t.Errorf("session_inactive events = %d, want 1", len(events))
	}
}

func TestManager_ActivityRearmsInactivity(t *testing.T) {
	f := newFixture(t)
	m := f.newManager(t, Config{MaxDuration: 24 * time.Hour, InactivityTimeout: 30 * time.Minute})

	if _, err := m.Create(context.Background(), "u1", "proof", ""); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	f.fc.Advance(20 * time.Minute)
	if err := m.RecordActivity(context.Background()); err != nil {
		t.Fatalf("RecordActivity() error: %v", err)
	}

	// 40 minutes since creation, but only 20 since last activity.
	f.fc.Advance(20 * time.Minute)
	if !m.HasActiveSession() {
		t.Fatal("session ended despite recent activity")
	}

	f.fc.Advance(11 * time.Minute)
	if m.HasActiveSession() {
		t.Error("session survived a full inactivity window after last activity")
	}
}

func TestManager_ExtensionClampedToMaxDuration(t *testing.T) {
	f := newFixture(t)
	m := f.newManager(t, Config{
		MaxDuration:       time.Hour,
		InactivityTimeout: 2 * time.Hour,
		ExtendOnActivity:  true,
	})

	rec, err := m.Create(context.Background(), "u1", "proof", "")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	ceiling := rec.StartedAt.Add(time.Hour)

	f.fc.Advance(30 * time.Minute)
	if err := m.RecordActivity(context.Background()); err != nil {
		t.Fatalf("RecordActivity() error: %v", err)
	}

	current, ok := m.Current()
	if !ok {
		t.Fatal("no current session")
	}
	if !current.ExpiresAt.Equal(ceiling) {
		t.Errorf("ExpiresAt = %v, want clamped to %v", current.ExpiresAt, ceiling)
	}
}

func TestManager_EndCascades(t *testing.T) {
	f := newFixture(t)
	m := f.newManager(t, Config{})

	rec, err := m.Create(context.Background(), "u1", "proof", "")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if err := m.End(context.Background()); err != nil {
		t.Fatalf("End() error: %v", err)
	}
	if m.HasActiveSession() {
		t.Error("session still active after End")
	}

	if len(f.revoker.sessions) != 1 || f.revoker.sessions[0] != rec.SessionID {
		t.Errorf("revoked sessions = %v, want [%s]", f.revoker.sessions, rec.SessionID)
	}
	if len(f.resetter.keys) != 1 || f.resetter.keys[0] != "u1" {
		t.Errorf("reset keys = %v, want [u1]", f.resetter.keys)
	}

	// The persisted record is gone; a restore finds nothing.
	restored, err := m.Restore(context.Background(), "proof")
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if restored {
		t.Error("Restore() = true after End")
	}

	if err := m.End(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("second End() error = %v, want ErrNoSession", err)
	}
}

func TestManager_RestoreAcrossRestart(t *testing.T) {
	f := newFixture(t)
	m1 := f.newManager(t, Config{MaxDuration: time.Hour, InactivityTimeout: time.Hour})

	rec, err := m1.Create(context.Background(), "u1", "proof", "")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	m1.Close()

	m2 := f.newManager(t, Config{MaxDuration: time.Hour, InactivityTimeout: time.Hour})
	restored, err := m2.Restore(context.Background(), "proof")
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if !restored {
		t.Fatal("Restore() = false for a live record and matching proof")
	}

	current, ok := m2.Current()
	if !ok || current.SessionID != rec.SessionID {
		t.Errorf("restored session ID = %q, want %q", current.SessionID, rec.SessionID)
	}

	events := f.trail.Query(audit.Filter{Type: audit.EventSessionRestored})
	if len(events) != 1 {
		t.Errorf("session_restored events = %d, want 1", len(events))
	}
}

func TestManager_RestoreRejectsWrongProof(t *testing.T) {
	f := newFixture(t)
	m1 := f.newManager(t, Config{})

	if _, err := m1.Create(context.Background(), "u1", "proof", ""); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	m1.Close()

	m2 := f.newManager(t, Config{})
	restored, err := m2.Restore(context.Background(), "stolen-proof")
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if restored {
		t.Fatal("Restore() = true with the wrong proof")
	}

	events := f.trail.Query(audit.Filter{Type: audit.EventAuthFailure})
	if len(events) != 1 {
		t.Fatalf("auth_failure events = %d, want 1", len(events))
	}

	// The stale record was discarded, so even the right proof finds nothing.
	restored, err = m2.Restore(context.Background(), "proof")
	if err != nil {
		t.Fatalf("second Restore() error: %v", err)
	}
	if restored {
		t.Error("Restore() = true after the record was discarded")
	}
}

func TestManager_RestorePurgesRecordAfterProofRotation(t *testing.T) {
	f := newFixture(t)
	m1 := f.newManager(t, Config{MaxDuration: time.Hour, InactivityTimeout: time.Hour})

	if _, err := m1.Create(context.Background(), "u1", "proof", ""); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	m1.Close()

	// A rotated proof derives a different key, so the persisted record no
	// longer decrypts. Restore must treat that as no session, not fail.
	if err := f.store.Initialize(context.Background(), "u1", "rotated-proof"); err != nil {
		t.Fatalf("re-initializing store: %v", err)
	}

	m2 := f.newManager(t, Config{MaxDuration: time.Hour, InactivityTimeout: time.Hour})
	restored, err := m2.Restore(context.Background(), "rotated-proof")
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if restored {
		t.Fatal("Restore() = true for an undecryptable record")
	}

	// The stale ciphertext was purged, so a fresh session can be created
	// and restored under the new proof.
	if _, err := m2.Create(context.Background(), "u1", "rotated-proof", ""); err != nil {
		t.Fatalf("Create() after purge error: %v", err)
	}
	m2.Close()

	m3 := f.newManager(t, Config{MaxDuration: time.Hour, InactivityTimeout: time.Hour})
	restored, err = m3.Restore(context.Background(), "rotated-proof")
	if err != nil {
		t.Fatalf("second Restore() error: %v", err)
	}
	if !restored {
		t.Error("Restore() = false for a record written under the new proof")
	}
}

func TestManager_RestoreRejectsExpired(t *testing.T) {
	f := newFixture(t)
	m1 := f.newManager(t, Config{MaxDuration: time.Hour, InactivityTimeout: 2 * time.Hour})

	if _, err := m1.Create(context.Background(), "u1", "proof", ""); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	m1.Close()

	f.fc.Advance(2 * time.Hour)

	m2 := f.newManager(t, Config{MaxDuration: time.Hour, InactivityTimeout: 2 * time.Hour})
	restored, err := m2.Restore(context.Background(), "proof")
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if restored {
		t.Error("Restore() = true for an expired record")
	}
}

func TestManager_RestoreToleratesSkew(t *testing.T) {
	f := newFixture(t)
	cfg := Config{MaxDuration: time.Hour, InactivityTimeout: 2 * time.Hour, SkewGrace: 2 * time.Minute}
	m1 := f.newManager(t, cfg)

	if _, err := m1.Create(context.Background(), "u1", "proof", ""); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	m1.Close()

	// One minute past expiry is within the skew grace.
	f.fc.Advance(61 * time.Minute)

	m2 := f.newManager(t, cfg)
	restored, err := m2.Restore(context.Background(), "proof")
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if !restored {
		t.Error("Restore() = false within the skew grace window")
	}
}

func TestManager_CreateReplacesExisting(t *testing.T) {
	f := newFixture(t)
	m := f.newManager(t, Config{})

	first, err := m.Create(context.Background(), "u1", "proof", "")
	if err != nil {
		t.Fatalf("first Create() error: %v", err)
	}
	second, err := m.Create(context.Background(), "u1", "proof", "")
	if err != nil {
		t.Fatalf("second Create() error: %v", err)
	}
	if first.SessionID == second.SessionID {
		t.Error("replacement session reused the old ID")
	}

	// The first session's tokens were revoked during replacement.
	if len(f.revoker.sessions) != 1 || f.revoker.sessions[0] != first.SessionID {
		t.Errorf("revoked sessions = %v, want [%s]", f.revoker.sessions, first.SessionID)
	}

	current, _ := m.Current()
	if current.SessionID != second.SessionID {
		t.Errorf("current session = %q, want %q", current.SessionID, second.SessionID)
	}
}

func TestManager_ExpiringSoon(t *testing.T) {
	f := newFixture(t)
	m := f.newManager(t, Config{MaxDuration: time.Hour, InactivityTimeout: 2 * time.Hour, ExtendOnActivity: false})

	if _, err := m.Create(context.Background(), "u1", "proof", ""); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	f.fc.Advance(56 * time.Minute)
	if st := m.Status(); !st.ExpiringSoon {
		t.Errorf("Status = %+v, want ExpiringSoon with 4 minutes left", st)
	}
}

func TestManager_InactiveSoon(t *testing.T) {
	f := newFixture(t)
	m := f.newManager(t, Config{MaxDuration: 24 * time.Hour, InactivityTimeout: 2 * time.Hour})

	if _, err := m.Create(context.Background(), "u1", "proof", ""); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	f.fc.Advance(time.Hour)
	st := m.Status()
	if st.InactiveSoon {
		t.Errorf("Status = %+v, InactiveSoon with an hour of allowance left", st)
	}
	if st.InactivityRemaining != time.Hour {
		t.Errorf("InactivityRemaining = %v, want 1h", st.InactivityRemaining)
	}

	// The flag flips while the session is still active, before the
	// inactivity timer fires at the two-hour mark.
	f.fc.Advance(56 * time.Minute)
	st = m.Status()
	if !st.Active {
		t.Fatal("session ended before its inactivity timeout")
	}
	if !st.InactiveSoon {
		t.Errorf("Status = %+v, want InactiveSoon with 4 minutes of allowance left", st)
	}

	f.fc.Advance(4 * time.Minute)
	if m.HasActiveSession() {
		t.Error("session survived the inactivity timeout")
	}
}
