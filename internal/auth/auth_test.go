package auth

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gluk-w/termspace/internal/identity"
)

type fakeProcess struct {
	mu     sync.Mutex
	kills  int
	done   chan struct{}
	closed bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kills++
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) killCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills
}

var testIdentity = identity.External{Subject: "abc123", Email: "john.doe@example.com"}

func TestSessionStore_CreateAndGet(t *testing.T) {
	store := NewSessionStore()

	sess, err := store.Create(testIdentity, "u6ca13d52ca70")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(sess.Token) != 64 {
		t.Errorf("expected 64 hex char token, got %d chars", len(sess.Token))
	}
	if sess.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	got, ok := store.Get(sess.Token)
	if !ok {
		t.Fatal("expected session to be found")
	}
	if got.Username != "u6ca13d52ca70" || got.Identity.Subject != "abc123" {
		t.Errorf("unexpected session %+v", got)
	}

	if _, ok := store.Get(""); ok {
		t.Error("empty token must not resolve")
	}
	if _, ok := store.Get("nonexistent"); ok {
		t.Error("unknown token must not resolve")
	}
}

func TestSessionStore_TokensAreUnique(t *testing.T) {
	store := NewSessionStore()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		sess, err := store.Create(testIdentity, "claude")
		if err != nil {
			t.Fatal(err)
		}
		if seen[sess.Token] {
			t.Fatalf("duplicate token %s", sess.Token)
		}
		seen[sess.Token] = true
	}
}

func TestSessionStore_LazyExpiry(t *testing.T) {
	store := NewSessionStore()
	now := time.Now()
	store.sessions.now = func() time.Time { return now }

	sess, err := store.Create(testIdentity, "claude")
	if err != nil {
		t.Fatal(err)
	}

	now = now.Add(SessionDuration)
	if _, ok := store.Get(sess.Token); !ok {
		t.Error("session exactly 24h old should still be valid")
	}

	now = now.Add(time.Second)
	if _, ok := store.Get(sess.Token); ok {
		t.Error("session older than 24h must be treated as not found")
	}
	if store.Len() != 1 {
		t.Errorf("expected expired entry to remain until cleanup, len=%d", store.Len())
	}
}

func TestSessionStore_NoRefreshOnUse(t *testing.T) {
	store := NewSessionStore()
	now := time.Now()
	store.sessions.now = func() time.Time { return now }

	sess, _ := store.Create(testIdentity, "claude")
	for i := 0; i < 24; i++ {
		now = now.Add(time.Hour)
		store.Get(sess.Token)
	}
	now = now.Add(time.Minute)
	if _, ok := store.Get(sess.Token); ok {
		t.Error("repeated access must not extend the session")
	}
}

func TestSessionStore_Cleanup(t *testing.T) {
	store := NewSessionStore()
	now := time.Now()
	store.sessions.now = func() time.Time { return now }

	old, _ := store.Create(testIdentity, "claude")
	proc := newFakeProcess()
	if err := old.Attach(proc); err != nil {
		t.Fatal(err)
	}

	now = now.Add(23 * time.Hour)
	fresh, _ := store.Create(testIdentity, "claude")

	now = now.Add(2 * time.Hour)
	if n := store.Cleanup(); n != 1 {
		t.Errorf("expected 1 evicted session, got %d", n)
	}
	if proc.killCount() != 1 {
		t.Errorf("expected evicted session's process to be killed, kills=%d", proc.killCount())
	}
	if _, ok := store.Get(fresh.Token); !ok {
		t.Error("fresh session should survive cleanup")
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 session left, got %d", store.Len())
	}
}

func TestSessionStore_Delete(t *testing.T) {
	store := NewSessionStore()
	sess, _ := store.Create(testIdentity, "claude")

	if got := store.Delete(sess.Token); got != sess {
		t.Error("expected Delete to return the removed session")
	}
	if _, ok := store.Get(sess.Token); ok {
		t.Error("deleted session must not resolve")
	}
	if got := store.Delete(sess.Token); got != nil {
		t.Error("second Delete should return nil")
	}
}

func TestSessionStore_CloseAll(t *testing.T) {
	store := NewSessionStore()
	var procs []*fakeProcess
	for i := 0; i < 3; i++ {
		sess, _ := store.Create(testIdentity, "claude")
		p := newFakeProcess()
		sess.Attach(p)
		procs = append(procs, p)
	}
	store.CloseAll()
	for i, p := range procs {
		if p.killCount() != 1 {
			t.Errorf("process %d: expected 1 kill, got %d", i, p.killCount())
		}
	}
}

func TestSession_AttachDetach(t *testing.T) {
	sess := &Session{Token: "t", Username: "claude"}

	first := newFakeProcess()
	if err := sess.Attach(first); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if sess.Process() != first {
		t.Error("expected attached process")
	}

	second := newFakeProcess()
	if err := sess.Attach(second); !errors.Is(err, ErrProcessAttached) {
		t.Fatalf("expected ErrProcessAttached, got %v", err)
	}

	// Detaching a process that is not the current one is a no-op.
	sess.Detach(second)
	if sess.Process() != first {
		t.Error("foreign Detach must not clear the current process")
	}

	sess.Detach(first)
	if sess.Process() != nil {
		t.Error("expected no process after Detach")
	}
	if err := sess.Attach(second); err != nil {
		t.Fatalf("Attach after Detach: %v", err)
	}
}

func TestSession_AttachAfterExit(t *testing.T) {
	sess := &Session{}
	first := newFakeProcess()
	sess.Attach(first)
	first.Kill()

	if sess.Process() != nil {
		t.Error("exited process must not be reported as live")
	}
	if err := sess.Attach(newFakeProcess()); err != nil {
		t.Errorf("expected attach to succeed once previous process exited, got %v", err)
	}
}

func TestSession_KillProcess(t *testing.T) {
	sess := &Session{}
	if err := sess.KillProcess(); err != nil {
		t.Errorf("KillProcess without process: %v", err)
	}

	p := newFakeProcess()
	sess.Attach(p)
	if err := sess.KillProcess(); err != nil {
		t.Fatalf("KillProcess: %v", err)
	}
	if p.killCount() != 1 {
		t.Errorf("expected 1 kill, got %d", p.killCount())
	}
	if sess.Process() != nil {
		t.Error("expected process detached after kill")
	}
}

func TestSession_ExpiresAt(t *testing.T) {
	store := NewSessionStoreWithTTL(time.Hour)
	sess, err := store.Create(identity.External{Subject: "abc123"}, "u6ca13d52ca70")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got := sess.ExpiresAt.Sub(sess.CreatedAt); got != time.Hour {
		t.Errorf("expected ExpiresAt one TTL after creation, got %v", got)
	}
	if sess.Expired() {
		t.Error("fresh session reported expired")
	}

	sess.ExpiresAt = time.Now().Add(-time.Second)
	if !sess.Expired() {
		t.Error("expected session past ExpiresAt to be expired")
	}
	if (&Session{}).Expired() {
		t.Error("session without ExpiresAt must not expire")
	}
}
