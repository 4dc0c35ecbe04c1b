package auth

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStateStore_IssueAndConsume(t *testing.T) {
	s := NewStateStore()

	token, state, err := s.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" || state == "" {
		t.Fatal("expected non-empty token and state")
	}
	if err := s.Consume(token, state); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := s.Consume(token, state); !errors.Is(err, ErrInvalidState) {
		t.Errorf("replay: expected ErrInvalidState, got %v", err)
	}
}

func TestStateStore_Mismatch(t *testing.T) {
	s := NewStateStore()
	token, state, _ := s.Issue()

	if err := s.Consume(token, state+"x"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	// A failed attempt burns the handshake.
	if err := s.Consume(token, state); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected handshake to be consumed after mismatch, got %v", err)
	}
}

func TestStateStore_MissingInputs(t *testing.T) {
	s := NewStateStore()
	token, state, _ := s.Issue()

	for _, tc := range []struct{ token, state string }{
		{"", state},
		{token, ""},
		{"unknown", state},
	} {
		if err := s.Consume(tc.token, tc.state); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Consume(%q, %q): expected ErrInvalidState, got %v", tc.token, tc.state, err)
		}
	}
}

func TestStateStore_Expiry(t *testing.T) {
	s := NewStateStore()
	now := time.Now()
	s.states.now = func() time.Time { return now }

	token, state, _ := s.Issue()
	now = now.Add(StateDuration + time.Second)

	if err := s.Consume(token, state); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected expired handshake to be rejected, got %v", err)
	}
}

func TestStateStore_ConcurrentConsume(t *testing.T) {
	s := NewStateStore()
	token, state, _ := s.Issue()

	const callers = 20
	var ok, invalid atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := s.Consume(token, state)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrInvalidState):
				invalid.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if ok.Load() != 1 {
		t.Errorf("expected exactly one successful consume, got %d", ok.Load())
	}
	if invalid.Load() != callers-1 {
		t.Errorf("expected %d ErrInvalidState, got %d", callers-1, invalid.Load())
	}
}

func TestStateStore_Cleanup(t *testing.T) {
	s := NewStateStore()
	now := time.Now()
	s.states.now = func() time.Time { return now }

	s.Issue()
	s.Issue()
	now = now.Add(StateDuration + time.Second)
	s.Issue()

	if n := s.Cleanup(); n != 2 {
		t.Errorf("expected 2 abandoned handshakes removed, got %d", n)
	}
}
