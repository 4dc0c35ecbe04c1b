package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	StateDuration = 10 * time.Minute
	StateCookie   = "oauth_state"
)

// ErrInvalidState means the OAuth callback could not be correlated with a
// pending login.
var ErrInvalidState = errors.New("invalid oauth state")

// StateStore holds pending OAuth handshakes. Each entry is keyed by an
// ephemeral token kept in a cookie and can be consumed exactly once.
type StateStore struct {
	states *expiringStore[string]
}

func NewStateStore() *StateStore {
	return &StateStore{states: newExpiringStore[string](StateDuration)}
}

// Issue creates a new pending handshake and returns its cookie token and the
// state value to send to the provider.
func (s *StateStore) Issue() (token, state string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate state: %w", err)
	}
	state = base64.RawURLEncoding.EncodeToString(b)
	token = uuid.NewString()
	s.states.put(token, state)
	return token, state, nil
}

// Consume removes the handshake for token and checks that state matches it.
// The entry is gone afterwards whatever the outcome.
func (s *StateStore) Consume(token, state string) error {
	if token == "" || state == "" {
		return ErrInvalidState
	}
	want, ok := s.states.take(token)
	if !ok {
		return ErrInvalidState
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(state)) != 1 {
		return ErrInvalidState
	}
	return nil
}

// Cleanup drops abandoned handshakes.
func (s *StateStore) Cleanup() int {
	return len(s.states.cleanup())
}
