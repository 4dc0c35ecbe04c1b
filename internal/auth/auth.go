package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gluk-w/termspace/internal/identity"
)

const (
	SessionDuration = 24 * time.Hour
	SessionCookie   = "session"
)

var (
	// ErrAuthRequired means there is no valid session for the request.
	ErrAuthRequired = errors.New("not authenticated")
	// ErrProcessAttached is returned when a session already owns a live process.
	ErrProcessAttached = errors.New("session already has a live terminal process")
)

// Process is a live terminal process owned by a session.
type Process interface {
	// Kill terminates the process. It is safe to call more than once.
	Kill() error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
}

// Session binds a bearer token to a local account and at most one live
// terminal process.
type Session struct {
	Token     string
	Username  string
	Identity  identity.External
	CreatedAt time.Time
	ExpiresAt time.Time

	mu      sync.Mutex
	process Process
}

// Attach hands p to the session. It fails if a previous process is still
// running.
func (s *Session) Attach(p Process) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.process != nil && !exited(s.process) {
		return ErrProcessAttached
	}
	s.process = p
	return nil
}

// Detach releases p if it is the session's current process.
func (s *Session) Detach(p Process) {
	s.mu.Lock()
	if s.process == p {
		s.process = nil
	}
	s.mu.Unlock()
}

// Process returns the live process, or nil.
func (s *Session) Process() Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.process == nil || exited(s.process) {
		return nil
	}
	return s.process
}

// KillProcess terminates and detaches the current process, if any.
func (s *Session) KillProcess() error {
	s.mu.Lock()
	p := s.process
	s.process = nil
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Kill()
}

// Expired reports whether the session is past its lifetime. Sessions built
// outside a store carry no expiry.
func (s *Session) Expired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

func exited(p Process) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}

// Store is the session registry used by HTTP and streaming handlers.
type Store interface {
	Create(ext identity.External, username string) (*Session, error)
	Get(token string) (*Session, bool)
	Delete(token string) *Session
}

// SessionStore keeps sessions in memory. Sessions expire SessionDuration
// after creation and are never extended by use.
type SessionStore struct {
	sessions *expiringStore[*Session]
}

func NewSessionStore() *SessionStore {
	return NewSessionStoreWithTTL(SessionDuration)
}

// NewSessionStoreWithTTL creates a store whose sessions live for ttl.
func NewSessionStoreWithTTL(ttl time.Duration) *SessionStore {
	return &SessionStore{sessions: newExpiringStore[*Session](ttl)}
}

func (s *SessionStore) Create(ext identity.External, username string) (*Session, error) {
	token, err := randomHex(32)
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	sess := &Session{
		Token:    token,
		Username: username,
		Identity: ext,
	}
	sess.CreatedAt = s.sessions.put(token, sess)
	sess.ExpiresAt = sess.CreatedAt.Add(s.sessions.ttl)
	return sess, nil
}

// Get returns the session for token. Expired sessions are reported as
// missing even before Cleanup has removed them.
func (s *SessionStore) Get(token string) (*Session, bool) {
	if token == "" {
		return nil, false
	}
	return s.sessions.get(token)
}

// Delete removes the session and returns it, or nil if it did not exist.
func (s *SessionStore) Delete(token string) *Session {
	sess, _ := s.sessions.delete(token)
	return sess
}

// Cleanup evicts expired sessions, killing any process they still own, and
// returns how many were removed.
func (s *SessionStore) Cleanup() int {
	evicted := s.sessions.cleanup()
	for _, sess := range evicted {
		sess.KillProcess()
	}
	return len(evicted)
}

// Len returns the number of stored sessions, including expired ones not yet
// swept.
func (s *SessionStore) Len() int {
	return s.sessions.len()
}

// CloseAll kills every session's process. Used at shutdown.
func (s *SessionStore) CloseAll() {
	for _, sess := range s.sessions.values() {
		sess.KillProcess()
	}
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
