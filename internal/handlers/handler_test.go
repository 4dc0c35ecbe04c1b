package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gluk-w/termspace/internal/auth"
	"github.com/gluk-w/termspace/internal/database"
	"github.com/gluk-w/termspace/internal/identity"
)

type fakeProvider struct {
	ext       *identity.External
	err       error
	exchanges atomic.Int32
}

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://idp.example.com/authorize?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(_ context.Context, code string) (*identity.External, error) {
	p.exchanges.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	ext := *p.ext
	return &ext, nil
}

type fakeEnsurer struct {
	mu    sync.Mutex
	calls map[string]*identity.External
	err   error
}

func (f *fakeEnsurer) Ensure(_ context.Context, username string, ext *identity.External) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]*identity.External)
	}
	f.calls[username] = ext
	return f.err
}

type loginRecord struct {
	username, subject, email, displayName string
}

type recorder struct {
	mu     sync.Mutex
	logins []loginRecord
}

func (r *recorder) record(username, subject, email, displayName string, at time.Time) (*database.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logins = append(r.logins, loginRecord{username, subject, email, displayName})
	return &database.Account{Username: username, Subject: subject, LastLoginAt: at}, nil
}

type testEnv struct {
	h        *Handler
	sessions *auth.SessionStore
	provider *fakeProvider
	ensurer  *fakeEnsurer
	recorder *recorder
}

// newTestEnv builds a Handler with OAuth enabled and a ready fake provider.
func newTestEnv(t *testing.T, oidcEnabled bool) *testEnv {
	t.Helper()
	sessions := auth.NewSessionStore()
	provider := &fakeProvider{ext: &identity.External{Subject: "abc123", Name: "Jane Roe", Email: "jane.roe@example.com"}}
	ensurer := &fakeEnsurer{}
	rec := &recorder{}

	var gw *auth.Gateway
	if oidcEnabled {
		gw = auth.NewGateway(auth.NewStateStore(), provider)
	}

	h := &Handler{
		Sessions:    sessions,
		Gateway:     gw,
		Provisioner: ensurer,
		RecordLogin: rec.record,
		OIDCEnabled: oidcEnabled,
	}
	t.Cleanup(sessions.CloseAll)
	return &testEnv{h: h, sessions: sessions, provider: provider, ensurer: ensurer, recorder: rec}
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

var errBoom = errors.New("boom")
