package handlers

import (
	"context"
	"time"

	"github.com/gluk-w/termspace/internal/auth"
	"github.com/gluk-w/termspace/internal/database"
	"github.com/gluk-w/termspace/internal/identity"
	"github.com/gluk-w/termspace/internal/terminal"
)

// AccountEnsurer provisions the local account for an identity.
type AccountEnsurer interface {
	Ensure(ctx context.Context, username string, ext *identity.External) error
}

// LoginRecorder persists an account row on successful login.
type LoginRecorder func(username, subject, email, displayName string, at time.Time) (*database.Account, error)

// Handler holds the dependencies shared by the HTTP endpoints. It is built
// once in main.
type Handler struct {
	Sessions    auth.Store
	Gateway     *auth.Gateway
	Provisioner AccountEnsurer
	Bridge      *terminal.Bridge

	// RecordLogin is optional; nil disables the account registry.
	RecordLogin LoginRecorder
	// CountAccounts reports registry size in diagnostics. Optional.
	CountAccounts func() (int64, error)

	OIDCEnabled bool
	ToolPath    string
	ToolBinDir  string
}
