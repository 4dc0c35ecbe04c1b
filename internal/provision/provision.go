package provision

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gluk-w/termspace/internal/identity"
	"github.com/gluk-w/termspace/internal/logutil"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrProvisionFatal means the account cannot be used.
	ErrProvisionFatal = errors.New("provisioning failed")
	// ErrProvisionDegraded marks a non-critical step that failed.
	ErrProvisionDegraded = errors.New("provisioning degraded")
)

const (
	credentialsDirName = ".ssh"
	toolDirName        = ".claude"
	toolConfigName     = "mcp-config.json"

	homePerm    os.FileMode = 0755
	privatePerm os.FileMode = 0700

	provisionTimeout = 2 * time.Minute
)

// usernamePattern is the portable useradd name format. Anything else is
// refused before it reaches the OS.
var usernamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)

// Backend performs the OS-level operations needed to provision an account.
// Every method must be safe to call when the target already exists.
type Backend interface {
	AccountExists(ctx context.Context, username string) (bool, error)
	CreateAccount(ctx context.Context, username, home, shell string) error
	EnsureDir(ctx context.Context, path string, perm os.FileMode) error
	CopyFile(ctx context.Context, src, dst string) error
	// Chown recursively hands path over to username.
	Chown(ctx context.Context, path, username string) error
	Chmod(ctx context.Context, path string, perm os.FileMode) error
	ConfigureGit(ctx context.Context, username, home string, settings []GitSetting) error
}

// GitSetting is a single global git config key/value pair.
type GitSetting struct {
	Key   string
	Value string
}

// Options configures where accounts live and what they are seeded with.
type Options struct {
	HomeRoot       string
	Shell          string
	ConfigTemplate string
}

// Provisioner ensures local accounts exist and are ready for a terminal.
type Provisioner struct {
	backend Backend
	opts    Options
	group   singleflight.Group
}

// New creates a Provisioner. Empty options fall back to /home and /bin/zsh.
func New(backend Backend, opts Options) *Provisioner {
	if opts.HomeRoot == "" {
		opts.HomeRoot = "/home"
	}
	if opts.Shell == "" {
		opts.Shell = "/bin/zsh"
	}
	return &Provisioner{backend: backend, opts: opts}
}

// HomeDir returns the home directory for username.
func (p *Provisioner) HomeDir(username string) string {
	return filepath.Join(p.opts.HomeRoot, username)
}

// ToolConfigPath returns the per-account tool configuration file.
func (p *Provisioner) ToolConfigPath(username string) string {
	return filepath.Join(p.HomeDir(username), toolDirName, toolConfigName)
}

// Ensure makes sure the account for username exists and is fully set up.
// When ext is non-nil the account's Git identity is configured from it.
// Only ErrProvisionFatal failures are returned.
func (p *Provisioner) Ensure(ctx context.Context, username string, ext *identity.External) error {
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: invalid username %q", ErrProvisionFatal, logutil.SanitizeForLog(username))
	}

	// The shared run outlives any one caller, so a caller that goes away
	// cannot fail the others waiting on it.
	leader := false
	ch := p.group.DoChan(username, func() (interface{}, error) {
		leader = true
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), provisionTimeout)
		defer cancel()
		return nil, p.ensureAccount(runCtx, username)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %w", ErrProvisionFatal, username, ctx.Err())
	}
	if res.Shared && !leader {
		log.Printf("[provision] joined in-flight provisioning for %s", username)
	}
	if res.Err != nil {
		return res.Err
	}

	if ext != nil {
		p.configureGit(ctx, username, *ext)
	}
	return nil
}

func (p *Provisioner) ensureAccount(ctx context.Context, username string) error {
	home := p.HomeDir(username)

	exists, err := p.backend.AccountExists(ctx, username)
	if err != nil {
		return fmt.Errorf("%w: lookup %s: %v", ErrProvisionFatal, username, err)
	}
	if !exists {
		log.Printf("[provision] creating OS user %s", username)
		if err := p.backend.CreateAccount(ctx, username, home, p.opts.Shell); err != nil {
			return fmt.Errorf("%w: create user %s: %v", ErrProvisionFatal, username, err)
		}
		log.Printf("[provision] created OS user %s", username)
	}

	// Home may live on a mounted volume that predates the account.
	if err := p.backend.EnsureDir(ctx, home, homePerm); err != nil {
		p.degraded("home directory %s: %v", home, err)
	}

	credDir := filepath.Join(home, credentialsDirName)
	if err := p.backend.EnsureDir(ctx, credDir, privatePerm); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrProvisionFatal, credDir, err)
	}

	toolDir := filepath.Join(home, toolDirName)
	if err := p.backend.EnsureDir(ctx, toolDir, privatePerm); err != nil {
		p.degraded("tool directory %s: %v", toolDir, err)
	} else if p.opts.ConfigTemplate != "" {
		if err := p.backend.CopyFile(ctx, p.opts.ConfigTemplate, p.ToolConfigPath(username)); err != nil {
			p.degraded("seed tool config for %s: %v", username, err)
		}
	}

	if err := p.backend.Chown(ctx, home, username); err != nil {
		return fmt.Errorf("%w: chown %s: %v", ErrProvisionFatal, home, err)
	}
	if err := p.backend.Chmod(ctx, credDir, privatePerm); err != nil {
		return fmt.Errorf("%w: chmod %s: %v", ErrProvisionFatal, credDir, err)
	}
	return nil
}

func (p *Provisioner) configureGit(ctx context.Context, username string, ext identity.External) {
	settings := []GitSetting{
		{Key: "user.name", Value: identity.DisplayName(ext, username)},
	}
	if ext.Email != "" {
		settings = append(settings, GitSetting{Key: "user.email", Value: ext.Email})
	}
	settings = append(settings, GitSetting{Key: "init.defaultBranch", Value: "main"})

	if err := p.backend.ConfigureGit(ctx, username, p.HomeDir(username), settings); err != nil {
		p.degraded("git identity for %s: %v", username, err)
		return
	}
	log.Printf("[provision] configured git identity for %s: %s <%s>",
		username, logutil.SanitizeForLog(settings[0].Value), logutil.SanitizeForLog(ext.Email))
}

func (p *Provisioner) degraded(format string, args ...interface{}) {
	log.Printf("[provision] WARNING: %v", fmt.Errorf("%w: %s", ErrProvisionDegraded, fmt.Sprintf(format, args...)))
}
