package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/gluk-w/termspace/internal/auth"
	"github.com/gluk-w/termspace/internal/config"
	"github.com/gluk-w/termspace/internal/database"
	"github.com/gluk-w/termspace/internal/handlers"
	"github.com/gluk-w/termspace/internal/identity"
	"github.com/gluk-w/termspace/internal/logging"
	"github.com/gluk-w/termspace/internal/middleware"
	"github.com/gluk-w/termspace/internal/provision"
	"github.com/gluk-w/termspace/internal/terminal"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--ensure-account":
			runCLICommand("ensure-account")
			return
		case "--list-accounts":
			runListAccounts()
			return
		}
	}

	config.Load()
	logging.Init()
	defer logging.Close()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	log.Printf("Config: OIDCEnabled=%v, Issuer=%s, HomeRoot=%s, ToolPath=%s",
		config.Cfg.OIDCEnabled, config.Cfg.OIDCIssuer, config.Cfg.HomeRoot, config.Cfg.ToolPath)

	sessions := auth.NewSessionStore()
	states := auth.NewStateStore()
	gateway := auth.NewGateway(states, nil)

	ctx, cancelInit := context.WithCancel(context.Background())
	defer cancelInit()
	switch {
	case config.Cfg.OIDCConfigured():
		go initOIDC(ctx, gateway)
	case config.Cfg.OIDCEnabled:
		log.Printf("WARNING: OIDC_ENABLED is set but client ID, secret or issuer is missing; login is unavailable")
	default:
		log.Printf("OAuth disabled, local login bypass enabled for user %q", auth.BypassUsername)
	}

	prov := provision.New(provision.OSBackend{}, provision.Options{
		HomeRoot:       config.Cfg.HomeRoot,
		Shell:          config.Cfg.LoginShell,
		ConfigTemplate: config.Cfg.MCPConfigTemplate,
	})

	bridge := terminal.NewBridge(sessions, prov, terminal.Config{
		ToolPath:   config.Cfg.ToolPath,
		ToolBinDir: config.Cfg.ToolBinDir,
	})

	h := &handlers.Handler{
		Sessions:    sessions,
		Gateway:     gateway,
		Provisioner: prov,
		Bridge:      bridge,
		RecordLogin:   database.RecordLogin,
		CountAccounts: database.AccountCount,
		OIDCEnabled:   config.Cfg.OIDCEnabled,
		ToolPath:      config.Cfg.ToolPath,
		ToolBinDir:    config.Cfg.ToolBinDir,
	}

	sweeper, err := startSweeper(config.Cfg.SessionSweepSchedule, sessions, states)
	if err != nil {
		log.Fatalf("Session sweeper: %v", err)
	}

	spa := middleware.NewSPAHandler(os.DirFS(config.Cfg.StaticDir))
	r := newRouter(h, sessions, spa)

	// Graceful shutdown
	addr := fmt.Sprintf(":%d", config.Cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	<-sweeper.Stop().Done()
	// Hijacked WebSockets are not tracked by Shutdown; killing the processes
	// makes each bridge close its socket.
	sessions.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

// initOIDC runs provider discovery in the background so a slow or absent
// issuer does not block startup. Until it succeeds login returns 503.
func initOIDC(ctx context.Context, gateway *auth.Gateway) {
	provider, err := auth.NewOIDCProvider(ctx, auth.OIDCConfig{
		Issuer:       config.Cfg.OIDCIssuer,
		ClientID:     config.Cfg.OIDCClientID,
		ClientSecret: config.Cfg.OIDCClientSecret,
		RedirectURI:  config.Cfg.OIDCRedirectURI,
	})
	if err != nil {
		log.Printf("[auth] OIDC initialization failed: %v", err)
		return
	}
	gateway.SetProvider(provider)
	log.Printf("[auth] OIDC client initialized for %s", config.Cfg.OIDCIssuer)
}

type sweepable interface {
	Cleanup() int
}

// startSweeper schedules the periodic eviction of expired sessions and
// abandoned OAuth handshakes.
func startSweeper(schedule string, sessions, states sweepable) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { sweep(sessions, states) }); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	c.Start()
	return c, nil
}

func sweep(sessions, states sweepable) {
	expired := sessions.Cleanup()
	abandoned := states.Cleanup()
	if expired > 0 || abandoned > 0 {
		log.Printf("[auth] swept %d expired sessions, %d abandoned logins", expired, abandoned)
	}
}

func newRouter(h *handlers.Handler, sessions auth.Store, spa http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", handlers.HealthCheck)

	// OAuth handshake
	r.Get("/auth/login", h.Login)
	r.Get("/auth/callback", h.Callback)

	r.Route("/api", func(r chi.Router) {
		r.Get("/auth/config", h.AuthConfig)
		r.Get("/session", h.SessionInfo)
		if !h.OIDCEnabled {
			r.Post("/login-bypass", h.LoginBypass)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(sessions))

			r.Post("/logout", h.Logout)
			r.Get("/diagnostics", h.Diagnostics)
		})
	})

	// Terminal WebSocket, also accepted on / for clients that connect to
	// the page origin directly.
	r.Get("/ws", h.TerminalWS)
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		if isWebSocketUpgrade(req) {
			h.TerminalWS(w, req)
			return
		}
		spa.ServeHTTP(w, req)
	})

	// SPA static files
	r.NotFound(spa.ServeHTTP)
	return r
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func runCLICommand(command string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	subject := fs.String("subject", "", "External identity subject")
	email := fs.String("email", "", "Email used for the Git identity")
	name := fs.String("name", "", "Display name used for the Git identity")
	fs.Parse(os.Args[2:])

	if *subject == "" {
		fmt.Fprintf(os.Stderr, "Usage: termspace --%s --subject <sub> [--email <email>] [--name <name>]\n", command)
		os.Exit(1)
	}

	config.Load()

	switch command {
	case "ensure-account":
		ext := identity.External{Subject: *subject, Email: *email, Name: *name}
		username, err := ensureAccount(context.Background(), provision.New(provision.OSBackend{}, provision.Options{
			HomeRoot:       config.Cfg.HomeRoot,
			Shell:          config.Cfg.LoginShell,
			ConfigTemplate: config.Cfg.MCPConfigTemplate,
		}), ext)
		if err != nil {
			log.Fatalf("Failed to provision account: %v", err)
		}
		fmt.Printf("Account '%s' is ready for subject '%s'.\n", username, *subject)
	}
}

func runListAccounts() {
	config.Load()
	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	if err := listAccounts(os.Stdout, database.ListAccounts); err != nil {
		log.Fatalf("Failed to list accounts: %v", err)
	}
}

// listAccounts prints one line per registered account.
func listAccounts(w io.Writer, list func() ([]database.Account, error)) error {
	accounts, err := list()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tSUBJECT\tEMAIL\tLOGINS\tLAST LOGIN")
	for _, a := range accounts {
		last := "-"
		if !a.LastLoginAt.IsZero() {
			last = a.LastLoginAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", a.Username, a.Subject, a.Email, a.LoginCount, last)
	}
	return tw.Flush()
}

// ensureAccount provisions the local account mapped from ext.
func ensureAccount(ctx context.Context, ensurer handlers.AccountEnsurer, ext identity.External) (string, error) {
	username := identity.LocalName(ext.Subject)
	if err := ensurer.Ensure(ctx, username, &ext); err != nil {
		return "", err
	}
	return username, nil
}
