package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	Port     int    `envconfig:"PORT" default:"8080"`
	LogPath  string `envconfig:"LOG_PATH" default:""`
	DataPath string `envconfig:"DATABASE_PATH" default:"/var/lib/termspace/termspace.db"`

	// OAuth / OIDC
	OIDCEnabled      bool   `envconfig:"OIDC_ENABLED" default:"false"`
	OIDCClientID     string `envconfig:"OIDC_CLIENT_ID" default:""`
	OIDCClientSecret string `envconfig:"OIDC_CLIENT_SECRET" default:""`
	OIDCIssuer       string `envconfig:"OIDC_ISSUER" default:""`
	OIDCRedirectURI  string `envconfig:"OIDC_REDIRECT_URI" default:"http://localhost:8080/auth/callback"`

	// Static assets for the browser terminal
	StaticDir string `envconfig:"STATIC_DIR" default:"web/client/dist"`

	// Account provisioning
	HomeRoot          string `envconfig:"HOME_ROOT" default:"/home"`
	LoginShell        string `envconfig:"LOGIN_SHELL" default:"/bin/zsh"`
	MCPConfigTemplate string `envconfig:"MCP_CONFIG_TEMPLATE" default:"/tmp/mcp-config.json"`

	// Interactive tool
	ToolPath   string `envconfig:"TOOL_PATH" default:"/opt/claude/.npm-global/lib/node_modules/@anthropic-ai/claude-code/cli.js"`
	ToolBinDir string `envconfig:"TOOL_BIN_DIR" default:"/opt/claude/.npm-global/bin"`

	SessionSweepSchedule string `envconfig:"SESSION_SWEEP_SCHEDULE" default:"@every 10m"`
}

// OIDCConfigured reports whether OAuth is enabled and fully specified.
func (s Settings) OIDCConfigured() bool {
	return s.OIDCEnabled && s.OIDCClientID != "" && s.OIDCClientSecret != "" && s.OIDCIssuer != ""
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
