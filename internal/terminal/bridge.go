package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"os/exec"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/gluk-w/termspace/internal/auth"
	"github.com/gluk-w/termspace/internal/identity"
	"github.com/gluk-w/termspace/internal/logutil"
)

const (
	// MaxInputMessageSize caps a single client frame payload.
	MaxInputMessageSize = 64 * 1024

	// Client message rate limiting; excess messages are dropped.
	MessageRateLimit = 200
	MessageRateBurst = 200

	readLimit = 1024 * 1024

	// outputDrainTimeout bounds how long remaining PTY output is relayed
	// after the process has exited.
	outputDrainTimeout = 2 * time.Second

	ConnectedNotice = "\r\n🚀 Connected to Claude Workspace\r\n\r\n"
)

// WebSocket close codes used by the bridge.
const (
	StatusAuthFailed      = websocket.StatusPolicyViolation // 1008
	StatusSetupFailed     = websocket.StatusInternalError   // 1011
	StatusSessionAttached = websocket.StatusCode(4409)
)

// Provisioner prepares the local account before a process is spawned.
type Provisioner interface {
	Ensure(ctx context.Context, username string, ext *identity.External) error
	HomeDir(username string) string
	ToolConfigPath(username string) string
}

// CommandFunc builds the command run for a session's account.
type CommandFunc func(username, home, toolConfig string) *exec.Cmd

// Config controls how terminal processes are started.
type Config struct {
	ToolPath    string
	ToolBinDir  string
	Cols, Rows  uint16
	GracePeriod time.Duration
	// Command overrides the default su/tool command.
	Command CommandFunc
}

// Bridge pairs WebSocket connections with PTY processes.
type Bridge struct {
	sessions    auth.Store
	provisioner Provisioner
	cfg         Config
}

func NewBridge(sessions auth.Store, provisioner Provisioner, cfg Config) *Bridge {
	if cfg.Cols == 0 {
		cfg.Cols = DefaultCols
	}
	if cfg.Rows == 0 {
		cfg.Rows = DefaultRows
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.Command == nil {
		cfg.Command = func(username, home, toolConfig string) *exec.Cmd {
			return ToolCommand(username, home, cfg.ToolPath, toolConfig, cfg.ToolBinDir)
		}
	}
	return &Bridge{sessions: sessions, provisioner: provisioner, cfg: cfg}
}

// Attach authorizes token and serves the terminal for its session. It
// always closes conn before returning.
func (b *Bridge) Attach(ctx context.Context, conn *websocket.Conn, token string) {
	sess, ok := b.sessions.Get(token)
	if !ok {
		defer conn.CloseNow()
		log.Printf("[terminal] rejected connection: %v", auth.ErrAuthRequired)
		b.fail(ctx, conn, StatusAuthFailed, "Not authenticated", "Not authenticated")
		return
	}
	log.Printf("[terminal] authenticated connection for user %s", sess.Username)
	b.Serve(ctx, conn, sess)
}

// Serve runs the terminal for sess on conn until either side goes away.
// It always closes conn before returning.
func (b *Bridge) Serve(ctx context.Context, conn *websocket.Conn, sess *auth.Session) {
	defer conn.CloseNow()

	if sess.Expired() {
		log.Printf("[terminal] rejected connection for %s: session expired", sess.Username)
		b.fail(ctx, conn, StatusAuthFailed, "Session expired", "Session expired")
		return
	}
	if sess.Process() != nil {
		b.fail(ctx, conn, StatusSessionAttached, "Terminal already open in another window", "Session already attached")
		return
	}

	proc, err := b.spawn(ctx, sess)
	if err != nil {
		switch {
		case errors.Is(err, ErrToolMissing):
			b.fail(ctx, conn, StatusSetupFailed, "Claude Code is not installed. Please rebuild the Docker image.", "Claude Code not installed")
		case errors.Is(err, auth.ErrProcessAttached):
			b.fail(ctx, conn, StatusSessionAttached, "Terminal already open in another window", "Session already attached")
		default:
			b.fail(ctx, conn, StatusSetupFailed, "Failed to create user environment", "Failed to create user environment")
		}
		return
	}

	defer func() {
		sess.Detach(proc)
		proc.Kill()
		select {
		case <-proc.Done():
		case <-time.After(b.cfg.GracePeriod + time.Second):
			log.Printf("[terminal] pid %d still running after kill", proc.Pid())
		}
		proc.Close()
	}()

	conn.SetReadLimit(readLimit)
	if err := writeMessage(ctx, conn, stdoutMessage(ConnectedNotice)); err != nil {
		return
	}

	if exited := b.relay(ctx, conn, sess, proc); exited {
		log.Printf("[terminal] process for %s exited: %v", sess.Username, proc.Err())
		return
	}
	log.Printf("[terminal] connection for %s closed, terminating pid %d", sess.Username, proc.Pid())
}

// spawn provisions the account and starts the tool as a PTY process
// attached to sess.
func (b *Bridge) spawn(ctx context.Context, sess *auth.Session) (*PTYProcess, error) {
	if err := b.provisioner.Ensure(ctx, sess.Username, nil); err != nil {
		log.Printf("[terminal] failed to set up user environment for %s: %v", sess.Username, err)
		return nil, err
	}

	if _, err := os.Stat(b.cfg.ToolPath); err != nil {
		log.Printf("[terminal] tool not found at %s: %v", b.cfg.ToolPath, err)
		return nil, ErrToolMissing
	}

	cmd := b.cfg.Command(sess.Username, b.provisioner.HomeDir(sess.Username), b.provisioner.ToolConfigPath(sess.Username))
	proc, err := StartPTY(cmd, b.cfg.Cols, b.cfg.Rows, b.cfg.GracePeriod)
	if err != nil {
		log.Printf("[terminal] failed to start process for %s: %v", sess.Username, err)
		return nil, err
	}
	if err := sess.Attach(proc); err != nil {
		proc.Kill()
		proc.Close()
		return nil, err
	}
	log.Printf("[terminal] started pid %d for %s", proc.Pid(), sess.Username)
	return proc, nil
}

// relay pumps data in both directions. It reports whether it stopped
// because the process exited (as opposed to the client going away or the
// session expiring).
func (b *Bridge) relay(ctx context.Context, conn *websocket.Conn, sess *auth.Session, proc *PTYProcess) (exited bool) {
	relayCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var expired <-chan time.Time
	if !sess.ExpiresAt.IsZero() {
		timer := time.NewTimer(time.Until(sess.ExpiresAt))
		defer timer.Stop()
		expired = timer.C
	}

	outputDone := make(chan struct{})
	go func() {
		defer close(outputDone)
		b.pumpOutput(relayCtx, conn, proc)
	}()

	// Closing the socket here, rather than cancelling the read, keeps the
	// close code at normal closure.
	go func() {
		select {
		case <-proc.Done():
			select {
			case <-outputDone:
			case <-time.After(outputDrainTimeout):
			}
			conn.Close(websocket.StatusNormalClosure, "")
		case <-expired:
			log.Printf("[terminal] session for %s expired, closing terminal", sess.Username)
			b.fail(relayCtx, conn, StatusAuthFailed, "Session expired", "Session expired")
		case <-relayCtx.Done():
		}
	}()

	b.pumpInput(relayCtx, conn, proc)

	select {
	case <-proc.Done():
		return true
	default:
		return false
	}
}

// pumpOutput relays PTY output in order as stdout messages.
func (b *Bridge) pumpOutput(ctx context.Context, conn *websocket.Conn, r io.Reader) {
	buf := make([]byte, 32*1024)
	var carry []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := append(carry, buf[:n]...)
			var out []byte
			out, carry = splitUTF8(chunk)
			carry = append([]byte(nil), carry...)
			if len(out) > 0 {
				if werr := writeMessage(ctx, conn, stdoutMessage(string(out))); werr != nil {
					return
				}
			}
		}
		if err != nil {
			if len(carry) > 0 {
				writeMessage(ctx, conn, stdoutMessage(string(carry)))
			}
			return
		}
	}
}

// pumpInput reads client frames until the connection or ctx ends.
func (b *Bridge) pumpInput(ctx context.Context, conn *websocket.Conn, proc *PTYProcess) {
	limiter := rate.NewLimiter(rate.Limit(MessageRateLimit), MessageRateBurst)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if !limiter.Allow() {
			continue
		}
		if len(data) > MaxInputMessageSize {
			log.Printf("[terminal] dropping oversized input message (%d bytes)", len(data))
			continue
		}

		msg, err := DecodeClientMessage(data)
		if err != nil {
			log.Printf("[terminal] ignoring client message: %s", logutil.SanitizeForLog(err.Error()))
			continue
		}
		switch msg.Type {
		case TypeStdin:
			if _, err := proc.Write([]byte(msg.Data)); err != nil {
				return
			}
		case TypeResize:
			if err := proc.Resize(msg.Cols, msg.Rows); err != nil {
				log.Printf("[terminal] resize pid %d: %v", proc.Pid(), err)
			}
		}
	}
}

func (b *Bridge) fail(ctx context.Context, conn *websocket.Conn, code websocket.StatusCode, message, reason string) {
	writeMessage(ctx, conn, errorMessage(message))
	conn.Close(code, reason)
}

func writeMessage(ctx context.Context, conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
