package terminal

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

const (
	// DefaultGracePeriod is how long a process gets after SIGTERM before it
	// is sent SIGKILL.
	DefaultGracePeriod = 5 * time.Second

	DefaultCols uint16 = 120
	DefaultRows uint16 = 30

	// Upper bounds for client resize requests.
	MaxCols uint16 = 500
	MaxRows uint16 = 200
)

// ErrToolMissing means the interactive tool is not installed.
var ErrToolMissing = errors.New("interactive tool not installed")

// PTYProcess is a child process whose controlling terminal is a PTY.
type PTYProcess struct {
	cmd   *exec.Cmd
	ptmx  *os.File
	grace time.Duration

	done    chan struct{}
	waitErr error

	killOnce  sync.Once
	closeOnce sync.Once
}

// StartPTY starts cmd on a new PTY of the given size. The child becomes a
// session leader so signals reach its whole process group.
func StartPTY(cmd *exec.Cmd, cols, rows uint16, grace time.Duration) (*PTYProcess, error) {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	p := &PTYProcess{
		cmd:   cmd,
		ptmx:  ptmx,
		grace: grace,
		done:  make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// Pid returns the child's process ID.
func (p *PTYProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *PTYProcess) Read(b []byte) (int, error)  { return p.ptmx.Read(b) }
func (p *PTYProcess) Write(b []byte) (int, error) { return p.ptmx.Write(b) }

// Resize changes the PTY window size, clamped to MaxCols x MaxRows.
func (p *PTYProcess) Resize(cols, rows uint16) error {
	cols = min(cols, MaxCols)
	rows = min(rows, MaxRows)
	return pty.Setsize(p.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Done is closed once the process has been reaped.
func (p *PTYProcess) Done() <-chan struct{} { return p.done }

// Err returns the exit error after Done is closed.
func (p *PTYProcess) Err() error {
	<-p.done
	return p.waitErr
}

// Kill sends SIGTERM to the process group and escalates to SIGKILL if it
// is still running after the grace period. It does not block.
func (p *PTYProcess) Kill() error {
	var err error
	p.killOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		err = p.signal(syscall.SIGTERM)
		go func() {
			select {
			case <-p.done:
			case <-time.After(p.grace):
				log.Printf("[terminal] pid %d ignored SIGTERM for %s, sending SIGKILL", p.Pid(), p.grace)
				p.signal(syscall.SIGKILL)
			}
		}()
	})
	return err
}

func (p *PTYProcess) signal(sig syscall.Signal) error {
	pid := p.Pid()
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		// Fall back to the leader alone if the group is gone.
		return p.cmd.Process.Signal(sig)
	}
	return nil
}

// Close releases the PTY master.
func (p *PTYProcess) Close() error {
	var err error
	p.closeOnce.Do(func() { err = p.ptmx.Close() })
	return err
}

// ToolCommand builds the login-shell command that runs the tool as username.
func ToolCommand(username, home, toolPath, toolConfig, toolBinDir string) *exec.Cmd {
	script := fmt.Sprintf("cd ~ && exec node --no-warnings --enable-source-maps %s --dangerously-skip-permissions --mcp-config %s",
		shellQuote(toolPath), shellQuote(toolConfig))

	cmd := exec.Command("su", "-", username, "-c", script)
	cmd.Dir = "/"
	cmd.Env = append(os.Environ(),
		"HOME="+home,
		"USER="+username,
		"PATH="+toolBinDir+":"+os.Getenv("PATH"),
		"TERM=xterm-256color",
	)
	return cmd
}

// shellQuote wraps s in single quotes for sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
