package term

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"automation-gateway/internal/apperr"
)

// Mode selects how the shell's standard streams are attached.
type Mode string

const (
	// ModePipe attaches stdin/stdout/stderr as three separate pipes.
	ModePipe Mode = "pipe"
	// ModePTY attaches all three to one pseudo-terminal; stderr is merged into stdout.
	ModePTY Mode = "pty"
)

const markerPrefix = "__GATEWAY_DONE_"

// stderrSettle is how long to wait for the stderr marker once the status
// line has arrived.
const stderrSettle = 250 * time.Millisecond

// SessionConfig controls how shell sessions are spawned and driven.
type SessionConfig struct {
	Shell     string
	Mode      Mode
	Env       map[string]string
	Timeout   time.Duration // per-command wall clock budget
	StopGrace time.Duration // wait after "exit" before killing
	MaxOutput int           // per-stream cap in bytes, 0 = unlimited
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.Shell == "" {
		c.Shell = "/bin/bash"
	}
	if c.Mode == "" {
		c.Mode = ModePipe
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 5 * time.Second
	}
	return c
}

// Result is the outcome of one command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int  // -1 when the shell ended before reporting it
	Exited   bool // the shell reached end-of-file while running the command
}

// Session is one live shell process. It is not safe for concurrent use; the
// Manager goroutine is its only caller.
type Session struct {
	token     string
	cfg       SessionConfig
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	readers   []io.Closer
	stdout    <-chan []byte
	stderr    <-chan []byte // nil in pty mode
	exited    chan struct{}
	quit      chan struct{}
	closeOnce sync.Once
	startedAt time.Time

	timedOut bool
	broken   bool
	commands int
}

func startSession(cfg SessionConfig) (*Session, error) {
	cfg = cfg.withDefaults()
	s := &Session{
		token:  uuid.NewString(),
		cfg:    cfg,
		exited: make(chan struct{}),
		quit:   make(chan struct{}),
	}
	var err error
	switch cfg.Mode {
	case ModePTY:
		err = s.startPTY()
	case ModePipe:
		err = s.startPipes()
	default:
		return nil, apperr.Validation("unknown shell mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, apperr.Execution(err, "Failed to spawn %s", cfg.Shell)
	}
	s.startedAt = time.Now()
	go func() {
		_ = s.cmd.Wait()
		close(s.exited)
	}()
	return s, nil
}

func (s *Session) startPipes() error {
	cmd := exec.Command(s.cfg.Shell)
	cmd.Env = mergeEnv(os.Environ(), s.cfg.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Plain os.Pipe pairs: Wait must not close our read ends before the pumps
	// have drained them.
	inR, inW, err := os.Pipe()
	if err != nil {
		return err
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		closeAll(inR, inW)
		return err
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(inR, inW, outR, outW)
		return err
	}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = inR, outW, errW
	if err := cmd.Start(); err != nil {
		closeAll(inR, inW, outR, outW, errR, errW)
		return err
	}
	closeAll(inR, outW, errW)

	s.cmd = cmd
	s.stdin = inW
	s.readers = []io.Closer{outR, errR}
	s.stdout = s.pump(outR)
	s.stderr = s.pump(errR)
	return nil
}

func (s *Session) startPTY() error {
	cmd := exec.Command(s.cfg.Shell, "--noprofile", "--norc", "--noediting")
	env := map[string]string{"PS1": "", "PS2": "", "TERM": "dumb", "PROMPT_COMMAND": ""}
	for k, v := range s.cfg.Env {
		env[k] = v
	}
	cmd.Env = mergeEnv(os.Environ(), env)
	pty, err := startPTY(cmd)
	if err != nil {
		return err
	}
	s.cmd = cmd
	s.stdin = pty
	s.readers = []io.Closer{pty}
	s.stdout = s.pump(pty)
	// history expansion would rewrite commands containing "!"
	if _, err := io.WriteString(pty, "set +H\n"); err != nil {
		s.closeIO()
		return err
	}
	return nil
}

func (s *Session) pump(r io.Reader) <-chan []byte {
	ch := make(chan []byte, 64)
	go func() {
		defer close(ch)
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case ch <- data:
				case <-s.quit:
					return
				}
			}
			if err != nil {
				// io.EOF for pipes, EIO for a pty whose child is gone
				return
			}
		}
	}()
	return ch
}

// Token is the opaque identifier of this session.
func (s *Session) Token() string { return s.token }

// Pid returns the shell's process id.
func (s *Session) Pid() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// TimedOut reports whether a command exceeded its budget on this session.
func (s *Session) TimedOut() bool { return s.timedOut }

// Alive reports whether the session can still be handed new commands,
// which includes a timed-out session that must reject them.
func (s *Session) Alive() bool {
	if s.broken {
		return false
	}
	select {
	case <-s.exited:
		return s.timedOut
	default:
		return true
	}
}

func trailer(nonce string, mode Mode) string {
	// The marker is assembled by printf so the literal never appears in the
	// text handed to the shell.
	t := "__gw_rc=$?; printf '\\n%s%s:%s\\n' " + markerPrefix + " " + nonce + " \"$__gw_rc\""
	if mode == ModePipe {
		t += "; printf '\\n%s%s:\\n' " + markerPrefix + " " + nonce + " >&2"
	}
	return t + "\n"
}

// Execute runs command in the shell and waits for its completion trailer.
func (s *Session) Execute(command string) (Result, error) {
	if s.timedOut {
		return Result{}, apperr.Timeout("Session timed out; restart the bash session to continue")
	}
	s.commands++
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")
	marker := markerPrefix + nonce + ":"
	script := command
	if !strings.HasSuffix(script, "\n") {
		script += "\n"
	}
	script += trailer(nonce, s.cfg.Mode)

	// A long script can fill the pipe while the shell is busy with its first
	// line, so the write must not hold up the deadline below.
	writeErr := make(chan error, 1)
	go func() {
		_, err := io.WriteString(s.stdin, script)
		writeErr <- err
	}()

	outC := newCollector(marker, s.cfg.MaxOutput)
	errC := newCollector(marker, s.cfg.MaxOutput)
	stdout, stderr := s.stdout, s.stderr
	// complete reports whether every marker the trailer prints has arrived.
	// Either can land on the other stream after an exec redirection.
	complete := func() bool {
		if !outC.haveStatus && !errC.haveStatus {
			return false
		}
		return s.stderr == nil || stderr == nil || outC.haveBare || errC.haveBare
	}

	deadline := time.NewTimer(s.cfg.Timeout)
	defer deadline.Stop()
	var grace, settle <-chan time.Time

	for !complete() {
		if settle == nil && (outC.haveStatus || errC.haveStatus) {
			// stderr may have been sent to /dev/null, taking its marker along
			settle = time.After(stderrSettle)
		}
		select {
		case p, ok := <-stdout:
			if !ok {
				return s.finishAtEOF(outC, errC), nil
			}
			outC.feed(p)
		case p, ok := <-stderr:
			if !ok {
				stderr = nil
				errC.flush()
				continue
			}
			errC.feed(p)
		case err := <-writeErr:
			if err != nil {
				// the shell is gone; let EOF on stdout settle the outcome
				grace = time.After(time.Second)
			}
		case <-grace:
			s.broken = true
			return Result{}, apperr.Execution(nil, "Failed to write command: shell is not accepting input")
		case <-settle:
			stdout, stderr = nil, nil
		case <-deadline.C:
			s.timedOut = true
			s.kill()
			return Result{}, apperr.Timeout("Command execution timed out after %s", s.cfg.Timeout)
		}
	}
	code := outC.exitCode()
	if !outC.haveStatus {
		code = errC.exitCode()
	}
	return Result{Stdout: outC.text(), Stderr: errC.text(), ExitCode: code}, nil
}

// finishAtEOF treats the end of stdout as completion of the command.
func (s *Session) finishAtEOF(outC, errC *collector) Result {
	outC.flush()
	if s.stderr != nil {
		timeout := time.After(100 * time.Millisecond)
	drain:
		for !errC.done {
			select {
			case p, ok := <-s.stderr:
				if !ok {
					break drain
				}
				errC.feed(p)
			case <-timeout:
				break drain
			}
		}
		errC.flush()
	}
	s.broken = true
	code := -1
	select {
	case <-s.exited:
		code = s.cmd.ProcessState.ExitCode()
	case <-time.After(time.Second):
	}
	return Result{Stdout: outC.text(), Stderr: errC.text(), ExitCode: code, Exited: true}
}

// Stop asks the shell to exit, force-killing it once the grace period lapses.
func (s *Session) Stop() error {
	defer s.closeIO()
	select {
	case <-s.exited:
		return nil
	default:
	}
	go func() { _, _ = io.WriteString(s.stdin, "exit\n") }()
	select {
	case <-s.exited:
		return nil
	case <-time.After(s.cfg.StopGrace):
	}
	s.kill()
	select {
	case <-s.exited:
		return nil
	case <-time.After(time.Second):
		return fmt.Errorf("shell pid %d did not exit after kill", s.Pid())
	}
}

// kill terminates the shell's whole process group so background jobs go too.
func (s *Session) kill() {
	pid := s.Pid()
	if pid <= 0 {
		return
	}
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
		_ = s.cmd.Process.Kill()
	}
}

func (s *Session) closeIO() {
	s.closeOnce.Do(func() {
		close(s.quit)
		_ = s.stdin.Close()
		for _, r := range s.readers {
			_ = r.Close()
		}
	})
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
