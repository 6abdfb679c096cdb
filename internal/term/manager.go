package term

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"automation-gateway/api"
	"automation-gateway/internal/apperr"
	"automation-gateway/internal/logging"
)

// State of the managed shell session.
type State string

const (
	StateAbsent   State = "absent"
	StateRunning  State = "running"
	StateTimedOut State = "timed_out"
)

// ErrManagerClosed is returned once Run has exited.
var ErrManagerClosed = errors.New("shell session manager is closed")

// Status is a snapshot of the managed session.
type Status struct {
	Token     string
	State     State
	Pid       int
	Shell     string
	Mode      Mode
	StartedAt time.Time
	Commands  int
}

// EventFunc receives session lifecycle notifications.
type EventFunc func(typ string, data map[string]any)

type op int

const (
	opExecute op = iota
	opRestart
	opStop
	opStatus
)

type call struct {
	op      op
	command string
	reply   chan reply
}

type reply struct {
	result Result
	status Status
	err    error
}

// Manager owns the single shell session. All access goes through Run's
// goroutine, which serves one call at a time in arrival order.
type Manager struct {
	cfg     SessionConfig
	logger  *slog.Logger
	onEvent EventFunc

	calls chan call
	done  chan struct{}

	// owned by the Run goroutine
	sessions map[string]*Session
	current  string
}

func NewManager(cfg SessionConfig, logger *slog.Logger, onEvent EventFunc) *Manager {
	if onEvent == nil {
		onEvent = func(string, map[string]any) {}
	}
	return &Manager{
		cfg:      cfg.withDefaults(),
		logger:   logging.OrDiscard(logger),
		onEvent:  onEvent,
		calls:    make(chan call),
		done:     make(chan struct{}),
		sessions: map[string]*Session{},
	}
}

// Run serves calls until ctx is cancelled, then stops the session.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			if err := m.stopCurrent("shutdown"); err != nil {
				m.logger.Warn("bash session stop failed", "err", err)
			}
			return nil
		case c := <-m.calls:
			c.reply <- m.serve(c)
		}
	}
}

// Execute runs command in the session, creating the session when absent.
func (m *Manager) Execute(command string) (Result, error) {
	r := m.submit(call{op: opExecute, command: command})
	return r.result, r.err
}

// Restart discards the current session, if any, and starts a fresh one.
func (m *Manager) Restart() (Status, error) {
	r := m.submit(call{op: opRestart})
	return r.status, r.err
}

// Stop terminates the current session, leaving the manager Absent.
func (m *Manager) Stop() error {
	return m.submit(call{op: opStop}).err
}

func (m *Manager) Status() (Status, error) {
	r := m.submit(call{op: opStatus})
	return r.status, r.err
}

// submit blocks until the Run goroutine has served c. Waiting calls are not
// cancellable.
func (m *Manager) submit(c call) reply {
	c.reply = make(chan reply, 1)
	select {
	case m.calls <- c:
	case <-m.done:
		return reply{err: apperr.Execution(ErrManagerClosed, "No active bash session")}
	}
	return <-c.reply
}

func (m *Manager) serve(c call) reply {
	switch c.op {
	case opExecute:
		return m.execute(c.command)
	case opRestart:
		if err := m.stopCurrent("restart"); err != nil {
			m.logger.Warn("bash session stop failed", "err", err)
		}
		s, err := m.ensure()
		if err != nil {
			return reply{err: err}
		}
		return reply{status: m.statusOf(s)}
	case opStop:
		return reply{err: m.stopCurrent("stop")}
	case opStatus:
		return reply{status: m.statusOf(m.sessions[m.current])}
	default:
		return reply{err: apperr.Validation("unknown session operation")}
	}
}

func (m *Manager) execute(command string) reply {
	s, err := m.ensure()
	if err != nil {
		return reply{err: err}
	}
	wasTimedOut := s.timedOut
	start := time.Now()
	res, err := s.Execute(command)
	elapsed := time.Since(start)
	switch {
	case apperr.Is(err, apperr.KindSessionTimeout):
		if !wasTimedOut {
			m.logger.Error("bash command timed out", "token", s.token, "elapsed", elapsed.String())
			m.onEvent(api.EventSessionTimeout, map[string]any{"token": s.token})
		}
		return reply{err: err}
	case err != nil:
		m.logger.Error("bash command failed", "token", s.token, "err", err)
		m.retire(s, "broken")
		return reply{err: err}
	}
	m.logger.Debug("bash command completed", "token", s.token, "exit_code", res.ExitCode, "elapsed", elapsed.String())
	if res.Exited {
		m.retire(s, "exited")
	}
	return reply{result: res}
}

// ensure returns the current session, spawning one when there is none or
// the previous one has ended on its own.
func (m *Manager) ensure() (*Session, error) {
	if s, ok := m.sessions[m.current]; ok {
		if s.Alive() {
			return s, nil
		}
		m.retire(s, "exited")
	}
	s, err := startSession(m.cfg)
	if err != nil {
		m.logger.Error("bash session spawn failed", "shell", m.cfg.Shell, "err", err)
		return nil, err
	}
	m.sessions[s.token] = s
	m.current = s.token
	m.logger.Info("bash session started", "token", s.token, "pid", s.Pid(), "mode", string(m.cfg.Mode))
	m.onEvent(api.EventSessionStarted, map[string]any{"token": s.token, "pid": s.Pid()})
	return s, nil
}

// retire drops a session that can no longer serve commands.
func (m *Manager) retire(s *Session, reason string) {
	if err := s.Stop(); err != nil {
		m.logger.Warn("bash session cleanup failed", "token", s.token, "err", err)
	}
	delete(m.sessions, s.token)
	if m.current == s.token {
		m.current = ""
	}
	m.logger.Info("bash session ended", "token", s.token, "reason", reason)
	m.onEvent(api.EventSessionExited, map[string]any{"token": s.token, "reason": reason})
}

func (m *Manager) stopCurrent(reason string) error {
	s, ok := m.sessions[m.current]
	if !ok {
		return nil
	}
	err := s.Stop()
	delete(m.sessions, s.token)
	m.current = ""
	m.logger.Info("bash session stopped", "token", s.token, "reason", reason)
	m.onEvent(api.EventSessionStopped, map[string]any{"token": s.token, "reason": reason})
	return err
}

func (m *Manager) statusOf(s *Session) Status {
	st := Status{State: StateAbsent, Shell: m.cfg.Shell, Mode: m.cfg.Mode}
	if s == nil {
		return st
	}
	st.Token = s.token
	st.Pid = s.Pid()
	st.StartedAt = s.startedAt
	st.Commands = s.commands
	st.State = StateRunning
	if s.timedOut {
		st.State = StateTimedOut
	}
	return st
}
