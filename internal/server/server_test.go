package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automation-gateway/api"
	"automation-gateway/internal/apperr"
	"automation-gateway/internal/desktop"
	"automation-gateway/internal/edit"
	"automation-gateway/internal/term"
)

type fakeDesktop struct {
	mu      sync.Mutex
	actions []desktop.Action
	err     error
	panics  bool
}

func (f *fakeDesktop) Perform(_ context.Context, a desktop.Action) (api.Envelope, error) {
	f.mu.Lock()
	f.actions = append(f.actions, a)
	f.mu.Unlock()
	if f.panics {
		panic("boom")
	}
	if f.err != nil {
		return api.Envelope{}, f.err
	}
	if _, ok := a.(desktop.Screenshot); ok {
		return api.Envelope{Kind: api.KindBase64, MediaType: api.MediaPNG, Data: "iVBORw0KGgo="}, nil
	}
	return api.Text(api.KindSuccess, a.Name()+" ok"), nil
}

type fakeShell struct {
	mu       sync.Mutex
	commands []string
	result   term.Result
	err      error
	restarts int
	status   term.Status
}

func (f *fakeShell) Execute(command string) (term.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	return f.result, f.err
}

func (f *fakeShell) Restart() (term.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return f.status, f.err
}

func (f *fakeShell) Status() (term.Status, error) {
	return f.status, nil
}

func newTestServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	if deps.Desktop == nil {
		deps.Desktop = &fakeDesktop{}
	}
	if deps.Editor == nil {
		deps.Editor = edit.NewEditor("", nil)
	}
	if deps.Shell == nil {
		deps.Shell = &fakeShell{}
	}
	ts := httptest.NewServer(New(deps).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url string, body any) (*http.Response, api.Envelope) {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env api.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func strp(s string) *string { return &s }

func TestHealth(t *testing.T) {
	ts := newTestServer(t, Deps{})
	resp, env := do(t, http.MethodGet, ts.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, api.Text(api.KindSuccess, "Service is running"), env)
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, Deps{})
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/health"},
		{http.MethodGet, "/computer"},
		{http.MethodGet, "/edit"},
		{http.MethodGet, "/bash"},
	} {
		resp, env := do(t, tc.method, ts.URL+tc.path, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, tc.path)
		assert.Equal(t, api.KindError, env.Kind)
	}
}

func TestUnknownPath(t *testing.T) {
	ts := newTestServer(t, Deps{})
	resp, env := do(t, http.MethodGet, ts.URL+"/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, api.KindError, env.Kind)
}

func TestComputer(t *testing.T) {
	fd := &fakeDesktop{}
	ts := newTestServer(t, Deps{Desktop: fd})

	resp, env := do(t, http.MethodPost, ts.URL+"/computer", api.ActionRequest{Action: "mouse_move", Coordinate: []int{1, 2}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "mouse_move ok", env.Data)
	assert.Equal(t, desktop.MouseMove{To: desktop.Point{X: 1, Y: 2}}, fd.actions[0])

	resp, env = do(t, http.MethodPost, ts.URL+"/computer", api.ActionRequest{Action: "screenshot"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, api.KindBase64, env.Kind)
	assert.Equal(t, api.MediaPNG, env.MediaType)
}

func TestComputer_Errors(t *testing.T) {
	ts := newTestServer(t, Deps{Desktop: &fakeDesktop{err: apperr.Execution(errors.New("no display"), "Failed to execute key action")}})

	resp, env := do(t, http.MethodPost, ts.URL+"/computer", api.ActionRequest{Action: "key"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, api.KindError, env.Kind)

	resp, _ = do(t, http.MethodPost, ts.URL+"/computer", api.ActionRequest{Action: "teleport"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, env = do(t, http.MethodPost, ts.URL+"/computer", api.ActionRequest{Action: "key", Text: strp("a")})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, env.Data, "no display")
}

func TestMalformedBody(t *testing.T) {
	ts := newTestServer(t, Deps{})
	resp, env := do(t, http.MethodPost, ts.URL+"/edit", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, api.KindError, env.Kind)

	resp, _ = do(t, http.MethodPost, ts.URL+"/bash", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownFieldsIgnored(t *testing.T) {
	ts := newTestServer(t, Deps{})
	resp, _ := do(t, http.MethodPost, ts.URL+"/computer", `{"action":"left_click","extra":true}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBodyLimit(t *testing.T) {
	ts := newTestServer(t, Deps{MaxBodyBytes: 64})
	big := api.EditRequest{Command: "create", Path: "/tmp/x", FileText: strp(strings.Repeat("a", 1000))}
	resp, env := do(t, http.MethodPost, ts.URL+"/edit", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, api.KindError, env.Kind)
}

func TestPanicRecovered(t *testing.T) {
	ts := newTestServer(t, Deps{Desktop: &fakeDesktop{panics: true}})
	resp, env := do(t, http.MethodPost, ts.URL+"/computer", api.ActionRequest{Action: "left_click"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, api.KindError, env.Kind)

	resp, _ = do(t, http.MethodGet, ts.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEdit_Flow(t *testing.T) {
	ts := newTestServer(t, Deps{})
	path := filepath.Join(t.TempDir(), "test.txt")

	resp, env := do(t, http.MethodPost, ts.URL+"/edit", api.EditRequest{Command: "create", Path: path, FileText: strp("Line1\nLine2\nLine3")})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, env.Data, path)

	_, env = do(t, http.MethodPost, ts.URL+"/edit", api.EditRequest{Command: "view", Path: path, ViewRange: []int{1, 2}})
	assert.Equal(t, "Line1\nLine2", env.Data)

	resp, _ = do(t, http.MethodPost, ts.URL+"/edit", api.EditRequest{Command: "view", Path: path, ViewRange: []int{5, 1}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, ts.URL+"/edit", api.EditRequest{Command: "str_replace", Path: path, OldStr: strp("Line2"), NewStr: strp("Changed")})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, ts.URL+"/edit", api.EditRequest{Command: "undo_edit", Path: path})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Line1\nLine2\nLine3", string(b))

	resp, env = do(t, http.MethodPost, ts.URL+"/edit", api.EditRequest{Command: "undo_edit", Path: path})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "No backup file found to undo", env.Data)

	resp, env = do(t, http.MethodPost, ts.URL+"/edit", api.EditRequest{Command: "view", Path: path + ".missing"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.True(t, strings.HasPrefix(env.Data, "File not found"))
}

func TestBash_Rendering(t *testing.T) {
	fs := &fakeShell{result: term.Result{Stdout: "out", ExitCode: 0}}
	ts := newTestServer(t, Deps{Shell: fs})

	resp, env := do(t, http.MethodPost, ts.URL+"/bash", api.BashRequest{Command: strp("echo out")})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "out", env.Data)
	assert.Equal(t, "0", resp.Header.Get(api.HeaderExitCode))

	fs.result = term.Result{Stdout: "out", Stderr: "err", ExitCode: 2}
	resp, env = do(t, http.MethodPost, ts.URL+"/bash", api.BashRequest{Command: strp("x")})
	assert.Equal(t, "stdout:\nout\nstderr:\nerr", env.Data)
	assert.Equal(t, "2", resp.Header.Get(api.HeaderExitCode))
}

func TestBash_Validation(t *testing.T) {
	fs := &fakeShell{}
	ts := newTestServer(t, Deps{Shell: fs})

	resp, env := do(t, http.MethodPost, ts.URL+"/bash", api.BashRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid request: command is required when not restarting", env.Data)
	assert.Empty(t, fs.commands)
}

func TestBash_EmptyCommandRuns(t *testing.T) {
	fs := &fakeShell{}
	ts := newTestServer(t, Deps{Shell: fs})

	for _, cmd := range []string{"", "   "} {
		resp, env := do(t, http.MethodPost, ts.URL+"/bash", api.BashRequest{Command: strp(cmd)})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, api.KindSuccess, env.Kind)
	}
	assert.Equal(t, []string{"", "   "}, fs.commands)
}

func TestBash_RestartIgnoresCommand(t *testing.T) {
	fs := &fakeShell{}
	ts := newTestServer(t, Deps{Shell: fs})

	resp, env := do(t, http.MethodPost, ts.URL+"/bash", api.BashRequest{Command: strp("echo hi"), Restart: true})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bash session has been restarted", env.Data)
	assert.Equal(t, 1, fs.restarts)
	assert.Empty(t, fs.commands)
}

func TestBash_Errors(t *testing.T) {
	fs := &fakeShell{err: apperr.Timeout("Command execution timed out after 30s")}
	ts := newTestServer(t, Deps{Shell: fs})

	resp, env := do(t, http.MethodPost, ts.URL+"/bash", api.BashRequest{Command: strp("sleep 60")})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, env.Data, "timed out")

	resp, env = do(t, http.MethodPost, ts.URL+"/bash", api.BashRequest{Restart: true})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, env.Data, "Failed to restart bash session")
}

func TestBashStatus(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	fs := &fakeShell{status: term.Status{Token: "tok", State: term.StateRunning, Pid: 42, Shell: "/bin/bash", Mode: term.ModePipe, StartedAt: started, Commands: 3}}
	ts := newTestServer(t, Deps{Shell: fs})

	resp, env := do(t, http.MethodGet, ts.URL+"/bash/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, api.MediaJSON, env.MediaType)
	var st api.BashStatus
	require.NoError(t, json.Unmarshal([]byte(env.Data), &st))
	assert.Equal(t, api.BashStatus{Token: "tok", State: "running", Pid: 42, Shell: "/bin/bash", Mode: "pipe", StartedAt: "2026-01-02T03:04:05Z", Commands: 3}, st)
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) api.Event {
	t.Helper()
	_, msg, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt api.Event
	require.NoError(t, json.Unmarshal(msg, &evt))
	return evt
}

func TestEvents(t *testing.T) {
	hub := NewEventHub(nil)
	ts := newTestServer(t, Deps{Events: hub})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/events", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ready := readEvent(t, ctx, conn)
	assert.Equal(t, api.EventReady, ready.Type)

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Publish(api.EventSessionStarted, map[string]any{"pid": 7})

	evt := readEvent(t, ctx, conn)
	assert.Equal(t, api.EventSessionStarted, evt.Type)
	assert.Greater(t, evt.Seq, ready.Seq)
	assert.EqualValues(t, 7, evt.Data["pid"])
}

func TestBash_RealSession(t *testing.T) {
	if _, err := os.Stat("/bin/bash"); err != nil {
		t.Skip("/bin/bash not available")
	}
	mgr := term.NewManager(term.SessionConfig{StopGrace: time.Second}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = mgr.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	ts := newTestServer(t, Deps{Shell: mgr})

	_, env := do(t, http.MethodPost, ts.URL+"/bash", api.BashRequest{Command: strp("echo 'Hello World'")})
	assert.Equal(t, "Hello World", env.Data)

	do(t, http.MethodPost, ts.URL+"/bash", api.BashRequest{Command: strp("TEST_VAR='hello'")})
	_, env = do(t, http.MethodPost, ts.URL+"/bash", api.BashRequest{Command: strp("echo $TEST_VAR")})
	assert.Equal(t, "hello", env.Data)

	_, env = do(t, http.MethodPost, ts.URL+"/bash", api.BashRequest{Restart: true})
	assert.Equal(t, "Bash session has been restarted", env.Data)
	_, env = do(t, http.MethodPost, ts.URL+"/bash", api.BashRequest{Command: strp("echo $TEST_VAR")})
	assert.Equal(t, "", env.Data)
}
