package term

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// RunRequest encapsulates a one-shot process execution.
type RunRequest struct {
	Argv    []string
	Env     map[string]string // overlaid on the gateway's own environment
	Timeout time.Duration     // 0 means no timeout
}

// RunResult provides structured results from a completed process.
type RunResult struct {
	RC       int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// ShellRun executes a process without a PTY, capturing stdout/stderr and exit code.
// A non-zero exit is reported through RC, not through the error.
func ShellRun(parentCtx context.Context, req RunRequest) (RunResult, error) {
	var res RunResult

	if len(req.Argv) == 0 || req.Argv[0] == "" {
		return res, errors.New("argv must not be empty")
	}

	ctx := parentCtx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parentCtx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, req.Argv[0], req.Argv[1:]...)
	cmd.Env = mergeEnv(os.Environ(), req.Env)
	// grandchildren holding the pipes open must not stall Wait past the deadline
	cmd.WaitDelay = time.Second

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	start := time.Now()
	runErr := cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdoutBuf.Bytes()
	res.Stderr = stderrBuf.Bytes()

	if runErr == nil {
		return res, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		var ee *exec.ExitError
		if errors.As(runErr, &ee) {
			res.RC = ee.ExitCode()
		} else {
			res.RC = 124
		}
		return res, fmt.Errorf("timeout after %s: %w", req.Timeout, runErr)
	}
	var ee *exec.ExitError
	if errors.As(runErr, &ee) {
		res.RC = ee.ExitCode()
		return res, nil
	}
	// spawn failure (binary missing, permission denied)
	res.RC = 127
	return res, runErr
}

// Runner runs a program to completion and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ProcessRunner is the Runner backed by ShellRun. Env is applied to every call.
type ProcessRunner struct {
	Env     map[string]string
	Timeout time.Duration
}

// Run returns stdout on success. Spawn failures and non-zero exits both come
// back as an error whose text carries stderr when there is any.
func (p ProcessRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	argv := append([]string{name}, args...)
	res, err := ShellRun(ctx, RunRequest{Argv: argv, Env: p.Env, Timeout: p.Timeout})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if res.RC != 0 {
		msg := strings.TrimSpace(string(res.Stderr))
		if msg == "" {
			msg = fmt.Sprintf("exit status %d", res.RC)
		}
		return nil, fmt.Errorf("%s: %s", name, msg)
	}
	return res.Stdout, nil
}

// mergeEnv overlays overrides on base; keys from overrides win.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[k]; ok {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}
