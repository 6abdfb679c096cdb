package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automation-gateway/api"
	"automation-gateway/internal/client"
	"automation-gateway/internal/config"
)

func pickPort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func startGateway(t *testing.T) *client.Client {
	t.Helper()
	if _, err := os.Stat("/bin/bash"); err != nil {
		t.Skip("/bin/bash not available")
	}
	cfg := config.Default()
	cfg.Listen = pickPort(t)
	cfg.LogLevel = "error"
	cfg.Shell.StopGrace = config.Duration(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(15 * time.Second):
			t.Error("gateway did not stop")
		}
	})

	c := client.New("http://"+cfg.Listen, nil)
	require.NoError(t, c.WaitReady(context.Background(), 5*time.Second))
	return c
}

func TestGateway_EndToEnd(t *testing.T) {
	c := startGateway(t)
	ctx := context.Background()

	env, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Service is running", env.Data)

	cmd := "cd /tmp && X=42"
	_, err = c.Bash(ctx, api.BashRequest{Command: &cmd})
	require.NoError(t, err)
	cmd = "echo $X; pwd"
	reply, err := c.Bash(ctx, api.BashRequest{Command: &cmd})
	require.NoError(t, err)
	assert.Equal(t, "42\n/tmp", reply.Data)
	require.NotNil(t, reply.ExitCode)
	assert.Equal(t, 0, *reply.ExitCode)

	st, err := c.BashStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "running", st.State)
	assert.Equal(t, 2, st.Commands)

	path := filepath.Join(t.TempDir(), "notes.txt")
	text := "one\ntwo\n"
	_, err = c.Edit(ctx, api.EditRequest{Command: "create", Path: path, FileText: &text})
	require.NoError(t, err)
	env, err = c.Edit(ctx, api.EditRequest{Command: "view", Path: path, ViewRange: []int{2, 2}})
	require.NoError(t, err)
	assert.Equal(t, "two", env.Data)
}
