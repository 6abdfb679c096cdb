// Package client talks to a running gateway over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"

	"automation-gateway/api"
)

const DefaultBaseURL = "http://127.0.0.1:8080"

type Client struct {
	base string
	http *http.Client
}

// New returns a Client for base. A nil hc uses a client with no overall
// timeout; shell commands may legitimately run for a long time.
func New(base string, hc *http.Client) *Client {
	if base == "" {
		base = DefaultBaseURL
	}
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

// StatusError is a non-200 reply. Envelope holds the gateway's error
// envelope when the body could be decoded.
type StatusError struct {
	Status   int
	Envelope api.Envelope
}

func (e *StatusError) Error() string {
	if e.Envelope.Data != "" {
		return fmt.Sprintf("gateway: %d: %s", e.Status, e.Envelope.Data)
	}
	return fmt.Sprintf("gateway: %d %s", e.Status, http.StatusText(e.Status))
}

// BashReply is a /bash envelope with the exit status from X-Exit-Code.
// ExitCode is nil for restarts.
type BashReply struct {
	api.Envelope
	ExitCode *int
}

func (c *Client) Health(ctx context.Context) (api.Envelope, error) {
	env, _, err := c.do(ctx, http.MethodGet, "/health", nil)
	return env, err
}

func (c *Client) Computer(ctx context.Context, req api.ActionRequest) (api.Envelope, error) {
	env, _, err := c.do(ctx, http.MethodPost, "/computer", req)
	return env, err
}

func (c *Client) Edit(ctx context.Context, req api.EditRequest) (api.Envelope, error) {
	env, _, err := c.do(ctx, http.MethodPost, "/edit", req)
	return env, err
}

func (c *Client) Bash(ctx context.Context, req api.BashRequest) (BashReply, error) {
	env, hdr, err := c.do(ctx, http.MethodPost, "/bash", req)
	out := BashReply{Envelope: env}
	if v := hdr.Get(api.HeaderExitCode); v != "" {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			out.ExitCode = &n
		}
	}
	return out, err
}

func (c *Client) BashStatus(ctx context.Context) (api.BashStatus, error) {
	env, _, err := c.do(ctx, http.MethodGet, "/bash/status", nil)
	if err != nil {
		return api.BashStatus{}, err
	}
	var st api.BashStatus
	if err := json.Unmarshal([]byte(env.Data), &st); err != nil {
		return api.BashStatus{}, fmt.Errorf("decode bash status: %w", err)
	}
	return st, nil
}

// WaitReady polls /health with exponential backoff until it succeeds, ctx
// ends or maxWait elapses.
func (c *Client) WaitReady(ctx context.Context, maxWait time.Duration) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = maxWait
	return backoff.Retry(func() error {
		env, err := c.Health(ctx)
		if err != nil {
			return err
		}
		if env.Kind != api.KindSuccess {
			return fmt.Errorf("gateway not healthy: %s", env.Data)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

// Events streams /events to fn until ctx ends, the connection drops or fn
// returns an error.
func (c *Client) Events(ctx context.Context, fn func(api.Event) error) error {
	url := "ws" + strings.TrimPrefix(c.base, "http") + "/events"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPClient: c.http})
	if err != nil {
		return fmt.Errorf("dial events: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return err
		}
		var evt api.Event
		if err := json.Unmarshal(msg, &evt); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (api.Envelope, http.Header, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return api.Envelope{}, nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return api.Envelope{}, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return api.Envelope{}, nil, err
	}
	defer resp.Body.Close()

	var env api.Envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)
	if resp.StatusCode != http.StatusOK {
		return env, resp.Header, &StatusError{Status: resp.StatusCode, Envelope: env}
	}
	if decodeErr != nil {
		return api.Envelope{}, resp.Header, fmt.Errorf("decode %s response: %w", path, decodeErr)
	}
	return env, resp.Header, nil
}
