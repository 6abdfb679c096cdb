// Package desktop drives the sandbox's X display through xdotool and scrot.
package desktop

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"automation-gateway/api"
	"automation-gateway/internal/apperr"
	"automation-gateway/internal/logging"
	"automation-gateway/internal/term"
)

type Config struct {
	Display       string
	Xdotool       string
	Scrot         string
	ScreenshotDir string
	// MaxWidth downscales screenshots wider than this; 0 keeps full size.
	MaxWidth  int
	TypeDelay time.Duration
	// Timeout bounds each tool invocation.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Display == "" {
		c.Display = ":1"
	}
	if c.Xdotool == "" {
		c.Xdotool = "xdotool"
	}
	if c.Scrot == "" {
		c.Scrot = "scrot"
	}
	if c.ScreenshotDir == "" {
		c.ScreenshotDir = os.TempDir()
	}
	if c.TypeDelay <= 0 {
		c.TypeDelay = 12 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

type Desktop struct {
	cfg    Config
	runner term.Runner
	logger *slog.Logger
}

// New returns a Desktop. A nil runner runs the real tools with DISPLAY set
// to cfg.Display.
func New(cfg Config, runner term.Runner, logger *slog.Logger) *Desktop {
	cfg = cfg.withDefaults()
	if runner == nil {
		runner = term.ProcessRunner{
			Env:     map[string]string{"DISPLAY": cfg.Display},
			Timeout: cfg.Timeout,
		}
	}
	return &Desktop{cfg: cfg, runner: runner, logger: logging.OrDiscard(logger)}
}

// Perform executes a and returns the response envelope for it.
func (d *Desktop) Perform(ctx context.Context, a Action) (api.Envelope, error) {
	switch a := a.(type) {
	case Key:
		return d.xdo(ctx, a, "Key action executed successfully", "key", "--", a.Keys)
	case Type:
		delay := strconv.FormatInt(d.cfg.TypeDelay.Milliseconds(), 10)
		return d.xdo(ctx, a, "Type action executed successfully", "type", "--delay", delay, "--", a.Text)
	case MouseMove:
		return d.xdo(ctx, a, "Mouse move executed successfully", moveArgs(a.To)...)
	case Click:
		var args []string
		if a.At != nil {
			args = moveArgs(*a.At)
		}
		args = append(args, "click")
		if a.Repeat > 1 {
			args = append(args, "--repeat", strconv.Itoa(a.Repeat))
		}
		args = append(args, strconv.Itoa(int(a.Button)))
		return d.xdo(ctx, a, clickMessage(a), args...)
	case Drag:
		args := append([]string{"mousedown", "1"}, moveArgs(a.To)...)
		args = append(args, "mouseup", "1")
		return d.xdo(ctx, a, "Left click drag executed successfully!", args...)
	case CursorPosition:
		return d.cursorPosition(ctx)
	case Screenshot:
		return d.screenshot(ctx)
	default:
		panic(fmt.Sprintf("desktop: unhandled action %T", a))
	}
}

func moveArgs(p Point) []string {
	return []string{"mousemove", "--sync", strconv.Itoa(p.X), strconv.Itoa(p.Y)}
}

func clickMessage(c Click) string {
	switch {
	case c.Repeat > 1:
		return "Double click executed successfully"
	case c.Button == ButtonRight:
		return "Right click executed successfully"
	case c.Button == ButtonMiddle:
		return "Middle click executed successfully"
	default:
		return "Left click executed successfully"
	}
}

func (d *Desktop) xdo(ctx context.Context, a Action, ok string, args ...string) (api.Envelope, error) {
	if _, err := d.runner.Run(ctx, d.cfg.Xdotool, args...); err != nil {
		return api.Envelope{}, apperr.Execution(err, "Failed to execute %s action", a.Name())
	}
	d.logger.Debug("desktop action", "action", a.Name())
	return api.Text(api.KindSuccess, ok), nil
}

func (d *Desktop) cursorPosition(ctx context.Context) (api.Envelope, error) {
	out, err := d.runner.Run(ctx, d.cfg.Xdotool, "getmouselocation", "--shell")
	if err != nil {
		return api.Envelope{}, apperr.Execution(err, "Failed to execute cursor_position action")
	}
	p, err := parseLocation(string(out))
	if err != nil {
		return api.Envelope{}, apperr.Execution(err, "Failed to execute cursor_position action")
	}
	return api.Text(api.KindSuccess, fmt.Sprintf("X=%d, Y=%d", p.X, p.Y)), nil
}

// parseLocation reads the X= and Y= lines of `getmouselocation --shell`.
func parseLocation(out string) (Point, error) {
	var p Point
	var haveX, haveY bool
	for _, line := range strings.Split(out, "\n") {
		k, v, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		switch k {
		case "X":
			p.X, haveX = n, true
		case "Y":
			p.Y, haveY = n, true
		}
	}
	if !haveX || !haveY {
		return Point{}, fmt.Errorf("unexpected getmouselocation output %q", out)
	}
	return p, nil
}

func (d *Desktop) screenshot(ctx context.Context) (api.Envelope, error) {
	path := filepath.Join(d.cfg.ScreenshotDir, "screenshot-"+uuid.NewString()+".png")
	if _, err := d.runner.Run(ctx, d.cfg.Scrot, path); err != nil {
		return api.Envelope{}, apperr.Execution(err, "Failed to take screenshot")
	}
	img, err := os.ReadFile(path)
	if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		d.logger.Warn("screenshot cleanup failed", "path", path, "error", rmErr)
	}
	if err != nil {
		return api.Envelope{}, apperr.Execution(err, "Failed to take screenshot")
	}
	if d.cfg.MaxWidth > 0 {
		scaled, err := downscale(img, d.cfg.MaxWidth)
		if err != nil {
			return api.Envelope{}, apperr.Execution(err, "Failed to take screenshot")
		}
		img = scaled
	}
	return api.Envelope{
		Kind:      api.KindBase64,
		MediaType: api.MediaPNG,
		Data:      base64.StdEncoding.EncodeToString(img),
	}, nil
}
