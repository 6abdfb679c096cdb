package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"automation-gateway/internal/config"
	"automation-gateway/internal/desktop"
	"automation-gateway/internal/edit"
	"automation-gateway/internal/lifecycle"
	"automation-gateway/internal/logging"
	"automation-gateway/internal/server"
	"automation-gateway/internal/telemetry"
	"automation-gateway/internal/term"
)

const shutdownTimeout = 10 * time.Second

func serve(cctx *cli.Context) error {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return err
	}
	return run(cctx.Context, cfg)
}

func run(ctx context.Context, cfg config.Config) error {
	logger := logging.NewLogger(logging.Options{Level: cfg.LogLevel, Service: "gatewayd", Version: version})

	metrics, err := telemetry.Init(ctx, telemetry.Options{
		Exporter:    cfg.Metrics.Exporter,
		Interval:    cfg.Metrics.Interval.Std(),
		ServiceName: "gatewayd",
		Version:     version,
	})
	if err != nil {
		return err
	}

	hub := server.NewEventHub(logging.For(logger, "events"))
	shell := term.NewManager(term.SessionConfig{
		Shell:     cfg.Shell.Path,
		Mode:      term.Mode(cfg.Shell.Mode),
		Timeout:   cfg.Shell.CommandTimeout.Std(),
		StopGrace: cfg.Shell.StopGrace.Std(),
		MaxOutput: cfg.Shell.MaxOutputBytes,
	}, logging.For(logger, "bash"), hub.Publish)

	srv := server.New(server.Deps{
		Desktop: desktop.New(desktop.Config{
			Display:       cfg.Desktop.Display,
			Xdotool:       cfg.Desktop.Xdotool,
			Scrot:         cfg.Desktop.Scrot,
			ScreenshotDir: cfg.Desktop.ScreenshotDir,
			MaxWidth:      cfg.Desktop.ScreenshotMaxWidth,
			TypeDelay:     cfg.Desktop.TypeDelay.Std(),
		}, nil, logging.For(logger, "desktop")),
		Editor:       edit.NewEditor(edit.DefaultBackupSuffix, logging.For(logger, "edit")),
		Shell:        shell,
		Events:       hub,
		Logger:       logging.For(logger, "http"),
		Metrics:      metrics,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc := lifecycle.NewManager()
	lc.AddRun("bash", shell.Run)
	lc.AddRun("http", func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() {
			logger.Info("gatewayd listening", "addr", cfg.Listen, "display", cfg.Desktop.Display, "shell_mode", cfg.Shell.Mode)
			errCh <- httpSrv.ListenAndServe()
		}()
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	lc.AddShutdown("metrics", metrics.Shutdown)

	err = lc.StartAndWait(ctx, os.Interrupt, syscall.SIGTERM)
	logger.Info("gatewayd stopped")
	return err
}
