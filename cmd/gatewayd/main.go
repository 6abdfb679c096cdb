package main

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/urfave/cli/v2"

	"automation-gateway/internal/config"
)

var version = "dev"

func main() {
	if err := buildApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "gatewayd:", err)
		os.Exit(1)
	}
}

func buildApp() *cli.App {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "TOML or YAML config file", EnvVars: []string{config.EnvConfigFile}},
		&cli.StringFlag{Name: "listen", Usage: "listen address (default :8080)"},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		&cli.StringFlag{Name: "shell-mode", Usage: "pipe or pty"},
		&cli.StringFlag{Name: "display", Usage: "X display for GUI actions"},
	}
	return &cli.App{
		Name:    "gatewayd",
		Usage:   "sandbox automation gateway",
		Version: version,
		Flags:   flags,
		Action:  serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP gateway",
				Flags:  flags,
				Action: serve,
			},
			{
				Name:  "config",
				Usage: "print the effective configuration as TOML",
				Flags: flags,
				Action: func(cctx *cli.Context) error {
					cfg, err := loadConfig(cctx)
					if err != nil {
						return err
					}
					b, err := toml.Marshal(cfg)
					if err != nil {
						return err
					}
					_, err = cctx.App.Writer.Write(b)
					return err
				},
			},
		},
	}
}

// loadConfig resolves the file and environment layers, then applies any
// flags given on the command line.
func loadConfig(cctx *cli.Context) (config.Config, error) {
	cfg, err := config.Load(cctx.String("config"), os.Getenv)
	if err != nil {
		return config.Config{}, err
	}
	if cctx.IsSet("listen") {
		cfg.Listen = cctx.String("listen")
	}
	if cctx.IsSet("log-level") {
		cfg.LogLevel = cctx.String("log-level")
	}
	if cctx.IsSet("shell-mode") {
		cfg.Shell.Mode = cctx.String("shell-mode")
	}
	if cctx.IsSet("display") {
		cfg.Desktop.Display = cctx.String("display")
	}
	return cfg, cfg.Validate()
}
