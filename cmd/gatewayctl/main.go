package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"automation-gateway/api"
	"automation-gateway/internal/client"
)

func main() {
	if err := buildApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "gatewayctl:", err)
		os.Exit(1)
	}
}

func buildApp() *cli.App {
	return &cli.App{
		Name:  "gatewayctl",
		Usage: "drive a running automation gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Aliases: []string{"s"}, Value: client.DefaultBaseURL, EnvVars: []string{"GATEWAY_URL"}, Usage: "gateway base URL"},
		},
		Commands: []*cli.Command{
			{
				Name:  "health",
				Usage: "check that the gateway is up",
				Action: func(cctx *cli.Context) error {
					env, err := gw(cctx).Health(cctx.Context)
					return printEnvelope(cctx, env, err)
				},
			},
			{
				Name:  "wait",
				Usage: "block until the gateway answers /health",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "timeout", Value: 30 * time.Second},
				},
				Action: func(cctx *cli.Context) error {
					return gw(cctx).WaitReady(cctx.Context, cctx.Duration("timeout"))
				},
			},
			{
				Name:      "bash",
				Usage:     "run a command in the persistent shell",
				ArgsUsage: "COMMAND...",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "restart", Usage: "restart the shell session instead"},
				},
				Action: bashCmd,
			},
			{
				Name:  "status",
				Usage: "show the shell session status",
				Action: func(cctx *cli.Context) error {
					st, err := gw(cctx).BashStatus(cctx.Context)
					if err != nil {
						return err
					}
					return printJSON(cctx, st)
				},
			},
			{
				Name:   "repl",
				Usage:  "send stdin lines to the persistent shell one at a time",
				Action: replCmd,
			},
			editCommand(),
			computerCommand(),
			{
				Name:  "events",
				Usage: "stream gateway events as JSON lines",
				Action: func(cctx *cli.Context) error {
					return gw(cctx).Events(cctx.Context, func(e api.Event) error {
						return printJSON(cctx, e)
					})
				},
			},
		},
	}
}

func gw(cctx *cli.Context) *client.Client {
	return client.New(cctx.String("server"), nil)
}

func bashCmd(cctx *cli.Context) error {
	req := api.BashRequest{Restart: cctx.Bool("restart")}
	if !req.Restart {
		cmd := strings.Join(cctx.Args().Slice(), " ")
		if cmd == "" {
			return cli.Exit("missing COMMAND", 2)
		}
		req.Command = &cmd
	}
	reply, err := gw(cctx).Bash(cctx.Context, req)
	if perr := printEnvelope(cctx, reply.Envelope, err); perr != nil {
		return perr
	}
	if reply.ExitCode != nil && *reply.ExitCode != 0 {
		return cli.Exit("", *reply.ExitCode)
	}
	return nil
}

// printEnvelope writes the envelope data, or turns a gateway error into a
// non-zero exit carrying the gateway's message.
func printEnvelope(cctx *cli.Context, env api.Envelope, err error) error {
	var se *client.StatusError
	if errors.As(err, &se) {
		return cli.Exit(se.Envelope.Data, 1)
	}
	if err != nil {
		return err
	}
	out := env.Data
	if out != "" && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	_, err = fmt.Fprint(cctx.App.Writer, out)
	return err
}

func printJSON(cctx *cli.Context, v any) error {
	enc := json.NewEncoder(cctx.App.Writer)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// parseInts parses "a,b" style lists.
func parseInts(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}
