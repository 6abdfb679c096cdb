package main

import (
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"automation-gateway/api"
)

func editCommand() *cli.Command {
	pathArg := func(cctx *cli.Context) (string, error) {
		if cctx.NArg() != 1 {
			return "", cli.Exit("expected exactly one PATH argument", 2)
		}
		return cctx.Args().First(), nil
	}
	textFlags := []cli.Flag{
		&cli.StringFlag{Name: "text", Usage: "text to write"},
		&cli.StringFlag{Name: "from", Usage: "read the text from this file (- for stdin)"},
	}
	send := func(cctx *cli.Context, req api.EditRequest) error {
		env, err := gw(cctx).Edit(cctx.Context, req)
		return printEnvelope(cctx, env, err)
	}

	return &cli.Command{
		Name:  "edit",
		Usage: "view and edit files inside the sandbox",
		Subcommands: []*cli.Command{
			{
				Name:      "view",
				ArgsUsage: "PATH",
				Flags:     []cli.Flag{&cli.StringFlag{Name: "range", Usage: "START,END (END -1 for end of file)"}},
				Action: func(cctx *cli.Context) error {
					path, err := pathArg(cctx)
					if err != nil {
						return err
					}
					rng, err := parseInts(cctx.String("range"))
					if err != nil {
						return cli.Exit(err.Error(), 2)
					}
					return send(cctx, api.EditRequest{Command: "view", Path: path, ViewRange: rng})
				},
			},
			{
				Name:      "create",
				ArgsUsage: "PATH",
				Flags:     textFlags,
				Action: func(cctx *cli.Context) error {
					path, err := pathArg(cctx)
					if err != nil {
						return err
					}
					text, err := textInput(cctx)
					if err != nil {
						return err
					}
					return send(cctx, api.EditRequest{Command: "create", Path: path, FileText: &text})
				},
			},
			{
				Name:      "str-replace",
				ArgsUsage: "PATH",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "old", Required: true},
					&cli.StringFlag{Name: "new"},
				},
				Action: func(cctx *cli.Context) error {
					path, err := pathArg(cctx)
					if err != nil {
						return err
					}
					old, repl := cctx.String("old"), cctx.String("new")
					return send(cctx, api.EditRequest{Command: "str_replace", Path: path, OldStr: &old, NewStr: &repl})
				},
			},
			{
				Name:      "insert",
				ArgsUsage: "PATH",
				Flags:     append([]cli.Flag{&cli.IntFlag{Name: "line", Required: true, Usage: "insert after this line (0 = top)"}}, textFlags...),
				Action: func(cctx *cli.Context) error {
					path, err := pathArg(cctx)
					if err != nil {
						return err
					}
					text, err := textInput(cctx)
					if err != nil {
						return err
					}
					line := cctx.Int("line")
					return send(cctx, api.EditRequest{Command: "insert", Path: path, FileText: &text, InsertLine: &line})
				},
			},
			{
				Name:      "undo",
				ArgsUsage: "PATH",
				Action: func(cctx *cli.Context) error {
					path, err := pathArg(cctx)
					if err != nil {
						return err
					}
					return send(cctx, api.EditRequest{Command: "undo_edit", Path: path})
				},
			},
		},
	}
}

func textInput(cctx *cli.Context) (string, error) {
	switch from := cctx.String("from"); from {
	case "":
		if !cctx.IsSet("text") {
			return "", cli.Exit("one of --text or --from is required", 2)
		}
		return cctx.String("text"), nil
	case "-":
		b, err := io.ReadAll(cctx.App.Reader)
		return string(b), err
	default:
		b, err := os.ReadFile(from)
		return string(b), err
	}
}
