package main

import (
	"encoding/base64"
	"os"

	"github.com/urfave/cli/v2"

	"automation-gateway/api"
)

func computerCommand() *cli.Command {
	return &cli.Command{
		Name:      "computer",
		Usage:     "perform a GUI action on the sandbox display",
		ArgsUsage: "ACTION",
		Description: "ACTION is one of key, type, mouse_move, left_click, left_click_drag,\n" +
			"right_click, middle_click, double_click, screenshot or cursor_position.\n" +
			"Drag in two calls: mouse_move to the start, then left_click_drag to the end.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "text", Usage: "keys or text for key/type"},
			&cli.StringFlag{Name: "at", Usage: "X,Y coordinate"},
			&cli.StringFlag{Name: "out", Usage: "write the screenshot PNG to this file"},
		},
		Action: func(cctx *cli.Context) error {
			if cctx.NArg() != 1 {
				return cli.Exit("expected exactly one ACTION argument", 2)
			}
			req := api.ActionRequest{Action: cctx.Args().First()}
			if cctx.IsSet("text") {
				text := cctx.String("text")
				req.Text = &text
			}
			coord, err := parseInts(cctx.String("at"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			req.Coordinate = coord

			env, err := gw(cctx).Computer(cctx.Context, req)
			if err != nil || env.Kind != api.KindBase64 || cctx.String("out") == "" {
				return printEnvelope(cctx, env, err)
			}
			img, err := base64.StdEncoding.DecodeString(env.Data)
			if err != nil {
				return err
			}
			return os.WriteFile(cctx.String("out"), img, 0o644)
		},
	}
}
