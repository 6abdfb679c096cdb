package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"automation-gateway/api"
)

// replCmd sends each stdin line to /bash. The prompt is shown only when
// stdin is a terminal so piped scripts produce clean output.
func replCmd(cctx *cli.Context) error {
	interactive := false
	if f, ok := cctx.App.Reader.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	c := gw(cctx)
	out := cctx.App.Writer
	sc := bufio.NewScanner(cctx.App.Reader)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for {
		if interactive {
			fmt.Fprint(out, "gateway$ ")
		}
		if !sc.Scan() {
			break
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		case ":restart":
			reply, err := c.Bash(cctx.Context, api.BashRequest{Restart: true})
			if err != nil {
				fmt.Fprintln(cctx.App.ErrWriter, err)
				continue
			}
			fmt.Fprintln(out, reply.Data)
			continue
		}
		reply, err := c.Bash(cctx.Context, api.BashRequest{Command: &line})
		if err != nil {
			fmt.Fprintln(cctx.App.ErrWriter, err)
			continue
		}
		if reply.Data != "" {
			fmt.Fprintln(out, reply.Data)
		}
	}
	return sc.Err()
}
