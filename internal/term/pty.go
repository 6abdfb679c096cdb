package term

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

const (
	ptyRows = 40
	ptyCols = 200
)

// startPTY starts cmd attached to a new pseudo-terminal with local echo off,
// so text written to the shell never comes back as output. The returned file
// is the master side and serves as both input and output.
func startPTY(cmd *exec.Cmd) (*os.File, error) {
	master, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: ptyRows, Cols: ptyCols})
	if err != nil {
		return nil, err
	}
	if err := disableEcho(master); err != nil {
		_ = cmd.Process.Kill()
		_ = master.Close()
		return nil, fmt.Errorf("disable pty echo: %w", err)
	}
	return master, nil
}

func disableEcho(f *os.File) error {
	fd := int(f.Fd())
	t, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return err
	}
	t.Lflag &^= unix.ECHO | unix.ECHONL
	// keep output bytes as written; no \n -> \r\n translation
	t.Oflag &^= unix.ONLCR
	return unix.IoctlSetTermios(fd, ioctlSetTermios, t)
}
