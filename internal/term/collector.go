package term

import (
	"bytes"
	"strconv"
)

const (
	truncatedNotice = "\n... [output truncated]"
	nonceLen        = 32

	// statusLen bounds the exit status text after a marker.
	statusLen = 12
)

// collector accumulates one output stream of a command until a marker line
// for the current nonce is seen. Markers are always printed on their own
// line, so only complete lines are compared against them.
//
// The trailer prints two marker forms: "<marker><rc>" (the status line) and,
// in pipe mode, a bare "<marker>" on stderr. A command that redirects one
// stream into the other for the rest of the session moves a marker to the
// other stream, so the collector records which forms it saw and the session
// decides completion from both collectors.
type collector struct {
	marker    []byte
	limit     int
	out       bytes.Buffer
	partial   []byte
	truncated bool
	// done is set once any marker for the current nonce was seen; output
	// after it is not part of the command.
	done       bool
	haveStatus bool
	haveBare   bool
	// status is what followed the status marker ("<rc>").
	status string
}

func newCollector(marker string, limit int) *collector {
	return &collector{marker: []byte(marker), limit: limit}
}

// feed consumes p and reports whether a marker line has been seen.
func (c *collector) feed(p []byte) bool {
	c.partial = append(c.partial, p...)
	for {
		i := bytes.IndexByte(c.partial, '\n')
		if i < 0 {
			break
		}
		line := c.partial[:i+1]
		c.partial = c.partial[i+1:]
		if body, ok := c.matchMarker(line); ok {
			if body == "" {
				c.haveBare = true
			} else if !c.haveStatus {
				c.haveStatus = true
				c.status = body
			}
			c.done = true
			continue
		}
		if c.done || isStaleMarker(line) {
			continue
		}
		c.emit(line)
	}
	// A fragment that can no longer turn into a marker line is flushed so a
	// newline-free flood does not grow without bound.
	if len(c.partial) > len(c.marker) && !c.couldBeMarker(trimLine(c.partial)) {
		if !c.done {
			c.emit(c.partial)
		}
		c.partial = nil
	}
	return c.done
}

// couldBeMarker reports whether an unterminated fragment may still grow
// into a marker line of this or an earlier command.
func (c *collector) couldBeMarker(frag []byte) bool {
	if bytes.HasPrefix(frag, c.marker) {
		return len(frag) <= len(c.marker)+statusLen
	}
	if bytes.HasPrefix(frag, []byte(markerPrefix)) {
		return len(frag) <= len(markerPrefix)+nonceLen+1+statusLen
	}
	return false
}

func trimLine(line []byte) []byte {
	line = bytes.TrimRight(line, "\r\n")
	// a pty may leave a stray carriage return in front
	return bytes.TrimLeft(line, "\r")
}

func (c *collector) matchMarker(line []byte) (string, bool) {
	line = trimLine(line)
	if !bytes.HasPrefix(line, c.marker) {
		return "", false
	}
	return string(line[len(c.marker):]), true
}

// isStaleMarker reports whether line is a trailer marker of an earlier
// command: the prefix, a hex nonce, a colon and an optional status.
func isStaleMarker(line []byte) bool {
	line = trimLine(line)
	if !bytes.HasPrefix(line, []byte(markerPrefix)) {
		return false
	}
	rest := line[len(markerPrefix):]
	if len(rest) < nonceLen+1 || rest[nonceLen] != ':' {
		return false
	}
	for _, b := range rest[:nonceLen] {
		if !isHex(b) {
			return false
		}
	}
	status := rest[nonceLen+1:]
	if len(status) == 0 {
		return true
	}
	_, err := strconv.Atoi(string(status))
	return err == nil
}

func isHex(b byte) bool {
	return b >= '0' && b <= '9' || b >= 'a' && b <= 'f'
}

func (c *collector) emit(p []byte) {
	if c.truncated {
		return
	}
	if c.limit > 0 && c.out.Len()+len(p) > c.limit {
		c.out.Write(p[:c.limit-c.out.Len()])
		c.truncated = true
		return
	}
	c.out.Write(p)
}

// flush moves any pending fragment into the output, used at EOF.
func (c *collector) flush() {
	if len(c.partial) > 0 && !c.done {
		c.emit(c.partial)
	}
	c.partial = nil
}

// text returns the collected output, CR-normalised and trimmed.
func (c *collector) text() string {
	s := bytes.ReplaceAll(c.out.Bytes(), []byte("\r\n"), []byte("\n"))
	s = bytes.TrimSpace(s)
	if c.truncated {
		return string(s) + truncatedNotice
	}
	return string(s)
}

// exitCode parses the status printed after the status marker, -1 if unknown.
func (c *collector) exitCode() int {
	n, err := strconv.Atoi(c.status)
	if err != nil {
		return -1
	}
	return n
}
