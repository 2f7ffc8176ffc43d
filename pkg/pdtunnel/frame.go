package pdtunnel

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Command is one of the four control verbs carried in the third field of a frame
type Command string

const (
	CommandStartClient Command = "start_client"
	CommandStopClient  Command = "stop_client"
	CommandStartServer Command = "start_server"
	CommandStopServer  Command = "stop_server"
)

const (
	fieldSeparator = "\t"
	lineTerminator = '\n'

	// A pydev "cmd_id\tseq\tpayload" line with these first two fields announces
	// a new debug server started by a forked debuggee.
	multiprocCommandID = "99"
	multiprocSequence  = "-1"
)

// ErrMalformedFrame is returned for a line without three tab separated fields
var ErrMalformedFrame = errors.New("malformed frame")

// ParseCommand returns the Command that s spells exactly, if any
func ParseCommand(s string) (Command, bool) {
	switch c := Command(s); c {
	case CommandStartClient, CommandStopClient, CommandStartServer, CommandStopServer:
		return c, true
	}
	return "", false
}

// Frame is one line of the pipe protocol, without its terminating newline
type Frame struct {
	LocalPort  string
	RemotePort string
	Rest       string
}

// ParseFrame splits a line into local port, remote port and the remainder.
// The remainder may itself contain tabs.
func ParseFrame(line string) (Frame, error) {
	fields := strings.SplitN(line, fieldSeparator, 3)
	if len(fields) < 3 {
		return Frame{}, fmt.Errorf("%w: %q", ErrMalformedFrame, line)
	}
	return Frame{
		LocalPort:  fields[0],
		RemotePort: fields[1],
		Rest:       fields[2],
	}, nil
}

// Command reports whether the frame is a control line, and which one
func (f Frame) Command() (Command, bool) {
	return ParseCommand(f.Rest)
}

// FormatFrame produces the wire form of a frame. payload is expected to carry
// its own trailing newline.
func FormatFrame(localPort, remotePort, payload string) string {
	return localPort + fieldSeparator + remotePort + fieldSeparator + payload
}

// ParseMultiprocMarker inspects a forwarded payload line and returns the
// advertised port if the line is a multiproc marker.
func ParseMultiprocMarker(line string) (string, bool) {
	fields := strings.SplitN(line, fieldSeparator, 3)
	if len(fields) != 3 || fields[0] != multiprocCommandID || fields[1] != multiprocSequence {
		return "", false
	}
	return fields[2], true
}

// lineBuffer accumulates bytes across reads and hands out complete lines
type lineBuffer struct {
	buf []byte
}

func (b *lineBuffer) Append(p []byte) {
	b.buf = append(b.buf, p...)
}

// Next returns the next complete line without its newline. A trailing
// partial line stays buffered.
func (b *lineBuffer) Next() (string, bool) {
	i := bytes.IndexByte(b.buf, lineTerminator)
	if i < 0 {
		return "", false
	}
	line := string(b.buf[:i])
	b.buf = b.buf[i+1:]
	if len(b.buf) == 0 {
		b.buf = nil
	}
	return line, true
}

// Len returns the number of buffered bytes not yet returned as a line
func (b *lineBuffer) Len() int {
	return len(b.buf)
}
