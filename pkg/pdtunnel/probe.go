package pdtunnel

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// ProbeFunc reports whether something is listening on host:port. An error
// means the answer is unknown.
type ProbeFunc func(host string, port int) (alive bool, err error)

// ProbeError is returned when a bind probe fails for a reason other than the
// port being in use
type ProbeError struct {
	Port string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe of port %s failed: %s", e.Port, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// BindProbe tries to bind a throwaway listener on host:port. If the bind
// succeeds nobody owns the port and the listener is released at once. If the
// address is in use a server is assumed to be listening.
func BindProbe(host string, port int) (bool, error) {
	ln, err := net.Listen("tcp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err == nil {
		ln.Close()
		return false, nil
	}
	if errors.Is(err, unix.EADDRINUSE) {
		return true, nil
	}
	return false, err
}
