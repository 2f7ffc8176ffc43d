package pdtunnel

import (
	"fmt"
	"strconv"
	"syscall"
)

// Processor is an I/O endpoint serviced by the Dispatcher: the pipe transport,
// a tunnel server's listener, or a tunnel client's connection.
//
// All methods are invoked from the dispatch goroutine only.
type Processor interface {
	// Key returns the logical identity of the endpoint
	Key() Key

	// Handle returns the OS descriptor the Dispatcher waits on for readability
	Handle() int

	// OnInputReady is called when Handle() is readable. It must not block.
	OnInputReady()

	// Close releases the endpoint. It is called by the Dispatcher when the
	// processor is removed, and is safe to call more than once.
	Close() error
}

type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}

// descriptorOf returns the descriptor behind a net.Conn, net.Listener or *os.File
// without changing its blocking mode.
func descriptorOf(c syscallConner) (int, error) {
	rc, err := c.SyscallConn()
	if err != nil {
		return -1, err
	}
	fd := -1
	err = rc.Control(func(s uintptr) {
		fd = int(s)
	})
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// parsePort converts a wire port string to a TCP port number
func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", s, err)
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}
