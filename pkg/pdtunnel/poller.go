package pdtunnel

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

const readyEvents = unix.POLLIN | unix.POLLHUP | unix.POLLERR

// waitReadable blocks for at most timeout until one or more of fds is readable
// (or hung up), and returns those fds in the order given. An interrupted wait
// returns no fds and no error.
func waitReadable(fds []int, timeout time.Duration) ([]int, error) {
	pfds := make([]unix.PollFd, len(fds))
	for i, fd := range fds {
		pfds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}

	n, err := unix.Poll(pfds, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, err
	}

	ready := make([]int, 0, n)
	for _, pfd := range pfds {
		if pfd.Revents&readyEvents != 0 {
			ready = append(ready, int(pfd.Fd))
		}
	}
	return ready, nil
}
