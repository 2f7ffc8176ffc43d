package pdtunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	pdshare "github.com/sammck-go/pydevtunnel/share"
)

// Role names the side of the tunnel a Session runs on
type Role string

const (
	// RoleLocal runs next to the IDE and spawns the worker command that hosts
	// the remote side
	RoleLocal Role = "local"

	// RoleRemote runs next to the debuggee, with stdin/stdout as the pipe
	RoleRemote Role = "remote"
)

// Session wires a Dispatcher to a pipe and runs its loop in a goroutine.
// A local session also owns the worker process at the other end of the pipe.
type Session struct {
	pdshare.ShutdownHelper
	id     string
	role   Role
	d      *Dispatcher
	writer *bufio.Writer

	cmd     *exec.Cmd
	closers []io.Closer
}

func newSessionID() string {
	return uuid.New().String()[:8]
}

func newSession(logger pdshare.Logger, config *Config, role Role, r PipeReader, w io.Writer) (*Session, error) {
	id := newSessionID()
	sl := logger.Fork("%s %s", role, id)
	s := &Session{
		id:     id,
		role:   role,
		d:      NewDispatcher(sl, config),
		writer: bufio.NewWriter(w),
	}
	s.InitShutdownHelper(sl, s)

	t, err := NewPipeTransport(s.d, r, s.writer)
	if err != nil {
		return nil, err
	}
	if err := s.d.AddProcessor(t); err != nil {
		return nil, err
	}
	return s, nil
}

// NewRemoteSession creates the remote side of the tunnel, using the process's
// stdin and stdout as the pipe. It runs until the pipe closes or ctx is done.
func NewRemoteSession(logger pdshare.Logger, config *Config) (*Session, error) {
	config = copyConfig(config)
	config.AutoStop = false
	return newSession(logger, config, RoleRemote, os.Stdin, os.Stdout)
}

// NewLocalSession spawns command with its stdin and stdout connected to a new
// pipe, then starts monitoring the debug server on localPort. The session ends
// once no monitored server remains, and the worker is terminated.
func NewLocalSession(logger pdshare.Logger, config *Config, localPort string, command []string) (*Session, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("no worker command given")
	}
	if _, err := parsePort(localPort); err != nil {
		return nil, err
	}
	config = copyConfig(config)
	config.AutoStop = true

	// the worker reads frames from toWorkerR and writes frames to fromWorkerW
	toWorkerR, toWorkerW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("unable to create pipe: %w", err)
	}
	fromWorkerR, fromWorkerW, err := os.Pipe()
	if err != nil {
		toWorkerR.Close()
		toWorkerW.Close()
		return nil, fmt.Errorf("unable to create pipe: %w", err)
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stdin = toWorkerR
	cmd.Stdout = fromWorkerW
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{toWorkerR, toWorkerW, fromWorkerR, fromWorkerW} {
			f.Close()
		}
		return nil, fmt.Errorf("unable to start %q: %w", command[0], err)
	}
	// the child holds its own copies
	toWorkerR.Close()
	fromWorkerW.Close()

	s, err := newSession(logger, config, RoleLocal, fromWorkerR, toWorkerW)
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		toWorkerW.Close()
		fromWorkerR.Close()
		return nil, err
	}
	s.cmd = cmd
	s.closers = []io.Closer{toWorkerW, fromWorkerR}
	s.DLogf("started worker %q (pid %d)", command, cmd.Process.Pid)

	StartServerMonitor(s.d, localPort)
	return s, nil
}

func copyConfig(config *Config) *Config {
	if config == nil {
		return DefaultConfig()
	}
	c := *config
	c.ApplyDefaults()
	return &c
}

// ID returns the short id that tags the session's log lines
func (s *Session) ID() string {
	return s.id
}

// Role returns the side of the tunnel this session runs on
func (s *Session) Role() Role {
	return s.role
}

// Dispatcher returns the session's dispatcher. It must not be used while the
// loop is running.
func (s *Session) Dispatcher() *Dispatcher {
	return s.d
}

// Start runs the dispatch loop in a new goroutine. When the loop ends, for
// whatever reason, shutdown begins with the loop's result as completion status.
// Shutdown also begins as soon as ctx is done, without waiting for the loop to
// notice.
func (s *Session) Start(ctx context.Context) {
	if s.StartLoop(ctx, s.d.Run) {
		s.ShutdownOnContext(ctx)
	}
}

// Run starts the session and waits for it to shut down
func (s *Session) Run(ctx context.Context) error {
	s.Start(ctx)
	return s.WaitShutdown()
}

// HandleOnceShutdown stops the loop, releases every processor, and terminates
// the worker of a local session.
func (s *Session) HandleOnceShutdown(completionErr error) error {
	s.StopLoop()
	s.d.CloseAll()
	if err := s.writer.Flush(); err != nil && !errors.Is(completionErr, ErrPipeClosed) {
		s.DLogf("final flush failed: %s", err)
	}

	if s.cmd != nil {
		s.stopWorker()
	}
	for _, c := range s.closers {
		c.Close()
	}

	if completionErr != nil {
		s.DLogf("session ended: %s", completionErr)
	} else {
		s.DLogf("session ended")
	}
	return completionErr
}

func (s *Session) stopWorker() {
	if s.cmd.ProcessState == nil {
		if err := s.cmd.Process.Signal(unix.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.WLogf("unable to terminate worker (pid %d): %s", s.cmd.Process.Pid, err)
		}
	}
	err := s.cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		s.DLogf("worker exited")
	case errors.As(err, &exitErr):
		s.DLogf("worker exited: %s", exitErr)
	default:
		s.WLogf("waiting for worker failed: %s", err)
	}
}
