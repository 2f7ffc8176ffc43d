package pdtunnel

import (
	"errors"
	"net"
	"os"
	"strconv"
	"time"

	pdshare "github.com/sammck-go/pydevtunnel/share"
)

// acceptWait bounds an Accept after the listener was reported readable. The
// pending connection may have been reset in between.
const acceptWait = 10 * time.Millisecond

// TunnelServer listens on a local port on behalf of a server that lives on the
// peer's side. Each accepted connection becomes a TunnelClient, and the peer is
// asked to open the matching connection to its real server.
type TunnelServer struct {
	pdshare.Logger
	d         *Dispatcher
	listener  *net.TCPListener
	handle    int
	localPort string
	closed    bool
}

// NewTunnelServer starts listening on localPort. The caller registers it with
// d.AddProcessor.
func NewTunnelServer(d *Dispatcher, localPort string) (*TunnelServer, error) {
	port, err := parsePort(localPort)
	if err != nil {
		return nil, err
	}
	l := d.forkLogger("server(%s)", localPort)

	addr := net.JoinHostPort(d.config.ListenHost, strconv.Itoa(port))
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		return nil, l.Errorf("listen on %s failed: %w", addr, err)
	}
	listener := ln.(*net.TCPListener)
	handle, err := descriptorOf(listener)
	if err != nil {
		listener.Close()
		return nil, l.Errorf("unable to get listener descriptor: %w", err)
	}

	s := &TunnelServer{
		Logger:    l,
		d:         d,
		listener:  listener,
		handle:    handle,
		localPort: localPort,
	}
	s.DLogf("start new server on %s", listener.Addr())
	return s, nil
}

// Key is part of the Processor interface
func (s *TunnelServer) Key() Key {
	return ServerKey(s.localPort)
}

// Handle is part of the Processor interface
func (s *TunnelServer) Handle() int {
	return s.handle
}

// Addr returns the listening address
func (s *TunnelServer) Addr() net.Addr {
	return s.listener.Addr()
}

// OnInputReady is part of the Processor interface
func (s *TunnelServer) OnInputReady() {
	if err := s.listener.SetDeadline(time.Now().Add(acceptWait)); err != nil {
		s.WLogf("unable to set accept deadline: %s", err)
		return
	}
	conn, err := s.listener.Accept()
	if errors.Is(err, os.ErrDeadlineExceeded) {
		s.DLogf("no connection pending")
		return
	}
	if err != nil {
		s.WLogf("accept failed: %s", err)
		return
	}

	client, err := NewAcceptedTunnelClient(s.d, s.localPort, conn)
	if err != nil {
		s.WLogf("dropping accepted connection: %s", err)
		conn.Close()
		return
	}
	if err := s.d.AddProcessor(client); err != nil {
		s.WLogf("%s", err)
		client.Close()
		return
	}

	s.d.sendCommand(s.localPort, client.RemotePort(), CommandStartClient)
}

// Close is part of the Processor interface
func (s *TunnelServer) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.DLogf("close")
	return s.listener.Close()
}
