package pdtunnel

import (
	"errors"
	"fmt"
	"io"
	"syscall"

	pdshare "github.com/sammck-go/pydevtunnel/share"
)

// PipeReader is the readable end of the pipe. *os.File and the net.Conn
// implementations of the standard library satisfy it.
type PipeReader interface {
	io.Reader
	SyscallConn() (syscall.RawConn, error)
}

type flusher interface {
	Flush() error
}

// PipeTransport is the Processor for the pipe shared with the peer process.
// It decodes incoming frames, routes control lines, hands data frames to the
// matching TunnelClient, and writes frames on behalf of every other component.
type PipeTransport struct {
	pdshare.Logger
	d       *Dispatcher
	r       PipeReader
	w       io.Writer
	handle  int
	readBuf []byte
	lines   lineBuffer
}

// NewPipeTransport creates the transport over r and w. The caller registers
// it with d.AddProcessor.
func NewPipeTransport(d *Dispatcher, r PipeReader, w io.Writer) (*PipeTransport, error) {
	handle, err := descriptorOf(r)
	if err != nil {
		return nil, d.Errorf("unable to get pipe descriptor: %w", err)
	}
	t := &PipeTransport{
		Logger:  d.forkLogger("pipe"),
		d:       d,
		r:       r,
		w:       w,
		handle:  handle,
		readBuf: make([]byte, d.config.ReadChunkSize),
	}
	t.DLogf("create new pipe client/server (fd %d)", handle)
	return t, nil
}

// Key is part of the Processor interface
func (t *PipeTransport) Key() Key {
	return TransportKey()
}

// Handle is part of the Processor interface
func (t *PipeTransport) Handle() int {
	return t.handle
}

// Close is part of the Processor interface. The pipe lives as long as the
// process, so there is nothing to release.
func (t *PipeTransport) Close() error {
	return nil
}

// OnInputReady is part of the Processor interface
func (t *PipeTransport) OnInputReady() {
	n, err := t.r.Read(t.readBuf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			t.ILogf("the end of the pipe has been closed; exiting")
			t.d.fail(ErrPipeClosed)
		} else {
			t.ELogf("pipe read failed: %s", err)
			t.d.fail(fmt.Errorf("%w: %s", ErrPipeClosed, err))
		}
		return
	}
	t.lines.Append(t.readBuf[:n])

	for t.d.fatalErr == nil {
		line, ok := t.lines.Next()
		if !ok {
			break
		}
		t.processLine(line)
	}
}

func (t *PipeTransport) processLine(line string) {
	frame, err := ParseFrame(line)
	if err != nil {
		t.d.dropFrame()
		t.WLogf("dropping line: %s", err)
		return
	}

	cmd, ok := frame.Command()
	if !ok {
		t.dispatchToClient(frame.LocalPort, frame.RemotePort, frame.Rest+"\n")
		return
	}

	switch cmd {
	case CommandStartClient:
		t.startClient(frame.LocalPort, frame.RemotePort)
	case CommandStopClient:
		t.stopClient(frame.LocalPort, frame.RemotePort)
	case CommandStartServer:
		t.startServer(frame.LocalPort)
	case CommandStopServer:
		t.stopServer(frame.LocalPort)
	}
}

// Send writes one frame to the peer as a single write followed by a flush.
// A failed write means the peer is unreachable, which ends the loop with ErrPipeClosed.
func (t *PipeTransport) Send(localPort, remotePort, payload string) error {
	frame := FormatFrame(localPort, remotePort, payload)
	t.TLogf("send %q", frame)
	_, err := t.w.Write([]byte(frame))
	if err == nil {
		if f, ok := t.w.(flusher); ok {
			err = f.Flush()
		}
	}
	if err != nil {
		err = fmt.Errorf("%w: write failed: %s", ErrPipeClosed, err)
		t.ELogf("%s", err)
		t.d.fail(err)
		return err
	}
	return nil
}

// SendCommand writes a control line to the peer
func (t *PipeTransport) SendCommand(localPort, remotePort string, cmd Command) error {
	return t.Send(localPort, remotePort, string(cmd)+"\n")
}

func (t *PipeTransport) startServer(localPort string) {
	t.DLogf("start the server on %s", localPort)
	server, err := NewTunnelServer(t.d, localPort)
	if err != nil {
		t.ELogf("unable to start server on %s: %s", localPort, err)
		return
	}
	if err := t.d.AddProcessor(server); err != nil {
		t.WLogf("%s", err)
		server.Close()
	}
}

func (t *PipeTransport) stopServer(localPort string) {
	t.DLogf("stop the server on %s", localPort)
	if server, ok := t.d.FindProcessor(ServerKey(localPort)); ok {
		t.d.RemoveProcessor(server)
	}
}

func (t *PipeTransport) startClient(localPort, remotePort string) {
	t.DLogf("create new client (local: %s, remote: %s)", localPort, remotePort)
	if _, ok := t.d.FindProcessor(ClientKey(localPort, remotePort)); ok {
		t.WLogf("client (local: %s, remote: %s) already exists; ignoring start_client", localPort, remotePort)
		return
	}
	client, err := DialTunnelClient(t.d, localPort, remotePort)
	if err != nil {
		t.ELogf("unable to start client (local: %s, remote: %s): %s", localPort, remotePort, err)
		// let the peer tear down the leg it already accepted
		t.SendCommand(localPort, remotePort, CommandStopClient)
		return
	}
	if err := t.d.AddProcessor(client); err != nil {
		t.WLogf("%s", err)
		client.Close()
	}
}

func (t *PipeTransport) stopClient(localPort, remotePort string) {
	t.DLogf("close the client (local: %s, remote: %s)", localPort, remotePort)
	if client, ok := t.d.FindProcessor(ClientKey(localPort, remotePort)); ok {
		t.d.RemoveProcessor(client)
	}
}

func (t *PipeTransport) dispatchToClient(localPort, remotePort, data string) {
	p, ok := t.d.FindProcessor(ClientKey(localPort, remotePort))
	if !ok {
		t.d.dropFrame()
		t.WLogf("no client (local: %s, remote: %s); dropping %d bytes", localPort, remotePort, len(data))
		return
	}
	client, ok := p.(*TunnelClient)
	if !ok {
		t.d.dropFrame()
		t.ELogf("%s is not a tunnel client; dropping %d bytes", p.Key(), len(data))
		return
	}
	client.Write(data)
}
