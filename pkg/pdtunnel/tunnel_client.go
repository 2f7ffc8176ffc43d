package pdtunnel

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/jpillora/sizestr"

	pdshare "github.com/sammck-go/pydevtunnel/share"
)

// TunnelClient forwards one TCP connection through the pipe. Lines read from
// the socket are framed with the client's key and sent to the peer; data
// frames from the peer are written to the socket as-is.
//
// Lines read from the socket are also inspected for the multiproc marker, and
// every advertised port gets a ServerMonitor.
type TunnelClient struct {
	pdshare.Logger
	d          *Dispatcher
	conn       net.Conn
	handle     int
	localPort  string
	remotePort string
	readBuf    []byte
	lines      lineBuffer
	bytesIn    int64
	bytesOut   int64
	closed     bool
}

// DialTunnelClient connects to the local server on localPort, on behalf of the
// peer connection identified by remotePort.
func DialTunnelClient(d *Dispatcher, localPort, remotePort string) (*TunnelClient, error) {
	port, err := parsePort(localPort)
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(d.config.DialHost, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp4", addr, d.config.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s failed: %w", addr, err)
	}
	c, err := newTunnelClient(d, localPort, remotePort, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// NewAcceptedTunnelClient wraps a connection accepted by the TunnelServer on
// localPort. The remote port of the key is the accepted peer's port.
func NewAcceptedTunnelClient(d *Dispatcher, localPort string, conn net.Conn) (*TunnelClient, error) {
	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("accepted connection from non-TCP address %s", conn.RemoteAddr())
	}
	return newTunnelClient(d, localPort, strconv.Itoa(addr.Port), conn)
}

func newTunnelClient(d *Dispatcher, localPort, remotePort string, conn net.Conn) (*TunnelClient, error) {
	sc, ok := conn.(syscallConner)
	if !ok {
		return nil, fmt.Errorf("connection %s does not expose a descriptor", conn.RemoteAddr())
	}
	handle, err := descriptorOf(sc)
	if err != nil {
		return nil, fmt.Errorf("unable to get descriptor of %s: %w", conn.RemoteAddr(), err)
	}
	c := &TunnelClient{
		Logger:     d.forkLogger("client(local: %s, remote: %s)", localPort, remotePort),
		d:          d,
		conn:       conn,
		handle:     handle,
		localPort:  localPort,
		remotePort: remotePort,
		readBuf:    make([]byte, d.config.ReadChunkSize),
	}
	n := d.clientStats.New()
	d.clientStats.Open()
	c.DLogf("start new client #%d %s", n, &d.clientStats)
	return c, nil
}

// Key is part of the Processor interface
func (c *TunnelClient) Key() Key {
	return ClientKey(c.localPort, c.remotePort)
}

// Handle is part of the Processor interface
func (c *TunnelClient) Handle() int {
	return c.handle
}

// LocalPort returns the local port of the client's key
func (c *TunnelClient) LocalPort() string {
	return c.localPort
}

// RemotePort returns the remote port of the client's key
func (c *TunnelClient) RemotePort() string {
	return c.remotePort
}

// OnInputReady is part of the Processor interface
func (c *TunnelClient) OnInputReady() {
	n, err := c.conn.Read(c.readBuf)
	if n == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			c.DLogf("read failed: %s", err)
		}
		c.DLogf("stop this client, and ask remote to stop")
		c.teardown()
		return
	}
	c.bytesIn += int64(n)
	c.lines.Append(c.readBuf[:n])

	for c.d.fatalErr == nil {
		line, ok := c.lines.Next()
		if !ok {
			break
		}
		if port, ok := ParseMultiprocMarker(line); ok {
			c.DLogf("start monitoring for %s", port)
			StartServerMonitor(c.d, port)
		}
		c.TLogf("read: %q", line)
		c.d.sendToPeer(c.localPort, c.remotePort, line+"\n")
	}
}

// Write sends data from the peer to the socket. A failed write tears the leg
// down the same way end-of-stream does, and so does a write that is still
// unfinished after WriteTimeout.
func (c *TunnelClient) Write(data string) error {
	if c.closed {
		return c.Errorf("write on closed client")
	}
	c.TLogf("write: %q", data)
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.d.config.WriteTimeout)); err != nil {
		err = c.WLogErrorf("unable to set write deadline: %s", err)
		c.teardown()
		return err
	}
	n, err := c.conn.Write([]byte(data))
	c.bytesOut += int64(n)
	if err != nil {
		err = c.WLogErrorf("write failed: %s", err)
		c.teardown()
		return err
	}
	return nil
}

// teardown tells the peer the leg is gone and removes the client
func (c *TunnelClient) teardown() {
	c.d.sendCommand(c.localPort, c.remotePort, CommandStopClient)
	c.d.RemoveProcessor(c)
}

// Close is part of the Processor interface
func (c *TunnelClient) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.d.clientStats.Close()
	c.DLogf("close (received %s, sent %s) %s",
		sizestr.ToString(c.bytesIn), sizestr.ToString(c.bytesOut), &c.d.clientStats)
	return c.conn.Close()
}
