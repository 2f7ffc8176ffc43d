package pdtunnel

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/prep/socketpair"
	"github.com/stretchr/testify/require"
)

// tunnelPair joins a local and a remote dispatcher with a socket pair. The
// remote side listens on 127.0.0.2 so both sides can share one host's ports.
type tunnelPair struct {
	t      *testing.T
	local  *Dispatcher
	remote *Dispatcher
}

func newTunnelPair(t *testing.T) *tunnelPair {
	probe, err := net.Listen("tcp4", "127.0.0.2:0")
	if err != nil {
		t.Skipf("127.0.0.2 is not usable: %s", err)
	}
	probe.Close()

	a, b, err := socketpair.New("unix")
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})

	lg := newTestLogger(t)
	local := NewDispatcher(lg.Fork("local"), &Config{PollInterval: testPollInterval, ListenHost: "127.0.0.1"})
	remote := NewDispatcher(lg.Fork("remote"), &Config{PollInterval: testPollInterval, ListenHost: "127.0.0.2"})

	for _, side := range []struct {
		d    *Dispatcher
		conn net.Conn
	}{{local, a}, {remote, b}} {
		tr, err := NewPipeTransport(side.d, side.conn.(PipeReader), side.conn)
		require.NoError(t, err)
		require.NoError(t, side.d.AddProcessor(tr))
		t.Cleanup(side.d.CloseAll)
	}
	return &tunnelPair{t: t, local: local, remote: remote}
}

func (p *tunnelPair) pass() {
	for _, d := range []*Dispatcher{p.local, p.remote} {
		_, err := d.Pass()
		require.NoError(p.t, err)
	}
}

func (p *tunnelPair) pumpUntil(what string, cond func() bool) {
	for i := 0; i < maxTestPasses; i++ {
		if cond() {
			return
		}
		p.pass()
	}
	require.FailNow(p.t, "condition never met", what)
}

// readLine pumps both sides until a full line arrives on r
func (p *tunnelPair) readLine(conn net.Conn, r *bufio.Reader) string {
	line := ""
	for i := 0; i < maxTestPasses; i++ {
		p.pass()
		require.NoError(p.t, conn.SetReadDeadline(time.Now().Add(5*time.Millisecond)))
		s, err := r.ReadString('\n')
		line += s
		if err == nil {
			return line
		}
	}
	require.FailNow(p.t, "no line arrived", "partial %q", line)
	return ""
}

func TestTunnelRoundTrip(t *testing.T) {
	p := newTunnelPair(t)

	// the IDE's debug server, on the local side
	ide, port := listenLoopback(t)
	m := StartServerMonitor(p.local, port)
	require.Equal(t, MonitorWatching, m.State())
	p.pumpUntil("remote server", func() bool {
		_, ok := p.remote.FindProcessor(ServerKey(port))
		return ok
	})

	// the debuggee connects to the remote side
	debuggee, err := net.Dial("tcp4", "127.0.0.2:"+port)
	require.NoError(t, err)
	defer debuggee.Close()
	debuggeeR := bufio.NewReader(debuggee)
	p.pumpUntil("local client", func() bool {
		return p.local.Stats().ClientsOpen == 1
	})

	require.NoError(t, ide.SetDeadline(time.Now().Add(2*time.Second)))
	ideConn, err := ide.Accept()
	require.NoError(t, err)
	defer ideConn.Close()
	ideR := bufio.NewReader(ideConn)

	_, err = debuggee.Write([]byte("501\t1\thello\tworld\n"))
	require.NoError(t, err)
	require.Equal(t, "501\t1\thello\tworld\n", p.readLine(ideConn, ideR))

	// the IDE advertises a server for a forked debuggee
	ide2, port2 := listenLoopback(t)
	defer ide2.Close()
	_, err = ideConn.Write([]byte("99\t-1\t" + port2 + "\n"))
	require.NoError(t, err)
	require.Equal(t, "99\t-1\t"+port2+"\n", p.readLine(debuggee, debuggeeR))
	p.pumpUntil("second remote server", func() bool {
		_, ok := p.remote.FindProcessor(ServerKey(port2))
		return ok
	})
	_, ok := p.local.FindMonitor(port2)
	require.True(t, ok)

	// the IDE hangs up the debug session
	require.NoError(t, ideConn.Close())
	p.pumpUntil("clients closed", func() bool {
		return p.local.Stats().ClientsOpen == 0 && p.remote.Stats().ClientsOpen == 0
	})
	require.NoError(t, debuggee.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = debuggeeR.ReadString('\n')
	require.Error(t, err)

	// the IDE stops listening; the remote server follows
	require.NoError(t, ide.Close())
	p.pumpUntil("remote server stopped", func() bool {
		_, ok := p.remote.FindProcessor(ServerKey(port))
		return !ok
	})
	require.Equal(t, MonitorTerminated, m.State())
	_, ok = p.remote.FindProcessor(ServerKey(port2))
	require.True(t, ok)

	require.EqualValues(t, 1, p.local.Stats().ClientsOpened)
	require.EqualValues(t, 1, p.remote.Stats().ClientsOpened)
	require.EqualValues(t, 0, p.local.Stats().FramesDropped)
	require.EqualValues(t, 0, p.remote.Stats().FramesDropped)
}

func TestTunnelLargeLine(t *testing.T) {
	p := newTunnelPair(t)
	ide, port := listenLoopback(t)
	StartServerMonitor(p.local, port)
	p.pumpUntil("remote server", func() bool {
		_, ok := p.remote.FindProcessor(ServerKey(port))
		return ok
	})

	debuggee, err := net.Dial("tcp4", "127.0.0.2:"+port)
	require.NoError(t, err)
	defer debuggee.Close()
	p.pumpUntil("local client", func() bool { return p.local.Stats().ClientsOpen == 1 })
	require.NoError(t, ide.SetDeadline(time.Now().Add(2*time.Second)))
	ideConn, err := ide.Accept()
	require.NoError(t, err)
	defer ideConn.Close()

	// far larger than one read chunk
	payload := make([]byte, 10*DefaultReadChunkSize)
	for i := range payload {
		payload[i] = 'a' + byte(i%26)
	}
	line := string(payload) + "\n"
	_, err = debuggee.Write([]byte(line))
	require.NoError(t, err)

	require.Equal(t, line, p.readLine(ideConn, bufio.NewReaderSize(ideConn, 64*1024)))
}
