package pdtunnel

import (
	"bufio"
	"errors"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/prep/socketpair"
	"github.com/stretchr/testify/require"

	pdshare "github.com/sammck-go/pydevtunnel/share"
)

const (
	testPollInterval = 20 * time.Millisecond
	maxTestPasses    = 200
)

func newTestLogger(t *testing.T) pdshare.Logger {
	lg, err := pdshare.New(
		pdshare.WithWriter(os.Stderr),
		pdshare.WithLogLevel(pdshare.LogLevelTrace),
		pdshare.WithPrefix(t.Name()),
	)
	require.NoError(t, err)
	return lg
}

// testPeer is the far end of a dispatcher's pipe, driven by the test
type testPeer struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func (p *testPeer) send(s string) {
	_, err := p.conn.Write([]byte(s))
	require.NoError(p.t, err)
}

// readLine returns the next line the dispatcher wrote, including its newline
func (p *testPeer) readLine() string {
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := p.r.ReadString('\n')
	require.NoError(p.t, err, "partial line %q", line)
	return line
}

// expectQuiet fails if the dispatcher has written anything not yet read
func (p *testPeer) expectQuiet() {
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	line, err := p.r.ReadString('\n')
	require.Error(p.t, err, "unexpected line %q", line)
	require.Empty(p.t, line)
	var ne net.Error
	require.True(p.t, errors.As(err, &ne) && ne.Timeout(), "unexpected error %v", err)
}

type testEnv struct {
	t         *testing.T
	d         *Dispatcher
	transport *PipeTransport
	peer      *testPeer
}

// newTestEnv builds a dispatcher whose pipe is one end of a socket pair; the
// other end is the peer.
func newTestEnv(t *testing.T, config *Config) *testEnv {
	if config == nil {
		config = &Config{}
	}
	config.PollInterval = testPollInterval

	a, b, err := socketpair.New("unix")
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})

	d := NewDispatcher(newTestLogger(t), config)
	r, ok := a.(PipeReader)
	require.True(t, ok)
	tr, err := NewPipeTransport(d, r, a)
	require.NoError(t, err)
	require.NoError(t, d.AddProcessor(tr))
	t.Cleanup(d.CloseAll)

	return &testEnv{
		t:         t,
		d:         d,
		transport: tr,
		peer:      &testPeer{t: t, conn: b, r: bufio.NewReader(b)},
	}
}

func (e *testEnv) pass() {
	_, err := e.d.Pass()
	require.NoError(e.t, err)
}

// pumpUntil runs passes until cond holds
func (e *testEnv) pumpUntil(what string, cond func() bool) {
	for i := 0; i < maxTestPasses; i++ {
		if cond() {
			return
		}
		e.pass()
	}
	require.FailNow(e.t, "condition never met", what)
}

func (e *testEnv) hasProcessor(key Key) func() bool {
	return func() bool {
		_, ok := e.d.FindProcessor(key)
		return ok
	}
}

func (e *testEnv) lacksProcessor(key Key) func() bool {
	return func() bool {
		_, ok := e.d.FindProcessor(key)
		return !ok
	}
}

// listenLoopback starts a plain TCP listener standing in for a debug server
func listenLoopback(t *testing.T) (*net.TCPListener, string) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln.(*net.TCPListener), strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
}

// freePort returns a port that nothing was listening on a moment ago
func freePort(t *testing.T) string {
	ln, port := listenLoopback(t)
	require.NoError(t, ln.Close())
	return port
}

func localPortOf(c net.Conn) string {
	return strconv.Itoa(c.LocalAddr().(*net.TCPAddr).Port)
}

// stubProbe reports the ports in alive as listening
type stubProbe struct {
	alive map[int]bool
	err   error
	calls int
}

func (s *stubProbe) probe(host string, port int) (bool, error) {
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	return s.alive[port], nil
}

func (e *testEnv) stubProbe(ports ...int) *stubProbe {
	s := &stubProbe{alive: make(map[int]bool)}
	for _, p := range ports {
		s.alive[p] = true
	}
	e.d.probe = s.probe
	return s
}

// fakeProcessor is a Processor over the read end of an os.Pipe
type fakeProcessor struct {
	key     Key
	r       *os.File
	w       *os.File
	onReady func()
	ready   int
	closes  int
}

func newFakeProcessor(t *testing.T, key Key) *fakeProcessor {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})
	return &fakeProcessor{key: key, r: r, w: w}
}

func (p *fakeProcessor) Key() Key {
	return p.key
}

func (p *fakeProcessor) Handle() int {
	return int(p.r.Fd())
}

func (p *fakeProcessor) OnInputReady() {
	p.ready++
	buf := make([]byte, 64)
	p.r.Read(buf)
	if p.onReady != nil {
		p.onReady()
	}
}

func (p *fakeProcessor) Close() error {
	p.closes++
	return nil
}

func (p *fakeProcessor) poke(t *testing.T) {
	_, err := p.w.Write([]byte("x"))
	require.NoError(t, err)
}

// readLeg runs passes until n bytes have arrived on conn
func (e *testEnv) readLeg(conn net.Conn, n int) string {
	buf := make([]byte, 4096)
	got := ""
	for i := 0; i < maxTestPasses && len(got) < n; i++ {
		e.pass()
		require.NoError(e.t, conn.SetReadDeadline(time.Now().Add(5*time.Millisecond)))
		nr, _ := conn.Read(buf)
		got += string(buf[:nr])
	}
	return got
}
