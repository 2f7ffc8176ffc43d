package pdtunnel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prep/socketpair"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) (*Session, *testPeer) {
	a, b, err := socketpair.New("unix")
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	s, err := newSession(newTestLogger(t), &Config{PollInterval: testPollInterval}, RoleRemote, a.(PipeReader), a)
	require.NoError(t, err)
	return s, &testPeer{t: t, conn: b}
}

func TestSessionEndsWhenPipeCloses(t *testing.T) {
	s, peer := newTestSession(t)
	require.Len(t, s.ID(), 8)
	require.Equal(t, RoleRemote, s.Role())

	s.Start(context.Background())
	require.NoError(t, peer.conn.Close())

	select {
	case <-s.ShutdownDoneChan():
	case <-time.After(5 * time.Second):
		require.FailNow(t, "session did not shut down")
	}
	err := s.WaitShutdown()
	require.True(t, errors.Is(err, ErrPipeClosed), "got %v", err)
	require.Empty(t, s.Dispatcher().ListProcessors())
}

func TestSessionEndsOnContextCancel(t *testing.T) {
	s, _ := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.True(t, errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "session did not shut down")
	}
}

func TestSessionCloseStopsLoop(t *testing.T) {
	s, _ := newTestSession(t)
	s.Start(context.Background())

	// Close shuts down with a nil advisory status
	require.NoError(t, s.Close())
	require.True(t, s.IsDoneShutdown())
}

func TestLocalSessionAutoStopsAndTerminatesWorker(t *testing.T) {
	// nothing listens on the port, so the seeded monitor is terminated at once
	port := freePort(t)
	s, err := NewLocalSession(newTestLogger(t), &Config{PollInterval: testPollInterval}, port, []string{"sleep", "30"})
	require.NoError(t, err)
	require.Equal(t, RoleLocal, s.Role())

	start := time.Now()
	require.NoError(t, s.Run(context.Background()))
	require.Less(t, time.Since(start), 10*time.Second)

	require.NotNil(t, s.cmd.ProcessState)
}

func TestLocalSessionSeedsMonitor(t *testing.T) {
	_, port := listenLoopback(t)
	s, err := NewLocalSession(newTestLogger(t), &Config{PollInterval: testPollInterval}, port, []string{"cat"})
	require.NoError(t, err)
	defer s.Close()

	m, ok := s.Dispatcher().FindMonitor(port)
	require.True(t, ok)
	require.Equal(t, MonitorWatching, m.State())
	require.True(t, s.Dispatcher().Config().AutoStop)
}

func TestNewLocalSessionErrors(t *testing.T) {
	_, err := NewLocalSession(newTestLogger(t), nil, "9000", nil)
	require.Error(t, err)

	_, err = NewLocalSession(newTestLogger(t), nil, "bad", []string{"true"})
	require.Error(t, err)

	_, err = NewLocalSession(newTestLogger(t), nil, "9000", []string{"/nonexistent/worker"})
	require.Error(t, err)
}
