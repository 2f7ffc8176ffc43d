package pdtunnel

import (
	"errors"

	pdshare "github.com/sammck-go/pydevtunnel/share"
)

// MonitorState is the lifecycle state of a ServerMonitor
type MonitorState int

const (
	MonitorUnstarted MonitorState = iota
	MonitorWatching
	MonitorTerminated
)

func (s MonitorState) String() string {
	switch s {
	case MonitorUnstarted:
		return "unstarted"
	case MonitorWatching:
		return "watching"
	case MonitorTerminated:
		return "terminated"
	}
	return "unknown"
}

// ServerMonitor watches a local port on which a debug server is expected to
// listen. While the server is alive the peer keeps a TunnelServer open on the
// same port; once the server goes away the peer is told to stop it.
//
// A terminated monitor is never revived.
type ServerMonitor struct {
	pdshare.Logger
	d         *Dispatcher
	localPort string
	port      int
	state     MonitorState
}

// NewServerMonitor probes localPort once. If a server is listening the monitor
// starts watching and start_server is sent to the peer; otherwise it is
// created already terminated. The caller registers a watching monitor with
// d.AddMonitor.
func NewServerMonitor(d *Dispatcher, localPort string) *ServerMonitor {
	m := &ServerMonitor{
		Logger:    d.forkLogger("monitor(%s)", localPort),
		d:         d,
		localPort: localPort,
		state:     MonitorUnstarted,
	}

	port, err := parsePort(localPort)
	if err != nil {
		m.ELogf("%s", err)
		m.state = MonitorTerminated
		return m
	}
	m.port = port

	alive, err := m.probe()
	switch {
	case err != nil:
		m.ELogf("%s; not monitoring", err)
		m.state = MonitorTerminated
	case alive:
		m.DLogf("server is listening; asking remote to start a server")
		m.state = MonitorWatching
		d.sendCommand(localPort, "", CommandStartServer)
	default:
		m.DLogf("no server is listening; not monitoring")
		m.state = MonitorTerminated
	}
	return m
}

// StartServerMonitor creates a monitor for localPort and registers it if it is
// watching. If localPort is already watched, the existing monitor is returned
// and nothing is sent.
func StartServerMonitor(d *Dispatcher, localPort string) *ServerMonitor {
	if m, ok := d.FindMonitor(localPort); ok && m.State() == MonitorWatching {
		m.DLogf("already monitoring")
		return m
	}
	m := NewServerMonitor(d, localPort)
	if m.State() == MonitorWatching {
		d.AddMonitor(m)
	}
	return m
}

// Key returns the monitored port, which identifies the monitor
func (m *ServerMonitor) Key() string {
	return m.localPort
}

// State returns the current lifecycle state
func (m *ServerMonitor) State() MonitorState {
	return m.state
}

// Tick re-probes a watching monitor. When the server is gone, stop_server is
// sent, the monitor deregisters itself and terminates. A failed probe leaves
// the state unchanged.
func (m *ServerMonitor) Tick() {
	if m.state != MonitorWatching {
		return
	}
	alive, err := m.probe()
	if err != nil {
		m.WLogf("%s; will retry", err)
		return
	}
	if alive {
		return
	}
	m.DLogf("server is gone; asking remote to stop its server")
	m.d.sendCommand(m.localPort, "", CommandStopServer)
	m.d.RemoveMonitor(m)
	m.state = MonitorTerminated
}

func (m *ServerMonitor) probe() (bool, error) {
	alive, err := m.d.probe(m.d.config.ListenHost, m.port)
	if err != nil {
		var pe *ProbeError
		if !errors.As(err, &pe) {
			err = &ProbeError{Port: m.localPort, Err: err}
		}
		return false, err
	}
	return alive, nil
}
