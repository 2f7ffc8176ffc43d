package pdtunnel

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"

	pdshare "github.com/sammck-go/pydevtunnel/share"
)

var (
	// ErrPipeClosed is returned by Run when the peer end of the pipe is gone
	ErrPipeClosed = errors.New("pipe closed by peer")

	// ErrDuplicateKey is returned by AddProcessor when the key is already registered
	ErrDuplicateKey = errors.New("processor key already registered")
)

// Stats is a point-in-time view of dispatcher counters
type Stats struct {
	Processors    int
	Monitors      int
	ClientsOpened int32
	ClientsOpen   int32
	FramesDropped int64
}

// Dispatcher owns the readiness loop. It maps keys and descriptors to
// Processors, keeps the set of watching ServerMonitors, and stops on its own
// when configured for auto-stop and no monitor remains.
//
// Apart from the constructor and Stats counters, a Dispatcher must only be used
// from the goroutine that calls Run or Pass.
type Dispatcher struct {
	pdshare.Logger
	rootLogger pdshare.Logger
	config     *Config

	byKey    map[Key]Processor
	byHandle map[int]Processor
	monitors map[string]*ServerMonitor

	probe ProbeFunc

	clientStats   pdshare.ConnStats
	framesDropped int64

	// fatalErr ends the loop as soon as the callback that set it returns
	fatalErr error
}

// NewDispatcher creates a Dispatcher. A nil config means DefaultConfig().
func NewDispatcher(logger pdshare.Logger, config *Config) *Dispatcher {
	if config == nil {
		config = DefaultConfig()
	} else {
		config.ApplyDefaults()
	}
	return &Dispatcher{
		Logger:     logger.Fork("dispatcher"),
		rootLogger: logger,
		config:     config,
		byKey:      make(map[Key]Processor),
		byHandle:   make(map[int]Processor),
		monitors:   make(map[string]*ServerMonitor),
		probe:      BindProbe,
	}
}

// Config returns the dispatcher's configuration
func (d *Dispatcher) Config() *Config {
	return d.config
}

// AddProcessor registers p under its key and its handle
func (d *Dispatcher) AddProcessor(p Processor) error {
	key := p.Key()
	if _, ok := d.byKey[key]; ok {
		return d.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	handle := p.Handle()
	if other, ok := d.byHandle[handle]; ok {
		return d.Errorf("descriptor %d of %s is already registered to %s", handle, key, other.Key())
	}
	d.byKey[key] = p
	d.byHandle[handle] = p
	d.TLogf("added %s (fd %d)", key, handle)
	return nil
}

// RemoveProcessor unregisters p if it is the processor registered under its
// key, then closes p. Removing a processor that is not registered only closes it.
func (d *Dispatcher) RemoveProcessor(p Processor) {
	key := p.Key()
	if cur, ok := d.byKey[key]; ok && cur == p {
		delete(d.byKey, key)
		handle := p.Handle()
		if d.byHandle[handle] == p {
			delete(d.byHandle, handle)
		}
		d.TLogf("removed %s (fd %d)", key, handle)
	}
	if err := p.Close(); err != nil {
		d.DLogf("close of %s: %s", key, err)
	}
}

// FindProcessor returns the processor registered under key
func (d *Dispatcher) FindProcessor(key Key) (Processor, bool) {
	p, ok := d.byKey[key]
	return p, ok
}

// ListProcessors returns the registered processors, ordered by handle
func (d *Dispatcher) ListProcessors() []Processor {
	entries := d.snapshotHandles()
	result := make([]Processor, len(entries))
	for i, e := range entries {
		result[i] = e.p
	}
	return result
}

// Transport returns the registered pipe transport, or nil
func (d *Dispatcher) Transport() *PipeTransport {
	p, ok := d.byKey[TransportKey()]
	if !ok {
		return nil
	}
	t, _ := p.(*PipeTransport)
	return t
}

// AddMonitor registers m to be ticked once per pass
func (d *Dispatcher) AddMonitor(m *ServerMonitor) {
	d.monitors[m.Key()] = m
}

// RemoveMonitor unregisters m. Removing an absent monitor does nothing.
func (d *Dispatcher) RemoveMonitor(m *ServerMonitor) {
	if cur, ok := d.monitors[m.Key()]; ok && cur == m {
		delete(d.monitors, m.Key())
	}
}

// FindMonitor returns the monitor registered for localPort
func (d *Dispatcher) FindMonitor(localPort string) (*ServerMonitor, bool) {
	m, ok := d.monitors[localPort]
	return m, ok
}

// ListMonitors returns the registered monitors, ordered by port
func (d *Dispatcher) ListMonitors() []*ServerMonitor {
	result := make([]*ServerMonitor, 0, len(d.monitors))
	for _, m := range d.monitors {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key() < result[j].Key()
	})
	return result
}

// Stats returns the dispatcher counters. The registry sizes are only
// meaningful from the dispatch goroutine or after Run has returned.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Processors:    len(d.byKey),
		Monitors:      len(d.monitors),
		ClientsOpened: d.clientStats.Total(),
		ClientsOpen:   d.clientStats.Current(),
		FramesDropped: atomic.LoadInt64(&d.framesDropped),
	}
}

// Run services readiness events and ticks monitors until the pipe closes, ctx
// is done, or auto-stop triggers (in which case it returns nil).
func (d *Dispatcher) Run(ctx context.Context) error {
	d.DLogf("dispatch loop starting (auto-stop: %t, poll interval: %s)", d.config.AutoStop, d.config.PollInterval)
	for {
		if err := ctx.Err(); err != nil {
			d.DLogf("dispatch loop cancelled: %s", err)
			return err
		}
		stop, err := d.Pass()
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

type handleEntry struct {
	handle int
	p      Processor
}

func (d *Dispatcher) snapshotHandles() []handleEntry {
	entries := make([]handleEntry, 0, len(d.byHandle))
	for h, p := range d.byHandle {
		entries = append(entries, handleEntry{handle: h, p: p})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].handle < entries[j].handle
	})
	return entries
}

// Pass performs a single iteration of the loop: one bounded readiness wait,
// one OnInputReady per ready processor, one Tick per monitor. Processors and
// monitors added during the pass are first serviced by the next one. stop is
// true when auto-stop applies.
func (d *Dispatcher) Pass() (stop bool, err error) {
	if d.fatalErr != nil {
		return false, d.fatalErr
	}

	entries := d.snapshotHandles()
	monitors := d.ListMonitors()

	fds := make([]int, len(entries))
	snapshot := make(map[int]Processor, len(entries))
	for i, e := range entries {
		fds[i] = e.handle
		snapshot[e.handle] = e.p
	}

	ready, err := waitReadable(fds, d.config.PollInterval)
	if err != nil {
		return false, d.Errorf("readiness wait failed: %w", err)
	}

	for _, fd := range ready {
		p := snapshot[fd]
		// skip processors removed earlier in this pass, including a descriptor
		// number reused by a processor created since the snapshot
		if cur, ok := d.byHandle[fd]; !ok || cur != p {
			continue
		}
		p.OnInputReady()
		if d.fatalErr != nil {
			return false, d.fatalErr
		}
	}

	for _, m := range monitors {
		m.Tick()
		if d.fatalErr != nil {
			return false, d.fatalErr
		}
	}

	if d.config.AutoStop && len(d.monitors) == 0 {
		d.ILogf("no monitored server remains; stopping")
		return true, nil
	}
	return false, nil
}

// CloseAll removes and closes every processor and forgets every monitor. It
// must not be called while Run is active.
func (d *Dispatcher) CloseAll() {
	for _, p := range d.ListProcessors() {
		d.RemoveProcessor(p)
	}
	for _, m := range d.ListMonitors() {
		d.RemoveMonitor(m)
	}
}

// forkLogger returns a logger for a component owned by this dispatcher
func (d *Dispatcher) forkLogger(prefix string, args ...interface{}) pdshare.Logger {
	return d.rootLogger.Fork(prefix, args...)
}

// fail records a fatal error; Run and Pass return it once the current callback completes
func (d *Dispatcher) fail(err error) {
	if d.fatalErr == nil {
		d.fatalErr = err
	}
}

func (d *Dispatcher) dropFrame() {
	atomic.AddInt64(&d.framesDropped, 1)
}

// sendToPeer frames payload for the peer through the registered transport
func (d *Dispatcher) sendToPeer(localPort, remotePort, payload string) {
	t := d.Transport()
	if t == nil {
		d.ELogf("no pipe transport registered; dropping %q", FormatFrame(localPort, remotePort, payload))
		return
	}
	// Send reports its own failures to the dispatcher
	_ = t.Send(localPort, remotePort, payload)
}

func (d *Dispatcher) sendCommand(localPort, remotePort string, cmd Command) {
	d.sendToPeer(localPort, remotePort, string(cmd)+"\n")
}
