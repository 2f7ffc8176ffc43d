package pdshare

import (
	"context"
	"sync"
)

// OnceShutdownHandler is implemented by objects whose lifetime is managed by a ShutdownHelper
type OnceShutdownHandler interface {
	// HandleOnceShutdown is called exactly once, on its own goroutine, with the
	// advisory completion status. It releases the object and returns the final
	// completion status.
	HandleOnceShutdown(completionErr error) error
}

// ShutdownHelper gives the object that embeds it a run-once asynchronous
// shutdown, and optionally a background loop whose return starts that shutdown.
type ShutdownHelper struct {
	// Logger is used for output from the helper and the embedding object
	Logger

	// Lock guards the helper's state; embedding objects may share it
	Lock sync.Mutex

	handler OnceShutdownHandler

	started bool
	done    bool
	status  error

	startedChan chan struct{}
	doneChan    chan struct{}

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// InitShutdownHelper prepares h in place. handler is normally the embedding object.
func (h *ShutdownHelper) InitShutdownHelper(logger Logger, handler OnceShutdownHandler) {
	h.Logger = logger
	h.handler = handler
	h.startedChan = make(chan struct{})
	h.doneChan = make(chan struct{})
}

// StartShutdown begins shutdown with completionErr as the advisory status.
// Calls after the first have no effect. The handler runs on a new goroutine;
// once it has returned its result becomes the final status and
// ShutdownDoneChan is closed.
func (h *ShutdownHelper) StartShutdown(completionErr error) {
	h.Lock.Lock()
	if h.started {
		h.Lock.Unlock()
		return
	}
	h.started = true
	h.status = completionErr
	h.Lock.Unlock()

	h.DLogf("shutdown started")
	close(h.startedChan)
	go func() {
		err := h.handler.HandleOnceShutdown(completionErr)
		h.Lock.Lock()
		h.status = err
		h.done = true
		h.Lock.Unlock()
		h.DLogf("shutdown done")
		close(h.doneChan)
	}()
}

// StartLoop runs loop on a new goroutine. Its context is cancelled by StopLoop,
// and its return value starts shutdown as the advisory status. It returns false,
// and does nothing, if a loop was already started or shutdown has begun.
func (h *ShutdownHelper) StartLoop(ctx context.Context, loop func(ctx context.Context) error) bool {
	h.Lock.Lock()
	if h.started || h.loopDone != nil {
		h.Lock.Unlock()
		return false
	}
	ctx, h.loopCancel = context.WithCancel(ctx)
	loopDone := make(chan struct{})
	h.loopDone = loopDone
	h.Lock.Unlock()

	go func() {
		err := loop(ctx)
		close(loopDone)
		h.StartShutdown(err)
	}()
	return true
}

// StopLoop cancels the loop started with StartLoop and waits for it to return.
// It is meant to be called from HandleOnceShutdown; without a loop it returns at once.
func (h *ShutdownHelper) StopLoop() {
	h.Lock.Lock()
	cancel, loopDone := h.loopCancel, h.loopDone
	h.Lock.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-loopDone
}

// ShutdownOnContext starts shutdown with ctx.Err() if ctx is done before
// shutdown has otherwise begun. It does not block.
func (h *ShutdownHelper) ShutdownOnContext(ctx context.Context) {
	go func() {
		select {
		case <-h.startedChan:
		case <-ctx.Done():
			h.StartShutdown(ctx.Err())
		}
	}()
}

// IsDoneShutdown reports whether shutdown is complete
func (h *ShutdownHelper) IsDoneShutdown() bool {
	h.Lock.Lock()
	defer h.Lock.Unlock()
	return h.done
}

// ShutdownDoneChan is closed when shutdown is complete
func (h *ShutdownHelper) ShutdownDoneChan() <-chan struct{} {
	return h.doneChan
}

// WaitShutdown blocks until shutdown is complete and returns the final status.
// It does not start shutdown.
func (h *ShutdownHelper) WaitShutdown() error {
	<-h.doneChan
	h.Lock.Lock()
	defer h.Lock.Unlock()
	return h.status
}

// Shutdown starts shutdown if needed and waits for it
func (h *ShutdownHelper) Shutdown(completionErr error) error {
	h.StartShutdown(completionErr)
	return h.WaitShutdown()
}

// Close shuts down with a nil advisory status
func (h *ShutdownHelper) Close() error {
	return h.Shutdown(nil)
}
