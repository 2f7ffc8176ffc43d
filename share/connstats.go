package pdshare

import (
	"fmt"
	"sync/atomic"
)

// ConnStats keep track of both currently open and total connection counts for an entity.
// Counters may be read from any goroutine.
type ConnStats struct {
	count int32
	open  int32
}

// New adds one to the total connection count and returns the new total
func (c *ConnStats) New() int32 {
	return atomic.AddInt32(&c.count, 1)
}

// Open adds one to the current open connection count
func (c *ConnStats) Open() {
	atomic.AddInt32(&c.open, 1)
}

// Close subtracts one from the current open connection count
func (c *ConnStats) Close() {
	atomic.AddInt32(&c.open, -1)
}

// Total returns the number of connections ever counted with New
func (c *ConnStats) Total() int32 {
	return atomic.LoadInt32(&c.count)
}

// Current returns the number of connections currently open
func (c *ConnStats) Current() int32 {
	return atomic.LoadInt32(&c.open)
}

func (c *ConnStats) String() string {
	return fmt.Sprintf("[%d/%d]", c.Current(), c.Total())
}
