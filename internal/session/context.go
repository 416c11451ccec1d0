// File: internal/session/context.go
// Author: momentics <momentics@gmail.com>
//
// GroupContext is the extra context attached to each reactor group. The
// reusable-session pool is a bounded FIFO; cleanup relies on re-pushed
// entries keeping FIFO order so a previously seen pointer marks a full
// sweep.

package session

import (
	"github.com/eapache/queue"

	"github.com/momentics/mtepoll/internal/concurrency"
)

// BufferedReusableSessionCount bounds the pool per group.
const BufferedReusableSessionCount = 16

// GroupContext carries per-group shared state outside the hot path.
type GroupContext struct {
	lock    concurrency.SpinLock
	pool    *queue.Queue
	spinCnt int
}

// NewGroupContext builds an empty context. spinCnt tunes the pool lock.
func NewGroupContext(spinCnt int) *GroupContext {
	return &GroupContext{
		pool:    queue.New(),
		spinCnt: spinCnt,
	}
}

// PopReusable takes the oldest pooled session, if any.
func (c *GroupContext) PopReusable() (*ReusableSession, bool) {
	c.lock.Lock(c.spinCnt)
	defer c.lock.Unlock()
	if c.pool.Length() == 0 {
		return nil, false
	}
	s := c.pool.Remove().(*ReusableSession)
	return s, true
}

// PushReusable returns a session to the pool. Returns false and leaves the
// session with the caller when the pool is full.
func (c *GroupContext) PushReusable(s *ReusableSession) bool {
	c.lock.Lock(c.spinCnt)
	defer c.lock.Unlock()
	if c.pool.Length() >= BufferedReusableSessionCount {
		return false
	}
	c.pool.Add(s)
	return true
}

// Len reports the pooled session count.
func (c *GroupContext) Len() int {
	c.lock.Lock(c.spinCnt)
	defer c.lock.Unlock()
	return c.pool.Length()
}
