// File: reactor/loop.go
//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The wait loop every reactor thread runs. One iteration drains the work
// queue, adjusts the wait timeout against the earliest timer, parks in
// epoll_wait (or a single-fd poll on the notifier), then fires timers,
// dispatches readiness callbacks, and sweeps the reusable-session pool.

package reactor

import (
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/momentics/mtepoll/api"
	"github.com/momentics/mtepoll/control"
	"github.com/momentics/mtepoll/internal/affinity"
	"github.com/momentics/mtepoll/internal/session"
)

// loop is the body of one reactor thread. baseThread marks the fixed
// threads started at group init; dynamic threads exit through the shrink
// check. epollWait selects the multi-event wait; threads without it only
// poll the notifier. isWorker distinguishes workers from taskers for the
// shrink bookkeeping.
func (g *Group) loop(threadID uint32, baseThread bool, affinityCore int, epollWait, isWorker bool) {
	runtime.LockOSThread()
	g.bindThread(threadID, baseThread, affinityCore, epollWait)

	hooks.ThreadInit()
	defer hooks.ThreadDeinit()

	events := make([]unix.EpollEvent, control.MaxEpollEventsPerThread)
	cbs := make([]api.Callback, control.MaxEpollEventsPerThread)
	var timerTasks []api.Task
	pollFDs := []unix.PollFd{{Fd: int32(g.eventFD), Events: unix.POLLIN}}

	for {
		// Pop one task at a time: cheaper under contention than batching.
		for {
			var start int64
			if g.cfg.EnablePerfHist {
				start = steadyNS()
			}
			t, ok := g.workQueue.Pop()
			if start != 0 {
				g.queueWaitHist.UpdateNS(steadyNS() - start)
			}
			if !ok {
				break
			}
			g.runTask(&t)
		}

		if !baseThread && g.shrinkThreadPool(isWorker) {
			// Thread dies with the goroutine since it stays locked.
			return
		}

		maxEvents := g.cfg.EventsPerThread
		if maxEvents < 1 {
			maxEvents = 1
		} else if maxEvents > control.MaxEpollEventsPerThread {
			maxEvents = control.MaxEpollEventsPerThread
		}
		timeout := g.cfg.TimeoutMS
		if timeout < 1 {
			timeout = 1 // busy waiting not allowed
		} else if timeout > control.MaxEpollTimeoutMS {
			timeout = control.MaxEpollTimeoutMS
		}

		// One thread carrying the exact timer timeout is enough; losers of
		// the race keep the full timeout.
		if g.timerLock.TryLock() {
			if next, ok := g.timerHeap.Peek(); ok {
				if d := next - steadyMS(); d > 0 {
					if d < int64(timeout) {
						timeout = int(d)
					}
				} else {
					timeout = 0
				}
			}
			g.timerLock.Unlock()
		}

		g.waitCnt.Add(1)
		if !g.workQueue.Empty() {
			g.waitCnt.Add(-1)
			continue // dealing task first
		}
		var n int
		if epollWait {
			v, err := unix.EpollWait(g.epfd, events[:maxEvents], timeout)
			if err != nil {
				v = 0 // EINTR
			}
			n = v
		} else {
			pollFDs[0].Revents = 0
			v, err := unix.Poll(pollFDs, timeout)
			if err != nil {
				v = 0
			}
			if v > 0 {
				// fake one notifier event
				events[0] = unix.EpollEvent{Events: uint32(EventIn), Fd: int32(g.eventFD)}
				n = 1
			} else {
				n = 0
			}
		}
		g.loopCnt.Add(1)
		g.waitCnt.Add(-1)

		total := 0
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == g.eventFD {
				// Consume the notifier first so further pushes can wake
				// other threads while this one is still dispatching.
				var dummy [8]byte
				_, _ = unix.Read(g.eventFD, dummy[:])
				cbs[i] = nil
				continue
			}
			v, ok := g.callbacks.Load(fd)
			if !ok {
				cbs[i] = nil
				continue
			}
			c := v.(api.Callback)
			c.PreEvents()
			cbs[i] = c
			total++
		}

		// Timer tasks run before event dispatch, one thread at a time.
		if g.timerLock.TryLock() {
			timerTasks = timerTasks[:0]
			now := steadyMS()
			for {
				t, ok := g.timerHeap.PopDue(now)
				if !ok {
					break
				}
				timerTasks = append(timerTasks, t)
			}
			g.timerLock.Unlock()

			// run outside the lock
			for i := range timerTasks {
				g.runTask(&timerTasks[i])
				timerTasks[i] = api.Task{}
			}
		}

		index := 0
		for i := 0; i < n; i++ {
			c := cbs[i]
			cbs[i] = nil
			if c == nil {
				continue
			}
			fd := int(events[i].Fd)
			if !c.Events(events[i].Events, index, total) {
				g.callbacks.Delete(fd)
				c.Release()
			}
			index++
		}

		g.cleanupExtraCtx(steadyMS())
	}
}

// bindThread pins the calling thread. Base threads with a known core bind
// to that single core when the process mask allows it (or ForceAllCores is
// set); dynamic threads bind to the group's whole core set.
func (g *Group) bindThread(threadID uint32, baseThread bool, core int, epollWait bool) {
	if core >= 0 {
		if !affinity.ThreadAllowed(core) && !g.cfg.ForceAllCores {
			return
		}
		if err := affinity.PinThread(core); err != nil {
			log.Warnf("mtepoll start worker thread %d:%d(%v,%v) bind to core %d failed: %v",
				g.groupID, threadID, baseThread, epollWait, core, err)
		} else {
			log.Warnf("mtepoll start worker thread %d:%d(%v,%v) bind to core %d",
				g.groupID, threadID, baseThread, epollWait, core)
		}
		return
	}
	if !baseThread && g.withAffinity && len(g.cpus) > 0 {
		if err := affinity.PinThreadSet(g.cpus); err != nil {
			log.Warnf("mtepoll start dynamic worker thread %d:%d(%v,%v) bind to cores %s failed: %v",
				g.groupID, threadID, baseThread, epollWait, g.coresStr, err)
		} else {
			log.Warnf("mtepoll start dynamic worker thread %d:%d(%v,%v) bind to cores %s",
				g.groupID, threadID, baseThread, epollWait, g.coresStr)
		}
	}
}

// runTask executes one task. The finalizer always runs, panics in the run
// action included; a panicking task must not take the loop thread down.
func (g *Group) runTask(t *api.Task) {
	defer t.Finish()
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("mtepoll %d task panic recovered: %v", g.groupID, r)
		}
	}()
	t.Call()
}

// cleanupExtraCtx sweeps the reusable-session pool, dropping entries past
// their lifetime. At most one thread enters per refresh period. Survivors
// are re-pushed in FIFO order, so meeting the first survivor again means
// the whole pool has been checked.
func (g *Group) cleanupExtraCtx(nowMS int64) {
	last := g.lastCleanup.Load()
	if nowMS-last <= g.cfg.GroupCtxRefreshTimeMS {
		return
	}
	if !g.lastCleanup.CompareAndSwap(last, nowMS) {
		return
	}
	var first *session.ReusableSession
	for i := 0; i < session.BufferedReusableSessionCount; i++ {
		s, ok := g.extraCtx.PopReusable()
		if !ok {
			break
		}
		if nowMS-s.StartTimeMS > g.cfg.SharedSessionLifetimeMS {
			s.Drop()
			continue
		}
		if !g.extraCtx.PushReusable(s) {
			s.Drop()
			break
		}
		if first == nil {
			first = s
		} else if s == first {
			break // all checked
		}
	}
}
