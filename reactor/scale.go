// File: reactor/scale.go
//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Dynamic thread-pool sizing. Workers grow on stall pressure, taskers on
// queue backlog; both decay back after a quiet shrink period. All spawn
// and shrink decisions are rechecked under the scale mutex; the fast-path
// reads stay lock-free.

package reactor

// dynThreadID labels every dynamically spawned thread in bind logs.
const dynThreadID = 999

func (g *Group) clampThresh() int64 {
	thresh := g.cfg.ThreadScaleThresh
	if thresh < 0 {
		thresh = 0
	} else if thresh >= g.baseThreadCount {
		thresh = g.baseThreadCount - 1
	}
	return int64(thresh)
}

func (g *Group) preferThreadCount() int64 {
	return int64(g.baseThreadCount + g.cfg.DynamicThreads)
}

// spawnWorkerLocked starts one dynamic worker. Caller holds scaleLock.
func (g *Group) spawnWorkerLocked() {
	g.workerCount.Add(1)
	globalThreadCount.Add(1)
	go g.loop(dynThreadID, false, -1, true, true)
}

// spawnTaskerLocked starts one dynamic tasker. Caller holds scaleLock.
func (g *Group) spawnTaskerLocked() {
	g.taskerCount.Add(1)
	globalThreadCount.Add(1)
	go g.loop(dynThreadID, false, -1, g.cfg.EnableEpollInTasker, false)
}

// TryScaleThreadPool grows the worker pool when stalled workers leave too
// few free, or refills it back to the preferred count. Growth stops at
// session_count + base; a group cannot profit from more workers than it
// has connections. waitType only annotates the scale log line.
func (g *Group) TryScaleThreadPool(waitType int) {
	thresh := g.clampThresh()
	stalled := g.stallCount.Load()
	workers := g.workerCount.Load()
	prefer := g.preferThreadCount()

	// Refresh the stall clock so shrink keeps its distance.
	if stalled > workers-int64(g.baseThreadCount)+thresh {
		g.lastScaleTime.Store(steadyMS())
	} else if workers >= prefer {
		if stalled > workers/4 {
			g.lastScaleTime.Store(steadyMS())
		}
		return
	}

	g.scaleLock.Lock()
	defer g.scaleLock.Unlock()
	stalled = g.stallCount.Load()
	workers = g.workerCount.Load()

	if workers >= g.sessionCount.Load()+int64(g.baseThreadCount) {
		if g.cfg.EnableThreadPoolLog {
			log.Warnf("mtepoll %d thread pool scale over limit, worker %d tasker %d, session %d. Total threads %d",
				g.groupID, workers, g.taskerCount.Load(), g.sessionCount.Load(), GlobalThreadCount())
		}
		return
	}

	scaled := false
	if stalled > workers-int64(g.baseThreadCount)+thresh {
		g.spawnWorkerLocked()
		scaled = true
	} else if workers < prefer {
		for g.workerCount.Load() < prefer {
			g.spawnWorkerLocked()
		}
		scaled = true
	}

	if scaled && g.cfg.EnableThreadPoolLog {
		log.Warnf("mtepoll %d thread pool scale to worker %d tasker %d. Total threads %d. wait_type %d",
			g.groupID, g.workerCount.Load(), g.taskerCount.Load(), GlobalThreadCount(), waitType)
	}
}

// ForceScaleThreadPool adds one worker unconditionally, subject only to
// the session cap. The reactor never calls it itself; a host that sees
// WorkerStallSinceLastCheck report a stall can call it to add a worker.
func (g *Group) ForceScaleThreadPool() {
	g.lastScaleTime.Store(steadyMS())

	g.scaleLock.Lock()
	defer g.scaleLock.Unlock()

	if g.workerCount.Load() >= g.sessionCount.Load()+int64(g.baseThreadCount) {
		if g.cfg.EnableThreadPoolLog {
			log.Warnf("mtepoll %d thread pool force scale over limit, worker %d tasker %d, session %d. Total threads %d",
				g.groupID, g.workerCount.Load(), g.taskerCount.Load(), g.sessionCount.Load(), GlobalThreadCount())
		}
		return
	}

	g.spawnWorkerLocked()
	if g.cfg.EnableThreadPoolLog {
		log.Warnf("mtepoll %d thread pool force scale to worker %d tasker %d. Total threads %d",
			g.groupID, g.workerCount.Load(), g.taskerCount.Load(), GlobalThreadCount())
	}
}

// BalanceTasker spawns tasker threads when the queue backlog outgrows the
// thread count. A softer threshold refreshes the tasker idle clock; the
// real spawn gate is stricter so taskers appear only under sustained
// pressure, and never more than TaskerExtendStep at once.
func (g *Group) BalanceTasker() {
	pending := int64(g.workQueue.Len())
	workers := g.workerCount.Load()
	taskers := g.taskerCount.Load()

	multiply := int64(g.cfg.TaskerMultiply)
	multiplyLow := multiply / 2
	if multiplyLow < 1 {
		multiplyLow = 1
	}
	capacity := int64(g.workQueue.Cap())

	if pending*2 > capacity || pending > multiplyLow*(workers+taskers) {
		g.lastTaskerTime.Store(steadyMS())

		if pending*2 <= capacity && pending <= multiply*(workers+taskers) {
			return // still under thresh
		}

		g.scaleLock.Lock()
		defer g.scaleLock.Unlock()

		workers = g.workerCount.Load()
		taskers = g.taskerCount.Load()
		sessions := g.sessionCount.Load()

		if workers+taskers < sessions && workers+taskers < pending {
			extend := (pending - workers - taskers) / multiply
			if extend == 0 {
				extend = 1
			}
			if extend > int64(g.cfg.TaskerExtendStep) {
				extend = int64(g.cfg.TaskerExtendStep)
			}
			for i := int64(0); i < extend; i++ {
				g.spawnTaskerLocked()
			}

			if g.cfg.EnableThreadPoolLog {
				log.Warnf("mtepoll %d thread pool tasker scale to %d, worker %d. Total threads %d",
					g.groupID, g.taskerCount.Load(), g.workerCount.Load(), GlobalThreadCount())
			}
		}
	}
}

// shrinkThreadPool decides whether the calling dynamic thread should
// terminate. Taskers go after one quiet shrink period. Workers go one at
// a time once the pool sits above the preferred count with no recent
// stall pressure.
func (g *Group) shrinkThreadPool(isWorker bool) bool {
	if !isWorker {
		if steadyMS()-g.lastTaskerTime.Load() <= g.cfg.ShrinkTimeMS {
			return false
		}
		g.taskerCount.Add(-1)
		globalThreadCount.Add(-1)
		if g.cfg.EnableThreadPoolLog {
			log.Warnf("mtepoll %d thread pool shrink to worker %d tasker %d. Total threads %d",
				g.groupID, g.workerCount.Load(), g.taskerCount.Load(), GlobalThreadCount())
		}
		return true
	}

	thresh := g.clampThresh()
	stalled := g.stallCount.Load()
	workers := g.workerCount.Load()
	prefer := g.preferThreadCount()

	if stalled < workers-int64(g.baseThreadCount)+thresh &&
		steadyMS()-g.lastScaleTime.Load() > g.cfg.ShrinkTimeMS &&
		workers > prefer {
		g.scaleLock.Lock()
		defer g.scaleLock.Unlock()
		stalled = g.stallCount.Load()
		if g.workerCount.Load() > prefer && stalled < prefer-1 {
			g.workerCount.Add(-1)
			globalThreadCount.Add(-1)
			if g.cfg.EnableThreadPoolLog {
				log.Warnf("mtepoll %d thread pool shrink to worker %d tasker %d. Total threads %d",
					g.groupID, g.workerCount.Load(), g.taskerCount.Load(), GlobalThreadCount())
			}
			return true
		}
	}
	return false
}

// WorkerStallSinceLastCheck reports whether the group made no visible
// progress since the previous call. Single caller only; the snapshots are
// unsynchronized. A stall is either a non-empty queue whose consumer
// cursor froze, or an empty queue with no thread waiting and no wait
// completed since last check.
func (g *Group) WorkerStallSinceLastCheck() bool {
	head := g.workQueue.Head()
	if head != g.lastHead {
		g.lastHead = head
		return false
	}
	// consumer not moved
	if head != g.workQueue.Tail() {
		return true // pending work, nobody consuming
	}
	loop := g.loopCnt.Load()
	if g.waitCnt.Load() > 0 {
		g.lastLoop = loop
		return false
	}
	if loop != g.lastLoop {
		g.lastLoop = loop
		return false
	}
	return true // empty queue but no thread waits
}
