// File: reactor/scale_test.go
//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"testing"
	"time"

	"github.com/momentics/mtepoll/api"
)

func TestTryScaleSpawnsOnStall(t *testing.T) {
	cfg := testConfig()
	cfg.DynamicThreads = 2
	cfg.ThreadScaleThresh = 1
	g := mustGroup(t, cfg)
	g.initThreads(2, nil, 0, 2, 1)

	for i := 0; i < 10; i++ {
		g.AttachSession()
	}
	// three stalled out of two workers clears thresh base-2+1
	g.AddStallCount()
	g.AddStallCount()
	g.AddStallCount()

	g.TryScaleThreadPool(1)
	if w := g.WorkerCount(); w != 3 {
		t.Fatalf("workers = %d after stall scale, want 3", w)
	}
	g.TryScaleThreadPool(1)
	if w := g.WorkerCount(); w != 4 {
		t.Fatalf("workers = %d after second stall scale, want 4", w)
	}

	g.SubStallCount()
	g.SubStallCount()
	g.SubStallCount()
}

func TestTryScaleRefillsToPrefer(t *testing.T) {
	cfg := testConfig()
	cfg.DynamicThreads = 3
	g := mustGroup(t, cfg)
	g.initThreads(2, nil, 0, 2, 1)
	for i := 0; i < 10; i++ {
		g.AttachSession()
	}

	// no stall pressure: a single call refills straight to base+dynamic
	g.TryScaleThreadPool(0)
	if w := g.WorkerCount(); w != 5 {
		t.Fatalf("workers = %d after refill, want 5", w)
	}
	// at prefer and idle: no further growth
	g.TryScaleThreadPool(0)
	if w := g.WorkerCount(); w != 5 {
		t.Fatalf("workers = %d after idle call, want 5", w)
	}
}

func TestTryScaleCappedBySessions(t *testing.T) {
	cfg := testConfig()
	cfg.DynamicThreads = 2
	g := mustGroup(t, cfg)
	g.initThreads(2, nil, 0, 2, 1)

	// zero sessions: workers(2) >= sessions(0)+base(2) blocks any growth
	g.AddStallCount()
	g.AddStallCount()
	g.AddStallCount()
	g.TryScaleThreadPool(1)
	if w := g.WorkerCount(); w != 2 {
		t.Fatalf("workers = %d with no sessions, want 2", w)
	}
	g.SubStallCount()
	g.SubStallCount()
	g.SubStallCount()
}

func TestForceScaleIgnoresStallState(t *testing.T) {
	cfg := testConfig()
	cfg.DynamicThreads = 0
	g := mustGroup(t, cfg)
	g.initThreads(1, nil, 0, 1, 1)
	g.AttachSession()
	g.AttachSession()

	g.ForceScaleThreadPool()
	if w := g.WorkerCount(); w != 2 {
		t.Fatalf("workers = %d after force scale, want 2", w)
	}
}

func TestBalanceTaskerSpawnsOnBacklog(t *testing.T) {
	cfg := testConfig()
	cfg.TaskerMultiply = 3
	cfg.TaskerExtendStep = 2
	cfg.ShrinkTimeMS = 60 * 1000
	g := mustGroup(t, cfg)
	// no loop threads yet: backlog accumulates untouched
	for i := 0; i < 30; i++ {
		g.workQueue.Push(api.NewTask(func() {}, nil))
	}
	for i := 0; i < 50; i++ {
		g.AttachSession()
	}

	g.BalanceTasker()
	if n := g.TaskerCount(); n != 2 {
		t.Fatalf("taskers = %d after backlog balance, want extend step 2", n)
	}
	// the spawned taskers must drain the backlog
	waitFor(t, 5*time.Second, "taskers to drain backlog", func() bool {
		return g.workQueue.Empty()
	})
}

func TestBalanceTaskerQuietBelowThreshold(t *testing.T) {
	cfg := testConfig()
	g := mustGroup(t, cfg)
	g.workerCount.Store(4)
	g.workQueue.Push(api.NewTask(func() {}, nil))

	g.BalanceTasker()
	if n := g.TaskerCount(); n != 0 {
		t.Fatalf("taskers = %d for a one-item backlog, want 0", n)
	}
}

func TestShrinkTaskerAfterQuietPeriod(t *testing.T) {
	cfg := testConfig()
	cfg.ShrinkTimeMS = 50
	g := mustGroup(t, cfg)
	g.taskerCount.Store(1)
	g.lastTaskerTime.Store(steadyMS())

	if g.shrinkThreadPool(false) {
		t.Fatal("tasker shrank inside the quiet period")
	}
	g.lastTaskerTime.Store(steadyMS() - 100)
	if !g.shrinkThreadPool(false) {
		t.Fatal("tasker survived past the quiet period")
	}
	if n := g.TaskerCount(); n != 0 {
		t.Fatalf("tasker count = %d after shrink, want 0", n)
	}
}

func TestShrinkWorkerAbovePrefer(t *testing.T) {
	cfg := testConfig()
	cfg.DynamicThreads = 2
	cfg.ShrinkTimeMS = 50
	g := mustGroup(t, cfg)
	g.baseThreadCount = 2
	g.workerCount.Store(6)
	g.lastScaleTime.Store(steadyMS() - 100)

	if !g.shrinkThreadPool(true) {
		t.Fatal("idle worker above prefer count did not shrink")
	}
	if w := g.WorkerCount(); w != 5 {
		t.Fatalf("workers = %d after shrink, want 5", w)
	}

	// at the preferred count the pool must hold
	g.workerCount.Store(4)
	if g.shrinkThreadPool(true) {
		t.Fatal("worker shrank at the preferred count")
	}
}

func TestShrinkWorkerBlockedByRecentScale(t *testing.T) {
	cfg := testConfig()
	cfg.DynamicThreads = 1
	cfg.ShrinkTimeMS = 60 * 1000
	g := mustGroup(t, cfg)
	g.baseThreadCount = 2
	g.workerCount.Store(5)
	g.lastScaleTime.Store(steadyMS())

	if g.shrinkThreadPool(true) {
		t.Fatal("worker shrank right after a scale event")
	}
}

func TestWorkerStallDetection(t *testing.T) {
	g := mustGroup(t, testConfig())

	// idle group with nothing waiting: that is a stall
	if !g.WorkerStallSinceLastCheck() {
		t.Fatal("idle group with no waiter not reported as stalled")
	}

	// a thread in the wait clears it
	g.waitCnt.Add(1)
	if g.WorkerStallSinceLastCheck() {
		t.Fatal("stall reported while a thread waits")
	}
	g.waitCnt.Add(-1)

	// pending work with a frozen consumer cursor is a stall
	g.workQueue.Push(api.NewTask(func() {}, nil))
	if !g.WorkerStallSinceLastCheck() {
		t.Fatal("frozen consumer with backlog not reported as stalled")
	}

	// consumption progress clears it
	g.workQueue.Pop()
	if g.WorkerStallSinceLastCheck() {
		t.Fatal("stall reported right after the head advanced")
	}

	// a completed wait since last check also clears it
	g.loopCnt.Add(1)
	if g.WorkerStallSinceLastCheck() {
		t.Fatal("stall reported although a wait completed")
	}
}
