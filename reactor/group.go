// File: reactor/group.go
//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Group is one independent reactor unit: an epoll instance with an
// edge-triggered eventfd notifier, a lock-free work queue, a timer heap,
// and a dynamically sized thread pool. Groups are constructed only by the
// process-wide singleton and live until the process exits.

package reactor

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/momentics/mtepoll/api"
	"github.com/momentics/mtepoll/control"
	"github.com/momentics/mtepoll/internal/affinity"
	"github.com/momentics/mtepoll/internal/concurrency"
	"github.com/momentics/mtepoll/internal/session"
)

// globalThreadCount tracks loop threads across all groups.
var globalThreadCount atomic.Int64

// GlobalThreadCount returns the process-wide loop thread count.
func GlobalThreadCount() int64 { return globalThreadCount.Load() }

// Group is one reactor group. All methods are safe for concurrent use
// except WorkerStallSinceLastCheck, which expects a single caller.
type Group struct {
	groupID uint32
	cfg     control.Config

	epfd    int
	eventFD int

	timerLock concurrency.SpinLock
	timerHeap *concurrency.TimerHeap

	workQueue *concurrency.WorkQueue[api.Task]

	waitCnt atomic.Int64
	loopCnt atomic.Int64

	// callbacks maps a registered fd to its owning callback. The epoll
	// payload carries only the fd; Go cannot park pointers in kernel
	// memory, so the registry lives beside the interest set.
	callbacks sync.Map

	// listenFiles pins dup'd listener files so their finalizers never
	// close descriptors the epoll set still watches.
	listenMu    sync.Mutex
	listenFiles map[int]interface{ Close() error }

	extraCtx    *session.GroupContext
	lastCleanup atomic.Int64

	withAffinity bool
	cpus         []int
	coresStr     string

	baseThreadCount int
	stallCount      atomic.Int64
	workerCount     atomic.Int64
	taskerCount     atomic.Int64
	lastScaleTime   atomic.Int64
	lastTaskerTime  atomic.Int64
	scaleLock       sync.Mutex
	sessionCount    atomic.Int64

	// watchdog snapshots; written only by the single watchdog caller
	lastHead uint64
	lastLoop int64

	queueWaitHist *control.Histogram
}

// newGroup builds the epoll instance and its notifier. Failure is fatal
// at process scope and surfaces as *api.SystemInitError.
func newGroup(groupID uint32, cfg control.Config) (*Group, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, &api.SystemInitError{Op: "epoll_create", Errno: errnoOf(err)}
	}
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, &api.SystemInitError{Op: "eventfd", Errno: errnoOf(err)}
	}
	// Edge-triggered so one pending word wakes exactly one reader.
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(efd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, efd, &ev); err != nil {
		_ = unix.Close(efd)
		_ = unix.Close(epfd)
		return nil, &api.SystemInitError{Op: "epoll_ctl notifier", Errno: errnoOf(err)}
	}

	return &Group{
		groupID:       groupID,
		cfg:           cfg,
		epfd:          epfd,
		eventFD:       efd,
		timerHeap:     concurrency.NewTimerHeap(),
		workQueue:     concurrency.NewWorkQueue[api.Task](cfg.WorkQueueCapacity),
		listenFiles:   make(map[int]interface{ Close() error }),
		extraCtx:      session.NewGroupContext(cfg.MCSSpinCnt),
		withAffinity:  true,
		queueWaitHist: control.NewHistogram(),
	}, nil
}

// initThreads launches the base thread set. Threads whose local index
// lands on the waiter gap call the multi-event wait; the rest only poll
// the notifier.
func (g *Group) initThreads(threads int, affinities []affinity.CPUInfo, baseIdx, epollWaitThreads, epollWaitGap int) {
	g.baseThreadCount = threads
	g.workerCount.Store(int64(threads))
	globalThreadCount.Add(int64(threads))

	var sb strings.Builder
	sb.WriteByte('[')
	for tid := 0; tid < threads; tid++ {
		core := -1
		if baseIdx+tid < len(affinities) {
			core = affinities[baseIdx+tid].Processor
		}
		isWait := tid%epollWaitGap == 0 && epollWaitThreads > 0
		if isWait {
			epollWaitThreads--
		}
		go g.loop(uint32(tid), true, core, isWait, true)

		if core < 0 {
			g.withAffinity = false
		} else if !containsCore(g.cpus, core) {
			g.cpus = append(g.cpus, core)
			if tid != 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Itoa(core))
		}
	}
	if g.withAffinity {
		sb.WriteByte(']')
		g.coresStr = sb.String()
	}
}

func containsCore(cores []int, c int) bool {
	for _, v := range cores {
		if v == c {
			return true
		}
	}
	return false
}

// GroupID returns the group index.
func (g *Group) GroupID() uint32 { return g.groupID }

// notify wakes one suspended wait by writing a word to the notifier.
func (g *Group) notify() {
	var one [8]byte
	one[0] = 1
	_, _ = unix.Write(g.eventFD, one[:])
}

// PushWork publishes a task to the work queue. Returns false when the
// ring is full; nothing is written to the notifier in that case and the
// producer owns the back-pressure decision.
func (g *Group) PushWork(t api.Task) bool {
	if !g.workQueue.Push(t) {
		return false
	}
	// Read-modify-write so the push above is ordered before the waiter
	// observation. Spurious wakes are fine; missed wakes are not.
	waiting := g.waitCnt.Add(0)
	if waiting > 0 {
		g.notify()
	}
	return true
}

// PushTrigger arms a task at an absolute steady-clock time in ms. When the
// new trigger is not later than the previous earliest, the notifier is
// written so a thread in a longer wait recomputes its timeout. An empty
// heap always notifies.
func (g *Group) PushTrigger(t api.Task, triggerMS int64) {
	g.timerLock.Lock(g.cfg.MCSSpinCnt)
	lastTime, ok := g.timerHeap.Peek()
	if !ok {
		lastTime = triggerMS + 1
	}
	g.timerHeap.Push(t, triggerMS, 0)
	g.timerLock.Unlock()

	if lastTime-triggerMS >= 0 {
		g.notify()
	}
}

// ExtraCtx exposes the group's reusable-session context.
func (g *Group) ExtraCtx() *session.GroupContext { return g.extraCtx }

// AddStallCount marks one worker blocked on downstream work.
func (g *Group) AddStallCount() { g.stallCount.Add(1) }

// SubStallCount clears one stall mark.
func (g *Group) SubStallCount() { g.stallCount.Add(-1) }

// AttachSession attributes one connection to this group.
func (g *Group) AttachSession() { g.sessionCount.Add(1) }

// DetachSession removes one connection attribution.
func (g *Group) DetachSession() { g.sessionCount.Add(-1) }

// SessionCount returns the connections attributed to this group.
func (g *Group) SessionCount() int64 { return g.sessionCount.Load() }

// WorkerCount returns the current worker thread count.
func (g *Group) WorkerCount() int64 { return g.workerCount.Load() }

// TaskerCount returns the current tasker thread count.
func (g *Group) TaskerCount() int64 { return g.taskerCount.Load() }

// BaseThreadCount returns the fixed base thread count.
func (g *Group) BaseThreadCount() int { return g.baseThreadCount }

// QueueWaitHist returns the pop-latency histogram. Empty unless
// EnablePerfHist is set.
func (g *Group) QueueWaitHist() *control.Histogram { return g.queueWaitHist }
