// File: internal/concurrency/timerheap.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Min-heap of deferred tasks keyed by absolute trigger time in
// milliseconds. Not internally synchronized: callers guard it with the
// group timer SpinLock.

package concurrency

import (
	"container/heap"

	"github.com/momentics/mtepoll/api"
)

// TimerEntry is one armed timer.
type TimerEntry struct {
	Task      api.Task
	TriggerMS int64
	ID        int32
	Type      uint32
}

type timerEntries []TimerEntry

func (h timerEntries) Len() int            { return len(h) }
func (h timerEntries) Less(i, j int) bool  { return h[i].TriggerMS < h[j].TriggerMS }
func (h timerEntries) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerEntries) Push(x interface{}) { *h = append(*h, x.(TimerEntry)) }
func (h *timerEntries) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = TimerEntry{}
	*h = old[:n-1]
	return e
}

// TimerHeap orders tasks by ascending trigger time.
type TimerHeap struct {
	entries timerEntries
	nextID  int32
}

// NewTimerHeap returns an empty heap.
func NewTimerHeap() *TimerHeap {
	return &TimerHeap{}
}

// Push arms a task at the absolute trigger time and returns its id.
func (t *TimerHeap) Push(task api.Task, triggerMS int64, typ uint32) int32 {
	id := t.nextID
	t.nextID++
	heap.Push(&t.entries, TimerEntry{Task: task, TriggerMS: triggerMS, ID: id, Type: typ})
	return id
}

// Peek reports the earliest trigger time without removing the entry.
func (t *TimerHeap) Peek() (int64, bool) {
	if len(t.entries) == 0 {
		return 0, false
	}
	return t.entries[0].TriggerMS, true
}

// PopDue removes the earliest entry whose trigger time is <= nowMS.
// Repeatable until no due entry remains.
func (t *TimerHeap) PopDue(nowMS int64) (api.Task, bool) {
	if len(t.entries) == 0 || t.entries[0].TriggerMS > nowMS {
		return api.Task{}, false
	}
	e := heap.Pop(&t.entries).(TimerEntry)
	return e.Task, true
}

// Len returns the number of armed timers.
func (t *TimerHeap) Len() int { return len(t.entries) }
