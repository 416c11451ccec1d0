// Package api
// Author: momentics <momentics@gmail.com>
//
// Deferred task unit consumed by the reactor work queue and timer heap.

package api

// Task is an opaque deferred unit of work: a run action and a finalize
// action. The zero value is empty. A Task is consumed exactly once: Call
// then Finish, on the same thread.
type Task struct {
	run func()
	fin func()
}

// NewTask builds a task from a run action and an optional finalizer.
func NewTask(run, fin func()) Task {
	return Task{run: run, fin: fin}
}

// Valid reports whether the task carries a run action.
func (t *Task) Valid() bool {
	return t.run != nil
}

// Take moves the task out, leaving the source empty.
func (t *Task) Take() Task {
	out := *t
	t.run = nil
	t.fin = nil
	return out
}

// Call executes the run action if present.
func (t *Task) Call() {
	if t.run != nil {
		t.run()
	}
}

// Finish executes the finalize action if present.
func (t *Task) Finish() {
	if t.fin != nil {
		t.fin()
	}
}
