// Package concurrency implements the lock-free building blocks of the
// reactor: a bounded MPMC work queue, a bounded-spin lock with try-lock
// semantics, and a min-heap of timer tasks.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package concurrency
