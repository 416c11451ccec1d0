// Package reactor implements a multi-group, multi-threaded epoll reactor:
// per-group edge-triggered readiness multiplexing with an eventfd
// notifier, a lock-free work queue with wake coalescing, a spinlock-guarded
// timer heap, CPU-affinity thread placement, and an adaptively sized
// worker/tasker pool with stall detection.
//
// The reactor is linked into a host process. The host configures it via
// SetConfig/SetThreadHooks/SetLogger before the first Instance call, then
// registers descriptors and pushes work on the returned groups. Groups
// live for the whole process; they are never torn down.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package reactor
