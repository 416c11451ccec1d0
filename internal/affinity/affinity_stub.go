// File: internal/affinity/affinity_stub.go
//go:build !linux

// Author: momentics <momentics@gmail.com>
//
// Pinning is a leaf policy; on platforms without sched_setaffinity every
// pinning call returns an unsupported error and threads run unpinned. This
// package logs nothing, and the reactor package builds only on Linux, so
// no warning is emitted on these platforms.

package affinity

import (
	"errors"
	"runtime"
)

var errUnsupported = errors.New("affinity: not supported on this platform")

// Available reports whether thread pinning works on this platform.
func Available() bool { return false }

// CoreCount returns the number of logical processors.
func CoreCount() int { return runtime.NumCPU() }

// ProcessMask lists the cores the calling thread may run on.
func ProcessMask() ([]int, error) { return nil, errUnsupported }

// ThreadAllowed reports whether the calling thread's mask includes core.
func ThreadAllowed(core int) bool { return false }

// PinThread binds the calling thread to a single core.
func PinThread(core int) error { return errUnsupported }

// PinThreadSet binds the calling thread to a core set.
func PinThreadSet(cores []int) error { return errUnsupported }

// Topology enumerates logical processors.
func Topology() []CPUInfo {
	n := runtime.NumCPU()
	infos := make([]CPUInfo, 0, n)
	for i := 0; i < n; i++ {
		infos = append(infos, CPUInfo{Processor: i})
	}
	return infos
}
