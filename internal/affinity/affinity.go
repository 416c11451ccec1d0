// File: internal/affinity/affinity.go
// Package affinity enumerates CPU topology and pins reactor threads to
// cores. The Linux implementation drives sched_{get,set}affinity; other
// platforms skip pinning.
// Author: momentics <momentics@gmail.com>

package affinity

import "sort"

// CPUInfo describes one logical processor.
type CPUInfo struct {
	Processor int
	PackageID int
	CoreID    int
}

// SortCPUInfo orders processors by package, core, then processor id. The
// order is stable so duplicated topology lists keep their round order.
func SortCPUInfo(infos []CPUInfo) {
	sort.SliceStable(infos, func(i, j int) bool {
		a, b := infos[i], infos[j]
		if a.PackageID != b.PackageID {
			return a.PackageID < b.PackageID
		}
		if a.CoreID != b.CoreID {
			return a.CoreID < b.CoreID
		}
		return a.Processor < b.Processor
	})
}
