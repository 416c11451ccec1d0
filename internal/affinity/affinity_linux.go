// File: internal/affinity/affinity_linux.go
//go:build linux

// Author: momentics <momentics@gmail.com>
//
// Linux affinity backend. All calls operate on the calling thread (pid 0
// with sched_setaffinity), so callers must hold runtime.LockOSThread.

package affinity

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Available reports whether thread pinning works on this platform.
func Available() bool { return true }

// CoreCount returns the number of logical processors.
func CoreCount() int { return runtime.NumCPU() }

// ProcessMask lists the cores the calling thread may run on.
func ProcessMask() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, err
	}
	cores := make([]int, 0, set.Count())
	for i := 0; i < len(set)*64; i++ {
		if set.IsSet(i) {
			cores = append(cores, i)
		}
	}
	return cores, nil
}

// ThreadAllowed reports whether the calling thread's mask includes core.
func ThreadAllowed(core int) bool {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return false
	}
	return set.IsSet(core)
}

// PinThread binds the calling thread to a single core.
func PinThread(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	return unix.SchedSetaffinity(0, &set)
}

// PinThreadSet binds the calling thread to a core set.
func PinThreadSet(cores []int) error {
	if len(cores) == 0 {
		return unix.EINVAL
	}
	var set unix.CPUSet
	set.Zero()
	for _, c := range cores {
		set.Set(c)
	}
	return unix.SchedSetaffinity(0, &set)
}

// Topology enumerates logical processors from /proc/cpuinfo. When the
// file cannot be parsed every processor reports package 0 core 0, which
// still yields a usable round-robin order.
func Topology() []CPUInfo {
	infos := parseCPUInfo("/proc/cpuinfo")
	if len(infos) == 0 {
		n := runtime.NumCPU()
		infos = make([]CPUInfo, 0, n)
		for i := 0; i < n; i++ {
			infos = append(infos, CPUInfo{Processor: i})
		}
	}
	return infos
}

func parseCPUInfo(path string) []CPUInfo {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var infos []CPUInfo
	cur := CPUInfo{Processor: -1}
	flush := func() {
		if cur.Processor >= 0 {
			infos = append(infos, cur)
		}
		cur = CPUInfo{Processor: -1}
	}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		key, val, ok := splitCPUInfoLine(line)
		if !ok {
			continue
		}
		switch key {
		case "processor":
			flush()
			cur.Processor = val
		case "physical id":
			cur.PackageID = val
		case "core id":
			cur.CoreID = val
		}
	}
	flush()
	return infos
}

func splitCPUInfoLine(line string) (string, int, bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", 0, false
	}
	key := strings.TrimSpace(line[:idx])
	v, err := strconv.Atoi(strings.TrimSpace(line[idx+1:]))
	if err != nil {
		return key, 0, false
	}
	return key, v, true
}
