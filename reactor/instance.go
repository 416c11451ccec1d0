// File: reactor/instance.go
//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide reactor singleton. The group set is built exactly once on
// the first Instance call and lives until the process exits. SetConfig,
// SetThreadHooks and SetLogger belong before that first call. A later
// SetConfig is ignored; a later SetLogger applies to every following log
// line, and a later SetThreadHooks to threads that start afterwards.

package reactor

import (
	"sync"

	"github.com/momentics/mtepoll/api"
	"github.com/momentics/mtepoll/control"
	"github.com/momentics/mtepoll/internal/affinity"
)

var (
	configMu      sync.Mutex
	pendingConfig = control.DefaultConfig()

	hooks api.ThreadHooks = api.NopThreadHooks{}

	instanceOnce sync.Once
	instance     []*Group
	instanceErr  error
)

// SetConfig replaces the pending configuration. Effective only before the
// first Instance call.
func SetConfig(c control.Config) {
	configMu.Lock()
	pendingConfig = c
	configMu.Unlock()
}

// SetThreadHooks installs per-thread init/deinit hooks run by every loop
// thread. Call before the first Instance use.
func SetThreadHooks(h api.ThreadHooks) {
	if h != nil {
		hooks = h
	}
}

// Instance returns the process-wide group set, building it on first use.
// Construction failure is sticky: every later call returns the same
// *api.SystemInitError.
func Instance() ([]*Group, error) {
	instanceOnce.Do(func() {
		configMu.Lock()
		cfg := pendingConfig
		configMu.Unlock()
		cfg.Clamp()
		instance, instanceErr = buildGroups(cfg)
	})
	return instance, instanceErr
}

// buildGroups sizes the group set, lays out CPU affinities and waiter
// slots, then constructs and starts every group.
func buildGroups(cfg control.Config) ([]*Group, error) {
	threads := cfg.ThreadsPerGroup

	groups := cfg.Groups
	baseGroups := groups
	if groups <= 0 {
		cores := affinity.CoreCount()
		if cfg.AutoCPUAffinity {
			if mask, err := affinity.ProcessMask(); err == nil && len(mask) > 0 {
				cores = len(mask) // at most that many can run
			}
		}
		groups = cores / threads
		if cores%threads != 0 {
			groups++
		}
		if groups < cfg.MinAutoGroups {
			// Round up to a multiple of the automatic count so the
			// core-to-group mapping stays even.
			mult := cfg.MinAutoGroups / groups
			if cfg.MinAutoGroups%groups != 0 {
				mult++
			}
			groups = mult * groups
		}
		baseGroups = groups
		groups += cfg.ExtraGroups
	}
	if baseGroups > control.MaxEpollGroups {
		baseGroups = control.MaxEpollGroups
	}
	if groups > control.MaxEpollGroups {
		groups = control.MaxEpollGroups
	}

	affinities := buildAffinities(cfg, baseGroups, threads)

	totalWait := cfg.MaxEpollWaitTotalThreads
	if totalWait == 0 {
		totalWait = groups * threads
	} else if totalWait < control.MinEpollWaitTotalThreads {
		totalWait = control.MinEpollWaitTotalThreads
	} else if totalWait > control.MaxEpollWaitTotalThreads {
		totalWait = control.MaxEpollWaitTotalThreads
	}
	if totalWait < groups {
		totalWait = groups // at least one waiter per group
	}

	waitPerGroup := 1
	for waitPerGroup < threads && (waitPerGroup+1)*groups <= totalWait {
		waitPerGroup++
	}
	waitGap := threads / waitPerGroup

	out := make([]*Group, groups)
	for id := 0; id < groups; id++ {
		g, err := newGroup(uint32(id), cfg)
		if err != nil {
			return nil, err
		}
		g.initThreads(threads, affinities, id*threads, waitPerGroup, waitGap)
		out[id] = g
	}

	log.Warnf("mtepoll start with %d groups with each group %d threads. With %d thread bind to fixed CPU core",
		groups, threads, len(affinities))
	return out, nil
}

// buildAffinities lists the cores loop threads bind to, in topology order.
// Empty when automatic affinity is off or the mask cannot be read; loop
// threads then run unpinned.
func buildAffinities(cfg control.Config, baseGroups, threads int) []affinity.CPUInfo {
	if !cfg.AutoCPUAffinity {
		return nil
	}
	mask, err := affinity.ProcessMask()
	if err != nil {
		return nil
	}
	allowed := make(map[int]bool, len(mask))
	for _, c := range mask {
		allowed[c] = true
	}

	topo := affinity.Topology()
	byProcessor := make(map[int]affinity.CPUInfo, len(topo))
	maxProc := 0
	for _, info := range topo {
		byProcessor[info.Processor] = info
		if info.Processor > maxProc {
			maxProc = info.Processor
		}
	}
	for _, c := range mask {
		if c > maxProc {
			maxProc = c
		}
	}

	var out []affinity.CPUInfo
	for i := 0; i <= maxProc; i++ {
		info, known := byProcessor[i]
		if allowed[i] || (cfg.ForceAllCores && known) {
			if !known {
				info = affinity.CPUInfo{Processor: i}
			}
			out = append(out, info)
		}
	}
	if len(out) == 0 {
		return nil
	}

	// Not enough distinct cores for the base groups: repeat the list so
	// every base thread still gets a slot.
	if need := baseGroups * threads; need > len(out) {
		duplicates := (need + len(out) - 1) / len(out)
		if duplicates > 1 {
			repeated := make([]affinity.CPUInfo, 0, duplicates*len(out))
			for i := 0; i < duplicates; i++ {
				repeated = append(repeated, out...)
			}
			out = repeated
		}
	}
	affinity.SortCPUInfo(out)
	return out
}

// PickGroup selects a group for a new connection with two random probes,
// keeping the one with fewer attributed sessions.
func PickGroup(groups []*Group, seed uint64) *Group {
	n := uint64(len(groups))
	if n == 0 {
		return nil
	}
	if n == 1 {
		return groups[0]
	}
	a := groups[seed%n]
	b := groups[(seed/n)%n]
	if b.SessionCount() < a.SessionCount() {
		return b
	}
	return a
}
