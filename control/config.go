// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Host-facing configuration of the reactor. Values are read once when the
// process-wide singleton initializes; Clamp pins every field to its
// documented range before use.

package control

// Hard limits of the reactor core.
const (
	MaxEpollGroups           = 128
	MaxEpollExtraGroups      = 32
	MaxEpollThreadsPerGroup  = 128
	MinEpollWaitTotalThreads = 4
	MaxEpollWaitTotalThreads = 128
	MaxEpollEventsPerThread  = 16

	MaxEpollTimeoutMS = 60 * 1000

	MaxTCPKeepAlive   = 7200
	MinTCPListenQueue = 1
	MaxTCPListenQueue = 4096

	MinWorkQueueCapacity = 128
	MaxWorkQueueCapacity = 4096
)

// Config carries every tunable of the reactor core.
type Config struct {
	// ThreadsPerGroup is the base thread count of each group.
	ThreadsPerGroup int
	// Groups is the explicit group count; 0 selects automatic sizing from
	// the core count.
	Groups int
	// ExtraGroups adds groups beyond the automatic base count.
	ExtraGroups int
	// MinAutoGroups is the lower bound on the automatic group count.
	MinAutoGroups int

	// AutoCPUAffinity honors the process affinity mask when placing
	// threads on cores.
	AutoCPUAffinity bool
	// ForceAllCores binds threads to every known core even when the
	// process mask excludes some.
	ForceAllCores bool

	// MaxEpollWaitTotalThreads caps the number of threads allowed to
	// block in the multi-event wait; 0 means all threads wait.
	MaxEpollWaitTotalThreads int

	// WorkQueueCapacity is the per-group task ring size.
	WorkQueueCapacity int
	// EventsPerThread is the maximum readiness events a single wait
	// returns.
	EventsPerThread int
	// TimeoutMS is the maximum wait time. Zero is disallowed; busy
	// spinning is never permitted.
	TimeoutMS int

	// TCPKeepAlive is the keepalive idle time in seconds; 0 disables it.
	TCPKeepAlive int
	// TCPListenQueue is the listen backlog depth.
	TCPListenQueue int

	// DynamicThreads is the preferred count of extra workers beyond the
	// base set.
	DynamicThreads int
	// ThreadScaleThresh shifts the stall threshold for growing the pool;
	// clamped to [0, base-1] at use.
	ThreadScaleThresh int
	// ShrinkTimeMS is the idle period after which dynamic threads
	// terminate.
	ShrinkTimeMS int64
	// TaskerMultiply is the backlog-to-thread ratio gating tasker spawn.
	TaskerMultiply int
	// TaskerExtendStep caps taskers added per balance trigger.
	TaskerExtendStep int
	// EnableEpollInTasker lets tasker threads wait on the multiplexer
	// instead of the notifier only.
	EnableEpollInTasker bool

	// GroupCtxRefreshTimeMS is the reusable-session cleanup cadence.
	GroupCtxRefreshTimeMS int64
	// SharedSessionLifetimeMS is the reusable-session TTL.
	SharedSessionLifetimeMS int64

	// EnableThreadPoolLog logs scale and shrink events at warning level.
	EnableThreadPoolLog bool
	// EnablePerfHist samples work-queue pop latencies.
	EnablePerfHist bool

	// MCSSpinCnt is the spin budget of lock acquisition before yielding.
	MCSSpinCnt int
}

// DefaultConfig returns the shipped defaults.
func DefaultConfig() Config {
	return Config{
		ThreadsPerGroup:          4,
		Groups:                   0,
		ExtraGroups:              0,
		MinAutoGroups:            1,
		AutoCPUAffinity:          false,
		ForceAllCores:            false,
		MaxEpollWaitTotalThreads: 0,
		WorkQueueCapacity:        512,
		EventsPerThread:          8,
		TimeoutMS:                10 * 1000,
		TCPKeepAlive:             30,
		TCPListenQueue:           128,
		DynamicThreads:           2,
		ThreadScaleThresh:        1,
		ShrinkTimeMS:             10 * 1000,
		TaskerMultiply:           3,
		TaskerExtendStep:         2,
		EnableEpollInTasker:      false,
		GroupCtxRefreshTimeMS:    10 * 1000,
		SharedSessionLifetimeMS:  10 * 60 * 1000,
		EnableThreadPoolLog:      true,
		EnablePerfHist:           false,
		MCSSpinCnt:               2000,
	}
}

// Clamp pins every field to its documented range.
func (c *Config) Clamp() {
	c.ThreadsPerGroup = clampInt(c.ThreadsPerGroup, 1, MaxEpollThreadsPerGroup)
	if c.Groups < 0 {
		c.Groups = 0
	}
	c.Groups = minInt(c.Groups, MaxEpollGroups)
	c.ExtraGroups = clampInt(c.ExtraGroups, 0, MaxEpollExtraGroups)
	if c.MinAutoGroups < 1 {
		c.MinAutoGroups = 1
	}
	if c.MaxEpollWaitTotalThreads != 0 {
		c.MaxEpollWaitTotalThreads = clampInt(c.MaxEpollWaitTotalThreads,
			MinEpollWaitTotalThreads, MaxEpollWaitTotalThreads)
	}
	c.WorkQueueCapacity = clampInt(c.WorkQueueCapacity,
		MinWorkQueueCapacity, MaxWorkQueueCapacity)
	c.EventsPerThread = clampInt(c.EventsPerThread, 1, MaxEpollEventsPerThread)
	c.TimeoutMS = clampInt(c.TimeoutMS, 1, MaxEpollTimeoutMS)
	c.TCPKeepAlive = clampInt(c.TCPKeepAlive, 0, MaxTCPKeepAlive)
	c.TCPListenQueue = clampInt(c.TCPListenQueue, MinTCPListenQueue, MaxTCPListenQueue)
	if c.DynamicThreads < 0 {
		c.DynamicThreads = 0
	}
	if c.ThreadScaleThresh < 0 {
		c.ThreadScaleThresh = 0
	}
	if c.ShrinkTimeMS < 1 {
		c.ShrinkTimeMS = 1
	}
	if c.TaskerMultiply < 1 {
		c.TaskerMultiply = 1
	}
	if c.TaskerExtendStep < 1 {
		c.TaskerExtendStep = 1
	}
	if c.GroupCtxRefreshTimeMS < 1 {
		c.GroupCtxRefreshTimeMS = 1
	}
	if c.SharedSessionLifetimeMS < 1 {
		c.SharedSessionLifetimeMS = 1
	}
	if c.MCSSpinCnt < 1 {
		c.MCSSpinCnt = 1
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
