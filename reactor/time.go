// File: reactor/time.go
// Author: momentics <momentics@gmail.com>
//
// Coarse steady clock. All reactor timestamps are milliseconds on the
// process-local monotonic clock, never wall time.

package reactor

import "time"

var steadyEpoch = time.Now()

func steadyMS() int64 {
	return time.Since(steadyEpoch).Milliseconds()
}

func steadyNS() int64 {
	return time.Since(steadyEpoch).Nanoseconds()
}
