// File: internal/session/session.go
// Package session holds the per-group extra context: a bounded FIFO pool
// of reusable session-like objects with time-based eviction.
// Author: momentics <momentics@gmail.com>

package session

import (
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

var nextSessionID atomic.Uint64

// ReusableSession is a pooled session shell. The host parks protocol
// state in Ctx between connections; Scratch is a pooled working buffer
// returned to its pool when the session is dropped.
type ReusableSession struct {
	ID          uint64
	StartTimeMS int64
	Ctx         any
	Scratch     *bytebufferpool.ByteBuffer
}

// NewReusableSession allocates a session shell stamped with the creation
// time in coarse milliseconds.
func NewReusableSession(nowMS int64) *ReusableSession {
	return &ReusableSession{
		ID:          nextSessionID.Add(1),
		StartTimeMS: nowMS,
		Scratch:     bytebufferpool.Get(),
	}
}

// Drop releases pooled resources. The session must not be reused after.
func (s *ReusableSession) Drop() {
	if s.Scratch != nil {
		bytebufferpool.Put(s.Scratch)
		s.Scratch = nil
	}
	s.Ctx = nil
}
