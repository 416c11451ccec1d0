// File: reactor/fd_test.go
//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"errors"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/mtepoll/api"
)

// echoCallback drains readable data and counts lifecycle calls. keep
// decides the Events return, so tests can force a release.
type echoCallback struct {
	api.CallbackBase

	fd         atomic.Int64
	registered atomic.Int64
	preEvents  atomic.Int64
	events     atomic.Int64
	released   atomic.Int64
	bytes      atomic.Int64

	keep atomic.Bool
}

func newEchoCallback() *echoCallback {
	c := &echoCallback{}
	c.keep.Store(true)
	return c
}

func (c *echoCallback) SetFD(fd int)  { c.fd.Store(int64(fd)) }
func (c *echoCallback) FDRegistered() { c.registered.Add(1) }
func (c *echoCallback) PreEvents()    { c.preEvents.Add(1) }
func (c *echoCallback) Release()      { c.released.Add(1) }

func (c *echoCallback) Events(events uint32, index, total int) bool {
	c.events.Add(1)
	if events&EventIn != 0 {
		var buf [256]byte
		for {
			n, err := unix.Read(int(c.fd.Load()), buf[:])
			if n <= 0 || err != nil {
				break
			}
			c.bytes.Add(int64(n))
		}
	}
	return c.keep.Load()
}

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestAddFDDispatchesReadiness(t *testing.T) {
	cfg := testConfig()
	g := mustGroup(t, cfg)
	g.initThreads(1, nil, 0, 1, 1)

	local, peer := socketPair(t)
	cb := newEchoCallback()
	if err := g.AddFD(local, EventIn|EventET, cb, false); err != nil {
		t.Fatal(err)
	}
	if got := int(cb.fd.Load()); got != local {
		t.Fatalf("SetFD recorded %d, want %d", got, local)
	}
	if cb.registered.Load() != 1 {
		t.Fatal("FDRegistered not called exactly once")
	}

	payload := []byte("ping")
	if _, err := unix.Write(peer, payload); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 5*time.Second, "readiness dispatch", func() bool {
		return cb.bytes.Load() == int64(len(payload))
	})
	if cb.preEvents.Load() < cb.events.Load() {
		t.Fatalf("PreEvents ran %d times for %d dispatches",
			cb.preEvents.Load(), cb.events.Load())
	}
	if cb.released.Load() != 0 {
		t.Fatal("callback released while Events keeps returning true")
	}
}

func TestEventsFalseReleasesCallback(t *testing.T) {
	cfg := testConfig()
	g := mustGroup(t, cfg)
	g.initThreads(1, nil, 0, 1, 1)

	local, peer := socketPair(t)
	cb := newEchoCallback()
	cb.keep.Store(false)
	if err := g.AddFD(local, EventIn|EventET, cb, false); err != nil {
		t.Fatal(err)
	}
	if _, err := unix.Write(peer, []byte("x")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 5*time.Second, "callback release", func() bool {
		return cb.released.Load() == 1
	})
	if _, ok := g.callbacks.Load(local); ok {
		t.Fatal("registry still holds the released descriptor")
	}
}

func TestDelFDStopsDispatch(t *testing.T) {
	cfg := testConfig()
	g := mustGroup(t, cfg)
	g.initThreads(1, nil, 0, 1, 1)

	local, peer := socketPair(t)
	cb := newEchoCallback()
	if err := g.AddFD(local, EventIn|EventET, cb, false); err != nil {
		t.Fatal(err)
	}
	if _, err := unix.Write(peer, []byte("a")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 5*time.Second, "first dispatch", func() bool {
		return cb.events.Load() > 0
	})

	if err := g.DelFD(local); err != nil {
		t.Fatal(err)
	}
	seen := cb.events.Load()
	if _, err := unix.Write(peer, []byte("b")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if cb.events.Load() != seen {
		t.Fatal("dispatch continued after DelFD")
	}
	if cb.released.Load() != 0 {
		t.Fatal("DelFD must leave the callback with the caller")
	}
}

func TestResetFDSwapsCallback(t *testing.T) {
	cfg := testConfig()
	g := mustGroup(t, cfg)
	g.initThreads(1, nil, 0, 1, 1)

	local, peer := socketPair(t)
	first := newEchoCallback()
	if err := g.AddFD(local, EventIn|EventET, first, false); err != nil {
		t.Fatal(err)
	}
	second := newEchoCallback()
	second.SetFD(local)
	if err := g.ResetFD(local, EventIn|EventET, second); err != nil {
		t.Fatal(err)
	}
	if _, err := unix.Write(peer, []byte("z")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 5*time.Second, "dispatch to swapped callback", func() bool {
		return second.events.Load() > 0
	})
	if first.events.Load() != 0 {
		t.Fatal("old callback still receives events after ResetFD")
	}
}

func TestAddFDInvalidDescriptor(t *testing.T) {
	g := mustGroup(t, testConfig())
	err := g.AddFD(-1, EventIn, newEchoCallback(), false)
	if err == nil {
		t.Fatal("AddFD accepted an invalid descriptor")
	}
	var ee *api.ErrnoError
	if !errors.As(err, &ee) {
		t.Fatalf("error %T does not wrap an errno", err)
	}
}

func TestNonblockIdempotent(t *testing.T) {
	local, _ := socketPair(t)
	if err := nonblock(local, true); err != nil {
		t.Fatal(err)
	}
	if err := nonblock(local, true); err != nil {
		t.Fatal(err)
	}
	flags, err := unix.FcntlInt(uintptr(local), unix.F_GETFL, 0)
	if err != nil {
		t.Fatal(err)
	}
	if flags&unix.O_NONBLOCK == 0 {
		t.Fatal("O_NONBLOCK not set")
	}
	if err := nonblock(local, false); err != nil {
		t.Fatal(err)
	}
	flags, _ = unix.FcntlInt(uintptr(local), unix.F_GETFL, 0)
	if flags&unix.O_NONBLOCK != 0 {
		t.Fatal("O_NONBLOCK still set after clear")
	}
}

func TestCheckPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	p, _ := strconv.Atoi(portStr)
	port := uint16(p)

	err = CheckPort(port)
	var ee *api.ErrnoError
	if !errors.As(err, &ee) || ee.Errno != unix.EADDRINUSE {
		t.Fatalf("bound port reported %v, want EADDRINUSE", err)
	}

	_ = ln.Close()
	waitFor(t, 5*time.Second, "port to free", func() bool {
		return CheckPort(port) == nil
	})
}

func TestListenPortAcceptsConnections(t *testing.T) {
	cfg := testConfig()
	g := mustGroup(t, cfg)
	g.initThreads(1, nil, 0, 1, 1)

	// find a free port first
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	_, portStr, _ := net.SplitHostPort(probe.Addr().String())
	p, _ := strconv.Atoi(portStr)
	_ = probe.Close()
	port := uint16(p)

	cb := newEchoCallback()
	if err := g.ListenPort(port, cb, false); err != nil {
		t.Fatal(err)
	}
	if cb.registered.Load() != 1 {
		t.Fatal("listener callback not registered")
	}

	conn, err := net.DialTimeout("tcp", "127.0.0.1:"+portStr, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	waitFor(t, 5*time.Second, "accept readiness on listener", func() bool {
		return cb.events.Load() > 0
	})
}
