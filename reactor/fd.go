// File: reactor/fd.go
//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Descriptor registration surface. Every failure returns the raw errno
// wrapped in *api.ErrnoError, except that ListenAddr passes errors of the
// net listener through unchanged; the caller owns recovery (closing the fd,
// freeing the callback). Ownership of a callback passes to the reactor
// only when AddFD succeeds.

package reactor

import (
	"errors"
	"net"

	"github.com/libp2p/go-reuseport"
	"golang.org/x/sys/unix"

	"github.com/momentics/mtepoll/api"
	"github.com/momentics/mtepoll/control"
)

// Readiness masks re-exported so hosts avoid importing unix directly.
const (
	EventIn  = uint32(unix.EPOLLIN)
	EventOut = uint32(unix.EPOLLOUT)
	EventErr = uint32(unix.EPOLLERR)
	EventHup = uint32(unix.EPOLLHUP)
	EventET  = uint32(unix.EPOLLET)
)

func errnoOf(err error) unix.Errno {
	var e unix.Errno
	if errors.As(err, &e) {
		return e
	}
	return unix.EIO
}

// nonblock sets or clears O_NONBLOCK, retrying the canonical EINTR case.
func nonblock(fd int, set bool) error {
	var flags int
	for {
		f, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return api.NewErrnoError("fcntl getfl", errnoOf(err))
		}
		flags = f
		break
	}

	if (flags&unix.O_NONBLOCK != 0) == set {
		return nil
	}
	if set {
		flags |= unix.O_NONBLOCK
	} else {
		flags &^= unix.O_NONBLOCK
	}
	for {
		_, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return api.NewErrnoError("fcntl setfl", errnoOf(err))
		}
		return nil
	}
}

func nodelay(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return api.NewErrnoError("setsockopt nodelay", errnoOf(err))
	}
	return nil
}

func keepalive(fd, idleSec int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return api.NewErrnoError("setsockopt keepalive", errnoOf(err))
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, idleSec); err != nil {
		return api.NewErrnoError("setsockopt keepidle", errnoOf(err))
	}
	return nil
}

// AddFD registers a descriptor with the group. The fd is set non-blocking;
// TCP sockets additionally get TCP_NODELAY and, when configured, a clamped
// keepalive idle. SetFD runs before registration and FDRegistered after it
// succeeds. On error the callback stays with the caller.
func (g *Group) AddFD(fd int, events uint32, cb api.Callback, tcp bool) error {
	if err := nonblock(fd, true); err != nil {
		return err
	}
	if tcp {
		if err := nodelay(fd); err != nil {
			return err
		}
		idle := g.cfg.TCPKeepAlive
		if idle > control.MaxTCPKeepAlive {
			idle = control.MaxTCPKeepAlive
		}
		if idle > 0 {
			if err := keepalive(fd, idle); err != nil {
				return err
			}
		}
	}

	cb.SetFD(fd)
	// Registry entry must exist before the kernel can report the fd: an
	// edge can arrive between epoll_ctl and any later map store.
	g.callbacks.Store(fd, cb)
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	log.Debugf("mtepoll %d add fd %d", g.groupID, fd)
	if err := unix.EpollCtl(g.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		g.callbacks.Delete(fd)
		return api.NewErrnoError("epoll_ctl add", errnoOf(err))
	}
	cb.FDRegistered()
	return nil
}

// ResetFD modifies the registered event mask and swaps the callback
// payload of an already registered descriptor.
func (g *Group) ResetFD(fd int, events uint32, cb api.Callback) error {
	g.callbacks.Store(fd, cb)
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	log.Debugf("mtepoll %d mod fd %d", g.groupID, fd)
	if err := unix.EpollCtl(g.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return api.NewErrnoError("epoll_ctl mod", errnoOf(err))
	}
	return nil
}

// DelFD removes a descriptor from the interest set and drops the
// registry entry. The callback is returned to the caller's ownership.
func (g *Group) DelFD(fd int) error {
	log.Debugf("mtepoll %d del fd %d", g.groupID, fd)
	err := unix.EpollCtl(g.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	g.callbacks.Delete(fd)
	if err != nil {
		return api.NewErrnoError("epoll_ctl del", errnoOf(err))
	}
	return nil
}

// ListenPort opens a TCP listening socket on INADDR_ANY:port and registers
// it edge-triggered readable. SO_REUSEADDR is always set, SO_REUSEPORT
// when reuse is requested. The backlog depth is clamped.
func (g *Group) ListenPort(port uint16, cb api.Callback, reuse bool) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return api.NewErrnoError("socket", errnoOf(err))
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if reuse {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	}
	sa := &unix.SockaddrInet4{Port: int(port)}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return api.NewErrnoError("bind", errnoOf(err))
	}

	depth := g.cfg.TCPListenQueue
	if depth < control.MinTCPListenQueue {
		depth = control.MinTCPListenQueue
	} else if depth > control.MaxTCPListenQueue {
		depth = control.MaxTCPListenQueue
	}
	if err := unix.Listen(fd, depth); err != nil {
		_ = unix.Close(fd)
		return api.NewErrnoError("listen", errnoOf(err))
	}
	if err := g.AddFD(fd, EventIn|EventET, cb, true); err != nil {
		_ = unix.Close(fd)
		return err
	}
	return nil
}

// ListenAddr is the address-string variant of ListenPort built on the
// reuseport listener (SO_REUSEADDR and SO_REUSEPORT both set). The
// listening descriptor is dup'd out of the net.Listener and registered
// edge-triggered readable.
func (g *Group) ListenAddr(addr string, cb api.Callback) error {
	ln, err := reuseport.Listen("tcp", addr)
	if err != nil {
		return err
	}
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return api.NewErrnoError("listen addr", unix.EINVAL)
	}
	f, err := tl.File()
	if err != nil {
		_ = ln.Close()
		return err
	}
	_ = ln.Close()

	fd := int(f.Fd())
	if err := g.AddFD(fd, EventIn|EventET, cb, true); err != nil {
		_ = f.Close()
		return err
	}
	// Hold the os.File so its finalizer cannot close the registered fd.
	g.listenMu.Lock()
	g.listenFiles[fd] = f
	g.listenMu.Unlock()
	return nil
}

// CheckPort probes whether a port is already bound on the loopback
// address. Returns nil when the connect attempt is refused (port free),
// *api.ErrnoError with EADDRINUSE when it is accepted, and the connect
// errno wrapped in *api.ErrnoError otherwise.
func CheckPort(port uint16) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return api.NewErrnoError("socket", errnoOf(err))
	}
	defer unix.Close(fd)

	sa := &unix.SockaddrInet4{Port: int(port), Addr: [4]byte{127, 0, 0, 1}}
	if err := unix.Connect(fd, sa); err != nil {
		if errnoOf(err) == unix.ECONNREFUSED {
			return nil
		}
		return api.NewErrnoError("connect", errnoOf(err))
	}
	return api.NewErrnoError("check port", unix.EADDRINUSE)
}
