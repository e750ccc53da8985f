//go:build linux
// +build linux

// File: reactor/selector_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7) selector with one-shot arming and an eventfd wakeup.

package reactor

import (
	"errors"
	"fmt"

	"github.com/momentics/hiolink/api"
	"golang.org/x/sys/unix"
)

const maxEvents = 128

// selector is an epoll instance. Every channel fd is armed with
// EPOLLONESHOT, so it is disabled after reporting once.
type selector struct {
	epfd   int
	wakefd int
}

func newSelector() (*selector, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wakeup: %w", err)
	}
	return &selector{epfd: epfd, wakefd: wakefd}, nil
}

func epollMask(interest api.Interest) uint32 {
	var m uint32 = unix.EPOLLONESHOT
	if interest.Has(api.InterestRead) {
		m |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest.Has(api.InterestWrite) {
		m |= unix.EPOLLOUT
	}
	return m
}

// readiness converts reported epoll bits into interests, limited to armed.
// Error and hang-up conditions wake every armed interest so the owner
// observes the failure through Read or Write.
func readiness(events uint32, armed api.Interest) api.Interest {
	var got api.Interest
	if events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
		got |= api.InterestRead
	}
	if events&unix.EPOLLOUT != 0 {
		got |= api.InterestWrite
	}
	if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		got |= api.InterestRead | api.InterestWrite
	}
	return got & armed
}

// arm sets the one-shot interest mask of fd. add selects EPOLL_CTL_ADD.
func (s *selector) arm(fd int, interest api.Interest, add bool) error {
	ev := unix.EpollEvent{Events: epollMask(interest), Fd: int32(fd)}
	op := unix.EPOLL_CTL_MOD
	if add {
		op = unix.EPOLL_CTL_ADD
	}
	if err := unix.EpollCtl(s.epfd, op, fd, &ev); err != nil {
		if add && errors.Is(err, unix.EEXIST) {
			return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
		}
		return err
	}
	return nil
}

// remove deletes fd. A descriptor already closed is not an error.
func (s *selector) remove(fd int) error {
	err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && (errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENOENT)) {
		return nil
	}
	return err
}

// wait blocks for events. EINTR yields zero events.
func (s *selector) wait(events []unix.EpollEvent) (int, error) {
	n, err := unix.EpollWait(s.epfd, events, -1)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	return n, nil
}

func (s *selector) isWakeup(fd int32) bool { return int(fd) == s.wakefd }

func (s *selector) wakeup() {
	var one = [8]byte{1}
	_, _ = unix.Write(s.wakefd, one[:])
}

func (s *selector) drainWakeup() {
	var buf [8]byte
	_, _ = unix.Read(s.wakefd, buf[:])
}

func (s *selector) close() error {
	err1 := unix.Close(s.wakefd)
	err2 := unix.Close(s.epfd)
	if err1 != nil {
		return err1
	}
	return err2
}
