// Copyright 2025 The Hostpty Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux
// +build linux

package ptyhost

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/hostpty/hostpty/pty"
)

// Handle is the live object returned by Spawn. It owns the controller
// fd until TakeFD(false) or Close, and the user fd until CloseUserFD or
// Close.
type Handle struct {
	// ID correlates the log lines this process writes about one child:
	// the re-exec handshake warning, the reaper and the drain
	// coordinator. It has no meaning to the kernel or the child process.
	ID uuid.UUID

	pid int

	controller *os.File

	mu       sync.Mutex
	userFD   *os.File
	tookUser sync.Once
	closed   bool
}

// newHandle takes ownership of pair and pid. userFD is retained until
// CloseUserFD or Close releases it.
func newHandle(pid int, pair *pty.Pair) *Handle {
	return &Handle{
		ID:         uuid.New(),
		pid:        pid,
		controller: pair.Controller,
		userFD:     pair.User,
	}
}

// Pid returns the child's process id.
func (h *Handle) Pid() int {
	return h.pid
}

// TakeFD hands a controller file descriptor to the caller. If dup is
// true the returned fd is an independent F_DUPFD_CLOEXEC duplicate and
// this Handle keeps its own copy open, so it may be called again; if
// false, the Handle gives up its copy and subsequent TakeFD/Resize
// calls fail with ErrBadFileDescriptor.
//
// This mirrors the two embedding environments the reference
// implementation distinguishes: a dup is needed when the embedder's
// runtime (e.g. Node's libuv) will independently manage the fd's
// lifecycle, and a bare transfer suffices when the embedder (e.g. Bun)
// takes the raw fd as-is.
func (h *Handle) TakeFD(dup bool) (fd int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.controller == nil {
		return -1, ErrBadFileDescriptor
	}

	if !dup {
		// Hand out a duplicate and close the Handle's own *os.File, so the
		// returned fd stays open and is owned by the caller alone.
		newFD, err := unix.FcntlInt(h.controller.Fd(), unix.F_DUPFD_CLOEXEC, 0)
		if err != nil {
			return -1, &OSError{Syscall: "fcntl F_DUPFD_CLOEXEC", Err: err}
		}
		h.controller.Close()
		h.controller = nil
		return newFD, nil
	}

	dupFD, err := unix.FcntlInt(h.controller.Fd(), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return -1, &OSError{Syscall: "fcntl F_DUPFD_CLOEXEC", Err: err}
	}
	return int(dupFD), nil
}

// Resize applies a new window size to the PTY. It is valid to call
// this even after TakeFD(true), since that leaves the Handle's own
// controller fd open; it fails once TakeFD(false) or Close has run.
func (h *Handle) Resize(size WindowSize) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.controller == nil {
		return ErrBadFileDescriptor
	}
	if err := pty.Resize(int(h.controller.Fd()), pty.Size{Cols: size.Cols, Rows: size.Rows}); err != nil {
		return &OSError{Syscall: "ioctl TIOCSWINSZ", Err: err}
	}
	return nil
}

// CloseUserFD closes the slave/user side of the PTY once the host is
// done handing it to the child (normally right after the child has
// been started and has dup'd it onto its own stdio). It is idempotent.
func (h *Handle) CloseUserFD() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closeUserFDLocked()
}

func (h *Handle) closeUserFDLocked() error {
	var err error
	h.tookUser.Do(func() {
		if h.userFD != nil {
			err = h.userFD.Close()
			h.userFD = nil
		}
	})
	return err
}

// Close releases every fd this Handle still owns. It does not kill or
// wait for the child; that's the reaper's job, started by Spawn.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	var firstErr error
	if err := h.closeUserFDLocked(); err != nil {
		firstErr = fmt.Errorf("closing user fd: %w", err)
	}
	if h.controller != nil {
		if err := h.controller.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing controller fd: %w", err)
		}
		h.controller = nil
	}
	return firstErr
}

// userFileDescriptor returns the raw user fd for internal use by the
// drain coordinator and reaper. -1 once it has been closed.
func (h *Handle) userFileDescriptor() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.userFD == nil {
		return -1
	}
	return int(h.userFD.Fd())
}

// controllerFileDescriptor returns the raw controller fd for internal
// use by the drain coordinator. -1 once it has been taken or closed.
func (h *Handle) controllerFileDescriptor() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.controller == nil {
		return -1
	}
	return int(h.controller.Fd())
}
