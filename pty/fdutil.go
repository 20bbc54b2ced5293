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

package pty

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// GetCloseOnExec reports whether fd currently has FD_CLOEXEC set.
func GetCloseOnExec(fd int) (bool, error) {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return false, fmt.Errorf("fcntl F_GETFD: %w", err)
	}
	return flags&unix.FD_CLOEXEC != 0, nil
}

// SetCloseOnExec idempotently sets or clears FD_CLOEXEC on fd. It only
// issues F_SETFD when the flag actually needs to change.
func SetCloseOnExec(fd int, enabled bool) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return fmt.Errorf("fcntl F_GETFD: %w", err)
	}

	want := flags | unix.FD_CLOEXEC
	if !enabled {
		want = flags &^ unix.FD_CLOEXEC
	}
	if want == flags {
		return nil
	}

	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, want); err != nil {
		return fmt.Errorf("fcntl F_SETFD: %w", err)
	}
	return nil
}

// SetNonblocking idempotently sets O_NONBLOCK on fd's status flags.
func SetNonblocking(fd int) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return fmt.Errorf("fcntl F_GETFL: %w", err)
	}
	if flags&unix.O_NONBLOCK != 0 {
		return nil
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_NONBLOCK); err != nil {
		return fmt.Errorf("fcntl F_SETFL: %w", err)
	}
	return nil
}

// Resize issues TIOCSWINSZ on fd. It fails with an EBADF-wrapping error
// if fd has already been closed. Handle.Resize never reaches this with a
// taken or closed controller: it returns ErrBadFileDescriptor first.
func Resize(fd int, size Size) error {
	ws := &unix.Winsize{
		Row: size.Rows,
		Col: size.Cols,
	}
	if err := unix.IoctlSetWinsize(fd, unix.TIOCSWINSZ, ws); err != nil {
		return fmt.Errorf("ioctl TIOCSWINSZ: %w", err)
	}
	return nil
}

// InQueue returns the number of bytes the kernel has buffered for fd's
// readers (used by the drain coordinator's bounded-poll strategy).
func InQueue(fd int) (int, error) {
	return unix.IoctlGetInt(fd, unix.TIOCINQ)
}

// OutQueue returns the number of bytes still queued for fd's writers.
func OutQueue(fd int) (int, error) {
	return unix.IoctlGetInt(fd, unix.TIOCOUTQ)
}
