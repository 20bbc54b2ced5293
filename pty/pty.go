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

// Package pty allocates controller/user pseudoterminal pairs and holds
// the small set of fcntl/ioctl helpers (FdUtils in the design) used to
// manage them.
package pty

import (
	"fmt"
	"os"

	kpty "github.com/kr/pty"
	"golang.org/x/sys/unix"
)

// Size is a terminal window geometry. XPixel/YPixel are always sent as
// zero to the kernel, matching every caller in the reference stack.
type Size struct {
	Cols uint16
	Rows uint16
}

// Pair is a freshly allocated PTY: controller (master, read/write by the
// host) and user (slave, handed to the child as stdio). Both ends
// reference the same kernel PTY device.
type Pair struct {
	// Controller is the master side. It is marked non-blocking and
	// close-on-exec.
	Controller *os.File
	// User is the slave side. It is marked close-on-exec.
	User *os.File
}

// Open allocates a fresh PTY pair sized to winsize, applies UTF-8 input
// mode on the controller on a best-effort basis, and marks both ends
// close-on-exec (the controller is additionally marked non-blocking).
func Open(winsize Size) (*Pair, error) {
	controller, user, err := kpty.Open()
	if err != nil {
		return nil, fmt.Errorf("opening pty: %w", err)
	}

	if err := Resize(int(controller.Fd()), winsize); err != nil {
		controller.Close()
		user.Close()
		return nil, fmt.Errorf("setting initial pty size: %w", err)
	}

	setUTF8InputMode(int(controller.Fd()))

	// os.File.Fd resets O_NONBLOCK on files the os package opened; a
	// duplicate wrapped with os.NewFile after O_NONBLOCK is set keeps it.
	dupFD, err := unix.FcntlInt(controller.Fd(), unix.F_DUPFD_CLOEXEC, 0)
	if err == nil {
		if err = SetNonblocking(dupFD); err != nil {
			unix.Close(dupFD)
		}
	}
	controller.Close()
	if err != nil {
		user.Close()
		return nil, fmt.Errorf("marking pty controller non-blocking: %w", err)
	}
	controller = os.NewFile(uintptr(dupFD), "/dev/ptmx")
	if err := SetCloseOnExec(int(controller.Fd()), true); err != nil {
		controller.Close()
		user.Close()
		return nil, fmt.Errorf("marking pty controller close-on-exec: %w", err)
	}
	if err := SetCloseOnExec(int(user.Fd()), true); err != nil {
		controller.Close()
		user.Close()
		return nil, fmt.Errorf("marking pty user close-on-exec: %w", err)
	}

	return &Pair{Controller: controller, User: user}, nil
}

// setUTF8InputMode sets the IUTF8 termios input flag and writes it back
// with "apply now" semantics. Failure is tolerated silently: the PTY
// still functions without it, it only affects how line-discipline
// editing treats multi-byte input.
func setUTF8InputMode(fd int) {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return
	}
	termios.Iflag |= unix.IUTF8
	_ = unix.IoctlSetTermios(fd, unix.TCSETS, termios)
}
