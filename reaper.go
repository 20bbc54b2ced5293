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
	"errors"
	"os/exec"
	"syscall"

	"github.com/hostpty/hostpty/drain"
)

// startReaper runs for the lifetime of one child: it blocks in
// cmd.Wait(), runs the drain coordinator once the child is gone, and
// then fires onExit exactly once. It owns no fds itself; it only reads
// them from handle to hand to the drain coordinator.
func startReaper(cmd *exec.Cmd, handle *Handle, coordinator *drain.Coordinator, onExit ExitCallback) {
	go func() {
		entry := log.WithField("id", handle.ID)

		waitErr := cmd.Wait()

		coordinator.Await(handle.controllerFileDescriptor(), handle.userFileDescriptor())

		// The user-side fd was only ever needed to hand the PTY to the
		// child and, just now, to let the drain coordinator observe its
		// queue; nothing reads from it after the child is reaped.
		if err := handle.CloseUserFD(); err != nil {
			entry.WithError(err).Debug("closing user fd after drain")
		}

		if onExit == nil {
			return
		}
		onExit(translateWaitResult(waitErr))
	}()
}

// translateWaitResult maps an os/exec Wait error onto the (err, code)
// pair ExitCallback expects: nil error with code 0 on a clean exit, nil
// error with either the exit code or -1 (signal death) on a non-clean
// one, and a non-nil error only when waiting itself failed at the OS
// level.
func translateWaitResult(waitErr error) (error, int) {
	if waitErr == nil {
		return nil, 0
	}

	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return &OSError{Syscall: "waiting for child process to exit", Err: waitErr}, 0
	}

	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return nil, -1
	}
	return nil, exitErr.ExitCode()
}
