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

package sandbox

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// forwardableSignals is every signal except the three that can never
// be caught, blocked, or meaningfully forwarded: KILL and STOP cannot
// be handled at all, and CHLD belongs to this process's own reaping of
// the tracee, not to forwarding.
var forwardableSignals = func() []os.Signal {
	var sigs []os.Signal
	for n := 1; n < 32; n++ {
		s := unix.Signal(n)
		if s == unix.SIGKILL || s == unix.SIGSTOP || s == unix.SIGCHLD {
			continue
		}
		sigs = append(sigs, s)
	}
	return sigs
}()

// resetSignalsToDefault restores every forwardable signal's
// disposition to SIG_DFL and clears the process signal mask, undoing
// whatever the host process had installed before this package takes
// over signal handling for the duration of the sandboxed child's life.
func resetSignalsToDefault() {
	signal.Reset(forwardableSignals...)
	_ = unix.PthreadSigmask(unix.SIG_SETMASK, &unix.Sigset_t{}, nil)
}

// installSignalForwarding arranges for every forwardable signal
// received by this (tracer) process to be passed to forward. The
// goroutine it starts runs for the tracer's remaining lifetime, which
// ends when runParent returns and Install calls unix.Exit.
func installSignalForwarding(forward func(sig int)) {
	ch := make(chan os.Signal, 64)
	signal.Notify(ch, forwardableSignals...)
	go func() {
		for sig := range ch {
			if s, ok := sig.(syscall.Signal); ok {
				forward(int(s))
			}
		}
	}()
}
