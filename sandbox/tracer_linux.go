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
	"errors"
	"fmt"
	"os"
	"strings"
	"unsafe"

	"github.com/syndtr/gocapability/capability"
	"golang.org/x/sys/unix"
)

var log = newLogger()

const ptraceOpts = unix.PTRACE_O_TRACESYSGOOD |
	unix.PTRACE_O_TRACEFORK |
	unix.PTRACE_O_TRACEVFORK |
	unix.PTRACE_O_TRACECLONE |
	unix.PTRACE_O_EXITKILL |
	unix.PTRACE_O_TRACEEXIT

// childPID is the single tracee this tracer process forwards signals to.
// It is set once, before installForwardingHandlers starts the
// forwarding goroutine, and never written afterwards; that goroutine
// only reads it.
var childPID int

// Install forks the calling process. The child branch returns nil so
// the caller can proceed to exec its real target under supervision;
// the parent branch becomes the tracer and never returns — it blocks
// in the supervision loop and terminates the whole process via
// unix.Exit once the tracee is gone.
//
// This relies on the calling process being single-threaded, which is
// true immediately after a re-exec into a fresh binary image and
// before any goroutine has had a chance to park an OS thread. A raw
// fork from a multi-threaded Go process would leave the child with a
// runtime that believes threads exist which do not; this package is
// only ever invoked from that narrow single-threaded window.
func Install(options Options) error {
	resetSignalsToDefault()

	pid, _, errno := unix.RawSyscall(unix.SYS_FORK, 0, 0, 0)
	if errno != 0 {
		return fmt.Errorf("fork: %w", errno)
	}

	if pid == 0 {
		if err := unix.PtraceTraceme(); err != nil {
			unix.Exit(ExitError)
		}
		if err := unix.Kill(unix.Getpid(), unix.SIGSTOP); err != nil {
			unix.Exit(ExitError)
		}
		return nil
	}

	code := func() (code int) {
		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(os.Stderr, "sandbox tracer panicked: %v\n", r)
				code = ExitPanic
			}
		}()
		return runParent(int(pid), options)
	}()
	unix.Exit(code)
	panic("unreachable")
}

// runParent supervises the tracee until it exits, enforcing options
// against every policed syscall it attempts. It returns the exit code
// the whole sandboxed process tree should report.
func runParent(mainPID int, options Options) int {
	_ = unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(namePtr("sandbox"))), 0, 0, 0)

	childPID = mainPID
	installForwardingHandlers()
	dropTracerCapabilities()

	closeAllExcept(2)

	var ws unix.WaitStatus
	if _, err := unix.Wait4(mainPID, &ws, 0, nil); err != nil {
		fmt.Fprintf(os.Stderr, "sandbox: waitpid %d: %v\n", mainPID, err)
		return ExitError
	}
	if ws.Exited() {
		return ws.ExitStatus()
	}
	if ws.Signaled() {
		return 128 + int(ws.Signal())
	}

	if err := unix.PtraceSetOptions(mainPID, ptraceOpts); err != nil {
		if err == unix.ESRCH {
			return ExitOK
		}
		fmt.Fprintf(os.Stderr, "sandbox: ptrace setoptions: %v\n", err)
		return ExitError
	}
	if err := unix.PtraceSyscall(mainPID, 0); err != nil {
		fmt.Fprintf(os.Stderr, "sandbox: ptrace syscall: %v\n", err)
		return ExitError
	}

	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, 0, nil)
		if err != nil {
			if err == unix.ECHILD {
				return ExitOK
			}
			fmt.Fprintf(os.Stderr, "sandbox: wait: %v\n", err)
			return ExitOK
		}

		switch {
		case ws.Exited():
			if pid == mainPID {
				return ws.ExitStatus()
			}

		case ws.Signaled():
			if pid == mainPID {
				return 128 + int(ws.Signal())
			}
			_ = unix.PtraceSyscall(pid, int(ws.Signal()))

		case ws.Stopped():
			switch sig := ws.StopSignal(); {
			case sig == unix.SIGTRAP|0x80:
				if code, done := handleSyscallStop(pid, options); done {
					return code
				}

			case sig == unix.SIGSTOP:
				// A newly cloned/forked tracee: ptrace options don't
				// propagate automatically to it under every kernel, so
				// reapply them before resuming.
				_ = unix.PtraceSetOptions(pid, ptraceOpts)
				_ = unix.PtraceSyscall(pid, 0)

			case sig == unix.SIGTRAP:
				// A ptrace event-stop (fork/clone/exit); nothing to
				// inspect, just resume.
				_ = unix.PtraceSyscall(pid, 0)

			default:
				_ = unix.PtraceSyscall(pid, int(sig))
			}

		default:
			_ = unix.PtraceSyscall(mainPID, 0)
		}
	}
}

// handleSyscallStop inspects a syscall-entry/exit stop and either
// resumes the tracee or, on a rule violation, kills it and reports the
// final exit code. done is true only once the whole sandboxed tree
// should terminate.
func handleSyscallStop(pid int, options Options) (code int, done bool) {
	err := handleSyscall(pid, options)
	if err == nil || errors.Is(err, errDecodeTolerable) {
		if err != nil {
			log.WithError(err).Debug("tolerating syscall decode failure, allowing")
		}
		if perr := unix.PtraceSyscall(pid, 0); perr != nil && perr != unix.ESRCH {
			fmt.Fprintf(os.Stderr, "sandbox: ptrace syscall: %v\n", perr)
			return ExitError, true
		}
		return 0, false
	}

	if v, ok := err.(*ViolationError); ok {
		fmt.Fprintln(os.Stderr, v.Error())
		if perr := unix.PtraceKill(pid); perr != nil && perr != unix.ESRCH {
			fmt.Fprintf(os.Stderr, "sandbox: failed to kill %d: %v\n", pid, perr)
		}
		return ExitViolation, true
	}

	fmt.Fprintf(os.Stderr, "sandbox: %v\n", err)
	if perr := unix.PtraceKill(pid); perr != nil && perr != unix.ESRCH {
		fmt.Fprintf(os.Stderr, "sandbox: failed to kill %d: %v\n", pid, perr)
	}
	return ExitError, true
}

// handleSyscall evaluates a pending syscall against the configured
// rules, first match wins.
func handleSyscall(pid int, options Options) error {
	targets, err := getSyscallTargets(pid)
	if err != nil {
		return fmt.Errorf("get syscall targets: %w", err)
	}

	for _, target := range targets {
		for _, rule := range options.Rules {
			if target.operation != rule.Operation {
				continue
			}
			if !hasAnyPrefix(target.path, rule.Prefixes) {
				continue
			}
			if hasAnyPrefix(target.path, rule.ExcludePrefixes) {
				continue
			}
			return &ViolationError{Sysno: target.sysno, Message: rule.Message, Path: target.path}
		}
	}
	return nil
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func installForwardingHandlers() {
	installSignalForwarding(func(sig int) {
		log.WithField("signal", sig).Debug("received signal")
		if childPID > 0 {
			_ = unix.Kill(childPID, unix.Signal(sig))
		}
	})
}

func namePtr(name string) *byte {
	b := append([]byte(name), 0)
	return &b[0]
}

// dropTracerCapabilities clears every capability but CAP_SYS_PTRACE from
// the tracer's effective, permitted, and bounding sets. The tracer only
// ever inspects registers and memory of its one tracee and signals it;
// it has no business holding anything broader than that, and a
// compromised tracee that somehow escaped back into the tracer's
// address space would inherit nothing from it. Best-effort: a kernel
// without capability support, or one that refuses PR_CAPBSET_DROP, just
// leaves the tracer with whatever it started with.
func dropTracerCapabilities() {
	caps, err := capability.NewPid2(0)
	if err != nil {
		log.WithError(err).Debug("could not load tracer capability set")
		return
	}
	if err := caps.Load(); err != nil {
		log.WithError(err).Debug("could not load tracer capability set")
		return
	}

	caps.Clear(capability.CAPS | capability.BOUNDING)
	caps.Set(capability.CAPS, capability.CAP_SYS_PTRACE)
	caps.Set(capability.BOUNDING, capability.CAP_SYS_PTRACE)

	if err := caps.Apply(capability.CAPS | capability.BOUNDING); err != nil {
		log.WithError(err).Debug("could not drop tracer capabilities")
	}
}
