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

import "github.com/hostpty/hostpty/sandbox"

// DrainStrategy selects how a child's last bytes of PTY output are
// guaranteed to have been observed before OnExit fires.
type DrainStrategy int

const (
	// DrainPoll bounds-polls the PTY's kernel queues with exponential
	// backoff (1ms up to 100ms, capped at 1s total) and is the default.
	DrainPoll DrainStrategy = iota
	// DrainSentinel writes a synthetic EOF marker to the user fd
	// immediately after the child is reaped, and returns without
	// waiting: the caller's own reader is expected to recognize it.
	DrainSentinel
)

// SandboxRule forbids an Operation on any path under one of Prefixes,
// unless it also falls under one of ExcludePrefixes.
type SandboxRule = sandbox.Rule

// SandboxOperation distinguishes a modifying syscall from a deleting
// one for sandbox rule matching.
type SandboxOperation = sandbox.Operation

const (
	SandboxModify = sandbox.OperationModify
	SandboxDelete = sandbox.OperationDelete
)

// ExitCallback is invoked exactly once per Spawn'd child, after the
// child has been reaped and its output drained. err is non-nil only if
// waiting for the child itself failed at the OS level (the child's own
// exit code or terminating signal is never reported as err); code is
// the process exit code, or -1 if the child died from a signal, or 0
// when err is non-nil.
type ExitCallback func(err error, code int)

// LaunchOptions configures Spawn. Only Command is required.
type LaunchOptions struct {
	// Command is the executable to run, resolved via PATH the same way
	// os/exec resolves it.
	Command string
	// Args is the argument vector, not including argv[0].
	Args []string
	// Envs is the child's full environment. Unlike os/exec, a nil slice
	// does not mean "inherit" — the child's environment is always exactly
	// Envs, cleared entirely when Envs is nil or empty.
	Envs []string
	// Dir is the child's working directory; empty means inherit.
	Dir string
	// Size is the initial PTY window size. A zero value is replaced
	// with 80x24.
	Size WindowSize
	// Interactive is accepted but not read by Spawn: the child's stdin
	// is always the PTY's user side, whatever its value, and stdin is
	// never redirected to /dev/null.
	Interactive bool

	// CgroupPath, if non-empty, is the absolute path of a cgroup v2
	// directory the child's pid is written into before exec. Setting
	// this forces the re-exec trampoline path.
	CgroupPath string
	// ApparmorProfile, if non-empty, is an AppArmor profile name
	// applied to the child via /proc/self/attr/apparmor/exec before
	// exec. Best-effort: failure to apply is logged, not fatal.
	// Setting this forces the re-exec trampoline path.
	ApparmorProfile string
	// Sandbox, if non-nil, installs the ptrace-based filesystem
	// sandbox around the child. Setting this forces the re-exec
	// trampoline path.
	Sandbox *sandbox.Options

	// DrainStrategy selects how output drain is performed before
	// OnExit fires.
	DrainStrategy DrainStrategy
	// OnExit is invoked exactly once when the child terminates. A nil
	// callback is allowed; Spawn still reaps the child, it just has no
	// one to tell.
	OnExit ExitCallback
}

// usesTrampoline reports whether any option requires the re-exec
// trampoline instead of a direct exec.
func (o LaunchOptions) usesTrampoline() bool {
	return o.CgroupPath != "" || o.ApparmorProfile != "" || o.Sandbox != nil
}

func (o LaunchOptions) validate() error {
	if o.Command == "" {
		return &OptionError{Option: "Command", Reason: "must not be empty"}
	}
	return platformValidate(o)
}
