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
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/hostpty/hostpty/pty"
)

func platformValidate(o LaunchOptions) error {
	if o.CgroupPath != "" && !filepath.IsAbs(o.CgroupPath) {
		return &OptionError{Option: "CgroupPath", Reason: "must be an absolute path"}
	}
	if o.Sandbox != nil && o.CgroupPath == "" {
		return &OptionError{Option: "Sandbox", Reason: "requires CgroupPath: a sandboxed child outside a cgroup risks leaking processes on failure"}
	}
	return nil
}

// buildCommand picks the fast direct-exec path when none of the
// options require code to run between fork and exec, and the
// re-exec trampoline otherwise.
func buildCommand(opts LaunchOptions, pair *pty.Pair) (*childLauncher, error) {
	if !opts.usesTrampoline() {
		return wrapLauncher(buildDirectCommand(opts, pair), nil), nil
	}
	return buildTrampolineCommand(opts, pair)
}

func wrapLauncher(cmd *exec.Cmd, afterStart func() error) *childLauncher {
	return &childLauncher{cmd: cmd, afterStart: afterStart}
}

// childEnv never returns nil: a nil Envs must clear the child's
// environment, not fall back to os/exec's "inherit the current process's
// environment" default for a nil Cmd.Env.
func childEnv(envs []string) []string {
	if envs == nil {
		return []string{}
	}
	return envs
}

func buildDirectCommand(opts LaunchOptions, pair *pty.Pair) *exec.Cmd {
	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Env = childEnv(opts.Envs)
	cmd.Dir = opts.Dir
	cmd.Stdin = pair.User
	cmd.Stdout = pair.User
	cmd.Stderr = pair.User
	cmd.SysProcAttr = &unix.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    0,
	}
	return cmd
}

// buildTrampolineCommand re-execs this binary with a sentinel argv so
// that the package-level init() in reexec_linux.go intercepts it,
// before whatever main() the embedder links in
// ever runs. Go's os/exec fork+exec trampoline only performs a fixed
// menu of raw syscalls between fork and exec — there is no equivalent
// of a pre_exec hook that can run arbitrary Go code — so cgroup
// enrollment, the AppArmor transition, and installing the ptrace
// sandbox all happen in that intercepted re-exec rather than between
// fork and exec of the real target.
//
// Setsid/Setctty are still applied to the outer (trampoline) process:
// the session and controlling terminal are process-level state that
// survives the inner syscall.Exec into the real target untouched.
func buildTrampolineCommand(opts LaunchOptions, pair *pty.Pair) (*childLauncher, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving re-exec target: %w", err)
	}

	msg := reexecMessage{
		Command:         opts.Command,
		Args:            opts.Args,
		Env:             childEnv(opts.Envs),
		Dir:             opts.Dir,
		CgroupPath:      opts.CgroupPath,
		ApparmorProfile: opts.ApparmorProfile,
		Sandbox:         opts.Sandbox,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshaling re-exec init message: %w", err)
	}

	pipeR, pipeW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("opening re-exec init pipe: %w", err)
	}

	cmd := exec.Command(self, reexecSentinel)
	cmd.Stdin = pair.User
	cmd.Stdout = pair.User
	cmd.Stderr = pair.User
	cmd.ExtraFiles = []*os.File{pipeR}
	cmd.SysProcAttr = &unix.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    0,
	}

	afterStart := func() error {
		defer pipeR.Close()
		defer pipeW.Close()
		if _, err := pipeW.Write(payload); err != nil {
			return fmt.Errorf("writing re-exec init message: %w", err)
		}
		return nil
	}

	return wrapLauncher(cmd, afterStart), nil
}

// enrollCgroup writes the calling process's pid into a cgroup v2
// directory's cgroup.procs file. This is a plain absolute-path write,
// not a multi-subsystem cgroup v1 hierarchy walk, so it's implemented
// directly rather than through a cgroup management library.
func enrollCgroup(path string) error {
	procs := filepath.Join(path, "cgroup.procs")
	pid := fmt.Sprintf("%d\n", os.Getpid())
	if err := os.WriteFile(procs, []byte(pid), 0o644); err != nil {
		return fmt.Errorf("writing pid to %s: %w", procs, err)
	}
	return nil
}

// applyApparmorProfile requests the named AppArmor profile for the
// next exec in this process, via the standard changeprofile-on-exec
// procfs knob. Best-effort: a kernel without AppArmor, or a profile
// that isn't loaded, yields an error the caller logs and continues
// past — the original host environment may not run an LSM at all.
func applyApparmorProfile(profile string) error {
	path := "/proc/self/attr/apparmor/exec"
	data := fmt.Sprintf("exec %s", profile)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
