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
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/hostpty/hostpty/sandbox"
)

// reexecSentinel is the argv[1] that marks a process as the re-exec
// trampoline rather than whatever main() the embedder links in. It is
// deliberately unlikely to collide with a real program argument.
const reexecSentinel = "__hostpty_reexec_init__"

// reexecInitFD is the fixed file descriptor the trampoline's init
// message arrives on: stdin/stdout/stderr occupy 0-2, so the first
// (and only) entry of cmd.ExtraFiles lands on 3.
const reexecInitFD = 3

// reexecMessage is the JSON payload written down the init pipe by the
// parent right after Start, and read back by init() below before the
// real target is ever exec'd.
type reexecMessage struct {
	Command         string          `json:"command"`
	Args            []string        `json:"args"`
	Env             []string        `json:"env"`
	Dir             string          `json:"dir"`
	CgroupPath      string          `json:"cgroup_path,omitempty"`
	ApparmorProfile string          `json:"apparmor_profile,omitempty"`
	Sandbox         *sandbox.Options `json:"sandbox,omitempty"`
}

// init intercepts the re-exec trampoline before any importer's main()
// runs: Go guarantees every package's init() functions complete before
// main() is called, regardless of which package defines main. This is
// the same technique runc, containerd, and Docker's pkg/reexec use to
// get arbitrary Go code to run between a fork and the exec of the real
// target, since syscall.ForkExec's trampoline only performs a fixed set
// of raw syscalls and cannot call back into Go.
func init() {
	if len(os.Args) < 2 || os.Args[1] != reexecSentinel {
		return
	}
	runReexecChild()
	// runReexecChild never returns: it either execs the real target or
	// exits the process on failure.
	unreachableReexecExit()
}

func runReexecChild() {
	msg, err := readReexecMessage()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hostpty re-exec: %v\n", err)
		os.Exit(1)
	}

	if msg.CgroupPath != "" {
		if err := enrollCgroup(msg.CgroupPath); err != nil {
			fmt.Fprintf(os.Stderr, "hostpty re-exec: %v\n", err)
			os.Exit(1)
		}
	}

	if msg.Sandbox != nil {
		if err := sandbox.Install(*msg.Sandbox); err != nil {
			fmt.Fprintf(os.Stderr, "hostpty re-exec: installing sandbox: %v\n", err)
			os.Exit(1)
		}
		// The parent branch of Install never returns; only the traced
		// child reaches this line.
	}

	if msg.ApparmorProfile != "" {
		if err := applyApparmorProfile(msg.ApparmorProfile); err != nil {
			// Best-effort: the host may not run AppArmor at all.
			fmt.Fprintf(os.Stderr, "hostpty re-exec: apparmor profile %q not applied: %v\n", msg.ApparmorProfile, err)
		}
	}

	target, err := exec.LookPath(msg.Command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hostpty re-exec: %v\n", err)
		os.Exit(1)
	}

	argv := append([]string{msg.Command}, msg.Args...)
	env := msg.Env
	if env == nil {
		env = []string{}
	}
	if err := syscall.Exec(target, argv, env); err != nil {
		fmt.Fprintf(os.Stderr, "hostpty re-exec: exec %s: %v\n", target, err)
		os.Exit(1)
	}
}

func readReexecMessage() (*reexecMessage, error) {
	f := os.NewFile(uintptr(reexecInitFD), "hostpty-reexec-init")
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading re-exec init message: %w", err)
	}
	var msg reexecMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decoding re-exec init message: %w", err)
	}
	return &msg, nil
}

// unreachableReexecExit guards against runReexecChild somehow
// returning (it shouldn't: every path above calls os.Exit or execs).
func unreachableReexecExit() {
	fmt.Fprintln(os.Stderr, "hostpty re-exec: init returned without exec'ing or exiting")
	os.Exit(1)
}
