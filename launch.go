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
	"os/exec"

	"github.com/hostpty/hostpty/drain"
	"github.com/hostpty/hostpty/pty"
)

// childLauncher bundles an exec.Cmd with whatever handshake Spawn must
// complete immediately after Start returns (writing the re-exec init
// message down its pipe, closing the ends the parent no longer needs),
// before the reaper takes over.
type childLauncher struct {
	cmd        *exec.Cmd
	afterStart func() error
}

// Spawn allocates a PTY, starts Command attached to it, and returns a
// Handle the caller uses to read/write the session, resize it, and
// eventually close it. The child is reaped automatically by a
// background goroutine; OnExit fires exactly once when that happens.
func Spawn(opts LaunchOptions) (*Handle, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	size := opts.Size.orDefault()
	pair, err := pty.Open(pty.Size{Cols: size.Cols, Rows: size.Rows})
	if err != nil {
		return nil, err
	}

	launcher, err := buildCommand(opts, pair)
	if err != nil {
		pair.Controller.Close()
		pair.User.Close()
		return nil, err
	}

	if err := launcher.cmd.Start(); err != nil {
		pair.Controller.Close()
		pair.User.Close()
		return nil, &OSError{Syscall: "starting child process", Err: err}
	}

	handle := newHandle(launcher.cmd.Process.Pid, pair)
	entry := log.WithField("id", handle.ID)

	if launcher.afterStart != nil {
		if err := launcher.afterStart(); err != nil {
			entry.WithError(err).Warn("re-exec trampoline handshake failed after process start")
		}
	}

	coordinator := drain.New(drainStrategyKind(opts.DrainStrategy), handle.ID.String())
	startReaper(launcher.cmd, handle, coordinator, opts.OnExit)

	return handle, nil
}

func drainStrategyKind(s DrainStrategy) drain.Strategy {
	if s == DrainSentinel {
		return drain.StrategySentinel
	}
	return drain.StrategyPoll
}
