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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hostpty/hostpty/sandbox"
)

func TestValidateRejectsEmptyCommand(t *testing.T) {
	err := LaunchOptions{}.validate()
	require.Error(t, err)
	var optErr *OptionError
	require.ErrorAs(t, err, &optErr)
	require.Equal(t, "Command", optErr.Option)
}

func TestValidateRejectsRelativeCgroupPath(t *testing.T) {
	err := LaunchOptions{Command: "/bin/true", CgroupPath: "relative/path"}.validate()
	require.Error(t, err)
}

func TestValidateRejectsSandboxWithoutCgroupPath(t *testing.T) {
	err := LaunchOptions{Command: "/bin/true", Sandbox: &sandbox.Options{}}.validate()
	require.Error(t, err)
	var optErr *OptionError
	require.ErrorAs(t, err, &optErr)
	require.Equal(t, "Sandbox", optErr.Option)
}

func TestValidateAllowsSandboxWithCgroupPath(t *testing.T) {
	err := LaunchOptions{Command: "/bin/true", Sandbox: &sandbox.Options{}, CgroupPath: "/sys/fs/cgroup/x"}.validate()
	require.NoError(t, err)
}

func TestUsesTrampoline(t *testing.T) {
	require.False(t, (LaunchOptions{Command: "/bin/true"}).usesTrampoline())
	require.True(t, (LaunchOptions{Command: "/bin/true", CgroupPath: "/sys/fs/cgroup/x"}).usesTrampoline())
	require.True(t, (LaunchOptions{Command: "/bin/true", ApparmorProfile: "profile"}).usesTrampoline())
	require.True(t, (LaunchOptions{Command: "/bin/true", Sandbox: &sandbox.Options{}}).usesTrampoline())
}

func TestWindowSizeDefaulting(t *testing.T) {
	require.Equal(t, WindowSize{Cols: DefaultCols, Rows: DefaultRows}, WindowSize{}.orDefault())
	require.Equal(t, WindowSize{Cols: 132, Rows: 43}, WindowSize{Cols: 132, Rows: 43}.orDefault())
}
