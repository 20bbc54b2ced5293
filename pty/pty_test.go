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
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestOpenAppliesSizeAndFlags(t *testing.T) {
	pair, err := Open(Size{Cols: 120, Rows: 40})
	require.NoError(t, err)
	defer pair.Controller.Close()
	defer pair.User.Close()

	ws, err := unix.IoctlGetWinsize(int(pair.Controller.Fd()), unix.TIOCGWINSZ)
	require.NoError(t, err)
	require.EqualValues(t, 120, ws.Col)
	require.EqualValues(t, 40, ws.Row)

	closeOnExec, err := GetCloseOnExec(int(pair.Controller.Fd()))
	require.NoError(t, err)
	require.True(t, closeOnExec)

	closeOnExec, err = GetCloseOnExec(int(pair.User.Fd()))
	require.NoError(t, err)
	require.True(t, closeOnExec)

	flags, err := unix.FcntlInt(pair.Controller.Fd(), unix.F_GETFL, 0)
	require.NoError(t, err)
	require.NotZero(t, flags&unix.O_NONBLOCK)
}

func TestResizeUpdatesWinsize(t *testing.T) {
	pair, err := Open(Size{Cols: 80, Rows: 24})
	require.NoError(t, err)
	defer pair.Controller.Close()
	defer pair.User.Close()

	require.NoError(t, Resize(int(pair.Controller.Fd()), Size{Cols: 200, Rows: 50}))

	ws, err := unix.IoctlGetWinsize(int(pair.Controller.Fd()), unix.TIOCGWINSZ)
	require.NoError(t, err)
	require.EqualValues(t, 200, ws.Col)
	require.EqualValues(t, 50, ws.Row)
}

func TestResizeRejectsClosedFD(t *testing.T) {
	pair, err := Open(Size{Cols: 80, Rows: 24})
	require.NoError(t, err)
	fd := int(pair.Controller.Fd())
	pair.Controller.Close()
	pair.User.Close()

	err = Resize(fd, Size{Cols: 10, Rows: 10})
	require.Error(t, err)
}

func TestSetCloseOnExecIsIdempotent(t *testing.T) {
	pair, err := Open(Size{Cols: 80, Rows: 24})
	require.NoError(t, err)
	defer pair.Controller.Close()
	defer pair.User.Close()

	require.NoError(t, SetCloseOnExec(int(pair.Controller.Fd()), true))
	require.NoError(t, SetCloseOnExec(int(pair.Controller.Fd()), false))
	enabled, err := GetCloseOnExec(int(pair.Controller.Fd()))
	require.NoError(t, err)
	require.False(t, enabled)
}

func TestQueueDepthsStartEmpty(t *testing.T) {
	pair, err := Open(Size{Cols: 80, Rows: 24})
	require.NoError(t, err)
	defer pair.Controller.Close()
	defer pair.User.Close()

	in, err := InQueue(int(pair.Controller.Fd()))
	require.NoError(t, err)
	require.Zero(t, in)

	out, err := OutQueue(int(pair.Controller.Fd()))
	require.NoError(t, err)
	require.Zero(t, out)
}
