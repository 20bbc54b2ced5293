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

	"golang.org/x/sys/unix"
)

// errDecodeTolerable identifies a path-decode failure the sandbox treats
// as "allow and log" rather than as a reason to kill the tracee: a path
// argument too long to be real, or the tracee disappearing mid-decode.
// Neither reflects a rule violation, and a fatal abort over either would
// tear down the whole sandboxed tree for something outside any rule's
// control.
var errDecodeTolerable = errors.New("syscall decode failure tolerated")

const (
	atFDCWD   = 0xffffff9c
	atFDCWD64 = 0xffffffffffffff9c

	// readPathAlignment masks a tracee address down to the previous
	// word boundary; PTRACE_PEEKDATA only reads word-aligned words.
	readPathAlignment = 0x7
	// maxPathBytes caps how far readPath will scan looking for a NUL.
	// Real paths are bounded by PATH_MAX (4096); this leaves generous
	// slack.
	maxPathBytes = 8192
)

// readPath reads a NUL-terminated string out of the tracee's address
// space starting at addr, word by word via PTRACE_PEEKDATA.
func readPath(pid int, addr uint64) (string, error) {
	var buf []byte
	offset := int(addr & readPathAlignment)
	addr &^= readPathAlignment

	word := make([]byte, 8)
	for len(buf) < maxPathBytes {
		n, err := unix.PtracePeekData(pid, uintptr(addr), word)
		if err != nil {
			if err == unix.ESRCH {
				return "", fmt.Errorf("process %d exited while reading path: %w", pid, errDecodeTolerable)
			}
			return "", fmt.Errorf("reading tracee memory at 0x%x: %w", addr, err)
		}
		chunk := word[:n]
		if offset > len(chunk) {
			offset = len(chunk)
		}
		chunk = chunk[offset:]
		if idx := indexByte(chunk, 0); idx >= 0 {
			buf = append(buf, chunk[:idx]...)
			return string(buf), nil
		}
		buf = append(buf, chunk...)
		offset = 0
		addr += 8
	}
	return "", fmt.Errorf("path exceeds %d bytes: %w", maxPathBytes, errDecodeTolerable)
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// getCWD resolves the tracee's current working directory via procfs.
func getCWD(pid int) (string, error) {
	link, err := os.Readlink(fmt.Sprintf("/proc/%d/cwd", pid))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("get cwd: process %d exited: %w", pid, errDecodeTolerable)
		}
		return "", fmt.Errorf("get cwd: /proc/%d/cwd: %w", pid, err)
	}
	return link, nil
}

// getFDPath resolves the path a tracee's open file descriptor refers
// to via procfs.
func getFDPath(pid, fd int) (string, error) {
	link, err := os.Readlink(fmt.Sprintf("/proc/%d/fd/%d", pid, fd))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("get path: process %d exited: %w", pid, errDecodeTolerable)
		}
		return "", fmt.Errorf("get path: /proc/%d/fd/%d: %w", pid, fd, err)
	}
	return link, nil
}

// resolveAt resolves a directory-relative syscall argument (an AT_FDCWD
// sentinel or a real dirfd) to an absolute directory path, accepting
// AT_FDCWD either as its 32-bit value or sign-extended to 64 bits, the
// two encodings a traced register may carry.
func resolveAt(pid int, dirfd uint64) (string, error) {
	if dirfd == atFDCWD || dirfd == atFDCWD64 {
		return getCWD(pid)
	}
	return getFDPath(pid, int(int32(dirfd)))
}

func joinPath(dir, leaf string) string {
	if strings.HasSuffix(dir, "/") {
		return dir + leaf
	}
	return dir + "/" + leaf
}
