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
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// syscallTarget is one path a syscall is about to touch, and what kind
// of touch it is.
type syscallTarget struct {
	sysno     int
	operation Operation
	path      string
}

// getSyscallTargets decodes the tracee's pending syscall-entry into the
// set of paths it is about to act on. It returns no targets for
// syscalls this sandbox doesn't police, and no targets at all on a
// syscall-exit stop (detected via rax no longer holding -ENOSYS).
//
// x86_64 calling convention: arguments in rdi, rsi, rdx, r10, r8, r9 in
// that order; orig_rax carries the syscall number.
func getSyscallTargets(pid int) ([]syscallTarget, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &regs); err != nil {
		return nil, fmt.Errorf("ptrace getregs: %w", err)
	}

	// A syscall-exit-stop means the allow/deny decision was already
	// made on entry; nothing to do here.
	if regs.Rax != uint64(int64(-int64(unix.ENOSYS))) {
		return nil, nil
	}

	switch int(regs.Orig_rax) {
	case unix.SYS_OPEN:
		path, err := withCWD(pid, readPath(pid, regs.Rdi))
		if err != nil {
			return nil, err
		}
		if !opensForWrite(regs.Rsi) {
			return nil, nil
		}
		return []syscallTarget{{sysno: unix.SYS_OPEN, operation: OperationModify, path: path}}, nil

	case unix.SYS_TRUNCATE:
		path, err := withCWD(pid, readPath(pid, regs.Rdi))
		if err != nil {
			return nil, err
		}
		return []syscallTarget{{sysno: unix.SYS_TRUNCATE, operation: OperationModify, path: path}}, nil

	case unix.SYS_RMDIR:
		path, err := withCWD(pid, readPath(pid, regs.Rdi))
		if err != nil {
			return nil, err
		}
		return []syscallTarget{{sysno: unix.SYS_RMDIR, operation: OperationDelete, path: path}}, nil

	case unix.SYS_CREAT:
		path, err := withCWD(pid, readPath(pid, regs.Rdi))
		if err != nil {
			return nil, err
		}
		return []syscallTarget{{sysno: unix.SYS_CREAT, operation: OperationModify, path: path}}, nil

	case unix.SYS_UNLINK:
		path, err := withCWD(pid, readPath(pid, regs.Rdi))
		if err != nil {
			return nil, err
		}
		return []syscallTarget{{sysno: unix.SYS_UNLINK, operation: OperationDelete, path: path}}, nil

	case unix.SYS_RENAME:
		cwd, err := getCWD(pid)
		if err != nil {
			return nil, err
		}
		oldName, err := readPath(pid, regs.Rdi)
		if err != nil {
			return nil, err
		}
		newName, err := readPath(pid, regs.Rsi)
		if err != nil {
			return nil, err
		}
		return []syscallTarget{
			{sysno: unix.SYS_RENAME, operation: OperationDelete, path: joinPath(cwd, oldName)},
			{sysno: unix.SYS_RENAME, operation: OperationModify, path: joinPath(cwd, newName)},
		}, nil

	case unix.SYS_LINK:
		cwd, err := getCWD(pid)
		if err != nil {
			return nil, err
		}
		newName, err := readPath(pid, regs.Rsi)
		if err != nil {
			return nil, err
		}
		return []syscallTarget{{sysno: unix.SYS_LINK, operation: OperationModify, path: joinPath(cwd, newName)}}, nil

	case unix.SYS_SYMLINK:
		cwd, err := getCWD(pid)
		if err != nil {
			return nil, err
		}
		newName, err := readPath(pid, regs.Rsi)
		if err != nil {
			return nil, err
		}
		return []syscallTarget{{sysno: unix.SYS_SYMLINK, operation: OperationModify, path: joinPath(cwd, newName)}}, nil

	case unix.SYS_OPENAT:
		dir, err := resolveAt(pid, regs.Rdi)
		if err != nil {
			return nil, err
		}
		leaf, err := readPath(pid, regs.Rsi)
		if err != nil {
			return nil, err
		}
		if !opensForWrite(regs.Rdx) {
			return nil, nil
		}
		return []syscallTarget{{sysno: unix.SYS_OPENAT, operation: OperationModify, path: joinPath(dir, leaf)}}, nil

	case unix.SYS_UNLINKAT:
		dir, err := resolveAt(pid, regs.Rdi)
		if err != nil {
			return nil, err
		}
		leaf, err := readPath(pid, regs.Rsi)
		if err != nil {
			return nil, err
		}
		return []syscallTarget{{sysno: unix.SYS_UNLINKAT, operation: OperationDelete, path: joinPath(dir, leaf)}}, nil

	case unix.SYS_RENAMEAT, unix.SYS_RENAMEAT2:
		oldDir, err := resolveAt(pid, regs.Rdi)
		if err != nil {
			return nil, err
		}
		oldLeaf, err := readPath(pid, regs.Rsi)
		if err != nil {
			return nil, err
		}
		newDir, err := resolveAt(pid, regs.Rdx)
		if err != nil {
			return nil, err
		}
		newLeaf, err := readPath(pid, regs.R10)
		if err != nil {
			return nil, err
		}
		return []syscallTarget{
			{sysno: int(regs.Orig_rax), operation: OperationDelete, path: joinPath(oldDir, oldLeaf)},
			{sysno: int(regs.Orig_rax), operation: OperationModify, path: joinPath(newDir, newLeaf)},
		}, nil

	case unix.SYS_LINKAT:
		// linkat(olddirfd, oldpath, newdirfd, newpath, flags): the new
		// path is in r10, the register after newdirfd (rdx). Reading it
		// from rsi instead, as some ptrace-sandbox implementations do,
		// silently re-reads the old path and never sees the real target
		// of the call.
		newDir, err := resolveAt(pid, regs.Rdx)
		if err != nil {
			return nil, err
		}
		newLeaf, err := readPath(pid, regs.R10)
		if err != nil {
			return nil, err
		}
		return []syscallTarget{{sysno: unix.SYS_LINKAT, operation: OperationModify, path: joinPath(newDir, newLeaf)}}, nil

	case unix.SYS_SYMLINKAT:
		// symlinkat(target, newdirfd, linkpath): newdirfd is in rsi and
		// the link path in rdx.
		newDir, err := resolveAt(pid, regs.Rsi)
		if err != nil {
			return nil, err
		}
		newLeaf, err := readPath(pid, regs.Rdx)
		if err != nil {
			return nil, err
		}
		return []syscallTarget{{sysno: unix.SYS_SYMLINKAT, operation: OperationModify, path: joinPath(newDir, newLeaf)}}, nil

	case unix.SYS_OPENAT2:
		dir, err := resolveAt(pid, regs.Rdi)
		if err != nil {
			return nil, err
		}
		leaf, err := readPath(pid, regs.Rsi)
		if err != nil {
			return nil, err
		}
		// rdx points at a struct open_how whose first field is the
		// 64-bit flags word.
		how := make([]byte, 8)
		if _, err := unix.PtracePeekData(pid, uintptr(regs.Rdx), how); err != nil {
			return nil, fmt.Errorf("reading open_how at 0x%x: %w", regs.Rdx, err)
		}
		if !opensForWrite(binary.LittleEndian.Uint64(how)) {
			return nil, nil
		}
		return []syscallTarget{{sysno: unix.SYS_OPENAT2, operation: OperationModify, path: joinPath(dir, leaf)}}, nil

	default:
		return nil, nil
	}
}

func withCWD(pid int, leaf string, err error) (string, error) {
	if err != nil {
		return "", err
	}
	cwd, err := getCWD(pid)
	if err != nil {
		return "", err
	}
	return joinPath(cwd, leaf), nil
}

func opensForWrite(flags uint64) bool {
	accmode := flags & unix.O_ACCMODE
	return accmode == unix.O_WRONLY || accmode == unix.O_RDWR
}
