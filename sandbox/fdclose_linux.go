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

import "golang.org/x/sys/unix"

// closeAllExcept closes every file descriptor below keep and every one
// above it, using close_range(2) so no directory scan of /proc/self/fd
// is needed. The tracer has no business holding onto whatever fds the
// host process had open; it only needs the one it's told to keep
// (stderr, for violation messages).
func closeAllExcept(keep uintptr) {
	closeRange(0, keep-1)
	closeRange(keep+1, ^uintptr(0))
}

func closeRange(first, last uintptr) {
	_, _, _ = unix.Syscall6(unix.SYS_CLOSE_RANGE, first, last, 0, 0, 0, 0)
}
