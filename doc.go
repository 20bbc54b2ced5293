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

// Package ptyhost launches a child command under a pseudoterminal and,
// on Linux, can confine it with an advisory ptrace-based filesystem
// sandbox. It is meant to sit behind a foreign-function boundary: callers
// get back a Handle carrying the child's pid and the controller end of
// the PTY, plus a one-shot exit callback, and are expected to wire the
// controller fd into their own readable/writable streams.
package ptyhost
