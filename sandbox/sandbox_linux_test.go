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
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// These tests re-invoke the test binary itself as a subprocess (the
// same helper-process pattern os/exec's own tests use) because Install
// forks the calling process and that's only safe from a fresh,
// single-threaded process — not from inside the already-multi-threaded
// `go test` runner.

const helperEnv = "HOSTPTY_SANDBOX_TEST_HELPER"

func TestSandboxBlocksForbiddenWrite(t *testing.T) {
	if os.Getenv(helperEnv) == "write" {
		runForbiddenWriteHelper()
		return
	}

	dir := t.TempDir()
	target := filepath.Join(dir, "protected.txt")
	require.NoError(t, os.WriteFile(target, []byte("original"), 0o644))

	var stderr bytes.Buffer
	cmd := exec.Command(os.Args[0], "-test.run=TestSandboxBlocksForbiddenWrite")
	cmd.Env = append(os.Environ(), helperEnv+"=write", "HOSTPTY_SANDBOX_TARGET="+target)
	cmd.Stderr = &stderr
	err := cmd.Run()

	exitErr, ok := err.(*exec.ExitError)
	require.True(t, ok, "expected subprocess to exit non-zero, stderr: %s", stderr.String())
	require.Equal(t, ExitViolation, exitErr.ExitCode())
	require.Contains(t, stderr.String(), "forbidden write")

	data, readErr := os.ReadFile(target)
	require.NoError(t, readErr)
	require.Equal(t, "original", string(data))
}

func runForbiddenWriteHelper() {
	target := os.Getenv("HOSTPTY_SANDBOX_TARGET")
	options := Options{
		Rules: []Rule{
			{
				Operation: OperationModify,
				Prefixes:  []string{target},
				Message:   "forbidden write",
			},
		},
	}
	if err := Install(options); err != nil {
		os.Stderr.WriteString(err.Error())
		os.Exit(ExitError)
	}
	// Only the traced child reaches this line.
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		os.Exit(ExitError)
	}
	_, _ = f.WriteString("tampered")
	f.Close()
	os.Exit(ExitOK)
}

func TestSandboxAllowsExcludedPrefix(t *testing.T) {
	if os.Getenv(helperEnv) == "exclude" {
		runExcludedDeleteHelper()
		return
	}

	dir := t.TempDir()
	gitDir := filepath.Join(dir, ".git")
	require.NoError(t, os.Mkdir(gitDir, 0o755))
	lockFile := filepath.Join(gitDir, "index.lock")
	require.NoError(t, os.WriteFile(lockFile, []byte("lock"), 0o644))

	cmd := exec.Command(os.Args[0], "-test.run=TestSandboxAllowsExcludedPrefix")
	cmd.Env = append(os.Environ(), helperEnv+"=exclude", "HOSTPTY_SANDBOX_TARGET="+lockFile)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	require.NoError(t, err, "stderr: %s", stderr.String())

	_, statErr := os.Stat(lockFile)
	require.True(t, os.IsNotExist(statErr))
}

func runExcludedDeleteHelper() {
	target := os.Getenv("HOSTPTY_SANDBOX_TARGET")
	gitDir := filepath.Dir(target)
	options := Options{
		Rules: []Rule{
			{
				Operation:       OperationDelete,
				Prefixes:        []string{gitDir},
				ExcludePrefixes: []string{filepath.Join(gitDir, "index.lock")},
				Message:         "forbidden delete",
			},
		},
	}
	if err := Install(options); err != nil {
		os.Stderr.WriteString(err.Error())
		os.Exit(ExitError)
	}
	if err := os.Remove(target); err != nil {
		os.Exit(ExitError)
	}
	os.Exit(ExitOK)
}
