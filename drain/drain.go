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

// Package drain ensures that every byte a child wrote into its PTY has
// been observed by the host before the exit callback fires. Two
// strategies are implemented, matching the two the reference
// implementation carries side by side: bounded polling of the PTY's
// kernel queues, and writing a synthetic end-of-stream sentinel that a
// cooperating reader recognizes.
package drain

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/hostpty/hostpty/pty"
)

var log = logrus.WithField("component", "drain")

// Strategy selects how the Coordinator waits for output to quiesce.
type Strategy int

const (
	// StrategyPoll repeatedly inspects the controller/user queue depths
	// with exponential backoff until both are empty or a 1s deadline
	// elapses.
	StrategyPoll Strategy = iota
	// StrategySentinel writes a fixed synthetic EOF marker to the user
	// fd once the child has been reaped, and returns immediately: the
	// host's own reader is expected to recognize the marker.
	StrategySentinel
)

// Sentinel is the exact byte sequence written once per child lifetime
// under StrategySentinel: ESC ']' "7878" ESC '\'.
var Sentinel = []byte{0x1B, 0x5D, 0x37, 0x38, 0x37, 0x38, 0x1B, 0x5C}

var errNotDrained = errors.New("pty queues not yet empty")

// Coordinator runs one drain strategy for a single child.
type Coordinator struct {
	strategy Strategy
	id       string
}

// New builds a Coordinator for the given strategy. An unrecognized value
// falls back to StrategyPoll. id is an opaque caller-assigned correlation
// id (e.g. a Handle's id) attached to every log line this Coordinator
// emits; it may be empty.
func New(strategy Strategy, id string) *Coordinator {
	return &Coordinator{strategy: strategy, id: id}
}

// Await blocks until draining has quiesced or been signalled, per the
// configured strategy. It never returns an error: a failure to drain is
// logged and the caller proceeds to invoke the exit callback regardless,
// matching the "drain failures are best-effort" propagation policy.
func (c *Coordinator) Await(controllerFD, userFD int) {
	switch c.strategy {
	case StrategySentinel:
		c.awaitSentinel(userFD)
	default:
		c.awaitPoll(controllerFD, userFD)
	}
}

func (c *Coordinator) awaitSentinel(userFD int) {
	if userFD < 0 {
		return
	}
	if err := writeAll(userFD, Sentinel); err != nil {
		log.WithField("id", c.id).WithError(err).Warn("failed to write synthetic EOF sentinel")
	}
}

// writeAll retries unix.Write across short writes and EINTR, matching the
// retry discipline the reference stack applies to every raw syscall loop.
func writeAll(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

func (c *Coordinator) awaitPoll(controllerFD, userFD int) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = time.Second
	b.Multiplier = 2

	op := func() error {
		empty, err := queuesEmpty(controllerFD, userFD)
		if err != nil {
			// The fd is gone; there's nothing left to drain.
			return nil
		}
		if !empty {
			return errNotDrained
		}
		return nil
	}

	if err := backoff.Retry(op, b); err != nil {
		log.WithField("id", c.id).WithError(err).Warn("pty drain deadline elapsed with data still queued")
	}
}

func queuesEmpty(controllerFD, userFD int) (bool, error) {
	for _, fd := range []int{controllerFD, userFD} {
		if fd < 0 {
			continue
		}
		in, err := pty.InQueue(fd)
		if err != nil {
			return false, err
		}
		out, err := pty.OutQueue(fd)
		if err != nil {
			return false, err
		}
		if in != 0 || out != 0 {
			return false, nil
		}
	}
	return true, nil
}
