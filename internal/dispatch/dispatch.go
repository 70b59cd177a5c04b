// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package dispatch spawns the detached child processes a matching rule
// triggers and reaps them in the background, per spec.md §4.6.
package dispatch

import (
	"io"
	"os"
	"os/exec"

	"github.com/pkg/errors"

	"github.com/kbknapp/usbwatchd/internal/event"
	"github.com/kbknapp/usbwatchd/internal/logging"
	"github.com/kbknapp/usbwatchd/internal/rule"
)

var log = logging.For("dispatch")

// Dispatch iterates rules in declaration order and, for every rule
// whose match clause holds against ev, launches its command. Spawned
// children run concurrently with each other and with the caller: a
// spawn failure is logged and does not stop evaluation of the
// remaining rules, and a successful spawn is hanged off to a
// fire-and-forget reaper goroutine rather than waited on here.
func Dispatch(rules []rule.Rule, ev event.Event) {
	for _, r := range rules {
		if !rule.Matches(r, ev) {
			continue
		}
		dispatchOne(r)
	}
}

func dispatchOne(r rule.Rule) {
	cmd := exec.Command(r.CommandShell, "-c", r.Command)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.WithField("rule", r.Name).WithError(err).Error("failed to create child stdin pipe")
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.WithField("rule", r.Name).WithError(err).Error("failed to create child stdout pipe")
		return
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		log.WithField("rule", r.Name).WithError(err).Error("failed to spawn rule command")
		return
	}

	log.WithField("rule", r.Name).WithField("pid", cmd.Process.Pid).Debug("spawned rule command")

	// The dispatcher gives up ownership of the child once it is
	// spawned (spec.md "Ownership"): nothing here blocks on it, and the
	// reaper below is the only thing that ever calls Wait.
	go reap(r.Name, cmd, stdin, stdout)
}

func reap(ruleName string, cmd *exec.Cmd, stdin, stdout io.Closer) {
	defer stdin.Close()
	defer stdout.Close()

	err := cmd.Wait()
	entry := log.WithField("rule", ruleName).WithField("pid", cmd.Process.Pid)

	switch {
	case err == nil:
		entry.WithField("exit_code", 0).Debug("rule command exited")
	default:
		if exitErr, ok := err.(*exec.ExitError); ok {
			entry.WithField("exit_code", exitErr.ExitCode()).Warn("rule command exited non-zero")
			return
		}
		entry.WithError(errors.Wrap(err, "waiting for rule command")).Error("rule command wait failed")
	}
}
