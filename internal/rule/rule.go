// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package rule holds the declarative rule model — match clauses and
// rules — and the matching engine and YAML loader that operate on them.
package rule

import (
	"github.com/kbknapp/usbwatchd/internal/device"
	"github.com/kbknapp/usbwatchd/internal/event"
)

// MatchClause is the predicate portion of a Rule.
type MatchClause struct {
	On      event.Kind
	Devices []device.Record
	Ports   []device.Port

	// IgnoreDevices holds positions into Devices that mean "exclude this
	// specific record". Indices refer to the fully-appended Devices
	// slice as it existed at rule-load time; they are never renumbered.
	IgnoreDevices map[int]struct{}
}

// Rule is a (match-predicate, command) pair evaluated per event.
type Rule struct {
	Name         string
	Match        MatchClause
	CommandShell string
	Command      string
}

// DefaultCommandShell is used when a rule omits command_shell.
const DefaultCommandShell = "/bin/sh"
