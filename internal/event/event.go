// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package event defines the normalized hot-plug event the ingest
// pipeline produces and the matching engine consumes.
package event

import (
	"fmt"
	"strings"

	"github.com/kbknapp/usbwatchd/internal/device"
)

// Kind is the closed set of event kinds a rule's match clause can refer
// to. All is a wildcard usable only in rule predicates; the OS event
// source never emits it.
type Kind int

const (
	Unknown Kind = iota
	Add
	Remove
	Change
	Bind
	Unbind
	All
)

var kindNames = map[Kind]string{
	Unknown: "unknown",
	Add:     "add",
	Remove:  "remove",
	Change:  "change",
	Bind:    "bind",
	Unbind:  "unbind",
	All:     "all",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind parses a case-insensitive event kind name, as used in rule
// file "on:" clauses.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return Unknown, fmt.Errorf("unrecognized event kind %q", s)
}

// Event is a single normalized hot-plug occurrence: what kind of change
// happened, to which device, on which port.
type Event struct {
	Kind   Kind
	Device device.Record
	Port   device.Port
}
