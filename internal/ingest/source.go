// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package ingest is the event ingest pipeline: a cancellable, filtered,
// fan-out stream wrapped around whatever OS event source is supplied.
package ingest

import (
	"context"
	"strconv"
	"strings"

	"github.com/kbknapp/usbwatchd/internal/device"
	"github.com/kbknapp/usbwatchd/internal/event"
	"github.com/kbknapp/usbwatchd/internal/logging"
)

var log = logging.For("ingest")

// RawEvent is a single OS hot-plug occurrence before normalization and
// filtering: the raw ACTION string, the kernel DEVTYPE (used to drop
// usb_interface sub-device events), and the full uevent property
// dictionary.
type RawEvent struct {
	Action  string
	DevType string

	// Properties holds the uevent KEY=VALUE pairs, already converted
	// from raw bytes via strings.ToValidUTF8 so the ingest boundary
	// never fails on non-UTF-8 input (spec.md §4.1).
	Properties map[string]string
}

// Source is a cancellable OS hot-plug event source. Run starts the
// source's own read loop and returns two channels: one delivering
// decoded raw events, one delivering a single terminal error (after
// which both channels are closed). The event-source task exclusively
// owns the underlying OS handle; Run must be called at most once per
// Source.
type Source interface {
	Run(ctx context.Context) (<-chan RawEvent, <-chan error)
}

// sysnum extracts the sysfs sysnum attribute from a raw event's
// properties, if present and non-negative (spec.md §3: sysnum is a
// non-negative integer).
func sysnum(props map[string]string) *int {
	raw, ok := props["SYSNUM"]
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

// normalize converts a RawEvent into a typed Event and reports whether
// it survives ingest filtering. Filtering happens in the bit-exact
// order spec.md §4.2 requires:
//  1. malformed events are handled before normalize is ever called (the
//     Source drops them; NetlinkSource's read loop logs and drops
//     messages it cannot parse into a RawEvent);
//  2. keep only {Add, Remove};
//  3. drop DevType == "usb_interface".
func normalize(raw RawEvent) (event.Event, bool) {
	kind, err := event.ParseKind(raw.Action)
	if err != nil || (kind != event.Add && kind != event.Remove) {
		return event.Event{}, false
	}

	if strings.EqualFold(raw.DevType, "usb_interface") {
		return event.Event{}, false
	}

	return event.Event{
		Kind:   kind,
		Device: device.FromProperties(raw.Properties),
		Port:   device.PortFromProperties(raw.Properties, sysnum(raw.Properties)),
	}, true
}
