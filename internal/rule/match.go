// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package rule

import (
	"github.com/kbknapp/usbwatchd/internal/device"
	"github.com/kbknapp/usbwatchd/internal/event"
)

// Matches reports whether r fires for ev: kind, port, and device
// predicates must all hold.
func Matches(r Rule, ev event.Event) bool {
	return kindMatches(r.Match.On, ev.Kind) &&
		portMatches(r.Match.Ports, ev.Port) &&
		deviceMatches(r.Match.Devices, r.Match.IgnoreDevices, ev.Device)
}

func kindMatches(on, actual event.Kind) bool {
	return on == actual || on == event.All
}

func portMatches(ports []device.Port, actual device.Port) bool {
	if len(ports) == 0 {
		return true
	}
	for _, p := range ports {
		if p.Equal(actual) {
			return true
		}
	}
	return false
}

// deviceMatches implements the device-match algorithm from spec.md
// §4.3: match_all, exact_match (tie-broken on the first matching
// index), and match_all_except, combined with the ignored(d) predicate.
func deviceMatches(devs []device.Record, ign map[int]struct{}, d device.Record) bool {
	matchAll := len(devs) == 0 && len(ign) == 0
	if matchAll {
		return true
	}

	matchAllExcept := len(devs) > 0 && len(devs) == len(ign)

	exactMatch := false
	for i, dev := range devs {
		if dev.Equal(d) {
			_, isIgnored := ign[i]
			exactMatch = !isIgnored
			break
		}
	}

	ignored := false
	for i := range ign {
		if i < 0 || i >= len(devs) {
			continue
		}
		if devs[i].Equal(d) {
			ignored = true
			break
		}
	}

	return (matchAllExcept || exactMatch) && !ignored
}
