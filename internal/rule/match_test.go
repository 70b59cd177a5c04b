// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kbknapp/usbwatchd/internal/device"
	"github.com/kbknapp/usbwatchd/internal/event"
)

func vendor(id string) device.Record {
	v := id
	return device.Record{IDVendorID: &v}
}

func TestMatchAllMatchesEveryDevice(t *testing.T) {
	r := Rule{Match: MatchClause{On: event.Add}}
	ev := event.Event{Kind: event.Add, Device: vendor("0781")}
	assert.True(t, Matches(r, ev))
}

func TestWrongKindNeverMatches(t *testing.T) {
	r := Rule{Match: MatchClause{On: event.Add}}
	ev := event.Event{Kind: event.Remove, Device: vendor("0781")}
	assert.False(t, Matches(r, ev))
}

func TestWildcardOnMatchesAnyKind(t *testing.T) {
	r := Rule{Match: MatchClause{On: event.All}}
	for _, k := range []event.Kind{event.Add, event.Remove, event.Change} {
		assert.True(t, Matches(r, event.Event{Kind: k}))
	}
}

func TestExactMatchDevice(t *testing.T) {
	r := Rule{Match: MatchClause{
		On:      event.Add,
		Devices: []device.Record{vendor("0781")},
	}}
	assert.True(t, Matches(r, event.Event{Kind: event.Add, Device: vendor("0781")}))
	assert.False(t, Matches(r, event.Event{Kind: event.Add, Device: vendor("9999")}))
}

func TestMatchAllExceptExclusivity(t *testing.T) {
	devs := []device.Record{vendor("1111"), vendor("2222")}
	ign := map[int]struct{}{0: {}, 1: {}}
	r := Rule{Match: MatchClause{On: event.Add, Devices: devs, IgnoreDevices: ign}}

	assert.False(t, Matches(r, event.Event{Kind: event.Add, Device: vendor("1111")}))
	assert.False(t, Matches(r, event.Event{Kind: event.Add, Device: vendor("2222")}))
	assert.True(t, Matches(r, event.Event{Kind: event.Add, Device: vendor("3333")}))
}

func TestIgnoreSingleDeviceFromWhitelist(t *testing.T) {
	// devices = [A, B], ignore_devices = {1} -> whitelist of A only,
	// B explicitly excluded even though it's also listed.
	devs := []device.Record{vendor("1111"), vendor("2222")}
	ign := map[int]struct{}{1: {}}
	r := Rule{Match: MatchClause{On: event.Add, Devices: devs, IgnoreDevices: ign}}

	assert.True(t, Matches(r, event.Event{Kind: event.Add, Device: vendor("1111")}))
	assert.False(t, Matches(r, event.Event{Kind: event.Add, Device: vendor("2222")}))
	assert.False(t, Matches(r, event.Event{Kind: event.Add, Device: vendor("3333")}))
}

func TestPortScopedRule(t *testing.T) {
	sysA := "/sys/A"
	sysB := "/sys/B"
	r := Rule{Match: MatchClause{
		On:    event.Add,
		Ports: []device.Port{{Syspath: &sysA}},
	}}

	assert.True(t, Matches(r, event.Event{Kind: event.Add, Port: device.Port{Syspath: &sysA}}))
	assert.False(t, Matches(r, event.Event{Kind: event.Add, Port: device.Port{Syspath: &sysB}}))
}

func TestEmptyPortsMeansAnyPort(t *testing.T) {
	sysA := "/sys/A"
	r := Rule{Match: MatchClause{On: event.Add}}
	assert.True(t, Matches(r, event.Event{Kind: event.Add, Port: device.Port{Syspath: &sysA}}))
}

func TestIgnoredDuplicateOverridesEarlierExactMatch(t *testing.T) {
	// Two identical entries in devs, only the second is ignored. The
	// first matching index (0) is not ignored, so exact_match holds, but
	// the device also equals the ignored entry at index 1, so ignored(d)
	// holds too and the device does not match.
	devs := []device.Record{vendor("0781"), vendor("0781")}
	ign := map[int]struct{}{1: {}}
	r := Rule{Match: MatchClause{On: event.Add, Devices: devs, IgnoreDevices: ign}}

	assert.False(t, Matches(r, event.Event{Kind: event.Add, Device: vendor("0781")}))
}
