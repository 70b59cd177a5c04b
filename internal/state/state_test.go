// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package state

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kbknapp/usbwatchd/internal/device"
)

func strp(s string) *string { return &s }

func TestAddPortSlotIndexFencepost(t *testing.T) {
	s := New()

	a := device.Port{Syspath: strp("/sys/A")}
	b := device.Port{Syspath: strp("/sys/B")}

	s.AddPort(a)
	s.AddPort(b)

	// The slot for the first port must live at index 0 (len-1 after
	// the append), not at index 1 (len after the append).
	_, slotZeroExists := s.slotMap[0]
	assert.True(t, slotZeroExists, "expected a slot entry at index 0 for the first added port")

	_, slotOneExists := s.slotMap[1]
	assert.True(t, slotOneExists, "expected a slot entry at index 1 for the second added port")

	_, slotTwoExists := s.slotMap[2]
	assert.False(t, slotTwoExists, "no port was added at index 2; slot_map must not contain a stray post-append key")
}

func TestAddPortIsIdempotent(t *testing.T) {
	s := New()
	p := device.Port{Syspath: strp("/sys/A")}
	s.AddPort(p)
	s.AddPort(p)
	assert.Len(t, s.Ports(), 1)
}

func TestAddDeviceIsIdempotent(t *testing.T) {
	s := New()
	d := device.Record{IDVendorID: strp("0781")}
	s.AddDevice(d)
	s.AddDevice(d)
	assert.Len(t, s.Devices(), 1)
}

func TestAddAndSlotThenRemoveAndUnslot(t *testing.T) {
	s := New()
	d := device.Record{IDVendorID: strp("0781")}
	p := device.Port{Syspath: strp("/sys/A")}

	s.AddAndSlot(d, p)

	assert.Len(t, s.Devices(), 1)
	assert.Len(t, s.Ports(), 1)

	devIdx, ok := s.SlotAt(0)
	assert.True(t, ok)
	assert.Equal(t, 0, devIdx)
	_, active := s.ActiveDevices()[0]
	assert.True(t, active)

	s.RemoveAndUnslot(d)

	_, ok = s.SlotAt(0)
	assert.False(t, ok)
	_, active = s.ActiveDevices()[0]
	assert.False(t, active)

	// Indices are never reused: both sequences still hold their entries.
	assert.Len(t, s.Devices(), 1)
	assert.Len(t, s.Ports(), 1)
}

func TestAddAndSlotNoOpIfAlreadyActive(t *testing.T) {
	s := New()
	d := device.Record{IDVendorID: strp("0781")}
	p1 := device.Port{Syspath: strp("/sys/A")}
	p2 := device.Port{Syspath: strp("/sys/B")}

	s.AddAndSlot(d, p1)
	s.AddAndSlot(d, p2)

	// Device was already active via p1; the second call is a no-op, so
	// p2's slot should remain empty.
	_, p2Occupied := s.SlotAt(1)
	assert.False(t, p2Occupied)
}

func TestRemoveAndUnslotOnNeverAddedDeviceIsNoop(t *testing.T) {
	s := New()
	d := device.Record{IDVendorID: strp("0781")}
	assert.NotPanics(t, func() {
		s.RemoveAndUnslot(d)
	})
	assert.Len(t, s.Devices(), 0)
}

func TestSlotInvariantHoldsAcrossOperations(t *testing.T) {
	s := New()
	d1 := device.Record{IDVendorID: strp("1111")}
	d2 := device.Record{IDVendorID: strp("2222")}
	p1 := device.Port{Syspath: strp("/sys/A")}
	p2 := device.Port{Syspath: strp("/sys/B")}

	s.AddAndSlot(d1, p1)
	s.AddAndSlot(d2, p2)
	s.RemoveAndUnslot(d1)
	s.AddAndSlot(d1, p1)

	for portIdx := range s.Ports() {
		if devIdx, ok := s.SlotAt(portIdx); ok {
			_, active := s.ActiveDevices()[devIdx]
			assert.True(t, active)
		}
	}

	assert.Len(t, s.ActiveDevices(), 2)
}
