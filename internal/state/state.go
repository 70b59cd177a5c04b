// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package state holds the in-memory model of currently attached USB
// devices and the ports they occupy: a bidirectional port<->device slot
// map expressed as twin mappings over integer indices into growth-only
// sequences, per spec.md §4.5/§9 (no owning-reference cycles).
//
// A State is owned exclusively by the subscriber task in run mode; it
// is never shared, so it does no internal locking.
package state

import (
	"github.com/kbknapp/usbwatchd/internal/device"
	"github.com/kbknapp/usbwatchd/internal/rule"
)

// State is the port<->device occupancy model. Indices into Ports and
// Devices are stable for the lifetime of a State: removal unslots a
// device but never compacts either sequence, since ignore_devices
// indices computed at rule-load time must keep meaning the same thing.
type State struct {
	ports   []device.Port
	devices []device.Record

	activeDevices map[int]struct{}
	slotMap       map[int]*int // port index -> device index, if occupied
	revSlotMap    map[int]int  // device index -> port index

	Rules []rule.Rule
}

// New returns an empty State.
func New() *State {
	return &State{
		activeDevices: make(map[int]struct{}),
		slotMap:       make(map[int]*int),
		revSlotMap:    make(map[int]int),
	}
}

// Ports returns the growth-only port sequence.
func (s *State) Ports() []device.Port { return s.ports }

// Devices returns the growth-only device sequence.
func (s *State) Devices() []device.Record { return s.devices }

// ActiveDevices returns the set of device indices currently slotted
// into some port.
func (s *State) ActiveDevices() map[int]struct{} { return s.activeDevices }

// SlotAt returns the device index occupying port index i, if any.
func (s *State) SlotAt(portIndex int) (int, bool) {
	d, ok := s.slotMap[portIndex]
	if !ok || d == nil {
		return 0, false
	}
	return *d, true
}

func (s *State) indexOfPort(p device.Port) int {
	for i, existing := range s.ports {
		if existing.Equal(p) {
			return i
		}
	}
	return -1
}

func (s *State) indexOfDevice(d device.Record) int {
	for i, existing := range s.devices {
		if existing.Equal(d) {
			return i
		}
	}
	return -1
}

// AddPort appends p unless an equal port is already present, and
// initializes its slot to empty. The slot key is the 0-based index of
// the just-appended port (len(ports)-1) — spec.md §9's fence-post
// correction over the historical len(ports) mistake.
func (s *State) AddPort(p device.Port) {
	if s.indexOfPort(p) >= 0 {
		return
	}
	s.ports = append(s.ports, p)
	newIndex := len(s.ports) - 1
	s.slotMap[newIndex] = nil
}

// AddDevice appends d unless an equal device is already present.
func (s *State) AddDevice(d device.Record) {
	if s.indexOfDevice(d) >= 0 {
		return
	}
	s.devices = append(s.devices, d)
}

// AddAndSlot ensures both d and p are present, then slots d into p. A
// no-op if d's index is already active.
func (s *State) AddAndSlot(d device.Record, p device.Port) {
	s.AddPort(p)
	s.AddDevice(d)

	iPort := s.indexOfPort(p)
	iDev := s.indexOfDevice(d)
	if iPort < 0 || iDev < 0 {
		return
	}

	if _, active := s.activeDevices[iDev]; active {
		return
	}

	devIdx := iDev
	s.slotMap[iPort] = &devIdx
	s.revSlotMap[iDev] = iPort
	s.activeDevices[iDev] = struct{}{}
}

// RemoveAndUnslot finds the first device equal to d and, if it
// currently occupies a port, clears that port's slot and deactivates
// the device.
func (s *State) RemoveAndUnslot(d device.Record) {
	iDev := s.indexOfDevice(d)
	if iDev < 0 {
		return
	}

	if iPort, ok := s.revSlotMap[iDev]; ok {
		s.slotMap[iPort] = nil
		delete(s.revSlotMap, iDev)
	}

	delete(s.activeDevices, iDev)
}
