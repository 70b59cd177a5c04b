// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package device

import "path/filepath"

// Port is an optionally-named description of the physical port a device
// sits in. Empty iff all seven identity fields are unset; Name never
// participates in equality or emptiness.
type Port struct {
	Name string `yaml:"name,omitempty"`

	Syspath   *string `yaml:"syspath,omitempty"`
	Devpath   *string `yaml:"devpath,omitempty"`
	Sysname   *string `yaml:"sysname,omitempty"`
	Sysnum    *int    `yaml:"sysnum,omitempty"`
	IDForSeat *string `yaml:"id_for_seat,omitempty"`
	IDPath    *string `yaml:"id_path,omitempty"`
	IDPathTag *string `yaml:"id_path_tag,omitempty"`
}

func (p Port) identityStrings() []*string {
	return []*string{
		p.Syspath,
		p.Devpath,
		p.Sysname,
		p.IDForSeat,
		p.IDPath,
		p.IDPathTag,
	}
}

// IsEmpty reports whether every identity field (including Sysnum) is
// unset. Name does not participate.
func (p Port) IsEmpty() bool {
	if p.Sysnum != nil {
		return false
	}
	for _, f := range p.identityStrings() {
		if f != nil {
			return false
		}
	}
	return true
}

// Equal implements the same partial-field comparison rule as
// Record.Equal, extended to the one integer field (Sysnum).
func (p Port) Equal(other Port) bool {
	pEmpty, oEmpty := p.IsEmpty(), other.IsEmpty()
	if pEmpty && oEmpty {
		return true
	}
	if pEmpty != oEmpty {
		return false
	}

	pf, of := p.identityStrings(), other.identityStrings()
	for i := range pf {
		if pf[i] == nil || of[i] == nil {
			continue
		}
		if *pf[i] != *of[i] {
			return false
		}
	}

	if p.Sysnum != nil && other.Sysnum != nil && *p.Sysnum != *other.Sysnum {
		return false
	}

	return true
}

// PortFromProperties populates a Port from a udev-style property map and
// the sysfs attributes sysname/sysnum, mirroring the way Linux exposes a
// device's physical port location. syspath is the absolute sysfs path
// ("/sys" + DEVPATH); devpath is the kernel-reported DEVPATH property
// itself. Sysname is never sent as its own property on the wire, so it
// is derived as DEVPATH's basename, the same way sysfs scans derive it.
// Sysnum must be non-negative; a malformed or absent attribute leaves
// the field unset.
func PortFromProperties(props map[string]string, sysnum *int) Port {
	var syspath, sysname *string
	if dp, ok := props["DEVPATH"]; ok {
		full := "/sys" + dp
		syspath = &full

		base := filepath.Base(dp)
		sysname = &base
	}

	return Port{
		Syspath:   syspath,
		Devpath:   lookup(props, "DEVPATH"),
		Sysname:   sysname,
		Sysnum:    sysnum,
		IDForSeat: lookup(props, "ID_FOR_SEAT"),
		IDPath:    lookup(props, "ID_PATH"),
		IDPathTag: lookup(props, "ID_PATH_TAG"),
	}
}
