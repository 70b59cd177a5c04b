// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package device holds the typed, partial-field descriptors of a USB
// device and the port it sits in, along with the partial-field equality
// rule the matching engine relies on throughout.
package device

// Record is an optionally-named description of a USB device. Every
// field, including Name, is optional; Name never participates in
// equality or emptiness, it is only a human label attached by whoever
// wrote the rule file.
type Record struct {
	Name string `yaml:"name,omitempty"`

	IDModel              *string `yaml:"ID_MODEL,omitempty"`
	IDModelEnc           *string `yaml:"ID_MODEL_ENC,omitempty"`
	IDModelFromDatabase  *string `yaml:"ID_MODEL_FROM_DATABASE,omitempty"`
	IDModelID            *string `yaml:"ID_MODEL_ID,omitempty"`
	IDSerial             *string `yaml:"ID_SERIAL,omitempty"`
	IDSerialShort        *string `yaml:"ID_SERIAL_SHORT,omitempty"`
	IDVendor             *string `yaml:"ID_VENDOR,omitempty"`
	IDVendorEnc          *string `yaml:"ID_VENDOR_ENC,omitempty"`
	IDVendorFromDatabase *string `yaml:"ID_VENDOR_FROM_DATABASE,omitempty"`
	IDVendorID           *string `yaml:"ID_VENDOR_ID,omitempty"`
	Product              *string `yaml:"PRODUCT,omitempty"`
}

// identityFields returns the eleven identity fields in a fixed order,
// used by both IsEmpty and Equal so the two stay in lockstep.
func (d Record) identityFields() []*string {
	return []*string{
		d.IDModel,
		d.IDModelEnc,
		d.IDModelFromDatabase,
		d.IDModelID,
		d.IDSerial,
		d.IDSerialShort,
		d.IDVendor,
		d.IDVendorEnc,
		d.IDVendorFromDatabase,
		d.IDVendorID,
		d.Product,
	}
}

// IsEmpty reports whether every identity field is unset. Name does not
// participate.
func (d Record) IsEmpty() bool {
	for _, f := range d.identityFields() {
		if f != nil {
			return false
		}
	}
	return true
}

// Equal implements the partial-field comparison used throughout the
// matching engine: if both records are empty they're equal, if exactly
// one is empty they're not, otherwise every identity field that both
// sides have set must match and unset fields are skipped.
func (d Record) Equal(other Record) bool {
	dEmpty, oEmpty := d.IsEmpty(), other.IsEmpty()
	if dEmpty && oEmpty {
		return true
	}
	if dEmpty != oEmpty {
		return false
	}

	df, of := d.identityFields(), other.identityFields()
	for i := range df {
		if df[i] == nil || of[i] == nil {
			continue
		}
		if *df[i] != *of[i] {
			return false
		}
	}
	return true
}

// FromProperties populates a Record from a udev-style property map (the
// uevent property dictionary). Any UTF-8 invalid byte sequence already
// normalized by the caller via strings.ToValidUTF8. A property absent
// from the map leaves the corresponding field unset. Name is never set
// here — the OS side never reports a label.
func FromProperties(props map[string]string) Record {
	return Record{
		IDModel:              lookup(props, "ID_MODEL"),
		IDModelEnc:           lookup(props, "ID_MODEL_ENC"),
		IDModelFromDatabase:  lookup(props, "ID_MODEL_FROM_DATABASE"),
		IDModelID:            lookup(props, "ID_MODEL_ID"),
		IDSerial:             lookup(props, "ID_SERIAL"),
		IDSerialShort:        lookup(props, "ID_SERIAL_SHORT"),
		IDVendor:             lookup(props, "ID_VENDOR"),
		IDVendorEnc:          lookup(props, "ID_VENDOR_ENC"),
		IDVendorFromDatabase: lookup(props, "ID_VENDOR_FROM_DATABASE"),
		IDVendorID:           lookup(props, "ID_VENDOR_ID"),
		Product:              lookup(props, "PRODUCT"),
	}
}

func lookup(props map[string]string, key string) *string {
	v, ok := props[key]
	if !ok {
		return nil
	}
	return &v
}
