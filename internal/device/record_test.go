// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package device

import "testing"

import "github.com/stretchr/testify/assert"

func strp(s string) *string { return &s }

func TestRecordEmptyEqualsEmpty(t *testing.T) {
	var a, b Record
	assert.True(t, a.Equal(b))
	assert.True(t, b.Equal(a))
}

func TestRecordEmptyNeverEqualsNonEmpty(t *testing.T) {
	var empty Record
	full := Record{IDVendorID: strp("0781")}

	assert.False(t, empty.Equal(full))
	assert.False(t, full.Equal(empty))
}

func TestRecordPartialEqualityOverlap(t *testing.T) {
	a := Record{IDVendorID: strp("0781"), IDModel: strp("Cruzer")}
	b := Record{IDVendorID: strp("0781")}

	assert.True(t, a.Equal(b))
	assert.True(t, b.Equal(a))
}

func TestRecordPartialEqualityMismatch(t *testing.T) {
	a := Record{IDVendorID: strp("0781")}
	b := Record{IDVendorID: strp("1111")}

	assert.False(t, a.Equal(b))
}

func TestRecordNoOverlapComparesEqual(t *testing.T) {
	a := Record{IDVendorID: strp("0781")}
	b := Record{IDModel: strp("Cruzer")}

	assert.True(t, a.Equal(b))
}

func TestRecordReflexivity(t *testing.T) {
	r := Record{IDVendorID: strp("0781"), IDSerial: strp("xyz")}
	assert.True(t, r.Equal(r))
}

func TestRecordNameNeverCompared(t *testing.T) {
	a := Record{Name: "stick", IDVendorID: strp("0781")}
	b := Record{Name: "other-label", IDVendorID: strp("0781")}
	assert.True(t, a.Equal(b))
}

func TestFromPropertiesLeavesAbsentFieldsUnset(t *testing.T) {
	r := FromProperties(map[string]string{"ID_VENDOR_ID": "0781"})
	assert.NotNil(t, r.IDVendorID)
	assert.Equal(t, "0781", *r.IDVendorID)
	assert.Nil(t, r.IDModel)
	assert.Equal(t, "", r.Name)
}
