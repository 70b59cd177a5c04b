// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package daemonmode assembles the ingest/matching/state/dispatch core
// into the four observable modes the CLI exposes: listen, run, scan,
// and check.
package daemonmode

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/kbknapp/usbwatchd/internal/device"
	"github.com/kbknapp/usbwatchd/internal/logging"
)

var log = logging.For("daemonmode")

// OutFormat selects how Scan renders its result.
type OutFormat int

const (
	FormatRaw OutFormat = iota
	FormatYAML
)

// ScanFor selects which half of a scan's result to print.
type ScanFor int

const (
	ScanPorts ScanFor = iota
	ScanDevices
	ScanAll
)

const defaultSysfsRoot = "/sys"

// Scan performs the one-shot enumeration spec.md §6's `scan` subcommand
// exposes: walk every USB device currently attached, skip interface
// sub-devices and empty records, and write the result to w in the
// requested format. Unlike the netlink ingest path, the raw kernel
// sysfs attribute files scanned here were never enriched by udevd, so
// only the identity fields backed by a kernel attribute file
// (idVendor, idProduct, manufacturer, product, serial) come through;
// the ID_*_FROM_DATABASE/_ENC fields stay unset.
func Scan(w io.Writer, sysfsRoot string, scanFor ScanFor, format OutFormat) error {
	if sysfsRoot == "" {
		sysfsRoot = defaultSysfsRoot
	}

	devices, ports, err := scanSysfs(sysfsRoot)
	if err != nil {
		return errors.Wrap(err, "scanning sysfs")
	}

	switch format {
	case FormatYAML:
		return writeYAML(w, scanFor, devices, ports)
	default:
		return writeRaw(w, scanFor, devices, ports)
	}
}

func scanSysfs(sysfsRoot string) ([]device.Record, []device.Port, error) {
	glob := filepath.Join(sysfsRoot, "bus", "usb", "devices", "*")
	entries, err := filepath.Glob(glob)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "listing %s", glob)
	}
	sort.Strings(entries)

	var devices []device.Record
	var ports []device.Port

	for _, entry := range entries {
		props, err := readUevent(filepath.Join(entry, "uevent"))
		if err != nil {
			log.WithField("path", entry).WithError(err).Debug("skipping entry with unreadable uevent file")
			continue
		}

		if strings.EqualFold(props["DEVTYPE"], "usb_interface") {
			continue
		}

		rec := sysfsDeviceRecord(entry, props)
		if !rec.IsEmpty() {
			devices = append(devices, rec)
		}

		port := sysfsPortRecord(entry, props)
		if !port.IsEmpty() {
			ports = append(ports, port)
		}
	}

	return devices, ports, nil
}

func readUevent(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	props := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok || key == "" {
			continue
		}
		props[key] = value
	}
	return props, nil
}

func readAttr(dir, name string) *string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return nil
	}
	return &v
}

func sysfsDeviceRecord(dir string, props map[string]string) device.Record {
	rec := device.Record{
		IDVendorID: readAttr(dir, "idVendor"),
		IDModelID:  readAttr(dir, "idProduct"),
		IDVendor:   readAttr(dir, "manufacturer"),
		IDModel:    readAttr(dir, "product"),
		IDSerial:   readAttr(dir, "serial"),
	}
	if p, ok := props["PRODUCT"]; ok {
		rec.Product = &p
	}
	return rec
}

func sysfsPortRecord(dir string, props map[string]string) device.Port {
	syspath, err := filepath.EvalSymlinks(dir)
	if err != nil {
		syspath = dir
	}

	sysname := filepath.Base(syspath)
	port := device.Port{
		Syspath: &syspath,
		Sysname: &sysname,
	}

	if strings.HasPrefix(syspath, "/sys") {
		devpath := strings.TrimPrefix(syspath, "/sys")
		port.Devpath = &devpath
	}

	if n, err := strconv.Atoi(sysname); err == nil && n >= 0 {
		port.Sysnum = &n
	}

	return port
}

func writeRaw(w io.Writer, scanFor ScanFor, devices []device.Record, ports []device.Port) error {
	// Prints Field:value pairs, dereferencing set fields and skipping unset ones.
	line := func(v interface{}) string {
		rv := reflect.ValueOf(v)
		var parts []string
		for i := 0; i < rv.NumField(); i++ {
			f := rv.Field(i)
			if f.Kind() == reflect.Ptr && f.IsNil() {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s:%v", rv.Type().Field(i).Name, reflect.Indirect(f).Interface()))
		}
		return "{" + strings.Join(parts, " ") + "}"
	}
	if scanFor == ScanPorts || scanFor == ScanAll {
		for _, p := range ports {
			fmt.Fprintln(w, line(p))
		}
	}
	if scanFor == ScanDevices || scanFor == ScanAll {
		for _, d := range devices {
			fmt.Fprintln(w, line(d))
		}
	}
	return nil
}

func writeYAML(w io.Writer, scanFor ScanFor, devices []device.Record, ports []device.Port) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()

	if scanFor == ScanPorts || scanFor == ScanAll {
		if err := enc.Encode(struct {
			Ports []device.Port `yaml:"ports"`
		}{ports}); err != nil {
			return errors.Wrap(err, "encoding ports")
		}
	}
	if scanFor == ScanDevices || scanFor == ScanAll {
		if err := enc.Encode(struct {
			Devices []device.Record `yaml:"devices"`
		}{devices}); err != nil {
			return errors.Wrap(err, "encoding devices")
		}
	}
	return nil
}
