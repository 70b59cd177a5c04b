//go:build linux

// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package ingest

import (
	"context"
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// libudevPrefix is the "libudev\0" prefix that, followed by the
// 0xfeedcafe magic (udevMagic), appears at a fixed offset at the front
// of every udev-multicast uevent. Kernel-only uevents (the "kernel" multicast group) don't
// carry this header or the ID_* enrichment properties userspace rules
// rely on, so NetlinkSource only subscribes to the udev group and
// drops anything that doesn't carry this prefix.
const libudevPrefix = "libudev\x00"

const udevMagic uint32 = 0xfeedcafe

// udev multicast group, see linux/netlink.h's NETLINK_KOBJECT_UEVENT
// groups: 1 is "kernel", 2 is "udev".
const udevMulticastGroup = 2

const readBufferSize = 64 * 1024

// NetlinkSource reads udev hot-plug events from an AF_NETLINK,
// NETLINK_KOBJECT_UEVENT socket subscribed to the udev multicast
// group, matching how libudev itself monitors the kernel (spec.md
// §4.1). There is no third-party Go client for this protocol in the
// dependency pool, so this talks to the kernel directly through
// golang.org/x/sys/unix, the same layer the rest of the pool's
// lowest-level networking code is built on.
type NetlinkSource struct{}

// NewNetlinkSource returns a Source that reads real kernel uevents.
// Run opens the socket itself; constructing a NetlinkSource never
// touches the kernel.
func NewNetlinkSource() *NetlinkSource { return &NetlinkSource{} }

func (s *NetlinkSource) Run(ctx context.Context) (<-chan RawEvent, <-chan error) {
	out := make(chan RawEvent)
	errs := make(chan error, 1)

	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		go func() {
			errs <- errors.Wrap(err, "opening netlink socket")
			close(out)
			close(errs)
		}()
		return out, errs
	}

	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: udevMulticastGroup}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		go func() {
			errs <- errors.Wrap(err, "binding netlink socket to udev multicast group")
			close(out)
			close(errs)
		}()
		return out, errs
	}

	go s.readLoop(ctx, fd, out, errs)
	return out, errs
}

func (s *NetlinkSource) readLoop(ctx context.Context, fd int, out chan<- RawEvent, errs chan<- error) {
	defer close(out)
	defer close(errs)
	defer unix.Close(fd)

	go func() {
		<-ctx.Done()
		unix.Shutdown(fd, unix.SHUT_RDWR)
	}()

	buf := make([]byte, readBufferSize)
	for {
		n, _, err := unix.Recvfrom(fd, buf, 0)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			errs <- errors.Wrap(err, "reading from netlink socket")
			return
		}

		raw, err := parseLibudevMessage(buf[:n])
		if err != nil {
			log.WithError(err).Debug("dropping malformed uevent message")
			continue
		}

		select {
		case out <- raw:
		case <-ctx.Done():
			return
		}
	}
}

// parseLibudevMessage decodes one udev-multicast datagram into a
// RawEvent. Layout: an 8-byte "libudev\0" prefix, a big-endian magic
// number at offset 8, and a little-endian properties offset at offset
// 16 pointing into a run of NUL-delimited "KEY=VALUE" strings that
// continues to the end of the datagram.
func parseLibudevMessage(buf []byte) (RawEvent, error) {
	const headerMagicOffset = 8
	const headerPropsOffsetOffset = 16
	const minHeaderLen = headerPropsOffsetOffset + 4

	if len(buf) < minHeaderLen || !strings.HasPrefix(string(buf[:len(libudevPrefix)]), libudevPrefix) {
		return RawEvent{}, errors.New("missing libudev prefix")
	}

	magic := binary.BigEndian.Uint32(buf[headerMagicOffset : headerMagicOffset+4])
	if magic != udevMagic {
		return RawEvent{}, errors.Errorf("unexpected magic %#x", magic)
	}

	propsOffset := binary.LittleEndian.Uint32(buf[headerPropsOffsetOffset : headerPropsOffsetOffset+4])
	if int(propsOffset) > len(buf) {
		return RawEvent{}, errors.New("properties offset past end of message")
	}

	props := parseProperties(buf[propsOffset:])

	return RawEvent{
		Action:     props["ACTION"],
		DevType:    props["DEVTYPE"],
		Properties: props,
	}, nil
}

func parseProperties(buf []byte) map[string]string {
	props := make(map[string]string)
	for _, field := range strings.Split(strings.ToValidUTF8(string(buf), ""), "\x00") {
		key, value, ok := strings.Cut(field, "=")
		if !ok || key == "" {
			continue
		}
		props[key] = value
	}
	return props
}
