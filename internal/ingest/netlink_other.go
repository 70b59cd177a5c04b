//go:build !linux

// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package ingest

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
)

// NetlinkSource exists on every platform so callers can build without
// conditional compilation; off Linux there is no udev netlink socket to
// read, so Run reports a single terminal error.
type NetlinkSource struct{}

func NewNetlinkSource() *NetlinkSource { return &NetlinkSource{} }

func (s *NetlinkSource) Run(ctx context.Context) (<-chan RawEvent, <-chan error) {
	out := make(chan RawEvent)
	errs := make(chan error, 1)
	go func() {
		errs <- errors.Errorf("netlink uevent ingest is not supported on %s", runtime.GOOS)
		close(out)
		close(errs)
	}()
	return out, errs
}
