// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package ingest

import (
	"context"

	"github.com/kbknapp/usbwatchd/internal/shutdown"
)

// Run drains src until ctx is cancelled, the shutdown token fires, or
// src reports a terminal error, publishing every event that survives
// filtering to pub. It returns nil on a clean shutdown and the
// source's terminal error otherwise, so a mode runner can decide
// whether to rebuild the source and keep going.
func Run(ctx context.Context, src Source, tok shutdown.Token, pub *Broadcaster) error {
	raws, errs := src.Run(ctx)

	for {
		select {
		case <-tok.C():
			return nil

		case <-ctx.Done():
			return nil

		case raw, ok := <-raws:
			if !ok {
				return nil
			}
			ev, keep := normalize(raw)
			if !keep {
				continue
			}
			pub.Publish(ev)

		case err, ok := <-errs:
			if !ok {
				continue
			}
			if err != nil {
				log.WithError(err).Error("event source failed")
				return err
			}
		}
	}
}
