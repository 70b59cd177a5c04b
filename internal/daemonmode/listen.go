// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package daemonmode

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/kbknapp/usbwatchd/internal/event"
	"github.com/kbknapp/usbwatchd/internal/ingest"
	"github.com/kbknapp/usbwatchd/internal/shutdown"
)

// ListenOptions configures the `listen` mode runner.
type ListenOptions struct {
	Only      ScanFor
	Event     *event.Kind // nil means no kind filter
	NumEvents int         // 0 means unbounded
	Output    io.Writer
}

// Listen builds the ingest pipeline and a single subscriber that prints
// every event surviving the --only/--event filters, without touching
// attachment state or rules (spec.md §4.7). It returns once NumEvents
// events have been printed, the context is cancelled, or shutdown is
// signaled.
func Listen(ctx context.Context, coord *shutdown.Coordinator, src ingest.Source, opts ListenOptions) error {
	pub := ingest.NewBroadcaster()

	ingestTok := coord.Token()
	ingestErrs := make(chan error, 1)
	go func() {
		defer ingestTok.Done()
		ingestErrs <- ingest.Run(ctx, src, ingestTok, pub)
	}()

	subTok := coord.Token()
	defer subTok.Done()

	id, sub := pub.Subscribe()
	defer pub.Unsubscribe(id)

	count := 0
	for {
		select {
		case <-subTok.C():
			return nil
		case <-ctx.Done():
			return nil
		case err := <-ingestErrs:
			return err
		case d, ok := <-sub:
			if !ok {
				return nil
			}
			if d.Lagged > 0 {
				log.WithField("lagged", d.Lagged).Warn("listen: dropped buffered events under load")
			}
			if opts.Event != nil && d.Event.Kind != *opts.Event {
				continue
			}

			if err := printEvent(opts, d.Event); err != nil {
				return err
			}

			count++
			if opts.NumEvents > 0 && count >= opts.NumEvents {
				return nil
			}
		}
	}
}

func printEvent(opts ListenOptions, ev event.Event) error {
	fmt.Fprintf(opts.Output, "--- %s\n", ev.Kind)

	enc := yaml.NewEncoder(opts.Output)
	defer enc.Close()

	if opts.Only == ScanPorts || opts.Only == ScanAll {
		if err := enc.Encode(struct {
			Port interface{} `yaml:"port"`
		}{ev.Port}); err != nil {
			return err
		}
	}
	if opts.Only == ScanDevices || opts.Only == ScanAll {
		if err := enc.Encode(struct {
			Device interface{} `yaml:"device"`
		}{ev.Device}); err != nil {
			return err
		}
	}
	return nil
}
