// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package daemonmode

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/pkg/errors"

	"github.com/kbknapp/usbwatchd/internal/dispatch"
	"github.com/kbknapp/usbwatchd/internal/event"
	"github.com/kbknapp/usbwatchd/internal/ingest"
	"github.com/kbknapp/usbwatchd/internal/rule"
	"github.com/kbknapp/usbwatchd/internal/shutdown"
	"github.com/kbknapp/usbwatchd/internal/state"
)

// RunOptions configures the `run` mode runner.
type RunOptions struct {
	RulesPath string

	// DevicesPath and PortsPath, if non-empty, name standalone
	// device/port files (the same format check validates) used to
	// pre-seed attachment state with known records before any event
	// arrives. Rule matching looks only at the event, not at this state.
	DevicesPath string
	PortsPath   string

	// NewSource builds a fresh event Source for each pipeline
	// (re)build. A Source may only be run once, so `run` needs a new
	// one on every SIGHUP reload.
	NewSource func() ingest.Source
}

// Run drives the full pipeline described in spec.md §2: ingest →
// subscriber → {mutate attachment state; evaluate rules; dispatch}.
// SIGHUP tears the pipeline down, reloads the rule file, and rebuilds;
// SIGINT tears it down and returns. Exactly one signal handler is
// installed for each kind, observed alongside ingest and the
// subscriber in the same first-completed wait (spec.md §5).
func Run(ctx context.Context, opts RunOptions) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT)
	defer signal.Stop(sigCh)

	for {
		rules, err := rule.Load(opts.RulesPath)
		if err != nil {
			return errors.Wrap(err, "loading rules")
		}

		st := state.New()
		st.Rules = rules

		if opts.DevicesPath != "" {
			devices, err := rule.LoadDevicesFile(opts.DevicesPath)
			if err != nil {
				return errors.Wrap(err, "loading devices file")
			}
			for _, d := range devices {
				st.AddDevice(d)
			}
		}
		if opts.PortsPath != "" {
			ports, err := rule.LoadPortsFile(opts.PortsPath)
			if err != nil {
				return errors.Wrap(err, "loading ports file")
			}
			for _, p := range ports {
				st.AddPort(p)
			}
		}

		coord := shutdown.New()
		pipelineCtx, cancelPipeline := context.WithCancel(ctx)

		pub := ingest.NewBroadcaster()
		src := opts.NewSource()

		ingestTok := coord.Token()
		ingestErrs := make(chan error, 1)
		go func() {
			defer ingestTok.Done()
			ingestErrs <- ingest.Run(pipelineCtx, src, ingestTok, pub)
		}()

		subTok := coord.Token()
		id, sub := pub.Subscribe()
		go func() {
			defer pub.Unsubscribe(id)
			defer subTok.Done()
			runSubscriber(subTok, sub, st)
		}()

		if err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			log.WithError(err).Debug("systemd notification failed (not running under systemd)")
		}

		reload := waitForReloadOrShutdown(ctx, sigCh, ingestErrs)

		cancelPipeline()
		coord.Signal()
		coord.Wait()

		if !reload {
			return nil
		}
		log.Info("reloading: rule file and pipeline rebuilt")
	}
}

// waitForReloadOrShutdown blocks until the outer context is cancelled,
// a signal arrives, or the ingest task reports a terminal error. It
// reports whether the caller should reload (true) or shut down for
// good (false).
func waitForReloadOrShutdown(ctx context.Context, sigCh <-chan os.Signal, ingestErrs <-chan error) bool {
	for {
		select {
		case <-ctx.Done():
			return false

		case err := <-ingestErrs:
			if err != nil {
				log.WithError(err).Error("event source failed, rebuilding pipeline")
			}
			return true

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				return true
			case syscall.SIGINT:
				return false
			}
		}
	}
}

func runSubscriber(tok shutdown.Token, sub <-chan ingest.Delivery, st *state.State) {
	for {
		select {
		case <-tok.C():
			return
		case d, ok := <-sub:
			if !ok {
				return
			}
			if d.Lagged > 0 {
				log.WithField("lagged", d.Lagged).Warn("subscriber fell behind, dropped buffered events")
			}
			handleEvent(st, d.Event)
		}
	}
}

func handleEvent(st *state.State, ev event.Event) {
	st.AddPort(ev.Port)

	switch ev.Kind {
	case event.Add:
		st.AddDevice(ev.Device)
		st.AddAndSlot(ev.Device, ev.Port)
	case event.Remove:
		st.RemoveAndUnslot(ev.Device)
	}

	dispatch.Dispatch(st.Rules, ev)
}
