// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package daemonmode

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbknapp/usbwatchd/internal/event"
	"github.com/kbknapp/usbwatchd/internal/ingest"
	"github.com/kbknapp/usbwatchd/internal/shutdown"
)

// fakeSource replays a fixed RawEvent sequence then blocks until
// cancelled.
type fakeSource struct {
	events []ingest.RawEvent
}

func (f *fakeSource) Run(ctx context.Context) (<-chan ingest.RawEvent, <-chan error) {
	out := make(chan ingest.RawEvent)
	errs := make(chan error)
	go func() {
		defer close(out)
		defer close(errs)
		for _, ev := range f.events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return out, errs
}

func TestListenStopsAfterNumEvents(t *testing.T) {
	src := &fakeSource{events: []ingest.RawEvent{
		{Action: "add", Properties: map[string]string{"ID_VENDOR_ID": "1111"}},
		{Action: "add", Properties: map[string]string{"ID_VENDOR_ID": "2222"}},
		{Action: "add", Properties: map[string]string{"ID_VENDOR_ID": "3333"}},
	}}

	var out bytes.Buffer
	coord := shutdown.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := Listen(ctx, coord, src, ListenOptions{Only: ScanAll, NumEvents: 2, Output: &out})
	require.NoError(t, err)

	count := strings.Count(out.String(), "--- add")
	assert.Equal(t, 2, count)
}

func TestListenFiltersByEventKind(t *testing.T) {
	src := &fakeSource{events: []ingest.RawEvent{
		{Action: "add"},
		{Action: "remove"},
	}}

	var out bytes.Buffer
	coord := shutdown.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	removeKind := event.Remove
	err := Listen(ctx, coord, src, ListenOptions{Only: ScanAll, Event: &removeKind, NumEvents: 1, Output: &out})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "--- remove")
	assert.NotContains(t, out.String(), "--- add")
}

func TestListenStopsOnContextCancel(t *testing.T) {
	src := &fakeSource{}
	var out bytes.Buffer
	coord := shutdown.New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Listen(ctx, coord, src, ListenOptions{Only: ScanAll, Output: &out}) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Listen did not return after context cancellation")
	}
}
