// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package ingest

import (
	"sync"

	"github.com/kbknapp/usbwatchd/internal/event"
)

// subscriberCapacity bounds each subscriber's buffer. A subscriber that
// falls behind by more than this many events loses the oldest ones
// rather than stalling the whole pipeline; it is told exactly how many
// it lost via Delivery.Lagged.
const subscriberCapacity = 32

// Delivery is what a subscriber receives: always a fresh Event, plus
// Lagged, the number of earlier events dropped from the subscriber's
// buffer to make room for it (0 when nothing was dropped). Lagged > 0
// does not invalidate Event: it is the newly published event and is
// acted on like any other.
type Delivery struct {
	Event  event.Event
	Lagged int
}

// Broadcaster fans a single stream of events out to any number of
// subscriber tasks, matching spec.md §4.4: bounded per-subscriber
// buffering with an explicit, never-silent lag report instead of
// unbounded growth or blocking the publisher.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Delivery
	nextID int
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Delivery)}
}

// Subscribe registers a new subscriber and returns its receive channel
// and an id to later pass to Unsubscribe.
func (b *Broadcaster) Subscribe() (int, <-chan Delivery) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Delivery, subscriberCapacity)
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber's channel.
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers ev to every current subscriber, dropping the oldest
// buffered delivery (and counting it as lag) for any subscriber whose
// buffer is full.
func (b *Broadcaster) Publish(ev event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		lagged := deliver(ch, ev)
		if lagged > 0 {
			log.WithField("subscriber", id).WithField("lagged", lagged).
				Warn("subscriber fell behind, dropped oldest buffered events")
		}
	}
}

func deliver(ch chan Delivery, ev event.Event) int {
	lagged := 0
	for {
		select {
		case ch <- Delivery{Event: ev, Lagged: lagged}:
			return lagged
		default:
		}

		select {
		case old := <-ch:
			// The dropped delivery's own lag count is carried forward so
			// the total stays exact.
			lagged += 1 + old.Lagged
		default:
			// Another goroutine drained it between our two selects; retry
			// the send immediately.
		}
	}
}
