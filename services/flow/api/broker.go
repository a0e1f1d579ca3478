// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianFlow/services/flow/dag"
)

const (
	// DefaultProgressRate is the number of node_progress events per second
	// forwarded per run.
	DefaultProgressRate rate.Limit = 10

	// DefaultProgressBurst is the progress burst allowed per run.
	DefaultProgressBurst = 5

	subscriberBuffer = 64
)

var eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "flow_api_events_dropped_total",
	Help: "Run events not delivered to stream subscribers",
}, []string{"reason"})

// EventBroker fans executor events out to per-run subscribers.
//
// Description:
//
//	Publish is installed as the executor's Observer. Lifecycle events are
//	always forwarded; node_progress events pass through a per-run token
//	bucket so a chatty adapter cannot flood websocket clients. Delivery is
//	non-blocking: a subscriber that falls behind loses events rather than
//	stalling the run.
//
// Thread Safety: Safe for concurrent use.
type EventBroker struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	nextID   uint64
	subs     map[string]map[uint64]chan dag.Event
	limiters map[string]*rate.Limiter
}

// NewEventBroker creates a broker. A non-positive limit disables throttling.
func NewEventBroker(limit rate.Limit, burst int) *EventBroker {
	if burst <= 0 {
		burst = DefaultProgressBurst
	}
	return &EventBroker{
		limit:    limit,
		burst:    burst,
		subs:     make(map[string]map[uint64]chan dag.Event),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Subscribe returns a channel of events for runID and a function that ends
// the subscription. The channel is closed by Close or by unsubscribe.
func (b *EventBroker) Subscribe(runID string) (<-chan dag.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan dag.Event, subscriberBuffer)
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[uint64]chan dag.Event)
	}
	b.subs[runID][id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[runID][id]; ok {
			delete(b.subs[runID], id)
			close(c)
			if len(b.subs[runID]) == 0 {
				delete(b.subs, runID)
			}
		}
	}
}

// Publish delivers ev to the subscribers of ev.RunID.
func (b *EventBroker) Publish(ev dag.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[ev.RunID]
	if len(subs) == 0 {
		return
	}
	if ev.Type == dag.EventNodeProgress && !b.allow(ev.RunID) {
		eventsDropped.WithLabelValues("throttled").Inc()
		return
	}
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			eventsDropped.WithLabelValues("slow_subscriber").Inc()
		}
	}
}

func (b *EventBroker) allow(runID string) bool {
	if b.limit <= 0 {
		return true
	}
	l, ok := b.limiters[runID]
	if !ok {
		l = rate.NewLimiter(b.limit, b.burst)
		b.limiters[runID] = l
	}
	return l.Allow()
}

// Close ends every subscription of runID.
func (b *EventBroker) Close(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs[runID] {
		close(ch)
		delete(b.subs[runID], id)
	}
	delete(b.subs, runID)
	delete(b.limiters, runID)
}

// Subscribers returns the number of subscriptions for runID.
func (b *EventBroker) Subscribers(runID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[runID])
}
