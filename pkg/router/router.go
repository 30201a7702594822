// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package router

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/lrhodin/mumblesync/pkg/mumble"
)

// Router subscribes to a bus and queues the decoded events in arrival order.
// Publishing never blocks on the consumer.
type Router struct {
	log zerolog.Logger

	mu         sync.Mutex
	generation uint64
	bus        *Bus
	unsubs     []func()
	queue      []mumble.Event
	closed     bool

	wake    chan struct{}
	out     chan mumble.Event
	dropped atomic.Uint64
}

func New(log zerolog.Logger) *Router {
	return &Router{
		log:  log.With().Str("component", "router").Logger(),
		wake: make(chan struct{}, 1),
		out:  make(chan mumble.Event),
	}
}

// Events is the queue the engine reads from. It is closed when Run returns.
func (r *Router) Events() <-chan mumble.Event {
	return r.out
}

// Dropped counts payloads that failed validation.
func (r *Router) Dropped() uint64 {
	return r.dropped.Load()
}

// Register subscribes to every known notification on bus. Any previous
// registration is torn down first, and late deliveries from it are ignored,
// so each notification is handled by at most one registration.
func (r *Router) Register(bus *Bus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked()
	r.generation++
	gen := r.generation
	r.bus = bus
	for _, name := range Names() {
		name := name
		r.unsubs = append(r.unsubs, bus.Subscribe(name, func(p Payload) {
			r.handle(gen, name, p)
		}))
	}
	r.log.Debug().Uint64("generation", gen).Msg("Registered on bus")
}

// Unregister removes the current subscriptions.
func (r *Router) Unregister() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked()
	r.generation++
}

func (r *Router) unregisterLocked() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
	r.bus = nil
}

// Inject queues an already typed event, bypassing the bus.
func (r *Router) Inject(evt mumble.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueueLocked(evt)
}

func (r *Router) handle(gen uint64, name Name, p Payload) {
	evt, err := Decode(name, p)
	if err != nil {
		r.dropped.Add(1)
		r.log.Debug().Err(err).Str("notification", string(name)).Msg("Dropping malformed notification")
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation {
		return
	}
	r.enqueueLocked(evt)
}

func (r *Router) enqueueLocked(evt mumble.Event) {
	if r.closed {
		return
	}
	r.queue = append(r.queue, evt)
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run forwards queued events to Events until ctx is done.
func (r *Router) Run(ctx context.Context) {
	defer func() {
		r.mu.Lock()
		r.closed = true
		r.unregisterLocked()
		r.queue = nil
		r.mu.Unlock()
		close(r.out)
	}()
	for {
		r.mu.Lock()
		var next mumble.Event
		if len(r.queue) > 0 {
			next = r.queue[0]
			r.queue[0] = nil
			r.queue = r.queue[1:]
		}
		r.mu.Unlock()
		if next == nil {
			select {
			case <-r.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		select {
		case r.out <- next:
		case <-ctx.Done():
			return
		}
	}
}
