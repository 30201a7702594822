// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package router turns loosely typed session notifications into typed events
// delivered on a single queue.
package router

import (
	"sync"
)

// Name identifies a notification on the bus.
type Name string

const (
	SessionOpened     Name = "session.opened"
	SessionClosed     Name = "session.closed"
	ServerConfig      Name = "server.config"
	UserJoined        Name = "user.joined"
	UserLeft          Name = "user.left"
	UserMoved         Name = "user.moved"
	UserRenamed       Name = "user.renamed"
	UserState         Name = "user.state"
	UserTalkState     Name = "user.talk_state"
	SelfMuteDeafen    Name = "self.mute_deafen"
	ChannelAdded      Name = "channel.added"
	ChannelRemoved    Name = "channel.removed"
	ChannelRenamed    Name = "channel.renamed"
	ChannelChanged    Name = "channel.changed"
	ACLReceived       Name = "acl.received"
	PermissionQuery   Name = "permission.query"
	PermissionDenied  Name = "permission.denied"
	ListeningChanged  Name = "listening.changed"
	TextMessage       Name = "message.text"
	UserNamesResolved Name = "user.names_resolved"
)

// Handler receives one published payload. It runs on the publisher's
// goroutine.
type Handler func(Payload)

// Bus is a publish/subscribe hub keyed by notification name.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Name]map[uint64]Handler
}

// Default is the process-wide bus session adapters publish to.
var Default = NewBus()

func NewBus() *Bus {
	return &Bus{subs: make(map[Name]map[uint64]Handler)}
}

// Subscribe adds a handler and returns the function that removes it.
func (b *Bus) Subscribe(name Name, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.subs[name] == nil {
		b.subs[name] = make(map[uint64]Handler)
	}
	b.subs[name][id] = h
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[name], id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers payload to every current subscriber of name.
func (b *Bus) Publish(name Name, payload Payload) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[name]))
	for _, h := range b.subs[name] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(payload)
	}
}

// Subscribers returns the number of handlers registered for name.
func (b *Bus) Subscribers(name Name) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}
