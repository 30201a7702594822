// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package mumble

import (
	"cmp"
	"slices"
	"strings"
)

// RootChannelID is the ID of the server's root channel.
const RootChannelID uint32 = 0

// TalkState is the voice activity reported for a user.
type TalkState int

const (
	TalkPassive TalkState = iota
	TalkTalking
	TalkWhispering
	TalkShouting
)

func (t TalkState) IsTalking() bool {
	return t >= TalkTalking && t <= TalkShouting
}

func (t TalkState) String() string {
	switch t {
	case TalkTalking:
		return "talking"
	case TalkWhispering:
		return "whispering"
	case TalkShouting:
		return "shouting"
	default:
		return "passive"
	}
}

// AudioState holds the mute-related flags of a user.
type AudioState struct {
	Authenticated   bool
	SelfMuted       bool
	SelfDeafened    bool
	ServerMuted     bool
	ServerDeafened  bool
	LocalMuted      bool
	Suppressed      bool
	PrioritySpeaker bool
}

func (a AudioState) IsMutedOrDeafened() bool {
	return a.SelfMuted || a.ServerMuted || a.LocalMuted || a.Suppressed ||
		a.SelfDeafened || a.ServerDeafened
}

// SilencesTalk reports whether talk indicators should be forced passive.
func (a AudioState) SilencesTalk() bool {
	return a.ServerMuted || a.SelfMuted || a.SelfDeafened
}

// UserSnapshot is an immutable copy of a remote user, taken when the event
// carrying it was ingested.
type UserSnapshot struct {
	Session   uint32
	// UserID is the registration ID, or -1 for unregistered users.
	UserID    int64
	Name      string
	ChannelID uint32
	Comment   string
	Audio     AudioState
	TalkState TalkState
}

func (u UserSnapshot) IsRegistered() bool {
	return u.UserID >= 0
}

// ChannelSnapshot is an immutable copy of a remote channel subtree.
type ChannelSnapshot struct {
	ID          uint32
	ParentID    uint32
	Name        string
	Description string
	Position    int32
	Temporary   bool
	MaxUsers    uint32
	Users       []UserSnapshot
	Children    []*ChannelSnapshot
}

// Walk visits the subtree depth-first, pre-order. Returning false from fn
// stops descending into that channel's children.
func (c *ChannelSnapshot) Walk(fn func(ch *ChannelSnapshot, depth int) bool) {
	if c == nil {
		return
	}
	c.walk(fn, 0)
}

func (c *ChannelSnapshot) walk(fn func(ch *ChannelSnapshot, depth int) bool, depth int) {
	if !fn(c, depth) {
		return
	}
	for _, child := range c.Children {
		child.walk(fn, depth+1)
	}
}

// Find returns the channel with the given ID in the subtree.
func (c *ChannelSnapshot) Find(id uint32) *ChannelSnapshot {
	var found *ChannelSnapshot
	c.Walk(func(ch *ChannelSnapshot, _ int) bool {
		if found != nil {
			return false
		}
		if ch.ID == id {
			found = ch
			return false
		}
		return true
	})
	return found
}

// FindUser returns the user with the given session in the subtree.
func (c *ChannelSnapshot) FindUser(session uint32) (UserSnapshot, bool) {
	var (
		found UserSnapshot
		ok    bool
	)
	c.Walk(func(ch *ChannelSnapshot, _ int) bool {
		if ok {
			return false
		}
		for _, u := range ch.Users {
			if u.Session == session {
				found, ok = u, true
				return false
			}
		}
		return true
	})
	return found, ok
}

// ChannelIDs returns every channel ID in the subtree in walk order.
func (c *ChannelSnapshot) ChannelIDs() []uint32 {
	var ids []uint32
	c.Walk(func(ch *ChannelSnapshot, _ int) bool {
		ids = append(ids, ch.ID)
		return true
	})
	return ids
}

// SortChannels orders sibling channels by position, then by name.
func SortChannels(chs []*ChannelSnapshot) {
	slices.SortStableFunc(chs, func(a, b *ChannelSnapshot) int {
		if c := cmp.Compare(a.Position, b.Position); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
}

// SortUsers orders users by name, case-insensitively, falling back to session.
func SortUsers(users []UserSnapshot) {
	slices.SortStableFunc(users, func(a, b UserSnapshot) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return cmp.Compare(a.Session, b.Session)
	})
}
