// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package acl derives client-side affordances from channel access control
// lists. The server stays authoritative for enforcement.
package acl

import (
	"strings"

	"github.com/lrhodin/mumblesync/pkg/mumble"
)

const (
	// TokenGroupPrefix marks a group that matches users holding an access
	// token with the rest of the name.
	TokenGroupPrefix = "#"
	// NegatedTokenGroupPrefix inverts a token group. It never denotes a
	// password.
	NegatedTokenGroupPrefix = "#!"
)

// IsTokenGroup reports whether a group name refers to an access token.
func IsTokenGroup(group string) bool {
	return strings.HasPrefix(group, TokenGroupPrefix) && !strings.HasPrefix(group, NegatedTokenGroupPrefix)
}

func isDenyAllEnter(e mumble.ACLEntry) bool {
	return !e.Inherited && e.IsGroupBased() && e.Group == mumble.GroupAll && e.Deny.Has(mumble.PermissionEnter)
}

func isGrantTokenEnter(e mumble.ACLEntry) bool {
	return !e.Inherited && e.IsGroupBased() && IsTokenGroup(e.Group) && e.Grant.Has(mumble.PermissionEnter)
}

// IsPasswordProtected reports whether a channel's own rules deny Enter to
// everyone while granting it to an access token group.
func IsPasswordProtected(snapshot mumble.ACLSnapshot) bool {
	var denyAll, grantToken bool
	for _, e := range snapshot.Entries {
		denyAll = denyAll || isDenyAllEnter(e)
		grantToken = grantToken || isGrantTokenEnter(e)
	}
	return denyAll && grantToken
}

// Classifier remembers the latest classification per channel.
type Classifier struct {
	protected map[uint32]bool
}

func NewClassifier() *Classifier {
	return &Classifier{protected: make(map[uint32]bool)}
}

// Update replaces the classification of the snapshot's channel and returns
// the new value.
func (c *Classifier) Update(snapshot mumble.ACLSnapshot) bool {
	protected := IsPasswordProtected(snapshot)
	if protected {
		c.protected[snapshot.ChannelID] = true
	} else {
		delete(c.protected, snapshot.ChannelID)
	}
	return protected
}

// Mark records a channel as protected after a password join succeeded.
func (c *Classifier) Mark(channelID uint32) {
	c.protected[channelID] = true
}

// Forget drops a removed channel.
func (c *Classifier) Forget(channelID uint32) {
	delete(c.protected, channelID)
}

func (c *Classifier) IsProtected(channelID uint32) bool {
	return c.protected[channelID]
}

// Protected returns the IDs of all channels currently classified protected.
func (c *Classifier) Protected() []uint32 {
	ids := make([]uint32, 0, len(c.protected))
	for id := range c.protected {
		ids = append(ids, id)
	}
	return ids
}

func (c *Classifier) Reset() {
	clear(c.protected)
}
