// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package connector

import (
	"time"

	"github.com/google/uuid"

	"github.com/lrhodin/mumblesync/pkg/mumble"
	"github.com/lrhodin/mumblesync/pkg/mutesync"
	"github.com/lrhodin/mumblesync/pkg/tree"
)

type MessageKind int

const (
	MessageChat MessageKind = iota
	MessagePrivate
	MessageNotice
	MessageSystem
)

// Message is one entry of the chat log.
type Message struct {
	ID            uuid.UUID
	Time          time.Time
	Kind          MessageKind
	SenderName    string
	SenderSession uint32
	Outgoing      bool
	HTML          string
	Images        [][]byte
}

// PasswordPrompt asks the user for the password of a channel they just failed
// to enter.
type PasswordPrompt struct {
	ChannelID   uint32
	ChannelName string
}

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// View is the published read-only projection of the engine state. Values
// handed out are never mutated afterwards.
type View struct {
	Sequence   uint64
	Connection ConnectionState
	ServerName string
	Self       *mumble.UserSnapshot
	Muted      bool
	Deafened   bool
	MuteState  mutesync.State

	Mode  tree.ViewMode
	Items []tree.Item

	Messages   []Message
	Prompt     *PasswordPrompt
	// EditingACL is the ACL most recently requested for editing.
	EditingACL *mumble.ACLSnapshot
	// Sending is set while an image is in the transmission pipeline.
	Sending    bool

	ListeningChannels []uint32
	Notifications     map[NotificationCategory]bool
}

// Item returns the projected item with the given ID.
func (v *View) Item(id string) (tree.Item, bool) {
	for _, item := range v.Items {
		if item.ID == id {
			return item, true
		}
	}
	return tree.Item{}, false
}

// User returns the projected item of the user with the given session.
func (v *View) User(session uint32) (tree.Item, bool) {
	for _, item := range v.Items {
		if item.Kind == tree.KindUser && item.Session == session {
			return item, true
		}
	}
	return tree.Item{}, false
}
