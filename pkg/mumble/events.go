// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package mumble

// Event is one logical session event after it has been validated and
// converted to plain data. The concrete types below are the complete set.
type Event interface {
	isEvent()
}

type SessionOpened struct {
	Host           string
	WelcomeMessage string
	Self           UserSnapshot
}

type SessionClosed struct {
	Reason string
	// Kicked is set when the server removed us (kick or ban).
	Kicked bool
}

type ServerConfigReceived struct {
	MaxMessageLength      int
	MaxImageMessageLength int
	AllowHTML             bool
}

type UserJoined struct {
	User UserSnapshot
}

type UserLeft struct {
	User   UserSnapshot
	// Actor is the session that kicked or banned the user, if any.
	Actor  *UserSnapshot
	Reason string
	Kicked bool
}

type UserMoved struct {
	User          UserSnapshot
	FromChannelID uint32
	ToChannelID   uint32
	Actor         *UserSnapshot
}

type UserRenamed struct {
	User    UserSnapshot
	OldName string
}

// UserStateChanged covers mute, deafen, suppression, priority speaker,
// registration and comment changes of any user.
type UserStateChanged struct {
	User  UserSnapshot
	Actor *UserSnapshot
}

type TalkStateChanged struct {
	Session   uint32
	TalkState TalkState
}

// SelfMuteDeafenChanged reports the server's view of our own self mute and
// self deafen flags.
type SelfMuteDeafenChanged struct {
	Muted    bool
	Deafened bool
}

type ChannelAdded struct {
	Channel ChannelSnapshot
}

type ChannelRemoved struct {
	ChannelID uint32
	Name      string
}

type ChannelRenamed struct {
	ChannelID uint32
	Name      string
}

// ChannelChanged is a non-structural channel update (description, position).
type ChannelChanged struct {
	Channel ChannelSnapshot
}

type ACLReceived struct {
	ACL ACLSnapshot
}

type PermissionQueryResult struct {
	ChannelID   uint32
	Permissions Permission
}

// DenialKind is the protocol's permission-denied reason.
type DenialKind int

const (
	DenialOther DenialKind = iota
	DenialPermission
	DenialSuperUser
	DenialInvalidChannelName
	DenialTextTooLong
	DenialTemporaryChannel
	DenialMissingCertificate
	DenialInvalidUserName
	DenialChannelFull
	DenialNestingLimit
)

type PermissionDenied struct {
	Kind       DenialKind
	ChannelID  uint32
	HasChannel bool
	Permission Permission
	Reason     string
}

type ListeningChannelsChanged struct {
	Session uint32
	Added   []uint32
	Removed []uint32
}

type TextMessageReceived struct {
	SenderSession uint32
	SenderName    string
	// HasSender is false for server-originated messages.
	HasSender     bool
	ChannelIDs    []uint32
	TreeIDs       []uint32
	Sessions      []uint32
	HTML          string
}

// IsPrivate reports whether the message was addressed to users only.
func (m TextMessageReceived) IsPrivate() bool {
	return len(m.Sessions) > 0 && len(m.ChannelIDs) == 0 && len(m.TreeIDs) == 0
}

type UserNamesResolved struct {
	Names map[uint32]string
}

func (SessionOpened) isEvent()            {}
func (SessionClosed) isEvent()            {}
func (ServerConfigReceived) isEvent()     {}
func (UserJoined) isEvent()               {}
func (UserLeft) isEvent()                 {}
func (UserMoved) isEvent()                {}
func (UserRenamed) isEvent()              {}
func (UserStateChanged) isEvent()         {}
func (TalkStateChanged) isEvent()         {}
func (SelfMuteDeafenChanged) isEvent()    {}
func (ChannelAdded) isEvent()             {}
func (ChannelRemoved) isEvent()           {}
func (ChannelRenamed) isEvent()           {}
func (ChannelChanged) isEvent()           {}
func (ACLReceived) isEvent()              {}
func (PermissionQueryResult) isEvent()    {}
func (PermissionDenied) isEvent()         {}
func (ListeningChannelsChanged) isEvent() {}
func (TextMessageReceived) isEvent()      {}
func (UserNamesResolved) isEvent()        {}
