// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package mumble

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected is returned by session mutations when no session exists.
	ErrNotConnected = errors.New("not connected")
	// ErrUnsupported is returned when the underlying library lacks an operation.
	ErrUnsupported = errors.New("operation not supported by session")
)

// ChannelEdit carries the optional fields of a channel edit. Nil fields are
// left untouched.
type ChannelEdit struct {
	Name        *string
	Description *string
	Position    *int32
	MaxUsers    *uint32
}

// Session is the remote voice session. Implementations must answer queries
// with ok=false (and mutations with ErrNotConnected) when no session exists.
type Session interface {
	Tree() (*ChannelSnapshot, bool)
	Self() (UserSnapshot, bool)
	Host() string

	JoinChannel(channelID uint32) error
	MoveUser(session, channelID uint32) error
	SetSelfMuteDeafen(muted, deafened bool) error
	SetServerMuted(session uint32, muted bool) error
	SetServerDeafened(session uint32, deafened bool) error
	// RegisterSelf registers the connected user under the client
	// certificate presented on connect.
	RegisterSelf() error

	CreateChannel(parentID uint32, name string, temporary bool) error
	EditChannel(channelID uint32, edit ChannelEdit) error
	RemoveChannel(channelID uint32) error

	RequestACL(channelID uint32) error
	SetACL(acl ACLSnapshot) error
	RequestPermission(channelID uint32) error
	RequestDescription(channelID uint32) error
	RequestComment(session uint32) error
	SetAccessTokens(tokens []string) error

	SendChannelMessage(channelID uint32, html string) error
	SendUserMessage(session uint32, html string) error

	AddListening(channelIDs ...uint32) error
	RemoveListening(channelIDs ...uint32) error
}

// MuteHook is the local hardware or OS level microphone mute control. It may
// report changes spuriously while the audio route is changing.
type MuteHook interface {
	Activate(ctx context.Context, onChange func(muted bool)) error
	Cleanup()
	IsMuted() (bool, error)
	SetMuted(muted bool) error
}

// AudioEngine restarts the local audio pipeline after settings changes.
type AudioEngine interface {
	Restart(ctx context.Context) error
}

// AudioOutput applies per-user playback preferences.
type AudioOutput interface {
	SetUserVolume(session uint32, volume float32)
	SetUserMuted(session uint32, muted bool)
}
