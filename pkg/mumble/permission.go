// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package mumble

import "strings"

// Permission is a bitmask of channel permissions as carried by the protocol.
type Permission uint32

const (
	PermissionNone             Permission = 0
	PermissionWrite            Permission = 0x1
	PermissionTraverse         Permission = 0x2
	PermissionEnter            Permission = 0x4
	PermissionSpeak            Permission = 0x8
	PermissionMuteDeafen       Permission = 0x10
	PermissionMove             Permission = 0x20
	PermissionMakeChannel      Permission = 0x40
	PermissionLinkChannel      Permission = 0x80
	PermissionWhisper          Permission = 0x100
	PermissionTextMessage      Permission = 0x200
	PermissionMakeTempChannel  Permission = 0x400
	PermissionListen           Permission = 0x800
	PermissionKick             Permission = 0x10000
	PermissionBan              Permission = 0x20000
	PermissionRegister         Permission = 0x40000
	PermissionSelfRegister     Permission = 0x80000
	PermissionResetUserContent Permission = 0x100000
)

// ChannelPermissions lists the permissions that can be edited on a channel
// ACL, in display order. Kick and later only apply to the root channel.
var ChannelPermissions = []Permission{
	PermissionWrite, PermissionTraverse, PermissionEnter, PermissionSpeak,
	PermissionMuteDeafen, PermissionMove, PermissionMakeChannel, PermissionLinkChannel,
	PermissionWhisper, PermissionTextMessage, PermissionMakeTempChannel, PermissionListen,
	PermissionKick, PermissionBan, PermissionRegister, PermissionSelfRegister,
	PermissionResetUserContent,
}

var permissionNames = map[Permission]string{
	PermissionWrite:            "write",
	PermissionTraverse:         "traverse",
	PermissionEnter:            "enter",
	PermissionSpeak:            "speak",
	PermissionMuteDeafen:       "mute_deafen",
	PermissionMove:             "move",
	PermissionMakeChannel:      "make_channel",
	PermissionLinkChannel:      "link_channel",
	PermissionWhisper:          "whisper",
	PermissionTextMessage:      "text_message",
	PermissionMakeTempChannel:  "make_temp_channel",
	PermissionListen:           "listen",
	PermissionKick:             "kick",
	PermissionBan:              "ban",
	PermissionRegister:         "register",
	PermissionSelfRegister:     "self_register",
	PermissionResetUserContent: "reset_user_content",
}

// Has reports whether every bit of other is set in p.
func (p Permission) Has(other Permission) bool {
	return other != 0 && p&other == other
}

// IsRootOnly reports whether the permission is only meaningful on the root channel.
func (p Permission) IsRootOnly() bool {
	return p >= PermissionKick
}

func (p Permission) String() string {
	if p == PermissionNone {
		return "none"
	}
	var names []string
	for _, perm := range ChannelPermissions {
		if p.Has(perm) {
			names = append(names, permissionNames[perm])
		}
	}
	if len(names) == 0 {
		return "unknown"
	}
	return strings.Join(names, "|")
}
