// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package acl

import (
	"errors"
	"slices"
	"strings"

	"github.com/lrhodin/mumblesync/pkg/mumble"
)

var ErrInvalidPassword = errors.New("password must not be empty or start with '!'")

// WithPassword returns an editable copy of the ACL that protects the channel
// with password. Earlier direct password rules are replaced.
func WithPassword(snapshot mumble.ACLSnapshot, password string) (mumble.ACLSnapshot, error) {
	password = strings.TrimSpace(password)
	if password == "" || strings.HasPrefix(password, "!") {
		return mumble.ACLSnapshot{}, ErrInvalidPassword
	}
	out := WithoutPassword(snapshot)
	out.Entries = append(out.Entries,
		mumble.ACLEntry{
			ApplyHere: true,
			UserID:    -1,
			Group:     mumble.GroupAll,
			Deny:      mumble.PermissionEnter,
		},
		mumble.ACLEntry{
			ApplyHere: true,
			UserID:    -1,
			Group:     TokenGroupPrefix + password,
			Grant:     mumble.PermissionEnter,
		},
	)
	return out, nil
}

// WithoutPassword returns an editable copy of the ACL without direct
// password rules.
func WithoutPassword(snapshot mumble.ACLSnapshot) mumble.ACLSnapshot {
	out := snapshot.Editable()
	out.Entries = slices.DeleteFunc(out.Entries, func(e mumble.ACLEntry) bool {
		return isDenyAllEnter(e) || (!e.Inherited && e.IsGroupBased() && IsTokenGroup(e.Group))
	})
	return out
}
