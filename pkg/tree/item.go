// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package tree

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lrhodin/mumblesync/pkg/mumble"
)

type Kind int

const (
	KindChannel Kind = iota
	KindUser
)

func (k Kind) String() string {
	if k == KindUser {
		return "user"
	}
	return "channel"
}

// Access is the resolved enter permission of a channel as far as we know it.
type Access int

const (
	AccessUnknown Access = iota
	AccessAllowed
	AccessRestricted
	AccessPassword
)

// ViewMode selects which part of the tree is projected.
type ViewMode int

const (
	// ViewServer projects the whole tree.
	ViewServer ViewMode = iota
	// ViewChannel projects only the channel the connected user is in.
	ViewChannel
)

func (m ViewMode) String() string {
	if m == ViewChannel {
		return "channel"
	}
	return "server"
}

// ParseViewMode is the inverse of ViewMode.String. The empty string is the
// server view.
func ParseViewMode(s string) (ViewMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "server":
		return ViewServer, true
	case "channel":
		return ViewChannel, true
	}
	return ViewServer, false
}

// Item is one row of the flattened tree. Structural fields are fixed at
// rebuild time; the fields after the marker are leaf state that may be
// updated in place between rebuilds.
type Item struct {
	ID        string
	Title     string
	Subtitle  string
	Kind      Kind
	Depth     int
	ChannelID uint32
	// Session is set for user items only.
	Session   uint32

	// Leaf state.
	UserCount      int
	TalkState      mumble.TalkState
	Audio          mumble.AudioState
	Volume         float32
	IsSelf         bool
	ContainsSelf   bool
	Access         Access
	ListenedBySelf bool
	Listeners      int
}

func channelItemID(id uint32) string {
	return fmt.Sprintf("channel:%d", id)
}

func userItemID(session uint32) string {
	return fmt.Sprintf("user:%d", session)
}

// effectiveTalkState forces passive talk state for users that cannot be heard.
func effectiveTalkState(audio mumble.AudioState, state mumble.TalkState) mumble.TalkState {
	if audio.SilencesTalk() || !state.IsTalking() {
		return mumble.TalkPassive
	}
	return state
}

var tagRegex = regexp.MustCompile(`<[^>]*>`)

// Summary returns the first non-empty line of an HTML or text blurb with
// tags removed.
func Summary(html string) string {
	text := tagRegex.ReplaceAllString(strings.ReplaceAll(html, "<br", "\n<br"), "")
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
