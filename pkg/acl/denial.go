// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package acl

import (
	"github.com/lrhodin/mumblesync/pkg/mumble"
)

// Outcome is how a permission denial should surface.
type Outcome int

const (
	// OutcomeNotice shows a passive notice.
	OutcomeNotice Outcome = iota
	// OutcomePasswordPrompt asks the user for the channel password.
	OutcomePasswordPrompt
	// OutcomeSuppressed drops the denial silently.
	OutcomeSuppressed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePasswordPrompt:
		return "password_prompt"
	case OutcomeSuppressed:
		return "suppressed"
	default:
		return "notice"
	}
}

// ClassifyDenial decides how a denial is presented. userJoin is the channel
// the user explicitly asked to join recently, if any. Denials caused by our
// own permission scans are suppressed.
func ClassifyDenial(d mumble.PermissionDenied, userJoin *uint32, scanning bool) Outcome {
	if d.Kind == mumble.DenialPermission && d.Permission.Has(mumble.PermissionEnter) &&
		d.HasChannel && userJoin != nil && *userJoin == d.ChannelID {
		return OutcomePasswordPrompt
	}
	if scanning {
		return OutcomeSuppressed
	}
	return OutcomeNotice
}
