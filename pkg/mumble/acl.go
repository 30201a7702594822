// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package mumble

import "slices"

// GroupAll is the built-in group every user belongs to.
const GroupAll = "all"

// RuleState is the per-permission value of a single ACL rule.
type RuleState int

const (
	RuleUnset RuleState = iota
	RuleGranted
	RuleDenied
)

// ACLEntry mirrors one remote permission rule. A rule targets either a
// registered user (UserID >= 0) or a group (UserID < 0).
type ACLEntry struct {
	ApplyHere bool
	ApplySubs bool
	// Inherited rules come from a parent channel and are read-only here.
	Inherited bool
	UserID    int
	Group     string
	Grant     Permission
	Deny      Permission
}

// NewACLEntry returns the rule a fresh editor row starts with.
func NewACLEntry() ACLEntry {
	return ACLEntry{ApplyHere: true, ApplySubs: true, UserID: -1, Group: GroupAll}
}

func (e ACLEntry) IsGroupBased() bool {
	return e.UserID < 0
}

// State returns whether perm is granted, denied or left alone by the rule.
func (e ACLEntry) State(perm Permission) RuleState {
	switch {
	case e.Grant.Has(perm):
		return RuleGranted
	case e.Deny.Has(perm):
		return RuleDenied
	default:
		return RuleUnset
	}
}

// WithPermission returns a copy of the rule with perm set to state. Grant
// and deny stay mutually exclusive for each bit.
func (e ACLEntry) WithPermission(perm Permission, state RuleState) ACLEntry {
	e.Grant &^= perm
	e.Deny &^= perm
	switch state {
	case RuleGranted:
		e.Grant |= perm
	case RuleDenied:
		e.Deny |= perm
	}
	return e
}

// GroupEntry mirrors a channel group definition.
type GroupEntry struct {
	Name             string
	Inherited        bool
	Inherit          bool
	Inheritable      bool
	Members          []uint32
	ExcludedMembers  []uint32
	InheritedMembers []uint32
}

// ACLSnapshot is a complete access control listing for one channel. Snapshots
// are never deltas.
type ACLSnapshot struct {
	ChannelID   uint32
	InheritACLs bool
	Entries     []ACLEntry
	Groups      []GroupEntry
}

// Clone returns a deep copy so editors can modify the result freely.
func (s ACLSnapshot) Clone() ACLSnapshot {
	out := ACLSnapshot{
		ChannelID:   s.ChannelID,
		InheritACLs: s.InheritACLs,
		Entries:     slices.Clone(s.Entries),
		Groups:      make([]GroupEntry, len(s.Groups)),
	}
	for i, g := range s.Groups {
		g.Members = slices.Clone(g.Members)
		g.ExcludedMembers = slices.Clone(g.ExcludedMembers)
		g.InheritedMembers = slices.Clone(g.InheritedMembers)
		out.Groups[i] = g
	}
	return out
}

// Editable drops inherited rules and groups, which the server rebuilds from
// the parents on its own.
func (s ACLSnapshot) Editable() ACLSnapshot {
	out := s.Clone()
	out.Entries = slices.DeleteFunc(out.Entries, func(e ACLEntry) bool { return e.Inherited })
	out.Groups = slices.DeleteFunc(out.Groups, func(g GroupEntry) bool { return g.Inherited })
	return out
}
