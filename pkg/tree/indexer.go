// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package tree

import (
	"maps"

	"github.com/rs/zerolog"

	"github.com/lrhodin/mumblesync/pkg/mumble"
)

// Preference is a locally remembered per-user playback setting.
type Preference struct {
	Volume     float32
	LocalMuted bool
}

// DefaultPreference is what users without a stored preference get.
var DefaultPreference = Preference{Volume: 1.0}

// PreferenceApplier looks up and applies the stored preference for a user.
// It is called once per user on every rebuild.
type PreferenceApplier interface {
	ApplyPreference(user mumble.UserSnapshot) Preference
}

// ChannelAnnotator supplies channel state that is not part of the tree
// snapshot itself.
type ChannelAnnotator interface {
	ChannelAccess(channelID uint32) Access
	ChannelListeners(channelID uint32) (self bool, count int)
}

type Options struct {
	SelfSession uint32
	HasSelf     bool
	Mode        ViewMode
	Preferences PreferenceApplier
	Annotator   ChannelAnnotator
}

// Projection is the output of one rebuild. Its index maps are only usable
// while its generation matches the indexer's.
type Projection struct {
	Generation uint64
	Items      []*Item

	channels map[uint32]int
	users    map[uint32]int
}

// ChannelIndexMap returns a copy of the channel ID to position map.
func (p *Projection) ChannelIndexMap() map[uint32]int {
	return maps.Clone(p.channels)
}

// UserIndexMap returns a copy of the session to position map.
func (p *Projection) UserIndexMap() map[uint32]int {
	return maps.Clone(p.users)
}

// Snapshot returns value copies of every item, safe to hand to readers.
func (p *Projection) Snapshot() []Item {
	out := make([]Item, len(p.Items))
	for i, item := range p.Items {
		out[i] = *item
	}
	return out
}

// Indexer owns the flattened projection of the channel tree. It is not safe
// for concurrent use; the engine calls it from its loop only.
type Indexer struct {
	log        zerolog.Logger
	generation uint64
	current    *Projection
}

func NewIndexer(log zerolog.Logger) *Indexer {
	ix := &Indexer{log: log.With().Str("component", "tree_indexer").Logger()}
	ix.current = ix.empty()
	return ix
}

func (ix *Indexer) empty() *Projection {
	return &Projection{
		Generation: ix.generation,
		channels:   map[uint32]int{},
		users:      map[uint32]int{},
	}
}

// Generation returns the current tree generation.
func (ix *Indexer) Generation() uint64 {
	return ix.generation
}

// Current returns the latest projection, which may be stale.
func (ix *Indexer) Current() *Projection {
	return ix.current
}

// Invalidate marks the current projection stale after a structural change.
// Index lookups fail until the next Rebuild.
func (ix *Indexer) Invalidate() {
	ix.generation++
}

// Valid reports whether the current projection's maps can be used.
func (ix *Indexer) Valid() bool {
	return ix.current.Generation == ix.generation
}

// Rebuild walks the tree depth-first, pre-order and replaces the projection.
// A nil root produces an empty projection.
func (ix *Indexer) Rebuild(root *mumble.ChannelSnapshot, opts Options) *Projection {
	ix.generation++
	proj := ix.empty()
	if root == nil {
		ix.current = proj
		return proj
	}

	b := builder{proj: proj, opts: opts}
	switch opts.Mode {
	case ViewChannel:
		var own *mumble.ChannelSnapshot
		if opts.HasSelf {
			if self, ok := root.FindUser(opts.SelfSession); ok {
				own = root.Find(self.ChannelID)
			}
		}
		if own == nil {
			own = root
		}
		b.channel(own, 0, false)
	default:
		b.channel(root, 0, true)
	}

	ix.current = proj
	ix.log.Debug().
		Uint64("generation", proj.Generation).
		Int("channels", len(proj.channels)).
		Int("users", len(proj.users)).
		Msg("Rebuilt channel tree")
	return proj
}

type builder struct {
	proj *Projection
	opts Options
}

func (b *builder) add(item *Item) int {
	b.proj.Items = append(b.proj.Items, item)
	return len(b.proj.Items) - 1
}

func (b *builder) channel(ch *mumble.ChannelSnapshot, depth int, recurse bool) {
	item := &Item{
		ID:        channelItemID(ch.ID),
		Title:     ch.Name,
		Subtitle:  Summary(ch.Description),
		Kind:      KindChannel,
		Depth:     depth,
		ChannelID: ch.ID,
		UserCount: len(ch.Users),
	}
	if b.opts.Annotator != nil {
		item.Access = b.opts.Annotator.ChannelAccess(ch.ID)
		item.ListenedBySelf, item.Listeners = b.opts.Annotator.ChannelListeners(ch.ID)
	}
	b.proj.channels[ch.ID] = b.add(item)

	for _, user := range ch.Users {
		if b.opts.HasSelf && user.Session == b.opts.SelfSession {
			item.ContainsSelf = true
		}
		b.user(user, depth+1)
	}
	if !recurse {
		return
	}
	for _, child := range ch.Children {
		b.channel(child, depth+1, true)
	}
}

func (b *builder) user(user mumble.UserSnapshot, depth int) {
	pref := DefaultPreference
	if b.opts.Preferences != nil {
		pref = b.opts.Preferences.ApplyPreference(user)
	}
	audio := user.Audio
	audio.LocalMuted = pref.LocalMuted
	item := &Item{
		ID:        userItemID(user.Session),
		Title:     user.Name,
		Subtitle:  Summary(user.Comment),
		Kind:      KindUser,
		Depth:     depth,
		ChannelID: user.ChannelID,
		Session:   user.Session,
		TalkState: effectiveTalkState(audio, user.TalkState),
		Audio:     audio,
		Volume:    pref.Volume,
		IsSelf:    b.opts.HasSelf && user.Session == b.opts.SelfSession,
	}
	b.proj.users[user.Session] = b.add(item)
}

// ChannelIndex returns the position of a channel item. It fails closed when
// the projection is stale.
func (ix *Indexer) ChannelIndex(channelID uint32) (int, bool) {
	if !ix.Valid() {
		return 0, false
	}
	idx, ok := ix.current.channels[channelID]
	return idx, ok
}

// UserIndex returns the position of a user item. It fails closed when the
// projection is stale.
func (ix *Indexer) UserIndex(session uint32) (int, bool) {
	if !ix.Valid() {
		return 0, false
	}
	idx, ok := ix.current.users[session]
	return idx, ok
}

// User returns the user item for a session from a valid projection.
func (ix *Indexer) User(session uint32) (*Item, bool) {
	idx, ok := ix.UserIndex(session)
	if !ok {
		return nil, false
	}
	return ix.current.Items[idx], true
}

// Channel returns the channel item for an ID from a valid projection.
func (ix *Indexer) Channel(channelID uint32) (*Item, bool) {
	idx, ok := ix.ChannelIndex(channelID)
	if !ok {
		return nil, false
	}
	return ix.current.Items[idx], true
}

// UpdateTalkState changes a user's talk state in place.
func (ix *Indexer) UpdateTalkState(session uint32, state mumble.TalkState) bool {
	item, ok := ix.User(session)
	if !ok {
		return false
	}
	item.TalkState = effectiveTalkState(item.Audio, state)
	return true
}

// UpdateAudio replaces a user's audio flags in place, keeping the locally
// owned mute flag.
func (ix *Indexer) UpdateAudio(session uint32, audio mumble.AudioState) bool {
	item, ok := ix.User(session)
	if !ok {
		return false
	}
	audio.LocalMuted = item.Audio.LocalMuted
	item.Audio = audio
	item.TalkState = effectiveTalkState(audio, item.TalkState)
	return true
}

// UpdatePreference reflects a changed local preference in place.
func (ix *Indexer) UpdatePreference(session uint32, pref Preference) bool {
	item, ok := ix.User(session)
	if !ok {
		return false
	}
	item.Volume = pref.Volume
	item.Audio.LocalMuted = pref.LocalMuted
	return true
}

// UpdateChannelAccess changes the resolved access of a channel in place.
func (ix *Indexer) UpdateChannelAccess(channelID uint32, access Access) bool {
	item, ok := ix.Channel(channelID)
	if !ok {
		return false
	}
	item.Access = access
	return true
}
