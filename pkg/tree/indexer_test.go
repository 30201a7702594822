package tree

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lrhodin/mumblesync/pkg/mumble"
)

func sampleTree() *mumble.ChannelSnapshot {
	return &mumble.ChannelSnapshot{
		ID:   0,
		Name: "Root",
		Users: []mumble.UserSnapshot{
			{Session: 1, UserID: -1, Name: "alice", ChannelID: 0},
		},
		Children: []*mumble.ChannelSnapshot{
			{
				ID: 1, ParentID: 0, Name: "Lobby", Description: "<b>Welcome</b><br/>second line",
				Users: []mumble.UserSnapshot{
					{Session: 2, UserID: 7, Name: "bob", ChannelID: 1},
					{Session: 3, UserID: -1, Name: "carol", ChannelID: 1},
				},
				Children: []*mumble.ChannelSnapshot{
					{ID: 3, ParentID: 1, Name: "Nested"},
				},
			},
			{ID: 2, ParentID: 0, Name: "AFK"},
		},
	}
}

type countingPrefs struct {
	calls int
	prefs map[string]Preference
}

func (c *countingPrefs) ApplyPreference(user mumble.UserSnapshot) Preference {
	c.calls++
	if p, ok := c.prefs[user.Name]; ok {
		return p
	}
	return DefaultPreference
}

func titles(items []Item) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Title
	}
	return out
}

func TestRebuildPreOrder(t *testing.T) {
	ix := NewIndexer(zerolog.Nop())
	proj := ix.Rebuild(sampleTree(), Options{SelfSession: 2, HasSelf: true})

	items := proj.Snapshot()
	assert.Equal(t, []string{"Root", "alice", "Lobby", "bob", "carol", "Nested", "AFK"}, titles(items))
	assert.Equal(t, []int{0, 1, 1, 2, 2, 2, 1}, func() []int {
		var depths []int
		for _, item := range items {
			depths = append(depths, item.Depth)
		}
		return depths
	}())
	assert.Equal(t, "Welcome", items[2].Subtitle)
	assert.True(t, items[2].ContainsSelf)
	assert.False(t, items[0].ContainsSelf)
	assert.True(t, items[3].IsSelf)
	assert.Equal(t, 2, items[2].UserCount)
}

func TestRebuildIsIdempotent(t *testing.T) {
	ix := NewIndexer(zerolog.Nop())
	first := ix.Rebuild(sampleTree(), Options{})
	firstItems := first.Snapshot()
	second := ix.Rebuild(sampleTree(), Options{})

	assert.Equal(t, firstItems, second.Snapshot())
	assert.Equal(t, first.ChannelIndexMap(), second.ChannelIndexMap())
	assert.Equal(t, first.UserIndexMap(), second.UserIndexMap())
	assert.NotEqual(t, first.Generation, second.Generation)
}

func TestIndexMapsMatchSnapshotAfterStructuralChange(t *testing.T) {
	ix := NewIndexer(zerolog.Nop())
	root := sampleTree()
	ix.Rebuild(root, Options{})

	// carol leaves, a channel is removed and dave joins AFK.
	lobby := root.Children[0]
	lobby.Users = lobby.Users[:1]
	lobby.Children = nil
	root.Children[1].Users = []mumble.UserSnapshot{{Session: 9, Name: "dave", ChannelID: 2}}
	ix.Invalidate()

	proj := ix.Rebuild(root, Options{})
	assert.Equal(t, map[uint32]int{1: 1, 2: 3, 9: 5}, proj.UserIndexMap())
	assert.Equal(t, map[uint32]int{0: 0, 1: 2, 2: 4}, proj.ChannelIndexMap())

	for session, idx := range proj.UserIndexMap() {
		assert.Equal(t, session, proj.Items[idx].Session)
		assert.Equal(t, KindUser, proj.Items[idx].Kind)
	}
	_, ok := ix.UserIndex(3)
	assert.False(t, ok)
}

func TestStaleLookupsFailClosed(t *testing.T) {
	ix := NewIndexer(zerolog.Nop())
	ix.Rebuild(sampleTree(), Options{})

	idx, ok := ix.UserIndex(2)
	require.True(t, ok)
	assert.Equal(t, 3, idx)

	ix.Invalidate()
	_, ok = ix.UserIndex(2)
	assert.False(t, ok)
	_, ok = ix.ChannelIndex(1)
	assert.False(t, ok)
	assert.False(t, ix.UpdateTalkState(2, mumble.TalkTalking))

	ix.Rebuild(sampleTree(), Options{})
	_, ok = ix.UserIndex(2)
	assert.True(t, ok)
}

func TestNilRootProducesEmptyProjection(t *testing.T) {
	ix := NewIndexer(zerolog.Nop())
	ix.Rebuild(sampleTree(), Options{})

	proj := ix.Rebuild(nil, Options{})
	assert.Empty(t, proj.Items)
	assert.Empty(t, proj.UserIndexMap())
	_, ok := ix.UserIndex(1)
	assert.False(t, ok)
}

func TestPreferencesReappliedOnEveryRebuild(t *testing.T) {
	prefs := &countingPrefs{prefs: map[string]Preference{
		"bob": {Volume: 0.5, LocalMuted: true},
	}}
	ix := NewIndexer(zerolog.Nop())
	ix.Rebuild(sampleTree(), Options{Preferences: prefs})
	ix.Rebuild(sampleTree(), Options{Preferences: prefs})
	assert.Equal(t, 6, prefs.calls)

	bob, ok := ix.User(2)
	require.True(t, ok)
	assert.True(t, bob.Audio.LocalMuted)
	assert.InDelta(t, 0.5, bob.Volume, 0.0001)

	carol, ok := ix.User(3)
	require.True(t, ok)
	assert.False(t, carol.Audio.LocalMuted)
	assert.InDelta(t, 1.0, carol.Volume, 0.0001)
}

func TestTalkStateForcedPassiveWhenSilenced(t *testing.T) {
	ix := NewIndexer(zerolog.Nop())
	ix.Rebuild(sampleTree(), Options{})

	require.True(t, ix.UpdateTalkState(2, mumble.TalkShouting))
	bob, _ := ix.User(2)
	assert.Equal(t, mumble.TalkShouting, bob.TalkState)

	require.True(t, ix.UpdateAudio(2, mumble.AudioState{SelfMuted: true}))
	assert.Equal(t, mumble.TalkPassive, bob.TalkState)

	require.True(t, ix.UpdateTalkState(2, mumble.TalkTalking))
	assert.Equal(t, mumble.TalkPassive, bob.TalkState)
}

func TestUpdateAudioKeepsLocalMute(t *testing.T) {
	prefs := &countingPrefs{prefs: map[string]Preference{"bob": {Volume: 1, LocalMuted: true}}}
	ix := NewIndexer(zerolog.Nop())
	ix.Rebuild(sampleTree(), Options{Preferences: prefs})

	require.True(t, ix.UpdateAudio(2, mumble.AudioState{ServerMuted: true}))
	bob, _ := ix.User(2)
	assert.True(t, bob.Audio.LocalMuted)
	assert.True(t, bob.Audio.ServerMuted)
}

type staticAnnotator struct{}

func (staticAnnotator) ChannelAccess(id uint32) Access {
	if id == 2 {
		return AccessPassword
	}
	return AccessAllowed
}

func (staticAnnotator) ChannelListeners(id uint32) (bool, int) {
	return id == 1, int(id)
}

func TestChannelAnnotations(t *testing.T) {
	ix := NewIndexer(zerolog.Nop())
	ix.Rebuild(sampleTree(), Options{Annotator: staticAnnotator{}})

	afk, ok := ix.Channel(2)
	require.True(t, ok)
	assert.Equal(t, AccessPassword, afk.Access)
	assert.Equal(t, 2, afk.Listeners)

	lobby, _ := ix.Channel(1)
	assert.True(t, lobby.ListenedBySelf)
	assert.Equal(t, AccessAllowed, lobby.Access)
}

func TestChannelViewShowsOnlyOwnChannel(t *testing.T) {
	ix := NewIndexer(zerolog.Nop())
	proj := ix.Rebuild(sampleTree(), Options{SelfSession: 3, HasSelf: true, Mode: ViewChannel})

	assert.Equal(t, []string{"Lobby", "bob", "carol"}, titles(proj.Snapshot()))
	assert.Equal(t, 0, proj.Items[0].Depth)

	proj = ix.Rebuild(sampleTree(), Options{Mode: ViewChannel})
	assert.Equal(t, []string{"Root", "alice"}, titles(proj.Snapshot()))
}
