package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"layeh.com/gumble/gumble"

	"github.com/lrhodin/mumblesync/pkg/mumble"
)

func TestSnapshotChannel(t *testing.T) {
	root := &gumble.Channel{ID: 0, Name: "Root", Children: gumble.Channels{}, Users: gumble.Users{}}
	afk := &gumble.Channel{ID: 4, Name: "AFK", Position: 10, Parent: root, Users: gumble.Users{}}
	lobby := &gumble.Channel{ID: 1, Name: "Lobby", Parent: root, Temporary: true, Users: gumble.Users{}}
	root.Children[afk.ID] = afk
	root.Children[lobby.ID] = lobby
	lobby.Users[9] = &gumble.User{Session: 9, Name: "zed", Channel: lobby, SelfMuted: true}
	lobby.Users[2] = &gumble.User{Session: 2, UserID: 14, Name: "Amy", Channel: lobby, Deafened: true}

	snapshot := snapshotChannel(root, true)
	require.Len(t, snapshot.Children, 2)
	assert.Equal(t, "Lobby", snapshot.Children[0].Name)
	assert.True(t, snapshot.Children[0].Temporary)
	assert.Equal(t, "AFK", snapshot.Children[1].Name)
	assert.Equal(t, uint32(0), snapshot.Children[1].ParentID)

	users := snapshot.Children[0].Users
	require.Len(t, users, 2)
	assert.Equal(t, mumble.UserSnapshot{
		Session:   2,
		UserID:    14,
		Name:      "Amy",
		ChannelID: 1,
		Audio:     mumble.AudioState{Authenticated: true, ServerDeafened: true},
	}, users[0])
	assert.Equal(t, int64(-1), users[1].UserID)
	assert.True(t, users[1].Audio.SelfMuted)

	flat := snapshotChannel(lobby, false)
	assert.Empty(t, flat.Users)
	assert.Equal(t, uint32(1), flat.ID)
}

func TestFromGumbleACL(t *testing.T) {
	ch := &gumble.Channel{ID: 3}
	secret := &gumble.ACLGroup{
		Name:     "#hunter2",
		UsersAdd: map[uint32]*gumble.ACLUser{12: {UserID: 12, Name: "carol"}, 7: {UserID: 7}},
	}
	snapshot, names := fromGumbleACL(&gumble.ACL{
		Channel:  ch,
		Inherits: true,
		Groups:   []*gumble.ACLGroup{secret},
		Rules: []*gumble.ACLRule{
			{AppliesCurrent: true, AppliesChildren: true, Group: &gumble.ACLGroup{Name: "all"}, Denied: gumble.PermissionEnter},
			{AppliesCurrent: true, Group: secret, Granted: gumble.PermissionEnter},
			{AppliesCurrent: true, User: &gumble.ACLUser{UserID: 12, Name: "carol"}, Granted: gumble.PermissionWrite},
		},
	})

	assert.Equal(t, uint32(3), snapshot.ChannelID)
	assert.True(t, snapshot.InheritACLs)
	require.Len(t, snapshot.Entries, 3)
	assert.Equal(t, "all", snapshot.Entries[0].Group)
	assert.Equal(t, mumble.PermissionEnter, snapshot.Entries[0].Deny)
	assert.True(t, snapshot.Entries[0].ApplySubs)
	assert.Equal(t, "#hunter2", snapshot.Entries[1].Group)
	assert.Equal(t, 12, snapshot.Entries[2].UserID)
	assert.Equal(t, mumble.PermissionWrite, snapshot.Entries[2].Grant)
	require.Len(t, snapshot.Groups, 1)
	assert.Equal(t, []uint32{7, 12}, snapshot.Groups[0].Members)
	assert.Empty(t, snapshot.Groups[0].ExcludedMembers)
	assert.Equal(t, map[uint32]string{12: "carol"}, names)
}

func TestToGumbleACL(t *testing.T) {
	ch := &gumble.Channel{ID: 3}
	acl := toGumbleACL(ch, mumble.ACLSnapshot{
		ChannelID: 3,
		Groups:    []mumble.GroupEntry{{Name: "admins", Members: []uint32{4}}},
		Entries: []mumble.ACLEntry{
			{ApplyHere: true, UserID: -1, Group: "admins", Grant: mumble.PermissionWrite},
			{ApplyHere: true, UserID: -1, Group: "#pw", Grant: mumble.PermissionEnter},
			{ApplyHere: true, ApplySubs: true, UserID: 8, Deny: mumble.PermissionSpeak},
		},
	})

	assert.Same(t, ch, acl.Channel)
	assert.False(t, acl.Inherits)
	require.Len(t, acl.Groups, 1)
	require.Contains(t, acl.Groups[0].UsersAdd, uint32(4))
	require.Len(t, acl.Rules, 3)
	assert.Same(t, acl.Groups[0], acl.Rules[0].Group)
	assert.Equal(t, "#pw", acl.Rules[1].Group.Name)
	assert.Nil(t, acl.Rules[1].User)
	require.NotNil(t, acl.Rules[2].User)
	assert.Equal(t, uint32(8), acl.Rules[2].User.UserID)
	assert.Equal(t, gumble.PermissionSpeak, acl.Rules[2].Denied)
	assert.True(t, acl.Rules[2].AppliesChildren)
}
