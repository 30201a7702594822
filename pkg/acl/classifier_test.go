package acl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lrhodin/mumblesync/pkg/mumble"
)

func denyAll(inherited bool) mumble.ACLEntry {
	return mumble.ACLEntry{ApplyHere: true, UserID: -1, Group: "all", Deny: mumble.PermissionEnter, Inherited: inherited}
}

func grantGroup(group string, inherited bool) mumble.ACLEntry {
	return mumble.ACLEntry{ApplyHere: true, UserID: -1, Group: group, Grant: mumble.PermissionEnter, Inherited: inherited}
}

func TestIsPasswordProtected(t *testing.T) {
	tests := []struct {
		name    string
		entries []mumble.ACLEntry
		want    bool
	}{
		{"deny all and grant token", []mumble.ACLEntry{denyAll(false), grantGroup("#secret", false)}, true},
		{"deny all alone", []mumble.ACLEntry{denyAll(false)}, false},
		{"inherited deny", []mumble.ACLEntry{denyAll(true), grantGroup("#secret", false)}, false},
		{"inherited grant", []mumble.ACLEntry{denyAll(false), grantGroup("#secret", true)}, false},
		{"negated token", []mumble.ACLEntry{denyAll(false), grantGroup("#!secret", false)}, false},
		{"plain group grant", []mumble.ACLEntry{denyAll(false), grantGroup("admin", false)}, false},
		{"order does not matter", []mumble.ACLEntry{grantGroup("#pw", false), denyAll(false)}, true},
		{
			"user rule named like a token",
			[]mumble.ACLEntry{denyAll(false), {ApplyHere: true, UserID: 4, Group: "#secret", Grant: mumble.PermissionEnter}},
			false,
		},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsPasswordProtected(mumble.ACLSnapshot{ChannelID: 5, Entries: tt.entries})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifierReplacesWholesale(t *testing.T) {
	c := NewClassifier()
	assert.True(t, c.Update(mumble.ACLSnapshot{ChannelID: 3, Entries: []mumble.ACLEntry{denyAll(false), grantGroup("#a", false)}}))
	assert.True(t, c.IsProtected(3))

	assert.False(t, c.Update(mumble.ACLSnapshot{ChannelID: 3, Entries: []mumble.ACLEntry{grantGroup("#a", false)}}))
	assert.False(t, c.IsProtected(3))

	c.Mark(8)
	assert.ElementsMatch(t, []uint32{8}, c.Protected())
	c.Reset()
	assert.Empty(t, c.Protected())
}

func TestWithPassword(t *testing.T) {
	base := mumble.ACLSnapshot{
		ChannelID:   9,
		InheritACLs: true,
		Entries: []mumble.ACLEntry{
			{ApplyHere: true, ApplySubs: true, UserID: -1, Group: "admin", Grant: mumble.PermissionWrite},
			{ApplyHere: true, ApplySubs: true, UserID: -1, Group: "all", Grant: mumble.PermissionSpeak, Inherited: true},
			denyAll(false),
			grantGroup("#old", false),
		},
	}

	got, err := WithPassword(base, " hunter2 ")
	require.NoError(t, err)
	assert.True(t, IsPasswordProtected(got))
	require.Len(t, got.Entries, 3)
	assert.Equal(t, "admin", got.Entries[0].Group)
	assert.Equal(t, "#hunter2", got.Entries[2].Group)
	assert.False(t, got.Entries[2].ApplySubs)
	assert.Len(t, base.Entries, 4, "input must not be modified")

	assert.False(t, IsPasswordProtected(WithoutPassword(got)))

	_, err = WithPassword(base, "!nope")
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestClassifyDenial(t *testing.T) {
	joined := uint32(4)
	other := uint32(7)
	enter := mumble.PermissionDenied{Kind: mumble.DenialPermission, Permission: mumble.PermissionEnter, ChannelID: 4, HasChannel: true}
	speak := mumble.PermissionDenied{Kind: mumble.DenialPermission, Permission: mumble.PermissionSpeak, ChannelID: 4, HasChannel: true}

	assert.Equal(t, OutcomePasswordPrompt, ClassifyDenial(enter, &joined, false))
	assert.Equal(t, OutcomePasswordPrompt, ClassifyDenial(enter, &joined, true))
	assert.Equal(t, OutcomeNotice, ClassifyDenial(enter, &other, false))
	assert.Equal(t, OutcomeNotice, ClassifyDenial(enter, nil, false))
	assert.Equal(t, OutcomeSuppressed, ClassifyDenial(enter, nil, true))
	assert.Equal(t, OutcomeNotice, ClassifyDenial(speak, &joined, false))
	assert.Equal(t, OutcomeSuppressed, ClassifyDenial(speak, nil, true))
}
