package main

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lrhodin/mumblesync/pkg/connector"
)

func TestServerList_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "servers.json")
	list, err := loadServerList(path)
	require.NoError(t, err)
	assert.Empty(t, list.Servers)

	list.Put(&FavouriteServer{Name: "work", Address: "voice.work.example:64738"})
	list.Put(&FavouriteServer{Name: "Home", Address: "home.example", Username: "me"})
	list.Put(&FavouriteServer{Name: "work", Address: "voice2.work.example"})
	require.NoError(t, list.Save())

	loaded, err := loadServerList(path)
	require.NoError(t, err)
	require.Len(t, loaded.Servers, 2)
	assert.Equal(t, "Home", loaded.Servers[0].Name)
	work, ok := loaded.Get("WORK")
	require.True(t, ok)
	assert.Equal(t, "voice2.work.example", work.Address)

	assert.True(t, loaded.Remove("home"))
	assert.False(t, loaded.Remove("home"))
	assert.Len(t, loaded.Servers, 1)
}

func TestApplyServerTarget(t *testing.T) {
	servers := &ServerList{}
	servers.Put(&FavouriteServer{Name: "club", Address: "club.example", Username: "dj", Password: "secret"})

	cfg, err := connector.ParseConfig([]byte(connector.ExampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "club", applyServerTarget(cfg, servers, "club"))
	assert.Equal(t, "club.example:64738", cfg.Server.Address)
	assert.Equal(t, "dj", cfg.Server.Username)
	assert.Equal(t, "secret", cfg.Server.Password)

	assert.Empty(t, applyServerTarget(cfg, servers, "other.example:1234"))
	assert.Equal(t, "other.example:1234", cfg.Server.Address)
}

func TestRecentList_AddAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recents.json")
	list, err := loadRecentList(path)
	require.NoError(t, err)

	list.Add("voice.example:64738", "me", "")
	list.Add("club.example:64738", "dj", "Club")
	list.Add("VOICE.example:64738", "me", "Voice")
	require.NoError(t, list.Save())

	loaded, err := loadRecentList(path)
	require.NoError(t, err)
	require.Len(t, loaded.Servers, 2)
	assert.Equal(t, "Voice", loaded.Servers[0].DisplayName)
	assert.Equal(t, "Club", loaded.Servers[1].DisplayName)
	name, ok := loaded.DisplayName("club.example:64738")
	assert.True(t, ok)
	assert.Equal(t, "Club", name)
	_, ok = loaded.DisplayName("unknown.example:64738")
	assert.False(t, ok)

	for i := range 15 {
		loaded.Add(fmt.Sprintf("host%d.example:64738", i), "", "")
	}
	assert.Len(t, loaded.Servers, maxRecentServers)
	assert.Equal(t, "host14.example", loaded.Servers[0].DisplayName)
}
