package connector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lrhodin/mumblesync/pkg/tree"
)

func openTestStore(t *testing.T) *PrefsStore {
	t.Helper()
	store, err := OpenPrefsStore(context.Background(), filepath.Join(t.TempDir(), "prefs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPrefsStore_UserPreferences(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, found, err := store.GetUserPreference(ctx, "a.example", "alice")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.PutUserPreference(ctx, "a.example", "alice", tree.Preference{Volume: 0.5}))
	require.NoError(t, store.PutUserPreference(ctx, "a.example", "alice", tree.Preference{Volume: 1.25, LocalMuted: true}))
	require.NoError(t, store.PutUserPreference(ctx, "b.example", "alice", tree.Preference{Volume: 2}))

	pref, found, err := store.GetUserPreference(ctx, "a.example", "alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, tree.Preference{Volume: 1.25, LocalMuted: true}, pref)

	all, err := store.AllUserPreferences(ctx, "a.example")
	require.NoError(t, err)
	assert.Equal(t, map[string]tree.Preference{"alice": {Volume: 1.25, LocalMuted: true}}, all)

	rows, err := store.ListUserPreferences(ctx, "")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	require.NoError(t, store.DeleteUserPreference(ctx, "a.example", "alice"))
	all, err = store.AllUserPreferences(ctx, "a.example")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPrefsStore_AccessTokens(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	require.NoError(t, store.AddAccessToken(ctx, "a.example", "first"))
	require.NoError(t, store.AddAccessToken(ctx, "a.example", "first"))
	require.NoError(t, store.AddAccessToken(ctx, "b.example", "other"))

	tokens, err := store.AccessTokens(ctx, "a.example")
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, tokens)
}

func TestPrefsStore_ListeningChannels(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	require.NoError(t, store.SetListeningChannels(ctx, "a.example", []uint32{7, 3, 7}))
	ids, err := store.ListeningChannels(ctx, "a.example")
	require.NoError(t, err)
	assert.Equal(t, []uint32{3, 7}, ids)

	require.NoError(t, store.SetListeningChannels(ctx, "a.example", nil))
	ids, err = store.ListeningChannels(ctx, "a.example")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPrefsStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prefs.db")
	store, err := OpenPrefsStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.AddAccessToken(ctx, "a.example", "kept"))
	require.NoError(t, store.Close())

	store, err = OpenPrefsStore(ctx, path)
	require.NoError(t, err)
	defer store.Close()
	tokens, err := store.AccessTokens(ctx, "a.example")
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, tokens)
}
