package connector

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lrhodin/mumblesync/pkg/transmit"
	"github.com/lrhodin/mumblesync/pkg/tree"
)

func TestParseConfig_Example(t *testing.T) {
	cfg, err := ParseConfig([]byte(ExampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "localhost:64738", cfg.Server.Address)
	assert.Equal(t, "localhost", cfg.Server.Host())
	assert.Equal(t, 5*time.Second, cfg.Server.ReconnectDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.Audio.Reconciler.EchoWindow)
	assert.Equal(t, 0.9, cfg.Messaging.Pipeline.DecayRate)
	assert.Equal(t, transmit.CompatibleBudget, cfg.Messaging.ImageBudget())
	assert.Equal(t, tree.ViewServer, cfg.UI.Mode())
	assert.True(t, cfg.Notifications.Allows(NotifyTextMessage))
	assert.False(t, cfg.Notifications.Allows(NotifyUserJoinedOtherChannels))
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("server:\n    address: voice.example.com\n"))
	require.NoError(t, err)
	assert.Equal(t, "voice.example.com:"+DefaultPort, cfg.Server.Address)
	assert.Equal(t, "voice.example.com", cfg.Server.Host())
	assert.Equal(t, 10*time.Second, cfg.Server.ConnectTimeout)
	assert.Equal(t, 500, cfg.Messaging.MaxHistory)
	assert.Equal(t, transmit.DefaultEchoTTL, cfg.Messaging.EchoTTL)
	assert.Equal(t, "mumblesync.db", cfg.Database.Path)
	assert.False(t, cfg.Notifications.Allows(NotifyTextMessage))
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing address":  "ui:\n    view_mode: server\n",
		"view mode":        "server:\n    address: a\nui:\n    view_mode: sideways\n",
		"category":         "server:\n    address: a\nnotifications:\n    categories:\n        ringing: true\n",
		"decay rate":       "server:\n    address: a\nmessaging:\n    pipeline:\n        decay_rate: 1.5\n",
		"negative decay":   "server:\n    address: a\nmessaging:\n    pipeline:\n        decay_rate: -0.1\n",
		"key without cert": "server:\n    address: a\n    key: client.key\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestParseConfig_ChannelView(t *testing.T) {
	cfg, err := ParseConfig([]byte("server:\n    address: a\nui:\n    view_mode: channel\n"))
	require.NoError(t, err)
	assert.Equal(t, tree.ViewChannel, cfg.UI.Mode())
}

func TestConfig_AudioChanged(t *testing.T) {
	a, err := ParseConfig([]byte(ExampleConfig))
	require.NoError(t, err)
	b, err := ParseConfig([]byte(ExampleConfig))
	require.NoError(t, err)
	assert.False(t, a.AudioChanged(b))

	b.Messaging.MaxHistory = 10
	assert.False(t, a.AudioChanged(b))

	b.Audio.Reconciler.ReleaseDelay = time.Second
	assert.True(t, a.AudioChanged(b))
}

func TestLoadConfig_WritesExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := LoadConfig(path, false)
	require.NoError(t, err)
	assert.Equal(t, "localhost:64738", cfg.Server.Address)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# Server to connect to"))
}
