package connector

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWatcher_Reload(t *testing.T) {
	var applied []*Config
	w := NewConfigWatcher(zerolog.Nop(), "unused", func(cfg *Config) {
		applied = append(applied, cfg)
	})

	w.load = func(string) (*Config, error) {
		return nil, errors.New("broken yaml")
	}
	w.reload()
	assert.Empty(t, applied)

	want := &Config{}
	w.load = func(string) (*Config, error) {
		return want, nil
	}
	w.reload()
	require.Len(t, applied, 1)
	assert.Same(t, want, applied[0])
}

func TestConfigWatcher_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n    address: voice.example.com\n"), 0600))

	var applied *Config
	w := NewConfigWatcher(zerolog.Nop(), path, func(cfg *Config) {
		applied = cfg
	})
	w.reload()
	require.NotNil(t, applied)
	assert.Equal(t, "voice.example.com", applied.Server.Host())

	require.NoError(t, os.WriteFile(path, []byte("ui:\n    view_mode: nope\n"), 0600))
	applied = nil
	w.reload()
	assert.Nil(t, applied)
}
