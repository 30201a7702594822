//go:build linux

package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePactlMute(t *testing.T) {
	muted, err := parsePactlMute("Mute: yes\n")
	assert.NoError(t, err)
	assert.True(t, muted)

	muted, err = parsePactlMute("Mute: no")
	assert.NoError(t, err)
	assert.False(t, muted)

	_, err = parsePactlMute("Connection failure: Connection refused")
	assert.Error(t, err)
}
