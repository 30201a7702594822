package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lrhodin/mumblesync/pkg/tree"
)

func (h *harness) run(line string) {
	h.engine.RunCommand(line)
	h.pump()
}

func TestCommands_Join(t *testing.T) {
	h := newHarness(t)
	h.open()

	h.run("/join private")
	h.run("/j 1")
	assert.Equal(t, []uint32{2, 1}, h.session.joins)

	h.run("/join Nowhere")
	assert.Equal(t, []uint32{2, 1}, h.session.joins)
	assert.Contains(t, h.notices(), `No channel named "Nowhere"`)
}

func TestCommands_Unknown(t *testing.T) {
	h := newHarness(t)
	h.open()
	h.run("/frobnicate now")
	assert.Contains(t, h.notices(), "Unknown command /frobnicate, try /help")
}

func TestCommands_Usage(t *testing.T) {
	h := newHarness(t)
	h.open()
	h.run("/msg alice")
	assert.Contains(t, h.notices(), "Usage: /msg <user> <text>")
	assert.Empty(t, h.session.userMsgs)
}

func TestCommands_PlainTextIsSent(t *testing.T) {
	h := newHarness(t)
	h.open()
	h.run("a < b")
	h.run("//shrug")
	h.run("   ")
	assert.Equal(t, []string{"a &lt; b", "/shrug"}, h.session.channelMsgs)
}

func TestCommands_PrivateMessage(t *testing.T) {
	h := newHarness(t)
	h.open()
	h.run("/msg Alice hi there")
	h.run("/pm #6 <b>yo</b>")
	assert.Equal(t, []string{"hi there"}, h.session.userMsgs[5])
	assert.Equal(t, []string{"&lt;b&gt;yo&lt;/b&gt;"}, h.session.userMsgs[6])
}

func TestCommands_LocalAudio(t *testing.T) {
	h := newHarness(t)
	h.open()

	h.run("/volume alice 150%")
	assert.Equal(t, float32(1.5), h.output.volumes[5])
	h.run("/vol alice loud")
	assert.Contains(t, h.notices(), `Invalid volume "loud"`)

	h.run("/localmute alice")
	assert.True(t, h.output.muted[5])
	h.run("/localmute alice")
	assert.False(t, h.output.muted[5])

	alice, ok := h.engine.View().User(5)
	require.True(t, ok)
	assert.Equal(t, float32(1.5), alice.Volume)
}

func TestCommands_Notify(t *testing.T) {
	h := newHarness(t)
	h.open()
	require.True(t, h.engine.cfg.Notifications.Allows(NotifyTextMessage))

	h.run("/notify text_message off")
	assert.False(t, h.engine.cfg.Notifications.Allows(NotifyTextMessage))
	h.run("/notify text_message on")
	assert.True(t, h.engine.cfg.Notifications.Allows(NotifyTextMessage))

	h.run("/notify text_message maybe")
	assert.Contains(t, h.notices(), `Expected on or off, got "maybe"`)
	h.run("/notify ringing on")
	require.NotEmpty(t, h.notices())
	last := h.notices()[len(h.notices())-1]
	assert.Contains(t, last, `Unknown category "ringing"`)
}

func TestCommands_ViewMode(t *testing.T) {
	h := newHarness(t)
	h.open()
	h.run("/view channel")
	assert.Equal(t, tree.ViewChannel, h.engine.mode)
	h.run("/view sideways")
	assert.Contains(t, h.notices(), `Unknown view mode "sideways"`)
}

func TestCommands_PasswordWithoutPrompt(t *testing.T) {
	h := newHarness(t)
	h.open()
	h.run("/password hunter2")
	assert.Contains(t, h.notices(), "No channel is asking for a password")
	assert.Empty(t, h.session.tokens)
}

func TestCommands_Help(t *testing.T) {
	h := newHarness(t)
	h.open()
	h.run("/help")
	notices := h.notices()
	require.NotEmpty(t, notices)
	help := notices[len(notices)-1]
	assert.Contains(t, help, "/join <channel> - Join a channel by name or ID.")
	assert.Contains(t, help, "/restart-audio - Restart the audio engine.")
}

func TestCommands_ServerMute(t *testing.T) {
	h := newHarness(t)
	h.open()
	h.run("/servermute bob")
	assert.True(t, h.session.serverMutes[6])
}

func TestCommands_Register(t *testing.T) {
	h := newHarness(t)
	h.open()
	h.run("/register")
	assert.Equal(t, 1, h.session.registers)
}
