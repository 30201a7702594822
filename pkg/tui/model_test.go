package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lrhodin/mumblesync/pkg/connector"
	"github.com/lrhodin/mumblesync/pkg/mumble"
	"github.com/lrhodin/mumblesync/pkg/tree"
)

type fakeEngine struct {
	view         *connector.View
	updates      chan struct{}
	unsubscribed bool
	commands     []string
	mutes        int
	deafens      int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		updates: make(chan struct{}, 1),
		view: &connector.View{
			Connection: connector.Connected,
			ServerName: "voice.example.com",
			Self:       &mumble.UserSnapshot{Session: 1, Name: "me", ChannelID: 1},
			Items: []tree.Item{
				{ID: "channel:0", Kind: tree.KindChannel, Title: "Root", UserCount: 2},
				{ID: "channel:1", Kind: tree.KindChannel, Title: "Lobby", Depth: 1, ChannelID: 1, UserCount: 2, ContainsSelf: true},
				{ID: "user:5", Kind: tree.KindUser, Title: "alice", Depth: 2, ChannelID: 1, Session: 5, TalkState: mumble.TalkTalking},
				{ID: "user:1", Kind: tree.KindUser, Title: "me", Depth: 2, ChannelID: 1, Session: 1, IsSelf: true, Audio: mumble.AudioState{SelfMuted: true}},
				{ID: "channel:2", Kind: tree.KindChannel, Title: "Vault", Depth: 1, ChannelID: 2, Access: tree.AccessPassword},
			},
			Messages: []connector.Message{
				{Time: time.Date(2024, 1, 2, 15, 4, 0, 0, time.UTC), Kind: connector.MessageChat, SenderName: "alice", HTML: "hello <b>there</b> &amp; welcome"},
			},
		},
	}
}

func (e *fakeEngine) View() *connector.View { return e.view }

func (e *fakeEngine) Subscribe() (<-chan struct{}, func()) {
	return e.updates, func() { e.unsubscribed = true }
}

func (e *fakeEngine) RunCommand(line string) { e.commands = append(e.commands, line) }
func (e *fakeEngine) ToggleMute()            { e.mutes++ }
func (e *fakeEngine) ToggleDeafen()          { e.deafens++ }

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func TestModel_RendersViews(t *testing.T) {
	engine := newFakeEngine()
	m := New(engine)
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m = update(t, m, viewChangedMsg{})

	out := m.View()
	assert.Contains(t, out, "voice.example.com")
	assert.Contains(t, out, "Lobby (2)")
	assert.Contains(t, out, "Vault [pw]")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "hello there & welcome")
}

func TestModel_SubmitRunsCommand(t *testing.T) {
	engine := newFakeEngine()
	m := New(engine)
	m = update(t, m, viewChangedMsg{})

	m.input.SetValue("  /join Lobby ")
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, []string{"/join Lobby"}, engine.commands)
	assert.Empty(t, m.input.Value())

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Len(t, engine.commands, 1)
}

func TestModel_PasswordPrompt(t *testing.T) {
	engine := newFakeEngine()
	engine.view.Prompt = &connector.PasswordPrompt{ChannelID: 2, ChannelName: "Vault"}
	m := New(engine)
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m = update(t, m, viewChangedMsg{})
	assert.Contains(t, m.View(), "Vault needs a password")

	m.input.SetValue("hunter2")
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, []string{"/password hunter2", "/dismiss"}, engine.commands)
}

func TestModel_Keys(t *testing.T) {
	engine := newFakeEngine()
	m := New(engine)
	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlT})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlD})
	assert.Equal(t, 1, engine.mutes)
	assert.Equal(t, 1, engine.deafens)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.True(t, engine.unsubscribed)
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "a\nb <c>", plainText("<p>a</p><span>b</span> &lt;c&gt;"))
	assert.Equal(t, "one\ntwo", plainText("one<br/>two"))
}
