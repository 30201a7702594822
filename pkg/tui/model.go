// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package tui is a terminal front end for the engine: a channel tree, the
// chat log and a command line.
package tui

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lrhodin/mumblesync/pkg/connector"
	"github.com/lrhodin/mumblesync/pkg/tree"
)

// Engine is the part of *connector.Engine the interface drives.
type Engine interface {
	View() *connector.View
	Subscribe() (<-chan struct{}, func())
	RunCommand(line string)
	ToggleMute()
	ToggleDeafen()
}

type viewChangedMsg struct{}

func waitForView(updates <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-updates; !ok {
			return nil
		}
		return viewChangedMsg{}
	}
}

type Model struct {
	engine      Engine
	updates     <-chan struct{}
	unsubscribe func()
	view        *connector.View

	width  int
	height int

	input    textinput.Model
	channels viewport.Model
	chat     viewport.Model

	theme theme
}

func New(engine Engine) Model {
	input := textinput.New()
	input.Prompt = "> "
	input.CharLimit = 5000
	input.Placeholder = "Type to chat, /help for commands"
	input.Focus()

	channels := viewport.New(0, 0)
	chat := viewport.New(0, 0)
	chat.MouseWheelEnabled = true
	chat.MouseWheelDelta = 3

	updates, unsubscribe := engine.Subscribe()
	return Model{
		engine:      engine,
		updates:     updates,
		unsubscribe: unsubscribe,
		view:        engine.View(),
		input:       input,
		channels:    channels,
		chat:        chat,
		theme:       newTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForView(m.updates))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case viewChangedMsg:
		m.view = m.engine.View()
		m.syncPrompt()
		m.renderPanes()
		cmds = append(cmds, waitForView(m.updates))
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.renderPanes()
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.unsubscribe()
			return m, tea.Quit
		case tea.KeyEnter:
			m.submit()
			return m, nil
		case tea.KeyEsc:
			if m.view != nil && m.view.Prompt != nil {
				m.engine.RunCommand("/dismiss")
			}
			return m, nil
		case tea.KeyCtrlT:
			m.engine.ToggleMute()
			return m, nil
		case tea.KeyCtrlD:
			m.engine.ToggleDeafen()
			return m, nil
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.chat, cmd = m.chat.Update(msg)
			return m, cmd
		}
	case tea.MouseMsg:
		var cmd tea.Cmd
		m.chat, cmd = m.chat.Update(msg)
		cmds = append(cmds, cmd)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// submit hands the input line to the engine. While a password prompt is
// open, plain lines answer it instead of going to the channel.
func (m *Model) submit() {
	line := strings.TrimSpace(m.input.Value())
	m.input.Reset()
	if line == "" {
		return
	}
	if m.view != nil && m.view.Prompt != nil && !strings.HasPrefix(line, "/") {
		line = "/password " + line
	}
	m.engine.RunCommand(line)
}

func (m *Model) syncPrompt() {
	if m.view != nil && m.view.Prompt != nil {
		m.input.EchoMode = textinput.EchoPassword
		m.input.Placeholder = fmt.Sprintf("Password for %s", m.view.Prompt.ChannelName)
	} else {
		m.input.EchoMode = textinput.EchoNormal
		m.input.Placeholder = "Type to chat, /help for commands"
	}
}

func (m Model) View() string {
	header := m.renderHeader()
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		m.theme.panel.Render(m.theme.panelTitle.Render("Channels")+"\n"+m.channels.View()),
		m.theme.panel.Render(m.theme.panelTitle.Render("Chat")+"\n"+m.chat.View()),
	)
	return m.theme.root.Render(lipgloss.JoinVertical(lipgloss.Left, header, body, m.renderInput(), m.renderFooter()))
}

func (m *Model) renderHeader() string {
	contentWidth := max(40, m.width-4)
	if m.view == nil {
		return m.theme.header.Width(contentWidth).Render("Starting...")
	}
	status := m.theme.status
	if m.view.Connection != connector.Connected {
		status = m.theme.errorStatus
	}
	parts := []string{status.Render(m.view.Connection.String())}
	if m.view.ServerName != "" {
		parts = append(parts, m.view.ServerName)
	}
	if m.view.Self != nil {
		parts = append(parts, "as "+m.view.Self.Name)
	}
	switch {
	case m.view.Deafened:
		parts = append(parts, m.theme.muted.Render("deafened"))
	case m.view.Muted:
		parts = append(parts, m.theme.muted.Render("muted"))
	}
	if m.view.Sending {
		parts = append(parts, "sending image...")
	}
	return m.theme.header.Width(contentWidth).Render(strings.Join(parts, " | "))
}

func (m *Model) renderInput() string {
	contentWidth := max(40, m.width-4)
	if m.view != nil && m.view.Prompt != nil {
		title := m.theme.panelTitle.Render(fmt.Sprintf("%s needs a password (Esc to cancel)", m.view.Prompt.ChannelName))
		return m.theme.promptPanel.Width(contentWidth).Render(title + "\n" + m.input.View())
	}
	return m.theme.inputPanel.Width(contentWidth).Render(m.input.View())
}

func (m *Model) renderFooter() string {
	return m.theme.footer.Render("Enter send | Ctrl+T mute | Ctrl+D deafen | PgUp/PgDn scroll | Ctrl+C quit")
}

func (m *Model) resize() {
	contentWidth := max(40, m.width-4)
	treeWidth := max(24, contentWidth/3)
	chatWidth := max(20, contentWidth-treeWidth-4)
	paneHeight := max(5, m.height-12)

	m.input.Width = max(20, contentWidth-6)
	m.channels.Width = treeWidth - 4
	m.channels.Height = paneHeight
	m.chat.Width = chatWidth - 4
	m.chat.Height = paneHeight
}

func (m *Model) renderPanes() {
	atBottom := m.chat.AtBottom()
	m.channels.SetContent(m.renderTree())
	m.chat.SetContent(m.renderChat())
	if atBottom {
		m.chat.GotoBottom()
	}
}

func (m *Model) renderTree() string {
	if m.view == nil || len(m.view.Items) == 0 {
		return m.theme.helpText.Render("Not connected")
	}
	var b strings.Builder
	for _, item := range m.view.Items {
		b.WriteString(strings.Repeat("  ", item.Depth))
		if item.Kind == tree.KindChannel {
			b.WriteString(m.renderChannel(item))
		} else {
			b.WriteString(m.renderUser(item))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *Model) renderChannel(item tree.Item) string {
	style := m.theme.channel
	if item.ContainsSelf {
		style = m.theme.selfChannel
	}
	label := item.Title
	switch item.Access {
	case tree.AccessPassword:
		label += " [pw]"
	case tree.AccessRestricted:
		style = m.theme.restricted
		label += " [x]"
	}
	if item.UserCount > 0 {
		label += fmt.Sprintf(" (%d)", item.UserCount)
	}
	if item.ListenedBySelf {
		label += " [ear]"
	}
	return style.Render(label)
}

func (m *Model) renderUser(item tree.Item) string {
	indicator := "o "
	style := m.theme.user
	if item.IsSelf {
		style = m.theme.self
	}
	if item.TalkState.IsTalking() {
		indicator = m.theme.talking.Render("* ")
	}
	var flags []string
	switch {
	case item.Audio.ServerDeafened:
		flags = append(flags, "D")
	case item.Audio.SelfDeafened:
		flags = append(flags, "d")
	}
	switch {
	case item.Audio.ServerMuted:
		flags = append(flags, "M")
	case item.Audio.SelfMuted:
		flags = append(flags, "m")
	}
	if item.Audio.LocalMuted {
		flags = append(flags, "L")
	}
	if item.Audio.Suppressed {
		flags = append(flags, "S")
	}
	label := indicator + style.Render(item.Title)
	if len(flags) > 0 {
		label += " " + m.theme.muted.Render(strings.Join(flags, ""))
	}
	return label
}

func (m *Model) renderChat() string {
	if m.view == nil || len(m.view.Messages) == 0 {
		return m.theme.helpText.Render("No messages yet")
	}
	var b strings.Builder
	for _, msg := range m.view.Messages {
		b.WriteString(m.theme.timestamp.Render(msg.Time.Format("15:04")))
		b.WriteByte(' ')
		text := plainText(msg.HTML)
		if len(msg.Images) > 0 {
			text = strings.TrimSpace(text + fmt.Sprintf(" [%d image(s)]", len(msg.Images)))
		}
		switch msg.Kind {
		case connector.MessageNotice:
			b.WriteString(m.theme.notice.Render(text))
		case connector.MessageSystem:
			b.WriteString(m.theme.system.Render(text))
		case connector.MessagePrivate:
			b.WriteString(m.theme.private.Render(senderLabel(msg) + " (private):"))
			b.WriteString(" " + text)
		default:
			b.WriteString(m.theme.sender.Render(senderLabel(msg) + ":"))
			b.WriteString(" " + text)
		}
		b.WriteByte('\n')
	}
	return lipgloss.NewStyle().Width(max(20, m.chat.Width)).Render(strings.TrimRight(b.String(), "\n"))
}

func senderLabel(msg connector.Message) string {
	if msg.Outgoing {
		return "you"
	} else if msg.SenderName == "" {
		return "server"
	}
	return msg.SenderName
}

var (
	breakRegex = regexp.MustCompile(`(?i)<br\s*/?>|</p>`)
	tagRegex   = regexp.MustCompile(`<[^>]*>`)
)

func plainText(body string) string {
	body = breakRegex.ReplaceAllString(body, "\n")
	body = tagRegex.ReplaceAllString(body, "")
	return strings.TrimSpace(html.UnescapeString(body))
}
