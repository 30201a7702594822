// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package connector

import (
	"fmt"
	"html"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.mau.fi/util/ptr"

	"github.com/lrhodin/mumblesync/pkg/mumble"
	"github.com/lrhodin/mumblesync/pkg/tree"
)

// CommandEvent is a parsed command line.
type CommandEvent struct {
	Engine  *Engine
	Command string
	Args    []string
	RawArgs string
	View    *View
}

// Reply adds a notice to the chat log.
func (ce *CommandEvent) Reply(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	ce.Engine.Post(func() {
		ce.Engine.notice("%s", msg)
	})
}

type CommandHandler struct {
	Name    string
	Aliases []string
	Args    string
	Help    string
	MinArgs int
	Func    func(ce *CommandEvent)
}

// Commands returns the text commands understood by RunCommand.
func Commands() []*CommandHandler {
	return []*CommandHandler{
		cmdHelp,
		cmdMute,
		cmdDeafen,
		cmdJoin,
		cmdMessage,
		cmdImage,
		cmdPassword,
		cmdDismiss,
		cmdListen,
		cmdUnlisten,
		cmdVolume,
		cmdLocalMute,
		cmdView,
		cmdChannelPassword,
		cmdCreateChannel,
		cmdRenameChannel,
		cmdRemoveChannel,
		cmdMove,
		cmdServerMute,
		cmdServerDeafen,
		cmdNotify,
		cmdRestartAudio,
		cmdRegister,
	}
}

var commandIndex = func() map[string]*CommandHandler {
	index := make(map[string]*CommandHandler)
	for _, handler := range Commands() {
		index[handler.Name] = handler
		for _, alias := range handler.Aliases {
			index[alias] = handler
		}
	}
	return index
}()

// RunCommand executes a line typed into the input box. Lines that don't
// start with a slash are sent to the current channel; a doubled slash
// escapes a literal one.
func (e *Engine) RunCommand(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	} else if strings.HasPrefix(line, "//") || !strings.HasPrefix(line, "/") {
		e.SendMessage(html.EscapeString(strings.TrimPrefix(line, "/")))
		return
	}
	name, rawArgs, _ := strings.Cut(line[1:], " ")
	name = strings.ToLower(name)
	ce := &CommandEvent{
		Engine:  e,
		Command: name,
		Args:    strings.Fields(rawArgs),
		RawArgs: strings.TrimSpace(rawArgs),
		View:    e.View(),
	}
	handler, ok := commandIndex[name]
	if !ok {
		ce.Reply("Unknown command /%s, try /help", name)
		return
	} else if len(ce.Args) < handler.MinArgs {
		ce.Reply("Usage: /%s %s", handler.Name, handler.Args)
		return
	}
	e.log.Debug().Str("command", name).Msg("Running command")
	handler.Func(ce)
}

var cmdHelp = &CommandHandler{
	Name: "help",
	Help: "List available commands.",
}

func init() {
	cmdHelp.Func = fnHelp
}

func fnHelp(ce *CommandEvent) {
	handlers := Commands()
	sort.Slice(handlers, func(i, j int) bool { return handlers[i].Name < handlers[j].Name })
	var sb strings.Builder
	sb.WriteString("Commands:")
	for _, handler := range handlers {
		sb.WriteString("\n/" + handler.Name)
		if handler.Args != "" {
			sb.WriteString(" " + handler.Args)
		}
		sb.WriteString(" - " + handler.Help)
	}
	ce.Reply("%s", sb.String())
}

var cmdMute = &CommandHandler{
	Name: "mute",
	Help: "Toggle self mute.",
	Func: func(ce *CommandEvent) { ce.Engine.ToggleMute() },
}

var cmdDeafen = &CommandHandler{
	Name:    "deafen",
	Aliases: []string{"deaf"},
	Help:    "Toggle self deafen.",
	Func:    func(ce *CommandEvent) { ce.Engine.ToggleDeafen() },
}

var cmdJoin = &CommandHandler{
	Name:    "join",
	Aliases: []string{"j"},
	Args:    "<channel>",
	Help:    "Join a channel by name or ID.",
	MinArgs: 1,
	Func: func(ce *CommandEvent) {
		if id, ok := ce.channel(ce.RawArgs); ok {
			ce.Engine.JoinChannel(id)
		}
	},
}

var cmdMessage = &CommandHandler{
	Name:    "msg",
	Aliases: []string{"pm"},
	Args:    "<user> <text>",
	Help:    "Send a private message.",
	MinArgs: 2,
	Func: func(ce *CommandEvent) {
		session, ok := ce.user(ce.Args[0])
		if !ok {
			return
		}
		text := strings.TrimSpace(strings.TrimPrefix(ce.RawArgs, ce.Args[0]))
		ce.Engine.SendPrivateMessage(session, html.EscapeString(text))
	},
}

var cmdImage = &CommandHandler{
	Name:    "img",
	Aliases: []string{"image"},
	Args:    "<path>",
	Help:    "Send an image file to the current channel.",
	MinArgs: 1,
	Func: func(ce *CommandEvent) {
		data, err := os.ReadFile(ce.RawArgs)
		if err != nil {
			ce.Reply("Failed to read image: %v", err)
			return
		}
		ce.Engine.SendImage(data)
	},
}

var cmdPassword = &CommandHandler{
	Name:    "password",
	Aliases: []string{"pw"},
	Args:    "<password>",
	Help:    "Answer the channel password prompt.",
	MinArgs: 1,
	Func: func(ce *CommandEvent) {
		if ce.View.Prompt == nil {
			ce.Reply("No channel is asking for a password")
			return
		}
		ce.Engine.SubmitPassword(ce.RawArgs)
	},
}

var cmdDismiss = &CommandHandler{
	Name: "dismiss",
	Help: "Close the channel password prompt.",
	Func: func(ce *CommandEvent) { ce.Engine.DismissPrompt() },
}

var cmdListen = &CommandHandler{
	Name:    "listen",
	Args:    "<channel>",
	Help:    "Listen to a channel without joining it.",
	MinArgs: 1,
	Func: func(ce *CommandEvent) {
		if id, ok := ce.channel(ce.RawArgs); ok {
			ce.Engine.StartListening(id)
		}
	},
}

var cmdUnlisten = &CommandHandler{
	Name:    "unlisten",
	Args:    "<channel>",
	Help:    "Stop listening to a channel.",
	MinArgs: 1,
	Func: func(ce *CommandEvent) {
		if id, ok := ce.channel(ce.RawArgs); ok {
			ce.Engine.StopListening(id)
		}
	},
}

var cmdVolume = &CommandHandler{
	Name:    "volume",
	Aliases: []string{"vol"},
	Args:    "<user> <percent>",
	Help:    "Set the local playback volume of a user (0-200%).",
	MinArgs: 2,
	Func: func(ce *CommandEvent) {
		session, ok := ce.user(strings.Join(ce.Args[:len(ce.Args)-1], " "))
		if !ok {
			return
		}
		percent, err := strconv.ParseFloat(strings.TrimSuffix(ce.Args[len(ce.Args)-1], "%"), 32)
		if err != nil {
			ce.Reply("Invalid volume %q", ce.Args[len(ce.Args)-1])
			return
		}
		ce.Engine.SetLocalUserVolume(session, float32(percent/100))
	},
}

var cmdLocalMute = &CommandHandler{
	Name:    "localmute",
	Args:    "<user>",
	Help:    "Toggle local mute of a user.",
	MinArgs: 1,
	Func: func(ce *CommandEvent) {
		session, ok := ce.user(ce.RawArgs)
		if !ok {
			return
		}
		item, _ := ce.View.User(session)
		ce.Engine.SetLocalUserMuted(session, !item.Audio.LocalMuted)
	},
}

var cmdView = &CommandHandler{
	Name:    "view",
	Args:    "<server|channel>",
	Help:    "Switch between the whole server tree and the current channel.",
	MinArgs: 1,
	Func: func(ce *CommandEvent) {
		mode, ok := tree.ParseViewMode(ce.Args[0])
		if !ok {
			ce.Reply("Unknown view mode %q", ce.Args[0])
			return
		}
		ce.Engine.SetViewMode(mode)
	},
}

var cmdChannelPassword = &CommandHandler{
	Name:    "acl-password",
	Aliases: []string{"channel-password"},
	Args:    "<channel> [password]",
	Help:    "Protect a channel with a password, or remove the password if none is given.",
	MinArgs: 1,
	Func: func(ce *CommandEvent) {
		id, ok := ce.channel(ce.Args[0])
		if !ok {
			return
		}
		password := strings.TrimSpace(strings.TrimPrefix(ce.RawArgs, ce.Args[0]))
		ce.Engine.SetChannelPassword(id, password)
	},
}

var cmdCreateChannel = &CommandHandler{
	Name:    "create",
	Args:    "<name> [temp]",
	Help:    "Create a subchannel of the current channel.",
	MinArgs: 1,
	Func: func(ce *CommandEvent) {
		if ce.View.Self == nil {
			ce.Reply("Not connected")
			return
		}
		name, temporary := ce.RawArgs, false
		if last := ce.Args[len(ce.Args)-1]; len(ce.Args) > 1 && strings.EqualFold(last, "temp") {
			name, temporary = strings.TrimSpace(strings.TrimSuffix(name, last)), true
		}
		ce.Engine.CreateChannel(ce.View.Self.ChannelID, name, temporary)
	},
}

var cmdRenameChannel = &CommandHandler{
	Name:    "rename",
	Args:    "<channel> <new name>",
	Help:    "Rename a channel.",
	MinArgs: 2,
	Func: func(ce *CommandEvent) {
		id, ok := ce.channel(ce.Args[0])
		if !ok {
			return
		}
		name := strings.TrimSpace(strings.TrimPrefix(ce.RawArgs, ce.Args[0]))
		ce.Engine.EditChannel(id, mumble.ChannelEdit{Name: ptr.Ptr(name)})
	},
}

var cmdRemoveChannel = &CommandHandler{
	Name:    "remove",
	Args:    "<channel>",
	Help:    "Remove a channel.",
	MinArgs: 1,
	Func: func(ce *CommandEvent) {
		if id, ok := ce.channel(ce.RawArgs); ok {
			ce.Engine.RemoveChannel(id)
		}
	},
}

var cmdMove = &CommandHandler{
	Name:    "move",
	Args:    "<user> <channel>",
	Help:    "Move a user to another channel.",
	MinArgs: 2,
	Func: func(ce *CommandEvent) {
		session, ok := ce.user(ce.Args[0])
		if !ok {
			return
		}
		id, ok := ce.channel(strings.TrimSpace(strings.TrimPrefix(ce.RawArgs, ce.Args[0])))
		if !ok {
			return
		}
		ce.Engine.MoveUser(session, id)
	},
}

var cmdServerMute = &CommandHandler{
	Name:    "servermute",
	Args:    "<user>",
	Help:    "Toggle server mute of a user.",
	MinArgs: 1,
	Func: func(ce *CommandEvent) {
		session, ok := ce.user(ce.RawArgs)
		if !ok {
			return
		}
		item, _ := ce.View.User(session)
		ce.Engine.SetServerMuted(session, !item.Audio.ServerMuted)
	},
}

var cmdServerDeafen = &CommandHandler{
	Name:    "serverdeafen",
	Args:    "<user>",
	Help:    "Toggle server deafen of a user.",
	MinArgs: 1,
	Func: func(ce *CommandEvent) {
		session, ok := ce.user(ce.RawArgs)
		if !ok {
			return
		}
		item, _ := ce.View.User(session)
		ce.Engine.SetServerDeafened(session, !item.Audio.ServerDeafened)
	},
}

var cmdNotify = &CommandHandler{
	Name:    "notify",
	Args:    "<category> <on|off>",
	Help:    "Enable or disable a desktop notification category.",
	MinArgs: 2,
	Func: func(ce *CommandEvent) {
		category := NotificationCategory(ce.Args[0])
		if !category.Valid() {
			names := make([]string, len(AllNotificationCategories))
			for i, cat := range AllNotificationCategories {
				names[i] = string(cat)
			}
			ce.Reply("Unknown category %q, expected one of %s", ce.Args[0], strings.Join(names, ", "))
			return
		}
		var enabled bool
		switch strings.ToLower(ce.Args[1]) {
		case "on", "true", "yes":
			enabled = true
		case "off", "false", "no":
		default:
			ce.Reply("Expected on or off, got %q", ce.Args[1])
			return
		}
		ce.Engine.SetNotificationEnabled(category, enabled)
	},
}

var cmdRestartAudio = &CommandHandler{
	Name: "restart-audio",
	Help: "Restart the audio engine.",
	Func: func(ce *CommandEvent) { ce.Engine.RestartAudio() },
}

var cmdRegister = &CommandHandler{
	Name: "register",
	Help: "Register your user name on this server.",
	Func: func(ce *CommandEvent) { ce.Engine.RegisterSelf() },
}

// channel resolves a channel by numeric ID or by case-insensitive name.
func (ce *CommandEvent) channel(query string) (uint32, bool) {
	query = strings.TrimSpace(query)
	if id, err := strconv.ParseUint(query, 10, 32); err == nil {
		return uint32(id), true
	}
	var matches []tree.Item
	for _, item := range ce.View.Items {
		if item.Kind == tree.KindChannel && strings.EqualFold(item.Title, query) {
			matches = append(matches, item)
		}
	}
	switch len(matches) {
	case 0:
		ce.Reply("No channel named %q", query)
		return 0, false
	case 1:
		return matches[0].ChannelID, true
	default:
		ce.Reply("%d channels are named %q, use the channel ID instead", len(matches), query)
		return 0, false
	}
}

// user resolves a user by case-insensitive name, or by session with a
// leading #.
func (ce *CommandEvent) user(query string) (uint32, bool) {
	query = strings.TrimSpace(query)
	if strings.HasPrefix(query, "#") {
		if session, err := strconv.ParseUint(query[1:], 10, 32); err == nil {
			return uint32(session), true
		}
	}
	for _, item := range ce.View.Items {
		if item.Kind == tree.KindUser && strings.EqualFold(item.Title, query) {
			return item.Session, true
		}
	}
	ce.Reply("No user named %q", query)
	return 0, false
}
