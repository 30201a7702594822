// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/lrhodin/mumblesync/pkg/acl"
	"github.com/lrhodin/mumblesync/pkg/mumble"
	"github.com/lrhodin/mumblesync/pkg/mutesync"
	"github.com/lrhodin/mumblesync/pkg/transmit"
	"github.com/lrhodin/mumblesync/pkg/tree"
)

func (e *Engine) handleEvent(evt mumble.Event) {
	switch evt := evt.(type) {
	case mumble.SessionOpened:
		e.handleSessionOpened(evt)
	case mumble.SessionClosed:
		e.handleSessionClosed(evt)
	case mumble.ServerConfigReceived:
		e.serverCfg = evt
	case mumble.UserJoined:
		e.handleUserJoined(evt)
	case mumble.UserLeft:
		e.handleUserLeft(evt)
	case mumble.UserMoved:
		e.handleUserMoved(evt)
	case mumble.UserRenamed:
		if evt.User.Session == e.self.Session && e.hasSelf {
			e.self = evt.User
		}
		e.requestRebuild(0)
	case mumble.UserStateChanged:
		e.handleUserState(evt)
	case mumble.TalkStateChanged:
		if evt.TalkState == mumble.TalkPassive {
			delete(e.talk, evt.Session)
		} else {
			e.talk[evt.Session] = evt.TalkState
		}
		e.indexer.UpdateTalkState(evt.Session, evt.TalkState)
	case mumble.SelfMuteDeafenChanged:
		e.reconciler.ServerReported(evt.Muted, evt.Deafened)
	case mumble.ChannelAdded:
		e.requestRebuild(0)
	case mumble.ChannelRemoved:
		e.classifier.Forget(evt.ChannelID)
		delete(e.permissions, evt.ChannelID)
		delete(e.listening, evt.ChannelID)
		delete(e.listeners, evt.ChannelID)
		e.requestRebuild(0)
	case mumble.ChannelRenamed, mumble.ChannelChanged:
		e.requestRebuild(0)
	case mumble.ACLReceived:
		e.handleACL(evt.ACL)
	case mumble.PermissionQueryResult:
		e.permissions[evt.ChannelID] = evt.Permissions
		if !e.indexer.UpdateChannelAccess(evt.ChannelID, e.channelAccess(evt.ChannelID)) {
			e.requestRebuild(0)
		}
	case mumble.PermissionDenied:
		e.handlePermissionDenied(evt)
	case mumble.ListeningChannelsChanged:
		e.handleListening(evt)
	case mumble.TextMessageReceived:
		e.handleTextMessage(evt)
	case mumble.UserNamesResolved:
		for i := range e.messages {
			msg := &e.messages[i]
			if name, ok := evt.Names[msg.SenderSession]; ok && msg.SenderName == "" && msg.SenderSession != 0 {
				msg.SenderName = name
			}
		}
	default:
		e.log.Warn().Type("event_type", evt).Msg("Unhandled event")
	}
}

func (e *Engine) handleSessionOpened(evt mumble.SessionOpened) {
	log := e.log.With().Str("host", evt.Host).Uint32("session", evt.Self.Session).Logger()
	log.Info().Msg("Session opened")
	e.connection = Connected
	if evt.Host != "" {
		e.host = evt.Host
	}
	e.serverName = e.host
	e.self, e.hasSelf = evt.Self, true
	e.talk = make(map[uint32]mumble.TalkState)
	e.permissions = make(map[uint32]mumble.Permission)
	e.listening = make(map[uint32]struct{})
	e.listeners = make(map[uint32]map[uint32]struct{})
	e.deafPriorMute = make(map[uint32]bool)
	e.pendingPassword = make(map[uint32]string)
	e.classifier.Reset()
	e.echo.Forget()

	if e.session != nil {
		e.reconciler.Attach(e.session, mutesync.Intent{
			Muted:    evt.Self.Audio.SelfMuted,
			Deafened: evt.Self.Audio.SelfDeafened,
		})
	}
	if welcome := strings.TrimSpace(evt.WelcomeMessage); welcome != "" {
		e.appendMessage(Message{Kind: MessageSystem, HTML: welcome})
	}
	e.notice("Connected to %s", e.host)
	e.requestRebuild(0)
	e.sync.start()
}

func (e *Engine) handleSessionClosed(evt mumble.SessionClosed) {
	e.log.Info().Str("reason", evt.Reason).Bool("kicked", evt.Kicked).Msg("Session closed")
	e.saveListening(e.ctx)
	e.sync.cancel()
	e.reconciler.Detach()
	e.connection = Disconnected
	e.hasSelf = false
	e.self = mumble.UserSnapshot{}
	e.prompt = nil
	e.pendingJoin = nil
	e.passwordJoin = nil
	e.aclEditing = nil
	e.editingACL = nil
	e.talk = make(map[uint32]mumble.TalkState)
	switch {
	case evt.Kicked && evt.Reason != "":
		e.notice("Disconnected from server: %s", evt.Reason)
	case evt.Kicked:
		e.notice("You were removed from the server")
	case evt.Reason != "":
		e.notice("Disconnected: %s", evt.Reason)
	default:
		e.notice("Disconnected")
	}
	e.requestRebuild(0)
}

func (e *Engine) inOwnChannel(channelID uint32) bool {
	return e.hasSelf && e.self.ChannelID == channelID
}

func (e *Engine) handleUserJoined(evt mumble.UserJoined) {
	e.requestRebuild(0)
	if e.hasSelf && evt.User.Session == e.self.Session {
		return
	}
	if e.inOwnChannel(evt.User.ChannelID) {
		e.notice("%s connected", evt.User.Name)
		e.notify(NotifyUserJoinedSameChannel, evt.User.Name, "Connected to your channel")
	} else {
		e.notify(NotifyUserJoinedOtherChannels, evt.User.Name, fmt.Sprintf("Connected to %s", e.channelName(evt.User.ChannelID)))
	}
}

func (e *Engine) handleUserLeft(evt mumble.UserLeft) {
	session := evt.User.Session
	delete(e.talk, session)
	delete(e.deafPriorMute, session)
	for _, sessions := range e.listeners {
		delete(sessions, session)
	}
	e.requestRebuild(0)

	var text string
	switch {
	case evt.Kicked && evt.Actor != nil && evt.Reason != "":
		text = fmt.Sprintf("%s was removed by %s: %s", evt.User.Name, evt.Actor.Name, evt.Reason)
	case evt.Kicked && evt.Actor != nil:
		text = fmt.Sprintf("%s was removed by %s", evt.User.Name, evt.Actor.Name)
	case evt.Kicked:
		text = fmt.Sprintf("%s was removed from the server", evt.User.Name)
	default:
		text = fmt.Sprintf("%s disconnected", evt.User.Name)
	}
	if e.inOwnChannel(evt.User.ChannelID) {
		e.notice("%s", text)
		e.notify(NotifyUserLeftSameChannel, evt.User.Name, text)
	} else {
		e.notify(NotifyUserLeftOtherChannels, evt.User.Name, text)
	}
}

func (e *Engine) handleUserMoved(evt mumble.UserMoved) {
	e.requestRebuild(moveSettle)
	if e.hasSelf && evt.User.Session == e.self.Session {
		e.self = evt.User
		e.self.ChannelID = evt.ToChannelID
		if e.pendingJoin != nil && e.pendingJoin.channelID == evt.ToChannelID {
			e.pendingJoin = nil
		}
		if e.passwordJoin != nil && *e.passwordJoin == evt.ToChannelID {
			e.classifier.Mark(evt.ToChannelID)
			e.passwordJoin = nil
			e.prompt = nil
		}
		name := e.channelName(evt.ToChannelID)
		if evt.Actor != nil && evt.Actor.Session != e.self.Session {
			e.notice("%s moved you to %s", evt.Actor.Name, name)
			e.notify(NotifyMovedByAdmin, "Moved", fmt.Sprintf("%s moved you to %s", evt.Actor.Name, name))
		} else {
			e.notice("You joined %s", name)
		}
		return
	}
	switch {
	case e.inOwnChannel(evt.ToChannelID):
		e.notice("%s joined your channel", evt.User.Name)
		e.notify(NotifyUserMoved, evt.User.Name, "Joined your channel")
	case e.inOwnChannel(evt.FromChannelID):
		name := e.channelName(evt.ToChannelID)
		e.notice("%s moved to %s", evt.User.Name, name)
		e.notify(NotifyUserMoved, evt.User.Name, fmt.Sprintf("Moved to %s", name))
	}
}

func (e *Engine) handleUserState(evt mumble.UserStateChanged) {
	user := evt.User
	isSelf := e.hasSelf && user.Session == e.self.Session
	if isSelf {
		if !e.self.IsRegistered() && user.IsRegistered() {
			e.notice("You are now registered as %s", user.Name)
		}
		e.self = user
	}
	prev, known := e.indexer.User(user.Session)
	var before mumble.AudioState
	if known {
		before = prev.Audio
		if prev.Title != user.Name || prev.Subtitle != tree.Summary(user.Comment) || prev.ChannelID != user.ChannelID {
			e.requestRebuild(0)
		} else {
			e.indexer.UpdateAudio(user.Session, user.Audio)
			// The item only holds the silenced state, the engine holds what
			// the user is actually doing.
			e.indexer.UpdateTalkState(user.Session, e.talk[user.Session])
		}
	} else {
		e.requestRebuild(0)
	}
	if known && (isSelf || e.inOwnChannel(user.ChannelID)) {
		if text := describeAudioChange(user.Name, before, user.Audio, evt.Actor); text != "" {
			e.notice("%s", text)
			e.notify(NotifyMuteDeafen, user.Name, text)
		}
	}
}

func describeAudioChange(name string, before, after mumble.AudioState, actor *mumble.UserSnapshot) string {
	by := ""
	if actor != nil {
		by = " by " + actor.Name
	}
	switch {
	case !before.ServerDeafened && after.ServerDeafened:
		return fmt.Sprintf("%s was deafened%s", name, by)
	case before.ServerDeafened && !after.ServerDeafened:
		return fmt.Sprintf("%s was undeafened%s", name, by)
	case !before.ServerMuted && after.ServerMuted:
		return fmt.Sprintf("%s was muted%s", name, by)
	case before.ServerMuted && !after.ServerMuted:
		return fmt.Sprintf("%s was unmuted%s", name, by)
	case !before.SelfDeafened && after.SelfDeafened:
		return fmt.Sprintf("%s deafened", name)
	case before.SelfDeafened && !after.SelfDeafened:
		return fmt.Sprintf("%s undeafened", name)
	case !before.SelfMuted && after.SelfMuted:
		return fmt.Sprintf("%s muted", name)
	case before.SelfMuted && !after.SelfMuted:
		return fmt.Sprintf("%s unmuted", name)
	}
	return ""
}

func (e *Engine) handleACL(snapshot mumble.ACLSnapshot) {
	id := snapshot.ChannelID
	if password, ok := e.pendingPassword[id]; ok {
		delete(e.pendingPassword, id)
		e.applyChannelPassword(snapshot, password)
		return
	}
	if e.classifier.Update(snapshot) {
		if !e.indexer.UpdateChannelAccess(id, e.channelAccess(id)) {
			e.requestRebuild(0)
		}
	}
	if e.aclEditing != nil && *e.aclEditing == id {
		e.aclEditing = nil
		editing := snapshot.Clone()
		e.editingACL = &editing
	}
}

func (e *Engine) applyChannelPassword(snapshot mumble.ACLSnapshot, password string) {
	var next mumble.ACLSnapshot
	if password == "" {
		next = acl.WithoutPassword(snapshot)
	} else {
		var err error
		next, err = acl.WithPassword(snapshot, password)
		if err != nil {
			e.notice("Invalid password: %v", err)
			return
		}
	}
	if err := e.session.SetACL(next); err != nil {
		e.sessionError("set channel password", err)
		return
	}
	e.classifier.Update(next)
	if password == "" {
		e.notice("Removed the password of %s", e.channelName(snapshot.ChannelID))
	} else {
		e.notice("Set a password on %s", e.channelName(snapshot.ChannelID))
	}
	if !e.indexer.UpdateChannelAccess(snapshot.ChannelID, e.channelAccess(snapshot.ChannelID)) {
		e.requestRebuild(0)
	}
}

func (e *Engine) handlePermissionDenied(evt mumble.PermissionDenied) {
	if evt.Kind == mumble.DenialTextTooLong && e.pipeline.Reject() {
		e.log.Debug().Msg("Image rejected by server, retrying smaller")
		return
	}
	switch acl.ClassifyDenial(evt, e.userJoinTarget(), e.sync.scanning) {
	case acl.OutcomePasswordPrompt:
		e.pendingJoin = nil
		e.prompt = &PasswordPrompt{ChannelID: evt.ChannelID, ChannelName: e.channelName(evt.ChannelID)}
	case acl.OutcomeSuppressed:
		e.log.Debug().Str("reason", evt.Reason).Msg("Suppressed permission denial during scan")
	default:
		e.notice("%s", describeDenial(evt, e.channelName))
	}
}

func describeDenial(evt mumble.PermissionDenied, channelName func(uint32) string) string {
	switch evt.Kind {
	case mumble.DenialPermission:
		if evt.HasChannel {
			return fmt.Sprintf("Permission denied: %s in %s", evt.Permission, channelName(evt.ChannelID))
		}
		return fmt.Sprintf("Permission denied: %s", evt.Permission)
	case mumble.DenialSuperUser:
		return "Permission denied: not allowed for the SuperUser"
	case mumble.DenialInvalidChannelName:
		return "Invalid channel name"
	case mumble.DenialTextTooLong:
		return "Message is too long for this server"
	case mumble.DenialTemporaryChannel:
		return "Not allowed in a temporary channel"
	case mumble.DenialMissingCertificate:
		return "A certificate is required for this action"
	case mumble.DenialInvalidUserName:
		return "Invalid user name"
	case mumble.DenialChannelFull:
		return "Channel is full"
	case mumble.DenialNestingLimit:
		return "Channel nesting limit reached"
	}
	if evt.Reason != "" {
		return "Denied: " + evt.Reason
	}
	return "Permission denied"
}

func (e *Engine) handleListening(evt mumble.ListeningChannelsChanged) {
	isSelf := e.hasSelf && evt.Session == e.self.Session
	for _, id := range evt.Added {
		if e.listeners[id] == nil {
			e.listeners[id] = make(map[uint32]struct{})
		}
		e.listeners[id][evt.Session] = struct{}{}
		if isSelf {
			e.listening[id] = struct{}{}
		}
	}
	for _, id := range evt.Removed {
		delete(e.listeners[id], evt.Session)
		if isSelf {
			delete(e.listening, id)
		}
	}
	e.requestRebuild(0)
	if isSelf {
		for _, id := range evt.Added {
			e.notify(NotifyChannelListening, "Listening", fmt.Sprintf("Started listening to %s", e.channelName(id)))
		}
		for _, id := range evt.Removed {
			e.notify(NotifyChannelListening, "Listening", fmt.Sprintf("Stopped listening to %s", e.channelName(id)))
		}
	}
}

func (e *Engine) handleTextMessage(evt mumble.TextMessageReceived) {
	if evt.HasSender && e.echo.Consume(evt.SenderSession, evt.HTML) {
		e.log.Debug().Uint32("sender", evt.SenderSession).Msg("Dropped echo of own message")
		return
	}
	text, images := transmit.SplitImages(evt.HTML)
	msg := Message{
		Kind:          MessageChat,
		SenderName:    evt.SenderName,
		SenderSession: evt.SenderSession,
		HTML:          text,
		Images:        images,
	}
	switch {
	case !evt.HasSender:
		msg.Kind = MessageSystem
	case evt.IsPrivate():
		msg.Kind = MessagePrivate
	}
	e.appendMessage(msg)

	body := tree.Summary(text)
	if body == "" && len(images) > 0 {
		body = "Sent an image"
	}
	switch msg.Kind {
	case MessagePrivate:
		e.notify(NotifyPrivateMessage, evt.SenderName, body)
	case MessageChat:
		e.notify(NotifyTextMessage, evt.SenderName, body)
	}
}

// saveListening persists the current listening set.
func (e *Engine) saveListening(ctx context.Context) {
	if e.host == "" {
		return
	}
	if err := e.store.SetListeningChannels(ctx, e.host, e.listeningChannels()); err != nil {
		e.log.Warn().Err(err).Msg("Failed to save listening channels")
	}
}
