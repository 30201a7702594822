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
	"errors"
	"strings"

	"github.com/lrhodin/mumblesync/pkg/acl"
	"github.com/lrhodin/mumblesync/pkg/mumble"
	"github.com/lrhodin/mumblesync/pkg/mutesync"
	"github.com/lrhodin/mumblesync/pkg/transmit"
	"github.com/lrhodin/mumblesync/pkg/tree"
)

// The methods in this file are safe to call from any goroutine. They queue
// the work onto the engine loop and return immediately; failures surface as
// notices in the chat log.

func (e *Engine) ToggleMute() {
	e.Post(func() {
		if !e.reconciler.ToggleMute() {
			e.notice("Can't unmute while deafened")
		}
	})
}

func (e *Engine) ToggleDeafen() {
	e.Post(e.reconciler.ToggleDeafen)
}

func (e *Engine) JoinChannel(channelID uint32) {
	e.Post(func() {
		if e.session == nil {
			e.sessionError("join channel", mumble.ErrNotConnected)
			return
		}
		e.pendingJoin = &pendingJoin{channelID: channelID, expires: e.clock.Now().Add(joinIntentTTL)}
		if err := e.session.JoinChannel(channelID); err != nil {
			e.pendingJoin = nil
			e.sessionError("join channel", err)
		}
	})
}

// SendMessage sends rich text to the current channel. Embedded images are
// recompressed to fit the image budget.
func (e *Engine) SendMessage(html string) {
	e.Post(func() {
		html = strings.TrimSpace(html)
		if html == "" {
			return
		} else if e.session == nil || !e.hasSelf {
			e.sessionError("send message", mumble.ErrNotConnected)
			return
		}
		html = e.pipeline.Fitter().CompressEmbeddedImages(html, e.imageBudget())
		if !e.fitsMessageLimit(html) {
			e.notice("Message is too long for this server")
			return
		}
		if err := e.session.SendChannelMessage(e.self.ChannelID, html); err != nil {
			e.sessionError("send message", err)
			return
		}
		e.echo.Remember(e.self.Session, html)
		e.appendOutgoing(MessageChat, html)
	})
}

func (e *Engine) SendPrivateMessage(session uint32, html string) {
	e.Post(func() {
		html = strings.TrimSpace(html)
		if html == "" {
			return
		} else if e.session == nil || !e.hasSelf {
			e.sessionError("send private message", mumble.ErrNotConnected)
			return
		}
		html = e.pipeline.Fitter().CompressEmbeddedImages(html, e.imageBudget())
		if !e.fitsMessageLimit(html) {
			e.notice("Message is too long for this server")
			return
		}
		if err := e.session.SendUserMessage(session, html); err != nil {
			e.sessionError("send private message", err)
			return
		}
		e.echo.Remember(e.self.Session, html)
		e.appendOutgoing(MessagePrivate, html)
	})
}

func (e *Engine) fitsMessageLimit(html string) bool {
	limit := e.serverCfg.MaxMessageLength
	if strings.Contains(html, "<img") && e.serverCfg.MaxImageMessageLength > 0 {
		limit = e.serverCfg.MaxImageMessageLength
	}
	return limit <= 0 || len(html) <= limit
}

func (e *Engine) appendOutgoing(kind MessageKind, html string) {
	text, images := transmit.SplitImages(html)
	e.appendMessage(Message{
		Kind:          kind,
		SenderName:    e.self.Name,
		SenderSession: e.self.Session,
		Outgoing:      true,
		HTML:          text,
		Images:        images,
	})
}

// RegisterSelf registers the connected user on the server. The server binds
// the account to the client certificate, so a certificate must be configured.
func (e *Engine) RegisterSelf() {
	e.Post(func() {
		if e.session == nil || !e.hasSelf {
			e.sessionError("register", mumble.ErrNotConnected)
			return
		} else if e.self.IsRegistered() {
			e.notice("You are already registered as %s", e.self.Name)
			return
		}
		if err := e.session.RegisterSelf(); err != nil {
			e.sessionError("register", err)
			return
		}
		e.log.Info().Str("user_name", e.self.Name).Msg("Requested self registration")
		e.notice("Registration requested for %s", e.self.Name)
	})
}

// SendImage fits data into the image budget and sends it to the current
// channel, shrinking and retrying while the server rejects it.
func (e *Engine) SendImage(data []byte) {
	e.Post(func() {
		if e.session == nil || !e.hasSelf {
			e.sessionError("send image", mumble.ErrNotConnected)
			return
		} else if e.sending {
			e.notice("%v", transmit.ErrBusy)
			return
		}
		session, channelID, budget, ctx := e.session, e.self.ChannelID, e.imageBudget(), e.ctx
		self, echo := e.self.Session, e.echo
		e.sending = true
		go func() {
			// The echo can arrive while the pipeline still waits for a
			// disposition, so each attempt is remembered before it goes out.
			// Rejected attempts are never echoed and expire with the TTL.
			out := e.pipeline.Send(ctx, data, budget, func(html string) error {
				echo.Remember(self, html)
				if err := session.SendChannelMessage(channelID, html); err != nil {
					echo.Consume(self, html)
					return err
				}
				return nil
			})
			e.Post(func() { e.finishImage(out) })
		}()
	})
}

func (e *Engine) finishImage(out transmit.Outcome) {
	e.sending = false
	log := e.log.With().Str("image_id", out.ID.String()).Int("attempts", out.Attempts).Int("budget", out.Budget).Logger()
	switch out.Status {
	case transmit.StatusSent:
		log.Debug().Msg("Image sent")
		e.appendOutgoing(MessageChat, out.HTML)
	case transmit.StatusGaveUp:
		log.Info().Msg("Gave up sending image")
		e.notice("The image is too large for this server")
	default:
		if errors.Is(out.Err, transmit.ErrNotImage) {
			e.notice("That file is not an image")
		} else if !errors.Is(out.Err, context.Canceled) {
			log.Warn().Err(out.Err).Msg("Failed to send image")
			e.notice("Failed to send image: %v", out.Err)
		}
	}
}

// RequestACL fetches a channel's ACL for editing. It shows up in the view
// once the server answers.
func (e *Engine) RequestACL(channelID uint32) {
	e.Post(func() {
		if e.session == nil {
			e.sessionError("request ACL", mumble.ErrNotConnected)
			return
		}
		id := channelID
		e.aclEditing = &id
		if err := e.session.RequestACL(channelID); err != nil {
			e.aclEditing = nil
			e.sessionError("request ACL", err)
		}
	})
}

// SubmitACL stores an edited ACL. Inherited entries are dropped before
// sending.
func (e *Engine) SubmitACL(snapshot mumble.ACLSnapshot) {
	e.Post(func() {
		if e.session == nil {
			e.sessionError("save ACL", mumble.ErrNotConnected)
			return
		}
		editable := snapshot.Editable()
		if err := e.session.SetACL(editable); err != nil {
			e.sessionError("save ACL", err)
			return
		}
		e.editingACL = nil
		if e.classifier.Update(editable) && !e.indexer.UpdateChannelAccess(editable.ChannelID, e.channelAccess(editable.ChannelID)) {
			e.requestRebuild(0)
		}
	})
}

// SubmitPassword answers the pending password prompt: the password is added
// as an access token and the join is retried shortly after.
func (e *Engine) SubmitPassword(password string) {
	e.Post(func() {
		prompt := e.prompt
		if prompt == nil {
			return
		} else if e.session == nil {
			e.sessionError("join channel", mumble.ErrNotConnected)
			return
		}
		password = strings.TrimSpace(password)
		if password == "" {
			e.prompt = nil
			return
		}
		if err := e.store.AddAccessToken(e.ctx, e.host, password); err != nil {
			e.log.Warn().Err(err).Msg("Failed to store access token")
		}
		stored, err := e.store.AccessTokens(e.ctx, e.host)
		if err != nil {
			e.log.Warn().Err(err).Msg("Failed to load access tokens")
			stored = []string{password}
		}
		if err = e.session.SetAccessTokens(e.accessTokens(stored)); err != nil {
			e.sessionError("send access tokens", err)
			return
		}
		e.prompt = nil
		channelID := prompt.ChannelID
		e.passwordJoin = &channelID
		e.AfterFunc(passwordJoinDelay, func() {
			if e.session == nil || e.passwordJoin == nil || *e.passwordJoin != channelID {
				return
			}
			e.pendingJoin = &pendingJoin{channelID: channelID, expires: e.clock.Now().Add(joinIntentTTL)}
			if err := e.session.JoinChannel(channelID); err != nil {
				e.passwordJoin = nil
				e.sessionError("join channel", err)
			}
		})
	})
}

// DismissPrompt closes the password prompt without joining.
func (e *Engine) DismissPrompt() {
	e.Post(func() { e.prompt = nil })
}

// accessTokens merges the configured tokens with stored ones.
func (e *Engine) accessTokens(stored []string) []string {
	seen := make(map[string]struct{})
	var tokens []string
	for _, list := range [][]string{e.cfg.Server.Tokens, stored} {
		for _, token := range list {
			if _, dup := seen[token]; dup || token == "" {
				continue
			}
			seen[token] = struct{}{}
			tokens = append(tokens, token)
		}
	}
	return tokens
}

// SetChannelPassword sets or, with an empty password, removes the password of
// a channel. The current ACL is fetched first and edited when it arrives.
func (e *Engine) SetChannelPassword(channelID uint32, password string) {
	e.Post(func() {
		if e.session == nil {
			e.sessionError("set channel password", mumble.ErrNotConnected)
			return
		}
		if password != "" {
			if _, err := acl.WithPassword(mumble.ACLSnapshot{}, password); err != nil {
				e.notice("Invalid password: %v", err)
				return
			}
		}
		e.pendingPassword[channelID] = password
		if err := e.session.RequestACL(channelID); err != nil {
			delete(e.pendingPassword, channelID)
			e.sessionError("set channel password", err)
		}
	})
}

func (e *Engine) CreateChannel(parentID uint32, name string, temporary bool) {
	e.Post(func() {
		if name = strings.TrimSpace(name); name == "" {
			e.notice("Channel name must not be empty")
			return
		} else if e.session == nil {
			e.sessionError("create channel", mumble.ErrNotConnected)
			return
		}
		e.sessionError("create channel", e.session.CreateChannel(parentID, name, temporary))
	})
}

func (e *Engine) EditChannel(channelID uint32, edit mumble.ChannelEdit) {
	e.Post(func() {
		if e.session == nil {
			e.sessionError("edit channel", mumble.ErrNotConnected)
			return
		}
		e.sessionError("edit channel", e.session.EditChannel(channelID, edit))
	})
}

func (e *Engine) RemoveChannel(channelID uint32) {
	e.Post(func() {
		if channelID == mumble.RootChannelID {
			e.notice("The root channel can't be removed")
			return
		} else if e.session == nil {
			e.sessionError("remove channel", mumble.ErrNotConnected)
			return
		}
		e.sessionError("remove channel", e.session.RemoveChannel(channelID))
	})
}

func (e *Engine) MoveUser(session, channelID uint32) {
	e.Post(func() {
		if e.session == nil {
			e.sessionError("move user", mumble.ErrNotConnected)
			return
		}
		e.sessionError("move user", e.session.MoveUser(session, channelID))
	})
}

func (e *Engine) SetServerMuted(session uint32, muted bool) {
	e.Post(func() {
		if e.session == nil {
			e.sessionError("mute user", mumble.ErrNotConnected)
			return
		}
		e.sessionError("mute user", e.session.SetServerMuted(session, muted))
	})
}

// SetServerDeafened deafens or undeafens another user. Deafening implies a
// server mute; undeafening restores the mute the user had before.
func (e *Engine) SetServerDeafened(session uint32, deafened bool) {
	e.Post(func() {
		if e.session == nil {
			e.sessionError("deafen user", mumble.ErrNotConnected)
			return
		}
		if deafened {
			if _, tracked := e.deafPriorMute[session]; !tracked {
				prior := false
				if item, ok := e.indexer.User(session); ok {
					prior = item.Audio.ServerMuted
				} else if root, ok := e.session.Tree(); ok {
					if user, found := root.FindUser(session); found {
						prior = user.Audio.ServerMuted
					}
				}
				e.deafPriorMute[session] = prior
			}
			e.sessionError("deafen user", e.session.SetServerDeafened(session, true))
			return
		}
		if err := e.session.SetServerDeafened(session, false); err != nil {
			e.sessionError("undeafen user", err)
			return
		}
		prior, tracked := e.deafPriorMute[session]
		delete(e.deafPriorMute, session)
		if tracked {
			e.sessionError("mute user", e.session.SetServerMuted(session, prior))
		}
	})
}

func (e *Engine) SetLocalUserVolume(session uint32, volume float32) {
	e.Post(func() {
		e.updatePreference(session, func(pref *tree.Preference) {
			pref.Volume = min(max(volume, 0), 2)
		})
	})
}

func (e *Engine) SetLocalUserMuted(session uint32, muted bool) {
	e.Post(func() {
		e.updatePreference(session, func(pref *tree.Preference) {
			pref.LocalMuted = muted
		})
	})
}

func (e *Engine) updatePreference(session uint32, fn func(pref *tree.Preference)) {
	var user mumble.UserSnapshot
	var found bool
	if e.session != nil {
		if root, ok := e.session.Tree(); ok {
			user, found = root.FindUser(session)
		}
	}
	if !found {
		e.notice("Unknown user")
		return
	}
	pref, ok := e.prefs[user.Name]
	if !ok {
		pref = tree.DefaultPreference
	}
	fn(&pref)
	e.prefs[user.Name] = pref
	if e.output != nil {
		e.output.SetUserVolume(session, pref.Volume)
		e.output.SetUserMuted(session, pref.LocalMuted)
	}
	if err := e.store.PutUserPreference(e.ctx, e.host, user.Name, pref); err != nil {
		e.log.Warn().Err(err).Str("user", user.Name).Msg("Failed to save user preference")
	}
	if !e.indexer.UpdatePreference(session, pref) {
		e.requestRebuild(0)
	}
}

func (e *Engine) StartListening(channelIDs ...uint32) {
	e.Post(func() {
		if e.session == nil {
			e.sessionError("listen to channel", mumble.ErrNotConnected)
			return
		}
		e.sessionError("listen to channel", e.session.AddListening(channelIDs...))
	})
}

func (e *Engine) StopListening(channelIDs ...uint32) {
	e.Post(func() {
		if e.session == nil {
			e.sessionError("stop listening", mumble.ErrNotConnected)
			return
		}
		e.sessionError("stop listening", e.session.RemoveListening(channelIDs...))
	})
}

func (e *Engine) SetViewMode(mode tree.ViewMode) {
	e.Post(func() {
		if e.mode == mode {
			return
		}
		e.mode = mode
		e.requestRebuild(0)
	})
}

// HardwareRouteChanged tells the reconciler that an audio device was added
// or removed.
func (e *Engine) HardwareRouteChanged(change mutesync.RouteChange) {
	e.Post(func() { e.reconciler.RouteChanged(change) })
}

// RestartAudio restarts the audio engine while the reconciler holds the mute
// state steady.
func (e *Engine) RestartAudio() {
	e.Post(e.restartAudio)
}

func (e *Engine) restartAudio() {
	e.reconciler.BeginAudioRestart()
	if e.audio == nil {
		e.reconciler.AudioRestarted()
		return
	}
	ctx := e.ctx
	go func() {
		if err := e.audio.Restart(ctx); err != nil {
			e.log.Warn().Err(err).Msg("Audio engine restart failed")
		}
		e.Post(e.reconciler.AudioRestarted)
	}()
}

func (e *Engine) SetNotificationEnabled(category NotificationCategory, enabled bool) {
	e.Post(func() {
		if !category.Valid() {
			e.notice("Unknown notification category %q", category)
			return
		}
		e.cfg.Notifications.Categories[category] = enabled
	})
}

// ApplyConfig swaps in a reloaded config. Notification settings apply
// immediately; audio changes restart the audio engine.
func (e *Engine) ApplyConfig(cfg *Config) {
	e.Post(func() {
		audioChanged := e.cfg.AudioChanged(cfg)
		e.cfg = cfg
		if e.mode != cfg.UI.Mode() {
			e.mode = cfg.UI.Mode()
			e.requestRebuild(0)
		}
		e.log.Info().Bool("audio_changed", audioChanged).Msg("Applied reloaded config")
		if audioChanged {
			e.restartAudio()
		}
	})
}
