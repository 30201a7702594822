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
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.mau.fi/util/ptr"
	"layeh.com/gumble/gumble"
	"layeh.com/gumble/gumble/MumbleProto"
	"layeh.com/gumble/gumbleutil"

	"github.com/lrhodin/mumblesync/pkg/mumble"
	"github.com/lrhodin/mumblesync/pkg/router"
)

// gumbleState is the snapshot published after every gumble callback.
type gumbleState struct {
	root *mumble.ChannelSnapshot
	self mumble.UserSnapshot
}

// GumbleSession implements mumble.Session on top of gumble. Every gumble
// callback is converted into plain snapshots and published on the bus; the
// engine never sees a gumble object.
type GumbleSession struct {
	log zerolog.Logger
	cfg ServerConfig
	bus *router.Bus

	lock   sync.RWMutex
	client *gumble.Client
	tokens []string
	done   chan struct{}

	state atomic.Pointer[gumbleState]

	// Only touched from gumble's event goroutine.
	userChannels map[uint32]uint32
	userNames    map[uint32]string
}

var _ mumble.Session = (*GumbleSession)(nil)

func NewGumbleSession(log zerolog.Logger, cfg ServerConfig, bus *router.Bus) *GumbleSession {
	if bus == nil {
		bus = router.Default
	}
	return &GumbleSession{
		log:          log.With().Str("component", "gumble").Str("server", cfg.Address).Logger(),
		cfg:          cfg,
		bus:          bus,
		tokens:       append([]string(nil), cfg.Tokens...),
		userChannels: make(map[uint32]uint32),
		userNames:    make(map[uint32]string),
	}
}

// Connect dials the server. The returned channel is closed when the
// connection ends for any reason.
func (s *GumbleSession) Connect(ctx context.Context) (<-chan struct{}, error) {
	config := gumble.NewConfig()
	config.Username = s.cfg.Username
	config.Password = s.cfg.Password
	s.lock.RLock()
	config.Tokens = gumble.AccessTokens(append([]string(nil), s.tokens...))
	s.lock.RUnlock()
	config.Attach(gumbleutil.Listener{
		Connect:          s.onConnect,
		Disconnect:       s.onDisconnect,
		ServerConfig:     s.onServerConfig,
		UserChange:       s.onUserChange,
		ChannelChange:    s.onChannelChange,
		PermissionDenied: s.onPermissionDenied,
		ACL:              s.onACL,
		TextMessage:      s.onTextMessage,
	})

	tlsConfig := &tls.Config{InsecureSkipVerify: s.cfg.InsecureTLS}
	if s.cfg.Certificate != "" {
		cert, err := s.cfg.LoadCertificate()
		if err != nil {
			return nil, err
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	dialer := &net.Dialer{Timeout: s.cfg.ConnectTimeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	done := make(chan struct{})
	s.lock.Lock()
	s.done = done
	s.lock.Unlock()
	s.log.Info().Msg("Connecting to server")
	client, err := gumble.DialWithDialer(dialer, s.cfg.Address, config, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", s.cfg.Address, err)
	}
	s.lock.Lock()
	s.client = client
	s.lock.Unlock()
	return done, nil
}

// Disconnect closes the connection if there is one.
func (s *GumbleSession) Disconnect() {
	s.lock.RLock()
	client := s.client
	s.lock.RUnlock()
	if client != nil {
		if err := client.Disconnect(); err != nil {
			s.log.Debug().Err(err).Msg("Error while disconnecting")
		}
	}
}

func (s *GumbleSession) IsConnected() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.client != nil && s.client.State() == gumble.StateSynced
}

func (s *GumbleSession) Host() string {
	return s.cfg.Host()
}

func (s *GumbleSession) Tree() (*mumble.ChannelSnapshot, bool) {
	state := s.state.Load()
	if state == nil || state.root == nil {
		return nil, false
	}
	return state.root, true
}

func (s *GumbleSession) Self() (mumble.UserSnapshot, bool) {
	state := s.state.Load()
	if state == nil {
		return mumble.UserSnapshot{}, false
	}
	return state.self, true
}

// do runs fn with the synced client, holding gumble's state lock.
func (s *GumbleSession) do(fn func(client *gumble.Client) error) error {
	s.lock.RLock()
	client := s.client
	s.lock.RUnlock()
	if client == nil || client.State() != gumble.StateSynced {
		return mumble.ErrNotConnected
	}
	var err error
	client.Do(func() {
		err = fn(client)
	})
	return err
}

func lookupChannel(client *gumble.Client, id uint32) (*gumble.Channel, error) {
	ch, ok := client.Channels[id]
	if !ok {
		return nil, fmt.Errorf("unknown channel %d", id)
	}
	return ch, nil
}

func lookupUser(client *gumble.Client, session uint32) (*gumble.User, error) {
	user, ok := client.Users[session]
	if !ok {
		return nil, fmt.Errorf("unknown user session %d", session)
	}
	return user, nil
}

func (s *GumbleSession) JoinChannel(channelID uint32) error {
	return s.do(func(client *gumble.Client) error {
		ch, err := lookupChannel(client, channelID)
		if err != nil {
			return err
		}
		client.Self.Move(ch)
		return nil
	})
}

func (s *GumbleSession) MoveUser(session, channelID uint32) error {
	return s.do(func(client *gumble.Client) error {
		user, err := lookupUser(client, session)
		if err != nil {
			return err
		}
		ch, err := lookupChannel(client, channelID)
		if err != nil {
			return err
		}
		user.Move(ch)
		return nil
	})
}

func (s *GumbleSession) SetSelfMuteDeafen(muted, deafened bool) error {
	return s.do(func(client *gumble.Client) error {
		session := client.Self.Session
		return client.Conn.WriteProto(&MumbleProto.UserState{
			Session:  &session,
			SelfMute: &muted,
			SelfDeaf: &deafened,
		})
	})
}

func (s *GumbleSession) RegisterSelf() error {
	return s.do(func(client *gumble.Client) error {
		client.Self.Register()
		return nil
	})
}

func (s *GumbleSession) SetServerMuted(session uint32, muted bool) error {
	return s.do(func(client *gumble.Client) error {
		user, err := lookupUser(client, session)
		if err != nil {
			return err
		}
		user.SetMuted(muted)
		return nil
	})
}

func (s *GumbleSession) SetServerDeafened(session uint32, deafened bool) error {
	return s.do(func(client *gumble.Client) error {
		user, err := lookupUser(client, session)
		if err != nil {
			return err
		}
		user.SetDeafened(deafened)
		return nil
	})
}

func (s *GumbleSession) CreateChannel(parentID uint32, name string, temporary bool) error {
	return s.do(func(client *gumble.Client) error {
		parent, err := lookupChannel(client, parentID)
		if err != nil {
			return err
		}
		parent.Add(name, temporary)
		return nil
	})
}

func (s *GumbleSession) EditChannel(channelID uint32, edit mumble.ChannelEdit) error {
	return s.do(func(client *gumble.Client) error {
		if _, err := lookupChannel(client, channelID); err != nil {
			return err
		}
		return client.Conn.WriteProto(&MumbleProto.ChannelState{
			ChannelId:   ptr.Ptr(channelID),
			Name:        edit.Name,
			Description: edit.Description,
			Position:    edit.Position,
			MaxUsers:    edit.MaxUsers,
		})
	})
}

func (s *GumbleSession) RemoveChannel(channelID uint32) error {
	return s.do(func(client *gumble.Client) error {
		ch, err := lookupChannel(client, channelID)
		if err != nil {
			return err
		}
		ch.Remove()
		return nil
	})
}

func (s *GumbleSession) RequestACL(channelID uint32) error {
	return s.do(func(client *gumble.Client) error {
		ch, err := lookupChannel(client, channelID)
		if err != nil {
			return err
		}
		ch.RequestACL()
		return nil
	})
}

func (s *GumbleSession) SetACL(acl mumble.ACLSnapshot) error {
	return s.do(func(client *gumble.Client) error {
		ch, err := lookupChannel(client, acl.ChannelID)
		if err != nil {
			return err
		}
		client.Send(toGumbleACL(ch, acl))
		return nil
	})
}

func (s *GumbleSession) RequestPermission(channelID uint32) error {
	return s.do(func(client *gumble.Client) error {
		ch, err := lookupChannel(client, channelID)
		if err != nil {
			return err
		}
		ch.RequestPermission()
		return nil
	})
}

func (s *GumbleSession) RequestDescription(channelID uint32) error {
	return s.do(func(client *gumble.Client) error {
		ch, err := lookupChannel(client, channelID)
		if err != nil {
			return err
		}
		ch.RequestDescription()
		return nil
	})
}

func (s *GumbleSession) RequestComment(session uint32) error {
	return s.do(func(client *gumble.Client) error {
		user, err := lookupUser(client, session)
		if err != nil {
			return err
		}
		user.RequestComment()
		return nil
	})
}

// SetAccessTokens replaces the token list, which is also used on reconnect.
func (s *GumbleSession) SetAccessTokens(tokens []string) error {
	s.lock.Lock()
	s.tokens = append([]string(nil), tokens...)
	s.lock.Unlock()
	return s.do(func(client *gumble.Client) error {
		client.Config.Tokens = gumble.AccessTokens(tokens)
		client.Send(gumble.AccessTokens(tokens))
		return nil
	})
}

func (s *GumbleSession) SendChannelMessage(channelID uint32, html string) error {
	return s.do(func(client *gumble.Client) error {
		ch, err := lookupChannel(client, channelID)
		if err != nil {
			return err
		}
		ch.Send(html, false)
		return nil
	})
}

func (s *GumbleSession) SendUserMessage(session uint32, html string) error {
	return s.do(func(client *gumble.Client) error {
		user, err := lookupUser(client, session)
		if err != nil {
			return err
		}
		user.Send(html)
		return nil
	})
}

// AddListening is not available: gumble predates channel listeners.
func (s *GumbleSession) AddListening(...uint32) error {
	return mumble.ErrUnsupported
}

func (s *GumbleSession) RemoveListening(...uint32) error {
	return mumble.ErrUnsupported
}

func (s *GumbleSession) refresh(client *gumble.Client) {
	state := &gumbleState{root: snapshotTree(client)}
	if client.Self != nil {
		state.self = snapshotUser(client.Self)
	}
	s.state.Store(state)
}

func (s *GumbleSession) onConnect(evt *gumble.ConnectEvent) {
	s.refresh(evt.Client)
	clear(s.userChannels)
	clear(s.userNames)
	for session, user := range evt.Client.Users {
		s.userNames[session] = user.Name
		if user.Channel != nil {
			s.userChannels[session] = user.Channel.ID
		}
	}
	payload := router.Payload{
		router.KeyHost: s.Host(),
		router.KeySelf: snapshotUser(evt.Client.Self),
	}
	if evt.WelcomeMessage != nil {
		payload[router.KeyWelcome] = *evt.WelcomeMessage
	}
	s.log.Info().Int("users", len(evt.Client.Users)).Int("channels", len(evt.Client.Channels)).Msg("Connected to server")
	s.bus.Publish(router.SessionOpened, payload)
}

func (s *GumbleSession) onDisconnect(evt *gumble.DisconnectEvent) {
	s.state.Store(nil)
	s.lock.Lock()
	s.client = nil
	done := s.done
	s.done = nil
	s.lock.Unlock()
	kicked := evt.Type == gumble.DisconnectKicked || evt.Type == gumble.DisconnectBanned
	s.log.Info().Str("reason", evt.String).Bool("kicked", kicked).Msg("Disconnected from server")
	s.bus.Publish(router.SessionClosed, router.Payload{
		router.KeyReason: evt.String,
		router.KeyKicked: kicked,
	})
	if done != nil {
		close(done)
	}
}

func (s *GumbleSession) onServerConfig(evt *gumble.ServerConfigEvent) {
	payload := router.Payload{}
	if evt.MaximumMessageLength != nil {
		payload[router.KeyMaxMessageLength] = *evt.MaximumMessageLength
	}
	if evt.MaximumImageMessageLength != nil {
		payload[router.KeyMaxImageMessageLength] = *evt.MaximumImageMessageLength
	}
	if evt.AllowHTML != nil {
		payload[router.KeyAllowHTML] = *evt.AllowHTML
	}
	s.bus.Publish(router.ServerConfig, payload)
}

func (s *GumbleSession) onUserChange(evt *gumble.UserChangeEvent) {
	if evt.User == nil {
		return
	}
	s.refresh(evt.Client)
	user := snapshotUser(evt.User)
	payload := router.Payload{router.KeyUser: user}
	if evt.Actor != nil {
		payload[router.KeyActor] = snapshotUser(evt.Actor)
	}
	isSelf := evt.Client.Self != nil && evt.User.Session == evt.Client.Self.Session

	switch {
	case evt.Type.Has(gumble.UserChangeConnected):
		s.userNames[user.Session] = user.Name
		s.userChannels[user.Session] = user.ChannelID
		s.bus.Publish(router.UserJoined, payload)
		return
	case evt.Type.Has(gumble.UserChangeDisconnected):
		delete(s.userNames, user.Session)
		delete(s.userChannels, user.Session)
		payload[router.KeyReason] = evt.String
		payload[router.KeyKicked] = evt.Type.Has(gumble.UserChangeKicked) || evt.Type.Has(gumble.UserChangeBanned)
		s.bus.Publish(router.UserLeft, payload)
		return
	}
	if evt.Type.Has(gumble.UserChangeChannel) {
		from := s.userChannels[user.Session]
		s.userChannels[user.Session] = user.ChannelID
		moved := router.Payload{
			router.KeyUser:          user,
			router.KeyFromChannelID: from,
			router.KeyToChannelID:   user.ChannelID,
		}
		if actor, ok := payload[router.KeyActor]; ok {
			moved[router.KeyActor] = actor
		}
		s.bus.Publish(router.UserMoved, moved)
	}
	if evt.Type.Has(gumble.UserChangeName) {
		old := s.userNames[user.Session]
		s.userNames[user.Session] = user.Name
		s.bus.Publish(router.UserRenamed, router.Payload{router.KeyUser: user, router.KeyOldName: old})
	}
	if evt.Type.Has(gumble.UserChangeAudio) && isSelf {
		s.bus.Publish(router.SelfMuteDeafen, router.Payload{
			router.KeyMuted:    user.Audio.SelfMuted,
			router.KeyDeafened: user.Audio.SelfDeafened,
		})
	}
	s.bus.Publish(router.UserState, payload)
}

func (s *GumbleSession) onChannelChange(evt *gumble.ChannelChangeEvent) {
	if evt.Channel == nil {
		return
	}
	id := evt.Channel.ID
	s.refresh(evt.Client)
	if evt.Type.Has(gumble.ChannelChangeRemoved) {
		s.bus.Publish(router.ChannelRemoved, router.Payload{
			router.KeyChannelID: id,
			router.KeyName:      evt.Channel.Name,
		})
		return
	}
	snapshot := snapshotChannel(evt.Channel, false)
	switch {
	case evt.Type.Has(gumble.ChannelChangeCreated):
		s.bus.Publish(router.ChannelAdded, router.Payload{router.KeyChannel: snapshot})
	case evt.Type.Has(gumble.ChannelChangeName):
		s.bus.Publish(router.ChannelRenamed, router.Payload{
			router.KeyChannelID: id,
			router.KeyName:      evt.Channel.Name,
		})
	case evt.Type != gumble.ChannelChangePermission:
		s.bus.Publish(router.ChannelChanged, router.Payload{router.KeyChannel: snapshot})
	}
	if evt.Type.Has(gumble.ChannelChangePermission) {
		if perm := evt.Channel.Permission(); perm != nil {
			s.bus.Publish(router.PermissionQuery, router.Payload{
				router.KeyChannelID:   id,
				router.KeyPermissions: mumble.Permission(uint32(*perm)),
			})
		}
	}
}

var denialKinds = map[gumble.PermissionDeniedType]mumble.DenialKind{
	gumble.PermissionDeniedOther:              mumble.DenialOther,
	gumble.PermissionDeniedPermission:         mumble.DenialPermission,
	gumble.PermissionDeniedSuperUser:          mumble.DenialSuperUser,
	gumble.PermissionDeniedInvalidChannelName: mumble.DenialInvalidChannelName,
	gumble.PermissionDeniedTextTooLong:        mumble.DenialTextTooLong,
	gumble.PermissionDeniedTemporaryChannel:   mumble.DenialTemporaryChannel,
	gumble.PermissionDeniedMissingCertificate: mumble.DenialMissingCertificate,
	gumble.PermissionDeniedInvalidUserName:    mumble.DenialInvalidUserName,
	gumble.PermissionDeniedChannelFull:        mumble.DenialChannelFull,
	gumble.PermissionDeniedNestingLimit:       mumble.DenialNestingLimit,
}

func (s *GumbleSession) onPermissionDenied(evt *gumble.PermissionDeniedEvent) {
	payload := router.Payload{
		router.KeyDenialKind: denialKinds[evt.Type],
		router.KeyPermission: mumble.Permission(uint32(evt.Permission)),
		router.KeyReason:     evt.String,
	}
	if evt.Channel != nil {
		payload[router.KeyChannelID] = evt.Channel.ID
	}
	if evt.User != nil {
		payload[router.KeySession] = evt.User.Session
	}
	s.bus.Publish(router.PermissionDenied, payload)
}

func (s *GumbleSession) onACL(evt *gumble.ACLEvent) {
	if evt.ACL == nil || evt.ACL.Channel == nil {
		return
	}
	snapshot, names := fromGumbleACL(evt.ACL)
	if len(names) > 0 {
		s.bus.Publish(router.UserNamesResolved, router.Payload{router.KeyNames: names})
	}
	s.bus.Publish(router.ACLReceived, router.Payload{router.KeyACL: snapshot})
}

func (s *GumbleSession) onTextMessage(evt *gumble.TextMessageEvent) {
	payload := router.Payload{
		router.KeyHTML:       evt.Message,
		router.KeyChannelIDs: channelIDs(evt.Channels),
		router.KeyTreeIDs:    channelIDs(evt.Trees),
	}
	sessions := make([]uint32, 0, len(evt.Users))
	for _, user := range evt.Users {
		sessions = append(sessions, user.Session)
	}
	payload[router.KeySessions] = sessions
	if evt.Sender != nil {
		payload[router.KeySenderSession] = evt.Sender.Session
		payload[router.KeySenderName] = evt.Sender.Name
	}
	s.bus.Publish(router.TextMessage, payload)
}

func channelIDs(chs []*gumble.Channel) []uint32 {
	ids := make([]uint32, 0, len(chs))
	for _, ch := range chs {
		ids = append(ids, ch.ID)
	}
	return ids
}

func snapshotUser(user *gumble.User) mumble.UserSnapshot {
	if user == nil {
		return mumble.UserSnapshot{UserID: -1}
	}
	snapshot := mumble.UserSnapshot{
		Session: user.Session,
		UserID:  -1,
		Name:    user.Name,
		Comment: user.Comment,
		Audio: mumble.AudioState{
			Authenticated:   user.IsRegistered(),
			SelfMuted:       user.SelfMuted,
			SelfDeafened:    user.SelfDeafened,
			ServerMuted:     user.Muted,
			ServerDeafened:  user.Deafened,
			Suppressed:      user.Suppressed,
			PrioritySpeaker: user.PrioritySpeaker,
		},
	}
	if user.IsRegistered() {
		snapshot.UserID = int64(user.UserID)
	}
	if user.Channel != nil {
		snapshot.ChannelID = user.Channel.ID
	}
	return snapshot
}

func snapshotChannel(ch *gumble.Channel, recursive bool) *mumble.ChannelSnapshot {
	snapshot := &mumble.ChannelSnapshot{
		ID:          ch.ID,
		Name:        ch.Name,
		Description: ch.Description,
		Position:    ch.Position,
		Temporary:   ch.Temporary,
		MaxUsers:    ch.MaxUsers,
	}
	if ch.Parent != nil {
		snapshot.ParentID = ch.Parent.ID
	}
	if !recursive {
		return snapshot
	}
	for _, user := range ch.Users {
		snapshot.Users = append(snapshot.Users, snapshotUser(user))
	}
	mumble.SortUsers(snapshot.Users)
	for _, child := range ch.Children {
		snapshot.Children = append(snapshot.Children, snapshotChannel(child, true))
	}
	mumble.SortChannels(snapshot.Children)
	return snapshot
}

func snapshotTree(client *gumble.Client) *mumble.ChannelSnapshot {
	root, ok := client.Channels[mumble.RootChannelID]
	if !ok {
		return nil
	}
	return snapshotChannel(root, true)
}

func fromGumbleACL(acl *gumble.ACL) (mumble.ACLSnapshot, map[uint32]string) {
	names := make(map[uint32]string)
	snapshot := mumble.ACLSnapshot{
		ChannelID:   acl.Channel.ID,
		InheritACLs: acl.Inherits,
	}
	for _, rule := range acl.Rules {
		entry := mumble.ACLEntry{
			ApplyHere: rule.AppliesCurrent,
			ApplySubs: rule.AppliesChildren,
			Inherited: rule.Inherited,
			UserID:    -1,
			Grant:     mumble.Permission(uint32(rule.Granted)),
			Deny:      mumble.Permission(uint32(rule.Denied)),
		}
		if rule.User != nil {
			entry.UserID = int(rule.User.UserID)
			if rule.User.Name != "" {
				names[rule.User.UserID] = rule.User.Name
			}
		} else if rule.Group != nil {
			entry.Group = rule.Group.Name
		}
		snapshot.Entries = append(snapshot.Entries, entry)
	}
	for _, group := range acl.Groups {
		snapshot.Groups = append(snapshot.Groups, mumble.GroupEntry{
			Name:             group.Name,
			Inherit:          group.InheritUsers,
			Inheritable:      group.Inheritable,
			Members:          aclUserIDs(group.UsersAdd, names),
			ExcludedMembers:  aclUserIDs(group.UsersRemove, names),
			InheritedMembers: aclUserIDs(group.UsersInherited, names),
		})
	}
	return snapshot, names
}

func aclUserIDs(users map[uint32]*gumble.ACLUser, names map[uint32]string) []uint32 {
	ids := make([]uint32, 0, len(users))
	for id, user := range users {
		ids = append(ids, id)
		if user != nil && user.Name != "" {
			names[id] = user.Name
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func toGumbleACL(ch *gumble.Channel, snapshot mumble.ACLSnapshot) *gumble.ACL {
	acl := &gumble.ACL{Channel: ch, Inherits: snapshot.InheritACLs}
	groups := make(map[string]*gumble.ACLGroup, len(snapshot.Groups))
	for _, entry := range snapshot.Groups {
		group := &gumble.ACLGroup{
			Name:           entry.Name,
			InheritUsers:   entry.Inherit,
			Inheritable:    entry.Inheritable,
			UsersAdd:       aclUsers(entry.Members),
			UsersRemove:    aclUsers(entry.ExcludedMembers),
			UsersInherited: aclUsers(entry.InheritedMembers),
		}
		groups[entry.Name] = group
		acl.Groups = append(acl.Groups, group)
	}
	for _, entry := range snapshot.Entries {
		rule := &gumble.ACLRule{
			AppliesCurrent:  entry.ApplyHere,
			AppliesChildren: entry.ApplySubs,
			Inherited:       entry.Inherited,
			Granted:         gumble.Permission(entry.Grant),
			Denied:          gumble.Permission(entry.Deny),
		}
		if entry.IsGroupBased() {
			if group, ok := groups[entry.Group]; ok {
				rule.Group = group
			} else {
				rule.Group = &gumble.ACLGroup{Name: entry.Group}
			}
		} else {
			rule.User = &gumble.ACLUser{UserID: uint32(entry.UserID)}
		}
		acl.Rules = append(acl.Rules, rule)
	}
	return acl
}

func aclUsers(ids []uint32) map[uint32]*gumble.ACLUser {
	users := make(map[uint32]*gumble.ACLUser, len(ids))
	for _, id := range ids {
		users[id] = &gumble.ACLUser{UserID: id}
	}
	return users
}
