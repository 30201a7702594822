// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package router

import (
	"errors"
	"fmt"

	"github.com/lrhodin/mumblesync/pkg/mumble"
)

type decoder func(Payload) (mumble.Event, error)

var decoders = map[Name]decoder{
	SessionOpened:     decodeSessionOpened,
	SessionClosed:     decodeSessionClosed,
	ServerConfig:      decodeServerConfig,
	UserJoined:        decodeUserJoined,
	UserLeft:          decodeUserLeft,
	UserMoved:         decodeUserMoved,
	UserRenamed:       decodeUserRenamed,
	UserState:         decodeUserState,
	UserTalkState:     decodeTalkState,
	SelfMuteDeafen:    decodeSelfMuteDeafen,
	ChannelAdded:      decodeChannelAdded,
	ChannelRemoved:    decodeChannelRemoved,
	ChannelRenamed:    decodeChannelRenamed,
	ChannelChanged:    decodeChannelChanged,
	ACLReceived:       decodeACL,
	PermissionQuery:   decodePermissionQuery,
	PermissionDenied:  decodePermissionDenied,
	ListeningChanged:  decodeListening,
	TextMessage:       decodeTextMessage,
	UserNamesResolved: decodeNames,
}

// Names returns every notification name the router understands.
func Names() []Name {
	names := make([]Name, 0, len(decoders))
	for name := range decoders {
		names = append(names, name)
	}
	return names
}

// Decode converts a payload into its typed event.
func Decode(name Name, p Payload) (mumble.Event, error) {
	dec, ok := decoders[name]
	if !ok {
		return nil, fmt.Errorf("unknown notification %q", name)
	} else if p == nil {
		return nil, errors.New("nil payload")
	}
	return dec(p)
}

func decodeSessionOpened(p Payload) (mumble.Event, error) {
	self, err := p.User(KeySelf)
	if err != nil {
		return nil, err
	}
	host, err := p.OptString(KeyHost)
	if err != nil {
		return nil, err
	}
	welcome, err := p.OptString(KeyWelcome)
	if err != nil {
		return nil, err
	}
	return mumble.SessionOpened{Host: host, WelcomeMessage: welcome, Self: self}, nil
}

func decodeSessionClosed(p Payload) (mumble.Event, error) {
	reason, err := p.OptString(KeyReason)
	if err != nil {
		return nil, err
	}
	kicked, err := p.OptBool(KeyKicked)
	if err != nil {
		return nil, err
	}
	return mumble.SessionClosed{Reason: reason, Kicked: kicked}, nil
}

func decodeServerConfig(p Payload) (evt mumble.Event, err error) {
	var cfg mumble.ServerConfigReceived
	if cfg.MaxMessageLength, err = p.OptInt(KeyMaxMessageLength); err != nil {
		return nil, err
	} else if cfg.MaxImageMessageLength, err = p.OptInt(KeyMaxImageMessageLength); err != nil {
		return nil, err
	} else if cfg.AllowHTML, err = p.OptBool(KeyAllowHTML); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeUserJoined(p Payload) (mumble.Event, error) {
	user, err := p.User(KeyUser)
	if err != nil {
		return nil, err
	}
	return mumble.UserJoined{User: user}, nil
}

func decodeUserLeft(p Payload) (evt mumble.Event, err error) {
	var left mumble.UserLeft
	if left.User, err = p.User(KeyUser); err != nil {
		return nil, err
	} else if left.Actor, err = p.OptUser(KeyActor); err != nil {
		return nil, err
	} else if left.Reason, err = p.OptString(KeyReason); err != nil {
		return nil, err
	} else if left.Kicked, err = p.OptBool(KeyKicked); err != nil {
		return nil, err
	}
	return left, nil
}

func decodeUserMoved(p Payload) (evt mumble.Event, err error) {
	var moved mumble.UserMoved
	if moved.User, err = p.User(KeyUser); err != nil {
		return nil, err
	} else if moved.FromChannelID, err = p.Uint32(KeyFromChannelID); err != nil {
		return nil, err
	} else if moved.ToChannelID, err = p.Uint32(KeyToChannelID); err != nil {
		return nil, err
	} else if moved.Actor, err = p.OptUser(KeyActor); err != nil {
		return nil, err
	}
	return moved, nil
}

func decodeUserRenamed(p Payload) (evt mumble.Event, err error) {
	var renamed mumble.UserRenamed
	if renamed.User, err = p.User(KeyUser); err != nil {
		return nil, err
	} else if renamed.OldName, err = p.OptString(KeyOldName); err != nil {
		return nil, err
	}
	return renamed, nil
}

func decodeUserState(p Payload) (evt mumble.Event, err error) {
	var changed mumble.UserStateChanged
	if changed.User, err = p.User(KeyUser); err != nil {
		return nil, err
	} else if changed.Actor, err = p.OptUser(KeyActor); err != nil {
		return nil, err
	}
	return changed, nil
}

func decodeTalkState(p Payload) (mumble.Event, error) {
	session, err := p.Uint32(KeySession)
	if err != nil {
		return nil, err
	}
	var state mumble.TalkState
	switch v := p[KeyTalkState].(type) {
	case mumble.TalkState:
		state = v
	default:
		n, err := p.Int(KeyTalkState)
		if err != nil {
			return nil, err
		}
		state = mumble.TalkState(n)
	}
	if state < mumble.TalkPassive || state > mumble.TalkShouting {
		return nil, fmt.Errorf("%q: unknown talk state %d", KeyTalkState, state)
	}
	return mumble.TalkStateChanged{Session: session, TalkState: state}, nil
}

func decodeSelfMuteDeafen(p Payload) (mumble.Event, error) {
	muted, err := p.Bool(KeyMuted)
	if err != nil {
		return nil, err
	}
	deafened, err := p.Bool(KeyDeafened)
	if err != nil {
		return nil, err
	}
	return mumble.SelfMuteDeafenChanged{Muted: muted, Deafened: deafened}, nil
}

func decodeChannelAdded(p Payload) (mumble.Event, error) {
	ch, err := p.Channel(KeyChannel)
	if err != nil {
		return nil, err
	}
	return mumble.ChannelAdded{Channel: ch}, nil
}

func decodeChannelRemoved(p Payload) (mumble.Event, error) {
	id, err := p.Uint32(KeyChannelID)
	if err != nil {
		return nil, err
	}
	name, err := p.OptString(KeyName)
	if err != nil {
		return nil, err
	}
	return mumble.ChannelRemoved{ChannelID: id, Name: name}, nil
}

func decodeChannelRenamed(p Payload) (mumble.Event, error) {
	id, err := p.Uint32(KeyChannelID)
	if err != nil {
		return nil, err
	}
	name, err := p.String(KeyName)
	if err != nil {
		return nil, err
	}
	return mumble.ChannelRenamed{ChannelID: id, Name: name}, nil
}

func decodeChannelChanged(p Payload) (mumble.Event, error) {
	ch, err := p.Channel(KeyChannel)
	if err != nil {
		return nil, err
	}
	return mumble.ChannelChanged{Channel: ch}, nil
}

func decodeACL(p Payload) (mumble.Event, error) {
	acl, err := p.ACL(KeyACL)
	if err != nil {
		return nil, err
	}
	return mumble.ACLReceived{ACL: acl}, nil
}

func decodePermissionQuery(p Payload) (mumble.Event, error) {
	id, err := p.Uint32(KeyChannelID)
	if err != nil {
		return nil, err
	}
	perms, err := permissionField(p, KeyPermissions)
	if err != nil {
		return nil, err
	}
	return mumble.PermissionQueryResult{ChannelID: id, Permissions: perms}, nil
}

func decodePermissionDenied(p Payload) (evt mumble.Event, err error) {
	var denied mumble.PermissionDenied
	switch v := p[KeyDenialKind].(type) {
	case mumble.DenialKind:
		denied.Kind = v
	default:
		n, err := p.Int(KeyDenialKind)
		if err != nil {
			return nil, err
		}
		denied.Kind = mumble.DenialKind(n)
	}
	if denied.Kind < mumble.DenialOther || denied.Kind > mumble.DenialNestingLimit {
		denied.Kind = mumble.DenialOther
	}
	if p.Has(KeyChannelID) {
		if denied.ChannelID, err = p.Uint32(KeyChannelID); err != nil {
			return nil, err
		}
		denied.HasChannel = true
	}
	if p.Has(KeyPermission) {
		if denied.Permission, err = permissionField(p, KeyPermission); err != nil {
			return nil, err
		}
	}
	if denied.Reason, err = p.OptString(KeyReason); err != nil {
		return nil, err
	}
	return denied, nil
}

func decodeListening(p Payload) (evt mumble.Event, err error) {
	var changed mumble.ListeningChannelsChanged
	if changed.Session, err = p.Uint32(KeySession); err != nil {
		return nil, err
	} else if changed.Added, err = p.Uint32s(KeyAdded); err != nil {
		return nil, err
	} else if changed.Removed, err = p.Uint32s(KeyRemoved); err != nil {
		return nil, err
	}
	return changed, nil
}

func decodeTextMessage(p Payload) (evt mumble.Event, err error) {
	var msg mumble.TextMessageReceived
	if msg.HTML, err = p.String(KeyHTML); err != nil {
		return nil, err
	}
	if p.Has(KeySenderSession) {
		if msg.SenderSession, err = p.Uint32(KeySenderSession); err != nil {
			return nil, err
		}
		msg.HasSender = true
	}
	if msg.SenderName, err = p.OptString(KeySenderName); err != nil {
		return nil, err
	} else if msg.ChannelIDs, err = p.Uint32s(KeyChannelIDs); err != nil {
		return nil, err
	} else if msg.TreeIDs, err = p.Uint32s(KeyTreeIDs); err != nil {
		return nil, err
	} else if msg.Sessions, err = p.Uint32s(KeySessions); err != nil {
		return nil, err
	}
	return msg, nil
}

func decodeNames(p Payload) (mumble.Event, error) {
	names, err := p.Names(KeyNames)
	if err != nil {
		return nil, err
	}
	return mumble.UserNamesResolved{Names: names}, nil
}

func permissionField(p Payload, key string) (mumble.Permission, error) {
	if perm, ok := p[key].(mumble.Permission); ok {
		return perm, nil
	}
	n, err := p.Int64(key)
	if err != nil {
		return 0, err
	} else if n < 0 || n > 0xFFFFFFFF {
		return 0, fmt.Errorf("%q: %d out of range", key, n)
	}
	return mumble.Permission(n), nil
}
