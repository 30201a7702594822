// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package router

import (
	"fmt"
	"math"

	"github.com/lrhodin/mumblesync/pkg/mumble"
)

// Payload keys used by session adapters.
const (
	KeyHost                  = "host"
	KeyWelcome               = "welcome"
	KeySelf                  = "self"
	KeyUser                  = "user"
	KeyActor                 = "actor"
	KeyReason                = "reason"
	KeyKicked                = "kicked"
	KeyChannel               = "channel"
	KeyChannelID             = "channel_id"
	KeyFromChannelID         = "from_channel_id"
	KeyToChannelID           = "to_channel_id"
	KeyName                  = "name"
	KeyOldName               = "old_name"
	KeySession               = "session"
	KeyTalkState             = "talk_state"
	KeyMuted                 = "muted"
	KeyDeafened              = "deafened"
	KeyACL                   = "acl"
	KeyPermissions           = "permissions"
	KeyPermission            = "permission"
	KeyDenialKind            = "kind"
	KeyAdded                 = "added"
	KeyRemoved               = "removed"
	KeyHTML                  = "html"
	KeySenderSession         = "sender_session"
	KeySenderName            = "sender_name"
	KeyChannelIDs            = "channel_ids"
	KeyTreeIDs               = "tree_ids"
	KeySessions              = "sessions"
	KeyNames                 = "names"
	KeyMaxMessageLength      = "max_message_length"
	KeyMaxImageMessageLength = "max_image_message_length"
	KeyAllowHTML             = "allow_html"
)

// Payload is the loosely typed body of a bus notification.
type Payload map[string]any

// Has reports whether key is present with a non-nil value.
func (p Payload) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

func (p Payload) String(key string) (string, error) {
	switch v := p[key].(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case nil:
		return "", fmt.Errorf("missing %q", key)
	default:
		return "", fmt.Errorf("%q: expected string, got %T", key, v)
	}
}

// OptString returns the empty string when key is absent.
func (p Payload) OptString(key string) (string, error) {
	if !p.Has(key) {
		return "", nil
	}
	return p.String(key)
}

func (p Payload) Bool(key string) (bool, error) {
	switch v := p[key].(type) {
	case bool:
		return v, nil
	case nil:
		return false, fmt.Errorf("missing %q", key)
	default:
		return false, fmt.Errorf("%q: expected bool, got %T", key, v)
	}
}

// OptBool returns false when key is absent.
func (p Payload) OptBool(key string) (bool, error) {
	if !p.Has(key) {
		return false, nil
	}
	return p.Bool(key)
}

func (p Payload) Int64(key string) (int64, error) {
	switch v := p[key].(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("%q: %d out of range", key, v)
		}
		return int64(v), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, fmt.Errorf("%q: %d out of range", key, v)
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%q: %v is not an integer", key, v)
		}
		return int64(v), nil
	case nil:
		return 0, fmt.Errorf("missing %q", key)
	default:
		return 0, fmt.Errorf("%q: expected integer, got %T", key, v)
	}
}

func (p Payload) Uint32(key string) (uint32, error) {
	n, err := p.Int64(key)
	if err != nil {
		return 0, err
	} else if n < 0 || n > math.MaxUint32 {
		return 0, fmt.Errorf("%q: %d out of range", key, n)
	}
	return uint32(n), nil
}

func (p Payload) Int(key string) (int, error) {
	n, err := p.Int64(key)
	if err != nil {
		return 0, err
	} else if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, fmt.Errorf("%q: %d out of range", key, n)
	}
	return int(n), nil
}

// OptInt returns 0 when key is absent.
func (p Payload) OptInt(key string) (int, error) {
	if !p.Has(key) {
		return 0, nil
	}
	return p.Int(key)
}

// Uint32s accepts []uint32 or []any holding integers.
func (p Payload) Uint32s(key string) ([]uint32, error) {
	switch v := p[key].(type) {
	case nil:
		return nil, nil
	case []uint32:
		return append([]uint32(nil), v...), nil
	case []any:
		out := make([]uint32, 0, len(v))
		for i, item := range v {
			n, err := Payload{key: item}.Uint32(key)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
			}
			out = append(out, n)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%q: expected list, got %T", key, v)
	}
}

func (p Payload) User(key string) (mumble.UserSnapshot, error) {
	switch v := p[key].(type) {
	case mumble.UserSnapshot:
		return v, nil
	case *mumble.UserSnapshot:
		if v != nil {
			return *v, nil
		}
	case nil:
	default:
		return mumble.UserSnapshot{}, fmt.Errorf("%q: expected user, got %T", key, v)
	}
	return mumble.UserSnapshot{}, fmt.Errorf("missing %q", key)
}

// OptUser returns nil when key is absent.
func (p Payload) OptUser(key string) (*mumble.UserSnapshot, error) {
	if !p.Has(key) {
		return nil, nil
	}
	u, err := p.User(key)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p Payload) Channel(key string) (mumble.ChannelSnapshot, error) {
	switch v := p[key].(type) {
	case mumble.ChannelSnapshot:
		return v, nil
	case *mumble.ChannelSnapshot:
		if v != nil {
			return *v, nil
		}
	case nil:
	default:
		return mumble.ChannelSnapshot{}, fmt.Errorf("%q: expected channel, got %T", key, v)
	}
	return mumble.ChannelSnapshot{}, fmt.Errorf("missing %q", key)
}

func (p Payload) ACL(key string) (mumble.ACLSnapshot, error) {
	switch v := p[key].(type) {
	case mumble.ACLSnapshot:
		return v.Clone(), nil
	case *mumble.ACLSnapshot:
		if v != nil {
			return v.Clone(), nil
		}
	case nil:
	default:
		return mumble.ACLSnapshot{}, fmt.Errorf("%q: expected acl, got %T", key, v)
	}
	return mumble.ACLSnapshot{}, fmt.Errorf("missing %q", key)
}

func (p Payload) Names(key string) (map[uint32]string, error) {
	switch v := p[key].(type) {
	case map[uint32]string:
		out := make(map[uint32]string, len(v))
		for k, name := range v {
			out[k] = name
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("missing %q", key)
	default:
		return nil, fmt.Errorf("%q: expected name map, got %T", key, v)
	}
}
