// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package transmit

import (
	"crypto/sha256"
	"strings"
	"sync"
	"time"
)

// DefaultEchoTTL bounds how long an outbound message waits for its echo.
const DefaultEchoTTL = 2 * time.Minute

type echoKey struct {
	session uint32
	digest  [sha256.Size]byte
}

// EchoFilter remembers content we sent so the server's copy of it can be
// recognised and dropped once.
type EchoFilter struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	pending map[echoKey][]time.Time
}

func NewEchoFilter(ttl time.Duration) *EchoFilter {
	if ttl <= 0 {
		ttl = DefaultEchoTTL
	}
	return &EchoFilter{ttl: ttl, now: time.Now, pending: make(map[echoKey][]time.Time)}
}

func keyFor(session uint32, content string) echoKey {
	return echoKey{session: session, digest: sha256.Sum256([]byte(strings.TrimSpace(content)))}
}

// Remember records one outbound copy of content sent by session.
func (f *EchoFilter) Remember(session uint32, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	f.pruneLocked(now)
	key := keyFor(session, content)
	f.pending[key] = append(f.pending[key], now)
}

// Consume reports whether content from session is the echo of something we
// sent, and forgets that copy.
func (f *EchoFilter) Consume(session uint32, content string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneLocked(f.now())
	key := keyFor(session, content)
	sent := f.pending[key]
	if len(sent) == 0 {
		return false
	}
	if len(sent) == 1 {
		delete(f.pending, key)
	} else {
		f.pending[key] = sent[1:]
	}
	return true
}

// Forget drops every pending copy, used when the session closes.
func (f *EchoFilter) Forget() {
	f.mu.Lock()
	clear(f.pending)
	f.mu.Unlock()
}

func (f *EchoFilter) pruneLocked(now time.Time) {
	for k, sent := range f.pending {
		i := 0
		for i < len(sent) && now.Sub(sent[i]) > f.ttl {
			i++
		}
		if i == len(sent) {
			delete(f.pending, k)
		} else if i > 0 {
			f.pending[k] = sent[i:]
		}
	}
}
