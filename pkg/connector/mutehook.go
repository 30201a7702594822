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
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const muteHookPollInterval = time.Second

var errHookInactive = errors.New("mute hook is not active")

// commandHook is a mumble.MuteHook backed by platform commands. Changes are
// detected with watch when the platform has a change feed, otherwise by
// polling.
type commandHook struct {
	log   zerolog.Logger
	get   func(ctx context.Context) (bool, error)
	set   func(ctx context.Context, muted bool) error
	watch func(ctx context.Context, changed func()) error

	lock     sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	last     bool
	hasLast  bool
	onChange func(muted bool)
}

func (h *commandHook) Activate(ctx context.Context, onChange func(muted bool)) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.cancel != nil {
		h.cancel()
	}
	muted, err := h.get(ctx)
	if err != nil {
		return err
	}
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.last, h.hasLast = muted, true
	h.onChange = onChange
	go h.run(h.ctx)
	return nil
}

func (h *commandHook) run(ctx context.Context) {
	if h.watch != nil {
		err := h.watch(ctx, h.check)
		if err == nil || ctx.Err() != nil {
			return
		}
		h.log.Debug().Err(err).Msg("Mute change feed failed, falling back to polling")
	}
	ticker := time.NewTicker(muteHookPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.check()
		}
	}
}

func (h *commandHook) check() {
	h.lock.Lock()
	ctx := h.ctx
	h.lock.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	muted, err := h.get(ctx)
	if err != nil {
		h.log.Debug().Err(err).Msg("Failed to read hardware mute")
		return
	}
	h.lock.Lock()
	changed := !h.hasLast || muted != h.last
	h.last, h.hasLast = muted, true
	onChange := h.onChange
	h.lock.Unlock()
	if changed && onChange != nil {
		onChange(muted)
	}
}

func (h *commandHook) Cleanup() {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.cancel != nil {
		h.cancel()
	}
	h.ctx, h.cancel, h.onChange = nil, nil, nil
	h.hasLast = false
}

func (h *commandHook) IsMuted() (bool, error) {
	h.lock.Lock()
	ctx := h.ctx
	h.lock.Unlock()
	if ctx == nil {
		return false, errHookInactive
	}
	return h.get(ctx)
}

func (h *commandHook) SetMuted(muted bool) error {
	h.lock.Lock()
	ctx := h.ctx
	h.lock.Unlock()
	if ctx == nil {
		return errHookInactive
	}
	if err := h.set(ctx, muted); err != nil {
		return err
	}
	h.lock.Lock()
	h.last, h.hasLast = muted, true
	h.lock.Unlock()
	return nil
}

func isCommandMissing(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "executable file not found") ||
		strings.Contains(err.Error(), "no such file or directory"))
}
