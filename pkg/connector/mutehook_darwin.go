// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

//go:build darwin && !ios

package connector

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lrhodin/mumblesync/pkg/mumble"
)

// NewHardwareMuteHook returns a hook that mutes the macOS input by setting
// the input volume to zero, restoring the previous level on unmute.
func NewHardwareMuteHook(log zerolog.Logger, _ string) mumble.MuteHook {
	var lock sync.Mutex
	restore := 75
	return &commandHook{
		log: log.With().Str("component", "mute_hook").Logger(),
		get: func(ctx context.Context) (bool, error) {
			level, err := inputVolume(ctx)
			if err != nil {
				return false, err
			}
			if level > 0 {
				lock.Lock()
				restore = level
				lock.Unlock()
			}
			return level == 0, nil
		},
		set: func(ctx context.Context, muted bool) error {
			lock.Lock()
			level := restore
			lock.Unlock()
			if muted {
				if current, err := inputVolume(ctx); err == nil && current > 0 {
					lock.Lock()
					restore = current
					lock.Unlock()
				}
				level = 0
			}
			script := fmt.Sprintf("set volume input volume %d", level)
			if err := exec.CommandContext(ctx, "osascript", "-e", script).Run(); err != nil {
				if isCommandMissing(err) {
					return fmt.Errorf("osascript unavailable: %w", err)
				}
				return fmt.Errorf("failed to set input volume: %w", err)
			}
			return nil
		},
	}
}

func inputVolume(ctx context.Context) (int, error) {
	out, err := exec.CommandContext(ctx, "osascript", "-e", "input volume of (get volume settings)").Output()
	if err != nil {
		return 0, fmt.Errorf("failed to read input volume: %w", err)
	}
	level, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("unexpected input volume %q", strings.TrimSpace(string(out)))
	}
	return level, nil
}
