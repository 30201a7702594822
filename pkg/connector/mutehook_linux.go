// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

//go:build linux

package connector

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lrhodin/mumblesync/pkg/mumble"
)

// NewHardwareMuteHook returns a hook that mirrors mute onto a PulseAudio or
// PipeWire source through pactl, or nil if pactl is unavailable.
func NewHardwareMuteHook(log zerolog.Logger, source string) mumble.MuteHook {
	if _, err := exec.LookPath("pactl"); err != nil {
		log.Warn().Err(err).Msg("pactl not found, hardware mute is disabled")
		return nil
	}
	if source == "" {
		source = "@DEFAULT_SOURCE@"
	}
	return &commandHook{
		log: log.With().Str("component", "mute_hook").Str("source", source).Logger(),
		get: func(ctx context.Context) (bool, error) {
			out, err := exec.CommandContext(ctx, "pactl", "get-source-mute", source).Output()
			if err != nil {
				return false, fmt.Errorf("pactl get-source-mute: %w", err)
			}
			return parsePactlMute(string(out))
		},
		set: func(ctx context.Context, muted bool) error {
			value := "0"
			if muted {
				value = "1"
			}
			if out, err := exec.CommandContext(ctx, "pactl", "set-source-mute", source, value).CombinedOutput(); err != nil {
				return fmt.Errorf("pactl set-source-mute: %w: %s", err, strings.TrimSpace(string(out)))
			}
			return nil
		},
		watch: watchPactl,
	}
}

func parsePactlMute(out string) (bool, error) {
	out = strings.TrimSpace(out)
	switch {
	case strings.HasSuffix(out, "yes"):
		return true, nil
	case strings.HasSuffix(out, "no"):
		return false, nil
	}
	return false, fmt.Errorf("unexpected pactl output %q", out)
}

// watchPactl follows `pactl subscribe` and calls changed for source events.
func watchPactl(ctx context.Context, changed func()) error {
	cmd := exec.CommandContext(ctx, "pactl", "subscribe")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err = cmd.Start(); err != nil {
		return err
	}
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if line := scanner.Text(); strings.Contains(line, "'change' on source") || strings.Contains(line, "on server") {
			changed()
		}
	}
	err = cmd.Wait()
	if ctx.Err() != nil {
		return nil
	} else if err == nil {
		err = fmt.Errorf("pactl subscribe exited")
	}
	return err
}
