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
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NotificationCategory groups system notifications so they can be toggled
// individually.
type NotificationCategory string

const (
	NotifyUserJoinedSameChannel   NotificationCategory = "user_joined_same_channel"
	NotifyUserLeftSameChannel     NotificationCategory = "user_left_same_channel"
	NotifyUserJoinedOtherChannels NotificationCategory = "user_joined_other_channels"
	NotifyUserLeftOtherChannels   NotificationCategory = "user_left_other_channels"
	NotifyUserMoved               NotificationCategory = "user_moved"
	NotifyMovedByAdmin            NotificationCategory = "moved_by_admin"
	NotifyMuteDeafen              NotificationCategory = "mute_deafen"
	NotifyChannelListening        NotificationCategory = "channel_listening"
	NotifyTextMessage             NotificationCategory = "text_message"
	NotifyPrivateMessage          NotificationCategory = "private_message"
)

var AllNotificationCategories = []NotificationCategory{
	NotifyUserJoinedSameChannel,
	NotifyUserLeftSameChannel,
	NotifyUserJoinedOtherChannels,
	NotifyUserLeftOtherChannels,
	NotifyUserMoved,
	NotifyMovedByAdmin,
	NotifyMuteDeafen,
	NotifyChannelListening,
	NotifyTextMessage,
	NotifyPrivateMessage,
}

func (c NotificationCategory) Valid() bool {
	for _, known := range AllNotificationCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Notifier shows a system notification. Implementations must not block.
type Notifier interface {
	Notify(category NotificationCategory, title, body string)
}

// DesktopNotifier shells out to the platform notification tool.
type DesktopNotifier struct {
	log     zerolog.Logger
	timeout time.Duration
}

func NewDesktopNotifier(log zerolog.Logger) *DesktopNotifier {
	return &DesktopNotifier{
		log:     log.With().Str("component", "notifier").Logger(),
		timeout: 5 * time.Second,
	}
}

func (n *DesktopNotifier) Notify(category NotificationCategory, title, body string) {
	title = sanitizeNotification(title)
	body = sanitizeNotification(body)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		cmd := notificationCommand(ctx, title, body)
		if cmd == nil {
			return
		}
		if err := cmd.Run(); err != nil {
			n.log.Debug().Err(err).Str("category", string(category)).Msg("Failed to show notification")
		}
	}()
}

func notificationCommand(ctx context.Context, title, body string) *exec.Cmd {
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`, body, title)
		return exec.CommandContext(ctx, "osascript", "-e", script)
	case "linux", "freebsd", "openbsd":
		return exec.CommandContext(ctx, "notify-send", "--app-name=mumblesync", title, body)
	default:
		return nil
	}
}

// sanitizeNotification strips characters that break osascript quoting and
// truncates long bodies.
func sanitizeNotification(s string) string {
	s = strings.ReplaceAll(s, "\\", "")
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	return s
}
