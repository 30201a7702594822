// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package mutesync

import (
	"time"
)

// Intent is a self mute/deafen pair.
type Intent struct {
	Muted    bool
	Deafened bool
}

// HardwareMuted is the hardware mute value that matches the intent. Deafen
// always implies a muted microphone.
func (i Intent) HardwareMuted() bool {
	return i.Muted || i.Deafened
}

type Phase int

const (
	Idle Phase = iota
	Reconciling
)

func (p Phase) String() string {
	if p == Reconciling {
		return "reconciling"
	}
	return "idle"
}

// Reason says why hardware reports are currently being discarded.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonAppEcho      Reason = "app_echo"
	ReasonRouteChange  Reason = "route_change"
	ReasonAudioRestart Reason = "audio_restart"
)

// State is Idle, or Reconciling with a reason and a deadline after which it
// is released unconditionally.
type State struct {
	Phase    Phase
	Reason   Reason
	Deadline time.Time
}

func (s State) IsReconciling() bool {
	return s.Phase == Reconciling
}

// RouteChange describes a hardware audio route transition.
type RouteChange int

const (
	RouteDeviceAdded RouteChange = iota
	RouteDeviceRemoved
)

func (r RouteChange) String() string {
	if r == RouteDeviceRemoved {
		return "device_removed"
	}
	return "device_added"
}

// Scheduler runs work on the reconciler's execution context. AfterFunc
// callbacks and Post callbacks must both run on that context.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) (stop func())
	Post(fn func())
}

type Timings struct {
	// EchoWindow covers hardware and server echoes of our own pushes.
	EchoWindow time.Duration `yaml:"echo_window"`
	// DeviceAddedSettle is how long a newly added route needs to settle.
	DeviceAddedSettle time.Duration `yaml:"device_added_settle"`
	// DeviceRemovedSettle is how long a route needs after a device is removed.
	DeviceRemovedSettle time.Duration `yaml:"device_removed_settle"`
	// ReleaseDelay keeps the lock after the hook has been re-armed.
	ReleaseDelay time.Duration `yaml:"release_delay"`
	// RestartTimeout bounds an audio engine restart.
	RestartTimeout time.Duration `yaml:"restart_timeout"`
}

var DefaultTimings = Timings{
	EchoWindow:          500 * time.Millisecond,
	DeviceAddedSettle:   1500 * time.Millisecond,
	DeviceRemovedSettle: 500 * time.Millisecond,
	ReleaseDelay:        500 * time.Millisecond,
	RestartTimeout:      5 * time.Second,
}

func (t Timings) withDefaults() Timings {
	if t.EchoWindow <= 0 {
		t.EchoWindow = DefaultTimings.EchoWindow
	}
	if t.DeviceAddedSettle <= 0 {
		t.DeviceAddedSettle = DefaultTimings.DeviceAddedSettle
	}
	if t.DeviceRemovedSettle <= 0 {
		t.DeviceRemovedSettle = DefaultTimings.DeviceRemovedSettle
	}
	if t.ReleaseDelay <= 0 {
		t.ReleaseDelay = DefaultTimings.ReleaseDelay
	}
	if t.RestartTimeout <= 0 {
		t.RestartTimeout = DefaultTimings.RestartTimeout
	}
	return t
}
