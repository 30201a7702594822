// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package mutesync

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lrhodin/mumblesync/pkg/mumble"
)

// Remote is the part of the session the reconciler pushes intent to.
type Remote interface {
	SetSelfMuteDeafen(muted, deafened bool) error
}

// Reconciler keeps the app's self mute/deafen intent, the server's view and
// the hardware mute in agreement. All methods must be called from the
// scheduler's execution context.
type Reconciler struct {
	log     zerolog.Logger
	sched   Scheduler
	timings Timings
	hook    mumble.MuteHook
	remote  Remote
	ctx     context.Context

	intent      Intent
	established bool
	// priorMute is the mute value to restore when deafen is turned off.
	priorMute bool

	server      Intent
	hasServer   bool
	hardware    bool
	hasHardware bool

	state   State
	lockGen uint64
	timers  []func()

	restartSnapshot *Intent

	hookActive    bool
	hardwareDirty bool
	remoteDirty   bool

	onChange func(Intent, State)
}

// New creates a reconciler. hook may be nil when hardware mute integration
// is disabled. onChange is called once per published change.
func New(log zerolog.Logger, sched Scheduler, hook mumble.MuteHook, timings Timings, onChange func(Intent, State)) *Reconciler {
	if onChange == nil {
		onChange = func(Intent, State) {}
	}
	return &Reconciler{
		log:      log.With().Str("component", "mute_reconciler").Logger(),
		sched:    sched,
		timings:  timings.withDefaults(),
		hook:     hook,
		ctx:      context.Background(),
		onChange: onChange,
	}
}

func (r *Reconciler) Intent() Intent {
	return r.intent
}

func (r *Reconciler) State() State {
	return r.state
}

// LastKnownServer returns the most recent server-reported self state.
func (r *Reconciler) LastKnownServer() (Intent, bool) {
	return r.server, r.hasServer
}

// LastKnownHardware returns the most recent hardware-reported mute value.
func (r *Reconciler) LastKnownHardware() (bool, bool) {
	return r.hardware, r.hasHardware
}

// Start activates the hardware hook and aligns it with the current intent.
func (r *Reconciler) Start(ctx context.Context) {
	r.ctx = ctx
	r.activateHook()
	r.pushHardware()
}

// Stop tears down the hook and cancels pending timers.
func (r *Reconciler) Stop() {
	r.stopTimers()
	r.state = State{}
	if r.hook != nil && r.hookActive {
		r.hook.Cleanup()
	}
	r.hookActive = false
}

// Attach binds a newly opened session. The first session's reported state
// becomes the intent; later sessions get the existing intent re-asserted.
func (r *Reconciler) Attach(remote Remote, initial Intent) {
	r.remote = remote
	r.server, r.hasServer = initial, true
	if !r.established {
		r.established = true
		r.priorMute = initial.Muted
		r.intent = initial
		r.log.Debug().Bool("muted", initial.Muted).Bool("deafened", initial.Deafened).Msg("Adopted initial session mute state")
		r.pushHardware()
		r.armEcho()
		r.publish()
		return
	}
	r.remoteDirty = initial != r.intent
	r.retryDirty()
	if initial.HardwareMuted() != r.intent.HardwareMuted() {
		r.pushHardware()
	}
	r.armEcho()
	r.publish()
}

// Detach forgets the session after it closed.
func (r *Reconciler) Detach() {
	r.remote = nil
	r.hasServer = false
	r.remoteDirty = false
}

// SetIntent applies an app-driven intent directly.
func (r *Reconciler) SetIntent(intent Intent) {
	if intent.Deafened {
		intent.Muted = true
	}
	if intent.Deafened && !r.intent.Deafened {
		r.priorMute = r.intent.Muted
	}
	r.applyApp(intent)
}

// ToggleMute flips self mute. It is a no-op while deafened.
func (r *Reconciler) ToggleMute() bool {
	r.retryDirty()
	if r.intent.Deafened {
		r.log.Debug().Msg("Ignoring mute toggle while deafened")
		return false
	}
	r.applyApp(Intent{Muted: !r.intent.Muted})
	return true
}

// ToggleDeafen flips self deafen. Deafening remembers the mute value and
// undeafening restores it.
func (r *Reconciler) ToggleDeafen() {
	r.retryDirty()
	if r.intent.Deafened {
		r.applyApp(Intent{Muted: r.priorMute})
		return
	}
	r.priorMute = r.intent.Muted
	r.applyApp(Intent{Muted: true, Deafened: true})
}

func (r *Reconciler) applyApp(next Intent) {
	r.established = true
	if next == r.intent {
		return
	}
	r.intent = next
	r.pushRemote()
	r.pushHardware()
	r.armEcho()
	r.publish()
}

// HardwareReported handles an asynchronous hardware mute notification.
func (r *Reconciler) HardwareReported(muted bool) {
	r.hardware, r.hasHardware = muted, true
	if r.state.IsReconciling() {
		r.log.Debug().
			Bool("muted", muted).
			Str("reason", string(r.state.Reason)).
			Msg("Discarding hardware mute report while reconciling")
		return
	}
	r.retryDirty()
	if muted == r.intent.HardwareMuted() {
		return
	}
	next := Intent{Muted: muted}
	if muted {
		next.Deafened = r.intent.Deafened
	}
	r.log.Info().Bool("muted", muted).Msg("Adopting external hardware mute change")
	r.established = true
	r.intent = next
	r.pushRemote()
	r.publish()
}

// ServerReported records the server's view of our self flags and adopts it
// when nothing else is in progress.
func (r *Reconciler) ServerReported(muted, deafened bool) {
	reported := Intent{Muted: muted, Deafened: deafened}
	r.server, r.hasServer = reported, true
	if r.state.IsReconciling() {
		return
	}
	r.retryDirty()
	if reported == r.intent {
		r.remoteDirty = false
		return
	}
	r.log.Info().Bool("muted", muted).Bool("deafened", deafened).Msg("Adopting server mute state")
	if deafened && !r.intent.Deafened {
		r.priorMute = r.intent.Muted
	}
	r.intent = reported
	if reported.HardwareMuted() != r.hardware || !r.hasHardware {
		r.pushHardware()
		r.armEcho()
	}
	r.publish()
}

// RouteChanged starts reconciling a hardware route transition: the hook is
// recreated once the route settles and the intent is pushed to it again.
func (r *Reconciler) RouteChanged(change RouteChange) {
	settle := r.timings.DeviceAddedSettle
	if change == RouteDeviceRemoved {
		settle = r.timings.DeviceRemovedSettle
	}
	gen := r.enter(ReasonRouteChange, settle+r.timings.ReleaseDelay)
	r.log.Info().Stringer("change", change).Dur("settle", settle).Msg("Audio route changing")
	r.publish()
	r.schedule(settle, func() {
		if gen != r.lockGen {
			return
		}
		r.recreateHook()
		r.pushHardware()
	})
}

// BeginAudioRestart snapshots the intent before the audio engine restarts.
// If AudioRestarted never arrives the deadline re-asserts the snapshot.
func (r *Reconciler) BeginAudioRestart() {
	snapshot := r.intent
	r.restartSnapshot = &snapshot
	r.enter(ReasonAudioRestart, r.timings.RestartTimeout)
	r.log.Info().Bool("muted", snapshot.Muted).Bool("deafened", snapshot.Deafened).Msg("Audio engine restarting")
	r.publish()
}

// AudioRestarted re-asserts the snapshotted intent after a restart.
func (r *Reconciler) AudioRestarted() {
	if r.restartSnapshot == nil {
		return
	}
	r.reassertAfterRestart()
	gen := r.lockGen
	r.schedule(r.timings.ReleaseDelay, func() {
		if gen == r.lockGen {
			r.release()
		}
	})
}

func (r *Reconciler) reassertAfterRestart() {
	snapshot := *r.restartSnapshot
	r.restartSnapshot = nil
	if snapshot != r.intent {
		r.log.Debug().Msg("Intent changed during audio restart, asserting latest")
	}
	if !r.hasServer || r.server != r.intent {
		r.pushRemote()
	}
	r.recreateHook()
	r.pushHardware()
}

// enter moves into Reconciling and arms the unconditional release timer.
func (r *Reconciler) enter(reason Reason, lifetime time.Duration) uint64 {
	r.stopTimers()
	r.lockGen++
	gen := r.lockGen
	r.state = State{Phase: Reconciling, Reason: reason, Deadline: r.sched.Now().Add(lifetime)}
	r.schedule(lifetime, func() {
		if gen == r.lockGen && r.state.IsReconciling() {
			r.release()
		}
	})
	return gen
}

// armEcho opens a short window for echoes of our own pushes. It never
// shortens or replaces a longer running reconciliation.
func (r *Reconciler) armEcho() {
	if r.state.IsReconciling() && r.state.Reason != ReasonAppEcho {
		return
	}
	r.enter(ReasonAppEcho, r.timings.EchoWindow)
}

func (r *Reconciler) release() {
	reason := r.state.Reason
	if r.restartSnapshot != nil {
		r.log.Warn().Msg("Audio engine restart did not complete in time")
		r.reassertAfterRestart()
	}
	r.stopTimers()
	r.state = State{}
	r.log.Debug().Str("reason", string(reason)).Msg("Reconciliation finished")
	r.retryDirty()
	r.publish()
}

func (r *Reconciler) schedule(d time.Duration, fn func()) {
	r.timers = append(r.timers, r.sched.AfterFunc(d, fn))
}

func (r *Reconciler) stopTimers() {
	for _, stop := range r.timers {
		stop()
	}
	r.timers = nil
}

func (r *Reconciler) activateHook() {
	if r.hook == nil || r.hookActive {
		return
	}
	err := r.hook.Activate(r.ctx, func(muted bool) {
		r.sched.Post(func() { r.HardwareReported(muted) })
	})
	if err != nil {
		r.log.Warn().Err(err).Msg("Failed to activate hardware mute hook")
		r.hardwareDirty = true
		return
	}
	r.hookActive = true
	if muted, err := r.hook.IsMuted(); err == nil {
		r.hardware, r.hasHardware = muted, true
	}
}

func (r *Reconciler) recreateHook() {
	if r.hook == nil {
		return
	}
	if r.hookActive {
		r.hook.Cleanup()
		r.hookActive = false
	}
	r.activateHook()
}

func (r *Reconciler) pushRemote() {
	if r.remote == nil {
		return
	}
	if err := r.remote.SetSelfMuteDeafen(r.intent.Muted, r.intent.Deafened); err != nil {
		r.log.Warn().Err(err).Msg("Failed to push mute state to server")
		r.remoteDirty = true
		return
	}
	r.remoteDirty = false
}

func (r *Reconciler) pushHardware() {
	if r.hook == nil {
		return
	}
	if !r.hookActive {
		r.activateHook()
		if !r.hookActive {
			return
		}
	}
	muted := r.intent.HardwareMuted()
	if err := r.hook.SetMuted(muted); err != nil {
		r.log.Warn().Err(err).Bool("muted", muted).Msg("Failed to set hardware mute")
		r.hardwareDirty = true
		return
	}
	r.hardwareDirty = false
	r.hardware, r.hasHardware = muted, true
}

// retryDirty repeats pushes that failed earlier. Hardware pushes wait while
// a route change is settling.
func (r *Reconciler) retryDirty() {
	if r.remoteDirty {
		r.pushRemote()
	}
	if r.hardwareDirty && !(r.state.IsReconciling() && r.state.Reason == ReasonRouteChange) {
		r.pushHardware()
	}
}

func (r *Reconciler) publish() {
	r.onChange(r.intent, r.state)
}
