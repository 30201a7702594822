package mutesync

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	at      time.Time
	seq     int
	fn      func()
	stopped bool
}

type fakeScheduler struct {
	now    time.Time
	seq    int
	timers []*fakeTimer
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{now: time.Unix(1700000000, 0)}
}

func (s *fakeScheduler) Now() time.Time { return s.now }

func (s *fakeScheduler) Post(fn func()) { fn() }

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) func() {
	s.seq++
	t := &fakeTimer{at: s.now.Add(d), seq: s.seq, fn: fn}
	s.timers = append(s.timers, t)
	return func() { t.stopped = true }
}

func (s *fakeScheduler) Advance(d time.Duration) {
	target := s.now.Add(d)
	for {
		var due []*fakeTimer
		for _, t := range s.timers {
			if !t.stopped && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			break
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].at.Equal(due[j].at) {
				return due[i].seq < due[j].seq
			}
			return due[i].at.Before(due[j].at)
		})
		next := due[0]
		next.stopped = true
		s.now = next.at
		next.fn()
	}
	s.now = target
}

type fakeHook struct {
	muted       bool
	setCalls    []bool
	activations int
	cleanups    int
	failSet     bool
	onChange    func(bool)
}

func (h *fakeHook) Activate(_ context.Context, onChange func(bool)) error {
	h.activations++
	h.onChange = onChange
	return nil
}

func (h *fakeHook) Cleanup() { h.cleanups++ }

func (h *fakeHook) IsMuted() (bool, error) { return h.muted, nil }

func (h *fakeHook) SetMuted(muted bool) error {
	if h.failSet {
		return errors.New("audio session unavailable")
	}
	h.muted = muted
	h.setCalls = append(h.setCalls, muted)
	return nil
}

// report simulates the OS notifying a mute change.
func (h *fakeHook) report(muted bool) {
	h.muted = muted
	h.onChange(muted)
}

type fakeRemote struct {
	calls []Intent
	fail  bool
}

func (r *fakeRemote) SetSelfMuteDeafen(muted, deafened bool) error {
	if r.fail {
		return errors.New("session not ready")
	}
	r.calls = append(r.calls, Intent{Muted: muted, Deafened: deafened})
	return nil
}

func (r *fakeRemote) last() Intent {
	return r.calls[len(r.calls)-1]
}

type harness struct {
	sched     *fakeScheduler
	hook      *fakeHook
	remote    *fakeRemote
	rec       *Reconciler
	published []Intent
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{sched: newFakeScheduler(), hook: &fakeHook{}, remote: &fakeRemote{}}
	h.rec = New(zerolog.Nop(), h.sched, h.hook, DefaultTimings, func(i Intent, _ State) {
		h.published = append(h.published, i)
	})
	h.rec.Start(context.Background())
	h.rec.Attach(h.remote, Intent{})
	h.sched.Advance(time.Second)
	require.False(t, h.rec.State().IsReconciling())
	return h
}

func TestHardwareFeedbackSuppressedDuringWindow(t *testing.T) {
	h := newHarness(t)

	require.True(t, h.rec.ToggleMute())
	assert.Equal(t, Intent{Muted: true}, h.remote.last())
	assert.True(t, h.hook.muted)
	assert.True(t, h.rec.State().IsReconciling())

	h.sched.Advance(100 * time.Millisecond)
	h.hook.report(false)
	assert.True(t, h.rec.Intent().Muted, "report inside the window must be discarded")

	h.sched.Advance(time.Second)
	require.False(t, h.rec.State().IsReconciling())
	h.hook.report(false)
	assert.False(t, h.rec.Intent().Muted)
	assert.Equal(t, Intent{}, h.remote.last())
}

func TestExternalHardwareChangeAdoptedWhenIdle(t *testing.T) {
	h := newHarness(t)
	calls := len(h.hook.setCalls)

	h.hook.report(true)
	assert.Equal(t, Intent{Muted: true}, h.rec.Intent())
	assert.Equal(t, Intent{Muted: true}, h.remote.last())
	assert.Len(t, h.hook.setCalls, calls, "adopting a hardware change must not write back to hardware")
}

func TestDeafenRestoresPriorMute(t *testing.T) {
	h := newHarness(t)

	h.rec.ToggleMute()
	h.rec.ToggleDeafen()
	assert.Equal(t, Intent{Muted: true, Deafened: true}, h.rec.Intent())

	h.rec.ToggleDeafen()
	assert.Equal(t, Intent{Muted: true}, h.rec.Intent())
	assert.Equal(t, Intent{Muted: true}, h.remote.last())
	assert.True(t, h.hook.muted)
}

func TestDeafenRestoresUnmuted(t *testing.T) {
	h := newHarness(t)

	h.rec.ToggleDeafen()
	assert.True(t, h.hook.muted)
	h.rec.ToggleDeafen()
	assert.Equal(t, Intent{}, h.rec.Intent())
	assert.False(t, h.hook.muted)
}

func TestDeafenPublishesOnlyConsistentStates(t *testing.T) {
	h := newHarness(t)
	h.published = nil

	h.rec.ToggleMute()
	h.rec.ToggleDeafen()
	h.rec.ToggleDeafen()
	for _, intent := range h.published {
		if intent.Deafened {
			assert.True(t, intent.Muted)
		}
	}
	assert.Equal(t, Intent{Muted: true}, h.published[len(h.published)-1])
}

func TestToggleMuteIgnoredWhileDeafened(t *testing.T) {
	h := newHarness(t)
	h.rec.ToggleDeafen()
	pushes := len(h.remote.calls)

	assert.False(t, h.rec.ToggleMute())
	assert.Len(t, h.remote.calls, pushes)
	assert.Equal(t, Intent{Muted: true, Deafened: true}, h.rec.Intent())
}

func TestRouteChangeRecreatesHookAndReasserts(t *testing.T) {
	h := newHarness(t)
	h.rec.ToggleMute()
	h.sched.Advance(time.Second)
	activations := h.hook.activations

	h.rec.RouteChanged(RouteDeviceAdded)
	st := h.rec.State()
	require.Equal(t, Reconciling, st.Phase)
	assert.Equal(t, ReasonRouteChange, st.Reason)
	assert.Equal(t, h.sched.Now().Add(2*time.Second), st.Deadline)

	// The new device comes up unmuted and reports it.
	h.sched.Advance(time.Second)
	h.hook.report(false)
	assert.True(t, h.rec.Intent().Muted)

	h.sched.Advance(600 * time.Millisecond)
	assert.Equal(t, activations+1, h.hook.activations)
	assert.Equal(t, 1, h.hook.cleanups)
	assert.True(t, h.hook.muted, "intent re-pushed to the new route")
	assert.True(t, h.rec.State().IsReconciling())

	h.sched.Advance(500 * time.Millisecond)
	assert.False(t, h.rec.State().IsReconciling())
}

func TestRouteRemovalUsesShortSettle(t *testing.T) {
	h := newHarness(t)
	h.rec.RouteChanged(RouteDeviceRemoved)
	assert.Equal(t, h.sched.Now().Add(time.Second), h.rec.State().Deadline)

	h.sched.Advance(time.Second)
	assert.False(t, h.rec.State().IsReconciling())
}

func TestLockReleasedWithoutCorroboratingEvent(t *testing.T) {
	h := newHarness(t)
	h.rec.BeginAudioRestart()
	require.True(t, h.rec.State().IsReconciling())

	h.sched.Advance(DefaultTimings.RestartTimeout)
	assert.False(t, h.rec.State().IsReconciling())
}

func TestAudioRestartReassertsIntent(t *testing.T) {
	h := newHarness(t)
	h.rec.ToggleMute()
	h.sched.Advance(time.Second)

	h.rec.BeginAudioRestart()
	// The restart resets the device and the server briefly disagrees.
	h.hook.report(false)
	h.rec.ServerReported(false, false)
	assert.True(t, h.rec.Intent().Muted)

	pushes := len(h.remote.calls)
	h.rec.AudioRestarted()
	assert.True(t, h.hook.muted)
	require.Len(t, h.remote.calls, pushes+1)
	assert.Equal(t, Intent{Muted: true}, h.remote.last())

	h.sched.Advance(DefaultTimings.ReleaseDelay)
	assert.False(t, h.rec.State().IsReconciling())
}

func TestRestartTimeoutStillReasserts(t *testing.T) {
	h := newHarness(t)
	h.rec.ToggleMute()
	h.sched.Advance(time.Second)

	h.rec.BeginAudioRestart()
	h.hook.muted = false
	h.sched.Advance(DefaultTimings.RestartTimeout)
	assert.True(t, h.hook.muted)
	assert.False(t, h.rec.State().IsReconciling())
}

func TestHardwareFailureKeepsIntentAndRetries(t *testing.T) {
	h := newHarness(t)
	h.hook.failSet = true

	h.rec.ToggleMute()
	assert.True(t, h.rec.Intent().Muted)
	assert.False(t, h.hook.muted)

	h.hook.failSet = false
	h.sched.Advance(time.Second)
	assert.True(t, h.hook.muted, "failed push retried on release")
}

func TestServerStateAdoptedWhenIdle(t *testing.T) {
	h := newHarness(t)

	h.rec.ServerReported(true, true)
	assert.Equal(t, Intent{Muted: true, Deafened: true}, h.rec.Intent())
	assert.True(t, h.hook.muted)

	h.sched.Advance(time.Second)
	h.rec.ToggleDeafen()
	assert.Equal(t, Intent{}, h.rec.Intent())
}

func TestReattachReassertsIntent(t *testing.T) {
	h := newHarness(t)
	h.rec.ToggleMute()
	h.sched.Advance(time.Second)
	h.rec.Detach()

	remote := &fakeRemote{}
	h.rec.Attach(remote, Intent{})
	require.Len(t, remote.calls, 1)
	assert.Equal(t, Intent{Muted: true}, remote.calls[0])
}

func TestRemoteFailureRetriedOnNextEvent(t *testing.T) {
	h := newHarness(t)
	h.remote.fail = true
	h.rec.ToggleMute()
	assert.Empty(t, h.remote.calls)

	h.remote.fail = false
	h.sched.Advance(time.Second)
	require.NotEmpty(t, h.remote.calls)
	assert.Equal(t, Intent{Muted: true}, h.remote.last())
}
