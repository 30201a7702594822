package connector

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHardware struct {
	muted bool
	sets  []bool
}

func newTestHook(hw *fakeHardware) *commandHook {
	return &commandHook{
		log: zerolog.Nop(),
		get: func(context.Context) (bool, error) { return hw.muted, nil },
		set: func(_ context.Context, muted bool) error {
			hw.sets = append(hw.sets, muted)
			hw.muted = muted
			return nil
		},
		watch: func(ctx context.Context, _ func()) error {
			<-ctx.Done()
			return nil
		},
	}
}

func TestCommandHook_ReportsChanges(t *testing.T) {
	hw := &fakeHardware{}
	hook := newTestHook(hw)
	var changes []bool
	require.NoError(t, hook.Activate(context.Background(), func(muted bool) {
		changes = append(changes, muted)
	}))
	defer hook.Cleanup()

	hook.check()
	assert.Empty(t, changes)

	hw.muted = true
	hook.check()
	hook.check()
	assert.Equal(t, []bool{true}, changes)
}

func TestCommandHook_OwnWritesAreNotReported(t *testing.T) {
	hw := &fakeHardware{}
	hook := newTestHook(hw)
	var changes []bool
	require.NoError(t, hook.Activate(context.Background(), func(muted bool) {
		changes = append(changes, muted)
	}))
	defer hook.Cleanup()

	require.NoError(t, hook.SetMuted(true))
	hook.check()
	assert.Empty(t, changes)
	assert.Equal(t, []bool{true}, hw.sets)

	muted, err := hook.IsMuted()
	require.NoError(t, err)
	assert.True(t, muted)
}

func TestCommandHook_Inactive(t *testing.T) {
	hook := newTestHook(&fakeHardware{})
	_, err := hook.IsMuted()
	assert.ErrorIs(t, err, errHookInactive)
	assert.ErrorIs(t, hook.SetMuted(true), errHookInactive)

	require.NoError(t, hook.Activate(context.Background(), func(bool) {}))
	hook.Cleanup()
	assert.ErrorIs(t, hook.SetMuted(false), errHookInactive)
}
