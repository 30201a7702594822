package transmit

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 13), B: uint8(x ^ y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestPipeline(timeout time.Duration) *Pipeline {
	fitter := NewFitter(zerolog.Nop(), &fakeEncoder{bytesPerPixel: 0.01}, fakeScaler{}, nil)
	return NewPipeline(zerolog.Nop(), fitter, PipelineConfig{Timeout: timeout})
}

func TestSendTerminatesWhenEveryAttemptFails(t *testing.T) {
	p := newTestPipeline(time.Minute)
	var budgets []int
	out := p.Send(context.Background(), pngBytes(t, 32, 32), CompatibleBudget, func(html string) error {
		budgets = append(budgets, len(html))
		p.Reject()
		return nil
	})

	assert.Equal(t, StatusGaveUp, out.Status)
	assert.Equal(t, 15, out.Attempts)
	assert.Len(t, budgets, 15)
	assert.Less(t, out.Budget, DefaultMinBudget)
	assert.Equal(t, 18972, out.Budget)
	assert.False(t, p.Busy())
}

func TestSendGivesUpAtFloor(t *testing.T) {
	p := newTestPipeline(10 * time.Millisecond)
	data := pngBytes(t, 8, 8)
	out := p.Send(context.Background(), data, DefaultMinBudget, func(string) error {
		t.Fatal("nothing should be sent at the floor")
		return nil
	})
	assert.Equal(t, StatusGaveUp, out.Status)
	assert.Zero(t, out.Attempts)

	out = p.Send(context.Background(), data, DefaultMinBudget+1, func(string) error { return nil })
	assert.Equal(t, StatusSent, out.Status)
	assert.Equal(t, 1, out.Attempts)
}

func TestSendSucceedsWhenNoFailureArrives(t *testing.T) {
	p := newTestPipeline(10 * time.Millisecond)
	var sent []string
	out := p.Send(context.Background(), pngBytes(t, 16, 16), CompatibleBudget, func(html string) error {
		sent = append(sent, html)
		return nil
	})

	require.Equal(t, StatusSent, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, sent[0], out.HTML)
	assert.Contains(t, out.HTML, `<img src="data:image/png;base64,`)
	assert.False(t, p.Reject(), "no attempt should be waiting after completion")
}

func TestSendShrinksBudgetAfterRejection(t *testing.T) {
	p := newTestPipeline(10 * time.Millisecond)
	calls := 0
	out := p.Send(context.Background(), pngBytes(t, 16, 16), CompatibleBudget, func(string) error {
		calls++
		if calls == 1 {
			p.Reject()
		}
		return nil
	})

	assert.Equal(t, StatusSent, out.Status)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 82944, out.Budget)
}

func TestSendExplicitAccept(t *testing.T) {
	p := newTestPipeline(time.Minute)
	out := p.Send(context.Background(), pngBytes(t, 8, 8), CompatibleBudget, func(string) error {
		p.Accept()
		return nil
	})
	assert.Equal(t, StatusSent, out.Status)
}

func TestSendRejectsNonImage(t *testing.T) {
	p := newTestPipeline(time.Minute)
	out := p.Send(context.Background(), []byte("hello, this is plain text"), CompatibleBudget, func(string) error {
		t.Fatal("nothing should be sent")
		return nil
	})
	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, ErrNotImage)
}

func TestSendReportsTransportError(t *testing.T) {
	p := newTestPipeline(time.Minute)
	boom := errors.New("not connected")
	out := p.Send(context.Background(), pngBytes(t, 8, 8), CompatibleBudget, func(string) error {
		return boom
	})
	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, boom)
}

func TestSendHonoursContext(t *testing.T) {
	p := newTestPipeline(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	out := p.Send(ctx, pngBytes(t, 8, 8), CompatibleBudget, func(string) error {
		cancel()
		return nil
	})
	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestSendRefusesConcurrentSend(t *testing.T) {
	p := newTestPipeline(time.Minute)
	data := pngBytes(t, 8, 8)
	out := p.Send(context.Background(), data, CompatibleBudget, func(string) error {
		inner := p.Send(context.Background(), data, CompatibleBudget, func(string) error { return nil })
		assert.ErrorIs(t, inner.Err, ErrBusy)
		p.Accept()
		return nil
	})
	assert.Equal(t, StatusSent, out.Status)
}
