package transmit

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sizedImage is a blank image of a given size that costs no memory.
type sizedImage struct{ w, h int }

func (s sizedImage) ColorModel() color.Model { return color.RGBAModel }
func (s sizedImage) Bounds() image.Rectangle { return image.Rect(0, 0, s.w, s.h) }
func (s sizedImage) At(int, int) color.Color { return color.White }

type fakeScaler struct{}

func (fakeScaler) Scale(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if long := max(w, h); long > maxEdge {
		scale := float64(maxEdge) / float64(long)
		w = int(math.Round(float64(w) * scale))
		h = int(math.Round(float64(h) * scale))
	}
	return sizedImage{w, h}
}

// fakeEncoder produces bytesPerPixel*quality bytes per pixel.
type fakeEncoder struct {
	bytesPerPixel float64
	calls         int
}

func (e *fakeEncoder) MIME() string { return "image/jpeg" }

func (e *fakeEncoder) Encode(img image.Image, quality float64) ([]byte, error) {
	e.calls++
	b := img.Bounds()
	return make([]byte, int(float64(b.Dx()*b.Dy())*e.bytesPerPixel*quality)), nil
}

func newTestFitter(bpp float64) (*Fitter, *fakeEncoder) {
	enc := &fakeEncoder{bytesPerPixel: bpp}
	return NewFitter(zerolog.Nop(), enc, fakeScaler{}, nil), enc
}

func webpSource(w, h int) *Source {
	return &Source{Raw: make([]byte, 10), MIME: "image/webp", Image: sizedImage{w, h}}
}

func TestFitSendsWebSafeSourceAsIs(t *testing.T) {
	f, enc := newTestFitter(1)
	src := &Source{Raw: make([]byte, 5000), MIME: "image/png", Image: sizedImage{4000, 3000}}

	res, err := f.FitSource(src, CompatibleBudget)
	require.NoError(t, err)
	assert.True(t, res.AsIs)
	assert.Equal(t, "image/png", res.MIME)
	assert.Zero(t, enc.calls)
}

func TestFitUsesMaximumFidelityWhenItFits(t *testing.T) {
	f, _ := newTestFitter(0.1)
	res, err := f.FitSource(webpSource(800, 600), CompatibleBudget)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Quality)
	assert.Equal(t, 800, res.Tier)
	assert.Equal(t, 800, res.Width)
	assert.False(t, res.AsIs)
}

func TestFitPrefersSmallerTierOverLowQuality(t *testing.T) {
	f, _ := newTestFitter(0.5)
	res, err := f.FitSource(webpSource(4000, 3000), CompatibleBudget)
	require.NoError(t, err)
	assert.Equal(t, 768, res.Tier)
	assert.Equal(t, 768, res.Width)
	assert.Equal(t, 576, res.Height)
	assert.GreaterOrEqual(t, res.Quality, qualityFloor)
	assert.LessOrEqual(t, len(res.Data), CompatibleBudget)
	assert.False(t, res.Fallback)
}

func TestFitFallsBackToLowQuality(t *testing.T) {
	f, _ := newTestFitter(10)
	res, err := f.FitSource(webpSource(4000, 3000), CompatibleBudget)
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, 512, res.Tier)
	assert.Equal(t, fallbackQuality, res.Quality)
}

func TestFitAcceptsLowQualityAtSmallestTier(t *testing.T) {
	f, _ := newTestFitter(1)
	res, err := f.FitSource(webpSource(300, 200), 10000)
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Equal(t, 300, res.Tier)
	assert.Less(t, res.Quality, qualityFloor)
	assert.LessOrEqual(t, len(res.Data), 10000)
}

func TestTiersFor(t *testing.T) {
	f, _ := newTestFitter(1)
	assert.Equal(t, []int{2048, 1536, 1024, 768, 512}, f.tiersFor(5000))
	assert.Equal(t, []int{1000, 768, 512}, f.tiersFor(1000))
	assert.Equal(t, []int{1024, 768, 512}, f.tiersFor(1024))
	assert.Equal(t, []int{300}, f.tiersFor(300))
}
