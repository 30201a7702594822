package transmit

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataURLRoundTrip(t *testing.T) {
	url := DataURL("image/png", []byte{1, 2, 3})
	data, mime, err := ParseDataURL(url)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, []byte{1, 2, 3}, data)

	_, _, err = ParseDataURL("https://example.com/a.png")
	assert.Error(t, err)
}

func TestSplitImages(t *testing.T) {
	html := "look " + ImageHTML("image/png", []byte{9, 9}) + `<img src='data:image/gif;base64,AQI=' alt="x">`
	text, images := SplitImages(html)
	assert.Equal(t, "look", text)
	require.Len(t, images, 2)
	assert.Equal(t, []byte{9, 9}, images[0])
	assert.Equal(t, []byte{1, 2}, images[1])

	text, images = SplitImages(`<img src="https://example.com/x.png">`)
	assert.Empty(t, images)
	assert.Equal(t, `<img src="https://example.com/x.png">`, text)
}

func TestBudgetForMessageLength(t *testing.T) {
	assert.Zero(t, BudgetForMessageLength(0))
	budget := BudgetForMessageLength(131072)
	assert.LessOrEqual(t, len(ImageHTML("image/jpeg", make([]byte, budget))), 131072)
}

func TestCompressEmbeddedImages(t *testing.T) {
	f := NewFitter(zerolog.Nop(), &fakeEncoder{bytesPerPixel: 0.01}, fakeScaler{}, nil)
	big := pngBytes(t, 64, 64)
	small := []byte{0x89, 'P', 'N', 'G'}
	html := "<p>" + ImageHTML("image/png", big) + ImageHTML("image/png", small) + "</p>"

	require.Greater(t, len(big), 200)

	out := f.CompressEmbeddedImages(html, 200)
	assert.Equal(t, 1, strings.Count(out, "data:image/jpeg;base64,"))
	assert.NotContains(t, out, DataURL("image/png", big))
	assert.Contains(t, out, DataURL("image/png", small))
	assert.Less(t, len(out), len(html))
}

func TestCompressEmbeddedImagesKeepsLargerResult(t *testing.T) {
	f := NewFitter(zerolog.Nop(), &fakeEncoder{bytesPerPixel: 1}, fakeScaler{}, nil)
	big := pngBytes(t, 64, 64)
	html := ImageHTML("image/png", big)

	out := f.CompressEmbeddedImages(html, 200)
	assert.Equal(t, html, out)
}

func TestEchoFilterConsumesOnce(t *testing.T) {
	f := NewEchoFilter(time.Minute)
	now := time.Unix(1700000000, 0)
	f.now = func() time.Time { return now }

	f.Remember(4, "hello ")
	assert.False(t, f.Consume(5, "hello"), "different sender")
	assert.True(t, f.Consume(4, "hello"))
	assert.False(t, f.Consume(4, "hello"), "second copy is a real message")

	f.Remember(4, "again")
	f.Remember(4, "again")
	assert.True(t, f.Consume(4, "again"))
	assert.True(t, f.Consume(4, "again"))

	f.Remember(4, "stale")
	now = now.Add(2 * time.Minute)
	assert.False(t, f.Consume(4, "stale"))
}
