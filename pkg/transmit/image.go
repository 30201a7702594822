// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package transmit

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var ErrNotImage = errors.New("payload is not an image")

// webSafeTypes can be embedded in a message without re-encoding.
var webSafeTypes = []string{"image/jpeg", "image/png", "image/gif"}

// Source is a decoded outbound image together with its original bytes.
type Source struct {
	Raw   []byte
	MIME  string
	Image image.Image
}

// LongEdge returns the longer side of the decoded image in pixels.
func (s *Source) LongEdge() int {
	b := s.Image.Bounds()
	return max(b.Dx(), b.Dy())
}

// WebSafe reports whether Raw can be sent as-is.
func (s *Source) WebSafe() bool {
	return mimetype.EqualsAny(s.MIME, webSafeTypes...)
}

// DecodeSource sniffs and decodes an outbound payload.
func DecodeSource(data []byte) (*Source, error) {
	mt := mimetype.Detect(data)
	if !mimetype.EqualsAny(mt.String(), "image/jpeg", "image/png", "image/gif", "image/webp", "image/tiff", "image/bmp") {
		return nil, fmt.Errorf("%w: detected %s", ErrNotImage, mt.String())
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", mt.String(), err)
	}
	return &Source{Raw: data, MIME: mt.String(), Image: img}, nil
}

// Encoder turns an image into bytes at a quality in [0, 1].
type Encoder interface {
	Encode(img image.Image, quality float64) ([]byte, error)
	MIME() string
}

// Scaler fits an image into a square of maxEdge pixels.
type Scaler interface {
	Scale(img image.Image, maxEdge int) image.Image
}

// JPEGEncoder encodes with the standard JPEG quantiser.
type JPEGEncoder struct{}

func (JPEGEncoder) MIME() string { return "image/jpeg" }

func (JPEGEncoder) Encode(img image.Image, quality float64) ([]byte, error) {
	q := int(math.Round(quality * 100))
	q = min(max(q, 1), 100)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DrawScaler resamples with Catmull-Rom onto a white canvas, which also
// flattens transparency before JPEG encoding.
type DrawScaler struct {
	Interpolator draw.Interpolator
}

func (s DrawScaler) Scale(img image.Image, maxEdge int) image.Image {
	src := img.Bounds()
	w, h := src.Dx(), src.Dy()
	if long := max(w, h); long > maxEdge && maxEdge > 0 {
		scale := float64(maxEdge) / float64(long)
		w = max(int(math.Round(float64(w)*scale)), 1)
		h = max(int(math.Round(float64(h)*scale)), 1)
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	interp := s.Interpolator
	if interp == nil {
		interp = draw.CatmullRom
	}
	interp.Scale(dst, dst.Bounds(), img, src, draw.Over, nil)
	return dst
}
