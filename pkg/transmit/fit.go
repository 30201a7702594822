// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package transmit

import (
	"fmt"

	"github.com/rs/zerolog"
)

const (
	qualityLow       = 0.05
	qualityHigh      = 1.0
	searchIterations = 8
	// qualityFloor is the lowest searched quality accepted above the
	// smallest tier. Below it a smaller resolution looks better.
	qualityFloor    = 0.3
	fallbackQuality = 0.2
)

// DefaultTiers are the long-edge caps tried from largest to smallest.
var DefaultTiers = []int{2048, 1536, 1024, 768, 512}

// Result is one encoded candidate.
type Result struct {
	Data     []byte
	MIME     string
	Width    int
	Height   int
	Quality  float64
	// Tier is the long-edge cap used, or 0 when the source went out as-is.
	Tier     int
	AsIs     bool
	Fallback bool
}

type Fitter struct {
	log     zerolog.Logger
	encoder Encoder
	scaler  Scaler
	tiers   []int
}

func NewFitter(log zerolog.Logger, encoder Encoder, scaler Scaler, tiers []int) *Fitter {
	if encoder == nil {
		encoder = JPEGEncoder{}
	}
	if scaler == nil {
		scaler = DrawScaler{}
	}
	if len(tiers) == 0 {
		tiers = DefaultTiers
	}
	return &Fitter{
		log:     log.With().Str("component", "image_fitter").Logger(),
		encoder: encoder,
		scaler:  scaler,
		tiers:   tiers,
	}
}

// Fit decodes data and produces the best candidate for budget bytes.
func (f *Fitter) Fit(data []byte, budget int) (*Result, error) {
	src, err := DecodeSource(data)
	if err != nil {
		return nil, err
	}
	return f.FitSource(src, budget)
}

// FitSource produces the best candidate for budget bytes. The result may
// still exceed the budget when only the low quality fallback was possible.
func (f *Fitter) FitSource(src *Source, budget int) (*Result, error) {
	bounds := src.Image.Bounds()
	if src.WebSafe() && len(src.Raw) <= budget {
		return &Result{
			Data:    src.Raw,
			MIME:    src.MIME,
			Width:   bounds.Dx(),
			Height:  bounds.Dy(),
			Quality: qualityHigh,
			AsIs:    true,
		}, nil
	}

	longEdge := src.LongEdge()
	tiers := f.tiersFor(longEdge)
	if longEdge <= tiers[0] {
		res, err := f.encode(src, longEdge, qualityHigh)
		if err != nil {
			return nil, err
		}
		if len(res.Data) <= budget {
			return res, nil
		}
	}

	smallest := f.tiers[len(f.tiers)-1]
	for _, tier := range tiers {
		res, err := f.search(src, tier, budget)
		if err != nil {
			return nil, err
		}
		if res == nil {
			continue
		}
		if res.Quality >= qualityFloor || tier <= smallest {
			f.log.Debug().
				Int("tier", tier).
				Float64("quality", res.Quality).
				Int("size", len(res.Data)).
				Int("budget", budget).
				Msg("Fitted image")
			return res, nil
		}
	}

	res, err := f.encode(src, min(smallest, longEdge), fallbackQuality)
	if err != nil {
		return nil, err
	}
	res.Fallback = true
	f.log.Debug().Int("size", len(res.Data)).Int("budget", budget).Msg("Using low quality fallback")
	return res, nil
}

// tiersFor returns the caps to try: the largest tier clamped to the source,
// then every smaller tier.
func (f *Fitter) tiersFor(longEdge int) []int {
	first := min(f.tiers[0], longEdge)
	out := []int{first}
	for _, t := range f.tiers[1:] {
		if t < first {
			out = append(out, t)
		}
	}
	return out
}

// search binary-searches the highest quality that fits. It returns nil when
// even the lowest searched quality is too large.
func (f *Fitter) search(src *Source, tier, budget int) (*Result, error) {
	scaled := f.scaler.Scale(src.Image, tier)
	lo, hi := qualityLow, qualityHigh
	var best *Result
	for range searchIterations {
		mid := (lo + hi) / 2
		data, err := f.encoder.Encode(scaled, mid)
		if err != nil {
			return nil, fmt.Errorf("failed to encode at tier %d: %w", tier, err)
		}
		if len(data) <= budget {
			best = &Result{Data: data, Quality: mid}
			lo = mid
		} else {
			hi = mid
		}
	}
	if best == nil {
		return nil, nil
	}
	b := scaled.Bounds()
	best.MIME = f.encoder.MIME()
	best.Width, best.Height = b.Dx(), b.Dy()
	best.Tier = tier
	return best, nil
}

func (f *Fitter) encode(src *Source, tier int, quality float64) (*Result, error) {
	scaled := f.scaler.Scale(src.Image, tier)
	data, err := f.encoder.Encode(scaled, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode at tier %d: %w", tier, err)
	}
	b := scaled.Bounds()
	return &Result{
		Data:    data,
		MIME:    f.encoder.MIME(),
		Width:   b.Dx(),
		Height:  b.Dy(),
		Quality: quality,
		Tier:    tier,
	}, nil
}
