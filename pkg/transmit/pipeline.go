// mumblesync - A Mumble voice chat client core.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package transmit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	CompatibleBudget  = 90 * 1024
	HighQualityBudget = 1024 * 1024
	DefaultMinBudget  = 20 * 1024
	DefaultDecayRate  = 0.9
	DefaultTimeout    = 800 * time.Millisecond
)

var ErrBusy = errors.New("another image is being sent")

type Status int

const (
	StatusSent Status = iota
	// StatusGaveUp means every budget down to the floor was rejected.
	StatusGaveUp
	// StatusFailed means the payload could not be prepared or sent at all.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusGaveUp:
		return "gave_up"
	default:
		return "failed"
	}
}

// Outcome is the definite result of one Send call.
type Outcome struct {
	ID       uuid.UUID
	Status   Status
	Attempts int
	// Budget is the budget of the last attempt.
	Budget   int
	Result   *Result
	HTML     string
	Err      error
}

type PipelineConfig struct {
	DecayRate float64       `yaml:"decay_rate"`
	MinBudget int           `yaml:"min_budget"`
	Timeout   time.Duration `yaml:"disposition_timeout"`
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.DecayRate <= 0 || c.DecayRate >= 1 {
		c.DecayRate = DefaultDecayRate
	}
	if c.MinBudget <= 0 {
		c.MinBudget = DefaultMinBudget
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// SendFunc puts one candidate message on the wire.
type SendFunc func(html string) error

type disposition bool

const (
	accepted disposition = true
	rejected disposition = false
)

// Pipeline sends images that must fit a message size limit the server only
// reveals by rejecting oversized messages. Only one send runs at a time.
type Pipeline struct {
	log    zerolog.Logger
	fitter *Fitter
	cfg    PipelineConfig

	mu      sync.Mutex
	busy    bool
	waiting chan disposition
}

func NewPipeline(log zerolog.Logger, fitter *Fitter, cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		log:    log.With().Str("component", "transmission").Logger(),
		fitter: fitter,
		cfg:    cfg.withDefaults(),
	}
}

func (p *Pipeline) Fitter() *Fitter {
	return p.fitter
}

func (p *Pipeline) Config() PipelineConfig {
	return p.cfg
}

// Busy reports whether a send is in progress.
func (p *Pipeline) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

// Reject delivers a failure signal for the attempt in flight. It returns
// false when no attempt is waiting.
func (p *Pipeline) Reject() bool {
	return p.signal(rejected)
}

// Accept delivers an explicit success signal for the attempt in flight.
func (p *Pipeline) Accept() bool {
	return p.signal(accepted)
}

func (p *Pipeline) signal(d disposition) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waiting == nil {
		return false
	}
	select {
	case p.waiting <- d:
		p.waiting = nil
		return true
	default:
		return false
	}
}

func (p *Pipeline) arm() chan disposition {
	ch := make(chan disposition, 1)
	p.mu.Lock()
	p.waiting = ch
	p.mu.Unlock()
	return ch
}

func (p *Pipeline) disarm(ch chan disposition) {
	p.mu.Lock()
	if p.waiting == ch {
		p.waiting = nil
	}
	p.mu.Unlock()
}

// Send fits data into budget and sends it, shrinking the budget after each
// rejection until it falls below the configured floor.
func (p *Pipeline) Send(ctx context.Context, data []byte, budget int, send SendFunc) Outcome {
	out := Outcome{ID: uuid.New(), Budget: budget}
	p.mu.Lock()
	if p.busy {
		p.mu.Unlock()
		out.Status, out.Err = StatusFailed, ErrBusy
		return out
	}
	p.busy = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.busy = false
		p.mu.Unlock()
	}()

	log := p.log.With().Stringer("transmission_id", out.ID).Logger()
	src, err := DecodeSource(data)
	if err != nil {
		log.Warn().Err(err).Msg("Can't send payload as image")
		out.Status, out.Err = StatusFailed, err
		return out
	}
	return p.attempt(ctx, log, src, budget, send, out)
}

func (p *Pipeline) attempt(ctx context.Context, log zerolog.Logger, src *Source, budget int, send SendFunc, out Outcome) Outcome {
	out.Budget = budget
	if budget <= p.cfg.MinBudget {
		log.Warn().Int("attempts", out.Attempts).Int("budget", budget).Msg("Giving up on image, budget at floor")
		out.Status = StatusGaveUp
		return out
	}
	res, err := p.fitter.FitSource(src, budget)
	if err != nil {
		out.Status, out.Err = StatusFailed, err
		return out
	}
	out.Attempts++
	out.Result = res
	out.HTML = ImageHTML(res.MIME, res.Data)

	wait := p.arm()
	if err = send(out.HTML); err != nil {
		p.disarm(wait)
		log.Warn().Err(err).Msg("Failed to send image message")
		out.Status, out.Err = StatusFailed, fmt.Errorf("failed to send image: %w", err)
		return out
	}

	timer := time.NewTimer(p.cfg.Timeout)
	defer timer.Stop()
	select {
	case d := <-wait:
		if d == accepted {
			out.Status = StatusSent
			return out
		}
		next := int(float64(budget) * p.cfg.DecayRate)
		log.Debug().Int("size", len(res.Data)).Int("next_budget", next).Msg("Image rejected, retrying smaller")
		return p.attempt(ctx, log, src, next, send, out)
	case <-timer.C:
		p.disarm(wait)
		out.Status = StatusSent
		log.Debug().Int("attempts", out.Attempts).Int("size", len(res.Data)).Msg("Image accepted")
		return out
	case <-ctx.Done():
		p.disarm(wait)
		out.Status, out.Err = StatusFailed, ctx.Err()
		return out
	}
}
